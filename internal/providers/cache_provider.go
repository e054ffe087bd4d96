package providers

import (
	"sync"
	"time"
	"unsafe"

	"github.com/coocood/freecache"
	"inboxd/internal/structures"
)

// CacheProviderInterface holds rendered API responses. Keys embed the feed
// version; Retire drops everything rendered before a newer version so stale
// feeds stop occupying the ring.
type CacheProviderInterface interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Retire(version uint64)
}

type CacheProvider struct {
	cache  *freecache.Cache
	ttl    int
	logger Logger

	mu      sync.Mutex
	version uint64
}

// cacheTTL prefers cache.ttl and otherwise lets entries live for one
// periodic refresh.
func cacheTTL(conf *structures.Config) time.Duration {
	if conf.Cache.TTL > 0 {
		return conf.Cache.TTL
	}
	return conf.Inbox.RefreshInterval
}

func NewCacheProvider(conf *structures.Config, logger Logger) CacheProviderInterface {
	if !conf.Cache.Enabled || conf.Cache.Size <= 0 {
		logger.Infof(TypeApp, "Response cache disabled")
		return &noopCache{}
	}

	ttl := max(int(cacheTTL(conf).Seconds()), 1)
	logger.Infof(TypeApp, "Response cache: %dMB, TTL=%ds", conf.Cache.Size, ttl)

	return &CacheProvider{
		cache:  freecache.NewCache(conf.Cache.Size * 1024 * 1024),
		ttl:    ttl,
		logger: logger,
	}
}

// freecache copies keys internally, so the aliasing is read-only.
func keyBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func (c *CacheProvider) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get(keyBytes(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *CacheProvider) Set(key string, value []byte) {
	if err := c.cache.Set(keyBytes(key), value, c.ttl); err != nil {
		c.logger.Debugf(TypeFeed, "response %s not cached: %s", key, err)
	}
}

// Retire clears the cache the first time a version above the last retired
// one is seen. Older or repeated versions are ignored.
func (c *CacheProvider) Retire(version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version <= c.version {
		return
	}
	first := c.version == 0
	c.version = version
	if first {
		return
	}
	dropped := c.cache.EntryCount()
	c.cache.Clear()
	if dropped > 0 {
		c.logger.Debugf(TypeFeed, "feed version %d retired %d cached responses", version, dropped)
	}
}

type noopCache struct{}

func (n *noopCache) Get(_ string) ([]byte, bool) { return nil, false }
func (n *noopCache) Set(_ string, _ []byte)      {}
func (n *noopCache) Retire(_ uint64)             {}
