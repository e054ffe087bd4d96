package providers

import "inboxd/internal/structures"

// MetricsCacheProvider reports response cache hits and misses.
type MetricsCacheProvider struct {
	inner   CacheProviderInterface
	metrics MetricsProviderInterface
}

func (c *MetricsCacheProvider) Get(key string) ([]byte, bool) {
	val, ok := c.inner.Get(key)
	if !ok {
		c.metrics.IncCacheMisses()
		return nil, false
	}
	c.metrics.IncCacheHits()
	return val, true
}

func (c *MetricsCacheProvider) Set(key string, value []byte) { c.inner.Set(key, value) }

func (c *MetricsCacheProvider) Retire(version uint64) { c.inner.Retire(version) }

// NewInstrumentedCacheProvider returns the bare noop cache when caching is
// off, so a disabled cache reports no misses.
func NewInstrumentedCacheProvider(conf *structures.Config, logger Logger, metrics MetricsProviderInterface) CacheProviderInterface {
	inner := NewCacheProvider(conf, logger)
	if _, off := inner.(*noopCache); off {
		return inner
	}
	return &MetricsCacheProvider{inner: inner, metrics: metrics}
}
