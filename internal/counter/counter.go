// Package counter publishes the unread count to a shared durable slot and lets
// independent display surfaces poll it. Surfaces never write the slot.
package counter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"inboxd/internal/models"
	"inboxd/internal/providers"
	"inboxd/internal/state"
)

const SlotKey = "unread_count"

type Broadcaster struct {
	mu      sync.Mutex
	kv      state.KV
	logger  providers.Logger
	metrics providers.MetricsProviderInterface
	last    int
}

func NewBroadcaster(kv state.KV, logger providers.Logger, metrics providers.MetricsProviderInterface) *Broadcaster {
	return &Broadcaster{kv: kv, logger: logger, metrics: metrics, last: -1}
}

// Publish recomputes the count from entries and writes it to the slot. The
// value is always derived from the feed, never adjusted incrementally.
func (b *Broadcaster) Publish(entries []models.FeedEntry) int {
	count := models.UnreadCount(entries)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.SetUnreadCount(count)
	if err := b.kv.Set(SlotKey, strconv.Itoa(count)); err != nil {
		b.metrics.IncStateWriteFailures()
		b.logger.Errorf(providers.TypeFeed, "Unable to publish unread count %d: %s", count, err)
		return count
	}
	if count != b.last {
		b.logger.Debugf(providers.TypeFeed, "Unread count %d -> %d", b.last, count)
	}
	b.last = count
	return count
}

// Read returns the current slot value; a missing slot reads as zero.
func Read(kv state.KV) (int, error) {
	raw, ok, err := kv.Get(SlotKey)
	if err != nil {
		return 0, fmt.Errorf("reading counter slot: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decoding counter slot %q: %w", raw, err)
	}
	return n, nil
}

// Poller reads the slot on a fixed interval and reports changes.
type Poller struct {
	kv       state.KV
	interval time.Duration
	logger   providers.Logger
}

func NewPoller(kv state.KV, interval time.Duration, logger providers.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{kv: kv, interval: interval, logger: logger}
}

// Run polls until ctx is done. onChange fires with the first successfully
// read value and after every change.
func (p *Poller) Run(ctx context.Context, onChange func(count int)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := -1
	poll := func() {
		n, err := Read(p.kv)
		if err != nil {
			p.logger.Warnf(providers.TypeFeed, "Counter poll failed: %s", err)
			return
		}
		if n != last {
			last = n
			onChange(n)
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
