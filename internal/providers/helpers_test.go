package providers

import (
	"sync"
	"time"
)

// local mocks to avoid an import cycle with testutil

type testLogger struct {
	mu    sync.Mutex
	lines []string
	types []TypeEnum
}

func (l *testLogger) add(t TypeEnum, format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
	l.types = append(l.types, t)
}

func (l *testLogger) Errorf(t TypeEnum, format string, _ ...interface{}) { l.add(t, format) }
func (l *testLogger) Warnf(t TypeEnum, format string, _ ...interface{})  { l.add(t, format) }
func (l *testLogger) Debugf(t TypeEnum, format string, _ ...interface{}) { l.add(t, format) }
func (l *testLogger) Infof(t TypeEnum, format string, _ ...interface{})  { l.add(t, format) }
func (l *testLogger) Fatalf(t TypeEnum, format string, _ ...interface{}) { l.add(t, format) }
func (l *testLogger) Close()                                             {}

type testMetrics struct {
	noopMetrics
	mu        sync.Mutex
	hits      int
	misses    int
	requests  map[string]int
	durations map[string]int
}

func newTestMetrics() *testMetrics {
	return &testMetrics{requests: make(map[string]int), durations: make(map[string]int)}
}

func (m *testMetrics) IncCacheHits()   { m.hits++ }
func (m *testMetrics) IncCacheMisses() { m.misses++ }

func (m *testMetrics) IncRequestsTotal(endpoint string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[endpoint+" "+httpStatusBucket(status)]++
}

func (m *testMetrics) ObserveRequestDuration(endpoint string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[endpoint]++
}
