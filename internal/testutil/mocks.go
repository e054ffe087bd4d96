package testutil

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"inboxd/internal/providers"
)

var ErrInjected = errors.New("injected failure")

// MockLogger implements providers.Logger and records calls.
type MockLogger struct {
	mu   sync.Mutex
	Logs []LogEntry
}

type LogEntry struct {
	Level  string
	Type   providers.TypeEnum
	Format string
	Args   []interface{}
}

func (m *MockLogger) record(level string, t providers.TypeEnum, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LogEntry{Level: level, Type: t, Format: format, Args: args})
}

func (m *MockLogger) Errorf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("error", t, format, args...)
}
func (m *MockLogger) Warnf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("warn", t, format, args...)
}
func (m *MockLogger) Debugf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("debug", t, format, args...)
}
func (m *MockLogger) Infof(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("info", t, format, args...)
}
func (m *MockLogger) Fatalf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("fatal", t, format, args...)
}
func (m *MockLogger) Close() {}

// Count returns how many entries were logged at level.
func (m *MockLogger) Count(level string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.Logs {
		if l.Level == level {
			n++
		}
	}
	return n
}

// Contains reports whether any rendered message at level contains substr.
func (m *MockLogger) Contains(level, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.Logs {
		if l.Level == level && strings.Contains(fmt.Sprintf(l.Format, l.Args...), substr) {
			return true
		}
	}
	return false
}

// MockMetrics implements providers.MetricsProviderInterface and records the
// calls tests assert on.
type MockMetrics struct {
	mu                  sync.Mutex
	Duplicates          map[string]int
	StateWriteFailures  int
	RemoteWriteFailures map[string]int
	SourceErrors        map[string]int
	UnreadCount         int
	FeedSize            int
	MergePasses         int
	CacheHits           int
	CacheMisses         int
	Requests            map[string]int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		Duplicates:          make(map[string]int),
		RemoteWriteFailures: make(map[string]int),
		SourceErrors:        make(map[string]int),
		Requests:            make(map[string]int),
	}
}

func (m *MockMetrics) IncRequestsTotal(endpoint string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests[fmt.Sprintf("%s %d", endpoint, status)]++
}
func (m *MockMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (m *MockMetrics) IncCacheHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}
func (m *MockMetrics) IncCacheMisses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheMisses++
}
func (m *MockMetrics) ObservePersistenceDuration(_ time.Duration) {}
func (m *MockMetrics) ObserveMergeDuration(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MergePasses++
}
func (m *MockMetrics) AddDuplicatesDropped(reason string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Duplicates[reason] += count
}
func (m *MockMetrics) IncStateWriteFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StateWriteFailures++
}
func (m *MockMetrics) IncRemoteWriteFailures(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoteWriteFailures[op]++
}
func (m *MockMetrics) IncSourceErrors(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SourceErrors[source]++
}
func (m *MockMetrics) SetUnreadCount(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UnreadCount = count
}
func (m *MockMetrics) SetFeedSize(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedSize = count
}

// MockCache implements providers.CacheProviderInterface.
type MockCache struct {
	mu      sync.Mutex
	Data    map[string][]byte
	Retired []uint64
}

func NewMockCache() *MockCache {
	return &MockCache{Data: make(map[string][]byte)}
}

func (m *MockCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.Data[key]
	return val, ok
}

func (m *MockCache) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = value
}

func (m *MockCache) Retire(version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retired = append(m.Retired, version)
}

// FlakyKV is an in-memory key/value store whose writes can be made to fail.
// It satisfies state.KV structurally.
type FlakyKV struct {
	mu       sync.Mutex
	Data     map[string]string
	FailSet  bool
	FailGet  bool
	SetCalls int
	CloseErr error
	Closed   bool
}

func NewFlakyKV() *FlakyKV {
	return &FlakyKV{Data: make(map[string]string)}
}

func (k *FlakyKV) Get(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.FailGet {
		return "", false, ErrInjected
	}
	v, ok := k.Data[key]
	return v, ok, nil
}

func (k *FlakyKV) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.SetCalls++
	if k.FailSet {
		return ErrInjected
	}
	k.Data[key] = value
	return nil
}

func (k *FlakyKV) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Closed = true
	return k.CloseErr
}

// SetFailing toggles write failures.
func (k *FlakyKV) SetFailing(fail bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.FailSet = fail
}

func (k *FlakyKV) Value(key string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.Data[key]
	return v, ok
}

// MockCompressor implements state.Compressor with injectable behavior.
type MockCompressor struct {
	CompressFn   func([]byte) ([]byte, error)
	DecompressFn func([]byte) ([]byte, error)
}

func (m *MockCompressor) Compress(val []byte) ([]byte, error) {
	if m.CompressFn != nil {
		return m.CompressFn(val)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MockCompressor) Decompress(val []byte) ([]byte, error) {
	if m.DecompressFn != nil {
		return m.DecompressFn(val)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MockCompressor) Close() {}
