package providers

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxd/internal/structures"
)

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	prevReg, prevGath := prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = prevReg
		prometheus.DefaultGatherer = prevGath
	})
	return reg
}

func TestNoopMetrics_WhenDisabled(t *testing.T) {
	conf := &structures.Config{
		Metrics: structures.MetricsConfig{Enabled: false},
	}
	m := NewMetricsProvider(conf)
	_, ok := m.(*noopMetrics)
	assert.True(t, ok, "should return noopMetrics when disabled")

	m.IncRequestsTotal("/feed", 200)
	m.ObserveRequestDuration("/feed", time.Millisecond)
	m.IncCacheHits()
	m.IncCacheMisses()
	m.ObservePersistenceDuration(time.Millisecond)
	m.ObserveMergeDuration(time.Millisecond)
	m.AddDuplicatesDropped("identity", 2)
	m.IncStateWriteFailures()
	m.IncRemoteWriteFailures("read")
	m.IncSourceErrors("activities")
	m.SetUnreadCount(3)
	m.SetFeedSize(10)
}

func TestMetricsProvider_WhenEnabled(t *testing.T) {
	useTestRegistry(t)

	m := NewMetricsProvider(&structures.Config{Metrics: structures.MetricsConfig{Enabled: true}})
	_, ok := m.(*MetricsProvider)
	assert.True(t, ok, "should return MetricsProvider when enabled")
}

func TestMetricsProvider_RecordsInboxMetrics(t *testing.T) {
	reg := useTestRegistry(t)

	m := NewMetricsProvider(&structures.Config{Metrics: structures.MetricsConfig{Enabled: true}})
	mp := m.(*MetricsProvider)

	m.IncRequestsTotal("/feed", 200)
	m.IncRequestsTotal("/feed", 404)
	m.AddDuplicatesDropped("identity", 2)
	m.AddDuplicatesDropped("reminder", 1)
	m.AddDuplicatesDropped("identity", 0)
	m.IncRemoteWriteFailures("delete")
	m.IncSourceErrors("notifications")
	m.SetUnreadCount(4)
	m.SetFeedSize(9)

	assert.Equal(t, float64(1), testutil.ToFloat64(mp.requestsTotal.WithLabelValues("/feed", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mp.requestsTotal.WithLabelValues("/feed", "4xx")))
	assert.Equal(t, float64(2), testutil.ToFloat64(mp.duplicatesDropped.WithLabelValues("identity")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mp.duplicatesDropped.WithLabelValues("reminder")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mp.remoteWriteFailures.WithLabelValues("delete")))
	assert.Equal(t, float64(4), testutil.ToFloat64(mp.unreadCount))
	assert.Equal(t, float64(9), testutil.ToFloat64(mp.feedSize))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "inboxd_unread_count")
	assert.Contains(t, names, "inboxd_source_errors_total")
}

func TestHttpStatusBucket(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, httpStatusBucket(tt.code))
	}
}
