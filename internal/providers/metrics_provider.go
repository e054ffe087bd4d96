package providers

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"inboxd/internal/structures"
)

type MetricsProviderInterface interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	ObservePersistenceDuration(duration time.Duration)
	ObserveMergeDuration(duration time.Duration)
	AddDuplicatesDropped(reason string, count int)
	IncStateWriteFailures()
	IncRemoteWriteFailures(op string)
	IncSourceErrors(source string)
	SetUnreadCount(count int)
	SetFeedSize(count int)
}

type MetricsProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	persistenceDuration prometheus.Histogram
	mergeDuration       prometheus.Histogram
	duplicatesDropped   *prometheus.CounterVec
	stateWriteFailures  prometheus.Counter
	remoteWriteFailures *prometheus.CounterVec
	sourceErrors        *prometheus.CounterVec
	unreadCount         prometheus.Gauge
	feedSize            prometheus.Gauge
}

func (m *MetricsProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *MetricsProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *MetricsProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *MetricsProvider) ObservePersistenceDuration(duration time.Duration) {
	m.persistenceDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) ObserveMergeDuration(duration time.Duration) {
	m.mergeDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) AddDuplicatesDropped(reason string, count int) {
	if count <= 0 {
		return
	}
	m.duplicatesDropped.WithLabelValues(reason).Add(float64(count))
}

func (m *MetricsProvider) IncStateWriteFailures() {
	m.stateWriteFailures.Inc()
}

func (m *MetricsProvider) IncRemoteWriteFailures(op string) {
	m.remoteWriteFailures.WithLabelValues(op).Inc()
}

func (m *MetricsProvider) IncSourceErrors(source string) {
	m.sourceErrors.WithLabelValues(source).Inc()
}

func (m *MetricsProvider) SetUnreadCount(count int) {
	m.unreadCount.Set(float64(count))
}

func (m *MetricsProvider) SetFeedSize(count int) {
	m.feedSize.Set(float64(count))
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func NewMetricsProvider(conf *structures.Config) MetricsProviderInterface {
	if !conf.Metrics.Enabled {
		return &noopMetrics{}
	}

	return &MetricsProvider{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxd_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inboxd_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inboxd_cache_hits_total",
			Help: "Total number of cache hits",
		}),

		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inboxd_cache_misses_total",
			Help: "Total number of cache misses",
		}),

		persistenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "inboxd_persistence_duration_seconds",
			Help:    "Duration of state flushes in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		mergeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "inboxd_merge_duration_seconds",
			Help:    "Duration of feed merge passes in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),

		duplicatesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxd_duplicates_dropped_total",
			Help: "Records discarded by dedup, by key kind",
		}, []string{"reason"}),

		stateWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inboxd_state_write_failures_total",
			Help: "Failed writes to the durable local state",
		}),

		remoteWriteFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxd_remote_write_failures_total",
			Help: "Failed mirror writes to the remote notification store",
		}, []string{"op"}),

		sourceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxd_source_errors_total",
			Help: "Errors reading or subscribing to a source",
		}, []string{"source"}),

		unreadCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "inboxd_unread_count",
			Help: "Current value of the unread counter slot",
		}),

		feedSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "inboxd_feed_entries",
			Help: "Number of entries in the merged feed",
		}),
	}
}

type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) IncCacheHits()                                    {}
func (n *noopMetrics) IncCacheMisses()                                  {}
func (n *noopMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (n *noopMetrics) ObserveMergeDuration(_ time.Duration)             {}
func (n *noopMetrics) AddDuplicatesDropped(_ string, _ int)             {}
func (n *noopMetrics) IncStateWriteFailures()                           {}
func (n *noopMetrics) IncRemoteWriteFailures(_ string)                  {}
func (n *noopMetrics) IncSourceErrors(_ string)                         {}
func (n *noopMetrics) SetUnreadCount(_ int)                             {}
func (n *noopMetrics) SetFeedSize(_ int)                                {}
