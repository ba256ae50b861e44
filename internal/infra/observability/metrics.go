package observability

import (
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Feed refresh outcomes used as the "result" label.
const (
	RefreshOK        = "ok"
	RefreshError     = "error"
	RefreshDiscarded = "discarded"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	feedRefreshes   *prometheus.CounterVec
	studies         *prometheus.GaugeVec
	studiesAmount   prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		feedRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_feed_refreshes_total",
				Help: "Study feed refreshes by result.",
			},
			[]string{"result"},
		),
		studies: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bfa_studies",
				Help: "Studies in the latest snapshot by status.",
			},
			[]string{"status"},
		),
		studiesAmount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bfa_studies_amount_total",
				Help: "Sum of study amounts in the latest snapshot.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrFeedRefresh counts a feed refresh with one of the Refresh* results.
func (m *Metrics) IncrFeedRefresh(result string) {
	m.feedRefreshes.WithLabelValues(result).Inc()
}

// SetStudyGauges publishes the headline figures of the latest snapshot.
func (m *Metrics) SetStudyGauges(stats domain.KPIStats) {
	for _, s := range domain.StatusOrder {
		m.studies.WithLabelValues(string(s)).Set(float64(stats.ByStatus[s]))
	}
	m.studiesAmount.Set(stats.TotalAmount)
}

// FeedSnapshot returns the feed counters for GET /v1/metrics/feed.
// Listeners and Studies are filled in by the caller.
func (m *Metrics) FeedSnapshot() *domain.FeedMetrics {
	ok := getCounterValue(m.feedRefreshes, RefreshOK)
	failed := getCounterValue(m.feedRefreshes, RefreshError)
	discarded := getCounterValue(m.feedRefreshes, RefreshDiscarded)
	hits := getCounterValue(m.cacheHits, "studies")
	misses := getCounterValue(m.cacheMisses, "studies")

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.FeedMetrics{
		Refreshes:       int64(ok + failed + discarded),
		FailedRefreshes: int64(failed),
		DiscardedStale:  int64(discarded),
		CacheHitRate:    hitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
