package providers

import (
	"freshanon/internal/structures"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"time"
)

// Attempt results and claim conflict reasons used as label values.
const (
	AttemptMatched     = "matched"
	AttemptNoCandidate = "no_candidate"
	AttemptNotWaiting  = "not_waiting"
	AttemptError       = "error"

	ConflictLocked         = "locked"
	ConflictRaceLost       = "race_lost"
	ConflictRecentlyPaired = "recently_paired"
)

type MetricsProviderInterface interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits(namespace string)
	IncCacheMisses(namespace string)
	ObservePersistenceDuration(duration time.Duration)

	IncAttempts(result string)
	ObserveAttemptDuration(duration time.Duration)
	IncClaimConflicts(reason string)
	IncSessionsStarted()
	IncSessionsEnded()
	IncSearchOutcomes(outcome string)
	IncEvicted(count int)

	// RegisterLoadGauges exposes pool size, open sessions and running searches.
	// Only the first registration takes effect.
	RegisterLoadGauges(waiting, sessions, searches func() float64)
}

type MetricsProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	persistenceDuration prometheus.Histogram

	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	claimConflicts  *prometheus.CounterVec
	sessionsStarted prometheus.Counter
	sessionsEnded   prometheus.Counter
	searchOutcomes  *prometheus.CounterVec
	evicted         prometheus.Counter

	gaugesRegistered bool
}

func (m *MetricsProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *MetricsProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncCacheHits(namespace string) {
	m.cacheHits.WithLabelValues(namespace).Inc()
}

func (m *MetricsProvider) IncCacheMisses(namespace string) {
	m.cacheMisses.WithLabelValues(namespace).Inc()
}

func (m *MetricsProvider) ObservePersistenceDuration(duration time.Duration) {
	m.persistenceDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) IncAttempts(result string) {
	m.attempts.WithLabelValues(result).Inc()
}

func (m *MetricsProvider) ObserveAttemptDuration(duration time.Duration) {
	m.attemptDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) IncClaimConflicts(reason string) {
	m.claimConflicts.WithLabelValues(reason).Inc()
}

func (m *MetricsProvider) IncSessionsStarted() {
	m.sessionsStarted.Inc()
}

func (m *MetricsProvider) IncSessionsEnded() {
	m.sessionsEnded.Inc()
}

func (m *MetricsProvider) IncSearchOutcomes(outcome string) {
	m.searchOutcomes.WithLabelValues(outcome).Inc()
}

func (m *MetricsProvider) IncEvicted(count int) {
	m.evicted.Add(float64(count))
}

func (m *MetricsProvider) RegisterLoadGauges(waiting, sessions, searches func() float64) {
	if m.gaugesRegistered {
		return
	}
	m.gaugesRegistered = true

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "freshanon_waiting_participants",
		Help: "Current number of participants in the waiting pool",
	}, waiting)

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "freshanon_open_sessions",
		Help: "Current number of open sessions",
	}, sessions)

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "freshanon_active_searches",
		Help: "Current number of running search loops",
	}, searches)
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
			Name: "freshanon_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freshanon_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "freshanon_cache_hits_total",
			Help: "Total number of cache hits by key namespace",
		}, []string{"namespace"}),

		cacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "freshanon_cache_misses_total",
			Help: "Total number of cache misses by key namespace",
		}, []string{"namespace"}),

		persistenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "freshanon_persistence_duration_seconds",
			Help:    "Duration of persistence operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "freshanon_attempts_total",
			Help: "Total number of pairing attempts by result",
		}, []string{"result"}),

		attemptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "freshanon_attempt_duration_seconds",
			Help:    "Pairing attempt duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		claimConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "freshanon_claim_conflicts_total",
			Help: "Total number of candidates skipped during a claim by reason",
		}, []string{"reason"}),

		sessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "freshanon_sessions_started_total",
			Help: "Total number of sessions formed",
		}),

		sessionsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "freshanon_sessions_ended_total",
			Help: "Total number of sessions closed",
		}),

		searchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "freshanon_search_outcomes_total",
			Help: "Total number of finished search loops by outcome",
		}, []string{"outcome"}),

		evicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "freshanon_evicted_total",
			Help: "Total number of stale pool entries evicted by maintenance",
		}),
	}
}

// noopMetrics is a no-op implementation for when metrics are disabled.
type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) IncCacheHits(_ string)                            {}
func (n *noopMetrics) IncCacheMisses(_ string)                          {}
func (n *noopMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (n *noopMetrics) IncAttempts(_ string)                             {}
func (n *noopMetrics) ObserveAttemptDuration(_ time.Duration)           {}
func (n *noopMetrics) IncClaimConflicts(_ string)                       {}
func (n *noopMetrics) IncSessionsStarted()                              {}
func (n *noopMetrics) IncSessionsEnded()                                {}
func (n *noopMetrics) IncSearchOutcomes(_ string)                       {}
func (n *noopMetrics) IncEvicted(_ int)                                 {}
func (n *noopMetrics) RegisterLoadGauges(_, _, _ func() float64)        {}

// NewNoopMetrics is used by tests and tools that do not export metrics.
func NewNoopMetrics() MetricsProviderInterface {
	return &noopMetrics{}
}
