package ranker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRankRequestsTotal  = "rank_requests_total"
	MetricRankErrorsTotal    = "rank_errors_total"
	MetricRankDuration       = "rank_duration_seconds"
	MetricRankCandidatePool  = "rank_candidate_pool_size"
)

// Metrics contains Prometheus metrics for ranking requests.
// All operations are thread-safe.
type Metrics struct {
	rankRequests  prometheus.Counter
	rankErrors    prometheus.Counter
	rankDuration  prometheus.Histogram
	candidatePool prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		rankRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankRequestsTotal,
			Help: "Total number of ranking requests served",
		}),
		rankErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankErrorsTotal,
			Help: "Total number of ranking requests that failed",
		}),
		rankDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankDuration,
			Help:    "Histogram of ranking request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		candidatePool: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankCandidatePool,
			Help:    "Histogram of candidate pool sizes per ranking request",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 250},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.rankRequests,
		m.rankErrors,
		m.rankDuration,
		m.candidatePool,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRankRequests increments the request counter.
func (m *Metrics) IncRankRequests() {
	m.rankRequests.Inc()
}

// IncRankErrors increments the error counter.
func (m *Metrics) IncRankErrors() {
	m.rankErrors.Inc()
}

// ObserveRankDuration records a request duration in seconds.
func (m *Metrics) ObserveRankDuration(seconds float64) {
	m.rankDuration.Observe(seconds)
}

// ObserveCandidatePool records a candidate pool size.
func (m *Metrics) ObserveCandidatePool(size float64) {
	m.candidatePool.Observe(size)
}
