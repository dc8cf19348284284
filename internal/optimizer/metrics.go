package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRunsTotal       = "policy_optimizer_runs_total"
	MetricProposalsTotal  = "policy_optimizer_proposals_total"
	MetricRejectionsTotal = "policy_optimizer_rejections_total"
	MetricRunDuration     = "policy_optimizer_run_duration_seconds"
)

// Metrics contains Prometheus metrics for the policy optimizer.
// All operations are thread-safe.
type Metrics struct {
	runs        prometheus.Counter
	proposals   prometheus.Counter
	rejections  *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Total number of policy optimizer run attempts",
		}),
		proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricProposalsTotal,
			Help: "Total number of proposals persisted (inactive)",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRejectionsTotal,
			Help: "Total number of rejected run attempts by reason",
		}, []string{"reason"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRunDuration,
			Help:    "Histogram of policy optimizer run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.runs,
		m.proposals,
		m.rejections,
		m.runDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRuns increments the run counter.
func (m *Metrics) IncRuns() {
	m.runs.Inc()
}

// IncProposals increments the persisted-proposal counter.
func (m *Metrics) IncProposals() {
	m.proposals.Inc()
}

// IncRejections increments the rejection counter for a reason.
func (m *Metrics) IncRejections(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// ObserveRunDuration records a run duration in seconds.
func (m *Metrics) ObserveRunDuration(seconds float64) {
	m.runDuration.Observe(seconds)
}
