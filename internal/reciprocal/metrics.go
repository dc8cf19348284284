package reciprocal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRunsTotal      = "reciprocal_runs_total"
	MetricRunErrorsTotal = "reciprocal_run_errors_total"
	MetricRunDuration    = "reciprocal_run_duration_seconds"
	MetricOpportunities  = "reciprocal_opportunities"
	MetricBoostedItems   = "reciprocal_boosted_items"
)

// Metrics contains Prometheus metrics for the reciprocal optimizer.
// All operations are thread-safe.
type Metrics struct {
	runs          prometheus.Counter
	runErrors     prometheus.Counter
	runDuration   prometheus.Histogram
	opportunities prometheus.Gauge
	boostedItems  prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Total number of reciprocal optimizer runs started",
		}),
		runErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRunErrorsTotal,
			Help: "Total number of reciprocal optimizer runs that failed",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRunDuration,
			Help:    "Histogram of reciprocal optimizer run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		opportunities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricOpportunities,
			Help: "Opportunities kept by the most recent optimizer run",
		}),
		boostedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBoostedItems,
			Help: "Items boosted by the most recent optimizer run",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.runs,
		m.runErrors,
		m.runDuration,
		m.opportunities,
		m.boostedItems,
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

// IncRunErrors increments the error counter.
func (m *Metrics) IncRunErrors() {
	m.runErrors.Inc()
}

// ObserveRunDuration records a run duration in seconds.
func (m *Metrics) ObserveRunDuration(seconds float64) {
	m.runDuration.Observe(seconds)
}

// SetOpportunities records the kept opportunity count.
func (m *Metrics) SetOpportunities(n float64) {
	m.opportunities.Set(n)
}

// SetBoostedItems records the boosted item count.
func (m *Metrics) SetBoostedItems(n float64) {
	m.boostedItems.Set(n)
}
