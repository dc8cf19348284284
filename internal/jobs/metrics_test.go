package jobs

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func readMetric(t *testing.T, c prometheus.Metric) *dto.Metric {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read metric: %v", err)
	}
	return &m
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	return readMetric(t, metric).GetCounter().GetValue()
}

func histogramSamples(t *testing.T, vec *prometheus.HistogramVec, labels ...string) (uint64, float64) {
	t.Helper()
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	h := readMetric(t, metric.(prometheus.Metric)).GetHistogram()
	return h.GetSampleCount(), h.GetSampleSum()
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if got := len(m.Collectors()); got != 3 {
		t.Errorf("expected 3 collectors, got %d", got)
	}
}

func TestMetrics_Register(t *testing.T) {
	t.Run("gathers all families", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		m.IncJobsTotal(JobTypeReciprocalOptimize, StatusSuccess)
		m.ObserveJobDuration(JobTypeReciprocalOptimize, 1.0)
		m.IncJobErrors(JobTypeReciprocalOptimize, "lock_contention")

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() error = %v", err)
		}
		found := make(map[string]bool)
		for _, family := range families {
			found[family.GetName()] = true
		}
		for _, name := range []string{
			MetricBackgroundJobsTotal,
			MetricBackgroundJobsDuration,
			MetricBackgroundJobErrorsTotal,
		} {
			if !found[name] {
				t.Errorf("metric %s not gathered", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() error = %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("second Register() should have failed")
		}
	})
}

func TestMetrics_IncJobsTotal(t *testing.T) {
	m := NewMetrics()

	tests := []struct {
		jobType string
		status  string
		count   int
	}{
		{JobTypeReciprocalOptimize, StatusSuccess, 10},
		{JobTypeReciprocalOptimize, StatusFailure, 2},
		{JobTypePolicyOptimize, StatusSuccess, 5},
		{JobTypePolicyOptimize, StatusFailure, 1},
	}

	for _, tt := range tests {
		if v := counterValue(t, m.jobsTotal, tt.jobType, tt.status); v != 0 {
			t.Errorf("initial %s/%s = %f, want 0", tt.jobType, tt.status, v)
		}
		for i := 0; i < tt.count; i++ {
			m.IncJobsTotal(tt.jobType, tt.status)
		}
		if v := counterValue(t, m.jobsTotal, tt.jobType, tt.status); v != float64(tt.count) {
			t.Errorf("%s/%s = %f, want %d", tt.jobType, tt.status, v, tt.count)
		}
	}
}

func TestMetrics_ObserveJobDuration(t *testing.T) {
	m := NewMetrics()

	tests := []struct {
		jobType   string
		durations []float64
	}{
		{JobTypeReciprocalOptimize, []float64{0.5, 1.2, 0.8, 2.5, 1.0}},
		{JobTypePolicyOptimize, []float64{30.5, 45.2, 60.1}},
	}

	for _, tt := range tests {
		var wantSum float64
		for _, d := range tt.durations {
			m.ObserveJobDuration(tt.jobType, d)
			wantSum += d
		}

		count, sum := histogramSamples(t, m.jobsDuration, tt.jobType)
		if count != uint64(len(tt.durations)) {
			t.Errorf("sample count for %s = %d, want %d", tt.jobType, count, len(tt.durations))
		}
		if sum < wantSum*0.99 || sum > wantSum*1.01 {
			t.Errorf("sample sum for %s = %f, want about %f", tt.jobType, sum, wantSum)
		}
	}
}

func TestMetrics_IncJobErrors(t *testing.T) {
	m := NewMetrics()

	tests := []struct {
		jobType   string
		errorType string
		count     int
	}{
		{JobTypeReciprocalOptimize, "timeout", 5},
		{JobTypeReciprocalOptimize, "database_error", 3},
		{JobTypePolicyOptimize, "generator_failed", 2},
		{JobTypeReciprocalOptimize, "lock_contention", 1},
		{JobTypePolicyOptimize, "validation_error", 4},
	}

	for _, tt := range tests {
		for i := 0; i < tt.count; i++ {
			m.IncJobErrors(tt.jobType, tt.errorType)
		}
		if v := counterValue(t, m.jobErrors, tt.jobType, tt.errorType); v != float64(tt.count) {
			t.Errorf("%s/%s = %f, want %d", tt.jobType, tt.errorType, v, tt.count)
		}
	}
}

func TestMetrics_JobTypeConstants(t *testing.T) {
	jobTypes := []string{JobTypeReciprocalOptimize, JobTypePolicyOptimize}

	seen := make(map[string]bool)
	for _, jt := range jobTypes {
		if jt == "" {
			t.Error("job type constant is empty")
		}
		if seen[jt] {
			t.Errorf("duplicate job type constant: %s", jt)
		}
		seen[jt] = true
	}
}

func TestMetrics_StatusConstants(t *testing.T) {
	if StatusSuccess == "" || StatusFailure == "" {
		t.Error("status constants must be non-empty")
	}
	if StatusSuccess == StatusFailure {
		t.Error("StatusSuccess and StatusFailure must differ")
	}
}

func TestMetrics_Concurrency(t *testing.T) {
	m := NewMetrics()
	const goroutines, iterations = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.IncJobsTotal(JobTypeReciprocalOptimize, StatusSuccess)
				m.IncJobsTotal(JobTypeReciprocalOptimize, StatusFailure)
				m.ObserveJobDuration(JobTypeReciprocalOptimize, 1.5)
				m.IncJobErrors(JobTypeReciprocalOptimize, "timeout")
			}
		}()
	}
	wg.Wait()

	want := float64(goroutines * iterations)
	if v := counterValue(t, m.jobsTotal, JobTypeReciprocalOptimize, StatusSuccess); v != want {
		t.Errorf("success count = %f, want %f", v, want)
	}
	if v := counterValue(t, m.jobsTotal, JobTypeReciprocalOptimize, StatusFailure); v != want {
		t.Errorf("failure count = %f, want %f", v, want)
	}
	if v := counterValue(t, m.jobErrors, JobTypeReciprocalOptimize, "timeout"); v != want {
		t.Errorf("error count = %f, want %f", v, want)
	}
	count, _ := histogramSamples(t, m.jobsDuration, JobTypeReciprocalOptimize)
	if count != uint64(goroutines*iterations) {
		t.Errorf("duration sample count = %d, want %d", count, goroutines*iterations)
	}
}

func TestMetrics_MultipleJobTypes(t *testing.T) {
	m := NewMetrics()
	jobTypes := []string{JobTypeReciprocalOptimize, JobTypePolicyOptimize}

	for _, jt := range jobTypes {
		m.IncJobsTotal(jt, StatusSuccess)
		m.ObserveJobDuration(jt, 2.5)
		m.IncJobErrors(jt, "timeout")
	}

	// Each job type keeps its own label set
	for _, jt := range jobTypes {
		if v := counterValue(t, m.jobsTotal, jt, StatusSuccess); v != 1.0 {
			t.Errorf("jobsTotal for %s = %f, want 1.0", jt, v)
		}
		count, _ := histogramSamples(t, m.jobsDuration, jt)
		if count != 1 {
			t.Errorf("jobsDuration count for %s = %d, want 1", jt, count)
		}
		if v := counterValue(t, m.jobErrors, jt, "timeout"); v != 1.0 {
			t.Errorf("jobErrors for %s = %f, want 1.0", jt, v)
		}
	}
}

func TestMetrics_DurationBuckets(t *testing.T) {
	m := NewMetrics()

	// Spread from sub-bucket to the top bucket boundary
	durations := []float64{0.05, 0.5, 5.0, 30.0, 120.0}
	var wantSum float64
	for _, d := range durations {
		m.ObserveJobDuration(JobTypeReciprocalOptimize, d)
		wantSum += d
	}

	count, sum := histogramSamples(t, m.jobsDuration, JobTypeReciprocalOptimize)
	if count != uint64(len(durations)) {
		t.Errorf("sample count = %d, want %d", count, len(durations))
	}
	if sum < wantSum*0.99 || sum > wantSum*1.01 {
		t.Errorf("sample sum = %f, want about %f", sum, wantSum)
	}
}
