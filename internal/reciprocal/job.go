package reciprocal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// JobMetrics provides centralized background job metrics tracking.
// This interface allows the job to report to the centralized job metrics system.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// jobType identifies this job in centralized job metrics.
const jobType = "reciprocal_optimize"

// DefaultTickInterval is how often the job checks whether a run is due.
// The run lock enforces the actual run cadence, so ticking more often
// than the run interval only costs a rejected lock acquisition.
const DefaultTickInterval = time.Hour

// DefaultRunTimeout bounds a single optimizer run.
const DefaultRunTimeout = 10 * time.Minute

// JobConfig configures the periodic optimizer job.
type JobConfig struct {
	// TickInterval is the duration between run attempts.
	TickInterval time.Duration
	// Timeout for each run.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
}

// Job periodically attempts an optimizer run. The optimizer's own run
// lock decides whether a run actually happens, which keeps the cadence
// correct even with several API replicas running the job.
type Job struct {
	config    JobConfig
	optimizer *Optimizer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJob creates a new optimizer job.
func NewJob(config JobConfig, optimizer *Optimizer) *Job {
	if config.TickInterval == 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRunTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Job{config: config, optimizer: optimizer}
}

// Start begins the periodic job.
// Returns immediately; the job runs in a background goroutine.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for it to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// run is the main loop for the job. An attempt happens immediately on
// start, then on every tick.
func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	j.attempt(ctx)

	ticker := time.NewTicker(j.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("reciprocal optimizer job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("reciprocal optimizer job stopping due to stop signal")
			return
		case <-ticker.C:
			j.attempt(ctx)
		}
	}
}

// attempt performs one run attempt. A rate-limited attempt is the
// expected steady state and is logged at debug only.
func (j *Job) attempt(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	_, err := j.optimizer.Run(ctx)
	duration := time.Since(start).Seconds()

	switch {
	case errors.Is(err, ErrRateLimited):
		j.config.Logger.Debug("reciprocal optimizer run skipped", "reason", err)
	case err != nil:
		j.config.Logger.Error("reciprocal optimizer run failed", "error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(jobType, "failure")
			j.config.JobMetrics.IncJobErrors(jobType, "run_error")
			j.config.JobMetrics.ObserveJobDuration(jobType, duration)
		}
	default:
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(jobType, "success")
			j.config.JobMetrics.ObserveJobDuration(jobType, duration)
		}
	}
}

// RunNow immediately attempts a run without waiting for the ticker.
// The run lock still applies; an in-window attempt returns ErrRateLimited.
func (j *Job) RunNow(ctx context.Context) (*Summary, error) {
	return j.optimizer.Run(ctx)
}
