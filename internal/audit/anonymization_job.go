package audit

import (
	"context"
	"log/slog"
	"time"
)

// IPAnonymizer is implemented by repositories that can rewrite stored
// IP addresses in place.
type IPAnonymizer interface {
	AnonymizeIPsBefore(cutoff time.Time) (int, error)
}

// AnonymizationJobConfig configures the IP anonymization job.
type AnonymizationJobConfig struct {
	Repository IPAnonymizer
	Logger     *slog.Logger
}

// AnonymizationJob truncates stored IP addresses once audit entries
// pass the retention cutoff. Safe to run repeatedly: already-truncated
// addresses are left untouched.
type AnonymizationJob struct {
	config AnonymizationJobConfig
}

// NewAnonymizationJob creates a new IP anonymization job.
func NewAnonymizationJob(config AnonymizationJobConfig) *AnonymizationJob {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &AnonymizationJob{config: config}
}

// Run anonymizes every eligible entry and returns how many were rewritten.
func (j *AnonymizationJob) Run(ctx context.Context) (int, error) {
	cutoff := IPAnonymizationCutoff()
	j.config.Logger.InfoContext(ctx, "starting IP anonymization", "cutoff", cutoff)

	count, err := j.config.Repository.AnonymizeIPsBefore(cutoff)
	if err != nil {
		j.config.Logger.ErrorContext(ctx, "IP anonymization failed", "error", err)
		return 0, err
	}

	j.config.Logger.InfoContext(ctx, "IP anonymization complete", "anonymized", count)
	return count, nil
}
