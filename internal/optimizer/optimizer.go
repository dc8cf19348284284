package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trueque-collective/trueque/internal/category"
	"github.com/trueque-collective/trueque/internal/item"
	"github.com/trueque-collective/trueque/internal/policy"
	"github.com/trueque-collective/trueque/internal/runlock"
	"github.com/trueque-collective/trueque/internal/swipe"
	"github.com/trueque-collective/trueque/internal/tracing"
)

// Defaults for the governance job.
const (
	// DefaultMinSwipes is the minimum-data gate: below this many swipes
	// in the window, no proposal is requested.
	DefaultMinSwipes = 100
	// DefaultProposalInterval is the minimum time between automated
	// proposals.
	DefaultProposalInterval = 24 * time.Hour
	// DefaultMetricsWindow is the trailing aggregation window.
	DefaultMetricsWindow = 30 * 24 * time.Hour
)

// proposalLockKey names the optimizer's single-flight lock.
const proposalLockKey = "policy_optimize"

// Sentinel errors for the structured rejection taxonomy.
var (
	// ErrInsufficientData means the window holds too few swipes to
	// optimize against. Recoverable no-op.
	ErrInsufficientData = errors.New("insufficient swipe data for optimization")
	// ErrRateLimited means a proposal was attempted inside the minimum
	// interval since the last automated one.
	ErrRateLimited = errors.New("policy optimizer rate limited")
)

// RateLimitError carries the exact remaining wait until the next
// automated proposal is allowed. Matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("policy optimizer rate limited: next proposal allowed in %s", e.Remaining.Round(time.Minute))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ValidationError carries the full list of bound violations found in a
// rejected proposal. The proposal is discarded; nothing is persisted.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "proposal rejected: " + strings.Join(msgs, "; ")
}

// Reasons returns the violation messages for API responses.
func (e *ValidationError) Reasons() []string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return msgs
}

// Config tunes the governance job.
type Config struct {
	MinSwipes        int
	ProposalInterval time.Duration
	MetricsWindow    time.Duration
	Logger           *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MinSwipes <= 0 {
		c.MinSwipes = DefaultMinSwipes
	}
	if c.ProposalInterval <= 0 {
		c.ProposalInterval = DefaultProposalInterval
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = DefaultMetricsWindow
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Optimizer runs the automated policy proposal pipeline: aggregate
// metrics, gate on data volume and proposal cadence, ask the external
// generator, validate, persist inactive. A proposal never activates
// itself; activation is a separate human action.
type Optimizer struct {
	policies  policy.Store
	snapshots SnapshotStore
	collector *Collector
	generator Generator
	validator *policy.Validator
	lock      runlock.Lock
	metrics   *Metrics
	cfg       Config
	now       func() time.Time
}

// New creates an Optimizer. The lock may be nil, which leaves only the
// provenance-based rate limit. Metrics may be nil.
func New(policies policy.Store, snapshots SnapshotStore, items item.Store, swipes swipe.Store, generator Generator, validator *policy.Validator, lock runlock.Lock, metrics *Metrics, cfg Config) *Optimizer {
	cfg = cfg.withDefaults()
	return &Optimizer{
		policies:  policies,
		snapshots: snapshots,
		collector: NewCollector(items, swipes, cfg.MetricsWindow),
		generator: generator,
		validator: validator,
		lock:      lock,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run executes one proposal attempt and returns the persisted inactive
// policy on success. Rejections come back as typed errors:
// *RateLimitError, ErrInsufficientData, *ValidationError, or a wrapped
// ErrGeneratorFailed.
func (o *Optimizer) Run(ctx context.Context) (*policy.ScoringPolicy, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "policy_optimize")
	start := time.Now()
	var runErr error
	defer func() {
		endSpan(runErr)
		if o.metrics != nil {
			o.metrics.ObserveRunDuration(time.Since(start).Seconds())
		}
	}()
	if o.metrics != nil {
		o.metrics.IncRuns()
	}

	now := o.now().UTC()

	// Rate limit keyed on provenance: the newest automated proposal's
	// creation time is authoritative, so the caller learns the exact
	// remaining wait.
	last, err := o.policies.LastCreatedByProvenance(ctx, policy.ProvenanceAIOptimizer)
	if err != nil {
		runErr = fmt.Errorf("loading last automated proposal: %w", err)
		o.reject("persistence_error")
		return nil, runErr
	}
	if !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < o.cfg.ProposalInterval {
			runErr = &RateLimitError{Remaining: o.cfg.ProposalInterval - elapsed}
			o.reject("rate_limited")
			return nil, runErr
		}
	}

	// Single-flight across processes. The provenance check above already
	// enforces cadence, so the lock TTL only needs to cover one run.
	if o.lock != nil {
		ok, remaining, err := o.lock.TryAcquire(ctx, proposalLockKey, o.cfg.ProposalInterval)
		if err != nil {
			runErr = fmt.Errorf("acquiring proposal lock: %w", err)
			o.reject("persistence_error")
			return nil, runErr
		}
		if !ok {
			runErr = &RateLimitError{Remaining: remaining}
			o.reject("rate_limited")
			return nil, runErr
		}
	}

	snap, err := o.collector.Collect(ctx, now)
	if err != nil {
		runErr = err
		o.reject("persistence_error")
		return nil, runErr
	}
	if snap.SwipeCount < o.cfg.MinSwipes {
		runErr = fmt.Errorf("%w: have %d swipes in window, need %d", ErrInsufficientData, snap.SwipeCount, o.cfg.MinSwipes)
		o.reject("insufficient_data")
		return nil, runErr
	}

	current, err := o.policies.GetActive(ctx)
	if err != nil {
		runErr = fmt.Errorf("loading active policy: %w", err)
		o.reject("no_active_policy")
		return nil, runErr
	}
	snap.PolicyVersion = current.Version
	if err := o.snapshots.Append(ctx, *snap); err != nil {
		runErr = fmt.Errorf("storing metric snapshot: %w", err)
		o.reject("persistence_error")
		return nil, runErr
	}

	nextVersion, err := o.nextFreeVersion(ctx, current.Version)
	if err != nil {
		runErr = fmt.Errorf("bumping version: %w", err)
		o.reject("persistence_error")
		return nil, runErr
	}

	proposal, err := o.generator.Propose(ctx, Prompt{
		CurrentPolicy:   current,
		Metrics:         boundedSnapshot(snap),
		ProposalVersion: nextVersion,
	})
	if err != nil {
		runErr = err
		o.reject("generator_failed")
		return nil, runErr
	}

	candidate := &policy.ScoringPolicy{
		Version:     nextVersion,
		Weights:     proposal.Weights,
		Exploration: proposal.Exploration,
		Reciprocal:  proposal.Reciprocal,
		Active:      false,
		Provenance:  policy.ProvenanceAIOptimizer,
		Rationale:   proposal.Rationale,
		CreatedAt:   now,
	}

	if errs := o.validator.Validate(candidate); len(errs) > 0 {
		runErr = &ValidationError{Errors: errs}
		o.reject("validation_failed")
		return nil, runErr
	}

	if err := o.policies.Create(ctx, candidate); err != nil {
		runErr = fmt.Errorf("persisting proposal: %w", err)
		o.reject("persistence_error")
		return nil, runErr
	}

	if o.metrics != nil {
		o.metrics.IncProposals()
	}
	o.cfg.Logger.Info("policy proposal persisted",
		"version", candidate.Version,
		"based_on", current.Version,
		"swipes_in_window", snap.SwipeCount,
		"like_rate", snap.LikeRate,
		"match_rate", snap.MatchRate)
	return candidate.Clone(), nil
}

// nextFreeVersion bumps the minor version until it finds one not yet
// taken. Earlier unactivated proposals occupy versions, so a fresh
// proposal keeps counting upward from the active version.
func (o *Optimizer) nextFreeVersion(ctx context.Context, from string) (string, error) {
	v, err := policy.BumpMinor(from)
	if err != nil {
		return "", err
	}
	for {
		_, err := o.policies.GetByVersion(ctx, v)
		if errors.Is(err, policy.ErrPolicyNotFound) {
			return v, nil
		}
		if err != nil {
			return "", err
		}
		if v, err = policy.BumpMinor(v); err != nil {
			return "", err
		}
	}
}

func (o *Optimizer) reject(reason string) {
	if o.metrics != nil {
		o.metrics.IncRejections(reason)
	}
}

// boundedSnapshot copies the snapshot with its category map restricted
// to the fixed category set. The prompt stays bounded no matter what
// ends up in storage.
func boundedSnapshot(snap *MetricSnapshot) *MetricSnapshot {
	cp := *snap
	cp.CategoryLikeRate = make(map[string]float64, len(snap.CategoryLikeRate))
	for _, cat := range snap.categoriesSorted() {
		if category.Valid(cat) {
			cp.CategoryLikeRate[cat] = snap.CategoryLikeRate[cat]
		}
	}
	return &cp
}
