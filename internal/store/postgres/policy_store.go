package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/trueque-collective/trueque/internal/policy"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// policyColumns is the select list shared by every policy query.
const policyColumns = `version,
	weight_category, weight_geo, weight_exchange, weight_affinity,
	weight_freshness, weight_condition, weight_reciprocal,
	exploration_randomness, exploration_cold_start, exploration_stale,
	reciprocal_priority, reciprocal_boost_cap,
	active, provenance, rationale, created_at`

// PolicyStore is the PostgreSQL policy.Store implementation.
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore creates a PolicyStore on the given connection pool.
func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// Create persists a new, inactive policy version. The Active flag on the
// input is ignored.
func (s *PolicyStore) Create(ctx context.Context, p *policy.ScoringPolicy) error {
	if !policy.ValidVersion(p.Version) {
		return fmt.Errorf("%w: %q", policy.ErrInvalidVersion, p.Version)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scoring_policies (
			version,
			weight_category, weight_geo, weight_exchange, weight_affinity,
			weight_freshness, weight_condition, weight_reciprocal,
			exploration_randomness, exploration_cold_start, exploration_stale,
			reciprocal_priority, reciprocal_boost_cap,
			active, provenance, rationale, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, $14, $15, $16)`,
		p.Version,
		p.Weights.CategorySimilarity, p.Weights.GeoScore, p.Weights.ExchangeCompatibility, p.Weights.BehaviorAffinity,
		p.Weights.Freshness, p.Weights.ConditionScore, p.Weights.ReciprocalBoost,
		p.Exploration.Randomness, p.Exploration.ColdStartBoost, p.Exploration.StaleItemPenalty,
		p.Reciprocal.Priority, p.Reciprocal.BoostCap,
		p.Provenance, p.Rationale, createdAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return policy.ErrPolicyExists
		}
		return fmt.Errorf("inserting policy %s: %w", p.Version, err)
	}
	return nil
}

// GetActive returns the currently active policy.
func (s *PolicyStore) GetActive(ctx context.Context) (*policy.ScoringPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM scoring_policies WHERE active`)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNoActivePolicy
	}
	if err != nil {
		return nil, fmt.Errorf("loading active policy: %w", err)
	}
	return p, nil
}

// GetByVersion returns a policy by its version string.
func (s *PolicyStore) GetByVersion(ctx context.Context, version string) (*policy.ScoringPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM scoring_policies WHERE version = $1`, version)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading policy %s: %w", version, err)
	}
	return p, nil
}

// List returns all stored policies ordered by creation time descending.
func (s *PolicyStore) List(ctx context.Context) ([]*policy.ScoringPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM scoring_policies ORDER BY created_at DESC, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	var out []*policy.ScoringPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Activate atomically makes the given version the single active policy.
// The previous active version is deactivated inside the same transaction,
// so readers never observe zero or two active versions.
func (s *PolicyStore) Activate(ctx context.Context, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning activation: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM scoring_policies WHERE version = $1)`, version).Scan(&exists); err != nil {
		return fmt.Errorf("checking policy %s: %w", version, err)
	}
	if !exists {
		return policy.ErrPolicyNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE scoring_policies SET active = FALSE WHERE active AND version <> $1`, version); err != nil {
		return fmt.Errorf("deactivating previous policy: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scoring_policies SET active = TRUE WHERE version = $1`, version); err != nil {
		return fmt.Errorf("activating policy %s: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing activation: %w", err)
	}
	return nil
}

// LastCreatedByProvenance returns the creation time of the most recent
// policy with the given provenance, or the zero time when none exists.
func (s *PolicyStore) LastCreatedByProvenance(ctx context.Context, provenance string) (time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT max(created_at) FROM scoring_policies WHERE provenance = $1`, provenance).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading last %s policy: %w", provenance, err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time.UTC(), nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*policy.ScoringPolicy, error) {
	var p policy.ScoringPolicy
	err := row.Scan(
		&p.Version,
		&p.Weights.CategorySimilarity, &p.Weights.GeoScore, &p.Weights.ExchangeCompatibility, &p.Weights.BehaviorAffinity,
		&p.Weights.Freshness, &p.Weights.ConditionScore, &p.Weights.ReciprocalBoost,
		&p.Exploration.Randomness, &p.Exploration.ColdStartBoost, &p.Exploration.StaleItemPenalty,
		&p.Reciprocal.Priority, &p.Reciprocal.BoostCap,
		&p.Active, &p.Provenance, &p.Rationale, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
