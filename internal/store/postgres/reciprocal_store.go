package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/trueque-collective/trueque/internal/reciprocal"
)

// OpportunityStore is the PostgreSQL reciprocal.OpportunityStore
// implementation.
type OpportunityStore struct {
	db *sql.DB
}

// NewOpportunityStore creates an OpportunityStore on the given pool.
func NewOpportunityStore(db *sql.DB) *OpportunityStore {
	return &OpportunityStore{db: db}
}

// ReplaceAll atomically swaps the stored opportunity set for the given one.
func (s *OpportunityStore) ReplaceAll(ctx context.Context, opps []reciprocal.Opportunity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning opportunity swap: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reciprocal_opportunities`); err != nil {
		return fmt.Errorf("clearing opportunities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reciprocal_opportunities (id, kind, user_ids, confidence, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("preparing opportunity insert: %w", err)
	}
	defer stmt.Close()

	for _, opp := range opps {
		if _, err := stmt.ExecContext(ctx,
			opp.ID, opp.Kind, pq.Array(opp.UserIDs), opp.Confidence, opp.CreatedAt, opp.ExpiresAt); err != nil {
			return fmt.Errorf("inserting opportunity %s: %w", opp.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing opportunity swap: %w", err)
	}
	return nil
}

// ListActive returns unexpired opportunities ordered by confidence
// descending with id as tie-breaker.
func (s *OpportunityStore) ListActive(ctx context.Context, now time.Time) ([]reciprocal.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, user_ids, confidence, created_at, expires_at
		FROM reciprocal_opportunities
		WHERE expires_at > $1
		ORDER BY confidence DESC, id ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("listing opportunities: %w", err)
	}
	defer rows.Close()

	var out []reciprocal.Opportunity
	for rows.Next() {
		var opp reciprocal.Opportunity
		var users pq.StringArray
		if err := rows.Scan(&opp.ID, &opp.Kind, &users, &opp.Confidence, &opp.CreatedAt, &opp.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning opportunity: %w", err)
		}
		opp.UserIDs = []string(users)
		opp.CreatedAt = opp.CreatedAt.UTC()
		opp.ExpiresAt = opp.ExpiresAt.UTC()
		out = append(out, opp)
	}
	return out, rows.Err()
}

// AffinityStore is the PostgreSQL reciprocal.AffinityStore
// implementation. It also serves the ranker's behavior-affinity term.
type AffinityStore struct {
	db *sql.DB
}

// NewAffinityStore creates an AffinityStore on the given pool.
func NewAffinityStore(db *sql.DB) *AffinityStore {
	return &AffinityStore{db: db}
}

// ReplaceAll atomically swaps all learned affinities.
func (s *AffinityStore) ReplaceAll(ctx context.Context, perUser map[string]map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning affinity swap: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM category_affinities`); err != nil {
		return fmt.Errorf("clearing affinities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO category_affinities (user_id, category, affinity, updated_at)
		VALUES ($1, $2, $3, now())`)
	if err != nil {
		return fmt.Errorf("preparing affinity insert: %w", err)
	}
	defer stmt.Close()

	for userID, cats := range perUser {
		for cat, affinity := range cats {
			if _, err := stmt.ExecContext(ctx, userID, cat, affinity); err != nil {
				return fmt.Errorf("inserting affinity %s/%s: %w", userID, cat, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing affinity swap: %w", err)
	}
	return nil
}

// CategoryAffinity returns the learned affinity of a user for a category.
// Unknown user or category returns 0 with nil error (cold start).
func (s *AffinityStore) CategoryAffinity(ctx context.Context, userID, cat string) (float64, error) {
	var affinity float64
	err := s.db.QueryRowContext(ctx,
		`SELECT affinity FROM category_affinities WHERE user_id = $1 AND category = $2`,
		userID, cat).Scan(&affinity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading affinity %s/%s: %w", userID, cat, err)
	}
	return affinity, nil
}
