package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trueque-collective/trueque/internal/optimizer"
)

// SnapshotStore is the PostgreSQL optimizer.SnapshotStore
// implementation. Snapshots are append-only.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a SnapshotStore on the given pool.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Append stores a metric snapshot.
func (s *SnapshotStore) Append(ctx context.Context, snap optimizer.MetricSnapshot) error {
	categoryRates, err := json.Marshal(snap.CategoryLikeRate)
	if err != nil {
		return fmt.Errorf("encoding category like rates: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots (
			window_start, window_end, policy_version,
			swipe_count, like_count, like_rate,
			match_count, match_rate, category_like_rate, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snap.WindowStart, snap.WindowEnd, snap.PolicyVersion,
		snap.SwipeCount, snap.LikeCount, snap.LikeRate,
		snap.MatchCount, snap.MatchRate, categoryRates, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting metric snapshot: %w", err)
	}
	return nil
}

// List returns all snapshots, oldest first.
func (s *SnapshotStore) List(ctx context.Context) ([]optimizer.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT window_start, window_end, policy_version,
			swipe_count, like_count, like_rate,
			match_count, match_rate, category_like_rate, created_at
		FROM metric_snapshots ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing metric snapshots: %w", err)
	}
	defer rows.Close()

	var out []optimizer.MetricSnapshot
	for rows.Next() {
		var snap optimizer.MetricSnapshot
		var categoryRates []byte
		if err := rows.Scan(
			&snap.WindowStart, &snap.WindowEnd, &snap.PolicyVersion,
			&snap.SwipeCount, &snap.LikeCount, &snap.LikeRate,
			&snap.MatchCount, &snap.MatchRate, &categoryRates, &snap.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning metric snapshot: %w", err)
		}
		if err := json.Unmarshal(categoryRates, &snap.CategoryLikeRate); err != nil {
			return nil, fmt.Errorf("decoding category like rates: %w", err)
		}
		snap.WindowStart = snap.WindowStart.UTC()
		snap.WindowEnd = snap.WindowEnd.UTC()
		snap.CreatedAt = snap.CreatedAt.UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}
