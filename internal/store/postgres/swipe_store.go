package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trueque-collective/trueque/internal/swipe"
)

// SwipeStore is the PostgreSQL swipe.Store implementation. Events are
// append-only; there is no update or delete path.
type SwipeStore struct {
	db *sql.DB
}

// NewSwipeStore creates a SwipeStore on the given connection pool.
func NewSwipeStore(db *sql.DB) *SwipeStore {
	return &SwipeStore{db: db}
}

// Append records a new swipe event.
func (s *SwipeStore) Append(ctx context.Context, ev swipe.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swipe_events (swiper_item_id, swiped_item_id, liked, created_at)
		VALUES ($1, $2, $3, $4)`,
		ev.SwiperItemID, ev.SwipedItemID, ev.Liked, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending swipe event: %w", err)
	}
	return nil
}

// ListBySwiper returns all events made from the given source item.
func (s *SwipeStore) ListBySwiper(ctx context.Context, swiperItemID string) ([]swipe.Event, error) {
	return s.list(ctx, `
		SELECT swiper_item_id, swiped_item_id, liked, created_at
		FROM swipe_events WHERE swiper_item_id = $1 ORDER BY created_at, id`, swiperItemID)
}

// ListSince returns all events created at or after the cutoff.
func (s *SwipeStore) ListSince(ctx context.Context, cutoff time.Time) ([]swipe.Event, error) {
	return s.list(ctx, `
		SELECT swiper_item_id, swiped_item_id, liked, created_at
		FROM swipe_events WHERE created_at >= $1 ORDER BY created_at, id`, cutoff)
}

// CountSince returns the number of events created at or after the cutoff.
func (s *SwipeStore) CountSince(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM swipe_events WHERE created_at >= $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting swipe events: %w", err)
	}
	return n, nil
}

func (s *SwipeStore) list(ctx context.Context, query string, args ...any) ([]swipe.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing swipe events: %w", err)
	}
	defer rows.Close()

	var out []swipe.Event
	for rows.Next() {
		var ev swipe.Event
		if err := rows.Scan(&ev.SwiperItemID, &ev.SwipedItemID, &ev.Liked, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning swipe event: %w", err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
