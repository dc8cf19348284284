package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/trueque-collective/trueque/internal/geo"
	"github.com/trueque-collective/trueque/internal/item"
)

// itemColumns is the select list shared by every item query.
const itemColumns = `id, owner_id, category, condition, lat, lng,
	value_min, value_max, swap_preferences, reciprocal_boost, created_at`

// ItemStore is the PostgreSQL item.Store implementation.
type ItemStore struct {
	db *sql.DB
}

// NewItemStore creates an ItemStore on the given connection pool.
func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

// Put inserts or replaces an item. Seeding helper mirroring the
// in-memory store; listing flows own item writes in production.
func (s *ItemStore) Put(ctx context.Context, i *item.Item) error {
	var lat, lng sql.NullFloat64
	if i.Location != nil {
		lat = sql.NullFloat64{Float64: i.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: i.Location.Lng, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, owner_id, category, condition, lat, lng,
			value_min, value_max, swap_preferences, reciprocal_boost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			category = EXCLUDED.category,
			condition = EXCLUDED.condition,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			value_min = EXCLUDED.value_min,
			value_max = EXCLUDED.value_max,
			swap_preferences = EXCLUDED.swap_preferences,
			reciprocal_boost = EXCLUDED.reciprocal_boost,
			created_at = EXCLUDED.created_at`,
		i.ID, i.OwnerID, i.Category, i.Condition, lat, lng,
		i.ValueMin, i.ValueMax, pq.Array(i.SwapPreferences), i.ReciprocalBoost, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting item %s: %w", i.ID, err)
	}
	return nil
}

// GetByID returns an item by id.
func (s *ItemStore) GetByID(ctx context.Context, id string) (*item.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	i, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, item.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading item %s: %w", id, err)
	}
	return i, nil
}

// ListCandidates returns items matching the filter, ordered by creation
// time descending with id as tie-breaker. Owner, swiped-item, and
// category intent are pushed into SQL; the radius intent is applied
// afterwards because distance is a Haversine computation and items
// without a location are kept.
func (s *ItemStore) ListCandidates(ctx context.Context, filter item.CandidateFilter) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE TRUE`
	var args []any

	if filter.ExcludeOwnerID != "" {
		args = append(args, filter.ExcludeOwnerID)
		query += fmt.Sprintf(" AND owner_id <> $%d", len(args))
	}
	if len(filter.ExcludeItemIDs) > 0 {
		ids := make([]string, 0, len(filter.ExcludeItemIDs))
		for id := range filter.ExcludeItemIDs {
			ids = append(ids, id)
		}
		args = append(args, pq.Array(ids))
		query += fmt.Sprintf(" AND id <> ALL($%d)", len(args))
	}
	if len(filter.Categories) > 0 {
		args = append(args, pq.Array(filter.Categories))
		query += fmt.Sprintf(" AND category = ANY($%d)", len(args))
	}

	query += " ORDER BY created_at DESC, id ASC"

	radiusFiltered := filter.Center != nil && filter.RadiusKm > 0
	if filter.Limit > 0 && !radiusFiltered {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	defer rows.Close()

	var out []*item.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		if radiusFiltered && i.Location != nil {
			if geo.HaversineKm(*filter.Center, *i.Location) > filter.RadiusKm {
				continue
			}
		}
		out = append(out, i)
		if filter.Limit > 0 && radiusFiltered && len(out) >= filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

// ListAll returns every item ordered by id.
func (s *ItemStore) ListAll(ctx context.Context) ([]*item.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []*item.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SetReciprocalBoosts overwrites reciprocal boosts for the whole
// inventory in one transaction: items in the map get the given value,
// everything else is reset to zero.
func (s *ItemStore) SetReciprocalBoosts(ctx context.Context, boosts map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning boost update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE items SET reciprocal_boost = 0 WHERE reciprocal_boost <> 0`); err != nil {
		return fmt.Errorf("resetting boosts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE items SET reciprocal_boost = $1 WHERE id = $2`)
	if err != nil {
		return fmt.Errorf("preparing boost update: %w", err)
	}
	defer stmt.Close()

	for id, boost := range boosts {
		if _, err := stmt.ExecContext(ctx, boost, id); err != nil {
			return fmt.Errorf("boosting item %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing boost update: %w", err)
	}
	return nil
}

func scanItem(row scanner) (*item.Item, error) {
	var i item.Item
	var lat, lng sql.NullFloat64
	var prefs pq.StringArray
	err := row.Scan(
		&i.ID, &i.OwnerID, &i.Category, &i.Condition, &lat, &lng,
		&i.ValueMin, &i.ValueMax, &prefs, &i.ReciprocalBoost, &i.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		i.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	i.SwapPreferences = []string(prefs)
	i.CreatedAt = i.CreatedAt.UTC()
	return &i, nil
}
