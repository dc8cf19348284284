// Package item provides the item model consumed by the matching engine and
// the item storage interface with an in-memory implementation.
package item

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/trueque-collective/trueque/internal/geo"
)

// Condition constants, ordered from best to worst.
const (
	ConditionNew     = "new"
	ConditionLikeNew = "like_new"
	ConditionGood    = "good"
	ConditionFair    = "fair"
)

// conditionScores maps each condition to its ordinal ranking score.
var conditionScores = map[string]float64{
	ConditionNew:     1.0,
	ConditionLikeNew: 0.875,
	ConditionGood:    0.75,
	ConditionFair:    0.5,
}

// DefaultConditionScore is used when an item carries an unknown condition.
const DefaultConditionScore = 0.5

// ErrItemNotFound is returned when an item id is unknown.
var ErrItemNotFound = errors.New("item not found")

// Item represents a listed barter item. The matching engine mutates only
// the ReciprocalBoost field; everything else is owned by the listing flow.
type Item struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Category  string     `json:"category"`
	Condition string     `json:"condition"`
	Location  *geo.Point `json:"location,omitempty"`
	// Geohash, when set by the listing flow, is the item's self-reported
	// coarse cell. CoarseLocation prefers it over encoding Location.
	Geohash  string `json:"geohash,omitempty"`
	ValueMin int    `json:"value_min"`
	ValueMax int    `json:"value_max"`
	// SwapPreferences is the set of categories the owner wants in exchange.
	SwapPreferences []string `json:"swap_preferences,omitempty"`
	// ReciprocalBoost is written only by the reciprocal optimizer.
	ReciprocalBoost float64   `json:"reciprocal_boost"`
	CreatedAt       time.Time `json:"created_at"`
}

// ConditionScore returns the ordinal ranking score for the item's condition.
func (i *Item) ConditionScore() float64 {
	if s, ok := conditionScores[i.Condition]; ok {
		return s
	}
	return DefaultConditionScore
}

// CoarseLocation returns the cell exposed on ranking surfaces instead of
// raw coordinates. A stored geohash is normalized and truncated to the
// privacy precision; otherwise the precise location is encoded at that
// precision. Items with no location data return "".
func (i *Item) CoarseLocation() string {
	if i.Geohash != "" {
		return geo.RoundGeohash(i.Geohash, geo.DefaultPrecision)
	}
	if i.Location == nil {
		return ""
	}
	return geo.Encode(i.Location.Lat, i.Location.Lng, geo.DefaultPrecision)
}

// WantsCategory reports whether the item's swap-preference set includes the
// given category. An empty preference set accepts nothing.
func (i *Item) WantsCategory(cat string) bool {
	for _, p := range i.SwapPreferences {
		if p == cat {
			return true
		}
	}
	return false
}

// Clone returns a copy of the item.
func (i *Item) Clone() *Item {
	cp := *i
	if i.Location != nil {
		loc := *i.Location
		cp.Location = &loc
	}
	cp.SwapPreferences = append([]string(nil), i.SwapPreferences...)
	return &cp
}

// CandidateFilter narrows the candidate pool for a ranking request.
type CandidateFilter struct {
	// ExcludeOwnerID drops items belonging to this owner.
	ExcludeOwnerID string
	// ExcludeItemIDs drops specific items (already swiped from the source).
	ExcludeItemIDs map[string]bool
	// Categories, when non-empty, restricts candidates to these categories
	// (strict-mode category intent).
	Categories []string
	// Center and RadiusKm, when set, restrict candidates to a distance
	// (strict-mode radius intent). Items without a location are kept.
	Center   *geo.Point
	RadiusKm float64
	// Limit bounds the number of returned candidates. Zero means no limit.
	Limit int
}

// Store provides read access to items plus the single write the matching
// engine performs: overwriting reciprocal boosts.
type Store interface {
	// GetByID returns an item by id. Returns ErrItemNotFound if unknown.
	GetByID(ctx context.Context, id string) (*Item, error)

	// ListCandidates returns items matching the filter, ordered by
	// creation time descending with id as tie-breaker.
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]*Item, error)

	// ListAll returns every item. Used by the offline optimizer.
	ListAll(ctx context.Context) ([]*Item, error)

	// SetReciprocalBoosts overwrites reciprocal boosts for the whole
	// inventory in one step: items present in boosts receive the given
	// value, every other item is reset to zero. This makes optimizer runs
	// idempotent; boosts never accumulate across runs.
	SetReciprocalBoosts(ctx context.Context, boosts map[string]float64) error
}

// InMemoryStore is an in-memory Store implementation. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]*Item)}
}

// Put inserts or replaces an item. Test and seeding helper.
func (s *InMemoryStore) Put(i *Item) {
	s.mu.Lock()
	s.items[i.ID] = i.Clone()
	s.mu.Unlock()
}

// GetByID returns an item by id.
func (s *InMemoryStore) GetByID(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return i.Clone(), nil
}

// ListCandidates returns items matching the filter.
func (s *InMemoryStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Item
	for _, i := range s.items {
		if filter.ExcludeOwnerID != "" && i.OwnerID == filter.ExcludeOwnerID {
			continue
		}
		if filter.ExcludeItemIDs[i.ID] {
			continue
		}
		if len(filter.Categories) > 0 && !containsString(filter.Categories, i.Category) {
			continue
		}
		if filter.Center != nil && filter.RadiusKm > 0 && i.Location != nil {
			if geo.HaversineKm(*filter.Center, *i.Location) > filter.RadiusKm {
				continue
			}
		}
		out = append(out, i.Clone())
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListAll returns every item.
func (s *InMemoryStore) ListAll(ctx context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, 0, len(s.items))
	for _, i := range s.items {
		out = append(out, i.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// SetReciprocalBoosts overwrites all reciprocal boosts.
func (s *InMemoryStore) SetReciprocalBoosts(ctx context.Context, boosts map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, i := range s.items {
		i.ReciprocalBoost = boosts[id]
	}
	return nil
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
