// Package optimizer implements the governance job that asks an external
// generator for a new scoring-policy proposal, validates it, and stores
// it inactive for a human to activate.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trueque-collective/trueque/internal/item"
	"github.com/trueque-collective/trueque/internal/swipe"
)

// MetricSnapshot is an aggregated, anonymized view of swipe behavior
// over a trailing window, tagged with the policy version that produced
// it. Snapshots are write-once and append-only; they feed the proposal
// generator and are never read by ranking.
type MetricSnapshot struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	// PolicyVersion is the active policy during collection.
	PolicyVersion string `json:"policy_version"`

	SwipeCount int     `json:"swipe_count"`
	LikeCount  int     `json:"like_count"`
	LikeRate   float64 `json:"like_rate"`
	// MatchCount is the number of mutual-like pairs inside the window.
	MatchCount int     `json:"match_count"`
	MatchRate  float64 `json:"match_rate"`
	// CategoryLikeRate is the like rate per swiped-item category.
	CategoryLikeRate map[string]float64 `json:"category_like_rate"`

	CreatedAt time.Time `json:"created_at"`
}

// SnapshotStore persists metric snapshots append-only.
type SnapshotStore interface {
	// Append stores a snapshot. Snapshots are never updated or deleted.
	Append(ctx context.Context, s MetricSnapshot) error

	// List returns all snapshots, oldest first.
	List(ctx context.Context) ([]MetricSnapshot, error)
}

// InMemorySnapshotStore is an in-memory SnapshotStore. Thread-safe via
// RWMutex.
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots []MetricSnapshot
}

// NewInMemorySnapshotStore creates an empty InMemorySnapshotStore.
func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{}
}

// Append stores a snapshot.
func (s *InMemorySnapshotStore) Append(ctx context.Context, snap MetricSnapshot) error {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
	return nil
}

// List returns all snapshots, oldest first.
func (s *InMemorySnapshotStore) List(ctx context.Context) ([]MetricSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MetricSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out, nil
}

// Collector aggregates swipe history into a MetricSnapshot.
type Collector struct {
	items  item.Store
	swipes swipe.Store
	window time.Duration
}

// NewCollector creates a Collector over the given trailing window.
func NewCollector(items item.Store, swipes swipe.Store, window time.Duration) *Collector {
	return &Collector{items: items, swipes: swipes, window: window}
}

// Collect builds a snapshot ending at now. The policy version tag is
// filled in by the caller.
func (c *Collector) Collect(ctx context.Context, now time.Time) (*MetricSnapshot, error) {
	start := now.Add(-c.window)
	events, err := c.swipes.ListSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("loading swipe history: %w", err)
	}

	all, err := c.items.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	categoryOf := make(map[string]string, len(all))
	for _, i := range all {
		categoryOf[i.ID] = i.Category
	}

	snap := &MetricSnapshot{
		WindowStart:      start,
		WindowEnd:        now,
		CreatedAt:        now,
		CategoryLikeRate: make(map[string]float64),
	}

	type tally struct{ likes, total int }
	perCategory := make(map[string]*tally)
	liked := make(map[string]bool, len(events))

	for _, ev := range events {
		snap.SwipeCount++
		if ev.Liked {
			snap.LikeCount++
			liked[ev.SwiperItemID+"/"+ev.SwipedItemID] = true
		}
		if cat, ok := categoryOf[ev.SwipedItemID]; ok {
			t := perCategory[cat]
			if t == nil {
				t = &tally{}
				perCategory[cat] = t
			}
			t.total++
			if ev.Liked {
				t.likes++
			}
		}
	}

	// A match is a mutual like between two items. Count each pair once.
	for _, ev := range events {
		if ev.Liked && ev.SwiperItemID < ev.SwipedItemID && liked[ev.SwipedItemID+"/"+ev.SwiperItemID] {
			snap.MatchCount++
		}
	}

	if snap.SwipeCount > 0 {
		snap.LikeRate = float64(snap.LikeCount) / float64(snap.SwipeCount)
		snap.MatchRate = float64(snap.MatchCount) / float64(snap.SwipeCount)
	}
	for cat, t := range perCategory {
		snap.CategoryLikeRate[cat] = float64(t.likes) / float64(t.total)
	}
	return snap, nil
}

// categoriesSorted returns the snapshot's category keys in stable order,
// used for bounded prompt construction.
func (s *MetricSnapshot) categoriesSorted() []string {
	cats := make([]string, 0, len(s.CategoryLikeRate))
	for c := range s.CategoryLikeRate {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
