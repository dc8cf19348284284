// Package reciprocal implements the offline reciprocal optimizer: it
// learns per-user category affinities from swipe history, detects
// pairwise and three-way exchange opportunities, and writes reciprocal
// boosts back onto items for the realtime ranker to consume.
package reciprocal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Opportunity kinds.
const (
	KindPairwise = "pairwise"
	KindCycle    = "cycle"
)

// Opportunity is a detected exchange possibility between two or three
// users. Opportunities expire and are fully replaced on every optimizer
// run.
type Opportunity struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	UserIDs    []string  `json:"user_ids"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// OpportunityStore persists detected opportunities. Each optimizer run
// replaces the full set, so stale opportunities never accumulate.
type OpportunityStore interface {
	// ReplaceAll atomically swaps the stored set for the given one.
	ReplaceAll(ctx context.Context, opps []Opportunity) error

	// ListActive returns opportunities that have not expired at the given
	// time, ordered by confidence descending.
	ListActive(ctx context.Context, now time.Time) ([]Opportunity, error)
}

// AffinityStore persists learned per-user category affinities. It also
// serves the ranker's behavior-affinity term.
type AffinityStore interface {
	// ReplaceAll atomically swaps all learned affinities.
	ReplaceAll(ctx context.Context, perUser map[string]map[string]float64) error

	// CategoryAffinity returns the learned affinity of a user for a
	// category in [0, 1]. Unknown user or category returns 0 with nil
	// error (cold start).
	CategoryAffinity(ctx context.Context, userID, cat string) (float64, error)
}

// InMemoryOpportunityStore is an in-memory OpportunityStore. Thread-safe
// via RWMutex.
type InMemoryOpportunityStore struct {
	mu   sync.RWMutex
	opps []Opportunity
}

// NewInMemoryOpportunityStore creates an empty InMemoryOpportunityStore.
func NewInMemoryOpportunityStore() *InMemoryOpportunityStore {
	return &InMemoryOpportunityStore{}
}

// ReplaceAll atomically swaps the stored set.
func (s *InMemoryOpportunityStore) ReplaceAll(ctx context.Context, opps []Opportunity) error {
	cp := make([]Opportunity, len(opps))
	for i, o := range opps {
		cp[i] = o
		cp[i].UserIDs = append([]string(nil), o.UserIDs...)
	}

	s.mu.Lock()
	s.opps = cp
	s.mu.Unlock()
	return nil
}

// ListActive returns unexpired opportunities, confidence descending.
func (s *InMemoryOpportunityStore) ListActive(ctx context.Context, now time.Time) ([]Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Opportunity
	for _, o := range s.opps {
		if o.ExpiresAt.After(now) {
			cp := o
			cp.UserIDs = append([]string(nil), o.UserIDs...)
			out = append(out, cp)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Confidence != out[b].Confidence {
			return out[a].Confidence > out[b].Confidence
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

// InMemoryAffinityStore is an in-memory AffinityStore. Thread-safe via
// RWMutex.
type InMemoryAffinityStore struct {
	mu      sync.RWMutex
	perUser map[string]map[string]float64
}

// NewInMemoryAffinityStore creates an empty InMemoryAffinityStore.
func NewInMemoryAffinityStore() *InMemoryAffinityStore {
	return &InMemoryAffinityStore{perUser: make(map[string]map[string]float64)}
}

// ReplaceAll atomically swaps all learned affinities.
func (s *InMemoryAffinityStore) ReplaceAll(ctx context.Context, perUser map[string]map[string]float64) error {
	cp := make(map[string]map[string]float64, len(perUser))
	for user, cats := range perUser {
		inner := make(map[string]float64, len(cats))
		for cat, v := range cats {
			inner[cat] = v
		}
		cp[user] = inner
	}

	s.mu.Lock()
	s.perUser = cp
	s.mu.Unlock()
	return nil
}

// CategoryAffinity returns the learned affinity, 0 when unknown.
func (s *InMemoryAffinityStore) CategoryAffinity(ctx context.Context, userID, cat string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perUser[userID][cat], nil
}
