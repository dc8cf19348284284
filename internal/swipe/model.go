// Package swipe provides the append-only swipe event model, impression
// tracking, and the client-side swipe lifecycle state machine.
package swipe

import (
	"context"
	"sync"
	"time"
)

// Event records a single swipe decision. Events are append-only and
// immutable once written. A mutual pair of liked events between two items
// is the precondition for a match; match detection itself lives outside
// the engine, but ranking relies on that reciprocity invariant.
type Event struct {
	SwiperItemID string    `json:"swiper_item_id"`
	SwipedItemID string    `json:"swiped_item_id"`
	Liked        bool      `json:"liked"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists swipe events.
type Store interface {
	// Append records a new swipe event.
	Append(ctx context.Context, ev Event) error

	// ListBySwiper returns all events made from the given source item.
	ListBySwiper(ctx context.Context, swiperItemID string) ([]Event, error)

	// ListSince returns all events created at or after the cutoff.
	ListSince(ctx context.Context, cutoff time.Time) ([]Event, error)

	// CountSince returns the number of events created at or after the cutoff.
	CountSince(ctx context.Context, cutoff time.Time) (int, error)
}

// InMemoryStore is an in-memory Store implementation. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append records a new swipe event.
func (s *InMemoryStore) Append(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}

// ListBySwiper returns all events made from the given source item.
func (s *InMemoryStore) ListBySwiper(ctx context.Context, swiperItemID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if ev.SwiperItemID == swiperItemID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListSince returns all events created at or after the cutoff.
func (s *InMemoryStore) ListSince(ctx context.Context, cutoff time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if !ev.CreatedAt.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// CountSince returns the number of events created at or after the cutoff.
func (s *InMemoryStore) CountSince(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ev := range s.events {
		if !ev.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// ImpressionLedger tracks when and how often items were shown to swipers.
// The ranker reads it for cold-start boosts and staleness penalties.
// Thread-safe via RWMutex.
type ImpressionLedger struct {
	mu        sync.RWMutex
	counts    map[string]int
	lastShown map[string]time.Time
}

// NewImpressionLedger creates an empty ImpressionLedger.
func NewImpressionLedger() *ImpressionLedger {
	return &ImpressionLedger{
		counts:    make(map[string]int),
		lastShown: make(map[string]time.Time),
	}
}

// RecordShown notes that an item was presented to a swiper.
func (l *ImpressionLedger) RecordShown(itemID string, at time.Time) {
	l.mu.Lock()
	l.counts[itemID]++
	l.lastShown[itemID] = at
	l.mu.Unlock()
}

// Count returns how many times an item has been shown.
func (l *ImpressionLedger) Count(itemID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[itemID]
}

// LastShown returns when the item was last shown. The zero time means the
// item has never been shown.
func (l *ImpressionLedger) LastShown(itemID string) time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastShown[itemID]
}
