package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists scoring policies and enforces the single-active-version
// invariant. Policies are immutable once created; Activate is the only
// operation that changes stored state, and it swaps the active flag
// atomically so readers never observe zero or two active policies.
type Store interface {
	// Create persists a new, inactive policy version. The Active flag on
	// the input is ignored; activation is always a separate operation.
	// Returns ErrPolicyExists if the version is already stored.
	Create(ctx context.Context, p *ScoringPolicy) error

	// GetActive returns the currently active policy.
	// Returns ErrNoActivePolicy if none has been activated.
	GetActive(ctx context.Context) (*ScoringPolicy, error)

	// GetByVersion returns a policy by its version string.
	// Returns ErrPolicyNotFound if the version is unknown.
	GetByVersion(ctx context.Context, version string) (*ScoringPolicy, error)

	// List returns all stored policies ordered by creation time descending.
	List(ctx context.Context) ([]*ScoringPolicy, error)

	// Activate atomically makes the given version the single active policy,
	// deactivating the previous one in the same step. Activating the
	// already-active version is a no-op. Returns ErrPolicyNotFound if the
	// version is unknown.
	Activate(ctx context.Context, version string) error

	// LastCreatedByProvenance returns the creation time of the most recent
	// policy with the given provenance. The zero time and nil error are
	// returned when no such policy exists.
	LastCreatedByProvenance(ctx context.Context, provenance string) (time.Time, error)
}

// InMemoryStore is an in-memory Store implementation for unit tests and
// single-process deployments. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu            sync.RWMutex
	policies      map[string]*ScoringPolicy
	activeVersion string
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		policies: make(map[string]*ScoringPolicy),
	}
}

// Create persists a new, inactive policy version.
func (s *InMemoryStore) Create(ctx context.Context, p *ScoringPolicy) error {
	if !ValidVersion(p.Version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, p.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[p.Version]; exists {
		return fmt.Errorf("%w: %s", ErrPolicyExists, p.Version)
	}

	stored := p.Clone()
	stored.Active = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.policies[p.Version] = stored
	return nil
}

// GetActive returns the currently active policy.
func (s *InMemoryStore) GetActive(ctx context.Context) (*ScoringPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeVersion == "" {
		return nil, ErrNoActivePolicy
	}
	p, ok := s.policies[s.activeVersion]
	if !ok {
		return nil, ErrNoActivePolicy
	}
	return p.Clone(), nil
}

// GetByVersion returns a policy by version.
func (s *InMemoryStore) GetByVersion(ctx context.Context, version string) (*ScoringPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, version)
	}
	return p.Clone(), nil
}

// List returns all policies ordered by creation time descending, with
// version as a stable tie-breaker.
func (s *InMemoryStore) List(ctx context.Context) ([]*ScoringPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ScoringPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

// Activate atomically swaps the active version. The previous active policy
// is deactivated and the target activated under a single lock, so no
// reader ever observes zero or two active policies.
func (s *InMemoryStore) Activate(ctx context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.policies[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, version)
	}

	if s.activeVersion == version {
		return nil // idempotent
	}

	if s.activeVersion != "" {
		if prev, ok := s.policies[s.activeVersion]; ok {
			prev.Active = false
		}
	}
	target.Active = true
	s.activeVersion = version
	return nil
}

// LastCreatedByProvenance returns the newest creation time among policies
// with the given provenance.
func (s *InMemoryStore) LastCreatedByProvenance(ctx context.Context, provenance string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, p := range s.policies {
		if p.Provenance == provenance && p.CreatedAt.After(last) {
			last = p.CreatedAt
		}
	}
	return last, nil
}
