package swipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a phase of the swipe lifecycle.
type State string

// Lifecycle states. EXHAUSTED is a stable state meaning "no candidates for
// the current source item right now"; it is neither a loading state nor
// an error.
const (
	StateIdle       State = "IDLE"
	StateLoading    State = "LOADING"
	StateReady      State = "READY"
	StateSwiping    State = "SWIPING"
	StateCommitting State = "COMMITTING"
	StateUndoing    State = "UNDOING"
	StateRefreshing State = "REFRESHING"
	StateExhausted  State = "EXHAUSTED"
	StatePaused     State = "PAUSED"
)

// allowedTransitions is the single source of truth for legal state changes.
// Anything not listed here is rejected with ErrInvalidTransition.
var allowedTransitions = map[State][]State{
	StateIdle:       {StateLoading},
	StateLoading:    {StateReady, StateExhausted, StateIdle},
	StateReady:      {StateSwiping, StateUndoing, StateExhausted, StatePaused},
	StateSwiping:    {StateCommitting, StateReady},
	StateCommitting: {StateReady},
	StateUndoing:    {StateReady},
	StateRefreshing: {StateReady, StateExhausted},
	StateExhausted:  {StateRefreshing},
	StatePaused:     {StateReady},
}

// Lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrCommitInFlight    = errors.New("a swipe commit is already in flight")
	ErrNoCandidate       = errors.New("no current candidate")
	ErrUndoNotEligible   = errors.New("undo not eligible for this item")
	ErrNoSourceItem      = errors.New("no source item selected")
)

// UndoWindow is the rolling eligibility window for undoing a swipe. Each
// item can be undone at most once per window, and decisions older than the
// window are no longer undoable.
const UndoWindow = 24 * time.Hour

// DefaultFetchLimit is the default candidate window size per refill.
const DefaultFetchLimit = 20

// Candidate is a ranked item offered to the swiper.
type Candidate struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// CandidateFetcher supplies ranked candidates for a source item. The
// expanded flag relaxes strict radius/category intent; the machine retries
// exactly once in expanded mode when a strict fetch comes back empty.
type CandidateFetcher interface {
	Fetch(ctx context.Context, sourceItemID string, limit int, expanded bool) ([]Candidate, error)
}

// EventRecorder persists swipe decisions and undoes them.
type EventRecorder interface {
	// Record appends a swipe event.
	Record(ctx context.Context, ev Event) error
	// Revoke reverses a previously recorded decision.
	Revoke(ctx context.Context, swiperItemID, swipedItemID string) error
}

// committedDecision is an undo-eligible history entry.
type committedDecision struct {
	candidate   Candidate
	liked       bool
	committedAt time.Time
}

// MachineConfig configures a lifecycle Machine.
type MachineConfig struct {
	Fetcher  CandidateFetcher
	Recorder EventRecorder
	// Impressions, when set, records each candidate as it is surfaced.
	Impressions *ImpressionLedger
	// FetchLimit bounds each candidate refill. Defaults to DefaultFetchLimit.
	FetchLimit int
	Logger     *slog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Machine is the per-client swipe lifecycle state machine. One instance
// exists per selected source item session. All user actions funnel through
// the transition table; the commit lock serializes the
// SWIPING→COMMITTING→READY critical section against overlapping gestures.
type Machine struct {
	mu sync.Mutex

	// commitMu is the single-slot, non-reentrant commit lock. Overlapping
	// commit attempts are rejected immediately rather than queued.
	commitMu sync.Mutex

	state        State
	sourceItemID string
	// session increments on every SelectSource. Operations that release
	// m.mu around persistence capture it and bail out on resume if a
	// switch reset the machine underneath them.
	session uint64
	pool    []Candidate
	history []committedDecision
	// undoLedger maps "source/swiped" to the time the undo was consumed.
	undoLedger map[string]time.Time

	fetcher     CandidateFetcher
	recorder    EventRecorder
	impressions *ImpressionLedger
	fetchLimit  int
	logger      *slog.Logger
	now         func() time.Time
}

// NewMachine creates a Machine in StateIdle.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{
		state:       StateIdle,
		undoLedger:  make(map[string]time.Time),
		fetcher:     cfg.Fetcher,
		recorder:    cfg.Recorder,
		impressions: cfg.Impressions,
		fetchLimit:  cfg.FetchLimit,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SourceItemID returns the currently selected source item, if any.
func (m *Machine) SourceItemID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceItemID
}

// Current returns the candidate at the head of the pool.
func (m *Machine) Current() (Candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pool) == 0 {
		return Candidate{}, false
	}
	return m.pool[0], true
}

// PoolSize returns the number of remaining candidates.
func (m *Machine) PoolSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// transition moves to the target state if the transition table allows it.
// Caller must hold m.mu.
func (m *Machine) transition(to State) error {
	for _, allowed := range allowedTransitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}

// SelectSource switches the machine to a new source item. Switching always
// resets to IDLE first, invalidating the previous item's candidate pool and
// undo history so exhaustion never leaks across item switches. The undo
// ledger survives the reset: it is keyed per (source, swiped) pair.
func (m *Machine) SelectSource(ctx context.Context, sourceItemID string) error {
	if sourceItemID == "" {
		return ErrNoSourceItem
	}

	m.mu.Lock()
	// Forced reset: a source switch abandons whatever was in progress.
	m.state = StateIdle
	m.sourceItemID = sourceItemID
	m.session++
	m.pool = nil
	m.history = nil

	if err := m.transition(StateLoading); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	return m.fill(ctx)
}

// Refresh retries candidate loading after exhaustion.
func (m *Machine) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.sourceItemID == "" {
		m.mu.Unlock()
		return ErrNoSourceItem
	}
	if err := m.transition(StateRefreshing); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	return m.fill(ctx)
}

// fill fetches candidates (strict first, expanded exactly once on an empty
// strict result) and lands in READY or EXHAUSTED. A fetch error from
// LOADING returns the machine to IDLE; from REFRESHING it lands in
// EXHAUSTED. Both are safe, retryable states.
func (m *Machine) fill(ctx context.Context) error {
	m.mu.Lock()
	source := m.sourceItemID
	session := m.session
	from := m.state
	limit := m.fetchLimit
	m.mu.Unlock()

	candidates, err := m.fetcher.Fetch(ctx, source, limit, false)
	if err == nil && len(candidates) == 0 {
		// Strict pool is empty: retry exactly once with expanded search.
		candidates, err = m.fetcher.Fetch(ctx, source, limit, true)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The source may have been switched while the fetch was in flight;
	// a stale fill must not clobber the new session.
	if m.session != session {
		return nil
	}

	if err != nil {
		if from == StateLoading {
			m.state = StateIdle
		} else {
			m.state = StateExhausted
		}
		m.logger.Error("candidate fetch failed",
			"source_item_id", source,
			"error", err)
		return fmt.Errorf("fetching candidates: %w", err)
	}

	if len(candidates) == 0 {
		return m.transition(StateExhausted)
	}

	m.pool = candidates
	if err := m.transition(StateReady); err != nil {
		return err
	}
	m.markShownLocked()
	return nil
}

// BeginSwipe starts a gesture on the current candidate.
func (m *Machine) BeginSwipe() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pool) == 0 {
		return ErrNoCandidate
	}
	return m.transition(StateSwiping)
}

// CancelSwipe aborts an in-progress gesture without a decision.
func (m *Machine) CancelSwipe() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSwiping {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, StateReady)
	}
	return m.transition(StateReady)
}

// CompleteSwipe commits the gesture's decision. The commit lock is
// acquired before the SWIPING→COMMITTING transition; if another commit is
// in flight the attempt is rejected immediately. The lock is released on
// every path, so a failed persistence always returns the machine to READY
// instead of leaving it stuck in COMMITTING.
func (m *Machine) CompleteSwipe(ctx context.Context, liked bool) error {
	if !m.commitMu.TryLock() {
		return ErrCommitInFlight
	}
	defer m.commitMu.Unlock()

	m.mu.Lock()
	if len(m.pool) == 0 {
		m.mu.Unlock()
		return ErrNoCandidate
	}
	candidate := m.pool[0]
	source := m.sourceItemID
	session := m.session
	if err := m.transition(StateCommitting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	ev := Event{
		SwiperItemID: source,
		SwipedItemID: candidate.ItemID,
		Liked:        liked,
		CreatedAt:    m.now().UTC(),
	}
	persistErr := m.recorder.Record(ctx, ev)

	m.mu.Lock()
	defer m.mu.Unlock()

	// A source switch while the commit was persisting reset the machine;
	// the resumed commit must not touch the new session's state. The
	// event, if persisted, stands on its own.
	if m.session != session {
		if persistErr != nil {
			return fmt.Errorf("persisting swipe: %w", persistErr)
		}
		return nil
	}

	if err := m.transition(StateReady); err != nil {
		return err
	}

	if persistErr != nil {
		// Decision not persisted: the candidate stays at the head of the
		// pool and the caller can retry.
		m.logger.Error("swipe commit failed",
			"source_item_id", source,
			"swiped_item_id", candidate.ItemID,
			"error", persistErr)
		return fmt.Errorf("persisting swipe: %w", persistErr)
	}

	m.pool = m.pool[1:]
	m.history = append(m.history, committedDecision{
		candidate:   candidate,
		liked:       liked,
		committedAt: ev.CreatedAt,
	})

	if len(m.pool) == 0 {
		return m.transition(StateExhausted)
	}
	m.markShownLocked()
	return nil
}

// Undo reverses the most recent committed decision. Each item allows one
// undo per rolling 24h window, tracked in a dedicated ledger, and
// decisions older than the window are no longer eligible.
func (m *Machine) Undo(ctx context.Context) error {
	m.mu.Lock()

	if len(m.history) == 0 {
		m.mu.Unlock()
		return ErrUndoNotEligible
	}

	last := m.history[len(m.history)-1]
	now := m.now().UTC()

	if now.Sub(last.committedAt) > UndoWindow {
		m.mu.Unlock()
		return fmt.Errorf("%w: decision older than %s", ErrUndoNotEligible, UndoWindow)
	}

	key := m.sourceItemID + "/" + last.candidate.ItemID
	if usedAt, ok := m.undoLedger[key]; ok && now.Sub(usedAt) <= UndoWindow {
		m.mu.Unlock()
		return fmt.Errorf("%w: already undone within %s", ErrUndoNotEligible, UndoWindow)
	}

	source := m.sourceItemID
	session := m.session
	if err := m.transition(StateUndoing); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	revokeErr := m.recorder.Revoke(ctx, source, last.candidate.ItemID)

	m.mu.Lock()
	defer m.mu.Unlock()

	// A source switch during the revoke reset the machine. The old
	// session's history and pool are gone; only the undo ledger, which
	// is keyed per (source, swiped) pair and survives switches, still
	// records that this undo was consumed.
	if m.session != session {
		if revokeErr != nil {
			return fmt.Errorf("revoking swipe: %w", revokeErr)
		}
		m.undoLedger[key] = now
		return nil
	}

	if err := m.transition(StateReady); err != nil {
		return err
	}

	if revokeErr != nil {
		m.logger.Error("undo failed",
			"source_item_id", source,
			"swiped_item_id", last.candidate.ItemID,
			"error", revokeErr)
		return fmt.Errorf("revoking swipe: %w", revokeErr)
	}

	m.undoLedger[key] = now
	m.history = m.history[:len(m.history)-1]
	// The undone candidate returns to the head of the pool.
	m.pool = append([]Candidate{last.candidate}, m.pool...)
	return nil
}

// Pause suspends the session.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(StatePaused)
}

// Resume returns a paused session to READY.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(StateReady)
}

// markShownLocked records an impression for the current head candidate.
// Caller must hold m.mu.
func (m *Machine) markShownLocked() {
	if m.impressions == nil || len(m.pool) == 0 {
		return
	}
	m.impressions.RecordShown(m.pool[0].ItemID, m.now().UTC())
}
