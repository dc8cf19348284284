package reciprocal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trueque-collective/trueque/internal/item"
	"github.com/trueque-collective/trueque/internal/runlock"
	"github.com/trueque-collective/trueque/internal/swipe"
	"github.com/trueque-collective/trueque/internal/tracing"
)

// Defaults for the optimizer configuration.
const (
	// DefaultRunInterval is the minimum time between optimizer runs.
	DefaultRunInterval = 24 * time.Hour
	// DefaultConfidenceThreshold is the minimum confidence for an
	// opportunity to be kept.
	DefaultConfidenceThreshold = 0.3
	// DefaultTopOpportunities bounds how many opportunities are persisted
	// per run.
	DefaultTopOpportunities = 50
	// DefaultMaxUsers caps the users considered by cycle detection.
	DefaultMaxUsers = 200
	// DefaultMaxEdgesPerUser caps outgoing edges per user during cycle
	// detection.
	DefaultMaxEdgesPerUser = 8
	// DefaultOpportunityTTL is how long a detected opportunity stays
	// active. Two run intervals, so a missed run does not blank the set.
	DefaultOpportunityTTL = 48 * time.Hour
)

// Directional-score blend. Stated preferences dominate; learned
// affinity refines within them.
const (
	prefWeight     = 0.7
	affinityWeight = 0.3
)

// runLockKey names the optimizer's single-flight lock.
const runLockKey = "reciprocal_optimize"

// ErrRateLimited is returned when a run is attempted inside the
// minimum run interval.
var ErrRateLimited = errors.New("reciprocal optimizer rate limited")

// Config tunes the optimizer.
type Config struct {
	RunInterval         time.Duration
	HistoryWindow       time.Duration
	ConfidenceThreshold float64
	TopOpportunities    int
	MaxUsers            int
	MaxEdgesPerUser     int
	OpportunityTTL      time.Duration
	Logger              *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = DefaultRunInterval
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.TopOpportunities <= 0 {
		c.TopOpportunities = DefaultTopOpportunities
	}
	if c.MaxUsers <= 0 {
		c.MaxUsers = DefaultMaxUsers
	}
	if c.MaxEdgesPerUser <= 0 {
		c.MaxEdgesPerUser = DefaultMaxEdgesPerUser
	}
	if c.OpportunityTTL <= 0 {
		c.OpportunityTTL = DefaultOpportunityTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Summary reports what a single optimizer run did.
type Summary struct {
	Users        int           `json:"users"`
	Pairwise     int           `json:"pairwise"`
	Cycles       int           `json:"cycles"`
	Kept         int           `json:"kept"`
	BoostedItems int           `json:"boosted_items"`
	Duration     time.Duration `json:"duration"`
}

// Optimizer runs the offline reciprocal analysis. It is the single
// writer of item reciprocal boosts: every run replaces the full boost
// set and the full opportunity set, so repeated runs over unchanged
// data produce identical state.
type Optimizer struct {
	items         item.Store
	swipes        swipe.Store
	affinities    AffinityStore
	opportunities OpportunityStore
	lock          runlock.Lock
	metrics       *Metrics
	cfg           Config
}

// New creates an Optimizer. The lock may be nil, which disables rate
// limiting (one-shot batch invocations). Metrics may be nil.
func New(items item.Store, swipes swipe.Store, affinities AffinityStore, opportunities OpportunityStore, lock runlock.Lock, metrics *Metrics, cfg Config) *Optimizer {
	return &Optimizer{
		items:         items,
		swipes:        swipes,
		affinities:    affinities,
		opportunities: opportunities,
		lock:          lock,
		metrics:       metrics,
		cfg:           cfg.withDefaults(),
	}
}

// inventory is one user's side of the exchange graph.
type inventory struct {
	userID string
	items  []*item.Item
	wants  map[string]bool
}

// edge is a directed exchange-satisfaction score between two users.
type edge struct {
	to     string
	weight float64
}

// Run executes one optimizer pass: learn affinities, score user pairs,
// detect two- and three-party opportunities, persist the top set, and
// overwrite item boosts. Returns ErrRateLimited (wrapped, with the
// remaining wait) when called inside the run interval.
func (o *Optimizer) Run(ctx context.Context) (*Summary, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "reciprocal_optimize")
	start := time.Now()
	var runErr error
	defer func() {
		endSpan(runErr)
		if o.metrics != nil {
			o.metrics.ObserveRunDuration(time.Since(start).Seconds())
		}
	}()

	if o.lock != nil {
		ok, remaining, err := o.lock.TryAcquire(ctx, runLockKey, o.cfg.RunInterval)
		if err != nil {
			runErr = fmt.Errorf("acquiring run lock: %w", err)
			o.countError()
			return nil, runErr
		}
		if !ok {
			runErr = fmt.Errorf("%w: next run allowed in %s", ErrRateLimited, remaining.Round(time.Second))
			return nil, runErr
		}
	}
	if o.metrics != nil {
		o.metrics.IncRuns()
	}

	now := time.Now().UTC()

	learner := NewLearner(o.items, o.swipes, o.cfg.HistoryWindow)
	affinities, err := learner.Learn(ctx, now)
	if err != nil {
		runErr = err
		o.countError()
		return nil, runErr
	}
	if err := o.affinities.ReplaceAll(ctx, affinities); err != nil {
		runErr = fmt.Errorf("storing affinities: %w", err)
		o.countError()
		return nil, runErr
	}

	all, err := o.items.ListAll(ctx)
	if err != nil {
		runErr = fmt.Errorf("loading items: %w", err)
		o.countError()
		return nil, runErr
	}

	users := buildInventories(all, o.cfg.MaxUsers)
	edges := o.buildEdges(users, affinities)

	opps := o.detectPairwise(users, edges, now)
	pairwise := len(opps)
	cycles := o.detectCycles(users, edges, now)
	opps = append(opps, cycles...)

	sort.SliceStable(opps, func(a, b int) bool {
		if opps[a].Confidence != opps[b].Confidence {
			return opps[a].Confidence > opps[b].Confidence
		}
		return cycleKey(opps[a].UserIDs) < cycleKey(opps[b].UserIDs)
	})
	if len(opps) > o.cfg.TopOpportunities {
		opps = opps[:o.cfg.TopOpportunities]
	}

	if err := o.opportunities.ReplaceAll(ctx, opps); err != nil {
		runErr = fmt.Errorf("storing opportunities: %w", err)
		o.countError()
		return nil, runErr
	}

	boosts := deriveBoosts(users, opps)
	if err := o.items.SetReciprocalBoosts(ctx, boosts); err != nil {
		runErr = fmt.Errorf("writing boosts: %w", err)
		o.countError()
		return nil, runErr
	}

	sum := &Summary{
		Users:        len(users),
		Pairwise:     pairwise,
		Cycles:       len(cycles),
		Kept:         len(opps),
		BoostedItems: len(boosts),
		Duration:     time.Since(start),
	}
	if o.metrics != nil {
		o.metrics.SetOpportunities(float64(sum.Kept))
		o.metrics.SetBoostedItems(float64(sum.BoostedItems))
	}
	o.cfg.Logger.Info("reciprocal optimizer run complete",
		"users", sum.Users,
		"pairwise", sum.Pairwise,
		"cycles", sum.Cycles,
		"kept", sum.Kept,
		"boosted_items", sum.BoostedItems,
		"duration", sum.Duration)
	return sum, nil
}

func (o *Optimizer) countError() {
	if o.metrics != nil {
		o.metrics.IncRunErrors()
	}
}

// buildInventories groups items by owner and caps the user set. Users
// with larger inventories are kept first so the cap drops the least
// connected participants.
func buildInventories(all []*item.Item, maxUsers int) []*inventory {
	byOwner := make(map[string]*inventory)
	for _, i := range all {
		inv := byOwner[i.OwnerID]
		if inv == nil {
			inv = &inventory{userID: i.OwnerID, wants: make(map[string]bool)}
			byOwner[i.OwnerID] = inv
		}
		inv.items = append(inv.items, i)
		for _, c := range i.SwapPreferences {
			inv.wants[c] = true
		}
	}

	users := make([]*inventory, 0, len(byOwner))
	for _, inv := range byOwner {
		users = append(users, inv)
	}
	sort.Slice(users, func(a, b int) bool {
		if len(users[a].items) != len(users[b].items) {
			return len(users[a].items) > len(users[b].items)
		}
		return users[a].userID < users[b].userID
	})
	if len(users) > maxUsers {
		users = users[:maxUsers]
	}
	return users
}

// directional scores how well A's inventory satisfies B: the fraction
// of A's items whose category B explicitly wants, blended with B's
// learned affinity for those items' categories.
func directional(a, b *inventory, affinities map[string]map[string]float64) float64 {
	if len(a.items) == 0 {
		return 0
	}
	wanted := 0
	affinitySum := 0.0
	for _, i := range a.items {
		if b.wants[i.Category] {
			wanted++
		}
		affinitySum += affinities[b.userID][i.Category]
	}
	n := float64(len(a.items))
	return prefWeight*(float64(wanted)/n) + affinityWeight*(affinitySum/n)
}

// buildEdges computes the directed exchange graph, keeping only the
// strongest outgoing edges per user.
func (o *Optimizer) buildEdges(users []*inventory, affinities map[string]map[string]float64) map[string][]edge {
	edges := make(map[string][]edge, len(users))
	for _, a := range users {
		var out []edge
		for _, b := range users {
			if a.userID == b.userID {
				continue
			}
			if w := directional(a, b, affinities); w > 0 {
				out = append(out, edge{to: b.userID, weight: w})
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].weight != out[j].weight {
				return out[i].weight > out[j].weight
			}
			return out[i].to < out[j].to
		})
		if len(out) > o.cfg.MaxEdgesPerUser {
			out = out[:o.cfg.MaxEdgesPerUser]
		}
		edges[a.userID] = out
	}
	return edges
}

func edgeWeight(edges map[string][]edge, from, to string) (float64, bool) {
	for _, e := range edges[from] {
		if e.to == to {
			return e.weight, true
		}
	}
	return 0, false
}

// detectPairwise finds two-party opportunities: the confidence is the
// geometric mean of both directional scores, so a one-sided match
// scores low and an absent direction scores zero.
func (o *Optimizer) detectPairwise(users []*inventory, edges map[string][]edge, now time.Time) []Opportunity {
	var out []Opportunity
	for i, a := range users {
		for _, b := range users[i+1:] {
			ab, okAB := edgeWeight(edges, a.userID, b.userID)
			ba, okBA := edgeWeight(edges, b.userID, a.userID)
			if !okAB || !okBA {
				continue
			}
			conf := math.Sqrt(ab * ba)
			if conf < o.cfg.ConfidenceThreshold {
				continue
			}
			out = append(out, Opportunity{
				ID:         uuid.NewString(),
				Kind:       KindPairwise,
				UserIDs:    []string{a.userID, b.userID},
				Confidence: conf,
				CreatedAt:  now,
				ExpiresAt:  now.Add(o.cfg.OpportunityTTL),
			})
		}
	}
	return out
}

// detectCycles finds three-party opportunities: directed cycles
// A->B->C->A in the pruned edge graph. Confidence is the geometric
// mean of the three edge weights. Each cycle is emitted once, rotated
// so its lexicographically smallest user comes first.
func (o *Optimizer) detectCycles(users []*inventory, edges map[string][]edge, now time.Time) []Opportunity {
	seen := make(map[string]bool)
	var out []Opportunity
	for _, a := range users {
		for _, ab := range edges[a.userID] {
			if ab.to == a.userID {
				continue
			}
			for _, bc := range edges[ab.to] {
				if bc.to == a.userID || bc.to == ab.to {
					continue
				}
				ca, ok := edgeWeight(edges, bc.to, a.userID)
				if !ok {
					continue
				}
				cycle := canonicalCycle(a.userID, ab.to, bc.to)
				key := cycleKey(cycle)
				if seen[key] {
					continue
				}
				seen[key] = true

				conf := math.Cbrt(ab.weight * bc.weight * ca)
				if conf < o.cfg.ConfidenceThreshold {
					continue
				}
				out = append(out, Opportunity{
					ID:         uuid.NewString(),
					Kind:       KindCycle,
					UserIDs:    cycle,
					Confidence: conf,
					CreatedAt:  now,
					ExpiresAt:  now.Add(o.cfg.OpportunityTTL),
				})
			}
		}
	}
	return out
}

// canonicalCycle rotates the cycle so the smallest user id leads,
// preserving direction.
func canonicalCycle(a, b, c string) []string {
	switch {
	case a <= b && a <= c:
		return []string{a, b, c}
	case b <= a && b <= c:
		return []string{b, c, a}
	default:
		return []string{c, a, b}
	}
}

func cycleKey(ids []string) string {
	key := ""
	for _, id := range ids {
		key += id + "|"
	}
	return key
}

// deriveBoosts turns the kept opportunities into per-item boosts: for
// every pair of participants in an opportunity, items one side owns
// that the other side wants get boosted by the opportunity's
// confidence. Overlapping opportunities keep the highest value, capped
// at 1. The returned map is a full replacement set.
func deriveBoosts(users []*inventory, opps []Opportunity) map[string]float64 {
	byID := make(map[string]*inventory, len(users))
	for _, u := range users {
		byID[u.userID] = u
	}

	boosts := make(map[string]float64)
	for _, opp := range opps {
		for _, ownerID := range opp.UserIDs {
			owner := byID[ownerID]
			if owner == nil {
				continue
			}
			for _, counterpartID := range opp.UserIDs {
				if counterpartID == ownerID {
					continue
				}
				counterpart := byID[counterpartID]
				if counterpart == nil {
					continue
				}
				for _, i := range owner.items {
					if !counterpart.wants[i.Category] {
						continue
					}
					v := opp.Confidence
					if v > 1 {
						v = 1
					}
					if v > boosts[i.ID] {
						boosts[i.ID] = v
					}
				}
			}
		}
	}
	return boosts
}
