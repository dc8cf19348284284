// Package ranker implements the realtime candidate ranking for swipe
// sessions. Scores combine the active policy's weighted terms with a
// bounded exploration perturbation; ordering is deterministic for a given
// candidate set, policy, and random seed.
package ranker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/trueque-collective/trueque/internal/category"
	"github.com/trueque-collective/trueque/internal/geo"
	"github.com/trueque-collective/trueque/internal/item"
	"github.com/trueque-collective/trueque/internal/policy"
	"github.com/trueque-collective/trueque/internal/swipe"
	"github.com/trueque-collective/trueque/internal/tracing"
)

// Defaults for the scoring configuration.
const (
	// DefaultSigmaKm is the Gaussian decay width for the geo term.
	DefaultSigmaKm = 50.0
	// DefaultStrictRadiusKm bounds strict-mode candidate search.
	DefaultStrictRadiusKm = 100.0
	// DefaultColdStartImpressions is the impression count below which an
	// item receives the cold-start boost.
	DefaultColdStartImpressions = 5
	// DefaultStaleAfter is how long since last shown before the staleness
	// penalty applies.
	DefaultStaleAfter = 72 * time.Hour
	// PartialExchangeCredit is the exchange-compatibility score when only
	// one direction of the preference check matches.
	PartialExchangeCredit = 0.5
)

// Ranked is a single score-annotated ranking entry. Location is the
// candidate's coarse geohash cell; raw coordinates never leave the ranker.
type Ranked struct {
	ItemID   string  `json:"item_id"`
	Score    float64 `json:"score"`
	Location string  `json:"location,omitempty"`
}

// Request describes one ranking invocation.
type Request struct {
	SourceItemID string
	Limit        int
	// ExpandedSearch relaxes the strict radius/category intent. The caller
	// (the swipe lifecycle) retries exactly once in expanded mode when a
	// strict request returns nothing.
	ExpandedSearch bool
}

// AffinitySource provides learned per-user category affinities. A zero
// value with nil error means the affinity has not been learned yet
// (cold start).
type AffinitySource interface {
	CategoryAffinity(ctx context.Context, userID, cat string) (float64, error)
}

// ImpressionSource reports item exposure for cold-start and staleness terms.
type ImpressionSource interface {
	Count(itemID string) int
	LastShown(itemID string) time.Time
}

// Config tunes the scoring terms.
type Config struct {
	SigmaKm              float64
	StrictRadiusKm       float64
	ColdStartImpressions int
	StaleAfter           time.Duration
	// Seed fixes the exploration RNG for deterministic output. Zero means
	// seed from the clock per request.
	Seed   int64
	Logger *slog.Logger
}

// Ranker scores and orders candidate items for a source item. It is
// stateless and safe for concurrent use; the active policy is re-read
// from the store on every request so a newly activated version takes
// effect immediately.
type Ranker struct {
	policies    policy.Store
	items       item.Store
	swipes      swipe.Store
	affinities  AffinitySource
	impressions ImpressionSource
	metrics     *Metrics
	cfg         Config
}

// New creates a Ranker. Metrics may be nil.
func New(policies policy.Store, items item.Store, swipes swipe.Store, affinities AffinitySource, impressions ImpressionSource, metrics *Metrics, cfg Config) *Ranker {
	if cfg.SigmaKm <= 0 {
		cfg.SigmaKm = DefaultSigmaKm
	}
	if cfg.StrictRadiusKm <= 0 {
		cfg.StrictRadiusKm = DefaultStrictRadiusKm
	}
	if cfg.ColdStartImpressions <= 0 {
		cfg.ColdStartImpressions = DefaultColdStartImpressions
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ranker{
		policies:    policies,
		items:       items,
		swipes:      swipes,
		affinities:  affinities,
		impressions: impressions,
		metrics:     metrics,
		cfg:         cfg,
	}
}

// Rank returns a score-ordered candidate list for the request. An empty
// result is a valid, non-error response meaning the pool is exhausted. A
// missing active policy fails closed: the ranker never falls back to
// partial or default weights.
func (r *Ranker) Rank(ctx context.Context, req Request) ([]Ranked, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "rank_candidates")
	start := time.Now()
	var rankErr error
	defer func() {
		endSpan(rankErr)
		if r.metrics != nil {
			r.metrics.ObserveRankDuration(time.Since(start).Seconds())
		}
	}()

	active, err := r.policies.GetActive(ctx)
	if err != nil {
		rankErr = fmt.Errorf("loading active policy: %w", err)
		if r.metrics != nil {
			r.metrics.IncRankErrors()
		}
		return nil, rankErr
	}

	source, err := r.items.GetByID(ctx, req.SourceItemID)
	if err != nil {
		rankErr = fmt.Errorf("loading source item: %w", err)
		if r.metrics != nil {
			r.metrics.IncRankErrors()
		}
		return nil, rankErr
	}

	candidates, err := r.fetchCandidates(ctx, source, req)
	if err != nil {
		rankErr = err
		if r.metrics != nil {
			r.metrics.IncRankErrors()
		}
		return nil, rankErr
	}

	if r.metrics != nil {
		r.metrics.IncRankRequests()
		r.metrics.ObserveCandidatePool(float64(len(candidates)))
	}

	if len(candidates) == 0 {
		return []Ranked{}, nil
	}

	seed := r.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()

	type scored struct {
		item  *item.Item
		score float64
	}
	out := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		s := r.score(ctx, source, cand, active, rng, now)
		out = append(out, scored{item: cand, score: s})
	}

	// Deterministic ordering: score descending, then freshness descending,
	// then item id ascending as a stable secondary key.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if !out[i].item.CreatedAt.Equal(out[j].item.CreatedAt) {
			return out[i].item.CreatedAt.After(out[j].item.CreatedAt)
		}
		return out[i].item.ID < out[j].item.ID
	})

	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}

	ranked := make([]Ranked, len(out))
	for i, s := range out {
		ranked[i] = Ranked{ItemID: s.item.ID, Score: s.score, Location: s.item.CoarseLocation()}
	}

	r.cfg.Logger.Debug("ranked candidates",
		"source_item_id", req.SourceItemID,
		"policy_version", active.Version,
		"candidates", len(candidates),
		"returned", len(ranked),
		"expanded", req.ExpandedSearch)

	return ranked, nil
}

// fetchCandidates builds the candidate window, excluding the source
// owner's items and items already swiped from this source. Strict mode
// additionally applies the source item's category and radius intent.
func (r *Ranker) fetchCandidates(ctx context.Context, source *item.Item, req Request) ([]*item.Item, error) {
	swiped, err := r.swipes.ListBySwiper(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("loading swipe history: %w", err)
	}
	exclude := make(map[string]bool, len(swiped))
	for _, ev := range swiped {
		exclude[ev.SwipedItemID] = true
	}

	filter := item.CandidateFilter{
		ExcludeOwnerID: source.OwnerID,
		ExcludeItemIDs: exclude,
	}
	if !req.ExpandedSearch {
		filter.Categories = source.SwapPreferences
		if source.Location != nil {
			filter.Center = source.Location
			filter.RadiusKm = r.cfg.StrictRadiusKm
		}
	}

	candidates, err := r.items.ListCandidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	return candidates, nil
}

// score computes the composite score for one candidate. All terms are in
// [0, 1] before weighting; the exploration term is added after.
func (r *Ranker) score(ctx context.Context, source, cand *item.Item, p *policy.ScoringPolicy, rng *rand.Rand, now time.Time) float64 {
	w := p.Weights

	catSim := category.Similarity(source.Category, cand.Category)

	geoScore := 0.0
	if source.Location != nil && cand.Location != nil {
		dist := geo.HaversineKm(*source.Location, *cand.Location)
		geoScore = geo.DecayScore(dist, r.cfg.SigmaKm)
	}

	exchange := exchangeCompatibility(source, cand)

	affinity := 0.0
	if r.affinities != nil {
		if a, err := r.affinities.CategoryAffinity(ctx, source.OwnerID, cand.Category); err == nil {
			affinity = clamp01(a)
		}
	}

	ageDays := now.Sub(cand.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	freshness := 1 / (1 + ageDays)

	condition := cand.ConditionScore()

	boost := cand.ReciprocalBoost
	if boost > p.Reciprocal.BoostCap {
		boost = p.Reciprocal.BoostCap
	}
	if boost < 0 {
		boost = 0
	}

	score := w.CategorySimilarity*catSim +
		w.GeoScore*geoScore +
		w.ExchangeCompatibility*exchange +
		w.BehaviorAffinity*affinity +
		w.Freshness*freshness +
		w.ConditionScore*condition +
		w.ReciprocalBoost*boost

	// Exploration term: bounded random perturbation, cold-start boost for
	// barely-shown items, staleness penalty for items not surfaced in a
	// long time.
	epsilon := (rng.Float64()*2 - 1) * p.Exploration.Randomness
	if r.impressions != nil {
		if r.impressions.Count(cand.ID) < r.cfg.ColdStartImpressions {
			epsilon += p.Exploration.ColdStartBoost
		}
		if last := r.impressions.LastShown(cand.ID); !last.IsZero() && now.Sub(last) > r.cfg.StaleAfter {
			epsilon -= p.Exploration.StaleItemPenalty
		}
	}

	return score + epsilon
}

// exchangeCompatibility performs the bidirectional swap-preference check:
// full credit when each side wants the other's category, partial credit
// for a one-directional match.
func exchangeCompatibility(source, cand *item.Item) float64 {
	sourceWants := source.WantsCategory(cand.Category)
	candWants := cand.WantsCategory(source.Category)
	switch {
	case sourceWants && candWants:
		return 1.0
	case sourceWants || candWants:
		return PartialExchangeCredit
	default:
		return 0.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
