// Package policy provides versioned, immutable scoring policies for the
// matching engine, numeric bounds validation for proposed policies, and
// the policy store with its single-active-version invariant.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Provenance constants record who authored a policy version.
const (
	ProvenanceHuman       = "human"
	ProvenanceAIOptimizer = "ai_optimizer"
)

// Reciprocal priority tiers.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Common policy errors.
var (
	ErrNoActivePolicy = errors.New("no active scoring policy")
	ErrPolicyExists   = errors.New("policy version already exists")
	ErrPolicyNotFound = errors.New("policy version not found")
	ErrInvalidVersion = errors.New("invalid policy version: must match vMAJOR.MINOR.PATCH")
)

// versionPattern matches semantic policy versions like v1.2.0.
var versionPattern = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)$`)

// Weights holds the seven named scoring weights. A valid weight set sums
// to 1.0 within ±0.02.
type Weights struct {
	CategorySimilarity    float64 `json:"category_similarity"`
	GeoScore              float64 `json:"geo_score"`
	ExchangeCompatibility float64 `json:"exchange_compatibility"`
	BehaviorAffinity      float64 `json:"behavior_affinity"`
	Freshness             float64 `json:"freshness"`
	ConditionScore        float64 `json:"condition_score"`
	ReciprocalBoost       float64 `json:"reciprocal_boost"`
}

// Sum returns the total of all seven weights.
func (w Weights) Sum() float64 {
	return w.CategorySimilarity + w.GeoScore + w.ExchangeCompatibility +
		w.BehaviorAffinity + w.Freshness + w.ConditionScore + w.ReciprocalBoost
}

// Exploration controls the bounded randomness applied after weighting to
// keep rankings from going stale.
type Exploration struct {
	// Randomness is the magnitude of the random perturbation added to each
	// final score.
	Randomness float64 `json:"randomness"`
	// ColdStartBoost is added to items with few or no swipe impressions.
	ColdStartBoost float64 `json:"cold_start_boost"`
	// StaleItemPenalty is subtracted from items not shown for longer than
	// the staleness threshold.
	StaleItemPenalty float64 `json:"stale_item_penalty"`
}

// Reciprocal controls how offline reciprocal-cycle boosts feed into ranking.
type Reciprocal struct {
	// Priority is one of low, medium, or high.
	Priority string `json:"priority"`
	// BoostCap clamps the per-item reciprocal boost read by the ranker.
	BoostCap float64 `json:"boost_cap"`
}

// ScoringPolicy is a versioned, immutable record of ranking weights and
// exploration/reciprocal sub-policies. Changes always produce a new
// version; an existing version is never edited in place.
type ScoringPolicy struct {
	Version     string      `json:"version"`
	Weights     Weights     `json:"weights"`
	Exploration Exploration `json:"exploration"`
	Reciprocal  Reciprocal  `json:"reciprocal"`
	Active      bool        `json:"active"`
	Provenance  string      `json:"provenance"`
	Rationale   string      `json:"rationale,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Clone returns a copy of the policy. Stores hand out clones so callers
// can never mutate a stored version.
func (p *ScoringPolicy) Clone() *ScoringPolicy {
	cp := *p
	return &cp
}

// Default returns the baseline human-authored policy. The weights sum to
// exactly 1.00.
func Default() *ScoringPolicy {
	return &ScoringPolicy{
		Version: "v1.0.0",
		Weights: Weights{
			CategorySimilarity:    0.15,
			GeoScore:              0.30,
			ExchangeCompatibility: 0.20,
			BehaviorAffinity:      0.10,
			Freshness:             0.08,
			ConditionScore:        0.07,
			ReciprocalBoost:       0.10,
		},
		Exploration: Exploration{
			Randomness:       0.05,
			ColdStartBoost:   0.10,
			StaleItemPenalty: 0.05,
		},
		Reciprocal: Reciprocal{
			Priority: PriorityMedium,
			BoostCap: 0.50,
		},
		Provenance: ProvenanceHuman,
		CreatedAt:  time.Now().UTC(),
	}
}

// ValidVersion reports whether the version string matches vMAJOR.MINOR.PATCH.
func ValidVersion(version string) bool {
	return versionPattern.MatchString(version)
}

// BumpMinor returns the version with its minor component incremented and
// the patch component reset to zero. Returns ErrInvalidVersion if the
// input does not parse.
func BumpMinor(version string) (string, error) {
	m := versionPattern.FindStringSubmatch(version)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("v%d.%d.0", major, minor+1), nil
}

// ValidPriority reports whether the reciprocal priority tier is one of
// low, medium, or high.
func ValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}
