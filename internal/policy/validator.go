package policy

import (
	"fmt"
)

// Weight sum tolerance. A valid weight set sums to 1.0 within ±0.02.
const (
	MinWeightSum = 0.98
	MaxWeightSum = 1.02
)

// Bound is an inclusive [Min, Max] range for a single numeric field.
type Bound struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Bounds holds the per-field numeric limits enforced on every proposed
// policy, whether human-authored or generated. There is no privileged
// path that skips these checks.
type Bounds struct {
	Weights struct {
		CategorySimilarity    Bound
		GeoScore              Bound
		ExchangeCompatibility Bound
		BehaviorAffinity      Bound
		Freshness             Bound
		ConditionScore        Bound
		ReciprocalBoost       Bound
	}
	Exploration struct {
		Randomness       Bound
		ColdStartBoost   Bound
		StaleItemPenalty Bound
	}
	ReciprocalBoostCap Bound
}

// DefaultBounds returns the standard bounds. Each weight gets a range wide
// enough for meaningful tuning while keeping any single signal from
// dominating the composite score.
func DefaultBounds() Bounds {
	var b Bounds
	b.Weights.CategorySimilarity = Bound{Min: 0.05, Max: 0.40}
	b.Weights.GeoScore = Bound{Min: 0.05, Max: 0.40}
	b.Weights.ExchangeCompatibility = Bound{Min: 0.05, Max: 0.40}
	b.Weights.BehaviorAffinity = Bound{Min: 0.00, Max: 0.30}
	b.Weights.Freshness = Bound{Min: 0.00, Max: 0.25}
	b.Weights.ConditionScore = Bound{Min: 0.00, Max: 0.25}
	b.Weights.ReciprocalBoost = Bound{Min: 0.00, Max: 0.30}
	b.Exploration.Randomness = Bound{Min: 0, Max: 0.10}
	b.Exploration.ColdStartBoost = Bound{Min: 0, Max: 0.25}
	b.Exploration.StaleItemPenalty = Bound{Min: 0, Max: 0.25}
	b.ReciprocalBoostCap = Bound{Min: 0, Max: 1.0}
	return b
}

// Validator enforces numeric bounds and structural invariants on proposed
// scoring policies. It is pure and safe for concurrent use.
type Validator struct {
	bounds Bounds
}

// NewValidator creates a Validator with the given bounds.
func NewValidator(bounds Bounds) *Validator {
	return &Validator{bounds: bounds}
}

// Validate checks a proposed policy against all bounds and returns every
// violation found. An empty slice means the proposal is valid. The checks
// do not short-circuit so callers receive an itemized list of reasons.
func (v *Validator) Validate(p *ScoringPolicy) []error {
	var errs []error

	if p == nil {
		return []error{fmt.Errorf("policy is nil")}
	}

	if !ValidVersion(p.Version) {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidVersion, p.Version))
	}

	if sum := p.Weights.Sum(); sum < MinWeightSum || sum > MaxWeightSum {
		errs = append(errs, fmt.Errorf("weight sum %.4f outside [%.2f, %.2f]",
			sum, MinWeightSum, MaxWeightSum))
	}

	errs = appendBoundError(errs, "category_similarity", p.Weights.CategorySimilarity, v.bounds.Weights.CategorySimilarity)
	errs = appendBoundError(errs, "geo_score", p.Weights.GeoScore, v.bounds.Weights.GeoScore)
	errs = appendBoundError(errs, "exchange_compatibility", p.Weights.ExchangeCompatibility, v.bounds.Weights.ExchangeCompatibility)
	errs = appendBoundError(errs, "behavior_affinity", p.Weights.BehaviorAffinity, v.bounds.Weights.BehaviorAffinity)
	errs = appendBoundError(errs, "freshness", p.Weights.Freshness, v.bounds.Weights.Freshness)
	errs = appendBoundError(errs, "condition_score", p.Weights.ConditionScore, v.bounds.Weights.ConditionScore)
	errs = appendBoundError(errs, "reciprocal_boost", p.Weights.ReciprocalBoost, v.bounds.Weights.ReciprocalBoost)

	errs = appendBoundError(errs, "exploration.randomness", p.Exploration.Randomness, v.bounds.Exploration.Randomness)
	errs = appendBoundError(errs, "exploration.cold_start_boost", p.Exploration.ColdStartBoost, v.bounds.Exploration.ColdStartBoost)
	errs = appendBoundError(errs, "exploration.stale_item_penalty", p.Exploration.StaleItemPenalty, v.bounds.Exploration.StaleItemPenalty)

	if !ValidPriority(p.Reciprocal.Priority) {
		errs = append(errs, fmt.Errorf("reciprocal.priority %q not one of low, medium, high", p.Reciprocal.Priority))
	}
	errs = appendBoundError(errs, "reciprocal.boost_cap", p.Reciprocal.BoostCap, v.bounds.ReciprocalBoostCap)

	return errs
}

// appendBoundError appends a descriptive error naming the field when the
// value falls outside its bound.
func appendBoundError(errs []error, field string, value float64, bound Bound) []error {
	if bound.Contains(value) {
		return errs
	}
	return append(errs, fmt.Errorf("%s %.4f outside [%.2f, %.2f]", field, value, bound.Min, bound.Max))
}
