// Package category provides the item category taxonomy and the static
// semantic embedding table used for category similarity scoring.
package category

import (
	"errors"
	"math"
)

// Valid category constants.
const (
	Tech    = "tech"
	Fashion = "fashion"
	Media   = "media"
	Sports  = "sports"
	Home    = "home"
	Toys    = "toys"
	Other   = "other"
)

// EmbeddingDim is the number of semantic axes in the embedding space.
// Axes (in order): electronics, style, entertainment, physical, household.
const EmbeddingDim = 5

// ErrUnknownCategory is returned when a category has no embedding.
var ErrUnknownCategory = errors.New("unknown category")

// embeddings maps each category to a fixed unit-scale semantic vector.
// Vectors are hand-tuned so that related categories (e.g. media/toys)
// share axes while unrelated pairs stay near-orthogonal.
var embeddings = map[string][EmbeddingDim]float64{
	Tech:    {0.90, 0.10, 0.30, 0.05, 0.25},
	Fashion: {0.05, 0.95, 0.15, 0.20, 0.10},
	Media:   {0.35, 0.15, 0.90, 0.05, 0.10},
	Sports:  {0.10, 0.25, 0.15, 0.95, 0.05},
	Home:    {0.20, 0.15, 0.10, 0.10, 0.95},
	Toys:    {0.25, 0.10, 0.60, 0.35, 0.30},
	Other:   {0.30, 0.30, 0.30, 0.30, 0.30},
}

// Valid reports whether the given category is part of the taxonomy.
func Valid(cat string) bool {
	_, ok := embeddings[cat]
	return ok
}

// All returns the full list of valid categories in a stable order.
func All() []string {
	return []string{Tech, Fashion, Media, Sports, Home, Toys, Other}
}

// Embedding returns the semantic vector for a category.
// Returns ErrUnknownCategory for categories outside the taxonomy.
func Embedding(cat string) ([EmbeddingDim]float64, error) {
	v, ok := embeddings[cat]
	if !ok {
		return [EmbeddingDim]float64{}, ErrUnknownCategory
	}
	return v, nil
}

// Similarity computes the cosine similarity between two category embeddings.
// Unknown categories score 0 against everything, including themselves.
// The result is in [0, 1] because all embedding components are non-negative.
func Similarity(a, b string) float64 {
	va, ok := embeddings[a]
	if !ok {
		return 0
	}
	vb, ok := embeddings[b]
	if !ok {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < EmbeddingDim; i++ {
		dot += va[i] * vb[i]
		normA += va[i] * va[i]
		normB += vb[i] * vb[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
