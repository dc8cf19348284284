package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/trueque-collective/trueque/internal/item"
	"github.com/trueque-collective/trueque/internal/middleware"
	"github.com/trueque-collective/trueque/internal/policy"
	"github.com/trueque-collective/trueque/internal/ranker"
)

// MaxRankLimit caps how many ranked candidates a single request may ask for.
const MaxRankLimit = 100

// CandidateRanker is the ranking dependency of the rank endpoint.
// Satisfied by ranker.Ranker.
type CandidateRanker interface {
	Rank(ctx context.Context, req ranker.Request) ([]ranker.Ranked, error)
}

// RankHandlers serves the realtime candidate ranking endpoint.
type RankHandlers struct {
	ranker CandidateRanker
}

// NewRankHandlers creates rank endpoint handlers.
func NewRankHandlers(r CandidateRanker) *RankHandlers {
	return &RankHandlers{ranker: r}
}

// RankResponse is the JSON body returned by GET /v1/rank.
type RankResponse struct {
	SourceItemID string          `json:"source_item_id"`
	Expanded     bool            `json:"expanded"`
	Results      []ranker.Ranked `json:"results"`
}

// Rank handles GET /v1/rank?source_item_id=...&limit=...&expanded=...
// An empty result list is a valid 200 response meaning the candidate
// pool is exhausted.
func (h *RankHandlers) Rank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	q := r.URL.Query()
	sourceID := q.Get("source_item_id")
	if sourceID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "source_item_id is required")
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if n > MaxRankLimit {
			n = MaxRankLimit
		}
		limit = n
	}

	expanded := false
	if raw := q.Get("expanded"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "expanded must be a boolean")
			return
		}
		expanded = b
	}

	ranked, err := h.ranker.Rank(r.Context(), ranker.Request{
		SourceItemID:   sourceID,
		Limit:          limit,
		ExpandedSearch: expanded,
	})
	if err != nil {
		switch {
		case errors.Is(err, item.ErrItemNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Source item not found")
		case errors.Is(err, policy.ErrNoActivePolicy):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNoActivePolicy)
			WriteError(w, ctx, http.StatusConflict, ErrCodeNoActivePolicy, "No active scoring policy")
		default:
			slog.ErrorContext(r.Context(), "ranking failed", "source_item_id", sourceID, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Ranking failed")
		}
		return
	}

	response := RankResponse{
		SourceItemID: sourceID,
		Expanded:     expanded,
		Results:      ranked,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode rank response", "error", err)
	}
}
