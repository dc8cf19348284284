package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/trueque-collective/trueque/internal/audit"
	"github.com/trueque-collective/trueque/internal/middleware"
	"github.com/trueque-collective/trueque/internal/optimizer"
	"github.com/trueque-collective/trueque/internal/policy"
)

// ProposalRunner triggers one policy proposal attempt. Satisfied by
// optimizer.Optimizer.
type ProposalRunner interface {
	Run(ctx context.Context) (*policy.ScoringPolicy, error)
}

// OptimizerHandlers serves the manual optimizer trigger. A nil runner
// means no generator is configured and the endpoint reports that.
type OptimizerHandlers struct {
	runner    ProposalRunner
	auditRepo audit.Repository
}

// NewOptimizerHandlers creates optimizer endpoint handlers. The audit
// repository may be nil, which disables the governance trail.
func NewOptimizerHandlers(runner ProposalRunner, auditRepo audit.Repository) *OptimizerHandlers {
	return &OptimizerHandlers{runner: runner, auditRepo: auditRepo}
}

// ProposalResponse is the JSON body returned when a proposal is persisted.
type ProposalResponse struct {
	Proposal *policy.ScoringPolicy `json:"proposal"`
}

// Run handles POST /v1/optimizer/run. Every rejection comes back as a
// structured error so the operator can see which gate fired: the data
// gate, the cadence gate, the generator, or bounds validation. A
// persisted proposal is returned inactive; activation is a separate call.
func (h *OptimizerHandlers) Run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	if h.runner == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeGeneratorDisabled)
		WriteError(w, ctx, http.StatusNotImplemented, ErrCodeGeneratorDisabled, "No proposal generator configured")
		return
	}

	proposal, err := h.runner.Run(r.Context())
	if err != nil {
		h.recordTrigger(r, audit.OutcomeFailure)
		h.writeRejection(w, r, err)
		return
	}
	h.recordTrigger(r, audit.OutcomeSuccess)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(ProposalResponse{Proposal: proposal}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode proposal response", "error", err)
	}
}

// recordTrigger writes a proposal trigger attempt to the audit trail.
func (h *OptimizerHandlers) recordTrigger(r *http.Request, outcome string) {
	if h.auditRepo == nil {
		return
	}
	if err := audit.LogActionFromRequest(r, h.auditRepo, "optimizer", "policy_optimize", "trigger_policy_proposal", outcome); err != nil {
		slog.WarnContext(r.Context(), "failed to record audit entry", "error", err)
	}
}

// writeRejection maps the optimizer's typed errors onto the API error
// taxonomy.
func (h *OptimizerHandlers) writeRejection(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *optimizer.RateLimitError
	var valErr *optimizer.ValidationError

	switch {
	case errors.As(err, &rateErr):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeRateLimited)
		WriteErrorWithDetails(w, ctx, http.StatusTooManyRequests, ErrCodeRateLimited,
			"Proposal rate limit in effect",
			map[string]any{"retry_after_seconds": int(rateErr.Remaining.Seconds())})

	case errors.Is(err, optimizer.ErrInsufficientData):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInsufficientData)
		WriteError(w, ctx, http.StatusConflict, ErrCodeInsufficientData, err.Error())

	case errors.As(err, &valErr):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteErrorWithDetails(w, ctx, http.StatusUnprocessableEntity, ErrCodeValidation,
			"Proposed policy failed bounds validation",
			map[string]any{"reasons": valErr.Reasons()})

	case errors.Is(err, optimizer.ErrGeneratorFailed):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeGeneratorFailed)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeGeneratorFailed, "Proposal generator unavailable")

	case errors.Is(err, policy.ErrNoActivePolicy):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNoActivePolicy)
		WriteError(w, ctx, http.StatusConflict, ErrCodeNoActivePolicy, "No active scoring policy to optimize")

	default:
		slog.ErrorContext(r.Context(), "optimizer run failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Optimizer run failed")
	}
}
