package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/trueque-collective/trueque/internal/audit"
	"github.com/trueque-collective/trueque/internal/middleware"
	"github.com/trueque-collective/trueque/internal/policy"
)

// PolicyHandlers serves the scoring-policy management endpoints.
type PolicyHandlers struct {
	policies  policy.Store
	auditRepo audit.Repository
}

// NewPolicyHandlers creates policy endpoint handlers. The audit
// repository may be nil, which disables the governance trail.
func NewPolicyHandlers(policies policy.Store, auditRepo audit.Repository) *PolicyHandlers {
	return &PolicyHandlers{policies: policies, auditRepo: auditRepo}
}

// PolicyListResponse is the JSON body returned by GET /v1/policies.
type PolicyListResponse struct {
	Policies []*policy.ScoringPolicy `json:"policies"`
}

// ActivateResponse is the JSON body returned by a successful activation.
type ActivateResponse struct {
	Activated *policy.ScoringPolicy `json:"activated"`
}

// List handles GET /v1/policies, returning every stored version newest
// first, including inactive proposals awaiting review.
func (h *PolicyHandlers) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	policies, err := h.policies.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "listing policies failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list policies")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(PolicyListResponse{Policies: policies}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode policy list", "error", err)
	}
}

// Activate handles POST /v1/policies/{version}/activate. Activation is
// an atomic swap: the previous active version is deactivated in the same
// operation, so exactly one version is active at all times.
func (h *PolicyHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	version, ok := activateVersion(r.URL.Path)
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
		return
	}
	if !policy.ValidVersion(version) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Version must match vMAJOR.MINOR.PATCH")
		return
	}

	if err := h.policies.Activate(r.Context(), version); err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Policy version not found")
			return
		}
		h.recordActivation(r, version, audit.OutcomeFailure)
		slog.ErrorContext(r.Context(), "policy activation failed", "version", version, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to activate policy")
		return
	}
	h.recordActivation(r, version, audit.OutcomeSuccess)

	activated, err := h.policies.GetByVersion(r.Context(), version)
	if err != nil {
		slog.ErrorContext(r.Context(), "loading activated policy failed", "version", version, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load activated policy")
		return
	}

	slog.InfoContext(r.Context(), "policy activated", "version", version, "provenance", activated.Provenance)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ActivateResponse{Activated: activated}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode activation response", "error", err)
	}
}

// recordActivation writes an activation attempt to the audit trail.
func (h *PolicyHandlers) recordActivation(r *http.Request, version, outcome string) {
	if h.auditRepo == nil {
		return
	}
	if err := audit.LogActionFromRequest(r, h.auditRepo, "policy", version, "activate_policy", outcome); err != nil {
		slog.WarnContext(r.Context(), "failed to record audit entry", "version", version, "error", err)
	}
}

// activateVersion extracts the version segment from a path shaped like
// /v1/policies/{version}/activate.
func activateVersion(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/v1/policies/")
	if !ok {
		return "", false
	}
	version, ok := strings.CutSuffix(rest, "/activate")
	if !ok || version == "" || strings.Contains(version, "/") {
		return "", false
	}
	return version, true
}
