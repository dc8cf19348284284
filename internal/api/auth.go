package api

import (
	"net/http"
	"strings"

	"github.com/trueque-collective/trueque/internal/auth"
	"github.com/trueque-collective/trueque/internal/middleware"
)

// TokenValidator validates a bearer token and returns its claims.
// Satisfied by auth.JWTService.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// RequireAdmin wraps a handler with bearer-token authentication and an
// admin role check. Policy activation and optimizer triggers are
// human-operator actions, never open endpoints.
func RequireAdmin(validator TokenValidator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Missing bearer token")
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired token")
			return
		}

		// Refresh tokens are only good for the token exchange flow.
		if claims.Type != auth.TokenTypeAccess {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Access token required")
			return
		}

		if !claims.IsAdmin() {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
			WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Admin role required")
			return
		}

		// Expose the actor to logging and the audit trail.
		r = r.WithContext(middleware.SetUserID(r.Context(), claims.Subject))
		next(w, r)
	}
}
