package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestCORS_WithRequestID verifies CORS combined with the request ID
// middleware: preflight short-circuits before the handler but still
// carries a request ID.
func TestCORS_WithRequestID(t *testing.T) {
	corsConfig := CORSConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           3600,
	}

	var handlerCalls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestID(CORS(corsConfig)(handler))

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/rank", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rr := httptest.NewRecorder()

		wrapped.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if handlerCalls != 0 {
			t.Error("preflight must not reach the handler")
		}
		if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %q", origin)
		}
		if reqID := rr.Header().Get(RequestIDHeader); reqID == "" {
			t.Error("expected X-Request-ID header on preflight response")
		}
	})

	t.Run("actual request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()

		wrapped.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if handlerCalls != 1 {
			t.Errorf("handler calls = %d, want 1", handlerCalls)
		}
		if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %q", origin)
		}
		if reqID := rr.Header().Get(RequestIDHeader); reqID == "" {
			t.Error("expected X-Request-ID header on response")
		}
	})
}
