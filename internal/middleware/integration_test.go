package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trueque-collective/trueque/internal/middleware"
)

func TestRequestID_BasicUsage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetRequestID(r.Context()) == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := middleware.RequestID(handler)

	// Without an inbound ID a fresh one is generated
	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header in response")
	}

	// A well-formed inbound ID is kept
	customID := "client-trace-4821"
	req = httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	req.Header.Set("X-Request-ID", customID)
	rr = httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != customID {
		t.Errorf("expected X-Request-ID %q, got %q", customID, got)
	}
}

func TestIntegration_RequestIDWithLogging(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetRequestID(r.Context()) == "" {
			t.Error("expected request ID in context, got empty string")
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := middleware.RequestID(
		middleware.Logging(logger)(handler),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	responseID := rr.Header().Get("X-Request-ID")
	if responseID == "" {
		t.Error("expected X-Request-ID header in response")
	}

	// The access log carries the same ID the client got back
	logOutput := logBuf.String()
	if !strings.Contains(logOutput, "request_id=") {
		t.Errorf("expected log to contain request_id field, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, responseID) {
		t.Errorf("expected log to contain request ID %s, got: %s", responseID, logOutput)
	}
}

func TestIntegration_RequestIDPreservation(t *testing.T) {
	customID := "rank-request-12345"
	var capturedID string

	wrapped := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = middleware.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	req.Header.Set("X-Request-ID", customID)
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	if capturedID != customID {
		t.Errorf("expected request ID %q in context, got %q", customID, capturedID)
	}
	if got := rr.Header().Get("X-Request-ID"); got != customID {
		t.Errorf("expected response header %q, got %q", customID, got)
	}
}

func TestIntegration_RequestIDSecurity(t *testing.T) {
	tests := []struct {
		name       string
		incomingID string
		replaced   bool
	}{
		{"log injection attempt", "test\nmalicious-log-entry", true},
		{"special characters", "test@#$%^&*()", true},
		{"oversized", strings.Repeat("a", 200), true},
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
			req.Header.Set("X-Request-ID", tt.incomingID)
			rr := httptest.NewRecorder()
			wrapped.ServeHTTP(rr, req)

			responseID := rr.Header().Get("X-Request-ID")
			if responseID == "" {
				t.Fatal("expected X-Request-ID in response")
			}

			if tt.replaced && responseID == tt.incomingID {
				t.Errorf("expected invalid ID %q to be replaced", tt.incomingID)
			}
			if !tt.replaced && responseID != tt.incomingID {
				t.Errorf("expected valid ID %q to be preserved, got %q", tt.incomingID, responseID)
			}
		})
	}
}

func TestIntegration_CompleteMiddlewareStack(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetRequestID(r.Context()) == "" {
			t.Error("request ID not available in handler")
		}
		w.WriteHeader(http.StatusOK)
	})

	stack := middleware.RequestID(
		middleware.Logging(logger)(handler),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/policies/v1.2.0/activate", nil)
	rr := httptest.NewRecorder()
	stack.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	logOutput := logBuf.String()
	for _, field := range []string{
		"method=GET",
		"path=/v1/policies/v1.2.0/activate",
		"status=200",
		"request_id=",
	} {
		if !strings.Contains(logOutput, field) {
			t.Errorf("expected log to contain %q, got: %s", field, logOutput)
		}
	}
}

func BenchmarkRequestID_NewID(b *testing.B) {
	wrapped := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
	}
}

func BenchmarkRequestID_ExistingID(b *testing.B) {
	wrapped := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	req.Header.Set("X-Request-ID", "550e8400-e29b-41d4-a716-446655440000")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
	}
}
