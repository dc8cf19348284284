package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type requestLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ErrorCode string `json:"error_code"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) requestLogEntry {
	t.Helper()
	var entry requestLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/rank", nil))

	entry := parseLogEntry(t, buf)
	if entry.Method != "GET" {
		t.Errorf("method = %s, want GET", entry.Method)
	}
	if entry.Path != "/v1/rank" {
		t.Errorf("path = %s, want /v1/rank", entry.Path)
	}
	if entry.Status != 200 {
		t.Errorf("status = %d, want 200", entry.Status)
	}
	if entry.LatencyMS < 0 {
		t.Errorf("latency_ms = %d, want >= 0", entry.LatencyMS)
	}
	if entry.Size != len("hello") {
		t.Errorf("size = %d, want %d", entry.Size, len("hello"))
	}
	if entry.Level != "INFO" {
		t.Errorf("level = %s, want INFO", entry.Level)
	}
}

func TestLogging_WithRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/policies", nil)
	req.Header.Set(RequestIDHeader, "rank-request-456")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := parseLogEntry(t, buf); entry.RequestID != "rank-request-456" {
		t.Errorf("request_id = %s, want rank-request-456", entry.RequestID)
	}
}

func TestLogging_WithUserID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// What the auth middleware does after validating a token
		*r = *r.WithContext(SetUserID(r.Context(), "trader-123"))
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/rank", nil))

	if entry := parseLogEntry(t, buf); entry.UserID != "trader-123" {
		t.Errorf("user_id = %s, want trader-123", entry.UserID)
	}
}

func TestLogging_StatusLevels(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errorCode string
		wantLevel string
	}{
		{"client error logs warn", http.StatusBadRequest, "validation_error", "WARN"},
		{"server error logs error", http.StatusInternalServerError, "internal_error", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				*r = *r.WithContext(SetErrorCode(r.Context(), tt.errorCode))
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/policies", nil))

			entry := parseLogEntry(t, buf)
			if entry.Status != tt.status {
				t.Errorf("status = %d, want %d", entry.Status, tt.status)
			}
			if entry.ErrorCode != tt.errorCode {
				t.Errorf("error_code = %s, want %s", entry.ErrorCode, tt.errorCode)
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", entry.Level, tt.wantLevel)
			}
		})
	}
}

func TestLogging_DefaultStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	// Write without WriteHeader implies 200
	if entry := parseLogEntry(t, buf); entry.Status != 200 {
		t.Errorf("status = %d, want 200", entry.Status)
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		if NewLogger(env) == nil {
			t.Errorf("NewLogger(%q) returned nil", env)
		}
	}
}

func TestUserIDContext(t *testing.T) {
	ctx := context.Background()
	if id := GetUserID(ctx); id != "" {
		t.Errorf("GetUserID on empty context = %q, want empty", id)
	}
	if id := GetUserID(SetUserID(ctx, "trader-ctx")); id != "trader-ctx" {
		t.Errorf("GetUserID = %q, want trader-ctx", id)
	}
}

func TestErrorCodeContext(t *testing.T) {
	ctx := context.Background()
	if code := GetErrorCode(ctx); code != "" {
		t.Errorf("GetErrorCode on empty context = %q, want empty", code)
	}
	if code := GetErrorCode(SetErrorCode(ctx, "not_found")); code != "not_found" {
		t.Errorf("GetErrorCode = %q, want not_found", code)
	}
}

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError) // ignored: header already sent

	if rw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want 201", rw.statusCode)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("underlying writer status = %d, want 201", w.Code)
	}

	body := []byte("ranked candidates payload")
	n, err := rw.Write(body)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(body) || rw.size != len(body) {
		t.Errorf("Write() = %d, size = %d, want both %d", n, rw.size, len(body))
	}
}

func TestUpdateResponseContext(t *testing.T) {
	t.Run("direct writer", func(t *testing.T) {
		rw := newResponseWriter(httptest.NewRecorder())

		UpdateResponseContext(rw, SetErrorCode(context.Background(), "no_active_policy"))

		if rw.ctx == nil {
			t.Fatal("context was not attached to the writer")
		}
		if code := GetErrorCode(rw.ctx); code != "no_active_policy" {
			t.Errorf("error code = %q, want no_active_policy", code)
		}
	})

	t.Run("wrapped writer", func(t *testing.T) {
		rw := newResponseWriter(httptest.NewRecorder())
		wrapped := newMetricsResponseWriter(rw)

		UpdateResponseContext(wrapped, SetErrorCode(context.Background(), "conflict"))

		if rw.ctx == nil {
			t.Fatal("context did not reach the inner writer")
		}
		if code := GetErrorCode(rw.ctx); code != "conflict" {
			t.Errorf("error code = %q, want conflict", code)
		}
	})

	t.Run("foreign writer is a no-op", func(t *testing.T) {
		// Must not panic on a writer outside the logging chain
		UpdateResponseContext(httptest.NewRecorder(), context.Background())
	})
}

func TestLogging_ErrorCodeViaResponseWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// What api.WriteError does: derive a context and push it back
		// through the response writer
		UpdateResponseContext(w, SetErrorCode(r.Context(), "insufficient_data"))
		w.WriteHeader(http.StatusConflict)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/optimizer/run", nil))

	entry := parseLogEntry(t, buf)
	if entry.Status != 409 {
		t.Errorf("status = %d, want 409", entry.Status)
	}
	if entry.ErrorCode != "insufficient_data" {
		t.Errorf("error_code = %s, want insufficient_data", entry.ErrorCode)
	}
}

func TestLogging_AllFieldsPresent(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetUserID(r.Context(), "trader-abcd1234")
		ctx = SetErrorCode(ctx, "forbidden")
		*r = *r.WithContext(ctx)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/policies/v1.2.0/activate", nil)
	req.Header.Set(RequestIDHeader, "activate-req-789")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, buf)
	if entry.Method != "POST" {
		t.Errorf("method = %s, want POST", entry.Method)
	}
	if entry.Path != "/v1/policies/v1.2.0/activate" {
		t.Errorf("path = %s, want /v1/policies/v1.2.0/activate", entry.Path)
	}
	if entry.Status != 403 {
		t.Errorf("status = %d, want 403", entry.Status)
	}
	if entry.RequestID != "activate-req-789" {
		t.Errorf("request_id = %s, want activate-req-789", entry.RequestID)
	}
	if entry.UserID != "trader-abcd1234" {
		t.Errorf("user_id = %s, want trader-abcd1234", entry.UserID)
	}
	if entry.ErrorCode != "forbidden" {
		t.Errorf("error_code = %s, want forbidden", entry.ErrorCode)
	}
	if want := len(`{"error":"forbidden"}`); entry.Size != want {
		t.Errorf("size = %d, want %d", entry.Size, want)
	}
}

func TestLogging_NoErrorCodeFor2xx(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*r = *r.WithContext(SetErrorCode(r.Context(), "some_code"))
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/rank", nil))

	if strings.Contains(buf.String(), "error_code") {
		t.Error("error_code must not be logged for 2xx responses")
	}
}
