package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMetrics_Integration(t *testing.T) {
	m, reg := newTestMetrics(t)

	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	// One request populates all four HTTP metric families
	for _, name := range []string{
		MetricHTTPRequestDuration,
		MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes,
		MetricHTTPResponseSizeBytes,
	} {
		if findMetricFamily(t, reg, name) == nil {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestHTTPMetrics_MiddlewareOrdering(t *testing.T) {
	m, reg := newTestMetrics(t)

	called := false
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	headerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test", "value")
			next.ServeHTTP(w, r)
		})
	}

	handler := headerMiddleware(HTTPMetrics(m)(testHandler))

	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("handler was not called")
	}
	if rec.Header().Get("X-Test") != "value" {
		t.Error("outer middleware did not run")
	}
	if findMetricFamily(t, reg, MetricHTTPRequestsTotal) == nil {
		t.Error("HTTP metrics were not recorded")
	}
}

func TestHTTPMetrics_PathNormalization(t *testing.T) {
	m, reg := newTestMetrics(t)

	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Different versions must collapse into one label set to keep
	// cardinality bounded
	paths := []string{
		"/v1/policies/v1.0.0/activate",
		"/v1/policies/v1.1.0/activate",
		"/v1/policies/v2.0.0/activate",
		"/v1/policies/v10.14.3/activate",
	}

	for _, path := range paths {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	}

	total := findMetricFamily(t, reg, MetricHTTPRequestsTotal)
	if total == nil {
		t.Fatal("request counter not found")
	}
	if len(total.GetMetric()) != 1 {
		t.Fatalf("expected 1 normalized label set, got %d", len(total.GetMetric()))
	}

	var pathLabel string
	for _, label := range total.GetMetric()[0].GetLabel() {
		if label.GetName() == "path" {
			pathLabel = label.GetValue()
		}
	}
	if pathLabel != "/v1/policies/{version}/activate" {
		t.Errorf("path label = %s, want /v1/policies/{version}/activate", pathLabel)
	}

	if got := total.GetMetric()[0].GetCounter().GetValue(); got != 4 {
		t.Errorf("counter value = %f, want 4", got)
	}
}
