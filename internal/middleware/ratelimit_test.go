package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		wantAllowed []bool
	}{
		{"under limit", 5, []bool{true, true, true}},
		{"at limit", 5, []bool{true, true, true, true, true, false}},
		{"single request limit", 1, []bool{true, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryRateLimitStore()
			config := RateLimitConfig{
				RequestsPerWindow: tt.limit,
				WindowDuration:    time.Minute,
			}
			ctx := context.Background()

			for i, want := range tt.wantAllowed {
				allowed, _, _ := store.Allow(ctx, "test-key", config)
				if allowed != want {
					t.Errorf("request %d: got allowed=%v, want %v", i+1, allowed, want)
				}
			}
		})
	}
}

func TestInMemoryRateLimitStore_RemainingAndRetryAfter(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    10 * time.Second,
	}
	ctx := context.Background()

	allowed, remaining, retryAfter := store.Allow(ctx, "test-key", config)
	if !allowed {
		t.Error("first request should be allowed")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d after using a limit of 1, want 0", remaining)
	}
	if retryAfter != 0 {
		t.Errorf("retryAfter = %d for an allowed request, want 0", retryAfter)
	}

	allowed, remaining, retryAfter = store.Allow(ctx, "test-key", config)
	if allowed {
		t.Error("second request should be blocked")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d when blocked, want 0", remaining)
	}
	if retryAfter <= 0 || retryAfter > 10 {
		t.Errorf("retryAfter = %d, want 1..10", retryAfter)
	}
}

func TestInMemoryRateLimitStore_DifferentKeys(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}
	ctx := context.Background()

	allowed1, _, _ := store.Allow(ctx, "key1", config)
	allowed2, _, _ := store.Allow(ctx, "key2", config)
	if !allowed1 || !allowed2 {
		t.Error("each key gets its own bucket")
	}

	blocked1, _, _ := store.Allow(ctx, "key1", config)
	blocked2, _, _ := store.Allow(ctx, "key2", config)
	if blocked1 || blocked2 {
		t.Error("both keys should now be at their limit")
	}
}

func TestInMemoryRateLimitStore_WindowExpiry(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    50 * time.Millisecond,
	}
	ctx := context.Background()

	if allowed, _, _ := store.Allow(ctx, "test-key", config); !allowed {
		t.Error("first request should be allowed")
	}
	if allowed, _, _ := store.Allow(ctx, "test-key", config); allowed {
		t.Error("second request should be blocked")
	}

	time.Sleep(60 * time.Millisecond)

	if allowed, _, _ := store.Allow(ctx, "test-key", config); !allowed {
		t.Error("request after window expiry should be allowed")
	}
}

func TestInMemoryRateLimitStore_Concurrency(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var allowedCount int

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _, _ := store.Allow(ctx, "concurrent-key", config); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 100 {
		t.Errorf("expected exactly 100 allowed requests, got %d", allowedCount)
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    50 * time.Millisecond,
	}
	ctx := context.Background()

	store.Allow(ctx, "key1", config)
	store.Allow(ctx, "key2", config)

	allowed1, _, _ := store.Allow(ctx, "key1", config)
	allowed2, _, _ := store.Allow(ctx, "key2", config)
	if allowed1 || allowed2 {
		t.Error("requests should be blocked before cleanup")
	}

	time.Sleep(60 * time.Millisecond)
	store.Cleanup()

	allowed1, _, _ = store.Allow(ctx, "key1", config)
	allowed2, _, _ = store.Allow(ctx, "key2", config)
	if !allowed1 || !allowed2 {
		t.Errorf("expected fresh buckets after cleanup, got allowed1=%v allowed2=%v", allowed1, allowed2)
	}
}

func TestIPKeyFunc(t *testing.T) {
	keyFunc := IPKeyFunc()

	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		wantKey       string
	}{
		{name: "RemoteAddr with port", remoteAddr: "192.168.1.1:12345", wantKey: "192.168.1.1"},
		{name: "RemoteAddr without port", remoteAddr: "192.168.1.1", wantKey: "192.168.1.1"},
		{name: "X-Forwarded-For wins over RemoteAddr", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.50", wantKey: "203.0.113.50"},
		{name: "first hop of X-Forwarded-For chain", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.50, 198.51.100.1, 10.0.0.1", wantKey: "203.0.113.50"},
		{name: "X-Real-IP wins over RemoteAddr", remoteAddr: "10.0.0.1:12345", xRealIP: "203.0.113.50", wantKey: "203.0.113.50"},
		{name: "X-Forwarded-For wins over X-Real-IP", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.50", xRealIP: "198.51.100.1", wantKey: "203.0.113.50"},
		{name: "IPv6 loopback", remoteAddr: "[::1]:12345", wantKey: "::1"},
		{name: "IPv6 address", remoteAddr: "[2001:db8::1]:8080", wantKey: "2001:db8::1"},
		{name: "whitespace in X-Forwarded-For chain", remoteAddr: "10.0.0.1:12345", xForwardedFor: "  203.0.113.50  ,  198.51.100.1  ", wantKey: "203.0.113.50"},
		{name: "whitespace in single X-Forwarded-For", remoteAddr: "10.0.0.1:12345", xForwardedFor: "  203.0.113.50  ", wantKey: "203.0.113.50"},
		{name: "whitespace in X-Real-IP", remoteAddr: "10.0.0.1:12345", xRealIP: "  203.0.113.50  ", wantKey: "203.0.113.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := keyFunc(req); got != tt.wantKey {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.wantKey)
			}
		})
	}
}

func TestUserKeyFunc(t *testing.T) {
	keyFunc := UserKeyFunc()

	t.Run("anonymous falls back to IP", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		if got := keyFunc(req); got != "ip:192.168.1.1" {
			t.Errorf("UserKeyFunc() = %q, want ip:192.168.1.1", got)
		}
	})

	t.Run("authenticated keyed by user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req = req.WithContext(SetUserID(req.Context(), "user-123"))

		if got := keyFunc(req); got != "user:user-123" {
			t.Errorf("UserKeyFunc() = %q, want user:user-123", got)
		}
	})
}

func rateLimitedHandler(store RateLimitStore, config RateLimitConfig) http.Handler {
	return RateLimiter(store, config, IPKeyFunc(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func rankRequest(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/rank", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimiter_AllowsNormalTraffic(t *testing.T) {
	handler := rateLimitedHandler(NewInMemoryRateLimitStore(), RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	})

	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))

		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want 200", i+1, rr.Code)
		}
	}
}

func TestRateLimiter_BlocksExcessiveTraffic(t *testing.T) {
	handler := rateLimitedHandler(NewInMemoryRateLimitStore(), RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	})

	for i := 0; i < 15; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))

		want := http.StatusOK
		if i >= 10 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Errorf("request %d: got status %d, want %d", i+1, rr.Code, want)
		}
	}
}

func TestRateLimiter_RetryAfterHeaders(t *testing.T) {
	handler := rateLimitedHandler(NewInMemoryRateLimitStore(), RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    30 * time.Second,
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))
	if rr.Code != http.StatusOK {
		t.Errorf("first request: got status %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got status %d, want 429", rr.Code)
	}

	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After header should be an integer: %v", err)
	}
	if retryAfter <= 0 || retryAfter > 30 {
		t.Errorf("Retry-After = %d, want 1..30", retryAfter)
	}

	resetTime, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Fatalf("X-RateLimit-Reset should be a Unix timestamp: %v", err)
	}
	now := time.Now().Unix()
	if resetTime <= now || resetTime > now+30 {
		t.Errorf("X-RateLimit-Reset = %d, want a future timestamp within 30s of %d", resetTime, now)
	}
}

func TestRateLimiter_DifferentClientsIndependent(t *testing.T) {
	handler := rateLimitedHandler(NewInMemoryRateLimitStore(), RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	})

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))
		if rr.Code != http.StatusOK {
			t.Errorf("client1 request %d should be allowed", i+1)
		}
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))
	if rr.Code != http.StatusTooManyRequests {
		t.Error("client1 should be blocked")
	}

	// A second client still has their full quota
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, rankRequest("192.168.1.2:12345"))
		if rr.Code != http.StatusOK {
			t.Errorf("client2 request %d should be allowed", i+1)
		}
	}
}

func TestRateLimiter_BurstSimulation(t *testing.T) {
	handler := rateLimitedHandler(NewInMemoryRateLimitStore(), RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	})

	var allowedCount, blockedCount int
	for i := 0; i < 20; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))

		switch rr.Code {
		case http.StatusOK:
			allowedCount++
		case http.StatusTooManyRequests:
			blockedCount++
		}
	}

	if allowedCount != 10 || blockedCount != 10 {
		t.Errorf("burst of 20: allowed=%d blocked=%d, want 10/10", allowedCount, blockedCount)
	}
}

func TestRateLimiter_WindowResetsAllowsNewRequests(t *testing.T) {
	handler := rateLimitedHandler(NewInMemoryRateLimitStore(), RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    50 * time.Millisecond,
	})

	makeRequest := func() int {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, rankRequest("192.168.1.1:12345"))
		return rr.Code
	}

	if makeRequest() != http.StatusOK || makeRequest() != http.StatusOK {
		t.Error("first two requests should be allowed")
	}
	if makeRequest() != http.StatusTooManyRequests {
		t.Error("third request should be blocked")
	}

	time.Sleep(60 * time.Millisecond)

	if makeRequest() != http.StatusOK {
		t.Error("request after window reset should be allowed")
	}
}

func TestDefaultLimits(t *testing.T) {
	tests := []struct {
		name   string
		config RateLimitConfig
		want   int
	}{
		{"global", DefaultGlobalLimit(), 100},
		{"auth", DefaultAuthLimit(), 10},
		{"search", DefaultSearchLimit(), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.RequestsPerWindow != tt.want {
				t.Errorf("RequestsPerWindow = %d, want %d", tt.config.RequestsPerWindow, tt.want)
			}
			if tt.config.WindowDuration != time.Minute {
				t.Errorf("WindowDuration = %v, want %v", tt.config.WindowDuration, time.Minute)
			}
		})
	}
}

func TestDefaultLimits_Immutability(t *testing.T) {
	modified := DefaultGlobalLimit()
	modified.RequestsPerWindow = 9999

	if fresh := DefaultGlobalLimit(); fresh.RequestsPerWindow != 100 {
		t.Errorf("DefaultGlobalLimit().RequestsPerWindow = %d, want 100", fresh.RequestsPerWindow)
	}
}

func TestRateLimitStore_Interface(t *testing.T) {
	var _ RateLimitStore = (*InMemoryRateLimitStore)(nil)
	var _ RateLimitStore = (*RedisRateLimitStore)(nil)
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    RateLimitConfig
		wantError bool
	}{
		{"valid", RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}, false},
		{"zero requests", RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}, true},
		{"negative requests", RateLimitConfig{RequestsPerWindow: -1, WindowDuration: time.Minute}, true},
		{"zero window", RateLimitConfig{RequestsPerWindow: 100, WindowDuration: 0}, true},
		{"negative window", RateLimitConfig{RequestsPerWindow: 100, WindowDuration: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("expected no validation error, got %v", err)
			}
		})
	}
}
