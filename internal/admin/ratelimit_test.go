package admin

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimitMiddleware_AllowsNormalRequests(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	defer rl.Stop()

	called := false
	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil))

	if !called {
		t.Error("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_BlocksRepeatedStop(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	defer rl.Stop()

	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/stop", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("first request: expected 202, got %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/admin/v1/stop", nil))
	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
}

func TestRateLimitMiddleware_ClientsAndEndpointsIndependent(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	defer rl.Stop()

	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/v1/stop", nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status request: expected 200, got %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/admin/v1/stop", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client: expected 200, got %d", rec.Code)
	}
	if got := rl.LimiterCount(); got != 3 {
		t.Errorf("expected 3 limiters, got %d", got)
	}
}

func TestRateLimitMiddleware_UnmatchedPassesThrough(t *testing.T) {
	rl := NewRateLimitMiddleware(nil, Rule{Method: http.MethodPost, Prefix: "/admin/v1/stop", RPS: rate.Limit(0.001), Burst: 1})
	defer rl.Stop()

	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rl.LimiterCount() != 0 {
		t.Error("unmatched requests must not allocate limiters")
	}
}

func TestRateLimitMiddleware_EvictsStaleLimiters(t *testing.T) {
	rl := NewRateLimitMiddleware(nil)
	defer rl.Stop()

	now := time.Now()
	rl.nowFunc = func() time.Time { return now }
	rl.limiterFor(DefaultRules()[2], "10.0.0.1")
	rl.limiterFor(DefaultRules()[2], "10.0.0.2")

	now = now.Add(staleLimiterTTL + time.Second)
	rl.limiterFor(DefaultRules()[2], "10.0.0.2")
	rl.evictStale()

	if got := rl.LimiterCount(); got != 1 {
		t.Errorf("expected 1 limiter after eviction, got %d", got)
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := extractClientIP(req); got != "192.0.2.7" {
		t.Errorf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Real-IP", " 198.51.100.2 ")
	if got := extractClientIP(req); got != "198.51.100.2" {
		t.Errorf("expected X-Real-IP, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	if got := extractClientIP(req); got != "203.0.113.5" {
		t.Errorf("expected X-Forwarded-For, got %q", got)
	}
}
