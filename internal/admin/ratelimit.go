package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleLimiterTTL = 10 * time.Minute
	cleanupInterval = time.Minute
)

// Rule limits requests whose method and path prefix match. An empty method
// or prefix matches anything.
type Rule struct {
	Method string
	Prefix string
	RPS    rate.Limit
	Burst  int
}

func (r Rule) matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return r.Prefix == "" || strings.HasPrefix(path, r.Prefix)
}

func (r Rule) key() string {
	return r.Method + ":" + r.Prefix
}

// DefaultRules guard the stop endpoint hardest; reads share a looser budget.
func DefaultRules() []Rule {
	return []Rule{
		{Method: http.MethodPost, Prefix: "/admin/v1/stop", RPS: rate.Limit(1.0 / 60), Burst: 1},
		{Method: http.MethodGet, Prefix: "/admin/v1/units", RPS: rate.Limit(30.0 / 60), Burst: 5},
		{RPS: 1, Burst: 5},
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware keeps one token bucket per (rule, client IP).
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rules    []Rule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimitMiddleware starts a sweeper that drops idle limiters; call Stop
// to end it. With no rules, DefaultRules apply.
func NewRateLimitMiddleware(logger *slog.Logger, rules ...Rule) *RateLimitMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		rules:    rules,
		logger:   logger.With("component", "admin_ratelimit"),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := rl.match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		clientIP := extractClientIP(r)
		if !rl.limiterFor(rule, clientIP).Allow() {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			rl.logger.Warn("admin API rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) match(method, path string) (Rule, bool) {
	for _, rule := range rl.rules {
		if rule.matches(method, path) {
			return rule, true
		}
	}
	return Rule{}, false
}

func (rl *RateLimitMiddleware) limiterFor(rule Rule, clientIP string) *rate.Limiter {
	key := rule.key() + "|" + clientIP
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rule.RPS, rule.Burst)
	rl.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
