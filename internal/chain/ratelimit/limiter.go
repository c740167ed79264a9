package ratelimit

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"golang.org/x/time/rate"
)

// DefaultThrottle is how long calls pause after a 429 without Retry-After.
const DefaultThrottle = time.Second

// Limiter spaces calls to one fullnode. Besides the steady token bucket it
// honors the node's own pushback: after Throttle every caller waits out the
// pause before taking a token.
type Limiter struct {
	bucket  *rate.Limiter
	network string
	now     func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewLimiter allows rps calls per second with the given burst against
// network. A non-positive rps leaves only the 429 pause in effect.
func NewLimiter(rps float64, burst int, network string) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket:  rate.NewLimiter(limit, burst),
		network: network,
		now:     time.Now,
	}
}

// Network is the label the limiter reports under.
func (l *Limiter) Network() string { return l.network }

// Wait blocks until method may be called or ctx ends. A canceled wait gives
// its token back.
func (l *Limiter) Wait(ctx context.Context, method string) error {
	if pause := l.pauseRemaining(); pause > 0 {
		metrics.RPCRateLimitWaits.WithLabelValues(l.network, method, "throttled").Inc()
		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}

	r := l.bucket.Reserve()
	if !r.OK() {
		return errors.New("rate: burst smaller than one call")
	}
	if delay := r.Delay(); delay > 0 {
		metrics.RPCRateLimitWaits.WithLabelValues(l.network, method, "bucket").Inc()
		if err := sleep(ctx, delay); err != nil {
			r.Cancel()
			return err
		}
	}
	return nil
}

// Throttle pauses all callers for d, or DefaultThrottle when d is not
// positive. A shorter pause never cuts a longer one short.
func (l *Limiter) Throttle(d time.Duration) {
	if d <= 0 {
		d = DefaultThrottle
	}
	until := l.now().Add(d)

	l.mu.Lock()
	defer l.mu.Unlock()
	if until.After(l.pausedUntil) {
		l.pausedUntil = until
		metrics.RPCThrottlesTotal.WithLabelValues(l.network).Inc()
	}
}

func (l *Limiter) pauseRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pausedUntil.Sub(l.now())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPStatuser is implemented by errors carrying the fullnode's HTTP status.
type HTTPStatuser interface {
	HTTPStatus() int
}

// RPCCoder is implemented by JSON-RPC error objects.
type RPCCoder interface {
	RPCCode() int
}

// RecordRPCCall counts one finished call by outcome class.
func RecordRPCCall(network, method string, err error) {
	metrics.RPCCallsTotal.WithLabelValues(network, method, ClassifyRPCError(err)).Inc()
}

// ClassifyRPCError buckets a call outcome for the calls_total status label.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		switch code := statuser.HTTPStatus(); {
		case code == 429:
			return "rate_limited"
		case code >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network_error"
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "1/3 of validators") || strings.Contains(lower, "quorum") {
		return "quorum_error"
	}

	var coder RPCCoder
	if errors.As(err, &coder) {
		// The node answered and refused the request.
		return "rejected"
	}

	if strings.Contains(lower, "connection reset") || strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "unexpected eof") {
		return "network_error"
	}
	return "client_error"
}
