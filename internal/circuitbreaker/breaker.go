package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultOpenTimeout      = 30 * time.Second
)

// Config configures a Breaker. Zero values take the defaults.
type Config struct {
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it again
	OpenTimeout      time.Duration // time spent open before probing
	OnStateChange    func(from, to State)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Snapshot is a point-in-time view of a Breaker.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	Opens               int
	OpenedAt            time.Time
}

// Breaker pauses a worker against a remote that keeps failing transiently.
// It opens after FailureThreshold consecutive failures, lets calls through
// again after OpenTimeout, and closes after SuccessThreshold successes.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	opens     int
	openedAt  time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultSuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg, now: now}
}

// Allow returns ErrCircuitOpen while the breaker is open and the timeout has
// not yet elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentLocked() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.currentLocked() != StateHalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.cfg.SuccessThreshold {
		b.transitionLocked(StateClosed)
	}
}

// RecordFailure counts a failure. Any failure while half-open reopens the
// breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.successes = 0
	switch b.currentLocked() {
	case StateHalfOpen:
		b.openLocked()
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case StateOpen:
		b.openedAt = b.now()
	}
}

// Wait blocks until Allow would succeed or ctx ends.
func (b *Breaker) Wait(ctx context.Context) error {
	for {
		if err := b.Allow(); err == nil {
			return nil
		}
		d := b.Remaining()
		if d <= 0 {
			d = time.Millisecond
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining is how long the breaker stays open; 0 unless open.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentLocked() != StateOpen {
		return 0
	}
	return b.cfg.OpenTimeout - b.now().Sub(b.openedAt)
}

func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.currentLocked(),
		ConsecutiveFailures: b.failures,
		Opens:               b.opens,
		OpenedAt:            b.openedAt,
	}
}

// currentLocked moves an expired open breaker to half-open before reporting.
func (b *Breaker) currentLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) openLocked() {
	b.openedAt = b.now()
	b.opens++
	b.transitionLocked(StateOpen)
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
