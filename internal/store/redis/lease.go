package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
)

const defaultLeasePrefix = "merger:payer:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lease claims payers in Redis so two merger processes never spend the same
// gas object. Claims are refreshed until released and expire on their own if
// the holder dies.
type Lease struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ store.PayerLeaser = (*Lease)(nil)

func NewLease(url, prefix string, logger *slog.Logger) (*Lease, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if prefix == "" {
		prefix = defaultLeasePrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lease{client: client, prefix: prefix, logger: logger.With("component", "payer_lease")}, nil
}

func (l *Lease) Close() error {
	return l.client.Close()
}

func (l *Lease) Client() *redis.Client {
	return l.client
}

func (l *Lease) Acquire(ctx context.Context, payerIDs []string, ttl time.Duration) (func(context.Context) error, <-chan struct{}, error) {
	if ttl <= 0 {
		return nil, nil, fmt.Errorf("lease ttl must be positive")
	}
	token := uuid.NewString()

	held := make([]string, 0, len(payerIDs))
	for _, id := range payerIDs {
		key := l.prefix + id
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			l.releaseKeys(context.WithoutCancel(ctx), held, token)
			return nil, nil, fmt.Errorf("lease payer %s: %w", id, err)
		}
		if !ok {
			l.releaseKeys(context.WithoutCancel(ctx), held, token)
			return nil, nil, fmt.Errorf("%w: %s", store.ErrPayerLeased, id)
		}
		held = append(held, key)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	lost := make(chan struct{})
	go l.keepAlive(held, token, ttl, stop, done, lost)

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			<-done
			err = l.releaseKeys(ctx, held, token)
		})
		return err
	}
	return release, lost, nil
}

// keepAlive refreshes every claim at a third of ttl. It closes lost and
// returns when a claim is gone or has gone a full ttl without a refresh.
func (l *Lease) keepAlive(keys []string, token string, ttl time.Duration, stop <-chan struct{}, done, lost chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	refreshed := make(map[string]time.Time, len(keys))
	now := time.Now()
	for _, key := range keys {
		refreshed[key] = now
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, key := range keys {
				ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
				n, err := refreshScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int()
				cancel()
				switch {
				case err != nil:
					if time.Since(refreshed[key]) < ttl {
						l.logger.Warn("payer lease refresh failed", "key", key, "error", err)
						continue
					}
					l.logger.Error("payer lease expired without refresh", "key", key, "error", err)
				case n == 0:
					l.logger.Error("payer lease lost", "key", key)
				default:
					refreshed[key] = time.Now()
					continue
				}
				close(lost)
				return
			}
		}
	}
}

func (l *Lease) releaseKeys(ctx context.Context, keys []string, token string) error {
	var firstErr error
	for _, key := range keys {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release %s: %w", key, err)
		}
	}
	return firstErr
}

// MemoryLease is the single-process PayerLeaser used when no Redis URL is
// configured. It still rejects overlapping passes inside one process.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]string
}

var _ store.PayerLeaser = (*MemoryLease)(nil)

func NewInMemoryLease() *MemoryLease {
	return &MemoryLease{held: make(map[string]string)}
}

// Acquire never reports a lost claim: in-memory claims do not expire.
func (m *MemoryLease) Acquire(_ context.Context, payerIDs []string, _ time.Duration) (func(context.Context) error, <-chan struct{}, error) {
	token := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range payerIDs {
		if _, taken := m.held[id]; taken {
			return nil, nil, fmt.Errorf("%w: %s", store.ErrPayerLeased, id)
		}
	}
	for _, id := range payerIDs {
		m.held[id] = token
	}

	ids := append([]string(nil), payerIDs...)
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, id := range ids {
			if m.held[id] == token {
				delete(m.held, id)
			}
		}
		return nil
	}, nil, nil
}
