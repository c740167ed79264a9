package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	suirpc "github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline/retry"
)

const (
	defaultPageSize          = 50
	defaultFetchRetryMax     = 4
	defaultFetchBackoffStart = 500 * time.Millisecond
	defaultFetchBackoffMax   = 10 * time.Second
	fetchFormat              = "rpc"
)

// Fetcher pages an owner's coins from the node straight into the ledger.
type Fetcher struct {
	client   suirpc.RPCClient
	loader   *Loader
	coinType string
	pageSize int
	logger   *slog.Logger

	retryMaxAttempts int
	backoffInitial   time.Duration
	backoffMax       time.Duration
	sleepFn          func(context.Context, time.Duration) error
}

type FetcherOption func(*Fetcher)

func WithPageSize(n int) FetcherOption {
	return func(f *Fetcher) {
		f.pageSize = n
	}
}

func WithFetchCoinType(coinType string) FetcherOption {
	return func(f *Fetcher) {
		f.coinType = coinType
	}
}

func WithFetchRetry(maxAttempts int, backoffInitial, backoffMax time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retryMaxAttempts = maxAttempts
		f.backoffInitial = backoffInitial
		f.backoffMax = backoffMax
	}
}

func NewFetcher(client suirpc.RPCClient, loader *Loader, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		client:           client,
		loader:           loader,
		coinType:         model.SuiCoinType,
		pageSize:         defaultPageSize,
		logger:           logger.With("component", "fetcher"),
		retryMaxAttempts: defaultFetchRetryMax,
		backoffInitial:   defaultFetchBackoffStart,
		backoffMax:       defaultFetchBackoffMax,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Fetch walks every page of owner's coins. Each page is inserted before the
// next one is requested, so an interrupted fetch can simply be run again.
func (f *Fetcher) Fetch(ctx context.Context, owner string) (LoadStats, error) {
	start := time.Now()
	stats := newLoadStats()
	var (
		cursor *string
		pages  int
	)

	for {
		page, err := f.getPageWithRetry(ctx, owner, cursor)
		if err != nil {
			return stats, err
		}
		pages++

		units := make([]model.UnitRecord, 0, len(page.Data))
		for _, coin := range page.Data {
			unit, err := UnitFromCoin(coin)
			if err != nil {
				stats.Read++
				stats.Skipped[SkipMalformed]++
				metrics.IngestRowsSkipped.WithLabelValues(fetchFormat, SkipMalformed).Inc()
				f.logger.Warn("skipping malformed coin", "error", err)
				continue
			}
			units = append(units, unit)
		}
		res, err := f.loader.Insert(ctx, units, fetchFormat)
		stats.merge(res)
		if err != nil {
			return stats, err
		}

		f.logger.Debug("page fetched", "page", pages, "coins", len(page.Data), "has_next", page.HasNextPage)
		if !page.HasNextPage || page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	stats.Elapsed = time.Since(start)
	f.logger.Info("fetch complete",
		"owner", owner,
		"pages", pages,
		"read", stats.Read,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}

func (f *Fetcher) getPageWithRetry(ctx context.Context, owner string, cursor *string) (*suirpc.CoinPage, error) {
	const stage = "fetcher.get_coins"

	maxAttempts := f.retryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	lastDecision := retry.Decision{Class: retry.ClassTerminal, Reason: "unset"}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		page, err := f.client.GetCoins(ctx, owner, f.coinType, cursor, f.pageSize)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		lastDecision = retry.Classify(err)
		if !lastDecision.IsTransient() {
			return nil, fmt.Errorf("terminal_failure stage=%s attempt=%d reason=%s: %w", stage, attempt, lastDecision.Reason, err)
		}
		if attempt == maxAttempts {
			break
		}
		f.logger.Warn("get coins failed; retrying",
			"stage", stage,
			"classification_reason", lastDecision.Reason,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)
		if err := f.sleep(ctx, f.retryDelay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transient_recovery_exhausted stage=%s attempts=%d reason=%s: %w", stage, maxAttempts, lastDecision.Reason, lastErr)
}

func (f *Fetcher) retryDelay(attempt int) time.Duration {
	delay := f.backoffInitial
	if delay <= 0 {
		delay = defaultFetchBackoffStart
	}
	maxDelay := f.backoffMax
	if maxDelay <= 0 {
		maxDelay = defaultFetchBackoffMax
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if f.sleepFn != nil {
		return f.sleepFn(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
