package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/event"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline/retry"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
	"github.com/wlmyng/merge-coin-scripts/internal/tracing"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultRetryMaxAttempts = 3
	defaultBackoffInitial   = 100 * time.Millisecond
	defaultBackoffMax       = 2 * time.Second
)

// Config controls one scan pass.
type Config struct {
	BatchSize  int
	Statuses   []model.UnitStatus
	Exclude    []string // payer ids, never dispatched
	StartAfter int64
	Network    string
}

// Stats is a snapshot of scanner progress.
type Stats struct {
	Selects int64
	Batches int64
	Units   int64
	Cursor  int64
}

// Scanner reads eligible units in position order and fans them out to
// per-worker queues. It is the only producer of batches and of processing
// events. Each worker queue is closed when Run returns.
type Scanner struct {
	repo     store.UnitRepository
	queues   []chan<- event.Batch
	resultCh chan<- event.StatusEvent
	cfg      Config
	exclude  map[string]struct{}
	logger   *slog.Logger

	retryMaxAttempts int
	backoffInitial   time.Duration
	backoffMax       time.Duration
	sleepFn          func(ctx context.Context, d time.Duration) error

	selects atomic.Int64
	batches atomic.Int64
	units   atomic.Int64
	cursor  atomic.Int64
}

type Option func(*Scanner)

// WithRetryConfig sets how often a failed ledger read is retried when the
// failure is transient (busy/locked).
func WithRetryConfig(maxAttempts int, backoffInitial, backoffMax time.Duration) Option {
	return func(s *Scanner) {
		s.retryMaxAttempts = maxAttempts
		s.backoffInitial = backoffInitial
		s.backoffMax = backoffMax
	}
}

func New(
	repo store.UnitRepository,
	queues []chan<- event.Batch,
	resultCh chan<- event.StatusEvent,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	exclude := make(map[string]struct{}, len(cfg.Exclude))
	for _, id := range cfg.Exclude {
		if norm := model.NormalizeObjectID(id); norm != "" {
			exclude[norm] = struct{}{}
		}
	}
	s := &Scanner{
		repo:             repo,
		queues:           queues,
		resultCh:         resultCh,
		cfg:              cfg,
		exclude:          exclude,
		logger:           logger.With("component", "scanner"),
		retryMaxAttempts: defaultRetryMaxAttempts,
		backoffInitial:   defaultBackoffInitial,
		backoffMax:       defaultBackoffMax,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cursor.Store(cfg.StartAfter)
	return s
}

func (s *Scanner) Stats() Stats {
	return Stats{
		Selects: s.selects.Load(),
		Batches: s.batches.Load(),
		Units:   s.units.Load(),
		Cursor:  s.cursor.Load(),
	}
}

// Run scans to ledger exhaustion. It returns nil once a select comes back
// empty, ctx.Err() on cancellation, and a ledger_io_error when the ledger
// cannot be read.
func (s *Scanner) Run(ctx context.Context) error {
	defer s.closeQueues()

	if err := s.validate(); err != nil {
		return err
	}

	workers := len(s.queues)
	limit := workers * s.cfg.BatchSize
	s.logger.Info("scanner started",
		"workers", workers,
		"batch_size", s.cfg.BatchSize,
		"statuses", store.StatusStrings(s.cfg.Statuses),
		"start_after", s.cfg.StartAfter,
	)

	for {
		cursor := s.cursor.Load()
		units, err := s.selectWithRetry(ctx, cursor, limit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.LedgerIO(fmt.Errorf("select eligible after=%d: %w", cursor, err))
		}
		if len(units) == 0 {
			stats := s.Stats()
			s.logger.Info("scanner reached end of ledger",
				"batches", stats.Batches,
				"units", stats.Units,
				"cursor", stats.Cursor,
			)
			return nil
		}

		next, err := s.dispatch(ctx, units)
		if err != nil {
			return err
		}
		if next <= cursor {
			return retry.LedgerIO(fmt.Errorf("ledger returned positions not after cursor %d", cursor))
		}
		s.cursor.Store(next)
		metrics.ScannerCursorPosition.WithLabelValues(s.cfg.Network).Set(float64(next))
	}
}

func (s *Scanner) validate() error {
	if len(s.queues) == 0 {
		return fmt.Errorf("scanner: no worker queues")
	}
	if s.cfg.BatchSize <= 0 || s.cfg.BatchSize > model.MaxBatchSize {
		return fmt.Errorf("scanner: batch size %d outside 1..%d", s.cfg.BatchSize, model.MaxBatchSize)
	}
	return store.EligibleFilter{Statuses: s.cfg.Statuses, Limit: s.cfg.BatchSize}.Validate()
}

// dispatch splits units into contiguous batches, round-robin over workers by
// pass-global sequence, and returns the highest position seen.
func (s *Scanner) dispatch(ctx context.Context, units []model.UnitRecord) (int64, error) {
	maxPosition := s.cursor.Load()
	eligible := make([]model.UnitRecord, 0, len(units))
	for _, u := range units {
		if u.Position > maxPosition {
			maxPosition = u.Position
		}
		if _, excluded := s.exclude[model.NormalizeObjectID(u.ExternalID)]; excluded {
			s.logger.Warn("skipping payer returned by ledger", "external_id", u.ExternalID, "position", u.Position)
			continue
		}
		eligible = append(eligible, u)
	}

	for start := 0; start < len(eligible); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(eligible) {
			end = len(eligible)
		}
		seq := s.batches.Load()
		workerID := int(seq % int64(len(s.queues)))
		batch := event.Batch{
			Seq:      seq,
			WorkerID: workerID,
			Units:    eligible[start:end],
		}
		if err := s.emit(ctx, batch); err != nil {
			return 0, err
		}
	}
	return maxPosition, nil
}

// emit records the batch as processing, then hands it to its worker. The
// processing event always precedes the worker's outcome on the results
// channel.
func (s *Scanner) emit(ctx context.Context, batch event.Batch) error {
	processing := event.StatusEvent{
		Positions: batch.Positions(),
		Status:    model.UnitStatusProcessing,
		Source:    event.SourceScanner,
		WorkerID:  batch.WorkerID,
		BatchSeq:  batch.Seq,
	}
	select {
	case s.resultCh <- processing:
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()
	select {
	case s.queues[batch.WorkerID] <- batch:
	case <-ctx.Done():
		return ctx.Err()
	}
	metrics.ScannerEnqueueWait.WithLabelValues(s.cfg.Network).Observe(time.Since(start).Seconds())
	metrics.ScannerBatchesDispatched.WithLabelValues(s.cfg.Network).Inc()
	metrics.ScannerUnitsDispatched.WithLabelValues(s.cfg.Network).Add(float64(len(batch.Units)))

	s.batches.Add(1)
	s.units.Add(int64(len(batch.Units)))
	s.logger.Debug("batch dispatched",
		"batch_seq", batch.Seq,
		"worker", batch.WorkerID,
		"units", len(batch.Units),
		"first_position", batch.Units[0].Position,
		"last_position", batch.Units[len(batch.Units)-1].Position,
	)
	return nil
}

func (s *Scanner) selectWithRetry(ctx context.Context, cursor int64, limit int) ([]model.UnitRecord, error) {
	const stage = "scanner.select_eligible"

	spanCtx, span := tracing.Start(ctx, "scanner", "select_eligible",
		tracing.AttrCursor.Int64(cursor),
		tracing.AttrPageLimit.Int(limit),
	)
	defer span.End()

	filter := store.EligibleFilter{
		Statuses:           s.cfg.Statuses,
		AfterPosition:      cursor,
		Limit:              limit,
		ExcludeExternalIDs: s.cfg.Exclude,
	}

	attempts := s.effectiveRetryMaxAttempts()
	var lastErr error
	lastDecision := retry.Decision{Class: retry.ClassTerminal, Reason: "unset"}
	for attempt := 1; attempt <= attempts; attempt++ {
		s.selects.Add(1)
		metrics.ScannerSelectsTotal.WithLabelValues(s.cfg.Network).Inc()
		units, err := s.repo.SelectEligible(spanCtx, filter)
		if err == nil {
			span.SetAttributes(tracing.AttrUnits.Int(len(units)))
			return units, nil
		}
		lastErr = err
		lastDecision = retry.Classify(err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !lastDecision.IsTransient() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("terminal_failure stage=%s attempt=%d reason=%s: %w", stage, attempt, lastDecision.Reason, err)
		}
		if attempt == attempts {
			break
		}
		s.logger.Warn("ledger select failed; retrying",
			"stage", stage,
			"classification_reason", lastDecision.Reason,
			"attempt", attempt,
			"after_position", cursor,
			"error", err,
		)
		if sleepErr := s.sleep(ctx, s.retryDelay(attempt)); sleepErr != nil {
			return nil, sleepErr
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, fmt.Errorf("transient_recovery_exhausted stage=%s attempts=%d reason=%s: %w", stage, attempts, lastDecision.Reason, lastErr)
}

func (s *Scanner) closeQueues() {
	for _, q := range s.queues {
		close(q)
	}
}

func (s *Scanner) retryDelay(attempt int) time.Duration {
	base := s.effectiveBackoffInitial()
	max := s.effectiveBackoffMax()
	if max < base {
		max = base
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

func (s *Scanner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if s.sleepFn != nil {
		return s.sleepFn(ctx, d)
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

func (s *Scanner) effectiveRetryMaxAttempts() int {
	if s.retryMaxAttempts <= 0 {
		return defaultRetryMaxAttempts
	}
	return s.retryMaxAttempts
}

func (s *Scanner) effectiveBackoffInitial() time.Duration {
	if s.backoffInitial <= 0 {
		return defaultBackoffInitial
	}
	return s.backoffInitial
}

func (s *Scanner) effectiveBackoffMax() time.Duration {
	if s.backoffMax <= 0 {
		return defaultBackoffMax
	}
	return s.backoffMax
}
