package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/event"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline/retry"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
	"github.com/wlmyng/merge-coin-scripts/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultRetryMaxAttempts  = 5
	defaultRetryDelayInitial = 100 * time.Millisecond
	defaultRetryDelayMax     = 2 * time.Second
)

// Tally counts what the writer has applied, per target status.
type Tally struct {
	Events   map[model.UnitStatus]int64
	Units    map[model.UnitStatus]int64
	Affected int64
}

// Writer is the only component that changes unit status. It applies events
// strictly in the order they arrive on the results channel.
type Writer struct {
	repo     store.UnitRepository
	resultCh <-chan event.StatusEvent
	logger   *slog.Logger
	network  string

	retryMaxAttempts int
	retryDelayStart  time.Duration
	retryDelayMax    time.Duration
	sleepFn          func(context.Context, time.Duration) error
	observer         func(event.StatusEvent)

	mu    sync.Mutex
	tally Tally
}

type Option func(*Writer)

func WithRetryConfig(maxAttempts int, delayInitial, delayMax time.Duration) Option {
	return func(w *Writer) {
		w.retryMaxAttempts = maxAttempts
		w.retryDelayStart = delayInitial
		w.retryDelayMax = delayMax
	}
}

func WithNetwork(network string) Option {
	return func(w *Writer) {
		w.network = network
	}
}

// WithObserver registers a callback invoked after each event is applied.
func WithObserver(fn func(event.StatusEvent)) Option {
	return func(w *Writer) {
		w.observer = fn
	}
}

func New(repo store.UnitRepository, resultCh <-chan event.StatusEvent, logger *slog.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		repo:             repo,
		resultCh:         resultCh,
		logger:           logger.With("component", "writer"),
		retryMaxAttempts: defaultRetryMaxAttempts,
		retryDelayStart:  defaultRetryDelayInitial,
		retryDelayMax:    defaultRetryDelayMax,
		tally: Tally{
			Events: store.EmptyCounts(),
			Units:  store.EmptyCounts(),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run consumes events until the results channel is closed. A ledger write
// that keeps failing is returned wrapped in retry.ErrLedgerIO.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info("writer started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("writer stopping")
			return ctx.Err()
		case ev, ok := <-w.resultCh:
			if !ok {
				t := w.Tally()
				w.logger.Info("writer drained", "affected", t.Affected)
				return nil
			}
			if err := w.apply(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("apply transition failed",
					"status", ev.Status,
					"batch_seq", ev.BatchSeq,
					"worker", ev.WorkerID,
					"positions", len(ev.Positions),
					"error", err,
				)
				return retry.LedgerIO(fmt.Errorf("writer apply batch_seq=%d status=%s: %w", ev.BatchSeq, ev.Status, err))
			}
		}
	}
}

// Tally returns a copy of the counts applied so far.
func (w *Writer) Tally() Tally {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := Tally{
		Events:   make(map[model.UnitStatus]int64, len(w.tally.Events)),
		Units:    make(map[model.UnitStatus]int64, len(w.tally.Units)),
		Affected: w.tally.Affected,
	}
	for k, v := range w.tally.Events {
		out.Events[k] = v
	}
	for k, v := range w.tally.Units {
		out.Units[k] = v
	}
	return out
}

func (w *Writer) apply(ctx context.Context, ev event.StatusEvent) error {
	spanCtx, span := tracing.Start(ctx, "writer", "apply_transition",
		tracing.AttrStatus.String(string(ev.Status)),
		attribute.String("merger.source", string(ev.Source)),
		tracing.AttrBatchSeq.Int64(ev.BatchSeq),
		tracing.AttrUnits.Int(len(ev.Positions)),
	)
	defer span.End()

	start := time.Now()
	affected, err := w.applyWithRetry(spanCtx, store.Transition{
		Positions: ev.Positions,
		Status:    ev.Status,
		Error:     ev.Error,
		PayerHint: ev.PayerHint,
	})
	metrics.WriterLatency.WithLabelValues(w.network).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.WriterErrors.WithLabelValues(w.network).Inc()
		return err
	}

	if affected < int64(len(ev.Positions)) {
		// Rows already merged are left alone by the ledger.
		w.logger.Debug("transition skipped merged rows",
			"status", ev.Status,
			"batch_seq", ev.BatchSeq,
			"positions", len(ev.Positions),
			"affected", affected,
		)
	}

	w.mu.Lock()
	w.tally.Events[ev.Status]++
	w.tally.Units[ev.Status] += int64(len(ev.Positions))
	w.tally.Affected += affected
	w.mu.Unlock()

	metrics.WriterTransitionsTotal.WithLabelValues(w.network, string(ev.Status)).Inc()
	metrics.WriterUnitsTotal.WithLabelValues(w.network, string(ev.Status)).Add(float64(affected))
	if w.observer != nil {
		w.observer(ev)
	}
	return nil
}

func (w *Writer) applyWithRetry(ctx context.Context, t store.Transition) (int64, error) {
	const stage = "writer.apply_transition"

	maxAttempts := w.effectiveRetryMaxAttempts()
	var lastErr error
	lastDecision := retry.Decision{
		Class:  retry.ClassTerminal,
		Reason: "unset",
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		affected, err := w.repo.ApplyTransition(ctx, t)
		if err == nil {
			return affected, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		lastErr = err
		lastDecision = retry.Classify(err)
		if !lastDecision.IsTransient() {
			return 0, fmt.Errorf("terminal_failure stage=%s attempt=%d reason=%s: %w", stage, attempt, lastDecision.Reason, err)
		}
		if attempt == maxAttempts {
			break
		}

		w.logger.Warn("apply transition attempt failed; retrying",
			"stage", stage,
			"classification", lastDecision.Class,
			"classification_reason", lastDecision.Reason,
			"status", t.Status,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)
		if err := w.sleep(ctx, w.retryDelay(attempt)); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("transient_recovery_exhausted stage=%s attempts=%d reason=%s: %w", stage, maxAttempts, lastDecision.Reason, lastErr)
}

func (w *Writer) effectiveRetryMaxAttempts() int {
	if w.retryMaxAttempts <= 0 {
		return 1
	}
	return w.retryMaxAttempts
}

func (w *Writer) retryDelay(attempt int) time.Duration {
	delay := w.retryDelayStart
	if delay <= 0 {
		delay = defaultRetryDelayInitial
	}
	maxDelay := w.retryDelayMax
	if maxDelay <= 0 {
		maxDelay = defaultRetryDelayMax
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (w *Writer) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if w.sleepFn != nil {
		return w.sleepFn(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
