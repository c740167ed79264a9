package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/alert"
	"github.com/wlmyng/merge-coin-scripts/internal/circuitbreaker"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/event"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/executor"
	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline/retry"
	"github.com/wlmyng/merge-coin-scripts/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRetryMaxAttempts = 1
	defaultBackoffInitial   = 500 * time.Millisecond
	defaultBackoffMax       = 5 * time.Second
	alertTimeout            = 10 * time.Second
)

// Stats counts batch outcomes across the pool.
type Stats struct {
	Batches        int64
	Merged         int64
	Failed         int64
	PayerExhausted int64
	Retries        int64
}

// Pool runs one worker per payer. Worker i only reads queues[i] and only
// spends payers[i].
type Pool struct {
	exec     executor.Executor
	payers   []model.Payer
	queues   []<-chan event.Batch
	resultCh chan<- event.StatusEvent
	logger   *slog.Logger
	network  string
	alerter  alert.Alerter

	retryMaxAttempts int
	backoffInitial   time.Duration
	backoffMax       time.Duration
	sleepFn          func(ctx context.Context, d time.Duration) error

	breakerEnabled bool
	breakerConfig  circuitbreaker.Config

	batches        atomic.Int64
	merged         atomic.Int64
	failed         atomic.Int64
	payerExhausted atomic.Int64
	retries        atomic.Int64
}

type Option func(*Pool)

// WithRetryConfig allows remote_transient failures to be retried inside the
// worker with the same payer. maxAttempts 1 disables in-worker retry.
func WithRetryConfig(maxAttempts int, backoffInitial, backoffMax time.Duration) Option {
	return func(p *Pool) {
		p.retryMaxAttempts = maxAttempts
		p.backoffInitial = backoffInitial
		p.backoffMax = backoffMax
	}
}

// WithCircuitBreaker pauses a worker after consecutive transient failures.
func WithCircuitBreaker(cfg circuitbreaker.Config) Option {
	return func(p *Pool) {
		p.breakerEnabled = true
		p.breakerConfig = cfg
	}
}

func WithAlerter(a alert.Alerter) Option {
	return func(p *Pool) {
		if a != nil {
			p.alerter = a
		}
	}
}

func WithNetwork(network string) Option {
	return func(p *Pool) {
		p.network = network
	}
}

func NewPool(
	exec executor.Executor,
	payers []model.Payer,
	queues []<-chan event.Batch,
	resultCh chan<- event.StatusEvent,
	logger *slog.Logger,
	opts ...Option,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		exec:             exec,
		payers:           payers,
		queues:           queues,
		resultCh:         resultCh,
		logger:           logger.With("component", "worker"),
		alerter:          &alert.NoopAlerter{},
		retryMaxAttempts: defaultRetryMaxAttempts,
		backoffInitial:   defaultBackoffInitial,
		backoffMax:       defaultBackoffMax,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Pool) Stats() Stats {
	return Stats{
		Batches:        p.batches.Load(),
		Merged:         p.merged.Load(),
		Failed:         p.failed.Load(),
		PayerExhausted: p.payerExhausted.Load(),
		Retries:        p.retries.Load(),
	}
}

// Run starts every worker and waits for all of them. A worker returns nil
// when its queue is closed and drained.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.payers) == 0 {
		return fmt.Errorf("worker pool: no payers")
	}
	if len(p.payers) != len(p.queues) {
		return fmt.Errorf("worker pool: %d payers but %d queues", len(p.payers), len(p.queues))
	}

	p.logger.Info("worker pool started", "workers", len(p.payers))

	g, gCtx := errgroup.WithContext(ctx)
	for i := range p.payers {
		w := p.newWorker(i)
		g.Go(func() error {
			return w.run(gCtx)
		})
	}

	err := g.Wait()
	stats := p.Stats()
	p.logger.Info("worker pool stopped",
		"batches", stats.Batches,
		"merged", stats.Merged,
		"failed", stats.Failed,
		"payer_exhausted", stats.PayerExhausted,
	)
	return err
}

type worker struct {
	pool    *Pool
	id      int
	label   string
	payer   model.Payer
	queue   <-chan event.Batch
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	// Diagnostic of the failure that exhausted the payer; nil while usable.
	exhausted *string
}

func (p *Pool) newWorker(id int) *worker {
	label := strconv.Itoa(id)
	w := &worker{
		pool:   p,
		id:     id,
		label:  label,
		payer:  p.payers[id],
		queue:  p.queues[id],
		logger: p.logger.With("worker", id, "payer", p.payers[id].ObjectID),
	}
	if p.breakerEnabled {
		cfg := p.breakerConfig
		userHook := cfg.OnStateChange
		cfg.OnStateChange = func(from, to circuitbreaker.State) {
			metrics.WorkerBreakerState.WithLabelValues(p.network, label).Set(float64(to))
			w.logger.Warn("worker circuit breaker state change", "from", from.String(), "to", to.String())
			if userHook != nil {
				userHook(from, to)
			}
		}
		w.breaker = circuitbreaker.New(cfg)
	}
	metrics.WorkerPayerExhausted.WithLabelValues(p.network, label).Set(0)
	return w
}

func (w *worker) run(ctx context.Context) error {
	w.logger.Debug("worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-w.queue:
			if !ok {
				w.logger.Debug("worker queue closed")
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, err := w.process(ctx, batch)
			if err != nil {
				// Only cancellation gets here; the batch stays processing.
				return err
			}
			select {
			case w.pool.resultCh <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *worker) process(ctx context.Context, batch event.Batch) (event.StatusEvent, error) {
	p := w.pool
	p.batches.Add(1)

	if w.exhausted != nil {
		w.logger.Info("payer exhausted; reporting batch without merge",
			"batch_seq", batch.Seq,
			"units", len(batch.Units),
		)
		return w.outcome(batch, retry.MergeDecision{
			Category:   retry.CategoryPayerExhausted,
			Reason:     "payer_previously_exhausted",
			Status:     model.UnitStatusPayerExhausted,
			PayerHint:  stringPtr(w.payer.ObjectID),
			Diagnostic: *w.exhausted,
		}), nil
	}

	spanCtx, span := tracing.Start(ctx, "worker", "merge",
		tracing.AttrWorker.Int(w.id),
		tracing.AttrPayer.String(w.payer.ObjectID),
		tracing.AttrBatchSeq.Int64(batch.Seq),
		tracing.AttrUnits.Int(len(batch.Units)),
	)
	defer span.End()

	if w.breaker != nil {
		if err := w.breaker.Wait(spanCtx); err != nil {
			return event.StatusEvent{}, err
		}
	}

	start := time.Now()
	receipt, err := w.mergeWithRetry(spanCtx, batch)
	metrics.WorkerMergeLatency.WithLabelValues(p.network, w.label).Observe(time.Since(start).Seconds())
	if ctx.Err() != nil {
		return event.StatusEvent{}, ctx.Err()
	}

	decision := retry.ClassifyMerge(err, w.payer)
	if w.breaker != nil {
		if decision.Category == retry.CategoryRemoteTransient {
			before := w.breaker.GetState()
			w.breaker.RecordFailure()
			if before != circuitbreaker.StateOpen && w.breaker.GetState() == circuitbreaker.StateOpen {
				w.alertBreakerOpen(ctx, decision.Diagnostic)
			}
		} else {
			w.breaker.RecordSuccess()
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, decision.Reason)
		w.logger.Warn("merge failed",
			"batch_seq", batch.Seq,
			"units", len(batch.Units),
			"category", decision.Category,
			"classification_reason", decision.Reason,
			"error", err,
		)
	} else {
		digest := ""
		if receipt != nil {
			digest = receipt.Digest
		}
		span.SetAttributes(attribute.String("merger.digest", digest))
		w.logger.Info("batch merged",
			"batch_seq", batch.Seq,
			"units", len(batch.Units),
			"digest", digest,
		)
	}

	if decision.Category == retry.CategoryPayerExhausted {
		diag := decision.Diagnostic
		w.exhausted = &diag
		metrics.WorkerPayerExhausted.WithLabelValues(p.network, w.label).Set(1)
		w.alertExhausted(ctx, batch, diag)
	}

	return w.outcome(batch, decision), nil
}

func (w *worker) mergeWithRetry(ctx context.Context, batch event.Batch) (*executor.Receipt, error) {
	const stage = "worker.merge"
	p := w.pool
	refs := batch.Refs()
	attempts := p.effectiveRetryMaxAttempts()

	for attempt := 1; ; attempt++ {
		receipt, err := p.exec.Merge(ctx, refs, w.payer)
		if err == nil {
			return receipt, nil
		}
		if ctx.Err() != nil || attempt >= attempts {
			return nil, err
		}
		decision := retry.ClassifyMerge(err, w.payer)
		if !decision.Retryable() {
			return nil, err
		}

		p.retries.Add(1)
		metrics.WorkerRetriesTotal.WithLabelValues(p.network, w.label).Inc()
		w.logger.Warn("merge failed; retrying",
			"stage", stage,
			"classification_reason", decision.Reason,
			"batch_seq", batch.Seq,
			"attempt", attempt,
			"error", err,
		)
		if sleepErr := p.sleep(ctx, p.retryDelay(attempt)); sleepErr != nil {
			return nil, err
		}
	}
}

func (w *worker) outcome(batch event.Batch, decision retry.MergeDecision) event.StatusEvent {
	p := w.pool
	ev := event.StatusEvent{
		Positions: batch.Positions(),
		Status:    decision.Status,
		PayerHint: decision.PayerHint,
		Category:  string(decision.Category),
		Source:    event.SourceWorker,
		WorkerID:  w.id,
		BatchSeq:  batch.Seq,
	}
	if decision.Status != model.UnitStatusMerged {
		ev.Error = stringPtr(decision.Diagnostic)
	}

	outcome := string(decision.Category)
	switch decision.Status {
	case model.UnitStatusMerged:
		p.merged.Add(1)
		outcome = "merged"
	case model.UnitStatusPayerExhausted:
		p.payerExhausted.Add(1)
	default:
		p.failed.Add(1)
	}
	metrics.WorkerBatchesTotal.WithLabelValues(p.network, w.label, outcome).Inc()
	metrics.WorkerUnitsTotal.WithLabelValues(p.network, w.label, string(decision.Status)).Add(float64(len(batch.Units)))
	return ev
}

func (w *worker) alertExhausted(ctx context.Context, batch event.Batch, diagnostic string) {
	alertCtx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	err := w.pool.alerter.Send(alertCtx, alert.Alert{
		Type:    alert.AlertTypePayerExhausted,
		Network: w.pool.network,
		Subject: w.payer.ObjectID,
		Title:   fmt.Sprintf("Payer %s exhausted", w.payer.ObjectID),
		Message: diagnostic,
		Fields: map[string]string{
			"worker":    w.label,
			"batch_seq": strconv.FormatInt(batch.Seq, 10),
		},
	})
	if err != nil {
		w.logger.Warn("payer exhaustion alert failed", "error", err)
	}
}

func (w *worker) alertBreakerOpen(ctx context.Context, diagnostic string) {
	alertCtx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	err := w.pool.alerter.Send(alertCtx, alert.Alert{
		Type:    alert.AlertTypeBreakerOpen,
		Network: w.pool.network,
		Subject: w.payer.ObjectID,
		Title:   fmt.Sprintf("Worker %d paused after repeated transient failures", w.id),
		Message: diagnostic,
		Fields: map[string]string{
			"worker":    w.label,
			"remaining": w.breaker.Remaining().String(),
			"opens":     fmt.Sprint(w.breaker.Snapshot().Opens),
		},
	})
	if err != nil {
		w.logger.Warn("breaker alert failed", "error", err)
	}
}

func (p *Pool) retryDelay(attempt int) time.Duration {
	base := p.effectiveBackoffInitial()
	max := p.effectiveBackoffMax()
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

func (p *Pool) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if p.sleepFn != nil {
		return p.sleepFn(ctx, d)
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

func (p *Pool) effectiveRetryMaxAttempts() int {
	if p.retryMaxAttempts <= 0 {
		return defaultRetryMaxAttempts
	}
	return p.retryMaxAttempts
}

func (p *Pool) effectiveBackoffInitial() time.Duration {
	if p.backoffInitial <= 0 {
		return defaultBackoffInitial
	}
	return p.backoffInitial
}

func (p *Pool) effectiveBackoffMax() time.Duration {
	if p.backoffMax <= 0 {
		return defaultBackoffMax
	}
	return p.backoffMax
}

func stringPtr(s string) *string {
	return &s
}
