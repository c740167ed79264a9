package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/wlmyng/merge-coin-scripts/internal/alert"
	"github.com/wlmyng/merge-coin-scripts/internal/circuitbreaker"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/event"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/executor"
	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline/scanner"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline/worker"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline/writer"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
	"github.com/wlmyng/merge-coin-scripts/internal/tracing"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueDepth          = 1
	defaultLeaseTTL            = 2 * time.Minute
	defaultDepthSampleInterval = 5 * time.Second
	finalizeTimeout            = 30 * time.Second
)

// Mode selects which ledger states a pass picks up besides pending.
type Mode struct {
	RetryFailed         bool
	RetryPayerExhausted bool
	// ReadmitProcessing re-selects records left in processing by an
	// aborted pass. Only safe when no other pass is running.
	ReadmitProcessing bool
}

// Statuses returns the eligible set for the pass, pending first.
func (m Mode) Statuses() []model.UnitStatus {
	statuses := []model.UnitStatus{model.UnitStatusPending}
	if m.RetryFailed {
		statuses = append(statuses, model.UnitStatusFailed)
	}
	if m.RetryPayerExhausted {
		statuses = append(statuses, model.UnitStatusPayerExhausted)
	}
	if m.ReadmitProcessing {
		statuses = append(statuses, model.UnitStatusProcessing)
	}
	return statuses
}

// RetryConfig bounds a stage's retry loop. Zero values fall back to the
// stage's defaults.
type RetryConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type Config struct {
	Network          string
	BatchSize        int
	QueueDepth       int // per worker
	ResultBufferSize int // 0 = 2 × workers
	Mode             Mode
	StartAfter       int64
	LeaseTTL         time.Duration

	ScannerRetry RetryConfig
	WorkerRetry  RetryConfig
	WriterRetry  RetryConfig

	BreakerEnabled bool
	Breaker        circuitbreaker.Config

	DepthSampleInterval time.Duration
}

// Summary reports the outcome of one pass.
type Summary struct {
	PassID      string
	Network     string
	Statuses    []model.UnitStatus
	Batches     int64
	Units       int64
	Applied     map[model.UnitStatus]int64 // units per status applied by this pass
	Counts      map[model.UnitStatus]int64 // ledger totals after the pass
	Interrupted bool
	Elapsed     time.Duration
}

// Pipeline wires one pass: scanner → per-payer worker queues → workers →
// results channel → writer.
type Pipeline struct {
	cfg     Config
	repo    store.UnitRepository
	exec    executor.Executor
	payers  []model.Payer
	logger  *slog.Logger
	leaser  store.PayerLeaser
	alerter alert.Alerter
	health  *PassHealth
}

type Option func(*Pipeline)

// WithLeaser guards the payers against a concurrent pass in another process.
func WithLeaser(l store.PayerLeaser) Option {
	return func(p *Pipeline) {
		p.leaser = l
	}
}

func WithAlerter(a alert.Alerter) Option {
	return func(p *Pipeline) {
		if a != nil {
			p.alerter = a
		}
	}
}

func WithHealth(h *PassHealth) Option {
	return func(p *Pipeline) {
		if h != nil {
			p.health = h
		}
	}
}

func New(
	cfg Config,
	repo store.UnitRepository,
	exec executor.Executor,
	payers []model.Payer,
	logger *slog.Logger,
	opts ...Option,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:     cfg,
		repo:    repo,
		exec:    exec,
		payers:  payers,
		logger:  logger.With("component", "pipeline", "network", cfg.Network),
		alerter: &alert.NoopAlerter{},
		health:  NewPassHealth(cfg.Network),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Pipeline) Health() *PassHealth { return p.health }

func (p *Pipeline) validate() error {
	if p.repo == nil {
		return errors.New("pipeline: ledger is required")
	}
	if p.exec == nil {
		return errors.New("pipeline: executor is required")
	}
	if len(p.payers) == 0 {
		return errors.New("pipeline: at least one payer is required")
	}
	seen := make(map[string]struct{}, len(p.payers))
	for _, payer := range p.payers {
		id := model.NormalizeObjectID(payer.ObjectID)
		if id == "" {
			return errors.New("pipeline: empty payer id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("pipeline: payer %s listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	if p.cfg.BatchSize < 1 || p.cfg.BatchSize > model.MaxBatchSize {
		return fmt.Errorf("pipeline: batch size must be in [1, %d], got %d", model.MaxBatchSize, p.cfg.BatchSize)
	}
	return nil
}

// Run executes one pass until the ledger has no eligible record left and
// every queue and the writer have drained. On a fatal error the summary is
// still returned, with Interrupted set.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	passID := uuid.NewString()
	ctx = tracing.WithPass(ctx, passID)
	logger := p.logger.With("pass_id", passID)
	statuses := p.cfg.Mode.Statuses()
	start := time.Now()

	var leaseLost <-chan struct{}
	if p.leaser != nil {
		release, lost, err := p.leaser.Acquire(ctx, model.PayerIDs(p.payers), p.effectiveLeaseTTL())
		if err != nil {
			return nil, fmt.Errorf("acquire payer leases: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				logger.Warn("release payer leases failed", "error", err)
			}
		}()
		leaseLost = lost
	}

	p.health.Start(passID)

	workers := len(p.payers)
	depth := p.effectiveQueueDepth()
	sendQueues := make([]chan<- event.Batch, workers)
	recvQueues := make([]<-chan event.Batch, workers)
	queues := make([]chan event.Batch, workers)
	for i := range p.payers {
		q := make(chan event.Batch, depth)
		queues[i] = q
		sendQueues[i] = q
		recvQueues[i] = q
	}
	resultCh := make(chan event.StatusEvent, p.effectiveResultBufferSize())

	scan := scanner.New(p.repo, sendQueues, resultCh, scanner.Config{
		BatchSize:  p.cfg.BatchSize,
		Statuses:   statuses,
		Exclude:    model.PayerIDs(p.payers),
		StartAfter: p.cfg.StartAfter,
		Network:    p.cfg.Network,
	}, logger, scanner.WithRetryConfig(
		p.cfg.ScannerRetry.MaxAttempts,
		p.cfg.ScannerRetry.BackoffInitial,
		p.cfg.ScannerRetry.BackoffMax,
	))

	poolOpts := []worker.Option{
		worker.WithNetwork(p.cfg.Network),
		worker.WithAlerter(p.alerter),
	}
	if p.cfg.WorkerRetry.MaxAttempts > 0 {
		poolOpts = append(poolOpts, worker.WithRetryConfig(
			p.cfg.WorkerRetry.MaxAttempts,
			p.cfg.WorkerRetry.BackoffInitial,
			p.cfg.WorkerRetry.BackoffMax,
		))
	}
	if p.cfg.BreakerEnabled {
		poolOpts = append(poolOpts, worker.WithCircuitBreaker(p.cfg.Breaker))
	}
	pool := worker.NewPool(p.exec, p.payers, recvQueues, resultCh, logger, poolOpts...)

	writerOpts := []writer.Option{
		writer.WithNetwork(p.cfg.Network),
		writer.WithObserver(p.health.Observe),
	}
	if p.cfg.WriterRetry.MaxAttempts > 0 {
		writerOpts = append(writerOpts, writer.WithRetryConfig(
			p.cfg.WriterRetry.MaxAttempts,
			p.cfg.WriterRetry.BackoffInitial,
			p.cfg.WriterRetry.BackoffMax,
		))
	}
	write := writer.New(p.repo, resultCh, logger, writerOpts...)

	logger.Info("pass starting",
		"workers", workers,
		"batch_size", p.cfg.BatchSize,
		"queue_depth", depth,
		"statuses", store.StatusStrings(statuses),
		"start_after", p.cfg.StartAfter,
	)

	g, gCtx := errgroup.WithContext(ctx)
	writerDone := make(chan struct{})

	g.Go(func() error {
		defer close(writerDone)
		return write.Run(gCtx)
	})

	// Producers: the results channel is closed only after the scanner and
	// every worker have returned, so the writer sees close as end of pass.
	g.Go(func() error {
		defer close(resultCh)
		pg, pCtx := errgroup.WithContext(gCtx)
		pg.Go(func() error {
			return scan.Run(pCtx)
		})
		pg.Go(func() error {
			return pool.Run(pCtx)
		})
		return pg.Wait()
	})

	g.Go(func() error {
		p.sampleDepth(gCtx, writerDone, queues, resultCh)
		return nil
	})

	// Another process may claim the payers once the lease lapses, so the
	// pass stops spending them.
	if leaseLost != nil {
		g.Go(func() error {
			select {
			case <-leaseLost:
				logger.Error("payer lease lost, aborting pass")
				return store.ErrPayerLeaseLost
			case <-writerDone:
				return nil
			case <-gCtx.Done():
				return nil
			}
		})
	}

	runErr := g.Wait()
	elapsed := time.Since(start)

	scanStats := scan.Stats()
	summary := &Summary{
		PassID:      passID,
		Network:     p.cfg.Network,
		Statuses:    statuses,
		Batches:     scanStats.Batches,
		Units:       scanStats.Units,
		Applied:     write.Tally().Units,
		Interrupted: runErr != nil,
		Elapsed:     elapsed,
	}

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	counts, countErr := p.repo.CountByStatus(finalizeCtx)
	if countErr != nil {
		logger.Warn("count by status failed", "error", countErr)
	} else {
		summary.Counts = counts
		for status, n := range counts {
			metrics.LedgerUnitsByStatus.WithLabelValues(p.cfg.Network, string(status)).Set(float64(n))
		}
	}

	p.health.Finish(runErr)
	metrics.PipelinePassDuration.WithLabelValues(p.cfg.Network).Observe(elapsed.Seconds())

	if runErr != nil {
		metrics.PipelinePassesTotal.WithLabelValues(p.cfg.Network, "aborted").Inc()
		logger.Error("pass aborted",
			"batches", summary.Batches,
			"units", summary.Units,
			"elapsed", elapsed,
			"error", runErr,
		)
		p.sendAlert(finalizeCtx, logger, alert.AlertTypePassAborted, passID, "Merge pass aborted", runErr.Error(), summary)
		return summary, runErr
	}

	metrics.PipelinePassesTotal.WithLabelValues(p.cfg.Network, "completed").Inc()
	if counts != nil && counts[model.UnitStatusProcessing] > 0 {
		logger.Warn("records still processing after pass; readmit them with an explicit pass",
			"processing", counts[model.UnitStatusProcessing],
		)
	}
	logger.Info("pass completed",
		"batches", summary.Batches,
		"units", summary.Units,
		"merged", summary.Applied[model.UnitStatusMerged],
		"failed", summary.Applied[model.UnitStatusFailed],
		"payer_exhausted", summary.Applied[model.UnitStatusPayerExhausted],
		"elapsed", elapsed,
	)
	p.sendAlert(finalizeCtx, logger, alert.AlertTypePassCompleted, passID, "Merge pass completed",
		fmt.Sprintf("%d units in %d batches", summary.Units, summary.Batches), summary)
	return summary, nil
}

func (p *Pipeline) sampleDepth(ctx context.Context, done <-chan struct{}, queues []chan event.Batch, resultCh chan event.StatusEvent) {
	ticker := time.NewTicker(p.effectiveDepthSampleInterval())
	defer ticker.Stop()
	network := p.cfg.Network
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			for i, q := range queues {
				metrics.PipelineChannelDepth.WithLabelValues(network, "worker_"+strconv.Itoa(i)).Set(float64(len(q)))
			}
			metrics.PipelineChannelDepth.WithLabelValues(network, "results").Set(float64(len(resultCh)))
		}
	}
}

func (p *Pipeline) sendAlert(ctx context.Context, logger *slog.Logger, typ alert.AlertType, passID, title, message string, summary *Summary) {
	fields := map[string]string{
		"pass_id": passID,
		"batches": strconv.FormatInt(summary.Batches, 10),
		"units":   strconv.FormatInt(summary.Units, 10),
		"elapsed": summary.Elapsed.Round(time.Second).String(),
	}
	for status, n := range summary.Applied {
		if n > 0 && status != model.UnitStatusProcessing {
			fields[string(status)] = strconv.FormatInt(n, 10)
		}
	}
	err := p.alerter.Send(ctx, alert.Alert{
		Type:    typ,
		Network: p.cfg.Network,
		Subject: passID,
		Title:   title,
		Message: message,
		Fields:  fields,
	})
	if err != nil {
		logger.Warn("pass alert failed", "type", typ, "error", err)
	}
}

func (p *Pipeline) effectiveQueueDepth() int {
	if p.cfg.QueueDepth <= 0 {
		return defaultQueueDepth
	}
	return p.cfg.QueueDepth
}

func (p *Pipeline) effectiveResultBufferSize() int {
	if p.cfg.ResultBufferSize <= 0 {
		return 2 * len(p.payers)
	}
	return p.cfg.ResultBufferSize
}

func (p *Pipeline) effectiveLeaseTTL() time.Duration {
	if p.cfg.LeaseTTL <= 0 {
		return defaultLeaseTTL
	}
	return p.cfg.LeaseTTL
}

func (p *Pipeline) effectiveDepthSampleInterval() time.Duration {
	if p.cfg.DepthSampleInterval <= 0 {
		return defaultDepthSampleInterval
	}
	return p.cfg.DepthSampleInterval
}
