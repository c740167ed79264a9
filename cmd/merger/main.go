package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wlmyng/merge-coin-scripts/internal/admin"
	"github.com/wlmyng/merge-coin-scripts/internal/alert"
	"github.com/wlmyng/merge-coin-scripts/internal/chain/ratelimit"
	"github.com/wlmyng/merge-coin-scripts/internal/chain/sui"
	suirpc "github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"github.com/wlmyng/merge-coin-scripts/internal/circuitbreaker"
	"github.com/wlmyng/merge-coin-scripts/internal/config"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/ingest"
	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
	"github.com/wlmyng/merge-coin-scripts/internal/store/postgres"
	redispkg "github.com/wlmyng/merge-coin-scripts/internal/store/redis"
	"github.com/wlmyng/merge-coin-scripts/internal/store/sqlite"
	"github.com/wlmyng/merge-coin-scripts/internal/tracing"
	"golang.org/x/sync/errgroup"
)

const (
	commandRun    = "run"
	commandIngest = "ingest"
	commandFetch  = "fetch"
	commandStatus = "status"
)

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         *prometheus.GaugeVec
	inUse        *prometheus.GaugeVec
	idle         *prometheus.GaugeVec
	waitCount    *prometheus.GaugeVec
	waitDuration *prometheus.GaugeVec
}

// ledgerRepo is what every ledger backend provides.
type ledgerRepo interface {
	store.UnitRepository
	store.Purger
}

type ledgerHandle struct {
	repo   ledgerRepo
	stats  dbStatsProvider
	driver string
	close  func() error
}

func collectDBPoolStats(db dbStatsProvider, driver string, gauges dbPoolStatsGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.WithLabelValues(driver).Set(float64(stats.OpenConnections))
	gauges.inUse.WithLabelValues(driver).Set(float64(stats.InUse))
	gauges.idle.WithLabelValues(driver).Set(float64(stats.Idle))
	gauges.waitCount.WithLabelValues(driver).Set(float64(stats.WaitCount))
	gauges.waitDuration.WithLabelValues(driver).Set(stats.WaitDuration.Seconds())
	return nil
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, driver string, intervalMS int, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}

	gauges := dbPoolStatsGauges{
		open:         metrics.DBPoolOpen,
		inUse:        metrics.DBPoolInUse,
		idle:         metrics.DBPoolIdle,
		waitCount:    metrics.DBPoolWaitCount,
		waitDuration: metrics.DBPoolWaitDurationSeconds,
	}

	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)

	go func() {
		defer ticker.Stop()

		if err := collectDBPoolStats(db, driver, gauges); err != nil {
			logger.Warn("failed to collect initial db pool stats", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectDBPoolStats(db, driver, gauges); err != nil {
					logger.Warn("failed to collect db pool stats", "error", err)
				}
			}
		}
	}()
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == config.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	command := commandRun
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		Service:     "merger",
		Network:     cfg.Sui.Network,
		Ledger:      cfg.Ledger.Driver,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	// Context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := execute(ctx, command, cfg, os.Stdout, logger); err != nil {
		logger.Error("merger exited with error", "command", command, "error", err)
		cancel()
		_ = shutdownTracing(context.Background())
		os.Exit(1)
	}
	logger.Info("merger finished", "command", command)
}

func execute(ctx context.Context, command string, cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	switch command {
	case commandRun, commandIngest, commandFetch, commandStatus:
	default:
		return fmt.Errorf("unknown command %q (want %s, %s, %s or %s)", command, commandRun, commandIngest, commandFetch, commandStatus)
	}

	ledger, err := openLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.close(); err != nil {
			logger.Warn("close ledger failed", "error", err)
		}
	}()
	logger.Info("ledger opened", "driver", ledger.driver)

	switch command {
	case commandIngest:
		return runIngest(ctx, cfg, ledger.repo, stdout, logger)
	case commandFetch:
		return runFetch(ctx, cfg, ledger.repo, stdout, logger)
	case commandStatus:
		return runStatus(ctx, ledger.repo, stdout)
	default:
		return runPass(ctx, cfg, ledger, stdout, logger)
	}
}

func openLedger(cfg config.LedgerConfig) (*ledgerHandle, error) {
	switch cfg.Driver {
	case config.LedgerDriverPostgres:
		db, err := postgres.New(postgres.Config{
			URL:                cfg.URL,
			MaxOpenConns:       cfg.MaxOpenConns,
			MaxIdleConns:       cfg.MaxIdleConns,
			ConnMaxLifetime:    cfg.ConnMaxLifetime,
			StatementTimeoutMS: cfg.StatementTimeoutMS,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres ledger: %w", err)
		}
		if err := db.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres ledger: %w", err)
		}
		return &ledgerHandle{repo: postgres.NewUnitRepo(db), stats: db.DB, driver: cfg.Driver, close: db.Close}, nil
	default:
		db, err := sqlite.Open(sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.SQLiteBusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return &ledgerHandle{repo: sqlite.NewUnitRepo(db), stats: db.DB, driver: config.LedgerDriverSQLite, close: db.Close}, nil
	}
}

func newRPCClient(cfg config.SuiConfig, logger *slog.Logger) *suirpc.Client {
	client := suirpc.NewClient(cfg.RPCURL, logger)
	client.SetRateLimiter(ratelimit.NewLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Network))
	client.SetTimeout(cfg.RPCTimeout)
	return client
}

func newAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var alerters []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(alerters) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, alerters...)
}

// newLeaser uses Redis when a URL is configured and an in-process lease
// otherwise.
func newLeaser(cfg config.RedisConfig, logger *slog.Logger) (store.PayerLeaser, func() error, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return redispkg.NewInMemoryLease(), func() error { return nil }, nil
	}
	lease, err := redispkg.NewLease(cfg.URL, cfg.LeasePrefix, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize redis payer lease: %w", err)
	}
	logger.Info("redis payer lease enabled", "redis_url", cfg.URL, "lease_prefix", cfg.LeasePrefix)
	return lease, lease.Close, nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	p := cfg.Pipeline
	return pipeline.Config{
		Network:          cfg.Sui.Network,
		BatchSize:        p.BatchSize,
		QueueDepth:       p.QueueDepth,
		ResultBufferSize: p.ResultBufferSize,
		Mode: pipeline.Mode{
			RetryFailed:         p.RetryFailed,
			RetryPayerExhausted: p.RetryPayerExhausted,
			ReadmitProcessing:   p.ReadmitProcessing,
		},
		StartAfter:   p.StartAfter,
		LeaseTTL:     cfg.Redis.LeaseTTL,
		ScannerRetry: pipeline.RetryConfig(p.ScannerRetry),
		WorkerRetry:  pipeline.RetryConfig(p.WorkerRetry),
		WriterRetry:  pipeline.RetryConfig(p.WriterRetry),

		BreakerEnabled: p.BreakerEnabled,
		Breaker: circuitbreaker.Config{
			FailureThreshold: p.BreakerFailureThreshold,
			SuccessThreshold: p.BreakerSuccessThreshold,
			OpenTimeout:      p.BreakerOpenTimeout,
		},
		DepthSampleInterval: p.DepthSampleInterval,
	}
}

func runPass(ctx context.Context, cfg *config.Config, ledger *ledgerHandle, stdout io.Writer, logger *slog.Logger) error {
	if err := cfg.ValidateRun(); err != nil {
		return err
	}
	payers, err := model.NewPayers(cfg.Pipeline.GasObjects)
	if err != nil {
		return fmt.Errorf("GAS_OBJECTS: %w", err)
	}
	signer, err := sui.ParseKeystoreKey(cfg.Sui.KeystoreKey)
	if err != nil {
		return fmt.Errorf("SUI_KEYSTORE_KEY: %w", err)
	}

	leaser, closeLeaser, err := newLeaser(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLeaser(); err != nil {
			logger.Warn("close payer lease failed", "error", err)
		}
	}()

	exec := sui.NewAdapterWithClient(newRPCClient(cfg.Sui, logger), signer, logger, sui.WithGasBudget(cfg.Sui.GasBudget))
	logger.Info("starting merge pass",
		"sui_rpc", cfg.Sui.RPCURL,
		"sui_network", cfg.Sui.Network,
		"signer", signer.Address(),
		"payers", len(payers),
		"batch_size", cfg.Pipeline.BatchSize,
	)

	p := pipeline.New(pipelineConfig(cfg), ledger.repo, exec, payers, logger,
		pipeline.WithLeaser(leaser),
		pipeline.WithAlerter(newAlerter(cfg.Alert, logger)),
	)

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g, gCtx := errgroup.WithContext(serverCtx)

	if cfg.Server.HealthPort > 0 {
		g.Go(func() error {
			return runHealthServer(gCtx, cfg.Server.HealthPort, p.Health(), logger)
		})
	}
	startDBPoolStatsPump(gCtx, ledger.stats, ledger.driver, cfg.Ledger.PoolStatsIntervalMS, logger)

	passCtx, cancelPass := context.WithCancel(gCtx)
	defer cancelPass()
	if cfg.Server.AdminAddr != "" {
		adminSrv := admin.NewServer(ledger.repo, logger,
			admin.WithHealthProvider(p.Health()),
			admin.WithStopper(newPassStopper(cancelPass, logger)),
		)
		g.Go(func() error {
			return runAdminServer(gCtx, cfg.Server.AdminAddr, adminSrv.Handler(), p.Health(), logger)
		})
	}

	var summary *pipeline.Summary
	g.Go(func() error {
		defer stopServer()
		s, err := p.Run(passCtx)
		summary = s
		return err
	})

	runErr := g.Wait()
	if summary != nil {
		if err := writeJSON(stdout, summaryView(summary)); err != nil {
			logger.Warn("write pass summary failed", "error", err)
		}
	}
	return runErr
}

// newPassStopper cancels the pass once; later calls report false.
func newPassStopper(cancel context.CancelFunc, logger *slog.Logger) admin.StopFunc {
	var stopped atomic.Bool
	return func(reason string) bool {
		if !stopped.CompareAndSwap(false, true) {
			return false
		}
		logger.Warn("stopping merge pass", "reason", reason)
		cancel()
		return true
	}
}

func runIngest(ctx context.Context, cfg *config.Config, repo ledgerRepo, stdout io.Writer, logger *slog.Logger) error {
	if err := cfg.ValidateIngest(); err != nil {
		return err
	}
	var format ingest.Format
	if cfg.Ingest.DumpFormat != "" {
		f, err := ingest.ParseFormat(cfg.Ingest.DumpFormat)
		if err != nil {
			return fmt.Errorf("DUMP_FORMAT: %w", err)
		}
		format = f
	}

	if cfg.Ingest.Purge {
		n, err := repo.Purge(ctx)
		if err != nil {
			return fmt.Errorf("purge ledger: %w", err)
		}
		logger.Info("ledger purged", "deleted", n)
	}

	dump, err := ingest.OpenDump(ctx, cfg.Ingest.DumpSource, format)
	if err != nil {
		return err
	}
	defer func() {
		if err := dump.Close(); err != nil {
			logger.Warn("close dump failed", "error", err)
		}
	}()

	reader, err := ingest.NewRecordReader(dump, dump.Format)
	if err != nil {
		return err
	}
	loader := ingest.NewLoader(repo, logger,
		ingest.WithChunkSize(cfg.Ingest.ChunkSize),
		ingest.WithExclude(cfg.Pipeline.GasObjects),
		ingest.WithCoinType(cfg.Sui.CoinType),
	)
	stats, err := loader.Load(ctx, reader, string(dump.Format))
	if err != nil {
		return err
	}
	return writeJSON(stdout, stats)
}

func runFetch(ctx context.Context, cfg *config.Config, repo ledgerRepo, stdout io.Writer, logger *slog.Logger) error {
	if err := cfg.ValidateFetch(); err != nil {
		return err
	}
	loader := ingest.NewLoader(repo, logger,
		ingest.WithChunkSize(cfg.Ingest.ChunkSize),
		ingest.WithExclude(cfg.Pipeline.GasObjects),
		ingest.WithCoinType(cfg.Sui.CoinType),
	)
	fetcher := ingest.NewFetcher(newRPCClient(cfg.Sui, logger), loader, logger,
		ingest.WithPageSize(cfg.Ingest.FetchPageSize),
		ingest.WithFetchCoinType(cfg.Sui.CoinType),
	)
	stats, err := fetcher.Fetch(ctx, cfg.Ingest.Signer)
	if err != nil {
		return err
	}
	return writeJSON(stdout, stats)
}

type statusCount struct {
	Status string `json:"status"`
	Units  int64  `json:"units"`
}

func runStatus(ctx context.Context, repo store.UnitRepository, stdout io.Writer) error {
	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count by status: %w", err)
	}
	return writeJSON(stdout, statusCounts(counts))
}

func statusCounts(counts map[model.UnitStatus]int64) []statusCount {
	out := make([]statusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, statusCount{Status: string(status), Units: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}

type passSummary struct {
	PassID      string        `json:"pass_id"`
	Network     string        `json:"network"`
	Statuses    []string      `json:"statuses"`
	Batches     int64         `json:"batches"`
	Units       int64         `json:"units"`
	Applied     []statusCount `json:"applied"`
	Ledger      []statusCount `json:"ledger"`
	Interrupted bool          `json:"interrupted"`
	Elapsed     string        `json:"elapsed"`
}

func summaryView(s *pipeline.Summary) passSummary {
	return passSummary{
		PassID:      s.PassID,
		Network:     s.Network,
		Statuses:    store.StatusStrings(s.Statuses),
		Batches:     s.Batches,
		Units:       s.Units,
		Applied:     statusCounts(s.Applied),
		Ledger:      statusCounts(s.Counts),
		Interrupted: s.Interrupted,
		Elapsed:     s.Elapsed.Round(time.Millisecond).String(),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func healthHandler(health *pipeline.PassHealth, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		if err := json.NewEncoder(w).Encode(health.Snapshot()); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	}
}

func runHealthServer(ctx context.Context, port int, health *pipeline.PassHealth, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(health, logger))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func runAdminServer(ctx context.Context, addr string, handler http.Handler, pass admin.HealthProvider, logger *slog.Logger) error {
	limiter := admin.NewRateLimitMiddleware(logger)
	defer limiter.Stop()

	server := &http.Server{
		Addr:              addr,
		Handler:           admin.AuditMiddleware(logger, pass, limiter.Wrap(handler)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}
