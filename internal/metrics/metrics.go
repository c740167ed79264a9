package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass stage counters and histograms, partitioned by network.

var (
	// Scanner
	ScannerSelectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "scanner",
		Name:      "selects_total",
		Help:      "Total eligible-record selects issued by the scanner",
	}, []string{"network"})

	ScannerBatchesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "scanner",
		Name:      "batches_dispatched_total",
		Help:      "Total batches enqueued to worker queues",
	}, []string{"network"})

	ScannerUnitsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "scanner",
		Name:      "units_dispatched_total",
		Help:      "Total units marked processing and dispatched",
	}, []string{"network"})

	ScannerEnqueueWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "merger",
		Subsystem: "scanner",
		Name:      "enqueue_wait_seconds",
		Help:      "Time the scanner spent blocked on a full worker queue",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"network"})

	ScannerCursorPosition = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "scanner",
		Name:      "cursor_position",
		Help:      "Highest ledger position fetched in the current pass",
	}, []string{"network"})

	// Worker
	WorkerBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "worker",
		Name:      "batches_total",
		Help:      "Total batches finished by workers, by outcome",
	}, []string{"network", "worker", "outcome"})

	WorkerUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "worker",
		Name:      "units_total",
		Help:      "Total units reported by workers, by resulting status",
	}, []string{"network", "worker", "status"})

	WorkerMergeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "merger",
		Subsystem: "worker",
		Name:      "merge_duration_seconds",
		Help:      "Remote merge call duration",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"network", "worker"})

	WorkerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total in-worker retries of transient merge failures",
	}, []string{"network", "worker"})

	WorkerBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "worker",
		Name:      "breaker_state",
		Help:      "Worker circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"network", "worker"})

	WorkerPayerExhausted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "worker",
		Name:      "payer_exhausted",
		Help:      "1 when the worker's payer has been reported exhausted",
	}, []string{"network", "worker"})

	// Result writer
	WriterTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "writer",
		Name:      "transitions_total",
		Help:      "Total status events applied to the ledger",
	}, []string{"network", "status"})

	WriterUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "writer",
		Name:      "units_total",
		Help:      "Total ledger rows moved by applied status events",
	}, []string{"network", "status"})

	WriterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "writer",
		Name:      "errors_total",
		Help:      "Total writer errors (after retry exhaustion)",
	}, []string{"network"})

	WriterLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "merger",
		Subsystem: "writer",
		Name:      "apply_duration_seconds",
		Help:      "Ledger transition apply duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"network"})

	// Ledger
	LedgerUnitsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "ledger",
		Name:      "units",
		Help:      "Ledger rows per status at the end of a pass",
	}, []string{"network", "status"})

	// Pipeline-level
	PipelineChannelDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "pipeline",
		Name:      "channel_depth",
		Help:      "Current number of items buffered in a pass channel",
	}, []string{"network", "stage"})

	PipelinePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "pipeline",
		Name:      "passes_total",
		Help:      "Total passes run, by result",
	}, []string{"network", "result"})

	PipelinePassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "merger",
		Subsystem: "pipeline",
		Name:      "pass_duration_seconds",
		Help:      "Wall time of one pass",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600},
	}, []string{"network"})

	// Database pool
	DBPoolOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "db",
		Name:      "pool_open",
		Help:      "Number of open ledger connections",
	}, []string{"driver"})

	DBPoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "db",
		Name:      "pool_in_use",
		Help:      "Number of ledger connections in use",
	}, []string{"driver"})

	DBPoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "db",
		Name:      "pool_idle",
		Help:      "Number of idle ledger connections",
	}, []string{"driver"})

	DBPoolWaitCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "db",
		Name:      "pool_wait_count",
		Help:      "Total number of waits for a ledger connection",
	}, []string{"driver"})

	DBPoolWaitDurationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "merger",
		Subsystem: "db",
		Name:      "pool_wait_duration_seconds",
		Help:      "Total time spent waiting for a ledger connection",
	}, []string{"driver"})

	// RPC
	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed before sending, by cause (bucket or throttled)",
	}, []string{"network", "method", "cause"})

	RPCThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "rpc",
		Name:      "throttles_total",
		Help:      "Total pauses imposed after the fullnode answered 429",
	}, []string{"network"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC calls by method and status class",
	}, []string{"network", "method", "status"})

	// Ingestion
	IngestRowsRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "ingest",
		Name:      "rows_read_total",
		Help:      "Total dump rows parsed",
	}, []string{"format"})

	IngestRowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "ingest",
		Name:      "rows_inserted_total",
		Help:      "Total new ledger rows inserted by ingestion",
	}, []string{"format"})

	IngestRowsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "ingest",
		Name:      "rows_skipped_total",
		Help:      "Total dump rows skipped (payer ids, foreign coin types)",
	}, []string{"format", "reason"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merger",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
