package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wlmyng/merge-coin-scripts/internal/alert"
	"github.com/wlmyng/merge-coin-scripts/internal/config"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline"
	"github.com/wlmyng/merge-coin-scripts/internal/store/redis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Ledger: config.LedgerConfig{
			Driver: config.LedgerDriverSQLite,
			Path:   filepath.Join(t.TempDir(), "ledger.db"),
		},
		Sui: config.SuiConfig{
			CoinType: model.SuiCoinType,
		},
		Pipeline: config.PipelineConfig{
			GasObjects: []string{"0x00ff"},
			BatchSize:  model.DefaultBatchSize,
			QueueDepth: 1,
		},
		Ingest: config.IngestConfig{
			ChunkSize: 2,
		},
	}
}

func writeDump(t *testing.T, dir string, ids ...string) string {
	t.Helper()
	var b strings.Builder
	for i, id := range ids {
		fmt.Fprintf(&b, "1000,1,%s,%d,dig%d,AddressOwner,0xowner,,0xprev,%s,Active,true,0,AA\n", id, i+1, i+1, model.SuiCoinType)
	}
	path := filepath.Join(dir, "coins.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func decodeCounts(t *testing.T, data []byte) map[string]int64 {
	t.Helper()
	var rows []statusCount
	require.NoError(t, json.Unmarshal(data, &rows))
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Units
	}
	return counts
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LogConfig{Level: "info", Format: config.LogFormatJSON}, &buf).Info("hello", "k", "v")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])

	buf.Reset()
	newLogger(config.LogConfig{Level: "warn", Format: config.LogFormatText}, &buf).Info("dropped")
	assert.Empty(t, buf.String())
}

func TestExecute_UnknownCommand(t *testing.T) {
	err := execute(context.Background(), "compact", testConfig(t), &bytes.Buffer{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "compact"`)
}

func TestExecute_IngestThenStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.DumpSource = writeDump(t, t.TempDir(), "0x01", "0x02", "0x00ff", "0x03")

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), commandIngest, cfg, &out, testLogger()))

	var stats struct {
		Read     int64            `json:"read"`
		Inserted int64            `json:"inserted"`
		Skipped  map[string]int64 `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, int64(4), stats.Read)
	assert.Equal(t, int64(3), stats.Inserted)
	assert.Equal(t, int64(1), stats.Skipped["payer"])

	out.Reset()
	require.NoError(t, execute(context.Background(), commandStatus, cfg, &out, testLogger()))

	counts := decodeCounts(t, out.Bytes())
	assert.Len(t, counts, len(model.AllUnitStatuses()))
	assert.Equal(t, int64(3), counts["pending"])
	assert.Zero(t, counts["merged"])
}

func TestExecute_IngestPurgeReplacesLedger(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.Ingest.DumpSource = writeDump(t, dir, "0x01", "0x02")
	require.NoError(t, execute(context.Background(), commandIngest, cfg, &bytes.Buffer{}, testLogger()))

	cfg.Ingest.DumpSource = writeDump(t, t.TempDir(), "0x0a")
	cfg.Ingest.Purge = true
	require.NoError(t, execute(context.Background(), commandIngest, cfg, &bytes.Buffer{}, testLogger()))

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), commandStatus, cfg, &out, testLogger()))
	assert.Equal(t, int64(1), decodeCounts(t, out.Bytes())["pending"])
}

func TestExecute_IngestRequiresSource(t *testing.T) {
	err := execute(context.Background(), commandIngest, testConfig(t), &bytes.Buffer{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DUMP_SOURCE")
}

func TestExecute_IngestRejectsUnknownFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.DumpSource = writeDump(t, t.TempDir(), "0x01")
	cfg.Ingest.DumpFormat = "parquet"
	err := execute(context.Background(), commandIngest, cfg, &bytes.Buffer{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DUMP_FORMAT")
}

func TestExecute_RunValidatesBeforeTouchingRemote(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.GasObjects = nil
	err := execute(context.Background(), commandRun, cfg, &bytes.Buffer{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GAS_OBJECTS")

	cfg.Pipeline.GasObjects = []string{"0x01", "0X01"}
	cfg.Sui.KeystoreKey = "unused"
	cfg.Sui.RPCURL = "http://127.0.0.1:1"
	err = execute(context.Background(), commandRun, cfg, &bytes.Buffer{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listed more than once")
}

func TestExecute_FetchRequiresSigner(t *testing.T) {
	err := execute(context.Background(), commandFetch, testConfig(t), &bytes.Buffer{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNER")
}

func TestOpenLedger_SQLiteDefault(t *testing.T) {
	h, err := openLedger(config.LedgerConfig{Path: filepath.Join(t.TempDir(), "l.db")})
	require.NoError(t, err)
	defer h.close()

	assert.Equal(t, config.LedgerDriverSQLite, h.driver)
	assert.NotNil(t, h.stats)
	counts, err := h.repo.CountByStatus(context.Background())
	require.NoError(t, err)
	for _, n := range counts {
		assert.Zero(t, n)
	}
}

func TestNewAlerter(t *testing.T) {
	assert.IsType(t, &alert.NoopAlerter{}, newAlerter(config.AlertConfig{}, testLogger()))
	assert.IsType(t, &alert.MultiAlerter{}, newAlerter(config.AlertConfig{
		WebhookURL: "http://127.0.0.1:1/hook",
		Cooldown:   time.Minute,
	}, testLogger()))
}

func TestNewLeaser_InMemoryWithoutURL(t *testing.T) {
	leaser, closeFn, err := newLeaser(config.RedisConfig{}, testLogger())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &redis.MemoryLease{}, leaser)
}

func TestPipelineConfig_MapsModeAndRetry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sui.Network = "testnet"
	cfg.Pipeline.RetryFailed = true
	cfg.Pipeline.ReadmitProcessing = true
	cfg.Pipeline.WorkerRetry = config.RetryConfig{MaxAttempts: 3, BackoffInitial: time.Second, BackoffMax: 4 * time.Second}
	cfg.Pipeline.BreakerEnabled = true
	cfg.Pipeline.BreakerFailureThreshold = 7

	pc := pipelineConfig(cfg)
	assert.Equal(t, "testnet", pc.Network)
	assert.Equal(t, []model.UnitStatus{
		model.UnitStatusPending,
		model.UnitStatusFailed,
		model.UnitStatusProcessing,
	}, pc.Mode.Statuses())
	assert.Equal(t, pipeline.RetryConfig{MaxAttempts: 3, BackoffInitial: time.Second, BackoffMax: 4 * time.Second}, pc.WorkerRetry)
	assert.True(t, pc.BreakerEnabled)
	assert.Equal(t, 7, pc.Breaker.FailureThreshold)
}

func TestHealthHandler(t *testing.T) {
	health := pipeline.NewPassHealth("mainnet")
	handler := healthHandler(health, testLogger())

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "mainnet", snap["network"])

	health.Start("pass-1")
	health.Finish(errors.New("ledger write failed"))

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "pass-1", snap["pass_id"])
}

func TestSummaryView(t *testing.T) {
	view := summaryView(&pipeline.Summary{
		PassID:   "p",
		Network:  "mainnet",
		Statuses: []model.UnitStatus{model.UnitStatusPending},
		Batches:  2,
		Units:    3,
		Applied: map[model.UnitStatus]int64{
			model.UnitStatusMerged: 2,
			model.UnitStatusFailed: 1,
		},
		Elapsed: 1500 * time.Millisecond,
	})

	assert.Equal(t, []string{"pending"}, view.Statuses)
	assert.Equal(t, []statusCount{{Status: "failed", Units: 1}, {Status: "merged", Units: 2}}, view.Applied)
	assert.Empty(t, view.Ledger)
	assert.Equal(t, "1.5s", view.Elapsed)
}

func TestNewPassStopper_CancelsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := newPassStopper(cancel, testLogger())

	assert.True(t, stop.Stop("payer rotation"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, stop.Stop("again"))
}
