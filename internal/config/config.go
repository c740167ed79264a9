package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"gopkg.in/yaml.v3"
)

const (
	LedgerDriverSQLite   = "sqlite"
	LedgerDriverPostgres = "postgres"

	LogFormatJSON = "json"
	LogFormatText = "text"
)

type Config struct {
	Ledger   LedgerConfig   `yaml:"ledger"`
	Redis    RedisConfig    `yaml:"redis"`
	Sui      SuiConfig      `yaml:"sui"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Alert    AlertConfig    `yaml:"alert"`
}

type LedgerConfig struct {
	Driver              string        `yaml:"driver"`
	Path                string        `yaml:"path"`
	SQLiteBusyTimeout   time.Duration `yaml:"sqlite_busy_timeout"`
	URL                 string        `yaml:"url"`
	MaxOpenConns        int           `yaml:"max_open_conns"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime"`
	StatementTimeoutMS  int           `yaml:"statement_timeout_ms"`
	PoolStatsIntervalMS int           `yaml:"pool_stats_interval_ms"`
}

// RedisConfig configures the payer lease. An empty URL keeps leases in
// process.
type RedisConfig struct {
	URL         string        `yaml:"url"`
	LeasePrefix string        `yaml:"lease_prefix"`
	LeaseTTL    time.Duration `yaml:"lease_ttl"`
}

type SuiConfig struct {
	RPCURL      string        `yaml:"rpc_url"`
	Network     string        `yaml:"network"`
	KeystoreKey string        `yaml:"-"`
	GasBudget   uint64        `yaml:"gas_budget"`
	CoinType    string        `yaml:"coin_type"`
	RateLimit   float64       `yaml:"rate_limit"`
	RateBurst   int           `yaml:"rate_burst"`
	RPCTimeout  time.Duration `yaml:"rpc_timeout"`
}

type PipelineConfig struct {
	GasObjects          []string      `yaml:"gas_objects"`
	BatchSize           int           `yaml:"batch_size"`
	QueueDepth          int           `yaml:"queue_depth"`
	ResultBufferSize    int           `yaml:"result_buffer_size"`
	RetryFailed         bool          `yaml:"retry_failed"`
	RetryPayerExhausted bool          `yaml:"retry_payer_exhausted"`
	ReadmitProcessing   bool          `yaml:"readmit_processing"`
	StartAfter          int64         `yaml:"start_after"`
	DepthSampleInterval time.Duration `yaml:"depth_sample_interval"`

	ScannerRetry RetryConfig `yaml:"scanner_retry"`
	WorkerRetry  RetryConfig `yaml:"worker_retry"`
	WriterRetry  RetryConfig `yaml:"writer_retry"`

	BreakerEnabled          bool          `yaml:"breaker_enabled"`
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold int           `yaml:"breaker_success_threshold"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

type IngestConfig struct {
	DumpSource    string `yaml:"dump_source"`
	DumpFormat    string `yaml:"dump_format"`
	Purge         bool   `yaml:"purge"`
	Signer        string `yaml:"signer"`
	ChunkSize     int    `yaml:"chunk_size"`
	FetchPageSize int    `yaml:"fetch_page_size"`
}

type ServerConfig struct {
	HealthPort int `yaml:"health_port"`

	// AdminAddr enables the operator API when set, e.g. 127.0.0.1:8081.
	AdminAddr string `yaml:"admin_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type AlertConfig struct {
	SlackWebhookURL string        `yaml:"slack_webhook_url"`
	WebhookURL      string        `yaml:"webhook_url"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then the environment. Environment values win.
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Driver:              LedgerDriverSQLite,
			Path:                "data/ledger.db",
			SQLiteBusyTimeout:   5 * time.Second,
			MaxOpenConns:        25,
			MaxIdleConns:        5,
			ConnMaxLifetime:     30 * time.Minute,
			StatementTimeoutMS:  30000,
			PoolStatsIntervalMS: 5000,
		},
		Redis: RedisConfig{
			LeasePrefix: "merger:payer:",
			LeaseTTL:    2 * time.Minute,
		},
		Sui: SuiConfig{
			RPCURL:     "https://fullnode.mainnet.sui.io:443",
			Network:    "mainnet",
			GasBudget:  50_000_000,
			CoinType:   model.SuiCoinType,
			RateLimit:  20,
			RateBurst:  40,
			RPCTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:           model.DefaultBatchSize,
			QueueDepth:          1,
			DepthSampleInterval: 5 * time.Second,
			ScannerRetry:        RetryConfig{MaxAttempts: 4, BackoffInitial: 200 * time.Millisecond, BackoffMax: 3 * time.Second},
			WorkerRetry:         RetryConfig{MaxAttempts: 1, BackoffInitial: 500 * time.Millisecond, BackoffMax: 5 * time.Second},
			WriterRetry:         RetryConfig{MaxAttempts: 5, BackoffInitial: 100 * time.Millisecond, BackoffMax: 2 * time.Second},

			BreakerFailureThreshold: 5,
			BreakerSuccessThreshold: 2,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Ingest: IngestConfig{
			ChunkSize:     50000,
			FetchPageSize: 50,
		},
		Server: ServerConfig{
			HealthPort: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatJSON,
		},
		Tracing: TracingConfig{
			Insecure:    true,
			SampleRatio: 1.0,
		},
		Alert: AlertConfig{
			Cooldown: 30 * time.Minute,
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Ledger.Driver = strings.ToLower(getEnv("LEDGER_DRIVER", c.Ledger.Driver))
	c.Ledger.Path = getEnv("LEDGER_PATH", c.Ledger.Path)
	c.Ledger.SQLiteBusyTimeout = getEnvMillis("SQLITE_BUSY_TIMEOUT_MS", c.Ledger.SQLiteBusyTimeout)
	c.Ledger.URL = getEnv("DB_URL", c.Ledger.URL)
	c.Ledger.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Ledger.MaxOpenConns)
	c.Ledger.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Ledger.MaxIdleConns)
	if v := getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 0); v > 0 {
		c.Ledger.ConnMaxLifetime = time.Duration(v) * time.Minute
	}
	c.Ledger.StatementTimeoutMS = getEnvInt("DB_STATEMENT_TIMEOUT_MS", c.Ledger.StatementTimeoutMS)
	c.Ledger.PoolStatsIntervalMS = getEnvInt("DB_POOL_STATS_INTERVAL_MS", c.Ledger.PoolStatsIntervalMS)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.LeasePrefix = getEnv("LEASE_PREFIX", c.Redis.LeasePrefix)
	if v := getEnvInt("LEASE_TTL_SEC", 0); v > 0 {
		c.Redis.LeaseTTL = time.Duration(v) * time.Second
	}

	c.Sui.RPCURL = getEnv("SUI_RPC_URL", c.Sui.RPCURL)
	c.Sui.Network = getEnv("SUI_NETWORK", c.Sui.Network)
	c.Sui.KeystoreKey = getEnv("SUI_KEYSTORE_KEY", c.Sui.KeystoreKey)
	c.Sui.GasBudget = getEnvUint64("GAS_BUDGET", c.Sui.GasBudget)
	c.Sui.CoinType = getEnv("COIN_TYPE", c.Sui.CoinType)
	c.Sui.RateLimit = getEnvFloat("RPC_RATE_LIMIT", c.Sui.RateLimit)
	c.Sui.RateBurst = getEnvInt("RPC_RATE_BURST", c.Sui.RateBurst)
	if v := getEnvInt("SUI_RPC_TIMEOUT_SEC", 0); v > 0 {
		c.Sui.RPCTimeout = time.Duration(v) * time.Second
	}

	if ids := getEnvList("GAS_OBJECTS"); ids != nil {
		c.Pipeline.GasObjects = ids
	}
	c.Pipeline.BatchSize = getEnvInt("BATCH_SIZE", c.Pipeline.BatchSize)
	c.Pipeline.QueueDepth = getEnvInt("QUEUE_DEPTH", c.Pipeline.QueueDepth)
	c.Pipeline.ResultBufferSize = getEnvInt("RESULT_BUFFER_SIZE", c.Pipeline.ResultBufferSize)
	c.Pipeline.RetryFailed = getEnvBool("RETRY_FAILED", c.Pipeline.RetryFailed)
	c.Pipeline.RetryPayerExhausted = getEnvBool("RETRY_PAYER_EXHAUSTED", c.Pipeline.RetryPayerExhausted)
	c.Pipeline.ReadmitProcessing = getEnvBool("READMIT_PROCESSING", c.Pipeline.ReadmitProcessing)
	c.Pipeline.StartAfter = getEnvInt64("START_AFTER", c.Pipeline.StartAfter)
	c.Pipeline.DepthSampleInterval = getEnvMillis("DEPTH_SAMPLE_INTERVAL_MS", c.Pipeline.DepthSampleInterval)
	applyRetryEnv("SCANNER", &c.Pipeline.ScannerRetry)
	applyRetryEnv("WORKER", &c.Pipeline.WorkerRetry)
	applyRetryEnv("WRITER", &c.Pipeline.WriterRetry)
	c.Pipeline.BreakerEnabled = getEnvBool("BREAKER_ENABLED", c.Pipeline.BreakerEnabled)
	c.Pipeline.BreakerFailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", c.Pipeline.BreakerFailureThreshold)
	c.Pipeline.BreakerSuccessThreshold = getEnvInt("BREAKER_SUCCESS_THRESHOLD", c.Pipeline.BreakerSuccessThreshold)
	if v := getEnvInt("BREAKER_OPEN_TIMEOUT_SEC", 0); v > 0 {
		c.Pipeline.BreakerOpenTimeout = time.Duration(v) * time.Second
	}

	c.Ingest.DumpSource = getEnv("DUMP_SOURCE", c.Ingest.DumpSource)
	c.Ingest.DumpFormat = strings.ToLower(getEnv("DUMP_FORMAT", c.Ingest.DumpFormat))
	c.Ingest.Purge = getEnvBool("PURGE", c.Ingest.Purge)
	c.Ingest.Signer = getEnv("SIGNER", c.Ingest.Signer)
	c.Ingest.ChunkSize = getEnvInt("INGEST_CHUNK_SIZE", c.Ingest.ChunkSize)
	c.Ingest.FetchPageSize = getEnvInt("FETCH_PAGE_SIZE", c.Ingest.FetchPageSize)

	c.Server.HealthPort = getEnvInt("HEALTH_PORT", c.Server.HealthPort)
	c.Server.AdminAddr = getEnv("ADMIN_ADDR", c.Server.AdminAddr)

	c.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", c.Log.Format))

	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.Tracing.Insecure)
	c.Tracing.SampleRatio = getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", c.Tracing.SampleRatio)

	c.Alert.SlackWebhookURL = getEnv("SLACK_WEBHOOK_URL", c.Alert.SlackWebhookURL)
	c.Alert.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.Alert.WebhookURL)
	if v := getEnvInt("ALERT_COOLDOWN_MIN", 0); v > 0 {
		c.Alert.Cooldown = time.Duration(v) * time.Minute
	}
}

func applyRetryEnv(prefix string, r *RetryConfig) {
	r.MaxAttempts = getEnvInt(prefix+"_RETRY_MAX_ATTEMPTS", r.MaxAttempts)
	r.BackoffInitial = getEnvMillis(prefix+"_BACKOFF_INITIAL_MS", r.BackoffInitial)
	r.BackoffMax = getEnvMillis(prefix+"_BACKOFF_MAX_MS", r.BackoffMax)
}

func (c *Config) validate() error {
	switch c.Ledger.Driver {
	case LedgerDriverSQLite:
		if c.Ledger.Path == "" {
			return fmt.Errorf("LEDGER_PATH is required for the sqlite ledger")
		}
	case LedgerDriverPostgres:
		if c.Ledger.URL == "" {
			return fmt.Errorf("DB_URL is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be %q or %q, got %q", LedgerDriverSQLite, LedgerDriverPostgres, c.Ledger.Driver)
	}
	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > model.MaxBatchSize {
		return fmt.Errorf("BATCH_SIZE must be in [1, %d], got %d", model.MaxBatchSize, c.Pipeline.BatchSize)
	}
	if c.Pipeline.QueueDepth < 1 {
		return fmt.Errorf("QUEUE_DEPTH must be positive, got %d", c.Pipeline.QueueDepth)
	}
	if c.Pipeline.StartAfter < 0 {
		return fmt.Errorf("START_AFTER must not be negative, got %d", c.Pipeline.StartAfter)
	}
	switch c.Log.Format {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("LOG_FORMAT must be %q or %q, got %q", LogFormatJSON, LogFormatText, c.Log.Format)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be in [0, 1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// ValidateRun checks what a merge pass needs beyond the common settings.
func (c *Config) ValidateRun() error {
	if len(c.Pipeline.GasObjects) == 0 {
		return fmt.Errorf("GAS_OBJECTS is required")
	}
	if c.Sui.KeystoreKey == "" {
		return fmt.Errorf("SUI_KEYSTORE_KEY is required")
	}
	if c.Sui.RPCURL == "" {
		return fmt.Errorf("SUI_RPC_URL is required")
	}
	return nil
}

func (c *Config) ValidateIngest() error {
	if c.Ingest.DumpSource == "" {
		return fmt.Errorf("DUMP_SOURCE is required")
	}
	return nil
}

func (c *Config) ValidateFetch() error {
	if c.Ingest.Signer == "" {
		return fmt.Errorf("SIGNER is required")
	}
	if c.Sui.RPCURL == "" {
		return fmt.Errorf("SUI_RPC_URL is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvUint64(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v := getEnvInt(key, -1); v >= 0 {
		return time.Duration(v) * time.Millisecond
	}
	return fallback
}

// getEnvList splits a comma or whitespace separated list. It returns nil
// when the variable is unset so callers can keep the file value.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
