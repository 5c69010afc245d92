package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"

	"github.com/engagic/engagic/pkg/apperror"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration. It is built once at process
// start from environment variables; nothing reads the environment after that.
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"8081"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database  DatabaseConfig
	LLM       LLMConfig
	Workers   WorkersConfig
	Scheduler SchedulerConfig
	Queue     QueueConfig
	Vendors   VendorsConfig
	Archive   ArchiveConfig
	Tracing   TracingConfig

	// EncryptionKey encrypts per-city vendor API tokens at rest (hex, 32 bytes).
	// Empty disables token storage.
	EncryptionKey string `env:"ENCRYPTION_KEY" envDefault:""`

	// CitySeedFile is consumed by the import tooling at bootstrap.
	CitySeedFile string `env:"CITY_SEED_FILE" envDefault:""`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL         string        `env:"DB_URL"`
	MaxConns    int           `env:"DB_MAX_CONNS" envDefault:"20"`
	MaxIdleTime time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug  bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return d.URL
}

// LLMConfig holds the summarisation model configuration
type LLMConfig struct {
	// Provider selects the backend: "anthropic" or "gemini"
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`

	APIKey string `env:"LLM_API_KEY"`

	// SmallModel handles texts under the large-model threshold
	SmallModel string `env:"LLM_SMALL_MODEL" envDefault:"claude-3-5-haiku-latest"`
	LargeModel string `env:"LLM_LARGE_MODEL" envDefault:"claude-sonnet-4-20250514"`

	// LargeModelThresholdChars is the text length above which the large model is used
	LargeModelThresholdChars int `env:"LLM_LARGE_MODEL_THRESHOLD_CHARS" envDefault:"200000"`

	MaxOutputTokens int     `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"8192"`
	Temperature     float64 `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	TimeoutSeconds  int     `env:"LLM_TIMEOUT_SECONDS" envDefault:"60"`
	MaxRetries      int     `env:"LLM_MAX_RETRIES" envDefault:"3"`

	// NetworkDisabled suppresses outbound LLM calls (for testing)
	NetworkDisabled bool `env:"LLM_NETWORK_DISABLED" envDefault:"false"`
}

// Timeout returns the per-request completion deadline
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// IsEnabled returns true if the LLM is configured
func (l *LLMConfig) IsEnabled() bool {
	if l.NetworkDisabled {
		return false
	}
	return l.APIKey != ""
}

// WorkersConfig sizes the two worker pools
type WorkersConfig struct {
	// Fetchers run city syncs; kept small for politeness toward vendors
	Fetchers int `env:"FETCHER_WORKERS" envDefault:"4"`

	// Processors run LLM-bound jobs
	Processors int `env:"PROCESSOR_WORKERS" envDefault:"16"`

	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	DrainTimeout time.Duration `env:"WORKER_DRAIN_TIMEOUT" envDefault:"30s"`
}

// SchedulerConfig holds the conductor's periodic task intervals
type SchedulerConfig struct {
	SyncIntervalHours       int `env:"SYNC_INTERVAL_HOURS" envDefault:"24"`
	RetrySweepIntervalHours int `env:"RETRY_SWEEP_INTERVAL_HOURS" envDefault:"1"`
}

// SyncInterval returns the per-city freshness target
func (s *SchedulerConfig) SyncInterval() time.Duration {
	return time.Duration(s.SyncIntervalHours) * time.Hour
}

// RetrySweepInterval returns the stuck-job sweep cadence
func (s *SchedulerConfig) RetrySweepInterval() time.Duration {
	return time.Duration(s.RetrySweepIntervalHours) * time.Hour
}

// QueueConfig holds job queue behaviour
type QueueConfig struct {
	MaxAttempts  int `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	LeaseSeconds int `env:"JOB_LEASE_SECONDS" envDefault:"600"`
}

// Lease returns the processing lease after which a job counts as stuck
func (q *QueueConfig) Lease() time.Duration {
	return time.Duration(q.LeaseSeconds) * time.Second
}

// VendorsConfig holds shared vendor HTTP behaviour
type VendorsConfig struct {
	MinDelayMs         int `env:"VENDOR_MIN_DELAY_MS" envDefault:"3000"`
	HTTPTimeoutSeconds int `env:"HTTP_TIMEOUT_SECONDS" envDefault:"30"`
	MaxRetries         int `env:"HTTP_MAX_RETRIES" envDefault:"3"`
	MaxDownloadMB      int `env:"HTTP_MAX_DOWNLOAD_MB" envDefault:"100"`
	DaysBack           int `env:"SYNC_DAYS_BACK" envDefault:"7"`
	DaysForward        int `env:"SYNC_DAYS_FORWARD" envDefault:"30"`
	DiscoveryDepth     int `env:"PDF_DISCOVERY_DEPTH" envDefault:"2"`
}

// HTTPTimeout returns the total per-request deadline for vendor fetches
func (v *VendorsConfig) HTTPTimeout() time.Duration {
	return time.Duration(v.HTTPTimeoutSeconds) * time.Second
}

// MinDelay returns the politeness delay between requests to one vendor host
func (v *VendorsConfig) MinDelay() time.Duration {
	return time.Duration(v.MinDelayMs) * time.Millisecond
}

// ArchiveConfig holds the optional S3-compatible packet archive
type ArchiveConfig struct {
	Endpoint  string `env:"ARCHIVE_ENDPOINT" envDefault:""`
	AccessKey string `env:"ARCHIVE_ACCESS_KEY" envDefault:""`
	SecretKey string `env:"ARCHIVE_SECRET_KEY" envDefault:""`
	Bucket    string `env:"ARCHIVE_BUCKET" envDefault:"engagic-packets"`
	Region    string `env:"ARCHIVE_REGION" envDefault:"us-east-1"`
	UseSSL    bool   `env:"ARCHIVE_USE_SSL" envDefault:"true"`
}

// IsConfigured returns true if the archive is configured
func (a *ArchiveConfig) IsConfigured() bool {
	return a.Endpoint != "" && a.AccessKey != "" && a.SecretKey != ""
}

// TracingConfig holds OpenTelemetry export settings
type TracingConfig struct {
	// OTLPEndpoint enables trace export when set (host:port of an OTLP HTTP collector)
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ServiceName  string  `env:"OTEL_SERVICE_NAME" envDefault:"engagic-conductor"`
	SampleRatio  float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1.0"`
}

// IsEnabled returns true if trace export is configured
func (t *TracingConfig) IsEnabled() bool {
	return t.OTLPEndpoint != ""
}

// Validate checks required settings. Failures are fatal at startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return apperror.ErrConfig.WithMessage("DB_URL is required")
	}
	if c.Workers.Fetchers < 1 {
		return apperror.ErrConfig.WithMessagef("FETCHER_WORKERS must be >= 1, got %d", c.Workers.Fetchers)
	}
	if c.Workers.Processors < 1 {
		return apperror.ErrConfig.WithMessagef("PROCESSOR_WORKERS must be >= 1, got %d", c.Workers.Processors)
	}
	if c.Queue.MaxAttempts < 1 {
		return apperror.ErrConfig.WithMessagef("JOB_MAX_ATTEMPTS must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.LeaseSeconds < 1 {
		return apperror.ErrConfig.WithMessagef("JOB_LEASE_SECONDS must be >= 1, got %d", c.Queue.LeaseSeconds)
	}
	if c.LLM.Provider != "anthropic" && c.LLM.Provider != "gemini" {
		return apperror.ErrConfig.WithMessagef("LLM_PROVIDER must be anthropic or gemini, got %q", c.LLM.Provider)
	}
	return nil
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.Int("fetchers", cfg.Workers.Fetchers),
		slog.Int("processors", cfg.Workers.Processors),
	)

	return cfg, nil
}
