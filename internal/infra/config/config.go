// Package config provides environment-based configuration loading.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration values for the orchestrator, scheduler, and
// migrate binaries. Required fields cause startup failure if unset; optional
// fields have sensible defaults matching the spec.
type Config struct {
	// Required - Database connection string
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	DBPoolMaxConns       int32         `envconfig:"DB_POOL_MAX_CONNS" default:"25"`
	DBPoolMinConns       int32         `envconfig:"DB_POOL_MIN_CONNS" default:"5"`
	DBPoolMaxLifetime    time.Duration `envconfig:"DB_POOL_MAX_LIFETIME" default:"1h"`
	IgnoreDBStartupError bool          `envconfig:"IGNORE_DB_STARTUP_ERROR" default:"false"`

	Port        int    `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Env         string `envconfig:"ENV" default:"development"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"orchestrator"`

	// Error response contract (RFC 7807)
	ProblemBaseURL string `envconfig:"PROBLEM_BASE_URL" default:"https://api.relaycore.example/problems/"`

	// OpenTelemetry
	OTELEnabled          bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELExporterEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`

	MaxRequestSize int64 `envconfig:"MAX_REQUEST_SIZE" default:"1048576"`

	// Auth: raw Bearer API keys resolved against api_keys (salted SHA-256).
	ApiKeyHashSalt string `envconfig:"API_KEY_HASH_SALT" required:"true"`

	RateLimitRPS int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	TrustProxy   bool `envconfig:"TRUST_PROXY" default:"false"`

	InternalPort        int    `envconfig:"INTERNAL_PORT" default:"8081"`
	InternalBindAddress string `envconfig:"INTERNAL_BIND_ADDRESS" default:"127.0.0.1"`

	HTTPReadTimeout       time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout      time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	HTTPIdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	HTTPReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	HTTPMaxHeaderBytes    int           `envconfig:"HTTP_MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout       time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	DBQueryTimeout        time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s"`

	// Resilience - Circuit Breaker (gobreaker execution primitive; the domain
	// rolling-window gate in internal/circuit is the source of truth)
	CBMaxRequests           int           `envconfig:"CB_MAX_REQUESTS" default:"1"`
	CBInterval              time.Duration `envconfig:"CB_INTERVAL" default:"10s"`
	CBTimeout               time.Duration `envconfig:"CB_TIMEOUT" default:"30s"`
	CBFailureThreshold      int           `envconfig:"CB_FAILURE_THRESHOLD" default:"5"`
	CircuitBreakerThreshold float64       `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"0.1"`
	CircuitBreakerTimeout   time.Duration `envconfig:"CIRCUIT_BREAKER_TIMEOUT" default:"600s"`

	// Resilience - Retry (mapped by resilience.NewResilienceConfig; the
	// budget-commit CAS retrier uses BudgetCommitMaxAttempts and fixed delays)
	RetryMaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialDelay time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"100ms"`
	RetryMaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"5s"`
	RetryMultiplier   float64       `envconfig:"RETRY_MULTIPLIER" default:"2.0"`

	// Resilience - Timeout
	TimeoutDefault     time.Duration `envconfig:"TIMEOUT_DEFAULT" default:"30s"`
	TimeoutDatabase    time.Duration `envconfig:"TIMEOUT_DATABASE" default:"5s"`
	TimeoutExternalAPI time.Duration `envconfig:"TIMEOUT_EXTERNAL_API" default:"10s"`

	// Resilience - Bulkhead (bounds concurrent outbox sink deliveries)
	BulkheadMaxConcurrent int `envconfig:"BULKHEAD_MAX_CONCURRENT" default:"10"`
	BulkheadMaxWaiting    int `envconfig:"BULKHEAD_MAX_WAITING" default:"100"`

	ShutdownDrainPeriod time.Duration `envconfig:"SHUTDOWN_DRAIN_PERIOD" default:"30s"`
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"5s"`

	// Idempotency & Inbox Gate
	IdempotencyTTL           time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyCacheFailMode string        `envconfig:"IDEMPOTENCY_CACHE_FAIL_MODE" default:"open"`
	WebhookReplayWindow      time.Duration `envconfig:"WEBHOOK_REPLAY_WINDOW" default:"5m"`

	HealthCheckDBTimeout time.Duration `envconfig:"HEALTH_CHECK_DB_TIMEOUT" default:"2s"`

	// Queue Broker / Admission Controller
	MaxQueueDepth     int `envconfig:"MAX_QUEUE_DEPTH" default:"10000"`
	TaskLeaseSeconds  int `envconfig:"TASK_LEASE_SECONDS" default:"900"`
	TaskBackoffMaxSec int `envconfig:"TASK_BACKOFF_MAX_SEC" default:"60"`

	// Dispatcher / Worker Pool
	MaxConcurrency int `envconfig:"MAX_CONCURRENCY" default:"10"`
	WorkerReplicas int `envconfig:"WORKER_REPLICAS" default:"1"`

	// Budget Accountant
	BudgetCommitMaxAttempts int     `envconfig:"BUDGET_COMMIT_MAX_ATTEMPTS" default:"5"`
	ModelDailyBudgetUSD     float64 `envconfig:"MODEL_DAILY_BUDGET_USD" default:"100"`

	// Outbox Relay
	OutboxPollInterval    time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	OutboxBatchSize       int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	OutboxRetentionHours  int           `envconfig:"OUTBOX_RETENTION_HOURS" default:"168"`
	WebhookSigningSecret  string        `envconfig:"WEBHOOK_SIGNING_SECRET"`

	// Sink transports (each degrades to a no-op publisher when unconfigured)
	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	AMQPURL      string `envconfig:"AMQP_URL"`

	// Redis fast-path idempotency cache (optional accelerator only)
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Scheduler housekeeping
	SchedulerInboxSweepAfter time.Duration `envconfig:"SCHEDULER_INBOX_SWEEP_AFTER" default:"720h"`
}

// Redacted returns a safe string representation of the Config for logging.
func (c *Config) Redacted() string {
	safe := *c
	safe.DatabaseURL = "[REDACTED]"
	safe.ApiKeyHashSalt = "[REDACTED]"
	safe.WebhookSigningSecret = "[REDACTED]"
	safe.RedisPassword = "[REDACTED]"
	safe.AMQPURL = "[REDACTED]"
	return fmt.Sprintf("%+v", safe)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	const op = "config.Load"

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate checks config invariants beyond what envconfig enforces.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required and cannot be empty")
	}
	if strings.TrimSpace(c.ApiKeyHashSalt) == "" {
		return fmt.Errorf("API_KEY_HASH_SALT is required and cannot be empty")
	}

	if c.OTELEnabled && strings.TrimSpace(c.OTELExporterEndpoint) == "" {
		return fmt.Errorf("OTEL_ENABLED is true but OTEL_EXPORTER_OTLP_ENDPOINT is empty")
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: must be between 0 and 65535")
	}
	if c.InternalPort < 0 || c.InternalPort > 65535 {
		return fmt.Errorf("invalid INTERNAL_PORT: must be between 0 and 65535")
	}
	if c.InternalPort != 0 && c.InternalPort == c.Port {
		return fmt.Errorf("INTERNAL_PORT must differ from PORT")
	}
	if c.InternalBindAddress == "" {
		return fmt.Errorf("INTERNAL_BIND_ADDRESS cannot be empty")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("invalid SERVICE_NAME: must not be empty")
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.IdempotencyCacheFailMode = strings.ToLower(strings.TrimSpace(c.IdempotencyCacheFailMode))

	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("invalid ENV: must be one of development, staging, production, test")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: must be one of debug, info, warn, error")
	}

	switch c.IdempotencyCacheFailMode {
	case "open", "closed":
	default:
		return fmt.Errorf("invalid IDEMPOTENCY_CACHE_FAIL_MODE: must be 'open' or 'closed'")
	}

	if err := validateProblemBaseURL(c.ProblemBaseURL); err != nil {
		return err
	}

	if c.MaxRequestSize < 1 {
		return fmt.Errorf("invalid MAX_REQUEST_SIZE: must be greater than 0")
	}
	if c.RateLimitRPS < 1 {
		return fmt.Errorf("invalid RATE_LIMIT_RPS: must be greater than 0")
	}

	if c.DBPoolMaxConns < 1 {
		return fmt.Errorf("invalid DB_POOL_MAX_CONNS: must be greater than 0")
	}
	if c.DBPoolMinConns < 0 {
		return fmt.Errorf("invalid DB_POOL_MIN_CONNS: must be non-negative")
	}
	if c.DBPoolMinConns > c.DBPoolMaxConns {
		return fmt.Errorf("invalid DB_POOL_MIN_CONNS: must be less than or equal to DB_POOL_MAX_CONNS")
	}
	if c.DBPoolMaxLifetime <= 0 {
		return fmt.Errorf("invalid DB_POOL_MAX_LIFETIME: must be greater than 0")
	}

	if c.DBQueryTimeout <= 0 {
		return fmt.Errorf("invalid DB_QUERY_TIMEOUT: must be greater than 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: must be greater than 0")
	}
	if c.ShutdownDrainPeriod <= 0 {
		return fmt.Errorf("invalid SHUTDOWN_DRAIN_PERIOD: must be greater than 0")
	}
	if c.ShutdownGracePeriod < 0 {
		return fmt.Errorf("invalid SHUTDOWN_GRACE_PERIOD: must be non-negative")
	}

	if c.MaxQueueDepth < 1 {
		return fmt.Errorf("invalid MAX_QUEUE_DEPTH: must be greater than 0")
	}
	if c.TaskLeaseSeconds < 1 {
		return fmt.Errorf("invalid TASK_LEASE_SECONDS: must be greater than 0")
	}
	if c.TaskBackoffMaxSec < 1 {
		return fmt.Errorf("invalid TASK_BACKOFF_MAX_SEC: must be greater than 0")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("invalid MAX_CONCURRENCY: must be greater than 0")
	}
	if c.WorkerReplicas < 1 {
		return fmt.Errorf("invalid WORKER_REPLICAS: must be greater than 0")
	}
	if c.BudgetCommitMaxAttempts < 1 {
		return fmt.Errorf("invalid BUDGET_COMMIT_MAX_ATTEMPTS: must be greater than 0")
	}
	if c.CircuitBreakerThreshold <= 0 || c.CircuitBreakerThreshold >= 1 {
		return fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD: must be between 0 and 1")
	}

	return nil
}

func validateProblemBaseURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("invalid PROBLEM_BASE_URL: must not be empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("invalid PROBLEM_BASE_URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid PROBLEM_BASE_URL: must be an absolute URL (scheme + host)")
	}
	if !strings.HasSuffix(trimmed, "/") {
		return fmt.Errorf("invalid PROBLEM_BASE_URL: must end with a trailing slash")
	}
	return nil
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
