// Package config loads easyremind settings from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration. Durations keep their raw string next to
// the parsed value so Validate can report what the operator actually wrote.
type Config struct {
	StoreDriver string `json:"store_driver"`
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	DispatcherWorkers         int           `json:"dispatcher_workers"`
	DispatcherPollInterval    time.Duration `json:"-"`
	DispatcherPollIntervalStr string        `json:"dispatcher_poll_interval"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`
	JobMaxAttempts            int           `json:"job_max_attempts"`
	JobMaxBackoff             time.Duration `json:"-"`
	JobMaxBackoffStr          string        `json:"job_max_backoff"`
	WakeBufferSize            int           `json:"wake_buffer_size"`

	// ReminderSchedule is a five-field cron expression. Consecutive fires
	// must be at most 2 x ReminderMatchTolerance apart or reminders are
	// missed.
	ReminderSchedule          string        `json:"reminder_schedule"`
	ReminderTimezone          string        `json:"reminder_timezone"`
	ReminderLookahead         time.Duration `json:"-"`
	ReminderLookaheadStr      string        `json:"reminder_lookahead"`
	ReminderMatchTolerance    time.Duration `json:"-"`
	ReminderMatchToleranceStr string        `json:"reminder_match_tolerance"`
	SchedulerTickInterval     time.Duration `json:"-"`
	SchedulerTickIntervalStr  string        `json:"scheduler_tick_interval"`

	// PolicyCacheTTL: 0 disables the cache.
	PolicyCacheTTL    time.Duration `json:"-"`
	PolicyCacheTTLStr string        `json:"policy_cache_ttl"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`
	// ReconcileThreshold must exceed the longest job run plus the drain
	// timeout, or running jobs are requeued under their workers.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`
	ReconcileBatchSize    int           `json:"reconcile_batch_size"`

	// LeaderLockKey: all instances sharing a database must use the same key.
	LeaderLockKey              int64         `json:"leader_lock_key"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// DeliveryWebhookURL: empty means notifications are only logged.
	DeliveryWebhookURL    string        `json:"delivery_webhook_url,omitempty"`
	DeliveryWebhookSecret string        `json:"-"`
	DeliveryTimeout       time.Duration `json:"-"`
	DeliveryTimeoutStr    string        `json:"delivery_timeout"`

	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty"`

	// loadErrors collects unparseable integers seen by Load.
	loadErrors ValidationErrors
}

// LoadDotEnv loads path into the environment when the file exists. Variables
// already set win over the file.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		StoreDriver:           envOr("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		HTTPAddr:              os.Getenv("HTTP_ADDR"),
		LogLevel:              envOr("LOG_LEVEL", "info"),
		LogFormat:             envOr("LOG_FORMAT", "json"),
		ReminderSchedule:      envOr("REMINDER_SCHEDULE", "0 * * * *"),
		ReminderTimezone:      envOr("REMINDER_TIMEZONE", "UTC"),
		ReconcileEnabled:      os.Getenv("RECONCILE_ENABLED") == "true",
		MetricsEnabled:        os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:           envOr("METRICS_PATH", "/metrics"),
		MetricsPort:           envOr("METRICS_PORT", "9090"),
		DeliveryWebhookURL:    os.Getenv("DELIVERY_WEBHOOK_URL"),
		DeliveryWebhookSecret: os.Getenv("DELIVERY_WEBHOOK_SECRET"),
		CORSAllowedOrigins:    splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	ints := []struct {
		env string
		def int
		dst *int
		min int
	}{
		{"DB_MAX_OPEN_CONNS", 25, &cfg.DBMaxOpenConns, 1},
		{"DB_MAX_IDLE_CONNS", 5, &cfg.DBMaxIdleConns, 1},
		{"DISPATCHER_WORKERS", 1, &cfg.DispatcherWorkers, 1},
		{"JOB_MAX_ATTEMPTS", 3, &cfg.JobMaxAttempts, 1},
		{"WAKE_BUFFER_SIZE", 100, &cfg.WakeBufferSize, 1},
		{"RECONCILE_BATCH_SIZE", 100, &cfg.ReconcileBatchSize, 1},
		{"CIRCUIT_BREAKER_THRESHOLD", 5, &cfg.CircuitBreakerThreshold, 0},
	}
	for _, v := range ints {
		*v.dst = v.def
		raw := os.Getenv(v.env)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < v.min {
			cfg.loadErrors = append(cfg.loadErrors, ValidationError{
				Field:   v.env,
				Message: fmt.Sprintf("must be an integer >= %d, got %q", v.min, raw),
			})
			continue
		}
		*v.dst = n
	}

	cfg.LeaderLockKey = 728380
	if raw := os.Getenv("LEADER_LOCK_KEY"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			cfg.loadErrors = append(cfg.loadErrors, ValidationError{
				Field:   "LEADER_LOCK_KEY",
				Message: fmt.Sprintf("must be a positive integer, got %q", raw),
			})
		}
	}

	for _, d := range cfg.durations() {
		*d.raw = envOr(d.env, d.def)
		// Parse errors are reported by Validate.
		if parsed, err := time.ParseDuration(*d.raw); err == nil {
			*d.dst = parsed
		}
	}

	return cfg
}

type durationField struct {
	env       string
	def       string
	raw       *string
	dst       *time.Duration
	allowZero bool
}

func (c *Config) durations() []durationField {
	return []durationField{
		{"DB_OP_TIMEOUT", "5s", &c.DBOpTimeoutStr, &c.DBOpTimeout, false},
		{"DB_CONN_MAX_LIFETIME", "30m", &c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime, false},
		{"DB_CONN_MAX_IDLE_TIME", "5m", &c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime, false},
		{"HTTP_SHUTDOWN_TIMEOUT", "10s", &c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout, false},
		{"DISPATCHER_POLL_INTERVAL", "5s", &c.DispatcherPollIntervalStr, &c.DispatcherPollInterval, false},
		{"DISPATCHER_DRAIN_TIMEOUT", "30s", &c.DispatcherDrainTimeoutStr, &c.DispatcherDrainTimeout, false},
		{"JOB_MAX_BACKOFF", "10m", &c.JobMaxBackoffStr, &c.JobMaxBackoff, false},
		{"REMINDER_LOOKAHEAD", "720h", &c.ReminderLookaheadStr, &c.ReminderLookahead, false},
		{"REMINDER_MATCH_TOLERANCE", "30m", &c.ReminderMatchToleranceStr, &c.ReminderMatchTolerance, false},
		{"SCHEDULER_TICK_INTERVAL", "1m", &c.SchedulerTickIntervalStr, &c.SchedulerTickInterval, false},
		{"POLICY_CACHE_TTL", "1m", &c.PolicyCacheTTLStr, &c.PolicyCacheTTL, true},
		{"RECONCILE_INTERVAL", "1m", &c.ReconcileIntervalStr, &c.ReconcileInterval, false},
		{"RECONCILE_THRESHOLD", "15m", &c.ReconcileThresholdStr, &c.ReconcileThreshold, false},
		{"LEADER_RETRY_INTERVAL", "5s", &c.LeaderRetryIntervalStr, &c.LeaderRetryInterval, false},
		{"LEADER_HEARTBEAT_INTERVAL", "2s", &c.LeaderHeartbeatIntervalStr, &c.LeaderHeartbeatInterval, false},
		{"CIRCUIT_BREAKER_COOLDOWN", "2m", &c.CircuitBreakerCooldownStr, &c.CircuitBreakerCooldown, false},
		{"DELIVERY_TIMEOUT", "10s", &c.DeliveryTimeoutStr, &c.DeliveryTimeout, false},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	if c.DeliveryWebhookURL != "" {
		masked.DeliveryWebhookURL = maskQuery(c.DeliveryWebhookURL)
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

// maskQuery drops the query string, which often carries tokens.
func maskQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?***"
	}
	return u
}
