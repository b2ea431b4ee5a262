package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/djlord-it/buildhook/internal/domain"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all configuration for buildhook.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	StoreDriver string `json:"store_driver"`
	DatabaseURL string `json:"database_url"`
	SQLitePath  string `json:"sqlite_path"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// AdminToken guards manual triggers and settings; IngestToken guards /events.
	AdminToken  string `json:"-"`
	IngestToken string `json:"-"`

	// Seed webhook configuration, used only when none is stored yet.
	Webhook domain.WebhookConfig `json:"-"`

	NATSURL     string `json:"nats_url,omitempty"`
	NATSSubject string `json:"nats_subject,omitempty"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
	DrainTimeout           time.Duration `json:"-"`
	DrainTimeoutStr        string        `json:"drain_timeout"`
	SinkTimeout            time.Duration `json:"-"`
	SinkTimeoutStr         string        `json:"sink_timeout"`
	EmitTimeout            time.Duration `json:"-"`
	EmitTimeoutStr         string        `json:"emit_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	// ResyncSchedule is a cron expression or descriptor; empty disables resync.
	ResyncSchedule string `json:"resync_schedule,omitempty"`
	ResyncTimezone string `json:"resync_timezone"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	ChangeBufferSize  int `json:"change_buffer_size"`
	TriggerBufferSize int `json:"trigger_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set in the environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		StoreDriver:               os.Getenv("STORE_DRIVER"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		SQLitePath:                os.Getenv("SQLITE_PATH"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		AdminToken:                os.Getenv("ADMIN_TOKEN"),
		IngestToken:               os.Getenv("INGEST_TOKEN"),
		NATSURL:                   os.Getenv("NATS_URL"),
		NATSSubject:               os.Getenv("NATS_SUBJECT"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DrainTimeoutStr:           os.Getenv("DRAIN_TIMEOUT"),
		SinkTimeoutStr:            os.Getenv("SINK_TIMEOUT"),
		EmitTimeoutStr:            os.Getenv("EMIT_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:               os.Getenv("METRICS_ADDR"),
		MetricsPath:               os.Getenv("METRICS_PATH"),
		ResyncSchedule:            os.Getenv("RESYNC_SCHEDULE"),
		ResyncTimezone:            os.Getenv("RESYNC_TIMEZONE"),
		AnalyticsRetentionStr:     os.Getenv("ANALYTICS_RETENTION"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		Webhook: domain.WebhookConfig{
			URL:            os.Getenv("WEBHOOK_URL"),
			Secret:         os.Getenv("WEBHOOK_SECRET"),
			SiteURL:        os.Getenv("SITE_URL"),
			CIRepo:         os.Getenv("CI_REPO"),
			CIWorkflowFile: os.Getenv("CI_WORKFLOW_FILE"),
			CIToken:        os.Getenv("CI_TOKEN"),
			CIRef:          os.Getenv("CI_REF"),
			CIAPIBaseURL:   os.Getenv("CI_API_BASE_URL"),
		},
	}

	if cfg.StoreDriver == "" {
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = DriverPostgres
		} else {
			cfg.StoreDriver = DriverSQLite
		}
	}

	cfg.ChangeBufferSize = positiveInt("CHANGE_BUFFER_SIZE", 1000)
	cfg.TriggerBufferSize = positiveInt("TRIGGER_BUFFER_SIZE", 100)
	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)

	cfg.CircuitBreakerThreshold = 5
	if s := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", s)
		}
	}

	if s := os.Getenv("LEADER_LOCK_KEY"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			cfg.LeaderLockKey = n
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be an integer), deriving from name", s)
		}
	}

	// Support PORT as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	setDefault(&cfg.SQLitePath, "buildhook.db")
	setDefault(&cfg.NATSSubject, "buildhook.builds")
	setDefault(&cfg.MetricsAddr, ":9090")
	setDefault(&cfg.MetricsPath, "/metrics")
	setDefault(&cfg.ResyncTimezone, "UTC")
	setDefault(&cfg.DBOpTimeoutStr, "5s")
	setDefault(&cfg.DBConnMaxLifetimeStr, "30m")
	setDefault(&cfg.HTTPShutdownTimeoutStr, "10s")
	setDefault(&cfg.DrainTimeoutStr, "30s")
	setDefault(&cfg.SinkTimeoutStr, "10s")
	setDefault(&cfg.EmitTimeoutStr, "2s")
	setDefault(&cfg.AnalyticsRetentionStr, "720h")
	setDefault(&cfg.CircuitBreakerCooldownStr, "2m")

	// Parse durations; validation is handled separately by Validate().
	parseDuration(cfg.DBOpTimeoutStr, &cfg.DBOpTimeout)
	parseDuration(cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime)
	parseDuration(cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout)
	parseDuration(cfg.DrainTimeoutStr, &cfg.DrainTimeout)
	parseDuration(cfg.SinkTimeoutStr, &cfg.SinkTimeout)
	parseDuration(cfg.EmitTimeoutStr, &cfg.EmitTimeout)
	parseDuration(cfg.AnalyticsRetentionStr, &cfg.AnalyticsRetention)
	parseDuration(cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown)

	return cfg
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func parseDuration(s string, dst *time.Duration) {
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// positiveInt reads a positive integer from env, logging and falling back on bad input.
func positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		Config
		DatabaseURL string               `json:"database_url"`
		AdminToken  string               `json:"admin_token,omitempty"`
		IngestToken string               `json:"ingest_token,omitempty"`
		NATSURL     string               `json:"nats_url,omitempty"`
		Webhook     domain.WebhookConfig `json:"webhook"`
	}{
		Config:      c,
		DatabaseURL: maskSecret(c.DatabaseURL),
		AdminToken:  maskSecret(c.AdminToken),
		IngestToken: maskSecret(c.IngestToken),
		NATSURL:     maskSecret(c.NATSURL),
		Webhook:     c.Webhook.Masked(),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "nats://", "tls://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
