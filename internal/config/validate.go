package config

import (
	"fmt"
	"time"

	"github.com/djlord-it/buildhook/internal/cron"
	"github.com/djlord-it/buildhook/internal/settings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required when STORE_DRIVER=sqlite")
		}
	case DriverMemory:
	default:
		add("STORE_DRIVER", "must be 'postgres', 'sqlite' or 'memory', got %q", cfg.StoreDriver)
	}

	for _, d := range []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"DRAIN_TIMEOUT", cfg.DrainTimeoutStr},
		{"SINK_TIMEOUT", cfg.SinkTimeoutStr},
		{"EMIT_TIMEOUT", cfg.EmitTimeoutStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			add(d.field, "invalid duration: %v", err)
		} else if parsed <= 0 {
			add(d.field, "must be positive")
		}
	}

	if cfg.ResyncSchedule != "" {
		if _, err := cron.NewParser().Parse(cfg.ResyncSchedule, cfg.ResyncTimezone); err != nil {
			add("RESYNC_SCHEDULE", "%v", err)
		}
	}

	if cfg.NATSURL != "" && cfg.NATSSubject == "" {
		add("NATS_SUBJECT", "required when NATS_URL is set")
	}

	if cfg.MetricsEnabled && cfg.MetricsAddr == cfg.HTTPAddr {
		add("METRICS_ADDR", "must differ from HTTP_ADDR")
	}

	if _, err := settings.Validate(cfg.Webhook); err != nil {
		add("WEBHOOK_SECRET", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Warnings returns non-fatal configuration problems worth logging at startup.
func Warnings(cfg Config) []string {
	var warnings []string
	if cfg.AdminToken == "" {
		warnings = append(warnings, "ADMIN_TOKEN is not set: /trigger-build and /settings/webhook are disabled")
	}
	if cfg.StoreDriver == DriverMemory {
		warnings = append(warnings, "STORE_DRIVER=memory: build state is lost on restart")
	}
	seed, _ := settings.Validate(cfg.Webhook)
	for _, w := range seed {
		// stored settings may still provide a target
		if w == settings.WarningNoTarget {
			continue
		}
		warnings = append(warnings, "webhook seed: "+w)
	}
	return warnings
}
