package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads, restoring them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR", "HTTP_ADDR", "PORT",
		"ADMIN_TOKEN", "INGEST_TOKEN", "NATS_URL", "NATS_SUBJECT",
		"WEBHOOK_URL", "WEBHOOK_SECRET", "SITE_URL",
		"CI_REPO", "CI_WORKFLOW_FILE", "CI_TOKEN", "CI_REF", "CI_API_BASE_URL",
		"DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME",
		"HTTP_SHUTDOWN_TIMEOUT", "DRAIN_TIMEOUT", "SINK_TIMEOUT", "EMIT_TIMEOUT",
		"METRICS_ENABLED", "METRICS_ADDR", "METRICS_PATH",
		"RESYNC_SCHEDULE", "RESYNC_TIMEZONE", "ANALYTICS_RETENTION",
		"CHANGE_BUFFER_SIZE", "TRIGGER_BUFFER_SIZE",
		"CIRCUIT_BREAKER_THRESHOLD", "CIRCUIT_BREAKER_COOLDOWN", "LEADER_LOCK_KEY",
	} {
		if v, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, v) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("StoreDriver = %q, want sqlite without DATABASE_URL", cfg.StoreDriver)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.SQLitePath != "buildhook.db" {
		t.Errorf("SQLitePath = %q", cfg.SQLitePath)
	}
	if cfg.DBOpTimeout != 5*time.Second {
		t.Errorf("DBOpTimeout = %v, want 5s", cfg.DBOpTimeout)
	}
	if cfg.SinkTimeout != 10*time.Second {
		t.Errorf("SinkTimeout = %v, want 10s", cfg.SinkTimeout)
	}
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %v, want 30s", cfg.DrainTimeout)
	}
	if cfg.ChangeBufferSize != 1000 || cfg.TriggerBufferSize != 100 {
		t.Errorf("buffers = %d/%d, want 1000/100", cfg.ChangeBufferSize, cfg.TriggerBufferSize)
	}
	if cfg.CircuitBreakerThreshold != 5 || cfg.CircuitBreakerCooldown != 2*time.Minute {
		t.Errorf("breaker = %d/%v, want 5/2m", cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	if cfg.NATSSubject != "buildhook.builds" {
		t.Errorf("NATSSubject = %q", cfg.NATSSubject)
	}
	if cfg.ResyncSchedule != "" {
		t.Errorf("ResyncSchedule = %q, want disabled", cfg.ResyncSchedule)
	}
}

func TestLoad_PostgresInferredFromDatabaseURL(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://u:p@db/buildhook")

	if cfg := Load(); cfg.StoreDriver != DriverPostgres {
		t.Errorf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	os.Setenv("STORE_DRIVER", "memory")
	os.Setenv("PORT", "3000")
	os.Setenv("SINK_TIMEOUT", "3s")
	os.Setenv("CHANGE_BUFFER_SIZE", "50")
	os.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	os.Setenv("WEBHOOK_URL", "https://hooks.example.com/build")
	os.Setenv("WEBHOOK_SECRET", "s3cret")
	os.Setenv("CI_REPO", "acme/site")

	cfg := Load()

	if cfg.StoreDriver != DriverMemory {
		t.Errorf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000 from PORT", cfg.HTTPAddr)
	}
	if cfg.SinkTimeout != 3*time.Second {
		t.Errorf("SinkTimeout = %v", cfg.SinkTimeout)
	}
	if cfg.ChangeBufferSize != 50 {
		t.Errorf("ChangeBufferSize = %d", cfg.ChangeBufferSize)
	}
	if cfg.CircuitBreakerThreshold != 0 {
		t.Errorf("CircuitBreakerThreshold = %d, want 0 (disabled)", cfg.CircuitBreakerThreshold)
	}
	if cfg.Webhook.URL != "https://hooks.example.com/build" || cfg.Webhook.Secret != "s3cret" || cfg.Webhook.CIRepo != "acme/site" {
		t.Errorf("Webhook = %+v", cfg.Webhook)
	}
}

func TestLoad_InvalidBufferFallsBack(t *testing.T) {
	clearEnv(t)
	for _, v := range []string{"0", "-1", "abc"} {
		os.Setenv("TRIGGER_BUFFER_SIZE", v)
		if cfg := Load(); cfg.TriggerBufferSize != 100 {
			t.Errorf("TRIGGER_BUFFER_SIZE=%q: got %d, want default 100", v, cfg.TriggerBufferSize)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "buildhook.env")
	content := "STORE_DRIVER=memory\nADMIN_TOKEN=from-file\nHTTP_ADDR=:7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// already-set variables win over the file
	os.Setenv("HTTP_ADDR", ":6000")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	cfg := Load()

	if cfg.StoreDriver != DriverMemory || cfg.AdminToken != "from-file" {
		t.Errorf("env file values not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != ":6000" {
		t.Errorf("HTTPAddr = %q, want environment to override file", cfg.HTTPAddr)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Error("expected error for missing env file")
	}
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}

func TestMaskedJSON_HidesSecrets(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://user:hunter2@db/buildhook")
	os.Setenv("ADMIN_TOKEN", "admin-secret")
	os.Setenv("WEBHOOK_URL", "https://hooks.example.com")
	os.Setenv("WEBHOOK_SECRET", "hook-secret")
	os.Setenv("CI_TOKEN", "ghp_token")

	data, err := Load().MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON: %v", err)
	}
	out := string(data)

	for _, secret := range []string{"hunter2", "admin-secret", "hook-secret", "ghp_token"} {
		if strings.Contains(out, secret) {
			t.Errorf("MaskedJSON leaks %q:\n%s", secret, out)
		}
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if m["database_url"] != "postgres://***" {
		t.Errorf("database_url = %v", m["database_url"])
	}
	if m["sink_timeout"] != "10s" {
		t.Errorf("sink_timeout = %v, want 10s", m["sink_timeout"])
	}
	webhook, _ := m["webhook"].(map[string]any)
	if webhook["url"] != "https://hooks.example.com" {
		t.Errorf("webhook url = %v, want visible", webhook["url"])
	}
}
