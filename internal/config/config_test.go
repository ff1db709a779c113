package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxConcurrentExecutions != 10 {
		t.Fatalf("max_concurrent_executions = %d, want 10", cfg.MaxConcurrentExecutions)
	}
	if cfg.QueueProcessingTimeout != 30*time.Minute {
		t.Fatalf("queue_processing_timeout = %s, want 30m", cfg.QueueProcessingTimeout)
	}
	if cfg.StepCountThreshold != 50 {
		t.Fatalf("step_count_threshold = %d, want 50", cfg.StepCountThreshold)
	}
	if cfg.MetricsRetentionDays != 30 {
		t.Fatalf("metrics_retention_days = %d, want 30", cfg.MetricsRetentionDays)
	}
	if cfg.RetentionSweepSchedule == "" {
		t.Fatalf("expected a default retention sweep schedule")
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Setenv("EXECSERV_LISTEN_ADDR", ":9999")
	t.Setenv("EXECSERV_MAX_CONCURRENT_EXECUTIONS", "25")
	t.Setenv("EXECSERV_QUEUE_POLL_INTERVAL", "2s")
	t.Setenv("EXECSERV_RETENTION_SWEEP_SCHEDULE", "12h")

	cfg := LoadFromEnv()
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("listen_addr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.MaxConcurrentExecutions != 25 {
		t.Fatalf("max_concurrent_executions = %d, want 25", cfg.MaxConcurrentExecutions)
	}
	if cfg.QueuePollInterval != 2*time.Second {
		t.Fatalf("queue_poll_interval = %s, want 2s", cfg.QueuePollInterval)
	}
	if cfg.RetentionSweepSchedule != "12h" {
		t.Fatalf("retention_sweep_schedule = %q, want 12h", cfg.RetentionSweepSchedule)
	}
}

func TestApplyEnvIgnoresUnparseableNumbers(t *testing.T) {
	t.Setenv("EXECSERV_MAX_CONCURRENT_EXECUTIONS", "not-a-number")

	cfg := LoadFromEnv()
	if cfg.MaxConcurrentExecutions != Default().MaxConcurrentExecutions {
		t.Fatalf("expected default to survive an unparseable override, got %d", cfg.MaxConcurrentExecutions)
	}
}

func TestLoadReadsJSONFile(t *testing.T) {
	path := t.TempDir() + "/config.json"
	if err := os.WriteFile(path, []byte(`{"listen_addr":":7000","max_concurrent_executions":3}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Fatalf("listen_addr = %q, want :7000", cfg.ListenAddr)
	}
	if cfg.MaxConcurrentExecutions != 3 {
		t.Fatalf("max_concurrent_executions = %d, want 3", cfg.MaxConcurrentExecutions)
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestSaveWritesReadableJSON(t *testing.T) {
	path := t.TempDir() + "/config.json"
	cfg := Default()
	cfg.ListenAddr = ":8123"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if loaded.ListenAddr != ":8123" {
		t.Fatalf("listen_addr = %q, want :8123", loaded.ListenAddr)
	}
}
