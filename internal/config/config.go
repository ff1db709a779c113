// Package config loads execserv configuration. Sources, in priority
// order: environment variables > config file > built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all execution-engine configuration.
type Config struct {
	// Listen address for the HTTP surface (default ":8090").
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	// DataDir holds the SQLite databases (default "./data").
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// LogLevel: debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`

	MaxConcurrentExecutions int           `json:"max_concurrent_executions" yaml:"max_concurrent_executions"`
	QueuePollInterval       time.Duration `json:"queue_poll_interval" yaml:"queue_poll_interval"`
	QueueProcessingTimeout  time.Duration `json:"queue_processing_timeout" yaml:"queue_processing_timeout"`
	QueueDequeueBatch       int           `json:"queue_dequeue_batch" yaml:"queue_dequeue_batch"`

	StepCountThreshold int `json:"step_count_threshold" yaml:"step_count_threshold"`

	HealthCheckInterval  time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	MetricsRetentionDays int           `json:"metrics_retention_days" yaml:"metrics_retention_days"`
	QueueDepthThreshold  int           `json:"queue_depth_threshold" yaml:"queue_depth_threshold"`

	// RetentionSweepSchedule is a duration ("6h") or standard 5-field
	// cron expression ("0 0 * * *") controlling how often old
	// health-check rows and resolved alerts are pruned from the monitor
	// store, independent of HealthCheckInterval.
	RetentionSweepSchedule string `json:"retention_sweep_schedule" yaml:"retention_sweep_schedule"`

	// Insight thresholds (spec §9 open question: configurable, not hard-coded).
	SlowStepThreshold      time.Duration `json:"slow_step_threshold" yaml:"slow_step_threshold"`
	HighFailureRateThresh  float64       `json:"high_failure_rate_threshold" yaml:"high_failure_rate_threshold"`
	StuckRunThreshold      time.Duration `json:"stuck_run_threshold" yaml:"stuck_run_threshold"`
	PerfWindowFailureCount int           `json:"perf_window_min_completed" yaml:"perf_window_min_completed"`
}

// Default returns configuration with sensible defaults, matching spec
// defaults: max_concurrent_executions=10, poll_interval≈5s,
// processing_timeout=30min, step_count_threshold=50,
// health_check_interval=60s, metrics_retention_days=30, queue_depth=100.
func Default() Config {
	return Config{
		ListenAddr:              ":8090",
		DataDir:                 "./data",
		LogLevel:                "info",
		MaxConcurrentExecutions: 10,
		QueuePollInterval:       5 * time.Second,
		QueueProcessingTimeout:  30 * time.Minute,
		QueueDequeueBatch:       5,
		StepCountThreshold:      50,
		HealthCheckInterval:     60 * time.Second,
		MetricsRetentionDays:    30,
		QueueDepthThreshold:     100,
		RetentionSweepSchedule:  "0 0 * * *",
		SlowStepThreshold:       30 * time.Second,
		HighFailureRateThresh:   0.20,
		StuckRunThreshold:       2 * time.Hour,
		PerfWindowFailureCount:  10,
	}
}

// Load reads configuration from a JSON or YAML file (by extension),
// then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse yaml config: %w", err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EXECSERV_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("EXECSERV_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EXECSERV_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EXECSERV_MAX_CONCURRENT_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentExecutions = n
		}
	}
	if v := os.Getenv("EXECSERV_QUEUE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.QueuePollInterval = d
		}
	}
	if v := os.Getenv("EXECSERV_QUEUE_PROCESSING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.QueueProcessingTimeout = d
		}
	}
	if v := os.Getenv("EXECSERV_STEP_COUNT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StepCountThreshold = n
		}
	}
	if v := os.Getenv("EXECSERV_HEALTH_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HealthCheckInterval = d
		}
	}
	if v := os.Getenv("EXECSERV_METRICS_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MetricsRetentionDays = n
		}
	}
	if v := os.Getenv("EXECSERV_QUEUE_DEPTH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDepthThreshold = n
		}
	}
	if v := os.Getenv("EXECSERV_RETENTION_SWEEP_SCHEDULE"); v != "" {
		cfg.RetentionSweepSchedule = v
	}
}

// Save writes configuration to a JSON file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}
