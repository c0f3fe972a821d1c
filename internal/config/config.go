// Package config loads and validates relayd's configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay runtime: storage roots,
// concurrency limits, recovery/pruning tuning, and logging.
type Config struct {
	Version     int                `yaml:"version"`
	Storage     StorageConfig      `yaml:"storage"`
	Concurrency ConcurrencyConfig  `yaml:"concurrency"`
	Recovery    RecoveryConfig     `yaml:"recovery"`
	Pruning     PruningConfig      `yaml:"pruning"`
	Logging     LoggingConfig      `yaml:"logging"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Tracing     TracingConfig      `yaml:"tracing"`
}

// StorageConfig locates the on-disk message and part logs.
type StorageConfig struct {
	MessageRoot string `yaml:"message_root"`
	PartRoot    string `yaml:"part_root"`
}

// ConcurrencyConfig bounds how many background tasks may run per key.
type ConcurrencyConfig struct {
	DefaultLimitPerKey int `yaml:"default_limit_per_key"`
}

// RecoveryConfig tunes the context-window recovery pipeline.
type RecoveryConfig struct {
	Retry    RetryConfig    `yaml:"retry"`
	Truncate TruncateConfig `yaml:"truncate"`
}

// RetryConfig is the backoff policy for Phase 3 summarize retries.
type RetryConfig struct {
	InitialMs   float64       `yaml:"initial_ms"`
	MaxMs       float64       `yaml:"max_ms"`
	Factor      float64       `yaml:"factor"`
	MaxAttempts int           `yaml:"max_attempts"`
	ResetWindow time.Duration `yaml:"reset_window"`
}

// TruncateConfig tunes Phase 2's aggressive-truncation pass.
type TruncateConfig struct {
	MinOutputSizeToTruncate int `yaml:"min_output_size_to_truncate"`
	MaxPartsPerPass         int `yaml:"max_parts_per_pass"`
}

// PruningConfig tunes the tool-output pruning engine.
type PruningConfig struct {
	ProtectedTools []string      `yaml:"protected_tools"`
	ErrorPurgeAge  time.Duration `yaml:"error_purge_age"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	Output    string   `yaml:"output"`
	AddSource bool     `yaml:"add_source"`
	Redact    []string `yaml:"redact_patterns"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load reads, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyStorageDefaults(&cfg.Storage)
	applyConcurrencyDefaults(&cfg.Concurrency)
	applyRecoveryDefaults(&cfg.Recovery)
	applyPruningDefaults(&cfg.Pruning)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.MessageRoot == "" {
		cfg.MessageRoot = "./data/message"
	}
	if cfg.PartRoot == "" {
		cfg.PartRoot = "./data/part"
	}
}

func applyConcurrencyDefaults(cfg *ConcurrencyConfig) {
	if cfg.DefaultLimitPerKey == 0 {
		cfg.DefaultLimitPerKey = 3
	}
}

func applyRecoveryDefaults(cfg *RecoveryConfig) {
	if cfg.Retry.InitialMs == 0 {
		cfg.Retry.InitialMs = 2000
	}
	if cfg.Retry.MaxMs == 0 {
		cfg.Retry.MaxMs = 30000
	}
	if cfg.Retry.Factor == 0 {
		cfg.Retry.Factor = 2.0
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Retry.ResetWindow == 0 {
		cfg.Retry.ResetWindow = 5 * time.Minute
	}
	if cfg.Truncate.MinOutputSizeToTruncate == 0 {
		cfg.Truncate.MinOutputSizeToTruncate = 500
	}
	if cfg.Truncate.MaxPartsPerPass == 0 {
		cfg.Truncate.MaxPartsPerPass = 10
	}
}

func applyPruningDefaults(cfg *PruningConfig) {
	if cfg.ErrorPurgeAge == 0 {
		cfg.ErrorPurgeAge = 24 * time.Hour
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("RELAYD_MESSAGE_ROOT")); value != "" {
		cfg.Storage.MessageRoot = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_PART_ROOT")); value != "" {
		cfg.Storage.PartRoot = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_CONCURRENCY_LIMIT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Concurrency.DefaultLimitPerKey = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_RETRY_MAX_ATTEMPTS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Recovery.Retry.MaxAttempts = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_RETRY_RESET_WINDOW")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Recovery.Retry.ResetWindow = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_LOG_FORMAT")); value != "" {
		cfg.Logging.Format = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_METRICS_ADDR")); value != "" {
		cfg.Metrics.Addr = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAYD_OTLP_ENDPOINT")); value != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.OTLPEndpoint = value
	}
}

// ConfigValidationError aggregates every validation issue found in a config.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if strings.TrimSpace(cfg.Storage.MessageRoot) == "" {
		issues = append(issues, "storage.message_root must not be empty")
	}
	if strings.TrimSpace(cfg.Storage.PartRoot) == "" {
		issues = append(issues, "storage.part_root must not be empty")
	}
	if cfg.Concurrency.DefaultLimitPerKey <= 0 {
		issues = append(issues, "concurrency.default_limit_per_key must be > 0")
	}
	if cfg.Recovery.Retry.InitialMs <= 0 {
		issues = append(issues, "recovery.retry.initial_ms must be > 0")
	}
	if cfg.Recovery.Retry.MaxMs < cfg.Recovery.Retry.InitialMs {
		issues = append(issues, "recovery.retry.max_ms must be >= recovery.retry.initial_ms")
	}
	if cfg.Recovery.Retry.Factor <= 1 {
		issues = append(issues, "recovery.retry.factor must be > 1")
	}
	if cfg.Recovery.Retry.MaxAttempts <= 0 {
		issues = append(issues, "recovery.retry.max_attempts must be > 0")
	}
	if cfg.Recovery.Truncate.MinOutputSizeToTruncate < 0 {
		issues = append(issues, "recovery.truncate.min_output_size_to_truncate must be >= 0")
	}
	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be \"debug\", \"info\", \"warn\", or \"error\"")
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validLogFormat(format string) bool {
	switch format {
	case "json", "text":
		return true
	default:
		return false
	}
}
