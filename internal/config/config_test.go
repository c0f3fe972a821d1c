package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
version: 1
storage:
  message_root: ./data/message
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `version: 1`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.MessageRoot == "" {
		t.Fatalf("expected storage.message_root default")
	}
	if cfg.Concurrency.DefaultLimitPerKey != 3 {
		t.Fatalf("DefaultLimitPerKey = %d, want 3", cfg.Concurrency.DefaultLimitPerKey)
	}
	if cfg.Recovery.Retry.InitialMs != 2000 {
		t.Fatalf("Retry.InitialMs = %v, want 2000", cfg.Recovery.Retry.InitialMs)
	}
	if cfg.Recovery.Retry.MaxAttempts != 2 {
		t.Fatalf("Retry.MaxAttempts = %d, want 2", cfg.Recovery.Retry.MaxAttempts)
	}
	if cfg.Recovery.Truncate.MinOutputSizeToTruncate != 500 {
		t.Fatalf("MinOutputSizeToTruncate = %d, want 500", cfg.Recovery.Truncate.MinOutputSizeToTruncate)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	path := writeConfig(t, `version: 99`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version error")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestLoadValidatesConcurrencyLimit(t *testing.T) {
	path := writeConfig(t, `
version: 1
concurrency:
  default_limit_per_key: 0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "concurrency.default_limit_per_key") {
		t.Fatalf("expected concurrency error, got %v", err)
	}
}

func TestLoadValidatesRetryFactor(t *testing.T) {
	path := writeConfig(t, `
version: 1
recovery:
  retry:
    factor: 1
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "recovery.retry.factor") {
		t.Fatalf("expected retry.factor error, got %v", err)
	}
}

func TestLoadValidatesLogLevel(t *testing.T) {
	path := writeConfig(t, `
version: 1
logging:
  level: verbose
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected logging.level error, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `version: 1`)

	t.Setenv("RELAYD_CONCURRENCY_LIMIT", "7")
	t.Setenv("RELAYD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Concurrency.DefaultLimitPerKey != 7 {
		t.Fatalf("DefaultLimitPerKey = %d, want 7", cfg.Concurrency.DefaultLimitPerKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relayd.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
