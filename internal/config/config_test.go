package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.SettlingDays != 3 {
		t.Errorf("settling_days = %d, want 3", cfg.SettlingDays)
	}
	if cfg.RunTimeout != 10*time.Minute {
		t.Errorf("run_timeout = %s, want 10m", cfg.RunTimeout)
	}
	if cfg.PropertyTimeout != 60*time.Second {
		t.Errorf("property_timeout = %s, want 60s", cfg.PropertyTimeout)
	}
	if cfg.Detectors.Spam.ZThreshold != 3.0 {
		t.Errorf("spam z threshold = %v, want 3.0", cfg.Detectors.Spam.ZThreshold)
	}
	if cfg.LongestWindowDays() != 193 {
		t.Errorf("longest window = %d days, want 193", cfg.LongestWindowDays())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scout.yaml")
	content := `
settling_days: 2
run_timeout: 5m
storage:
  root: /tmp/scout
detectors:
  spam:
    z_threshold: 4.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SettlingDays != 2 {
		t.Errorf("settling_days = %d, want 2", cfg.SettlingDays)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Errorf("run_timeout = %s, want 5m", cfg.RunTimeout)
	}
	if cfg.Detectors.Spam.ZThreshold != 4.5 {
		t.Errorf("z_threshold = %v, want 4.5", cfg.Detectors.Spam.ZThreshold)
	}
	// Untouched keys keep their defaults.
	if cfg.Detectors.Record.WindowDays != 90 {
		t.Errorf("record window = %d, want default 90", cfg.Detectors.Record.WindowDays)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scout.yaml")
	content := `
settling_days: 2
worker_pool_size: 8
run_timeout: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SETTLING_DAYS", "5")
	t.Setenv("WORKER_POOL_SIZE", "4")
	t.Setenv("RUN_TIMEOUT_SECONDS", "90")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SettlingDays != 5 {
		t.Errorf("settling_days = %d, want 5 from env", cfg.SettlingDays)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Errorf("worker_pool_size = %d, want 4 from env", cfg.WorkerPoolSize)
	}
	if cfg.RunTimeout != 90*time.Second {
		t.Errorf("run_timeout = %s, want 90s from env", cfg.RunTimeout)
	}
}

func TestUnknownEnvIgnored(t *testing.T) {
	t.Setenv("SCOUT_SOMETHING_ELSE", "whatever")
	if _, err := Load(""); err != nil {
		t.Fatalf("unknown env var must be ignored, got %v", err)
	}
}

func TestValidateRejectsBadWindows(t *testing.T) {
	cfg := Default()
	cfg.Detectors.Trend.ShortWindowDays = 200
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for short window >= long window")
	}

	cfg = Default()
	cfg.RunTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero run timeout")
	}
}
