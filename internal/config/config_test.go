package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidate_Defaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Host.Bind != "127.0.0.1:8787" {
		t.Errorf("host bind: %q", cfg.Host.Bind)
	}
	if cfg.Host.MetricsBind != "127.0.0.1:9100" {
		t.Errorf("metrics bind: %q", cfg.Host.MetricsBind)
	}
	if cfg.Host.PollInterval() != time.Second {
		t.Errorf("poll interval: %v", cfg.Host.PollInterval())
	}
	if cfg.Host.WaitCeiling() != 60*time.Minute {
		t.Errorf("wait ceiling: %v", cfg.Host.WaitCeiling())
	}
	if cfg.Scheduler.Bind != "127.0.0.1:8788" {
		t.Errorf("scheduler bind: %q", cfg.Scheduler.Bind)
	}
	if cfg.Scheduler.HostURL != "http://127.0.0.1:8787" {
		t.Errorf("host url: %q", cfg.Scheduler.HostURL)
	}
	// The execute timeout must clear the wait ceiling.
	if cfg.Scheduler.ExecuteTimeout() <= cfg.Host.WaitCeiling() {
		t.Errorf("execute timeout %v must exceed wait ceiling %v",
			cfg.Scheduler.ExecuteTimeout(), cfg.Host.WaitCeiling())
	}
}

func TestValidate_ExecuteTimeoutMustExceedCeiling(t *testing.T) {
	cfg := Config{}
	cfg.Host.WaitCeilingMin = 60
	cfg.Scheduler.ExecuteTimeoutMin = 30
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when execute timeout is below the wait ceiling")
	}
}

func TestValidate_LoggingOutput(t *testing.T) {
	cfg := Config{}
	cfg.Logging.Output = "file"
	if err := cfg.Validate(); err == nil {
		t.Fatal("output=file without a file path must fail")
	}

	cfg = Config{}
	cfg.Logging.Output = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown output must fail")
	}

	cfg = Config{}
	cfg.Logging.Output = "both"
	cfg.Logging.File = "/tmp/cadence.log"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("output=both with a file: %v", err)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.Bind != "127.0.0.1:8787" {
		t.Fatalf("defaults not applied: %+v", cfg.Host)
	}
}

func TestLoad_ParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
host:
  bind: "127.0.0.1:9999"
  queue:
    rate_per_minute: 10
scheduler:
  store: "/tmp/tasks.json"
logging:
  level: debug
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.Bind != "127.0.0.1:9999" {
		t.Errorf("bind: %q", cfg.Host.Bind)
	}
	if cfg.Host.Queue.RatePerMinute != 10 {
		t.Errorf("rate: %d", cfg.Host.Queue.RatePerMinute)
	}
	if cfg.Scheduler.Store != "/tmp/tasks.json" {
		t.Errorf("store: %q", cfg.Scheduler.Store)
	}
	// The scheduler URL default tracks the overridden host bind.
	if cfg.Scheduler.HostURL != "http://127.0.0.1:9999" {
		t.Errorf("host url: %q", cfg.Scheduler.HostURL)
	}

	got, err := Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Host.Bind != cfg.Host.Bind {
		t.Fatal("Get must return the loaded config")
	}
}
