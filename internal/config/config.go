package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/consts"
)

type (
	Config struct {
		Logging   LoggingConfig   `yaml:"logging"`
		Host      HostConfig      `yaml:"host"`
		Scheduler SchedulerConfig `yaml:"scheduler"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	// HostConfig configures the engine-host process.
	HostConfig struct {
		Bind              string      `yaml:"bind"`
		MetricsBind       string      `yaml:"metrics_bind"`
		RequestTimeout    int         `yaml:"request_timeout"` // seconds, plain endpoints only
		Queue             QueueConfig `yaml:"queue"`
		PollIntervalSec   int         `yaml:"poll_interval_sec"`  // idle-wait poll period
		WaitCeilingMin    int         `yaml:"wait_ceiling_min"`   // idle-wait hard ceiling
		DefaultWorkspace  string      `yaml:"default_workspace"`  // workspace for fresh sessions with no ref
	}

	QueueConfig struct {
		RatePerMinute int `yaml:"rate_per_minute"` // 0 = unlimited
		MaxTextLen    int `yaml:"max_text_len"`    // runes, 0 = unlimited
	}

	// SchedulerConfig configures the companion scheduler process.
	SchedulerConfig struct {
		Bind              string `yaml:"bind"`
		HostURL           string `yaml:"host_url"`
		Store             string `yaml:"store"`               // task store path, empty = default
		ExecuteTimeoutMin int    `yaml:"execute_timeout_min"` // HTTP client timeout for execute-sync
	}
)

// Validate normalizes and checks the config, filling defaults in place.
func (c *Config) Validate() error {
	if c.Host.Bind == "" {
		c.Host.Bind = "127.0.0.1:8787"
	}
	if c.Host.MetricsBind == "" {
		c.Host.MetricsBind = "127.0.0.1:9100"
	}
	if c.Host.RequestTimeout <= 0 {
		c.Host.RequestTimeout = 60
	}
	if c.Host.PollIntervalSec <= 0 {
		c.Host.PollIntervalSec = 1
	}
	if c.Host.WaitCeilingMin <= 0 {
		c.Host.WaitCeilingMin = 60
	}
	if c.Host.DefaultWorkspace == "" {
		c.Host.DefaultWorkspace = consts.DefaultWorkspaceDir()
	}

	if c.Scheduler.Bind == "" {
		c.Scheduler.Bind = "127.0.0.1:8788"
	}
	if c.Scheduler.HostURL == "" {
		c.Scheduler.HostURL = "http://" + c.Host.Bind
	}
	if c.Scheduler.ExecuteTimeoutMin <= 0 {
		// Must exceed the coordinator's wait ceiling or execute-sync can
		// be cut off mid-wait.
		c.Scheduler.ExecuteTimeoutMin = c.Host.WaitCeilingMin + 5
	}
	if c.Scheduler.ExecuteTimeoutMin*60 <= c.Host.WaitCeilingMin*60 {
		return fmt.Errorf("scheduler.execute_timeout_min (%d) must exceed host.wait_ceiling_min (%d)",
			c.Scheduler.ExecuteTimeoutMin, c.Host.WaitCeilingMin)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Output)) {
	case "", "stdout":
	case "file", "both":
		if strings.TrimSpace(c.Logging.File) == "" {
			return fmt.Errorf("logging.file is required when logging.output is %q", c.Logging.Output)
		}
	default:
		return fmt.Errorf("unsupported logging.output: %s", c.Logging.Output)
	}
	return nil
}

// PollInterval returns the coordinator poll period.
func (h HostConfig) PollInterval() time.Duration {
	return time.Duration(h.PollIntervalSec) * time.Second
}

// WaitCeiling returns the coordinator's hard wait ceiling.
func (h HostConfig) WaitCeiling() time.Duration {
	return time.Duration(h.WaitCeilingMin) * time.Minute
}

// ExecuteTimeout returns the scheduler's execute-sync HTTP timeout.
func (s SchedulerConfig) ExecuteTimeout() time.Duration {
	return time.Duration(s.ExecuteTimeoutMin) * time.Minute
}
