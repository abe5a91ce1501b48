package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cadencehq/cadence/internal/consts"
)

var defaultManager = &instanceManager{}

type instanceManager struct {
	mu     sync.RWMutex
	path   string
	loaded bool
	cfg    *Config
}

func (ins *instanceManager) Load(path string) (*Config, error) {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		path = consts.DefaultConfigPath()
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}

	ins.path = path
	ins.cfg = cfg
	ins.loaded = true

	out := *cfg
	return &out, nil
}

func (ins *instanceManager) Get() (*Config, error) {
	ins.mu.RLock()
	defer ins.mu.RUnlock()

	if !ins.loaded || ins.cfg == nil {
		return nil, fmt.Errorf("config is not loaded")
	}
	out := *ins.cfg
	return &out, nil
}

func (ins *instanceManager) Path() string {
	ins.mu.RLock()
	defer ins.mu.RUnlock()
	return ins.path
}

func loadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing config means defaults everywhere.
			cfg := &Config{}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Load reads and validates the config file, remembering the path for
// Watch. An empty path uses the default location; a missing file yields
// pure defaults.
func Load(path string) (*Config, error) {
	return defaultManager.Load(path)
}

// Get returns a copy of the loaded config.
func Get() (*Config, error) {
	return defaultManager.Get()
}
