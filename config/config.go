// Package config provides configuration loading and management for the AI
// employee agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete aiemployee configuration.
type Config struct {
	Vault       VaultConfig              `yaml:"vault"`
	Watchers    map[string]WatcherConfig `yaml:"watchers"`
	Orchestrator OrchestratorConfig      `yaml:"orchestrator"`
	Executor    ExecutorConfig           `yaml:"executor"`
	Registry    RegistryConfig           `yaml:"registry"`
	Adapters    map[string]AdapterConfig `yaml:"adapters"`
	Secrets     SecretsConfig            `yaml:"secrets"`
}

// VaultConfig configures the filesystem vault root.
type VaultConfig struct {
	// Root is the vault root directory. Auto-detected (cwd) if empty.
	Root string `yaml:"root"`
	// DefaultApprover is the approval_ref recorded for a plan moved into
	// Approved/ or Rejected/ with no ".approved_by" sidecar alongside it.
	DefaultApprover string `yaml:"default_approver"`
}

// WatcherConfig configures one perception-source watcher.
type WatcherConfig struct {
	// Enabled turns the watcher's scheduled poll on or off.
	Enabled bool `yaml:"enabled"`
	// Interval is how often the orchestrator runs the watcher in `once` mode.
	Interval time.Duration `yaml:"interval"`
}

// OrchestratorConfig configures the scheduled driver.
type OrchestratorConfig struct {
	// DailyCycleCron is a standard 5-field cron expression for the daily
	// cycle (briefing + accounting audit + autonomy loop).
	DailyCycleCron string `yaml:"daily_cycle_cron"`
	// ApprovedSweepInterval is how often Approved/ is swept to the executor.
	ApprovedSweepInterval time.Duration `yaml:"approved_sweep_interval"`
	// TerminalSweepInterval is how often completed/failed plans are archived.
	TerminalSweepInterval time.Duration `yaml:"terminal_sweep_interval"`
	// QueueDepthBound is the soft per-(channel,user_id) backpressure bound.
	QueueDepthBound int `yaml:"queue_depth_bound"`
	// MetricsAddr, if non-empty, serves Prometheus metrics on this address
	// (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`
}

// ExecutorConfig configures the executor's retry and approval policy.
type ExecutorConfig struct {
	// RetryBaseInterval is the base exponential-backoff interval.
	RetryBaseInterval time.Duration `yaml:"retry_base_interval"`
	// MaxRetryAttempts caps retries for retryable failures.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`
	// RequireSecondApprovalForAllMutating requires a dry-run-reviewed second
	// approval for every mutating action, not just the sensitive ones named
	// in the per-channel action catalog.
	RequireSecondApprovalForAllMutating bool `yaml:"require_second_approval_for_all_mutating"`
}

// RegistryConfig configures the sqlite-backed Plan Registry.
type RegistryConfig struct {
	// Path is the sqlite database file path.
	Path string `yaml:"path"`
}

// AdapterConfig configures one channel adapter's endpoint/version overrides.
type AdapterConfig struct {
	Endpoint string `yaml:"endpoint"`
	Version  string `yaml:"version"`
}

// SecretsConfig configures where adapter credentials (OAuth tokens, API
// keys) are read from. The directory itself is never written by this
// process; only env-var overrides and on-disk token caches live here.
type SecretsConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Vault: VaultConfig{
			Root:            "", // Auto-detect
			DefaultApprover: "unknown",
		},
		Watchers: map[string]WatcherConfig{
			"filesystem": {Enabled: true, Interval: 5 * time.Minute},
			"gmail":      {Enabled: false, Interval: 10 * time.Minute},
			"whatsapp":   {Enabled: false, Interval: 10 * time.Minute},
			"linkedin":   {Enabled: false, Interval: 15 * time.Minute},
			"instagram":  {Enabled: false, Interval: 15 * time.Minute},
			"odoo":       {Enabled: false, Interval: 30 * time.Minute},
		},
		Orchestrator: OrchestratorConfig{
			DailyCycleCron:        "0 6 * * *",
			ApprovedSweepInterval: 2 * time.Minute,
			TerminalSweepInterval: 30 * time.Minute,
			QueueDepthBound:       32,
			MetricsAddr:           "",
		},
		Executor: ExecutorConfig{
			RetryBaseInterval:                   2 * time.Second,
			MaxRetryAttempts:                     3,
			RequireSecondApprovalForAllMutating: true,
		},
		Registry: RegistryConfig{
			Path: "Logs/registry.db",
		},
		Adapters: map[string]AdapterConfig{},
		Secrets: SecretsConfig{
			Dir: "", // Auto-detect (~/.config/aiemployee/secrets)
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Executor.MaxRetryAttempts < 1 {
		return fmt.Errorf("executor.max_retry_attempts must be at least 1")
	}
	if c.Executor.RetryBaseInterval <= 0 {
		return fmt.Errorf("executor.retry_base_interval must be positive")
	}
	if c.Orchestrator.QueueDepthBound < 1 {
		return fmt.Errorf("orchestrator.queue_depth_bound must be at least 1")
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}
	for name, w := range c.Watchers {
		if w.Enabled && w.Interval <= 0 {
			return fmt.Errorf("watchers.%s.interval must be positive when enabled", name)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Vault.Root != "" {
		c.Vault.Root = other.Vault.Root
	}
	if other.Vault.DefaultApprover != "" {
		c.Vault.DefaultApprover = other.Vault.DefaultApprover
	}

	for name, w := range other.Watchers {
		c.Watchers[name] = w
	}

	if other.Orchestrator.DailyCycleCron != "" {
		c.Orchestrator.DailyCycleCron = other.Orchestrator.DailyCycleCron
	}
	if other.Orchestrator.ApprovedSweepInterval != 0 {
		c.Orchestrator.ApprovedSweepInterval = other.Orchestrator.ApprovedSweepInterval
	}
	if other.Orchestrator.TerminalSweepInterval != 0 {
		c.Orchestrator.TerminalSweepInterval = other.Orchestrator.TerminalSweepInterval
	}
	if other.Orchestrator.QueueDepthBound != 0 {
		c.Orchestrator.QueueDepthBound = other.Orchestrator.QueueDepthBound
	}
	if other.Orchestrator.MetricsAddr != "" {
		c.Orchestrator.MetricsAddr = other.Orchestrator.MetricsAddr
	}

	if other.Executor.RetryBaseInterval != 0 {
		c.Executor.RetryBaseInterval = other.Executor.RetryBaseInterval
	}
	if other.Executor.MaxRetryAttempts != 0 {
		c.Executor.MaxRetryAttempts = other.Executor.MaxRetryAttempts
	}
	if other.Executor.RequireSecondApprovalForAllMutating {
		c.Executor.RequireSecondApprovalForAllMutating = true
	}

	if other.Registry.Path != "" {
		c.Registry.Path = other.Registry.Path
	}

	for name, a := range other.Adapters {
		c.Adapters[name] = a
	}

	if other.Secrets.Dir != "" {
		c.Secrets.Dir = other.Secrets.Dir
	}
}
