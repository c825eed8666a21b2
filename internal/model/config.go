package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SyncConfig controls the fallback poller and the refresh fetches.
type SyncConfig struct {
	// PollIntervalSec is how often the fallback poller fetches the list.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// MinPollIntervalSec is the safety floor for PollIntervalSec.
	MinPollIntervalSec int `mapstructure:"min_poll_interval_sec" yaml:"min_poll_interval_sec"`

	// FallbackEnabled is the initial fallback preference when none has
	// been stored yet.
	FallbackEnabled bool `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`

	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
}

// StreamConfig controls the Mercure event stream client.
type StreamConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoffMs  int `mapstructure:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs      int `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	ConnectTimeoutSec int `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec"`
}

// APIConfig controls retries against the mailbox REST API.
type APIConfig struct {
	MaxRetries     int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInitialMs int `mapstructure:"retry_initial_ms" yaml:"retry_initial_ms"`
}

// LoggingConfig selects where and how log records are written.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stderr or file.
	Output string `mapstructure:"output" yaml:"output"`

	// File is the log file path when Output is file.
	File string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	// Listen is the address for /metrics; empty disables it.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	ProviderID      string        `mapstructure:"provider" yaml:"provider"`
	CustomProviders []Provider    `mapstructure:"providers" yaml:"providers"`
	DBPath          string        `mapstructure:"db_path" yaml:"db_path"`
	Sync            SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Stream          StreamConfig  `mapstructure:"stream" yaml:"stream"`
	API             APIConfig     `mapstructure:"api" yaml:"api"`
	Logging         LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics         MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// PollInterval returns the configured poll interval.
func (s SyncConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSec) * time.Second
}

// MinPollInterval returns the configured poll interval floor.
func (s SyncConfig) MinPollInterval() time.Duration {
	return time.Duration(s.MinPollIntervalSec) * time.Second
}

// FetchTimeout returns the per-fetch deadline.
func (s SyncConfig) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSec) * time.Second
}

// InitialBackoff returns the first reconnect delay.
func (s StreamConfig) InitialBackoff() time.Duration {
	return time.Duration(s.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the reconnect delay cap.
func (s StreamConfig) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffMs) * time.Millisecond
}

// ConnectTimeout returns how long a connect attempt may take before it
// counts as failed.
func (s StreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSec) * time.Second
}

// ConfigDir returns ~/.config/tempmail, falling back to the working
// directory when the home directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tempmail")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tempmail/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		ProviderID:      "duckmail",
		CustomProviders: []Provider{},
		DBPath:          filepath.Join(ConfigDir(), "tempmail.db"),
		Sync: SyncConfig{
			PollIntervalSec:    30,
			MinPollIntervalSec: 5,
			FallbackEnabled:    true,
			FetchTimeoutSec:    30,
		},
		Stream: StreamConfig{
			MaxAttempts:       5,
			InitialBackoffMs:  1000,
			MaxBackoffMs:      30000,
			ConnectTimeoutSec: 15,
		},
		API: APIConfig{
			MaxRetries:     3,
			RetryInitialMs: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "file",
			File:   filepath.Join(ConfigDir(), "tempmail.log"),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("provider", def.ProviderID)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("sync.poll_interval_sec", def.Sync.PollIntervalSec)
	v.SetDefault("sync.min_poll_interval_sec", def.Sync.MinPollIntervalSec)
	v.SetDefault("sync.fallback_enabled", def.Sync.FallbackEnabled)
	v.SetDefault("sync.fetch_timeout_sec", def.Sync.FetchTimeoutSec)
	v.SetDefault("stream.max_attempts", def.Stream.MaxAttempts)
	v.SetDefault("stream.initial_backoff_ms", def.Stream.InitialBackoffMs)
	v.SetDefault("stream.max_backoff_ms", def.Stream.MaxBackoffMs)
	v.SetDefault("stream.connect_timeout_sec", def.Stream.ConnectTimeoutSec)
	v.SetDefault("api.max_retries", def.API.MaxRetries)
	v.SetDefault("api.retry_initial_ms", def.API.RetryInitialMs)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.output", def.Logging.Output)
	v.SetDefault("logging.file", def.Logging.File)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects values the sync core would treat as caller bugs.
func (c *AppConfig) Validate() error {
	if c.Sync.PollIntervalSec < 0 {
		return fmt.Errorf("sync.poll_interval_sec must not be negative")
	}
	if c.Sync.MinPollIntervalSec < 0 {
		return fmt.Errorf("sync.min_poll_interval_sec must not be negative")
	}
	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("stream.max_attempts must not be negative")
	}
	if c.Stream.InitialBackoffMs <= 0 || c.Stream.MaxBackoffMs < c.Stream.InitialBackoffMs {
		return fmt.Errorf("stream backoff must satisfy 0 < initial_backoff_ms <= max_backoff_ms")
	}
	for _, p := range c.CustomProviders {
		if p.ID == "" || p.BaseURL == "" {
			return fmt.Errorf("custom provider needs id and base_url")
		}
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("provider", cfg.ProviderID)
	v.Set("providers", cfg.CustomProviders)
	v.Set("db_path", cfg.DBPath)
	v.Set("sync", cfg.Sync)
	v.Set("stream", cfg.Stream)
	v.Set("api", cfg.API)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
