package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "duckmail", cfg.ProviderID)
	assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval())
	assert.Equal(t, 5*time.Second, cfg.Sync.MinPollInterval())
	assert.True(t, cfg.Sync.FallbackEnabled)
	assert.Equal(t, 5, cfg.Stream.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Stream.InitialBackoff())
	assert.Equal(t, 30*time.Second, cfg.Stream.MaxBackoff())
	assert.Equal(t, 15*time.Second, cfg.Stream.ConnectTimeout())
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestLoadConfigOverridesAndCustomProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `provider: selfhost
sync:
  poll_interval_sec: 10
  fallback_enabled: false
stream:
  max_attempts: 2
metrics:
  listen: 127.0.0.1:9122
providers:
  - id: selfhost
    name: Self Hosted
    base_url: https://mail.example.test
    mercure_url: https://mail.example.test/.well-known/mercure
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval())
	assert.False(t, cfg.Sync.FallbackEnabled)
	assert.Equal(t, 2, cfg.Stream.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Sync.MinPollInterval(), "unset keys keep defaults")
	assert.Equal(t, "127.0.0.1:9122", cfg.Metrics.Listen)

	p, err := cfg.Provider(cfg.ProviderID)
	require.NoError(t, err)
	assert.True(t, p.Custom)
	assert.Equal(t, "https://mail.example.test", p.BaseURL)

	_, err = cfg.Provider("mailtm")
	assert.NoError(t, err, "presets stay available")
	_, err = cfg.Provider("unknown")
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  poll_interval_sec: -1\n"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "poll_interval_sec")
}

func TestCustomProviderReplacesPreset(t *testing.T) {
	cfg := &AppConfig{CustomProviders: []Provider{
		{ID: "mailtm", Name: "Mirror", BaseURL: "https://mirror.test"},
	}}

	all := cfg.Providers()
	assert.Len(t, all, len(PresetProviders))

	p, err := cfg.Provider("mailtm")
	require.NoError(t, err)
	assert.Equal(t, "Mirror", p.Name)
}
