package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Defaults().Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
extract:
  tags: [email, ipv4]
  unique: true
  match_timeout: 2s
batch:
  workers: 3
  rate_limit: 2.5
  burst: 4
`), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"email", "ipv4"}, cfg.Extract.Tags)
	assert.True(t, cfg.Extract.Unique)
	assert.Equal(t, 2*time.Second, cfg.Extract.MatchTimeout)
	assert.Equal(t, 3, cfg.Batch.Workers)
	assert.Equal(t, 2.5, cfg.Batch.RateLimit)
	assert.Equal(t, 4, cfg.Batch.Burst)
	// Untouched keys keep their defaults.
	assert.Equal(t, Defaults().Input, cfg.Input)
	assert.Equal(t, Defaults().Batch.QueueSize, cfg.Batch.QueueSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	t.Setenv("TAGEX_LOG_LEVEL", "warn")
	t.Setenv("TAGEX_BATCH_WORKERS", "7")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Batch.Workers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	d := Defaults()
	assert.Equal(t, d.Log, cfg.Log)
	assert.Equal(t, d.Input, cfg.Input)
	assert.Equal(t, d.Batch, cfg.Batch)
	assert.Zero(t, cfg.Extract.MatchTimeout, "searches are unbounded unless configured")
	assert.Empty(t, cfg.Extract.Tags)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative timeout", func(c *Config) { c.Extract.MatchTimeout = -time.Second }, "extract.match_timeout"},
		{"zero max bytes", func(c *Config) { c.Input.MaxBytes = 0 }, "input.max_bytes"},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }, "batch.workers"},
		{"zero queue", func(c *Config) { c.Batch.QueueSize = 0 }, "batch.queue_size"},
		{"negative rate", func(c *Config) { c.Batch.RateLimit = -1 }, "batch.rate_limit"},
		{"rate without burst", func(c *Config) { c.Batch.RateLimit = 1; c.Batch.Burst = 0 }, "batch.burst"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.errMsg)
		})
	}
}
