package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/source"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "default", cfg.Temporal.Namespace)
	assert.Equal(t, source.TierOrder, cfg.Pipeline.EnabledTiers)
	assert.Equal(t, 2, cfg.Pipeline.TierRetries)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.TierTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBackoff)
	assert.InDelta(t, 32, cfg.Pipeline.Weights.Completeness, 0.001)
	assert.InDelta(t, 8, cfg.Pipeline.Weights.Compliance, 0.001)
	assert.InDelta(t, 35, cfg.Pipeline.Weights.Pricing, 0.001)
	assert.InDelta(t, 25, cfg.Pipeline.Weights.Description, 0.001)
	assert.Equal(t, int64(5), cfg.Throttle.MaxConcurrent)
	assert.Equal(t, int64(60), cfg.RateLimit["customer"].Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit["customer"].Window)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/dev.db
pipeline:
  enabled_tiers: [catalog, digikey]
  tier_retries: 5
throttle:
  max_concurrent: 2
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/dev.db", cfg.Store.SQLitePath)
	assert.Equal(t, []string{"catalog", "digikey"}, cfg.Pipeline.EnabledTiers)
	assert.Equal(t, 5, cfg.Pipeline.TierRetries)
	assert.Equal(t, int64(2), cfg.Throttle.MaxConcurrent)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset sections keep their defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("PARTSLEDGER_LOG_LEVEL", "warn")
	t.Setenv("PARTSLEDGER_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.Error(t, InitLogger(LogConfig{Level: "not-a-level", Format: "json"}))
}
