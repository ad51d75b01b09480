package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, int64(64), cfg.Engine.MaxConcurrentRuns)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: console
checkpoint:
  backend: sqlite
  sqlite:
    path: /tmp/threads.db
engine:
  node_timeout: 90s
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Backend)
	assert.Equal(t, "/tmp/threads.db", cfg.Checkpoint.SQLite.Path)
	assert.Equal(t, 90*time.Second, cfg.Engine.NodeTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Checkpoint.Redis.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkpoint:\n  backend: sqlite\n"), 0o600))

	t.Setenv("LOOM_CHECKPOINT_BACKEND", "redis")
	t.Setenv("LOOM_CHECKPOINT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("LOOM_PROVIDER_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("LOOM_ENGINE_MAX_CONCURRENT_RUNS", "8")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, "redis.internal:6380", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, 2.5, cfg.Provider.RequestsPerSecond)
	assert.Equal(t, int64(8), cfg.Engine.MaxConcurrentRuns)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
}

func TestInvalidConfigRejected(t *testing.T) {
	t.Setenv("LOOM_CHECKPOINT_BACKEND", "etcd")
	_, err := NewLoader().Load()
	require.Error(t, err)

	t.Setenv("LOOM_CHECKPOINT_BACKEND", "memory")
	t.Setenv("LOOM_LOG_LEVEL", "loud")
	_, err = NewLoader().Load()
	require.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	logger, err := BuildLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = BuildLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
