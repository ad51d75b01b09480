// Package config loads loom configuration from defaults, an optional
// YAML file and environment variable overrides, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("loom.yaml").
//	    WithEnvPrefix("LOOM").
//	    Load()
package config

import (
	"fmt"
	"time"
)

// Config is the complete loom configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`
	Engine     EngineConfig     `yaml:"engine" env:"ENGINE"`
	Provider   ProviderConfig   `yaml:"provider" env:"PROVIDER"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "json" or "console".
	Format string `yaml:"format" env:"FORMAT"`
}

// CheckpointConfig selects and configures the durability backend.
type CheckpointConfig struct {
	// Backend is one of memory, redis, sqlite.
	Backend string       `yaml:"backend" env:"BACKEND"`
	Redis   RedisConfig  `yaml:"redis" env:"REDIS"`
	SQLite  SQLiteConfig `yaml:"sqlite" env:"SQLITE"`
}

// RedisConfig configures the Redis checkpoint log.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SQLiteConfig configures the SQLite checkpoint log.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// EngineConfig bounds workflow execution.
type EngineConfig struct {
	// MaxConcurrentRuns caps runs across all threads; zero means no cap.
	MaxConcurrentRuns int64 `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS"`
	// NodeTimeout bounds one handler invocation; zero disables it.
	NodeTimeout time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
}

// ProviderConfig shapes calls to the capability provider.
type ProviderConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// RequestsPerSecond throttles provider calls; zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Checkpoint: CheckpointConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
			SQLite: SQLiteConfig{
				Path: "loom.db",
			},
		},
		Engine: EngineConfig{
			MaxConcurrentRuns: 64,
			NodeTimeout:       5 * time.Minute,
		},
		Provider: ProviderConfig{
			MaxRetries:        3,
			InitialDelay:      500 * time.Millisecond,
			MaxDelay:          15 * time.Second,
			RequestsPerSecond: 0,
			Burst:             1,
		},
	}
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Checkpoint.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Engine.MaxConcurrentRuns < 0 {
		return fmt.Errorf("max_concurrent_runs must not be negative")
	}
	if c.Provider.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	return nil
}
