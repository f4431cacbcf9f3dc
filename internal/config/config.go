// Package config loads the detflow engine configuration: which event
// store backend to use, connection details, and retry/backoff tuning.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist at
// the given path.
var ErrConfigNotFound = errors.New("detflow config not found")

// Config is the top-level engine configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Retry   RetryConfig   `yaml:"retry"`
	Gate    GateConfig    `yaml:"gate"`
}

// StoreConfig selects and configures the event-log backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "postgres"
	Postgres   PostgresConfig `yaml:"postgres,omitempty"`
}

// PostgresConfig configures the Postgres-backed event store. PgStore reads
// only the connection string resolved from DSNEnv; MaxRetries and
// BackoffMS are not passed to it, and its append retry count and backoff
// unit are fixed constants in internal/eventlog.
type PostgresConfig struct {
	DSNEnv      string `yaml:"dsn_env"`      // environment variable holding the connection string
	MaxRetries  int    `yaml:"max_retries"`  // append retries on serialization conflict
	BackoffMS   int    `yaml:"backoff_ms"`   // linear backoff unit in milliseconds
}

// RetryConfig holds a default step-retry budget. The CLI's "retry"
// subcommand does not read it; it takes its budget from the --max flag.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// GateConfig tunes human-gate behaviour.
type GateConfig struct {
	// DefaultHint is a hint text for human-gate requests. Neither the
	// engine nor the CLI reads it; UserInteractionRequested events are
	// appended without a hint.
	DefaultHint string `yaml:"default_hint"`
}

// Default returns a configuration usable without a config file: an
// in-memory store and a conservative retry budget.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				DSNEnv:     "DETFLOW_DATABASE_URL",
				MaxRetries: 3,
				BackoffMS:  15,
			},
		},
		Retry: RetryConfig{MaxAttempts: 3},
		Gate:  GateConfig{DefaultHint: "awaiting operator input"},
	}
}

// Load reads and validates the config at path, filling any unset fields
// from Default.
func Load(path string) (*Config, error) {
	exists, err := fileExists(path)
	if err != nil {
		return nil, fmt.Errorf("checking config existence: %w", err)
	}
	if !exists {
		return nil, ErrConfigNotFound
	}

	// nolint:gosec // reading a config file from an operator-supplied path is expected
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Postgres.MaxRetries == 0 {
		cfg.Store.Postgres.MaxRetries = 3
	}
	if cfg.Store.Postgres.BackoffMS == 0 {
		cfg.Store.Postgres.BackoffMS = 15
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: store.backend must be \"memory\" or \"postgres\", got %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.Postgres.DSNEnv == "" {
		return errors.New("config: store.postgres.dsn_env is required when backend is postgres")
	}
	if cfg.Retry.MaxAttempts < 0 {
		return errors.New("config: retry.max_attempts must be non-negative")
	}
	return nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Backoff returns BackoffMS as a time.Duration. PgStore does not call it.
func (c *PostgresConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

// PostgresDSN resolves the connection string from the configured
// environment variable.
func (c *PostgresConfig) PostgresDSN() string {
	if c.DSNEnv == "" {
		return ""
	}
	return os.Getenv(c.DSNEnv)
}
