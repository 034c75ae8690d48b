// Package config handles loading and validating sqlitepool configuration
// from YAML files, with an optional .env overlay for secrets/overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for one pool (§3 "Pool configuration").
// All fields are immutable once loaded; Validate rejects inconsistent values.
type Config struct {
	// DatabasePath is the filesystem path to the embedded SQLite file.
	DatabasePath string `yaml:"database_path"`

	MinConnections    int           `yaml:"min_connections"`
	MaxConnections    int           `yaml:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_creation_timeout"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	RetryAttempts     int           `yaml:"retry_attempts"`

	EnableMonitoring     bool          `yaml:"enable_monitoring"`
	StatsCollectInterval time.Duration `yaml:"stats_collection_interval"`

	AdminPort int           `yaml:"admin_port"`
	Publish   PublishConfig `yaml:"publish"`
}

// PublishConfig controls the optional Redis stats publisher (SPEC_FULL
// addition B); it is off by default and is not part of the core pool.
type PublishConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisDB      int           `yaml:"redis_db"`
	Key          string        `yaml:"key"`
	Interval     time.Duration `yaml:"interval"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// fileConfig mirrors the YAML document shape on disk.
type fileConfig struct {
	Config `yaml:",inline"`
}

// Load reads the YAML config at path, overlays any matching environment
// variables loaded from envPath (if it exists — missing .env is not an
// error, matching godotenv's typical optional-overlay usage), validates,
// then fills in defaults.
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading env overlay %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg := &file.Config

	if v := os.Getenv("SQLITEPOOL_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks mandatory and internally-consistent fields (§3: "reject
// inconsistent values"). ValidationFailed per §7 is surfaced as a plain
// wrapped error; construction refuses to proceed on failure.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.MinConnections < 0 {
		return fmt.Errorf("min_connections must be >= 0, got %d", c.MinConnections)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be > 0, got %d", c.MaxConnections)
	}
	if c.MinConnections >= c.MaxConnections {
		return fmt.Errorf("min_connections (%d) must be < max_connections (%d)", c.MinConnections, c.MaxConnections)
	}
	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("connection_creation_timeout must be >= 0")
	}
	if c.AcquireTimeout <= 0 && c.AcquireTimeout != 0 {
		return fmt.Errorf("acquire_timeout must be > 0 when set")
	}
	return nil
}

// applyDefaults fills unset optional fields with spec.md-aligned defaults.
func (c *Config) applyDefaults() {
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.StatsCollectInterval == 0 {
		c.StatsCollectInterval = 60 * time.Second
	}
	if c.AdminPort == 0 {
		c.AdminPort = 8080
	}
	if c.Publish.Enabled {
		if c.Publish.RedisAddr == "" {
			c.Publish.RedisAddr = "localhost:6379"
		}
		if c.Publish.Key == "" {
			c.Publish.Key = "sqlitepool:stats"
		}
		if c.Publish.Interval == 0 {
			c.Publish.Interval = 10 * time.Second
		}
		if c.Publish.DialTimeout == 0 {
			c.Publish.DialTimeout = 5 * time.Second
		}
		if c.Publish.WriteTimeout == 0 {
			c.Publish.WriteTimeout = 3 * time.Second
		}
	}
}

// Default returns a Config with every field defaulted except DatabasePath,
// useful for tests and for callers constructing a pool in-process without
// a YAML file on disk.
func Default(databasePath string) *Config {
	cfg := &Config{
		DatabasePath:   databasePath,
		MinConnections: 2,
		MaxConnections: 20,
	}
	cfg.applyDefaults()
	return cfg
}
