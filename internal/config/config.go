// Package config provides unified configuration for the stratum server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration.
type Config struct {
	// DataDir is the base directory for the catalog and local storage
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	// HTTP server configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Engine configuration for row operations
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Migrations configuration
	Migrations MigrationsConfig `json:"migrations" yaml:"migrations"`

	// Backup configuration
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr" env:"HTTP_ADDR"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT"`
}

// EngineConfig holds row engine configuration.
type EngineConfig struct {
	// DefaultSearchLimit is the page size when a search omits limit
	DefaultSearchLimit int `json:"default_search_limit" yaml:"default_search_limit" env:"ENGINE_DEFAULT_SEARCH_LIMIT"`

	// MaxSearchLimit is the hard cap on search page size
	MaxSearchLimit int `json:"max_search_limit" yaml:"max_search_limit" env:"ENGINE_MAX_SEARCH_LIMIT"`

	// RequestTimeout bounds a single gateway request
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" env:"ENGINE_REQUEST_TIMEOUT"`

	// BusyTimeoutMS is the SQLite busy_timeout in milliseconds
	BusyTimeoutMS int `json:"busy_timeout_ms" yaml:"busy_timeout_ms" env:"ENGINE_BUSY_TIMEOUT_MS"`

	// SchemaCacheSize is the max entries in the schema LRU cache
	SchemaCacheSize int `json:"schema_cache_size" yaml:"schema_cache_size" env:"ENGINE_SCHEMA_CACHE_SIZE"`
}

// MigrationsConfig holds migration source configuration.
type MigrationsConfig struct {
	// Source is the migration source type: local, s3
	Source string `json:"source" yaml:"source" env:"MIGRATIONS_SOURCE"`

	// Dir is the local migrations directory (for local source)
	Dir string `json:"dir" yaml:"dir" env:"MIGRATIONS_DIR"`

	// LockWait bounds how long a request waits for a namespace's
	// migration lock before failing
	LockWait time.Duration `json:"lock_wait" yaml:"lock_wait" env:"MIGRATIONS_LOCK_WAIT"`

	// S3 configuration (for s3 source)
	S3 S3Config `json:"s3" yaml:"s3" envPrefix:"MIGRATIONS_"`
}

// BackupConfig holds backup sink configuration.
type BackupConfig struct {
	// Enabled controls whether the backup operation is available
	Enabled bool `json:"enabled" yaml:"enabled" env:"BACKUP_ENABLED"`

	// Sink is the backup sink type: local, s3
	Sink string `json:"sink" yaml:"sink" env:"BACKUP_SINK"`

	// Dir is the local backup directory (for local sink)
	Dir string `json:"dir" yaml:"dir" env:"BACKUP_DIR"`

	// Concurrency is the number of tables dumped in parallel
	Concurrency int `json:"concurrency" yaml:"concurrency" env:"BACKUP_CONCURRENCY"`

	// S3 configuration (for s3 sink)
	S3 S3Config `json:"s3" yaml:"s3" envPrefix:"BACKUP_"`
}

// S3Config holds S3 connection configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket" env:"S3_BUCKET"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region" env:"S3_REGION"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"S3_ENDPOINT"`

	// Prefix is the key prefix for objects in the bucket
	Prefix string `json:"prefix" yaml:"prefix" env:"S3_PREFIX"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/stratum",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Engine: EngineConfig{
			DefaultSearchLimit: 100,
			MaxSearchLimit:     1000,
			RequestTimeout:     30 * time.Second,
			BusyTimeoutMS:      5000,
			SchemaCacheSize:    1024,
		},
		Migrations: MigrationsConfig{
			Source:   "local",
			LockWait: 5 * time.Second,
		},
		Backup: BackupConfig{
			Enabled:     true,
			Sink:        "local",
			Concurrency: 4,
		},
	}
}

// Load builds the effective configuration: defaults, then the config
// file (if any), then STRATUM_* environment overrides. A .env file in
// the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "STRATUM_"}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file, starting
// from the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/stratum"
	}
	if c.Migrations.Source == "local" && c.Migrations.Dir == "" {
		c.Migrations.Dir = filepath.Join(c.DataDir, "migrations")
	}
	if c.Backup.Sink == "local" && c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.DataDir, "backups")
	}
}

// CatalogPath returns the path to the catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Migrations.Source != "local" && c.Migrations.Source != "s3" {
		return fmt.Errorf("invalid migrations source: %s (must be local or s3)", c.Migrations.Source)
	}
	if c.Migrations.Source == "s3" && c.Migrations.S3.Bucket == "" {
		return fmt.Errorf("migrations.s3.bucket is required when source is s3")
	}

	if c.Backup.Enabled {
		if c.Backup.Sink != "local" && c.Backup.Sink != "s3" {
			return fmt.Errorf("invalid backup sink: %s (must be local or s3)", c.Backup.Sink)
		}
		if c.Backup.Sink == "s3" && c.Backup.S3.Bucket == "" {
			return fmt.Errorf("backup.s3.bucket is required when sink is s3")
		}
	}

	if c.Engine.DefaultSearchLimit < 1 {
		return fmt.Errorf("engine.default_search_limit must be positive, got %d", c.Engine.DefaultSearchLimit)
	}
	if c.Engine.MaxSearchLimit < c.Engine.DefaultSearchLimit {
		return fmt.Errorf("engine.max_search_limit (%d) cannot be below default_search_limit (%d)",
			c.Engine.MaxSearchLimit, c.Engine.DefaultSearchLimit)
	}

	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Migrations.Source == "local" {
		dirs = append(dirs, c.Migrations.Dir)
	}
	if c.Backup.Enabled && c.Backup.Sink == "local" {
		dirs = append(dirs, c.Backup.Dir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
