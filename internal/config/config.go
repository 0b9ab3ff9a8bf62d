// Package config loads server configuration from a TOML file plus
// environment overrides, with working defaults when no file exists.
package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	// DataDir holds one database directory per product.
	DataDir string `mapstructure:"data_dir"`
	// ConfigDBDir holds the server-wide configuration store (products,
	// tasks).
	ConfigDBDir string `mapstructure:"config_db_dir"`

	// MaxBundleSizeMB caps one mass_store_run upload; 0 disables the cap.
	MaxBundleSizeMB int64 `mapstructure:"max_bundle_size_mb"`

	// Workers bounds concurrent background ingestions; 0 means the number
	// of CPU cores.
	Workers int `mapstructure:"workers"`
	// QueueCapacity bounds how many tasks may wait for a worker before
	// new ones are rejected.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// PoolSize is the per-product database connection pool size.
	PoolSize int `mapstructure:"pool_size"`

	CommitterName  string `mapstructure:"committer_name"`
	CommitterEmail string `mapstructure:"committer_email"`
}

// MaxBundleSizeBytes returns the bundle cap in bytes.
func (c *Config) MaxBundleSizeBytes() int64 {
	return c.MaxBundleSizeMB * 1024 * 1024
}

// Load reads path (optional; defaults apply when empty or missing) and
// environment variables prefixed FINDINGSTORE_.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("data_dir", "./data/products")
	v.SetDefault("config_db_dir", "./data/config")
	v.SetDefault("max_bundle_size_mb", 500)
	v.SetDefault("workers", 0)
	v.SetDefault("queue_capacity", 256)
	v.SetDefault("pool_size", 8)
	v.SetDefault("committer_name", "findingstore")
	v.SetDefault("committer_email", "findingstore@localhost")

	v.SetEnvPrefix("FINDINGSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxBundleSizeMB < 0 {
		return nil, fmt.Errorf("max_bundle_size_mb must be >= 0, got %d", cfg.MaxBundleSizeMB)
	}
	return &cfg, nil
}

// Default returns the built-in configuration values.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

// RenderTOML encodes cfg as a TOML document, used to scaffold a config
// file an operator can then edit.
func RenderTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(map[string]any{
		"data_dir":           cfg.DataDir,
		"config_db_dir":      cfg.ConfigDBDir,
		"max_bundle_size_mb": cfg.MaxBundleSizeMB,
		"workers":            cfg.Workers,
		"queue_capacity":     cfg.QueueCapacity,
		"pool_size":          cfg.PoolSize,
		"committer_name":     cfg.CommitterName,
		"committer_email":    cfg.CommitterEmail,
	}); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
