// Package config loads matchdb settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap/zapcore"
)

// Config holds the settings shared by all commands. Environment variables
// always override YAML values.
type Config struct {
	// Database is a connection URL, a descriptor file or a sqlite path.
	Database string `yaml:"database" env:"MATCHDB_DATABASE" env-default:""`

	// TrackHistory turns history tracking on for every handle opened.
	TrackHistory bool `yaml:"track_history" env:"MATCHDB_TRACK_HISTORY" env-default:"false"`

	// UserID is recorded with each history entry.
	UserID int64 `yaml:"user_id" env:"MATCHDB_USER_ID" env-default:"0"`

	LogLevel string `yaml:"log_level" env:"MATCHDB_LOG_LEVEL" env-default:"warn"`

	// StatementCacheSize bounds the prepared statements kept per handle.
	// A zero value takes the default; a negative one disables the cache.
	StatementCacheSize int `yaml:"statement_cache_size" env:"MATCHDB_STATEMENT_CACHE" env-default:"64"`
}

// Load reads path when it is not empty, then applies the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that cleanenv cannot.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// CacheSize is StatementCacheSize with negative values mapped to 0.
func (c *Config) CacheSize() int {
	if c.StatementCacheSize < 0 {
		return 0
	}
	return c.StatementCacheSize
}

// Level parses LogLevel. An empty level is warn.
func (c *Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.WarnLevel, nil
	}
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.WarnLevel, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Usage describes the environment variables.
func Usage() string {
	desc, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return ""
	}
	return desc
}
