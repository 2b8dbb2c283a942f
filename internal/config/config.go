// Package config loads worker configuration from an optional file and
// PKGSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/git-pkgs/pkgsync/internal/core"
	"github.com/git-pkgs/pkgsync/internal/store"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores: ingest.batch_size is PKGSYNC_INGEST_BATCH_SIZE.
const EnvPrefix = "PKGSYNC"

type Config struct {
	Database   DatabaseConfig    `mapstructure:"database"`
	Ingest     IngestConfig      `mapstructure:"ingest"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Registries map[string]string `mapstructure:"registries"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Log        LogConfig         `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

func (d DatabaseConfig) Validate() error {
	if _, err := store.ParseDialect(d.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if strings.TrimSpace(d.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	return nil
}

// IngestConfig tunes the worker and scheduler.
type IngestConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	RefreshAfter time.Duration `mapstructure:"refresh_after"`
	RefreshLimit int           `mapstructure:"refresh_limit"`
}

func (i IngestConfig) Validate() error {
	switch {
	case i.BatchSize <= 0:
		return errors.New("ingest.batch_size must be > 0")
	case i.MaxAttempts <= 0:
		return errors.New("ingest.max_attempts must be > 0")
	case i.Cooldown < 0, i.StaleAfter < 0, i.RefreshAfter < 0:
		return errors.New("ingest durations must not be negative")
	}
	return nil
}

type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent"`
}

func (h HTTPConfig) Validate() error {
	if h.Timeout <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if h.MaxRetries < 0 {
		return errors.New("http.max_retries must not be negative")
	}
	return nil
}

// RedisConfig configures the run lock. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

func (r RedisConfig) Validate() error {
	if r.Addr == "" {
		return nil
	}
	if r.LockKey == "" {
		return errors.New("redis.lock_key is required when redis.addr is set")
	}
	if r.LockTTL <= 0 {
		return errors.New("redis.lock_ttl must be > 0 when redis.addr is set")
	}
	return nil
}

// MetricsConfig configures the Pushgateway. An empty PushURL disables it.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	Job     string `mapstructure:"job"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ParsedLevel returns the configured log level.
func (l LogConfig) ParsedLevel() (log.Level, error) {
	return log.ParseLevel(l.Level)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pkgsync.db")

	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.cooldown", time.Hour)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.stale_after", time.Hour)
	v.SetDefault("ingest.refresh_after", 24*time.Hour)
	v.SetDefault("ingest.refresh_limit", 50)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.user_agent", "pkgsync")

	for _, reg := range core.Registries {
		v.SetDefault("registries."+string(reg), "")
	}

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_key", "pkgsync:run")
	v.SetDefault("redis.lock_ttl", 30*time.Minute)

	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job", "pkgsync")

	v.SetDefault("log.level", "info")
}

// Load reads configuration. path may name a yaml, json or toml file; when
// empty, a pkgsync.{yaml,json,toml} in the working directory is used if
// present. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pkgsync")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, section := range []interface{ Validate() error }{c.Database, c.Ingest, c.HTTP, c.Redis} {
		if err := section.Validate(); err != nil {
			return err
		}
	}
	for name := range c.Registries {
		if _, err := core.ParseRegistry(name); err != nil {
			return fmt.Errorf("registries: %w", err)
		}
	}
	if _, err := c.Log.ParsedLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// RegistryURL returns the configured base URL for reg, or "" for the
// adapter's default.
func (c *Config) RegistryURL(reg core.Registry) string {
	return c.Registries[string(reg)]
}
