/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. Optional YAML file (-config flag)
  3. .env file in the working directory, if present
  4. INSTALLMENTS_* environment variables (server.port -> INSTALLMENTS_SERVER_PORT)

Command-line flags are applied on top by cmd/server.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // allocation.timezone resolves without a system zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/warp/installments/installment"
)

const EnvPrefix = "INSTALLMENTS"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Allocation AllocationConfig `mapstructure:"allocation"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" or "release"
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Cron          string `mapstructure:"cron"`
	LookaheadDays int    `mapstructure:"lookahead_days"`
}

type AllocationConfig struct {
	MinReferenceAmount int64  `mapstructure:"min_reference_amount"`
	MaxReferences      int    `mapstructure:"max_references"` // 1..installment.DefaultMaxReferences
	Timezone           string `mapstructure:"timezone"`       // IANA name; decides a sale's creation month
}

// Location returns the configured timezone, UTC when unset or unknown.
func (a AllocationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "installments.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 6 * * *")
	v.SetDefault("scheduler.lookahead_days", 1)

	v.SetDefault("allocation.min_reference_amount", 500)
	v.SetDefault("allocation.max_references", installment.DefaultMaxReferences)
	v.SetDefault("allocation.timezone", "UTC")
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment are used.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	if c.Allocation.MaxReferences < 1 || c.Allocation.MaxReferences > installment.DefaultMaxReferences {
		return fmt.Errorf("config: allocation.max_references must be 1..%d, got %d",
			installment.DefaultMaxReferences, c.Allocation.MaxReferences)
	}
	if _, err := time.LoadLocation(c.Allocation.Timezone); err != nil {
		return fmt.Errorf("config: allocation.timezone: %w", err)
	}
	if c.Allocation.MinReferenceAmount < 0 {
		return fmt.Errorf("config: allocation.min_reference_amount must not be negative, got %d", c.Allocation.MinReferenceAmount)
	}
	if c.Scheduler.LookaheadDays < 0 {
		return fmt.Errorf("config: scheduler.lookahead_days must not be negative, got %d", c.Scheduler.LookaheadDays)
	}
	return nil
}
