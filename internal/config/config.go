// Package config loads docsync settings from a YAML file, DOCSYNC_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/daemon"
	"github.com/docsync/docsync/internal/logging"
	dsync "github.com/docsync/docsync/internal/sync"
)

// EnvPrefix prefixes environment overrides, e.g. DOCSYNC_REMOTE_DSN.
const EnvPrefix = "DOCSYNC"

// Config is the full docsync configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Relations string          `mapstructure:"relations"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Log       logging.Options `mapstructure:"log"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// RemoteConfig selects the remote store.
type RemoteConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	TableTimeout time.Duration `mapstructure:"table_timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Plan         []dsync.Step  `mapstructure:"plan"`
}

// DaemonConfig tunes the watch daemon.
type DaemonConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	PullInterval time.Duration `mapstructure:"pull_interval"`
	InitialSync  bool          `mapstructure:"initial_sync"`
}

// DashboardConfig configures the HTTP server.
type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("relations", "")
	v.SetDefault("remote.dsn", filepath.Join("data", ".remote", "docsync.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("sync.table_timeout", 30*time.Second)
	v.SetDefault("sync.retries", 2)
	v.SetDefault("sync.retry_backoff", 500*time.Millisecond)
	v.SetDefault("daemon.debounce", 500*time.Millisecond)
	v.SetDefault("daemon.pull_interval", time.Minute)
	v.SetDefault("daemon.initial_sync", true)
	v.SetDefault("dashboard.addr", ":8080")
}

// Load reads the configuration. When path is empty, docsync.yaml is looked
// up in the working directory and $HOME/.config/docsync; a missing file is
// not an error. Flags bound to v before Load take precedence.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "docsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Sync.Retries < 0 {
		return fmt.Errorf("sync.retries cannot be negative")
	}
	if c.Daemon.Debounce <= 0 {
		return fmt.Errorf("daemon.debounce must be positive")
	}
	if len(c.Sync.Plan) > 0 {
		if err := dsync.Plan(c.Sync.Plan).Validate(); err != nil {
			return fmt.Errorf("sync.plan: %w", err)
		}
	}
	return nil
}

// SyncOptions converts the sync section into engine options.
func (c *Config) SyncOptions() dsync.Options {
	return dsync.Options{
		Plan:         dsync.Plan(c.Sync.Plan),
		TableTimeout: c.Sync.TableTimeout,
		Retries:      c.Sync.Retries,
		RetryBackoff: c.Sync.RetryBackoff,
	}
}

// DaemonConfig converts the daemon section into a daemon.Config.
func (c *Config) DaemonConfig(logger *zap.Logger) *daemon.Config {
	return &daemon.Config{
		DebounceInterval: c.Daemon.Debounce,
		PullInterval:     c.Daemon.PullInterval,
		InitialSync:      c.Daemon.InitialSync,
		Logger:           logger,
	}
}
