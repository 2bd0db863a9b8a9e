package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/omakase-sync/internal/db"
	"github.com/livinlefevreloca/omakase-sync/internal/guardian"
	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
	"github.com/livinlefevreloca/omakase-sync/internal/installer"
	"github.com/livinlefevreloca/omakase-sync/internal/reporter"
	"github.com/livinlefevreloca/omakase-sync/internal/scheduler"
	"github.com/livinlefevreloca/omakase-sync/internal/update"
)

// Config represents the application configuration
type Config struct {
	Database  db.Config                 `toml:"database"`
	Scheduler scheduler.SchedulerConfig `toml:"scheduler"`
	Plugin    guardian.Config           `toml:"plugin"`
	Sync      reporter.Config           `toml:"sync"`
	Update    update.Config             `toml:"update"`
	Installer installer.Config          `toml:"installer"`
	HTTP      httpclient.Config         `toml:"http"`
	Logging   LoggingConfig             `toml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "omakase-sync.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Scheduler: scheduler.DefaultSchedulerConfig(),
		Plugin:    guardian.DefaultConfig(),
		Sync:      reporter.DefaultConfig(),
		Update:    update.DefaultConfig(),
		Installer: installer.Config{PluginsDir: "wp-content/plugins"},
		HTTP: httpclient.Config{
			UserAgent:    "omakase-sync",
			MaxBodyBytes: httpclient.DefaultMaxBodyBytes,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key: %s", undecoded[0])
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return defaults
	if configPath == "" {
		return DefaultConfig(), nil
	}

	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Plugin.Validate(); err != nil {
		return fmt.Errorf("plugin: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Update.Validate(); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if err := c.Installer.Validate(); err != nil {
		return fmt.Errorf("installer: %w", err)
	}

	// The updater and the guardian must agree on which plugin they manage
	if c.Update.PluginFile != c.Plugin.PluginFile {
		return fmt.Errorf("update plugin_file %q does not match plugin plugin_file %q",
			c.Update.PluginFile, c.Plugin.PluginFile)
	}

	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http max_body_bytes must not be negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
