// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hubcache/backend"
	"hubcache/internal/reminder"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// DefaultPageSize is the default number of notifications fetched per page.
const DefaultPageSize = 20

// Config represents the application configuration
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Session       SessionConfig       `yaml:"session"`
	Notifications NotificationsConfig `yaml:"notifications"`
	OutputFormat  string              `yaml:"output_format"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DatabaseConfig locates the local data service
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig identifies the signed-in user and the active hub
type SessionConfig struct {
	UserID string `yaml:"user_id"`
	HubID  string `yaml:"hub_id"`
}

// NotificationsConfig holds notification feed and alert settings
type NotificationsConfig struct {
	PageSize  int             `yaml:"page_size"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Reminders RemindersConfig `yaml:"reminders"`
}

// RemindersConfig controls alerts for the user's own event reminders
type RemindersConfig struct {
	Enabled bool   `yaml:"enabled"`
	Window  string `yaml:"window"` // how late a reminder may still fire, e.g. "1h"
}

// AlertsConfig controls where unread notifications arriving live are delivered
type AlertsConfig struct {
	Enabled bool          `yaml:"enabled"`
	Desktop DesktopConfig `yaml:"desktop"`
	Log     AlertLog      `yaml:"log"`
}

// DesktopConfig holds desktop popup settings
type DesktopConfig struct {
	Enabled bool     `yaml:"enabled"`
	Types   []string `yaml:"types"` // empty means every type
}

// AlertLog holds alert log file settings
type AlertLog struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(GetDataDir(), "hub.db"),
		},
		Notifications: NotificationsConfig{
			PageSize: DefaultPageSize,
			Alerts: AlertsConfig{
				Log: AlertLog{
					Path:      filepath.Join(GetDataDir(), "alerts.log"),
					MaxSizeMB: 10,
				},
			},
			Reminders: RemindersConfig{
				Enabled: true,
				Window:  "1h",
			},
		},
		OutputFormat: "text",
	}
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample and returns defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and fills in defaults for unset fields.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	defaults := DefaultConfig()
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}
	if cfg.Notifications.PageSize == 0 {
		cfg.Notifications.PageSize = DefaultPageSize
	}
	if cfg.Notifications.Alerts.Log.Path == "" {
		cfg.Notifications.Alerts.Log.Path = defaults.Notifications.Alerts.Log.Path
	}
	if cfg.Notifications.Alerts.Log.MaxSizeMB == 0 {
		cfg.Notifications.Alerts.Log.MaxSizeMB = defaults.Notifications.Alerts.Log.MaxSizeMB
	}
	if cfg.Notifications.Reminders.Window == "" {
		cfg.Notifications.Reminders.Window = defaults.Notifications.Reminders.Window
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "text"
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Notifications.Alerts.Log.Path = ExpandPath(cfg.Notifications.Alerts.Log.Path)
	return cfg, nil
}

// save writes the sample configuration to the specified path
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Notifications.PageSize < 1 || c.Notifications.PageSize > 100 {
		return fmt.Errorf("notifications.page_size must be between 1 and 100, got %d", c.Notifications.PageSize)
	}
	for _, t := range c.Notifications.Alerts.Desktop.Types {
		if !backend.NotificationType(t).Valid() {
			return fmt.Errorf("unknown notification type in notifications.alerts.desktop.types: %q", t)
		}
	}
	if c.Notifications.Alerts.Log.Enabled && c.Notifications.Alerts.Log.Path == "" {
		return errors.New("notifications.alerts.log.path is required when the alert log is enabled")
	}
	if _, err := reminder.ParseInterval(c.Notifications.Reminders.Window); err != nil {
		return fmt.Errorf("notifications.reminders.window: %w", err)
	}
	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(dbPath, userID, hubID, outputFormat string, verbose bool) {
	if dbPath != "" {
		c.Database.Path = ExpandPath(dbPath)
	}
	if userID != "" {
		c.Session.UserID = userID
	}
	if hubID != "" {
		c.Session.HubID = hubID
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
	if verbose {
		c.Logging.Verbose = true
	}
}

// GetDatabasePath returns the path to the SQLite database
func (c *Config) GetDatabasePath() string {
	return c.Database.Path
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "hubcache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "hubcache")
	}
	return filepath.Join(home, fallbackPath, "hubcache")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}
