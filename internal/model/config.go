package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// HRNOTIFY_SERVER_BASE_URL overrides server.base_url.
const EnvPrefix = "HRNOTIFY"

// ServerConfig locates the HR backend.
type ServerConfig struct {
	// BaseURL is the root of the REST API (e.g. https://hr.example.com/api).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// StreamPath is appended to BaseURL to reach the event stream.
	StreamPath string `mapstructure:"stream_path" yaml:"stream_path"`

	// RequestTimeout bounds every request/response call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StreamURL returns the absolute URL of the live event stream.
func (s ServerConfig) StreamURL() string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(s.StreamPath, "/")
}

// LiveConfig controls the push channel.
type LiveConfig struct {
	Enabled              bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme              string `mapstructure:"theme" yaml:"theme"`
	PageSize           int    `mapstructure:"page_size" yaml:"page_size"`
	DropdownSize       int    `mapstructure:"dropdown_size" yaml:"dropdown_size"`
	RefreshIntervalSec int    `mapstructure:"refresh_interval_sec" yaml:"refresh_interval_sec"`
}

// CacheConfig controls the local read model.
type CacheConfig struct {
	// StaleAfter marks cached regions stale after this age. Zero keeps
	// them until explicitly invalidated.
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`

	// DBPath is the SQLite file holding confirmed read receipts.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// ReceiptRetention prunes receipts older than this at startup. Zero
	// keeps them forever.
	ReceiptRetention time.Duration `mapstructure:"receipt_retention" yaml:"receipt_retention"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Live    LiveConfig    `mapstructure:"live" yaml:"live"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns ~/.config/hrnotify, or "." when the home directory
// cannot be determined.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "hrnotify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/hrnotify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// setDefaults registers every key so missing values resolve sensibly and
// environment overrides are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	dir := ConfigDir()

	v.SetDefault("server.base_url", "http://localhost:8080/api")
	v.SetDefault("server.stream_path", "/notifications/stream")
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("live.enabled", true)
	v.SetDefault("live.max_reconnect_attempts", 5)
	v.SetDefault("live.reconnect_delay", 3*time.Second)
	v.SetDefault("display.theme", "default")
	v.SetDefault("display.page_size", 20)
	v.SetDefault("display.dropdown_size", 5)
	v.SetDefault("display.refresh_interval_sec", 60)
	v.SetDefault("cache.stale_after", time.Duration(0))
	v.SetDefault("cache.db_path", filepath.Join(dir, "cache.db"))
	v.SetDefault("cache.receipt_retention", 90*24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(dir, "hrnotify.log"))
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults and HRNOTIFY_* environment
// variables still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects values the client cannot run with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return errors.New("server.base_url is required")
	}
	if c.Live.MaxReconnectAttempts < 0 {
		return errors.New("live.max_reconnect_attempts must not be negative")
	}
	if c.Live.ReconnectDelay <= 0 {
		return errors.New("live.reconnect_delay must be positive")
	}
	if c.Display.PageSize <= 0 || c.Display.DropdownSize <= 0 {
		return errors.New("display.page_size and display.dropdown_size must be positive")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server.base_url", cfg.Server.BaseURL)
	v.Set("server.stream_path", cfg.Server.StreamPath)
	v.Set("server.request_timeout", cfg.Server.RequestTimeout.String())
	v.Set("live.enabled", cfg.Live.Enabled)
	v.Set("live.max_reconnect_attempts", cfg.Live.MaxReconnectAttempts)
	v.Set("live.reconnect_delay", cfg.Live.ReconnectDelay.String())
	v.Set("display", cfg.Display)
	v.Set("cache.stale_after", cfg.Cache.StaleAfter.String())
	v.Set("cache.db_path", cfg.Cache.DBPath)
	v.Set("cache.receipt_retention", cfg.Cache.ReceiptRetention.String())
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
