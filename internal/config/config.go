// Package config provides configuration management for the feed client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"kitefeed/internal/logging"
	"kitefeed/internal/ticker"
)

// Config holds all application configuration.
type Config struct {
	Feed        FeedConfig  `mapstructure:"feed"`
	Log         LogConfig   `mapstructure:"log"`
	Credentials Credentials `mapstructure:"-"` // Loaded separately
}

// FeedConfig holds connection settings for the ticker.
type FeedConfig struct {
	URL                  string        `mapstructure:"url"`
	AutoReconnect        bool          `mapstructure:"auto_reconnect"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	DBPath               string        `mapstructure:"db_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// Credentials holds feed API credentials.
type Credentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/kitefeed"
	}
	return filepath.Join(home, ".config", "kitefeed")
}

// Load loads configuration from the specified directory. If configDir
// is empty, uses the default config directory. Missing files fall back
// to defaults; environment variables override file values.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	tickerDefaults := ticker.DefaultConfig("", "")
	v.SetDefault("feed.url", tickerDefaults.URL)
	v.SetDefault("feed.auto_reconnect", true)
	v.SetDefault("feed.reconnect_max_attempts", tickerDefaults.ReconnectMaxAttempts)
	v.SetDefault("feed.reconnect_max_delay", tickerDefaults.ReconnectMaxDelay)
	v.SetDefault("feed.connect_timeout", tickerDefaults.ConnectTimeout)
	v.SetDefault("feed.db_path", filepath.Join(configDir, "kitefeed.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.path", filepath.Join(configDir, "logs", "kitefeed.log"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// No config file: defaults apply.
	}
	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.AccessToken = v
	}
	if v := os.Getenv("KITE_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
}

// Validate validates the configuration. The reconnect delay floor is
// enforced here, before any connection is attempted.
func (c *Config) Validate() error {
	if c.Feed.ReconnectMaxDelay < 5*time.Second {
		return fmt.Errorf("feed.reconnect_max_delay must be at least 5s, got %s", c.Feed.ReconnectMaxDelay)
	}
	if c.Feed.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("feed.reconnect_max_attempts must be non-negative")
	}
	if c.Feed.ConnectTimeout <= 0 {
		return fmt.Errorf("feed.connect_timeout must be positive")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return nil
}

// TickerConfig builds the ticker configuration from the loaded values.
func (c *Config) TickerConfig() ticker.Config {
	return ticker.Config{
		APIKey:               c.Credentials.APIKey,
		AccessToken:          c.Credentials.AccessToken,
		URL:                  c.Feed.URL,
		AutoReconnect:        c.Feed.AutoReconnect,
		ReconnectMaxAttempts: c.Feed.ReconnectMaxAttempts,
		ReconnectMaxDelay:    c.Feed.ReconnectMaxDelay,
		ConnectTimeout:       c.Feed.ConnectTimeout,
	}
}

// LoggingConfig builds the logging configuration from the loaded values.
func (c *Config) LoggingConfig() logging.LogConfig {
	lc := logging.DefaultLogConfig()
	if c.Log.Level != "" {
		lc.Level = c.Log.Level
	}
	lc.Console = c.Log.Console
	lc.File = c.Log.File
	if c.Log.Path != "" {
		lc.FilePath = c.Log.Path
	}
	return lc
}
