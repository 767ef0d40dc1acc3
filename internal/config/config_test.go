package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Feed.URL != "wss://ws.kite.trade" {
		t.Errorf("URL = %q", cfg.Feed.URL)
	}
	if !cfg.Feed.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if cfg.Feed.ReconnectMaxAttempts != 300 {
		t.Errorf("ReconnectMaxAttempts = %d, want 300", cfg.Feed.ReconnectMaxAttempts)
	}
	if cfg.Feed.ReconnectMaxDelay != 60*time.Second {
		t.Errorf("ReconnectMaxDelay = %s, want 60s", cfg.Feed.ReconnectMaxDelay)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[feed]
url = "wss://example.test"
auto_reconnect = false
reconnect_max_attempts = 10
reconnect_max_delay = "30s"
connect_timeout = "3s"

[log]
level = "debug"
`)
	writeFile(t, dir, "credentials.toml", `
api_key = "file_key"
access_token = "file_token"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Feed.URL != "wss://example.test" {
		t.Errorf("URL = %q", cfg.Feed.URL)
	}
	if cfg.Feed.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if cfg.Feed.ReconnectMaxAttempts != 10 {
		t.Errorf("ReconnectMaxAttempts = %d", cfg.Feed.ReconnectMaxAttempts)
	}
	if cfg.Feed.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("ReconnectMaxDelay = %s", cfg.Feed.ReconnectMaxDelay)
	}
	if cfg.Feed.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %s", cfg.Feed.ConnectTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Credentials.APIKey != "file_key" || cfg.Credentials.AccessToken != "file_token" {
		t.Errorf("credentials = %q/%q", cfg.Credentials.APIKey, cfg.Credentials.AccessToken)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "credentials.toml", `
api_key = "file_key"
access_token = "file_token"
`)

	t.Setenv("KITE_API_KEY", "env_key")
	t.Setenv("KITE_ACCESS_TOKEN", "env_token")
	t.Setenv("KITE_FEED_URL", "wss://env.test")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.APIKey != "env_key" {
		t.Errorf("APIKey = %q, want env_key", cfg.Credentials.APIKey)
	}
	if cfg.Credentials.AccessToken != "env_token" {
		t.Errorf("AccessToken = %q, want env_token", cfg.Credentials.AccessToken)
	}
	if cfg.Feed.URL != "wss://env.test" {
		t.Errorf("URL = %q, want wss://env.test", cfg.Feed.URL)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Feed: FeedConfig{
			ReconnectMaxDelay: 60 * time.Second,
			ConnectTimeout:    7 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"delay below floor", func(c *Config) { c.Feed.ReconnectMaxDelay = time.Second }},
		{"negative attempts", func(c *Config) { c.Feed.ReconnectMaxAttempts = -1 }},
		{"zero connect timeout", func(c *Config) { c.Feed.ConnectTimeout = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

func TestTickerConfig(t *testing.T) {
	cfg := Config{
		Feed: FeedConfig{
			URL:                  "wss://example.test",
			AutoReconnect:        true,
			ReconnectMaxAttempts: 10,
			ReconnectMaxDelay:    30 * time.Second,
			ConnectTimeout:       3 * time.Second,
		},
		Credentials: Credentials{APIKey: "k", AccessToken: "t"},
	}

	tc := cfg.TickerConfig()
	if tc.APIKey != "k" || tc.AccessToken != "t" {
		t.Errorf("credentials = %q/%q", tc.APIKey, tc.AccessToken)
	}
	if tc.URL != "wss://example.test" || !tc.AutoReconnect {
		t.Errorf("URL = %q, AutoReconnect = %v", tc.URL, tc.AutoReconnect)
	}
	if tc.ReconnectMaxAttempts != 10 || tc.ReconnectMaxDelay != 30*time.Second || tc.ConnectTimeout != 3*time.Second {
		t.Errorf("timings = %d/%s/%s", tc.ReconnectMaxAttempts, tc.ReconnectMaxDelay, tc.ConnectTimeout)
	}
}
