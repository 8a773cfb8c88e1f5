package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesTemplateAndDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("expected template config.toml to be created: %v", err)
	}
	if cfg.Feed.MaxRetries != 5 {
		t.Errorf("feed.max_retries = %d, want 5", cfg.Feed.MaxRetries)
	}
	if cfg.Feed.BaseDelay != time.Second {
		t.Errorf("feed.base_delay = %v, want 1s", cfg.Feed.BaseDelay)
	}
	if len(cfg.Candles.DefaultTimeframes) == 0 {
		t.Error("expected default timeframes")
	}
	if cfg.ATM.Source != "cash" {
		t.Errorf("atm.source = %q, want cash", cfg.ATM.Source)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[feed]
url = "wss://example.test/feed"
max_retries = 9

[candles]
default_timeframes = ["5m", "1h"]

[atm]
range_count = 4
source = "future"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.URL != "wss://example.test/feed" {
		t.Errorf("feed.url = %q", cfg.Feed.URL)
	}
	if cfg.Feed.MaxRetries != 9 {
		t.Errorf("feed.max_retries = %d, want 9", cfg.Feed.MaxRetries)
	}
	if cfg.ATM.RangeCount != 4 || cfg.ATM.Source != "future" {
		t.Errorf("atm = %+v", cfg.ATM)
	}
	tfs := cfg.Timeframes()
	if len(tfs) != 2 {
		t.Errorf("parsed timeframes = %v, want 2", tfs)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XTS_FEED_TOKEN", "env-token")
	t.Setenv("XTS_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.Token != "env-token" {
		t.Errorf("feed.token = %q, want env-token", cfg.Feed.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timeframe", func(c *Config) { c.Candles.DefaultTimeframes = []string{"7x"} }},
		{"bad atm source", func(c *Config) { c.ATM.Source = "synthetic" }},
		{"negative range count", func(c *Config) { c.ATM.RangeCount = -1 }},
		{"negative retention", func(c *Config) { c.History.RetentionDays = -5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Candles: CandlesConfig{DefaultTimeframes: []string{"1m"}},
				ATM:     ATMConfig{Source: "cash"},
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
