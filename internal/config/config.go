// Package config provides configuration management for the terminal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"xts-terminal/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Masters MastersConfig `mapstructure:"masters"`
	History HistoryConfig `mapstructure:"history"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Candles CandlesConfig `mapstructure:"candles"`
	ATM     ATMConfig     `mapstructure:"atm"`
	Logging LoggingConfig `mapstructure:"logging"`
	UI      UIConfig      `mapstructure:"ui"`
}

// MastersConfig holds master-contract storage configuration.
type MastersConfig struct {
	// Dir is where the raw master file and processed CSVs live.
	Dir string `mapstructure:"dir"`
	// DownloadURL fetches the combined master file when the cache is
	// missing or stale.
	DownloadURL string `mapstructure:"download_url"`
	// SaveProcessed writes per-segment processed CSVs after a download.
	SaveProcessed bool `mapstructure:"save_processed"`
}

// HistoryConfig holds the candle store configuration.
type HistoryConfig struct {
	// Path to the SQLite database file.
	Path string `mapstructure:"path"`
	// RetentionDays trims candles older than this on startup; 0 keeps
	// everything.
	RetentionDays int `mapstructure:"retention_days"`
}

// FeedConfig holds the broadcast feed connection settings.
type FeedConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// CandlesConfig holds the aggregator defaults.
type CandlesConfig struct {
	// DefaultTimeframes are subscribed for every instrument the run
	// command watches.
	DefaultTimeframes []string `mapstructure:"default_timeframes"`
}

// ATMConfig holds the ATM watch settings.
type ATMConfig struct {
	// Interval is the backup recompute period.
	Interval time.Duration `mapstructure:"interval"`
	// RangeCount is the default ±N strikes to report.
	RangeCount int `mapstructure:"range_count"`
	// Source is "cash" or "future".
	Source string `mapstructure:"source"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

// UIConfig holds output formatting configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
	TimeFormat   string `mapstructure:"time_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/xts-terminal"
	}
	return filepath.Join(home, ".config", "xts-terminal")
}

// DefaultDataDir returns the default data directory for masters and the
// candle database.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/xts-terminal"
	}
	return filepath.Join(home, ".local", "share", "xts-terminal")
}

// Load loads configuration from the specified directory. If configDir is
// empty, the default config directory is used. A missing config file is
// replaced with a commented template and defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("writing config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()
	v.SetDefault("masters.dir", filepath.Join(dataDir, "masters"))
	v.SetDefault("masters.save_processed", true)
	v.SetDefault("history.path", filepath.Join(dataDir, "chart_history.db"))
	v.SetDefault("history.retention_days", 0)
	v.SetDefault("feed.max_retries", 5)
	v.SetDefault("feed.base_delay", time.Second)
	v.SetDefault("candles.default_timeframes", []string{"1m", "5m", "15m"})
	v.SetDefault("atm.interval", time.Minute)
	v.SetDefault("atm.range_count", 2)
	v.SetDefault("atm.source", "cash")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.console", true)
	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")
	v.SetDefault("ui.time_format", "15:04:05")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XTS_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("XTS_FEED_TOKEN"); v != "" {
		cfg.Feed.Token = v
	}
	if v := os.Getenv("XTS_MASTERS_DIR"); v != "" {
		cfg.Masters.Dir = v
	}
	if v := os.Getenv("XTS_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("XTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	for _, tf := range c.Candles.DefaultTimeframes {
		if _, ok := models.ParseTimeframe(tf); !ok {
			return fmt.Errorf("invalid timeframe: %s", tf)
		}
	}
	if c.ATM.Source != "" && c.ATM.Source != "cash" && c.ATM.Source != "future" {
		return fmt.Errorf("invalid atm source: %s (must be 'cash' or 'future')", c.ATM.Source)
	}
	if c.ATM.RangeCount < 0 {
		return fmt.Errorf("atm range_count must be non-negative")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention_days must be non-negative")
	}
	return nil
}

// Timeframes returns the parsed default timeframes.
func (c *Config) Timeframes() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(c.Candles.DefaultTimeframes))
	for _, tf := range c.Candles.DefaultTimeframes {
		if parsed, ok := models.ParseTimeframe(tf); ok {
			out = append(out, parsed)
		}
	}
	return out
}
