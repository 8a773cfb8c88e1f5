package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# XTS Terminal Configuration

[masters]
# Directory holding master contract files (raw download + processed CSVs).
# Defaults to ~/.local/share/xts-terminal/masters when empty.
dir = ""
download_url = "https://mtrade.arhamshare.com/apimarketdata/instruments/master"
# Write per-segment processed CSVs after each load
save_processed = true

[history]
# SQLite database for completed candles.
# Defaults to ~/.local/share/xts-terminal/chart_history.db when empty.
path = ""
# Candles older than this are purged on startup (0 keeps everything)
retention_days = 30

[feed]
url = "wss://mtrade.arhamshare.com/apimarketdata/socket.io"
token = ""
max_retries = 5
base_delay = "1s"

[candles]
# Timeframes built for every subscribed instrument
default_timeframes = ["1m", "5m", "15m"]

[atm]
# How often ATM watches are recalculated
interval = "1m"
# Strikes kept on each side of the ATM strike
range_count = 2
# Base price source: "cash" or "future"
source = "cash"

[logging]
# Levels: trace, debug, info, warn, error
level = "info"
# Log file path. Defaults to ~/.local/share/xts-terminal/terminal.log when empty.
file = ""
max_size_mb = 10
max_backups = 5
max_age_days = 30
# Also log to stderr
console = false

[ui]
color_enabled = true
date_format = "2006-01-02"
time_format = "15:04:05"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
