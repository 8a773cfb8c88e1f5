// Package cli provides the command-line interface for the terminal.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"xts-terminal/internal/config"
	"xts-terminal/internal/core"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-01-01"
)

// App holds the application dependencies shared by every command.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Core   *core.Context
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "xts-terminal",
		Short: "XTS Terminal - market data and contract terminal for Indian derivatives",
		Long: `XTS Terminal is a market-data terminal for the Indian equity and
derivatives markets (NSECM, NSEFO, BSECM, BSEFO).

It loads master contract files, follows the XTS broadcast feed, builds
candles across timeframes into a local SQLite archive, and tracks the
at-the-money strike per watched underlying.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/xts-terminal)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newMastersCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCandlesCmd(app))
	rootCmd.AddCommand(newStatsCmd(app))
	rootCmd.AddCommand(newATMCmd(app))

	return rootCmd
}

// buildCore constructs the component graph lazily so commands that only
// read config never open the database.
func (app *App) buildCore() (*core.Context, error) {
	if app.Core != nil {
		return app.Core, nil
	}
	c, err := core.New(app.Config, app.Logger)
	if err != nil {
		return nil, err
	}
	app.Core = c
	return c, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("XTS Terminal v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Masters")
	output.Printf("  Dir:            %s\n", cfg.Masters.Dir)
	output.Printf("  Download URL:   %s\n", cfg.Masters.DownloadURL)
	output.Printf("  Save Processed: %v\n", cfg.Masters.SaveProcessed)
	output.Println()

	output.Bold("History")
	output.Printf("  Path:           %s\n", cfg.History.Path)
	output.Printf("  Retention:      %d days\n", cfg.History.RetentionDays)
	output.Println()

	output.Bold("Feed")
	output.Printf("  URL:            %s\n", cfg.Feed.URL)
	output.Printf("  Max Retries:    %d\n", cfg.Feed.MaxRetries)
	output.Printf("  Base Delay:     %s\n", cfg.Feed.BaseDelay)
	output.Println()

	output.Bold("Candles")
	output.Printf("  Timeframes:     %v\n", cfg.Candles.DefaultTimeframes)
	output.Println()

	output.Bold("ATM Watch")
	output.Printf("  Interval:       %s\n", cfg.ATM.Interval)
	output.Printf("  Range Count:    %d\n", cfg.ATM.RangeCount)
	output.Printf("  Source:         %s\n", cfg.ATM.Source)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:          %s\n", cfg.Logging.Level)
	output.Printf("  File:           %s\n", cfg.Logging.File)
	output.Printf("  Console:        %v\n", cfg.Logging.Console)

	return nil
}
