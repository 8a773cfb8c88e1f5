package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xts-terminal/internal/masterload"
)

func newMastersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "masters",
		Short: "Master contract management",
		Long:  "Load, download and inspect the master contract catalog.",
	}

	cmd.AddCommand(newMastersLoadCmd(app))
	cmd.AddCommand(newMastersDownloadCmd(app))
	cmd.AddCommand(newMastersStatusCmd(app))
	cmd.AddCommand(newMastersSearchCmd(app))
	cmd.AddCommand(newMastersChainCmd(app))

	return cmd
}

// runLoaderJob starts one loader job and blocks until it finishes,
// rendering progress as it goes.
func runLoaderJob(app *App, output *Output, start func(c *masterload.Worker) bool) error {
	c, err := app.buildCore()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	c.Loader.SetCallbacks(masterload.Callbacks{
		Progress: func(percent int, message string) {
			if !output.IsJSON() {
				output.Printf("\r  [%3d%%] %-40s", percent, message)
			}
		},
		Complete: func(count int) {
			if !output.IsJSON() {
				output.Println()
			}
			output.Success("✓ Loaded %s contracts", FormatQuantity(int64(count)))
			done <- nil
		},
		Failed: func(msg string) {
			if !output.IsJSON() {
				output.Println()
			}
			done <- fmt.Errorf("master load failed: %s", msg)
		},
	})

	if !start(c.Loader) {
		return fmt.Errorf("a master load is already running")
	}
	return <-done
}

func newMastersLoadCmd(app *App) *cobra.Command {
	var download bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load master contracts from the local cache",
		Long: `Load master contracts from the processed-CSV cache, falling back to
the combined master file. With --download the catalog is fetched fresh
from the configured URL instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if download {
				return downloadAndLoad(app, output)
			}
			return runLoaderJob(app, output, func(w *masterload.Worker) bool {
				return w.LoadFromCache(app.Config.Masters.Dir)
			})
		},
	}

	cmd.Flags().BoolVar(&download, "download", false, "download a fresh master file instead of using the cache")
	return cmd
}

func newMastersDownloadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download a fresh master file and load it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return downloadAndLoad(app, NewOutput(cmd))
		},
	}
}

func downloadAndLoad(app *App, output *Output) error {
	c, err := app.buildCore()
	if err != nil {
		return err
	}

	output.Info("Downloading master contracts from %s", app.Config.Masters.DownloadURL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	data, err := c.DownloadMasters(ctx)
	if err != nil {
		return err
	}
	output.Dim("Downloaded %s bytes", FormatQuantity(int64(len(data))))

	return runLoaderJob(app, output, func(w *masterload.Worker) bool {
		return w.LoadFromDownload(app.Config.Masters.Dir, data)
	})
}

func newMastersStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog load state and per-segment counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			c, err := app.buildCore()
			if err != nil {
				return err
			}

			if output.IsJSON() {
				counts := map[string]int{}
				for _, repo := range c.Repo.Segments() {
					counts[string(repo.Segment())] = repo.GetTotalCount()
				}
				return output.JSON(map[string]interface{}{
					"state":    c.LoadState.State().String(),
					"total":    c.Repo.TotalCount(),
					"segments": counts,
				})
			}

			color.Cyan("Master Catalog")
			output.Printf("  State: %s\n", c.LoadState.State())
			if msg := c.LoadState.LastError(); msg != "" {
				output.Error("  Last error: %s", msg)
			}
			output.Println()
			for _, repo := range c.Repo.Segments() {
				output.Printf("  %-6s %10s contracts\n",
					repo.Segment(), FormatQuantity(int64(repo.GetTotalCount())))
			}
			output.Printf("  %-6s %10s contracts\n", "Total",
				FormatQuantity(int64(c.Repo.TotalCount())))
			return nil
		},
	}
}

func newMastersSearchCmd(app *App) *cobra.Command {
	var exchange, segment, series string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <prefix>",
		Short: "Search the catalog by symbol prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			c, err := app.buildCore()
			if err != nil {
				return err
			}
			if err := ensureMastersLoaded(app, output); err != nil {
				return err
			}

			recs := c.Repo.SearchScrips(exchange, segment, series, strings.ToUpper(args[0]), limit)
			if output.IsJSON() {
				return output.JSON(recs)
			}
			if len(recs) == 0 {
				output.Warning("No contracts match %q", args[0])
				return nil
			}

			table := NewTable(output, "Token", "Symbol", "Series", "Name")
			for _, rec := range recs {
				table.AddRow(
					fmt.Sprintf("%d", rec.InstrumentID),
					rec.Name,
					rec.Series,
					TruncateString(rec.DisplayName, 40),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "NSE", "exchange (NSE or BSE)")
	cmd.Flags().StringVar(&segment, "segment", "CM", "segment (CM or FO)")
	cmd.Flags().StringVar(&series, "series", "EQ", "series filter")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func newMastersChainCmd(app *App) *cobra.Command {
	var exchange, expiry string

	cmd := &cobra.Command{
		Use:   "chain <symbol>",
		Short: "Show the option chain for an underlying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			c, err := app.buildCore()
			if err != nil {
				return err
			}
			if err := ensureMastersLoaded(app, output); err != nil {
				return err
			}

			symbol := strings.ToUpper(args[0])
			recs := c.Repo.GetOptionChain(exchange, symbol)
			if expiry != "" {
				filtered := recs[:0]
				for _, rec := range recs {
					if rec.ExpiryDate == expiry {
						filtered = append(filtered, rec)
					}
				}
				recs = filtered
			}

			if output.IsJSON() {
				return output.JSON(recs)
			}
			if len(recs) == 0 {
				output.Warning("No contracts for %s", symbol)
				return nil
			}

			color.Cyan("Option Chain - %s", symbol)
			table := NewTable(output, "Token", "Expiry", "Strike", "Type", "Lot")
			for _, rec := range recs {
				table.AddRow(
					fmt.Sprintf("%d", rec.InstrumentID),
					rec.ExpiryDate,
					FormatPrice(rec.StrikePrice),
					rec.OptionType,
					fmt.Sprintf("%d", rec.LotSize),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "NSE", "exchange (NSE or BSE)")
	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry filter (DDMMMYYYY)")
	return cmd
}

// ensureMastersLoaded loads the cache when the catalog is still empty, so
// query commands work without an explicit `masters load` first.
func ensureMastersLoaded(app *App, output *Output) error {
	c, err := app.buildCore()
	if err != nil {
		return err
	}
	if c.Repo.AnyLoaded() {
		return nil
	}
	output.Dim("Loading master cache from %s", app.Config.Masters.Dir)
	return runLoaderJob(app, output, func(w *masterload.Worker) bool {
		return w.LoadFromCache(app.Config.Masters.Dir)
	})
}
