package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xts-terminal/internal/models"
)

func newCandlesCmd(app *App) *cobra.Command {
	var timeframe string
	var count int
	var segmentID int

	cmd := &cobra.Command{
		Use:   "candles <symbol>",
		Short: "Query stored candles from the local archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			c, err := app.buildCore()
			if err != nil {
				return err
			}

			tf, ok := models.ParseTimeframe(timeframe)
			if !ok {
				return fmt.Errorf("invalid timeframe: %s", timeframe)
			}
			symbol := strings.ToUpper(args[0])

			candles, err := c.History.GetRecentCandles(cmd.Context(), symbol, segmentID, tf, count)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(candles)
			}
			if len(candles) == 0 {
				output.Warning("No stored candles for %s %s", symbol, tf)
				return nil
			}

			color.Cyan("%s  %s  (%d candles)", symbol, tf, len(candles))
			table := NewTable(output, "Time", "Open", "High", "Low", "Close", "Volume")
			for _, cd := range candles {
				table.AddRow(
					FormatDateTime(cd.Timestamp),
					FormatPrice(cd.Open),
					FormatPrice(cd.High),
					FormatPrice(cd.Low),
					FormatPrice(cd.Close),
					FormatVolume(cd.Volume),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&timeframe, "tf", "5m", "timeframe (1m 5m 15m 30m 1h 4h 1D 1W)")
	cmd.Flags().IntVarP(&count, "count", "n", 20, "number of candles")
	cmd.Flags().IntVar(&segmentID, "segment", models.SegmentIDNSECM, "exchange segment id")
	return cmd
}

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show candle archive statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			c, err := app.buildCore()
			if err != nil {
				return err
			}

			stats, err := c.History.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(stats)
			}

			color.Cyan("Candle Archive")
			output.Printf("  Candles:      %s\n", FormatQuantity(stats.CandleCount))
			output.Printf("  Indicators:   %s\n", FormatQuantity(stats.IndicatorCount))
			output.Printf("  Distinct keys: %s\n", FormatQuantity(stats.DistinctKeys))
			if !stats.OldestCandle.IsZero() {
				output.Printf("  Oldest:       %s\n", FormatDateTime(stats.OldestCandle))
				output.Printf("  Newest:       %s\n", FormatDateTime(stats.NewestCandle))
			}
			output.Printf("  File size:    %s bytes\n", FormatQuantity(stats.FileSizeBytes))
			return nil
		},
	}
}
