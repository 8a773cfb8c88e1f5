package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xts-terminal/internal/atm"
	"xts-terminal/internal/candle"
	"xts-terminal/internal/models"
	"xts-terminal/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	var atmWatches []string
	var timeframes []string

	cmd := &cobra.Command{
		Use:   "run [symbols...]",
		Short: "Follow the broadcast feed and build candles",
		Long: `Connect to the XTS broadcast feed, subscribe the given cash symbols,
and build candles into the local archive until interrupted.

ATM watches are added with --atm SYMBOL:EXPIRY, e.g.
--atm NIFTY:27JAN2026. Recalculated strikes are printed as the
underlying moves.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			c, err := app.buildCore()
			if err != nil {
				return err
			}
			if err := ensureMastersLoaded(app, output); err != nil {
				return err
			}

			tfs := app.Config.Timeframes()
			if len(timeframes) > 0 {
				tfs = tfs[:0]
				for _, raw := range timeframes {
					tf, ok := models.ParseTimeframe(raw)
					if !ok {
						return fmt.Errorf("invalid timeframe: %s", raw)
					}
					tfs = append(tfs, tf)
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			c.Start(ctx)
			defer c.Close()

			c.Aggregator.OnCandleComplete(func(ev candle.Event) {
				output.Printf("%s %s %-10s %s %s\n",
					FormatTime(ev.Candle.Timestamp),
					color.CyanString("%-4s", ev.Timeframe),
					ev.Symbol,
					FormatOHLC(ev.Candle.Open, ev.Candle.High, ev.Candle.Low, ev.Candle.Close),
					color.New(color.Faint).Sprintf("V: %s", FormatVolume(ev.Candle.Volume)),
				)
			})
			c.ATM.OnATMUpdated(func(info atm.Info) {
				output.Printf("%s %s %-10s base %s  ATM %s  strikes %v\n",
					FormatTime(info.LastUpdated),
					color.MagentaString("ATM "),
					info.Symbol,
					FormatPrice(info.BasePrice),
					color.GreenString(FormatPrice(info.ATMStrike)),
					info.Strikes,
				)
			})

			var watches []atm.WatchConfig
			for _, raw := range atmWatches {
				cfg, err := parseATMWatch(raw, app)
				if err != nil {
					return err
				}
				watches = append(watches, cfg)
			}
			if len(watches) > 0 {
				c.ATM.AddWatchesBatch(watches)
			}

			if session := utils.GetMarketSession(); session != utils.SessionOpen {
				output.Warning("Market is %s; the feed may be quiet", session)
			}

			if err := c.ConnectFeed(ctx); err != nil {
				return err
			}
			output.Success("✓ Feed connected: %s", app.Config.Feed.URL)

			if err := subscribeSymbols(app, output, args, tfs); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
				output.Println()
				output.Info("Shutting down")
			case <-ctx.Done():
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&atmWatches, "atm", nil, "ATM watch as SYMBOL:EXPIRY (repeatable)")
	cmd.Flags().StringSliceVar(&timeframes, "tf", nil, "timeframes to build (default from config)")
	return cmd
}

// subscribeSymbols resolves cash symbols to tokens, subscribes them on
// the feed, and registers candle builders.
func subscribeSymbols(app *App, output *Output, symbols []string, tfs []models.Timeframe) error {
	if len(symbols) == 0 {
		return nil
	}
	c := app.Core

	var tokens []int64
	for _, raw := range symbols {
		symbol := strings.ToUpper(raw)
		recs := c.Repo.SearchScrips("NSE", "CM", "EQ", symbol, 1)
		rec, ok := exactEquityMatch(recs, symbol)
		if !ok {
			output.Warning("Unknown symbol %q, skipping", raw)
			continue
		}
		tokens = append(tokens, rec.InstrumentID)
		c.Aggregator.SubscribeTo(rec.Name, models.SegmentIDNSECM, rec.InstrumentID, tfs)
		output.Dim("Subscribed %s (token %d)", rec.Name, rec.InstrumentID)
	}
	if len(tokens) == 0 {
		return nil
	}
	return c.Feed.Subscribe(models.SegmentIDNSECM, tokens)
}

// exactEquityMatch accepts a prefix-search result only when its leading
// record is the symbol itself, so "HDFC" does not silently subscribe
// "HDFCBANK".
func exactEquityMatch(recs []models.ContractRecord, symbol string) (models.ContractRecord, bool) {
	if len(recs) == 0 || recs[0].Name != symbol {
		return models.ContractRecord{}, false
	}
	return recs[0], true
}

// parseATMWatch parses SYMBOL:EXPIRY into a watch config using the
// configured source and range count.
func parseATMWatch(raw string, app *App) (atm.WatchConfig, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return atm.WatchConfig{}, fmt.Errorf("invalid --atm value %q, want SYMBOL:EXPIRY", raw)
	}
	source := atm.SourceCash
	if app.Config.ATM.Source == "future" {
		source = atm.SourceFuture
	}
	return atm.WatchConfig{
		Symbol:     strings.ToUpper(parts[0]),
		Expiry:     strings.ToUpper(parts[1]),
		Source:     source,
		RangeCount: app.Config.ATM.RangeCount,
	}, nil
}
