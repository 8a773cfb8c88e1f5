package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xts-terminal/internal/atm"
)

func newATMCmd(app *App) *cobra.Command {
	var expiry, source string
	var rangeCount int
	var basePrice float64

	cmd := &cobra.Command{
		Use:   "atm <symbol>",
		Short: "Resolve the at-the-money strike for an underlying",
		Long: `Resolve the at-the-money strike from the loaded option chain.

Without --base the underlying price is read from the live store, which
is only populated while the feed runs; offline use passes the base
price explicitly.`,
		Args: cobra.ExactArgs(1),
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
			if expiry == "" {
				return fmt.Errorf("--expiry is required")
			}
			expiry = strings.ToUpper(expiry)

			strikes := c.Repo.NSEFO().GetStrikesForSymbolExpiry(symbol, expiry)
			if len(strikes) == 0 {
				return fmt.Errorf("no option strikes for %s %s", symbol, expiry)
			}

			// Offline path: explicit base price against the actual chain.
			if basePrice > 0 {
				res := atm.CalculateFromActualStrikes(basePrice, strikes, rangeCount)
				if !res.Valid {
					return fmt.Errorf("could not resolve ATM for %s", symbol)
				}
				return printATMResult(output, symbol, expiry, basePrice, res)
			}

			src := atm.SourceCash
			if source == "future" {
				src = atm.SourceFuture
			}
			c.ATM.AddWatch(atm.WatchConfig{
				Symbol:     symbol,
				Expiry:     expiry,
				Source:     src,
				RangeCount: rangeCount,
			})
			info, ok := c.ATM.GetATMInfo(symbol)
			if !ok || !info.Valid {
				return fmt.Errorf("underlying price for %s unavailable (run the feed, or pass --base)", symbol)
			}

			if output.IsJSON() {
				return output.JSON(info)
			}
			color.Cyan("ATM - %s %s", symbol, expiry)
			output.Printf("  Base price: %s\n", FormatPrice(info.BasePrice))
			output.Printf("  ATM strike: %s\n", output.Green(FormatPrice(info.ATMStrike)))
			output.Printf("  Strikes:    %v\n", info.Strikes)
			output.Printf("  CE token:   %d\n", info.CallToken)
			output.Printf("  PE token:   %d\n", info.PutToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry (DDMMMYYYY), required")
	cmd.Flags().StringVar(&source, "source", "cash", "base price source (cash or future)")
	cmd.Flags().IntVar(&rangeCount, "range", 2, "strikes on each side of the ATM")
	cmd.Flags().Float64Var(&basePrice, "base", 0, "explicit underlying price (offline)")
	return cmd
}

func printATMResult(output *Output, symbol, expiry string, base float64, res atm.Result) error {
	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"symbol":     symbol,
			"expiry":     expiry,
			"base_price": base,
			"atm_strike": res.ATMStrike,
			"strikes":    res.Strikes,
		})
	}
	color.Cyan("ATM - %s %s", symbol, expiry)
	output.Printf("  Base price: %s\n", FormatPrice(base))
	output.Printf("  ATM strike: %s\n", output.Green(FormatPrice(res.ATMStrike)))
	output.Printf("  Strikes:    %v\n", res.Strikes)
	return nil
}
