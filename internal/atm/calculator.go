// Package atm resolves the at-the-money strike for watched underlyings
// from live prices and the contract catalog.
package atm

import (
	"math"
	"sort"
)

// Result is one strike resolution: the nearest strike to the base price
// and, when a range was requested, its neighborhood.
type Result struct {
	ATMStrike float64
	Strikes   []float64
	Valid     bool
}

// CalculateFromActualStrikes finds the listed strike nearest to base.
// When base falls between two strikes the closer one wins; at an exact
// midpoint the lower strike wins. rangeCount > 0 widens Strikes to
// ±rangeCount neighbors, clamped to the chain's bounds.
func CalculateFromActualStrikes(base float64, strikes []float64, rangeCount int) Result {
	var res Result
	if len(strikes) == 0 || base <= 0 {
		return res
	}

	sorted := make([]float64, len(strikes))
	copy(sorted, strikes)
	sort.Float64s(sorted)

	i := sort.SearchFloat64s(sorted, base)
	var idx int
	switch {
	case i == len(sorted):
		idx = len(sorted) - 1
	case i == 0:
		idx = 0
	default:
		higher, lower := sorted[i], sorted[i-1]
		if higher-base < base-lower {
			idx = i
		} else {
			idx = i - 1
		}
	}

	res.ATMStrike = sorted[idx]
	res.Valid = true

	if rangeCount > 0 {
		lo := idx - rangeCount
		if lo < 0 {
			lo = 0
		}
		hi := idx + rangeCount
		if hi > len(sorted)-1 {
			hi = len(sorted) - 1
		}
		res.Strikes = append(res.Strikes, sorted[lo:hi+1]...)
	} else {
		res.Strikes = []float64{res.ATMStrike}
	}
	return res
}

// CalculateFixedDifference rounds base to the nearest multiple of step
// and synthesizes the ±rangeCount neighborhood. Used where the contract
// catalog is unavailable.
func CalculateFixedDifference(base, step float64, rangeCount int) Result {
	var res Result
	if step <= 0 || base <= 0 {
		return res
	}

	res.ATMStrike = math.Round(base/step) * step
	res.Valid = true

	if rangeCount > 0 {
		for i := -rangeCount; i <= rangeCount; i++ {
			res.Strikes = append(res.Strikes, res.ATMStrike+float64(i)*step)
		}
	} else {
		res.Strikes = []float64{res.ATMStrike}
	}
	return res
}

// StrikeInterval derives the chain's strike spacing from its first two
// strikes, falling back to 50 when the chain is too short. The watch
// manager uses half of this as its recompute threshold.
func StrikeInterval(strikes []float64) float64 {
	if len(strikes) < 2 {
		return 50
	}
	return strikes[1] - strikes[0]
}
