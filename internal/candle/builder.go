// Package candle aggregates broadcast ticks into OHLCV candles across
// multiple timeframes and hands finished candles to the historical store.
package candle

import (
	"time"

	"xts-terminal/internal/models"
)

// Builder accumulates one in-progress candle for a (symbol, segment,
// timeframe) key. Exchange volume is cumulative intraday, so the builder
// tracks volume by max rather than by summing tick deltas; under
// cumulative feed semantics the candle's volume is the period's closing
// cumulative figure.
type Builder struct {
	Symbol    string
	Segment   int
	Timeframe models.Timeframe
	Token     int64 // 0 subscribes the whole segment

	startTime time.Time
	firstTick bool
	candle    models.Candle
}

// NewBuilder creates a builder whose first period contains now.
func NewBuilder(symbol string, segment int, tf models.Timeframe, token int64, now time.Time) *Builder {
	return &Builder{
		Symbol:    symbol,
		Segment:   segment,
		Timeframe: tf,
		Token:     token,
		startTime: tf.Floor(now),
		firstTick: true,
	}
}

// StartTime returns the current period's floor-aligned start.
func (b *Builder) StartTime() time.Time { return b.startTime }

// PeriodEnded reports whether now is at or past the period boundary.
func (b *Builder) PeriodEnded(now time.Time) bool {
	return !now.Before(b.startTime.Add(b.Timeframe.Duration()))
}

// Apply folds one tick into the candle. Ticks without a positive trade
// price are ignored. Reports whether the candle changed.
func (b *Builder) Apply(tick models.Tick) bool {
	if tick.LTP <= 0 {
		return false
	}
	if b.firstTick {
		b.candle = models.Candle{
			Timestamp:    b.startTime,
			Open:         tick.LTP,
			High:         tick.LTP,
			Low:          tick.LTP,
			Close:        tick.LTP,
			Volume:       tick.Volume,
			OpenInterest: tick.OpenInterest,
		}
		b.firstTick = false
		return true
	}
	if tick.LTP > b.candle.High {
		b.candle.High = tick.LTP
	}
	if b.candle.Low <= 0 || tick.LTP < b.candle.Low {
		b.candle.Low = tick.LTP
	}
	b.candle.Close = tick.LTP
	if tick.Volume > b.candle.Volume {
		b.candle.Volume = tick.Volume
	}
	if tick.OpenInterest != 0 {
		b.candle.OpenInterest = tick.OpenInterest
	}
	return true
}

// Snapshot returns a copy of the in-progress candle.
func (b *Builder) Snapshot() models.Candle { return b.candle }

// HasData reports whether any tick landed in the current period.
func (b *Builder) HasData() bool { return !b.firstTick }

// Advance closes the current period and re-arms the builder for the
// period containing now, returning the finished candle. Rollover is
// contiguous when no periods were skipped: the next start is the boundary
// itself.
func (b *Builder) Advance(now time.Time) models.Candle {
	done := b.candle
	next := b.startTime.Add(b.Timeframe.Duration())
	if now.After(next.Add(b.Timeframe.Duration())) {
		// Feed gap skipped whole periods; realign to the wall clock.
		next = b.Timeframe.Floor(now)
	}
	b.startTime = next
	b.firstTick = true
	b.candle = models.Candle{}
	return done
}
