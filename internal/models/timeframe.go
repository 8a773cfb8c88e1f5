package models

import (
	"time"
)

// Timeframe is a candle period identifier.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1D  Timeframe = "1D"
	Timeframe1W  Timeframe = "1W"
)

// Timeframes lists all supported timeframes in ascending duration order.
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe4h, Timeframe1D, Timeframe1W,
}

// Duration returns the wall-clock length of one period, or 0 for an
// unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1D:
		return 24 * time.Hour
	case Timeframe1W:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Floor aligns t down to the start of the period containing it. Weekly
// periods start on Monday 00:00 in t's location.
func (tf Timeframe) Floor(t time.Time) time.Time {
	switch tf {
	case Timeframe1D:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case Timeframe1W:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
	d := tf.Duration()
	if d == 0 {
		return t
	}
	return t.Truncate(d)
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, bool) {
	tf := Timeframe(s)
	return tf, tf.Duration() > 0
}
