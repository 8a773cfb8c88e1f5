// Package utils provides shared utility functions.
package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketSession describes the current NSE/BSE equity session.
type MarketSession int

const (
	SessionClosed MarketSession = iota
	SessionPreOpen
	SessionOpen
)

func (s MarketSession) String() string {
	switch s {
	case SessionPreOpen:
		return "PRE_OPEN"
	case SessionOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// GetMarketSession returns the session for the current wall clock.
func GetMarketSession() MarketSession {
	return MarketSessionAt(time.Now())
}

// MarketSessionAt returns the session at a given instant. Exchange
// holidays are not modelled; weekends are.
func MarketSessionAt(t time.Time) MarketSession {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return SessionClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return SessionPreOpen
	}

	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return SessionOpen
	}

	return SessionClosed
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return GetMarketSession() == SessionOpen
}

// NextMarketOpen returns the next market opening time.
func NextMarketOpen() time.Time {
	now := time.Now().In(IndiaLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketClose returns today's market close time.
func MarketClose() time.Time {
	now := time.Now().In(IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, IndiaLocation)
}
