// Package models provides domain models for the market-data core.
package models

import (
	"time"
)

// Segment identifies an exchange segment.
type Segment string

const (
	SegmentNSECM Segment = "NSECM" // NSE cash market
	SegmentNSEFO Segment = "NSEFO" // NSE futures & options
	SegmentBSECM Segment = "BSECM" // BSE cash market
	SegmentBSEFO Segment = "BSEFO" // BSE futures & options
)

// XTS numeric segment ids (stable wire contract).
const (
	SegmentIDNSECM = 1
	SegmentIDNSEFO = 2
	SegmentIDBSECM = 11
	SegmentIDBSEFO = 12
)

// SegmentID returns the XTS numeric id for a segment, or 0 if unknown.
func SegmentID(seg Segment) int {
	switch seg {
	case SegmentNSECM:
		return SegmentIDNSECM
	case SegmentNSEFO:
		return SegmentIDNSEFO
	case SegmentBSECM:
		return SegmentIDBSECM
	case SegmentBSEFO:
		return SegmentIDBSEFO
	}
	return 0
}

// SegmentFromID returns the segment for an XTS numeric id.
func SegmentFromID(id int) (Segment, bool) {
	switch id {
	case SegmentIDNSECM:
		return SegmentNSECM, true
	case SegmentIDNSEFO:
		return SegmentNSEFO, true
	case SegmentIDBSECM:
		return SegmentBSECM, true
	case SegmentIDBSEFO:
		return SegmentBSEFO, true
	}
	return "", false
}

// SegmentFor maps an (exchange, segment) text pair to a Segment tag.
// Exchange is NSE or BSE; segment is CM/EQUITY or FO/DERIVATIVE.
func SegmentFor(exchange, segment string) (Segment, bool) {
	fo := segment == "FO" || segment == "DERIVATIVE" || segment == "FNO"
	switch exchange {
	case "NSE":
		if fo {
			return SegmentNSEFO, true
		}
		return SegmentNSECM, true
	case "BSE":
		if fo {
			return SegmentBSEFO, true
		}
		return SegmentBSECM, true
	}
	return "", false
}

// Instrument type codes used in the master files.
const (
	InstrumentCash   = 0
	InstrumentFuture = 1
	InstrumentOption = 2
	InstrumentSpread = 4
)

// RawContract is the parser output for one master-file row.
type RawContract struct {
	Segment        Segment `csv:"-"`
	InstrumentID   int64   `csv:"instrument_id"`
	InstrumentType int     `csv:"instrument_type"`
	Name           string  `csv:"name"`
	Description    string  `csv:"description"`
	Series         string  `csv:"series"`
	DisplayName    string  `csv:"display_name"`
	ISIN           string  `csv:"isin"`
	PriceBandHigh  float64 `csv:"price_band_high"`
	PriceBandLow   float64 `csv:"price_band_low"`
	FreezeQty      int64   `csv:"freeze_qty"`
	TickSize       float64 `csv:"tick_size"`
	LotSize        int64   `csv:"lot_size"`
	Multiplier     float64 `csv:"multiplier"`

	// F&O only.
	AssetToken  int64   `csv:"asset_token"`
	ExpiryDate  string  `csv:"expiry_date"` // canonical DDMMMYYYY
	StrikePrice float64 `csv:"strike_price"`
	OptionType  string  `csv:"option_type"` // CE, PE or XX
}

// IsOption reports whether the contract is an option.
func (r *RawContract) IsOption() bool { return r.InstrumentType == InstrumentOption }

// IsFuture reports whether the contract is a future.
func (r *RawContract) IsFuture() bool { return r.InstrumentType == InstrumentFuture }

// Greeks holds per-option risk sensitivities.
type Greeks struct {
	IV         float64
	Delta      float64
	Gamma      float64
	Vega       float64
	Theta      float64
	Rho        float64
	SpanMargin float64
	AELMargin  float64
}

// ContractRecord is the unified value view of one contract: static catalog
// fields plus the live slice at the time the record was built. Records are
// copies; holding one never pins a repository lock.
type ContractRecord struct {
	Segment        Segment
	InstrumentID   int64
	InstrumentType int
	Name           string
	Description    string
	Series         string
	DisplayName    string
	ISIN           string
	PriceBandHigh  float64
	PriceBandLow   float64
	FreezeQty      int64
	TickSize       float64
	LotSize        int64
	Multiplier     float64

	AssetToken  int64
	ExpiryDate  string
	StrikePrice float64
	OptionType  string

	// Live fields.
	LTP       float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	PrevClose float64
	Volume    int64
	BidPrice  float64
	AskPrice  float64

	Greeks Greeks
}

// DepthLevel is one level of the order book on one side.
type DepthLevel struct {
	Price    float64
	Quantity int64
	Orders   int32
}

// DepthSize is the number of book levels carried on each side of a tick.
const DepthSize = 5

// Tick is the boundary struct carrying one broadcast update. The transport
// translates the wire encoding; the core only ever sees this shape.
type Tick struct {
	ExchangeSegment      int
	ExchangeInstrumentID int64
	LTP                  float64
	Open                 float64
	High                 float64
	Low                  float64
	Close                float64
	Volume               int64
	OpenInterest         int64
	LastTradeQty         int64
	AvgPrice             float64
	LastUpdateTime       time.Time
	Bids                 [DepthSize]DepthLevel
	Asks                 [DepthSize]DepthLevel
}

// Candle represents OHLCV data for one period of a timeframe.
type Candle struct {
	Timestamp    time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	OpenInterest int64
}

// Valid reports whether the candle carries a usable bar: a real period
// start and positive prices on all four legs.
func (c Candle) Valid() bool {
	return !c.Timestamp.IsZero() && c.Open > 0 && c.High > 0 && c.Low > 0 && c.Close > 0
}
