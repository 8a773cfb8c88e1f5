// Package livestore maintains the per-token live market state for one
// exchange segment: a dense vector of slots updated in place by the
// broadcast feed and read as point-in-time snapshot copies.
package livestore

import (
	"sync"
	"time"

	"xts-terminal/internal/models"
)

// DefaultCapacity covers the NSECM token space including the index tokens
// in the 26000 band.
const DefaultCapacity = 100_000

// NSEFO derivative tokens occupy a dense band starting well above the
// cash token space; slots are offset by the band base so the whole band
// fits. Spread contracts and anything else outside a store's band land in
// the overflow map.
const (
	nsefoBandBase = 35_000
	nsefoBandSize = 165_000
)

// State is the full live slice for one token. Reads return copies of this
// struct; nothing a caller holds outlives the store's lock.
type State struct {
	Token         int64
	LTP           float64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PrevClose     float64
	Volume        int64
	LastTradeQty  int64
	LastTradeAt   time.Time
	AvgPrice      float64
	NetChange     float64
	NetChangeInd  int32
	TradingStatus int32
	BookType      int32

	Bids         [models.DepthSize]models.DepthLevel
	Asks         [models.DepthSize]models.DepthLevel
	TotalBuyQty  int64
	TotalSellQty int64

	// Static fields copied from the master catalog.
	Symbol        string
	Series        string
	DisplayName   string
	LotSize       int64
	TickSize      float64
	PriceBandHigh float64
	PriceBandLow  float64

	Updated bool
}

// Store holds the live slots for one segment. One reader-writer mutex
// guards the whole vector: the broadcast feed is a single producer per
// segment, so writers are short and sequential while reads fan out on the
// shared lock.
type Store struct {
	segment  models.Segment
	base     int64
	mu       sync.RWMutex
	slots    []State
	overflow map[int64]*State
}

// NewStore creates a live store with capacity slots. Zero or negative
// capacity picks the segment's natural band: the full derivative band for
// NSEFO, DefaultCapacity from token 0 otherwise. Tokens outside the band
// (BSE scrip codes, NSEFO spreads) go through the overflow map.
func NewStore(segment models.Segment, capacity int) *Store {
	var base int64
	if capacity <= 0 {
		if segment == models.SegmentNSEFO {
			base = nsefoBandBase
			capacity = nsefoBandSize
		} else {
			capacity = DefaultCapacity
		}
	}
	return &Store{
		segment:  segment,
		base:     base,
		slots:    make([]State, capacity),
		overflow: make(map[int64]*State),
	}
}

// Segment returns the segment tag this store serves.
func (s *Store) Segment() models.Segment { return s.segment }

// Capacity returns the dense slot count.
func (s *Store) Capacity() int { return len(s.slots) }

// slot returns the live state for token, creating an overflow entry for
// tokens outside the dense band. Callers must hold mu for writing.
func (s *Store) slot(token int64) *State {
	if i := token - s.base; i >= 0 && i < int64(len(s.slots)) {
		return &s.slots[i]
	}
	st, ok := s.overflow[token]
	if !ok {
		st = &State{}
		s.overflow[token] = st
	}
	return st
}

// peek returns the state for token without creating anything. Callers
// must hold mu at least for reading.
func (s *Store) peek(token int64) *State {
	if i := token - s.base; i >= 0 && i < int64(len(s.slots)) {
		return &s.slots[i]
	}
	return s.overflow[token]
}

// InitializeToken populates a slot's static fields from the catalog.
func (s *Store) InitializeToken(token int64, symbol, series, displayName string, lotSize int64, tickSize, bandHigh, bandLow float64) {
	s.mu.Lock()
	slot := s.slot(token)
	slot.Token = token
	slot.Symbol = symbol
	slot.Series = series
	slot.DisplayName = displayName
	slot.LotSize = lotSize
	slot.TickSize = tickSize
	slot.PriceBandHigh = bandHigh
	slot.PriceBandLow = bandLow
	s.mu.Unlock()
}

// InitializeFromMaster populates slots for every contract the repository
// knows. A live slot being valid implies its static fields are populated.
func (s *Store) InitializeFromMaster(forEach func(fn func(rec models.ContractRecord) bool)) int {
	initialized := 0
	forEach(func(rec models.ContractRecord) bool {
		s.mu.Lock()
		slot := s.slot(rec.InstrumentID)
		slot.Token = rec.InstrumentID
		slot.Symbol = rec.Name
		slot.Series = rec.Series
		slot.DisplayName = rec.DisplayName
		slot.LotSize = rec.LotSize
		slot.TickSize = rec.TickSize
		slot.PriceBandHigh = rec.PriceBandHigh
		slot.PriceBandLow = rec.PriceBandLow
		s.mu.Unlock()
		initialized++
		return true
	})
	return initialized
}

// UpdateTouchline applies one touchline broadcast.
func (s *Store) UpdateTouchline(token int64, ltp, open, high, low, closePx float64, volume, lastQty int64, lastAt time.Time, avgPrice, netChange float64, netChangeInd, status, bookType int32) {
	s.mu.Lock()
	slot := s.slot(token)
	slot.Token = token
	slot.LTP = ltp
	slot.Open = open
	slot.High = high
	slot.Low = low
	slot.Close = closePx
	if closePx > 0 {
		slot.PrevClose = closePx
	}
	if volume > 0 {
		slot.Volume = volume
	}
	slot.LastTradeQty = lastQty
	slot.LastTradeAt = lastAt
	slot.AvgPrice = avgPrice
	slot.NetChange = netChange
	slot.NetChangeInd = netChangeInd
	slot.TradingStatus = status
	slot.BookType = bookType
	slot.Updated = true
	s.mu.Unlock()
}

// UpdateMarketDepth applies one depth broadcast: both 5-level sides plus
// the aggregate quantities.
func (s *Store) UpdateMarketDepth(token int64, bids, asks [models.DepthSize]models.DepthLevel, totalBuy, totalSell int64) {
	s.mu.Lock()
	slot := s.slot(token)
	slot.Token = token
	slot.Bids = bids
	slot.Asks = asks
	slot.TotalBuyQty = totalBuy
	slot.TotalSellQty = totalSell
	slot.Updated = true
	s.mu.Unlock()
}

// UpdateTicker applies a minimal trade-print update.
func (s *Store) UpdateTicker(token int64, fillPrice float64, fillVolume int64) {
	s.mu.Lock()
	slot := s.slot(token)
	slot.Token = token
	slot.LTP = fillPrice
	slot.LastTradeQty = fillVolume
	if fillPrice > slot.High || slot.High == 0 {
		slot.High = fillPrice
	}
	if fillPrice < slot.Low || slot.Low == 0 {
		slot.Low = fillPrice
	}
	slot.Updated = true
	s.mu.Unlock()
}

// ApplyTick folds a boundary tick into the slot: touchline fields plus
// depth when the tick carries a book.
func (s *Store) ApplyTick(tick models.Tick) {
	s.mu.Lock()
	slot := s.slot(tick.ExchangeInstrumentID)
	slot.Token = tick.ExchangeInstrumentID
	if tick.LTP > 0 {
		slot.LTP = tick.LTP
	}
	if tick.Open > 0 {
		slot.Open = tick.Open
	}
	if tick.High > 0 {
		slot.High = tick.High
	}
	if tick.Low > 0 {
		slot.Low = tick.Low
	}
	if tick.Close > 0 {
		slot.Close = tick.Close
		slot.PrevClose = tick.Close
	}
	if tick.Volume > 0 {
		slot.Volume = tick.Volume
	}
	if tick.LastTradeQty > 0 {
		slot.LastTradeQty = tick.LastTradeQty
	}
	if tick.AvgPrice > 0 {
		slot.AvgPrice = tick.AvgPrice
	}
	slot.LastTradeAt = tick.LastUpdateTime
	if tick.Bids[0].Price > 0 || tick.Asks[0].Price > 0 {
		slot.Bids = tick.Bids
		slot.Asks = tick.Asks
	}
	slot.Updated = true
	s.mu.Unlock()
}

// GetUnifiedSnapshot returns a point-in-time copy of one slot: every field
// reflects the state at the instant the shared lock was held, with no torn
// reads across fields. Unknown tokens return a zero state.
func (s *Store) GetUnifiedSnapshot(token int64) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st := s.peek(token); st != nil {
		return *st
	}
	return State{}
}

// GetLTP returns the last traded price for a token, 0 on miss.
func (s *Store) GetLTP(token int64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st := s.peek(token); st != nil {
		return st.LTP
	}
	return 0
}

// Reset zeroes every slot. Used on session rollover.
func (s *Store) Reset() {
	s.mu.Lock()
	for i := range s.slots {
		s.slots[i] = State{}
	}
	s.overflow = make(map[int64]*State)
	s.mu.Unlock()
}
