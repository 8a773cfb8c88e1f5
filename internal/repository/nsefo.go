package repository

import (
	"sort"
	"sync"
	"sync/atomic"

	"xts-terminal/internal/masterfile"
	"xts-terminal/internal/models"
)

// NSEFO token-space constants. F&O tokens lie in a dense band, so the
// store indexes directly by token−MinToken instead of hashing. Spread
// contracts sit far outside the band and live in a side map.
const (
	MinToken        int64 = 35000
	MaxToken        int64 = 199950
	NumSlots              = int(MaxToken - MinToken + 1) // 164,951
	SpreadThreshold int64 = 10_000_000

	numStripes = 256 // power of two, so stripe selection is a bitmask
)

// NSEFORepo is the dense-indexed store for the NSE F&O segment, the
// highest-update-rate segment. Slot access is guarded by 256 striped
// reader-writer locks keyed by arrayIndex mod 256, so concurrent feed
// writers on different tokens rarely contend. The columnar arrays are
// allocated once at construction and never reallocated; loads only flip
// the validity bitmap.
type NSEFORepo struct {
	cols    *columns
	valid   []uint64 // validity bitmap, one bit per slot
	stripes [numStripes]sync.RWMutex

	count  atomic.Int64
	loaded atomic.Bool

	spreadMu sync.RWMutex
	spreads  map[int64]*models.ContractRecord

	idx *presortedIndexes
}

// NewNSEFORepo allocates the full dense store (~165k slots).
func NewNSEFORepo() *NSEFORepo {
	return &NSEFORepo{
		cols:    newColumns(NumSlots),
		valid:   make([]uint64, NumSlots/64+1),
		spreads: make(map[int64]*models.ContractRecord),
		idx:     newPresortedIndexes(),
	}
}

// Segment returns the segment tag this repository stores.
func (r *NSEFORepo) Segment() models.Segment { return models.SegmentNSEFO }

// InBand reports whether a token falls inside the dense slot range.
func InBand(token int64) bool { return token >= MinToken && token <= MaxToken }

func slotIndex(token int64) int { return int(token - MinToken) }

func (r *NSEFORepo) stripe(i int) *sync.RWMutex { return &r.stripes[i&(numStripes-1)] }

func (r *NSEFORepo) isValid(i int) bool {
	return atomic.LoadUint64(&r.valid[i>>6])&(1<<uint(i&63)) != 0
}

func (r *NSEFORepo) setValid(i int) {
	for {
		old := atomic.LoadUint64(&r.valid[i>>6])
		if atomic.CompareAndSwapUint64(&r.valid[i>>6], old, old|1<<uint(i&63)) {
			return
		}
	}
}

// PrepareForLoad clears the validity bitmap, the spread map, and the
// derived indexes. Loading is a single-writer phase; queries racing a
// reload observe a shrinking catalog, never torn rows.
func (r *NSEFORepo) PrepareForLoad() {
	for i := range r.valid {
		atomic.StoreUint64(&r.valid[i], 0)
	}
	r.spreadMu.Lock()
	r.spreads = make(map[int64]*models.ContractRecord)
	r.spreadMu.Unlock()
	r.count.Store(0)
	r.loaded.Store(false)
	r.idx.clear()
}

// AddContract stores one contract into its dense slot, or into the spread
// side map for tokens beyond the threshold. Out-of-band non-spread tokens
// are dropped.
func (r *NSEFORepo) AddContract(rc models.RawContract, intern InternFunc) {
	if intern == nil {
		intern = identityIntern
	}
	token := rc.InstrumentID
	if token >= SpreadThreshold {
		rec := rawToRecord(rc)
		r.spreadMu.Lock()
		if _, dup := r.spreads[token]; !dup {
			r.count.Add(1)
		}
		r.spreads[token] = &rec
		r.spreadMu.Unlock()
		return
	}
	if !InBand(token) {
		return
	}
	i := slotIndex(token)
	mu := r.stripe(i)
	mu.Lock()
	fresh := !r.isValid(i)
	r.cols.set(i, rc, masterfile.ExpiryKey(rc.ExpiryDate), intern)
	r.setValid(i)
	mu.Unlock()
	if fresh {
		r.count.Add(1)
	}
}

// FinalizeLoad seals the load and rebuilds the pre-sorted secondary
// indexes (one O(N log N) pass; steady-state queries stay read-only).
func (r *NSEFORepo) FinalizeLoad() {
	r.idx.rebuild(r)
	r.loaded.Store(r.count.Load() > 0)
}

// Clear drops all contracts and derived indexes.
func (r *NSEFORepo) Clear() {
	r.PrepareForLoad()
}

// GetContract returns a value copy for a token.
func (r *NSEFORepo) GetContract(token int64) (models.ContractRecord, bool) {
	if !InBand(token) {
		r.spreadMu.RLock()
		defer r.spreadMu.RUnlock()
		if rec, ok := r.spreads[token]; ok {
			return *rec, true
		}
		return models.ContractRecord{}, false
	}
	i := slotIndex(token)
	if !r.isValid(i) {
		return models.ContractRecord{}, false
	}
	mu := r.stripe(i)
	mu.RLock()
	defer mu.RUnlock()
	return r.cols.record(i, models.SegmentNSEFO), true
}

// HasContract reports whether a token is in the catalog.
func (r *NSEFORepo) HasContract(token int64) bool {
	if InBand(token) {
		return r.isValid(slotIndex(token))
	}
	r.spreadMu.RLock()
	defer r.spreadMu.RUnlock()
	_, ok := r.spreads[token]
	return ok
}

// GetAllContracts returns value copies of every contract, dense band
// first, spreads after, ascending by token.
func (r *NSEFORepo) GetAllContracts() []models.ContractRecord {
	out := make([]models.ContractRecord, 0, int(r.count.Load()))
	r.ForEachContract(func(rec models.ContractRecord) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// ForEachContract visits every contract. Each row copy is taken under its
// stripe's read lock; the walk as a whole is not a snapshot.
func (r *NSEFORepo) ForEachContract(fn func(rec models.ContractRecord) bool) {
	for i := 0; i < NumSlots; i++ {
		if !r.isValid(i) {
			continue
		}
		mu := r.stripe(i)
		mu.RLock()
		rec := r.cols.record(i, models.SegmentNSEFO)
		mu.RUnlock()
		if !fn(rec) {
			return
		}
	}
	r.spreadMu.RLock()
	tokens := make([]int64, 0, len(r.spreads))
	for t := range r.spreads {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(a, b int) bool { return tokens[a] < tokens[b] })
	for _, t := range tokens {
		rec := *r.spreads[t]
		if !fn(rec) {
			break
		}
	}
	r.spreadMu.RUnlock()
}

// GetAllTokens returns every token in the catalog.
func (r *NSEFORepo) GetAllTokens() []int64 {
	out := make([]int64, 0, int(r.count.Load()))
	for i := 0; i < NumSlots; i++ {
		if r.isValid(i) {
			out = append(out, MinToken+int64(i))
		}
	}
	r.spreadMu.RLock()
	for t := range r.spreads {
		out = append(out, t)
	}
	r.spreadMu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// GetContractsBySeries returns all contracts in a series, in the
// pre-sorted (expiry, name, type, strike, optionType) order.
func (r *NSEFORepo) GetContractsBySeries(series string) []models.ContractRecord {
	return r.recordsFor(r.idx.seriesTokens(series))
}

// GetContractsBySymbol returns all contracts for an underlying, in the
// pre-sorted (expiry, type, strike, optionType) order.
func (r *NSEFORepo) GetContractsBySymbol(symbol string) []models.ContractRecord {
	return r.recordsFor(r.idx.symbolTokens(symbol))
}

// GetContractsByExpiry returns all contracts expiring on a canonical
// DDMMMYYYY date.
func (r *NSEFORepo) GetContractsByExpiry(expiry string) []models.ContractRecord {
	return r.recordsFor(r.idx.expiryTokens(expiry))
}

// GetContractsBySymbolAndExpiry returns the contracts for one underlying
// and expiry, optionally filtered by instrument type (pass a negative
// type for all). The result is already sorted by strike. This is the hot
// path for option-chain displays and the ATM watch.
func (r *NSEFORepo) GetContractsBySymbolAndExpiry(symbol, expiry string, instrumentType int) []models.ContractRecord {
	tokens := r.idx.symbolExpiryTokens(r, symbol, expiry)
	if instrumentType < 0 {
		return r.recordsFor(tokens)
	}
	out := make([]models.ContractRecord, 0, len(tokens))
	for _, t := range tokens {
		if rec, ok := r.GetContract(t); ok && rec.InstrumentType == instrumentType {
			out = append(out, rec)
		}
	}
	return out
}

// GetStrikesForSymbolExpiry returns the distinct option strikes for one
// underlying and expiry, ascending.
func (r *NSEFORepo) GetStrikesForSymbolExpiry(symbol, expiry string) []float64 {
	chain := r.GetContractsBySymbolAndExpiry(symbol, expiry, models.InstrumentOption)
	strikes := make([]float64, 0, len(chain)/2)
	var last float64 = -1
	for _, rec := range chain {
		if rec.StrikePrice != last {
			strikes = append(strikes, rec.StrikePrice)
			last = rec.StrikePrice
		}
	}
	sort.Float64s(strikes)
	return strikes
}

// GetTokensForStrike returns the CE and PE tokens at one strike of an
// option chain, or 0 for a side that has no contract.
func (r *NSEFORepo) GetTokensForStrike(symbol, expiry string, strike float64) (ce, pe int64) {
	for _, rec := range r.GetContractsBySymbolAndExpiry(symbol, expiry, models.InstrumentOption) {
		if rec.StrikePrice != strike {
			continue
		}
		switch rec.OptionType {
		case "CE":
			ce = rec.InstrumentID
		case "PE":
			pe = rec.InstrumentID
		}
	}
	return ce, pe
}

// GetAssetToken returns the cash-segment token of an underlying, taken
// from the first F&O contract that names it, or 0 when unknown.
func (r *NSEFORepo) GetAssetToken(symbol string) int64 {
	return r.idx.assetToken(symbol)
}

// GetUniqueSymbols returns the distinct underlying names.
func (r *NSEFORepo) GetUniqueSymbols() []string {
	return r.idx.uniqueSymbols()
}

func (r *NSEFORepo) recordsFor(tokens []int64) []models.ContractRecord {
	out := make([]models.ContractRecord, 0, len(tokens))
	for _, t := range tokens {
		if rec, ok := r.GetContract(t); ok {
			out = append(out, rec)
		}
	}
	return out
}

// UpdateLiveData sets last price and cumulative volume for a token.
func (r *NSEFORepo) UpdateLiveData(token int64, ltp float64, volume int64) {
	if !InBand(token) {
		r.updateSpread(token, func(rec *models.ContractRecord) {
			rec.LTP = ltp
			if volume > 0 {
				rec.Volume = volume
			}
		})
		return
	}
	i := slotIndex(token)
	if !r.isValid(i) {
		return
	}
	mu := r.stripe(i)
	mu.Lock()
	r.cols.ltp[i] = ltp
	if volume > 0 {
		r.cols.volume[i] = volume
	}
	mu.Unlock()
}

// UpdateOHLC sets the session OHLC fields for a token.
func (r *NSEFORepo) UpdateOHLC(token int64, open, high, low, closePx, prevClose float64) {
	if !InBand(token) {
		r.updateSpread(token, func(rec *models.ContractRecord) {
			rec.Open, rec.High, rec.Low, rec.Close = open, high, low, closePx
			if prevClose > 0 {
				rec.PrevClose = prevClose
			}
		})
		return
	}
	i := slotIndex(token)
	if !r.isValid(i) {
		return
	}
	mu := r.stripe(i)
	mu.Lock()
	r.cols.open[i] = open
	r.cols.high[i] = high
	r.cols.low[i] = low
	r.cols.closePx[i] = closePx
	if prevClose > 0 {
		r.cols.prevClose[i] = prevClose
	}
	mu.Unlock()
}

// UpdateBidAsk sets the best quotes for a token.
func (r *NSEFORepo) UpdateBidAsk(token int64, bid, ask float64) {
	if !InBand(token) {
		r.updateSpread(token, func(rec *models.ContractRecord) {
			rec.BidPrice, rec.AskPrice = bid, ask
		})
		return
	}
	i := slotIndex(token)
	if !r.isValid(i) {
		return
	}
	mu := r.stripe(i)
	mu.Lock()
	r.cols.bidPrice[i] = bid
	r.cols.askPrice[i] = ask
	mu.Unlock()
}

// UpdateGreeks sets the option risk fields for a token, reporting whether
// the token was found.
func (r *NSEFORepo) UpdateGreeks(token int64, g models.Greeks) bool {
	if !InBand(token) {
		found := false
		r.updateSpread(token, func(rec *models.ContractRecord) {
			rec.Greeks = g
			found = true
		})
		return found
	}
	i := slotIndex(token)
	if !r.isValid(i) {
		return false
	}
	mu := r.stripe(i)
	mu.Lock()
	r.cols.iv[i] = g.IV
	r.cols.delta[i] = g.Delta
	r.cols.gamma[i] = g.Gamma
	r.cols.vega[i] = g.Vega
	r.cols.theta[i] = g.Theta
	r.cols.rho[i] = g.Rho
	r.cols.spanMargin[i] = g.SpanMargin
	r.cols.aelMargin[i] = g.AELMargin
	mu.Unlock()
	return true
}

func (r *NSEFORepo) updateSpread(token int64, mutate func(*models.ContractRecord)) {
	r.spreadMu.Lock()
	defer r.spreadMu.Unlock()
	if rec, ok := r.spreads[token]; ok {
		mutate(rec)
	}
}

// GetTotalCount returns the number of contracts stored, spreads included.
func (r *NSEFORepo) GetTotalCount() int { return int(r.count.Load()) }

// IsLoaded reports whether at least one contract was loaded.
func (r *NSEFORepo) IsLoaded() bool { return r.loaded.Load() }

// rawToRecord builds a static-only record for the spread side map.
func rawToRecord(rc models.RawContract) models.ContractRecord {
	return models.ContractRecord{
		Segment:        rc.Segment,
		InstrumentID:   rc.InstrumentID,
		InstrumentType: rc.InstrumentType,
		Name:           rc.Name,
		Description:    rc.Description,
		Series:         rc.Series,
		DisplayName:    rc.DisplayName,
		ISIN:           rc.ISIN,
		PriceBandHigh:  rc.PriceBandHigh,
		PriceBandLow:   rc.PriceBandLow,
		FreezeQty:      rc.FreezeQty,
		TickSize:       rc.TickSize,
		LotSize:        rc.LotSize,
		Multiplier:     rc.Multiplier,
		AssetToken:     rc.AssetToken,
		ExpiryDate:     rc.ExpiryDate,
		StrikePrice:    rc.StrikePrice,
		OptionType:     rc.OptionType,
	}
}
