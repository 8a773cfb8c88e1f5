package repository

import (
	"sort"
	"sync"

	"xts-terminal/internal/masterfile"
	"xts-terminal/internal/models"
)

// SparseRepo stores a segment whose token space is sparse (NSECM, BSECM,
// BSEFO): a token→index hash map over compact parallel arrays, guarded by
// one reader-writer lock. Memory is proportional to contract count, not
// token range.
type SparseRepo struct {
	segment models.Segment

	mu        sync.RWMutex
	cols      *columns
	tokenIdx  map[int64]int
	count     int
	loaded    bool
	symbolsMu sync.Mutex
	symbols   []string // memoized unique-symbol list; nil when stale
}

// NewSparseRepo creates an empty sparse repository for a segment.
func NewSparseRepo(segment models.Segment) *SparseRepo {
	return &SparseRepo{
		segment:  segment,
		cols:     newColumns(0),
		tokenIdx: make(map[int64]int),
	}
}

// Segment returns the segment tag this repository stores.
func (r *SparseRepo) Segment() models.Segment { return r.segment }

// PrepareForLoad clears the arrays and marks the repository unloaded.
func (r *SparseRepo) PrepareForLoad() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cols = newColumns(0)
	r.tokenIdx = make(map[int64]int)
	r.count = 0
	r.loaded = false
	r.invalidateSymbols()
}

// AddContract appends one contract. A duplicate token overwrites the
// previous index mapping; the orphaned row stays allocated until the next
// reload, matching the streaming-load contract.
func (r *SparseRepo) AddContract(rc models.RawContract, intern InternFunc) {
	if intern == nil {
		intern = identityIntern
	}
	key := masterfile.ExpiryKey(rc.ExpiryDate)

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.cols.grow()
	r.cols.set(i, rc, key, intern)
	r.tokenIdx[rc.InstrumentID] = i
	r.count = len(r.tokenIdx)
}

// FinalizeLoad seals the load and invalidates memoized projections.
func (r *SparseRepo) FinalizeLoad() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = r.count > 0
	r.invalidateSymbols()
}

// Clear drops all contracts.
func (r *SparseRepo) Clear() {
	r.PrepareForLoad()
}

// GetContract returns a value copy for a token.
func (r *SparseRepo) GetContract(token int64) (models.ContractRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.tokenIdx[token]
	if !ok {
		return models.ContractRecord{}, false
	}
	return r.cols.record(i, r.segment), true
}

// HasContract reports whether a token is in the catalog.
func (r *SparseRepo) HasContract(token int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokenIdx[token]
	return ok
}

// GetAllContracts returns value copies of every contract.
func (r *SparseRepo) GetAllContracts() []models.ContractRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ContractRecord, 0, len(r.tokenIdx))
	for _, i := range r.tokenIdx {
		out = append(out, r.cols.record(i, r.segment))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].InstrumentID < out[b].InstrumentID })
	return out
}

// GetContractsBySeries returns all contracts in a series.
func (r *SparseRepo) GetContractsBySeries(series string) []models.ContractRecord {
	return r.filter(func(i int) bool { return r.cols.series[i] == series })
}

// GetContractsBySymbol returns all contracts for an underlying symbol.
func (r *SparseRepo) GetContractsBySymbol(symbol string) []models.ContractRecord {
	return r.filter(func(i int) bool { return r.cols.name[i] == symbol })
}

func (r *SparseRepo) filter(keep func(i int) bool) []models.ContractRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ContractRecord
	for _, i := range r.tokenIdx {
		if keep(i) {
			out = append(out, r.cols.record(i, r.segment))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].InstrumentID < out[b].InstrumentID })
	return out
}

// ForEachContract visits every contract in ascending token order under
// the read lock.
func (r *SparseRepo) ForEachContract(fn func(rec models.ContractRecord) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := make([]int64, 0, len(r.tokenIdx))
	for t := range r.tokenIdx {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(a, b int) bool { return tokens[a] < tokens[b] })
	for _, t := range tokens {
		if !fn(r.cols.record(r.tokenIdx[t], r.segment)) {
			return
		}
	}
}

// GetAllTokens returns every token in the catalog.
func (r *SparseRepo) GetAllTokens() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.tokenIdx))
	for t := range r.tokenIdx {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// GetUniqueSymbols returns the distinct underlying names, memoized until
// the next load.
func (r *SparseRepo) GetUniqueSymbols() []string {
	r.symbolsMu.Lock()
	defer r.symbolsMu.Unlock()
	if r.symbols != nil {
		return r.symbols
	}
	seen := make(map[string]struct{})
	r.mu.RLock()
	for _, i := range r.tokenIdx {
		seen[r.cols.name[i]] = struct{}{}
	}
	r.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	r.symbols = out
	return out
}

func (r *SparseRepo) invalidateSymbols() {
	r.symbolsMu.Lock()
	r.symbols = nil
	r.symbolsMu.Unlock()
}

// UpdateLiveData sets last price and cumulative volume for a token.
func (r *SparseRepo) UpdateLiveData(token int64, ltp float64, volume int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.tokenIdx[token]
	if !ok {
		return
	}
	r.cols.ltp[i] = ltp
	if volume > 0 {
		r.cols.volume[i] = volume
	}
}

// UpdateOHLC sets the session OHLC fields for a token.
func (r *SparseRepo) UpdateOHLC(token int64, open, high, low, closePx, prevClose float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.tokenIdx[token]
	if !ok {
		return
	}
	r.cols.open[i] = open
	r.cols.high[i] = high
	r.cols.low[i] = low
	r.cols.closePx[i] = closePx
	if prevClose > 0 {
		r.cols.prevClose[i] = prevClose
	}
}

// UpdateBidAsk sets the best quotes for a token.
func (r *SparseRepo) UpdateBidAsk(token int64, bid, ask float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.tokenIdx[token]
	if !ok {
		return
	}
	r.cols.bidPrice[i] = bid
	r.cols.askPrice[i] = ask
}

// UpdateGreeks sets the option risk fields for a token, reporting whether
// the token was found.
func (r *SparseRepo) UpdateGreeks(token int64, g models.Greeks) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.tokenIdx[token]
	if !ok {
		return false
	}
	r.cols.iv[i] = g.IV
	r.cols.delta[i] = g.Delta
	r.cols.gamma[i] = g.Gamma
	r.cols.vega[i] = g.Vega
	r.cols.theta[i] = g.Theta
	r.cols.rho[i] = g.Rho
	r.cols.spanMargin[i] = g.SpanMargin
	r.cols.aelMargin[i] = g.AELMargin
	return true
}

// GetTotalCount returns the number of distinct tokens stored.
func (r *SparseRepo) GetTotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// IsLoaded reports whether at least one contract was loaded.
func (r *SparseRepo) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// grow appends one zero row to every column and returns its index.
func (c *columns) grow() int {
	i := len(c.token)
	c.token = append(c.token, 0)
	c.instrumentType = append(c.instrumentType, 0)
	c.name = append(c.name, "")
	c.description = append(c.description, "")
	c.series = append(c.series, "")
	c.displayName = append(c.displayName, "")
	c.isin = append(c.isin, "")
	c.priceBandHigh = append(c.priceBandHigh, 0)
	c.priceBandLow = append(c.priceBandLow, 0)
	c.freezeQty = append(c.freezeQty, 0)
	c.tickSize = append(c.tickSize, 0)
	c.lotSize = append(c.lotSize, 0)
	c.multiplier = append(c.multiplier, 0)
	c.assetToken = append(c.assetToken, 0)
	c.expiryDate = append(c.expiryDate, "")
	c.expiryKey = append(c.expiryKey, 0)
	c.strikePrice = append(c.strikePrice, 0)
	c.optionType = append(c.optionType, "")
	c.ltp = append(c.ltp, 0)
	c.open = append(c.open, 0)
	c.high = append(c.high, 0)
	c.low = append(c.low, 0)
	c.closePx = append(c.closePx, 0)
	c.prevClose = append(c.prevClose, 0)
	c.volume = append(c.volume, 0)
	c.bidPrice = append(c.bidPrice, 0)
	c.askPrice = append(c.askPrice, 0)
	c.iv = append(c.iv, 0)
	c.delta = append(c.delta, 0)
	c.gamma = append(c.gamma, 0)
	c.vega = append(c.vega, 0)
	c.theta = append(c.theta, 0)
	c.rho = append(c.rho, 0)
	c.spanMargin = append(c.spanMargin, 0)
	c.aelMargin = append(c.aelMargin, 0)
	return i
}
