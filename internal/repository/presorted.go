package repository

import (
	"sort"
	"sync"

	"xts-terminal/internal/masterfile"
)

// presortedIndexes are the three hash-indexed, multi-key-sorted token
// lists derived from the NSEFO store at finalize time. They are rebuilt
// only on load, so steady-state reads need just the RLock that guards the
// map headers.
//
// Sort keys:
//
//	symbol index:  (expiry, instrumentType, strike, optionType)
//	series index:  (expiry, name, instrumentType, strike, optionType)
//	expiry index:  (name, instrumentType, strike, optionType)
//
// Expiries compare as packed dates, never lexicographically.
type presortedIndexes struct {
	mu          sync.RWMutex
	bySymbol    map[string][]int64
	bySeries    map[string][]int64
	byExpiry    map[string][]int64
	assetTokens map[string]int64
	symbols     []string
}

// sortRow is the subset of columns the comparators need, captured once
// per token so the sort never touches stripe locks.
type sortRow struct {
	token     int64
	name      string
	series    string
	expiry    string
	expiryKey int32
	instType  int32
	strike    float64
	optType   string
}

func newPresortedIndexes() *presortedIndexes {
	return &presortedIndexes{
		bySymbol:    make(map[string][]int64),
		bySeries:    make(map[string][]int64),
		byExpiry:    make(map[string][]int64),
		assetTokens: make(map[string]int64),
	}
}

func (p *presortedIndexes) clear() {
	p.mu.Lock()
	p.bySymbol = make(map[string][]int64)
	p.bySeries = make(map[string][]int64)
	p.byExpiry = make(map[string][]int64)
	p.assetTokens = make(map[string]int64)
	p.symbols = nil
	p.mu.Unlock()
}

// rebuild extracts a sort snapshot of the whole store and rebuilds the
// three indexes. One O(N log N) pass per index at load time buys O(log N)
// seeks on every subsequent chained query.
func (p *presortedIndexes) rebuild(r *NSEFORepo) {
	rows := make([]sortRow, 0, int(r.count.Load()))
	assetTokens := make(map[string]int64)
	for i := 0; i < NumSlots; i++ {
		if !r.isValid(i) {
			continue
		}
		mu := r.stripe(i)
		mu.RLock()
		row := sortRow{
			token:     r.cols.token[i],
			name:      r.cols.name[i],
			series:    r.cols.series[i],
			expiry:    r.cols.expiryDate[i],
			expiryKey: r.cols.expiryKey[i],
			instType:  r.cols.instrumentType[i],
			strike:    r.cols.strikePrice[i],
			optType:   r.cols.optionType[i],
		}
		asset := r.cols.assetToken[i]
		mu.RUnlock()
		rows = append(rows, row)
		if asset > 0 {
			if _, ok := assetTokens[row.name]; !ok {
				assetTokens[row.name] = asset
			}
		}
	}

	bySymbol := make(map[string][]sortRow)
	bySeries := make(map[string][]sortRow)
	byExpiry := make(map[string][]sortRow)
	for _, row := range rows {
		bySymbol[row.name] = append(bySymbol[row.name], row)
		bySeries[row.series] = append(bySeries[row.series], row)
		byExpiry[row.expiry] = append(byExpiry[row.expiry], row)
	}

	symbolIdx := make(map[string][]int64, len(bySymbol))
	symbols := make([]string, 0, len(bySymbol))
	for sym, group := range bySymbol {
		sort.Slice(group, func(a, b int) bool { return lessSymbolKey(group[a], group[b]) })
		symbolIdx[sym] = tokensOf(group)
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	seriesIdx := make(map[string][]int64, len(bySeries))
	for series, group := range bySeries {
		sort.Slice(group, func(a, b int) bool { return lessSeriesKey(group[a], group[b]) })
		seriesIdx[series] = tokensOf(group)
	}

	expiryIdx := make(map[string][]int64, len(byExpiry))
	for expiry, group := range byExpiry {
		sort.Slice(group, func(a, b int) bool { return lessExpiryKey(group[a], group[b]) })
		expiryIdx[expiry] = tokensOf(group)
	}

	p.mu.Lock()
	p.bySymbol = symbolIdx
	p.bySeries = seriesIdx
	p.byExpiry = expiryIdx
	p.assetTokens = assetTokens
	p.symbols = symbols
	p.mu.Unlock()
}

func tokensOf(rows []sortRow) []int64 {
	tokens := make([]int64, len(rows))
	for i, row := range rows {
		tokens[i] = row.token
	}
	return tokens
}

func lessSymbolKey(a, b sortRow) bool {
	if a.expiryKey != b.expiryKey {
		return a.expiryKey < b.expiryKey
	}
	if a.instType != b.instType {
		return a.instType < b.instType
	}
	if a.strike != b.strike {
		return a.strike < b.strike
	}
	return a.optType < b.optType
}

func lessSeriesKey(a, b sortRow) bool {
	if a.expiryKey != b.expiryKey {
		return a.expiryKey < b.expiryKey
	}
	if a.name != b.name {
		return a.name < b.name
	}
	if a.instType != b.instType {
		return a.instType < b.instType
	}
	if a.strike != b.strike {
		return a.strike < b.strike
	}
	return a.optType < b.optType
}

func lessExpiryKey(a, b sortRow) bool {
	if a.name != b.name {
		return a.name < b.name
	}
	if a.instType != b.instType {
		return a.instType < b.instType
	}
	if a.strike != b.strike {
		return a.strike < b.strike
	}
	return a.optType < b.optType
}

func (p *presortedIndexes) symbolTokens(symbol string) []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bySymbol[symbol]
}

func (p *presortedIndexes) seriesTokens(series string) []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bySeries[series]
}

func (p *presortedIndexes) expiryTokens(expiry string) []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byExpiry[expiry]
}

func (p *presortedIndexes) assetToken(symbol string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.assetTokens[symbol]
}

func (p *presortedIndexes) uniqueSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.symbols
}

// symbolExpiryTokens binary-searches the symbol's pre-sorted token list
// for the first entry on the requested expiry and forward-scans the
// matching run. The run is already in strike order.
func (p *presortedIndexes) symbolExpiryTokens(r *NSEFORepo, symbol, expiry string) []int64 {
	tokens := p.symbolTokens(symbol)
	if len(tokens) == 0 {
		return nil
	}
	want := masterfile.ExpiryKey(expiry)
	lo := sort.Search(len(tokens), func(i int) bool {
		return r.expiryKeyOf(tokens[i]) >= want
	})
	var out []int64
	for i := lo; i < len(tokens) && r.expiryKeyOf(tokens[i]) == want; i++ {
		out = append(out, tokens[i])
	}
	return out
}

// expiryKeyOf reads one token's packed expiry without building a record.
// Expiry is immutable after finalize, so no stripe lock is needed.
func (r *NSEFORepo) expiryKeyOf(token int64) int32 {
	if !InBand(token) {
		return 0
	}
	i := slotIndex(token)
	if !r.isValid(i) {
		return 0
	}
	return r.cols.expiryKey[i]
}
