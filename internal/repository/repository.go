// Package repository stores the master contract catalog for the four
// exchange segments and answers catalog queries. Storage is columnar:
// parallel slices per field rather than a slice of records, so the hot
// live-update columns stay cache-dense and loaders can stream row by row.
package repository

import (
	"xts-terminal/internal/models"
)

// InternFunc deduplicates strings during a streaming load. Identity is a
// valid implementation.
type InternFunc func(string) string

// SegmentRepo is the capability set shared by all four segment stores.
// Update methods are silent no-ops on unknown tokens: feeds legitimately
// reference tokens outside the catalog.
type SegmentRepo interface {
	Segment() models.Segment

	// Streaming load protocol: PrepareForLoad, AddContract per row,
	// FinalizeLoad. Duplicate tokens overwrite the earlier mapping.
	PrepareForLoad()
	AddContract(rc models.RawContract, intern InternFunc)
	FinalizeLoad()

	LoadMasterFile(path string) (int, error)
	LoadProcessedCSV(path string) (int, error)
	SaveProcessedCSV(path string) error
	LoadFromContracts(contracts []models.RawContract) int

	GetContract(token int64) (models.ContractRecord, bool)
	HasContract(token int64) bool
	GetAllContracts() []models.ContractRecord
	GetContractsBySeries(series string) []models.ContractRecord
	GetContractsBySymbol(symbol string) []models.ContractRecord
	GetUniqueSymbols() []string
	// ForEachContract visits every contract under the read lock. The
	// callback must not block or call back into the repository; returning
	// false stops the walk.
	ForEachContract(fn func(rec models.ContractRecord) bool)
	GetAllTokens() []int64

	UpdateLiveData(token int64, ltp float64, volume int64)
	UpdateOHLC(token int64, open, high, low, closePx, prevClose float64)
	UpdateBidAsk(token int64, bid, ask float64)
	UpdateGreeks(token int64, g models.Greeks) bool

	GetTotalCount() int
	IsLoaded() bool
	Clear()
}

// columns holds the parallel per-field slices for one store. All slices
// always share the same length; row i across every slice is one contract.
type columns struct {
	token          []int64
	instrumentType []int32
	name           []string
	description    []string
	series         []string
	displayName    []string
	isin           []string
	priceBandHigh  []float64
	priceBandLow   []float64
	freezeQty      []int64
	tickSize       []float64
	lotSize        []int64
	multiplier     []float64

	assetToken  []int64
	expiryDate  []string
	expiryKey   []int32
	strikePrice []float64
	optionType  []string

	// Live columns, zeroed at load and mutated in place afterwards.
	ltp       []float64
	open      []float64
	high      []float64
	low       []float64
	closePx   []float64
	prevClose []float64
	volume    []int64
	bidPrice  []float64
	askPrice  []float64

	iv         []float64
	delta      []float64
	gamma      []float64
	vega       []float64
	theta      []float64
	rho        []float64
	spanMargin []float64
	aelMargin  []float64
}

func newColumns(n int) *columns {
	return &columns{
		token:          make([]int64, n),
		instrumentType: make([]int32, n),
		name:           make([]string, n),
		description:    make([]string, n),
		series:         make([]string, n),
		displayName:    make([]string, n),
		isin:           make([]string, n),
		priceBandHigh:  make([]float64, n),
		priceBandLow:   make([]float64, n),
		freezeQty:      make([]int64, n),
		tickSize:       make([]float64, n),
		lotSize:        make([]int64, n),
		multiplier:     make([]float64, n),
		assetToken:     make([]int64, n),
		expiryDate:     make([]string, n),
		expiryKey:      make([]int32, n),
		strikePrice:    make([]float64, n),
		optionType:     make([]string, n),
		ltp:            make([]float64, n),
		open:           make([]float64, n),
		high:           make([]float64, n),
		low:            make([]float64, n),
		closePx:        make([]float64, n),
		prevClose:      make([]float64, n),
		volume:         make([]int64, n),
		bidPrice:       make([]float64, n),
		askPrice:       make([]float64, n),
		iv:             make([]float64, n),
		delta:          make([]float64, n),
		gamma:          make([]float64, n),
		vega:           make([]float64, n),
		theta:          make([]float64, n),
		rho:            make([]float64, n),
		spanMargin:     make([]float64, n),
		aelMargin:      make([]float64, n),
	}
}

// set writes the static fields of row i from a parsed contract and zeroes
// its live fields.
func (c *columns) set(i int, rc models.RawContract, expiryKey int32, intern InternFunc) {
	c.token[i] = rc.InstrumentID
	c.instrumentType[i] = int32(rc.InstrumentType)
	c.name[i] = intern(rc.Name)
	c.description[i] = rc.Description
	c.series[i] = intern(rc.Series)
	c.displayName[i] = rc.DisplayName
	c.isin[i] = rc.ISIN
	c.priceBandHigh[i] = rc.PriceBandHigh
	c.priceBandLow[i] = rc.PriceBandLow
	c.freezeQty[i] = rc.FreezeQty
	c.tickSize[i] = rc.TickSize
	c.lotSize[i] = rc.LotSize
	c.multiplier[i] = rc.Multiplier
	c.assetToken[i] = rc.AssetToken
	c.expiryDate[i] = intern(rc.ExpiryDate)
	c.expiryKey[i] = expiryKey
	c.strikePrice[i] = rc.StrikePrice
	c.optionType[i] = intern(rc.OptionType)

	c.ltp[i], c.open[i], c.high[i], c.low[i] = 0, 0, 0, 0
	c.closePx[i], c.prevClose[i], c.volume[i] = 0, 0, 0
	c.bidPrice[i], c.askPrice[i] = 0, 0
	c.iv[i], c.delta[i], c.gamma[i], c.vega[i] = 0, 0, 0, 0
	c.theta[i], c.rho[i], c.spanMargin[i], c.aelMargin[i] = 0, 0, 0, 0
}

// record materializes row i into a value copy.
func (c *columns) record(i int, segment models.Segment) models.ContractRecord {
	return models.ContractRecord{
		Segment:        segment,
		InstrumentID:   c.token[i],
		InstrumentType: int(c.instrumentType[i]),
		Name:           c.name[i],
		Description:    c.description[i],
		Series:         c.series[i],
		DisplayName:    c.displayName[i],
		ISIN:           c.isin[i],
		PriceBandHigh:  c.priceBandHigh[i],
		PriceBandLow:   c.priceBandLow[i],
		FreezeQty:      c.freezeQty[i],
		TickSize:       c.tickSize[i],
		LotSize:        c.lotSize[i],
		Multiplier:     c.multiplier[i],
		AssetToken:     c.assetToken[i],
		ExpiryDate:     c.expiryDate[i],
		StrikePrice:    c.strikePrice[i],
		OptionType:     c.optionType[i],
		LTP:            c.ltp[i],
		Open:           c.open[i],
		High:           c.high[i],
		Low:            c.low[i],
		Close:          c.closePx[i],
		PrevClose:      c.prevClose[i],
		Volume:         c.volume[i],
		BidPrice:       c.bidPrice[i],
		AskPrice:       c.askPrice[i],
		Greeks: models.Greeks{
			IV:         c.iv[i],
			Delta:      c.delta[i],
			Gamma:      c.gamma[i],
			Vega:       c.vega[i],
			Theta:      c.theta[i],
			Rho:        c.rho[i],
			SpanMargin: c.spanMargin[i],
			AELMargin:  c.aelMargin[i],
		},
	}
}

// identityIntern is the no-op interner used when the caller supplies none.
func identityIntern(s string) string { return s }
