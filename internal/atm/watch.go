package atm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"xts-terminal/internal/livestore"
	"xts-terminal/internal/models"
	"xts-terminal/internal/repository"
)

// BaseSource selects where the underlying price for a watch comes from.
type BaseSource int

const (
	// SourceCash reads the underlying's cash-segment LTP.
	SourceCash BaseSource = iota
	// SourceFuture reads the LTP of the future with the matching expiry.
	SourceFuture
)

// WatchConfig is one watched underlying.
type WatchConfig struct {
	Symbol     string
	Expiry     string // canonical DDMMMYYYY
	Source     BaseSource
	RangeCount int
}

// Info is the resolved ATM state for one watch. A watch whose base price
// is unavailable keeps its previous Info; Valid is false until the first
// successful resolution.
type Info struct {
	Symbol      string
	Expiry      string
	BasePrice   float64
	ATMStrike   float64
	Strikes     []float64
	CallToken   int64
	PutToken    int64
	LastUpdated time.Time
	Valid       bool
}

// Handler consumes a recalculated Info. Handlers run on the calling
// goroutine, outside the manager's lock.
type Handler func(Info)

// DefaultInterval is the backup recompute period; price-driven triggers
// are the primary path.
const DefaultInterval = time.Minute

// Index watch symbols as they appear in F&O master names, mapped to the
// broadcast index names the registry knows.
var indexAliases = map[string]string{
	"NIFTY":      "NIFTY 50",
	"BANKNIFTY":  "NIFTY BANK",
	"FINNIFTY":   "NIFTY FIN SERVICE",
	"NIFTYNXT50": "NIFTY NEXT 50",
}

// WatchManager recomputes the ATM strike per watched underlying. It
// borrows the repository manager and the two live stores read-only; a
// 1-minute timer and the masters-ready signal both trigger a full pass.
type WatchManager struct {
	repo    *repository.Manager
	cash    *livestore.Store // NSECM
	fo      *livestore.Store // NSEFO
	indexes *livestore.IndexRegistry
	log     zerolog.Logger

	mu          sync.RWMutex
	configs     map[string]WatchConfig // keyed by symbol
	results     map[string]Info
	prevStrike  map[string]float64
	lastTrigger map[string]float64
	threshold   map[string]float64
	baseTokens  map[baseKey]string // resolved underlying instrument → symbol
	handlers    []Handler

	interval    time.Duration
	calculating atomic.Bool
	dirty       atomic.Bool
	done        chan struct{}
}

// NewWatchManager wires a manager over the repositories and live stores.
// indexes may be nil when index underlyings are not watched.
func NewWatchManager(repo *repository.Manager, cash, fo *livestore.Store, indexes *livestore.IndexRegistry, log zerolog.Logger) *WatchManager {
	return &WatchManager{
		repo:        repo,
		cash:        cash,
		fo:          fo,
		indexes:     indexes,
		log:         log.With().Str("component", "atmwatch").Logger(),
		configs:     make(map[string]WatchConfig),
		results:     make(map[string]Info),
		prevStrike:  make(map[string]float64),
		lastTrigger: make(map[string]float64),
		threshold:   make(map[string]float64),
		baseTokens:  make(map[baseKey]string),
		interval:    DefaultInterval,
	}
}

// baseKey identifies the live instrument a watch reads its base price from.
type baseKey struct {
	segment int
	token   int64
}

// OnATMUpdated registers a callback invoked once per recalculated watch.
func (w *WatchManager) OnATMUpdated(fn Handler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, fn)
	w.mu.Unlock()
}

// AddWatch registers or replaces one watch and recomputes immediately.
func (w *WatchManager) AddWatch(cfg WatchConfig) {
	w.mu.Lock()
	w.configs[cfg.Symbol] = cfg
	w.mu.Unlock()
	w.CalculateAll()
}

// AddWatchesBatch registers many watches with a single recompute pass,
// avoiding a recalculation storm during startup.
func (w *WatchManager) AddWatchesBatch(cfgs []WatchConfig) {
	w.mu.Lock()
	for _, cfg := range cfgs {
		w.configs[cfg.Symbol] = cfg
	}
	w.mu.Unlock()
	w.CalculateAll()
}

// RemoveWatch drops a watch and its cached result.
func (w *WatchManager) RemoveWatch(symbol string) {
	w.mu.Lock()
	delete(w.configs, symbol)
	delete(w.results, symbol)
	delete(w.prevStrike, symbol)
	delete(w.lastTrigger, symbol)
	delete(w.threshold, symbol)
	for key, sym := range w.baseTokens {
		if sym == symbol {
			delete(w.baseTokens, key)
		}
	}
	w.mu.Unlock()
}

// ClearWatches drops every watch.
func (w *WatchManager) ClearWatches() {
	w.mu.Lock()
	w.configs = make(map[string]WatchConfig)
	w.results = make(map[string]Info)
	w.prevStrike = make(map[string]float64)
	w.lastTrigger = make(map[string]float64)
	w.threshold = make(map[string]float64)
	w.baseTokens = make(map[baseKey]string)
	w.mu.Unlock()
}

// GetATMInfo returns the cached result for one symbol.
func (w *WatchManager) GetATMInfo(symbol string) (Info, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info, ok := w.results[symbol]
	return info, ok
}

// WatchArray returns a copy of every cached result.
func (w *WatchManager) WatchArray() []Info {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Info, 0, len(w.results))
	for _, info := range w.results {
		out = append(out, info)
	}
	return out
}

// MastersReady is the readiness hook: the loader state calls it once the
// catalog is loaded so watches registered early resolve immediately.
func (w *WatchManager) MastersReady(count int) {
	w.log.Debug().Int("contracts", count).Msg("masters ready, recomputing watches")
	w.CalculateAll()
}

// CalculateAll runs one resolution pass over every watch. A call that
// arrives while a pass is in flight marks the state dirty; the running
// pass loops until no trigger has been missed.
func (w *WatchManager) CalculateAll() {
	for {
		if !w.calculating.CompareAndSwap(false, true) {
			w.dirty.Store(true)
			return
		}
		w.dirty.Store(false)
		w.calculatePass()
		w.calculating.Store(false)
		if !w.dirty.Load() {
			return
		}
	}
}

func (w *WatchManager) calculatePass() {
	if !w.repo.AnyLoaded() {
		return
	}

	w.mu.Lock()
	cfgs := make([]WatchConfig, 0, len(w.configs))
	for _, cfg := range w.configs {
		cfgs = append(cfgs, cfg)
	}
	w.mu.Unlock()

	var updated []Info
	for _, cfg := range cfgs {
		info, ok := w.calculateOne(cfg)
		if !ok {
			continue
		}
		w.mu.Lock()
		prev := w.prevStrike[cfg.Symbol]
		if prev > 0 && prev != info.ATMStrike {
			w.log.Info().Str("symbol", cfg.Symbol).
				Float64("from", prev).Float64("to", info.ATMStrike).
				Msg("atm strike changed")
		}
		w.prevStrike[cfg.Symbol] = info.ATMStrike
		w.results[cfg.Symbol] = info
		w.mu.Unlock()

		updated = append(updated, info)
	}

	w.mu.RLock()
	handlers := w.handlers
	w.mu.RUnlock()
	for _, info := range updated {
		for _, fn := range handlers {
			fn(info)
		}
	}
}

// calculateOne resolves a single watch. A watch with no resolvable base
// price or an empty strike chain is skipped, leaving any previous result
// in place.
func (w *WatchManager) calculateOne(cfg WatchConfig) (Info, bool) {
	nsefo := w.repo.NSEFO()

	strikes := nsefo.GetStrikesForSymbolExpiry(cfg.Symbol, cfg.Expiry)
	if len(strikes) == 0 {
		w.log.Debug().Str("symbol", cfg.Symbol).Str("expiry", cfg.Expiry).
			Msg("no strikes for watch")
		return Info{}, false
	}

	base := w.basePrice(cfg)
	if base <= 0 {
		w.log.Debug().Str("symbol", cfg.Symbol).Msg("underlying price unavailable")
		return Info{}, false
	}

	res := CalculateFromActualStrikes(base, strikes, cfg.RangeCount)
	if !res.Valid {
		return Info{}, false
	}

	ce, pe := nsefo.GetTokensForStrike(cfg.Symbol, cfg.Expiry, res.ATMStrike)

	w.mu.Lock()
	w.threshold[cfg.Symbol] = StrikeInterval(strikes) / 2
	w.lastTrigger[cfg.Symbol] = base
	w.mu.Unlock()

	return Info{
		Symbol:      cfg.Symbol,
		Expiry:      cfg.Expiry,
		BasePrice:   base,
		ATMStrike:   res.ATMStrike,
		Strikes:     res.Strikes,
		CallToken:   ce,
		PutToken:    pe,
		LastUpdated: time.Now(),
		Valid:       true,
	}, true
}

// basePrice resolves the underlying price per the watch's source.
func (w *WatchManager) basePrice(cfg WatchConfig) float64 {
	nsefo := w.repo.NSEFO()

	if cfg.Source == SourceCash {
		if token := nsefo.GetAssetToken(cfg.Symbol); token > 0 {
			// Register the token before the price exists so the first
			// broadcast for it reaches OnTick.
			w.noteBaseToken(w.cash, token, cfg.Symbol)
			if ltp := livestore.GenericLTP(w.cash, token); ltp > 0 {
				return ltp
			}
		}
		// Known index underlyings broadcast under their index name.
		if w.indexes != nil {
			if name, ok := indexAliases[cfg.Symbol]; ok {
				if token := w.indexes.Token(name); token > 0 {
					w.noteBaseToken(w.cash, token, cfg.Symbol)
					return livestore.GenericLTP(w.cash, token)
				}
			}
		}
		return 0
	}

	// Future: the contract chain is expiry-sorted, so the first future
	// with the matching expiry is the one we want.
	for _, rec := range nsefo.GetContractsBySymbolAndExpiry(cfg.Symbol, cfg.Expiry, models.InstrumentFuture) {
		w.noteBaseToken(w.fo, rec.InstrumentID, cfg.Symbol)
		return livestore.GenericLTP(w.fo, rec.InstrumentID)
	}
	return 0
}

func (w *WatchManager) noteBaseToken(store *livestore.Store, token int64, symbol string) {
	key := baseKey{segment: models.SegmentID(store.Segment()), token: token}
	w.mu.Lock()
	w.baseTokens[key] = symbol
	w.mu.Unlock()
}

// OnTick routes a broadcast update to the watch whose underlying it is.
// Ticks for instruments no watch reads are ignored.
func (w *WatchManager) OnTick(tick models.Tick) {
	w.mu.RLock()
	symbol, ok := w.baseTokens[baseKey{segment: tick.ExchangeSegment, token: tick.ExchangeInstrumentID}]
	w.mu.RUnlock()
	if !ok {
		return
	}
	w.OnUnderlyingPrice(symbol, tick.LTP)
}

// OnUnderlyingPrice is the tick-driven trigger: a price move beyond half
// a strike interval forces an early recompute instead of waiting for the
// minute timer.
func (w *WatchManager) OnUnderlyingPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	w.mu.RLock()
	last, haveLast := w.lastTrigger[symbol]
	threshold := w.threshold[symbol]
	_, watched := w.configs[symbol]
	info, resolved := w.results[symbol]
	w.mu.RUnlock()
	if !watched {
		return
	}
	// A watch with no prior resolution recomputes on every underlying
	// print; the threshold gate only applies once a result exists.
	if resolved && info.Valid && threshold > 0 &&
		haveLast && price > last-threshold && price < last+threshold {
		return
	}
	w.CalculateAll()
}

// Start runs the backup timer until ctx is done or Stop is called.
func (w *WatchManager) Start(ctx context.Context) {
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop terminates the timer loop started by Start.
func (w *WatchManager) Stop() {
	if w.done != nil {
		close(w.done)
		w.done = nil
	}
}

func (w *WatchManager) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.CalculateAll()
		}
	}
}
