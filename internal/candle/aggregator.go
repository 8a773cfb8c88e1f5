package candle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"xts-terminal/internal/history"
	"xts-terminal/internal/models"
)

// Event is one candle emission: a finished candle (complete) or an
// in-progress revision (update).
type Event struct {
	Symbol    string
	Segment   int
	Timeframe models.Timeframe
	Candle    models.Candle
}

// Handler consumes candle events. Handlers run on the aggregator's
// calling goroutine and must not call back into the aggregator.
type Handler func(Event)

// Aggregator fans ticks into per-key builders and closes periods on a
// 1 Hz completion loop, so candles roll over even when no tick arrives in
// the new period. One mutex guards the subscription and builder maps; the
// tick path holds it only to mutate builder state, never while emitting.
type Aggregator struct {
	mu            sync.Mutex
	subscriptions map[string][]models.Timeframe
	builders      map[string]*Builder

	completeHandlers []Handler
	updateHandlers   []Handler

	store *history.Store // optional persistence for finished candles
	now   func() time.Time
	log   zerolog.Logger

	loopOnce sync.Once
	done     chan struct{}
}

// NewAggregator creates an aggregator. store may be nil to disable
// persistence.
func NewAggregator(store *history.Store, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		subscriptions: make(map[string][]models.Timeframe),
		builders:      make(map[string]*Builder),
		store:         store,
		now:           time.Now,
		log:           log.With().Str("component", "candle").Logger(),
		done:          make(chan struct{}),
	}
}

func subKey(symbol string, segment int) string {
	return fmt.Sprintf("%s_%d", symbol, segment)
}

func builderKey(symbol string, segment int, tf models.Timeframe) string {
	return fmt.Sprintf("%s_%d_%s", symbol, segment, tf)
}

// OnCandleComplete registers a finished-candle handler.
func (a *Aggregator) OnCandleComplete(fn Handler) {
	a.mu.Lock()
	a.completeHandlers = append(a.completeHandlers, fn)
	a.mu.Unlock()
}

// OnCandleUpdate registers an in-progress revision handler.
func (a *Aggregator) OnCandleUpdate(fn Handler) {
	a.mu.Lock()
	a.updateHandlers = append(a.updateHandlers, fn)
	a.mu.Unlock()
}

// SubscribeTo creates builders for every requested timeframe on one
// (symbol, segment) key. token narrows the tick fan-out to one
// instrument; pass 0 to accept the whole segment.
func (a *Aggregator) SubscribeTo(symbol string, segment int, token int64, timeframes []models.Timeframe) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	key := subKey(symbol, segment)
	for _, tf := range timeframes {
		if tf.Duration() == 0 {
			continue
		}
		bk := builderKey(symbol, segment, tf)
		if _, exists := a.builders[bk]; exists {
			continue
		}
		a.builders[bk] = NewBuilder(symbol, segment, tf, token, now)
		a.subscriptions[key] = append(a.subscriptions[key], tf)
	}
}

// UnsubscribeFrom drops every builder for one (symbol, segment) key.
func (a *Aggregator) UnsubscribeFrom(symbol string, segment int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := subKey(symbol, segment)
	delete(a.subscriptions, key)
	prefix := key + "_"
	for bk := range a.builders {
		if strings.HasPrefix(bk, prefix) {
			delete(a.builders, bk)
		}
	}
}

// Subscriptions returns the timeframes subscribed for a key.
func (a *Aggregator) Subscriptions(symbol string, segment int) []models.Timeframe {
	a.mu.Lock()
	defer a.mu.Unlock()
	subs := a.subscriptions[subKey(symbol, segment)]
	out := make([]models.Timeframe, len(subs))
	copy(out, subs)
	return out
}

// OnTick folds one tick into every matching builder, rolling a builder
// over first when the tick lands past its period boundary so that the
// completion of period P always precedes the first update of P+1.
func (a *Aggregator) OnTick(tick models.Tick) {
	now := a.now()
	var completes, updates []Event

	a.mu.Lock()
	for _, b := range a.builders {
		if b.Segment != tick.ExchangeSegment {
			continue
		}
		if b.Token != 0 && b.Token != tick.ExchangeInstrumentID {
			continue
		}
		if b.PeriodEnded(now) {
			if ev, ok := a.closeLocked(b, now); ok {
				completes = append(completes, ev)
			}
		}
		if b.Apply(tick) {
			updates = append(updates, Event{
				Symbol:    b.Symbol,
				Segment:   b.Segment,
				Timeframe: b.Timeframe,
				Candle:    b.Snapshot(),
			})
		}
	}
	completeHandlers := a.completeHandlers
	updateHandlers := a.updateHandlers
	a.mu.Unlock()

	a.persist(completes)
	a.emit(completeHandlers, completes)
	a.emit(updateHandlers, updates)
}

// closeLocked advances one builder and returns the finished-candle event
// when the candle is valid. Invalid candles (no tick all period) are
// dropped silently; the builder still advances.
func (a *Aggregator) closeLocked(b *Builder, now time.Time) (Event, bool) {
	had := b.HasData()
	done := b.Advance(now)
	if !had || !done.Valid() {
		return Event{}, false
	}
	return Event{Symbol: b.Symbol, Segment: b.Segment, Timeframe: b.Timeframe, Candle: done}, true
}

// Start launches the 1 Hz completion loop. The loop stops when ctx is
// cancelled or Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	a.loopOnce.Do(func() {
		go a.completionLoop(ctx)
	})
}

// Stop terminates the completion loop.
func (a *Aggregator) Stop() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

func (a *Aggregator) completionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			a.CompletePending()
		}
	}
}

// CompletePending closes every builder whose period has ended. The timer
// path guarantees rollover even when no tick arrives in the new period.
func (a *Aggregator) CompletePending() {
	now := a.now()
	var completes []Event

	a.mu.Lock()
	for _, b := range a.builders {
		if b.PeriodEnded(now) {
			if ev, ok := a.closeLocked(b, now); ok {
				completes = append(completes, ev)
			}
		}
	}
	handlers := a.completeHandlers
	a.mu.Unlock()

	a.persist(completes)
	a.emit(handlers, completes)
}

// persist writes finished candles through the borrowed history store. DB
// failures are logged and swallowed; the builders have already advanced.
func (a *Aggregator) persist(completes []Event) {
	if a.store == nil {
		return
	}
	for _, ev := range completes {
		if _, err := a.store.SaveCandle(context.Background(), ev.Symbol, ev.Segment, ev.Timeframe, ev.Candle); err != nil {
			a.log.Error().Err(err).
				Str("symbol", ev.Symbol).
				Int("segment", ev.Segment).
				Str("timeframe", string(ev.Timeframe)).
				Msg("failed to persist candle")
		}
	}
}

func (a *Aggregator) emit(handlers []Handler, events []Event) {
	for _, ev := range events {
		for _, fn := range handlers {
			fn(ev)
		}
	}
}
