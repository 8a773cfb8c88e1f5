package candle

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xts-terminal/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) set(t time.Time)         { c.t = t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregator(start time.Time) (*Aggregator, *fakeClock) {
	clock := &fakeClock{t: start}
	a := NewAggregator(nil, zerolog.Nop())
	a.now = clock.now
	return a, clock
}

func tick(segment int, token int64, ltp float64, volume int64) models.Tick {
	return models.Tick{ExchangeSegment: segment, ExchangeInstrumentID: token, LTP: ltp, Volume: volume}
}

func TestBuilderFirstAndSubsequentTicks(t *testing.T) {
	start := time.Date(2026, 1, 27, 10, 0, 17, 0, time.UTC)
	b := NewBuilder("NIFTY", 2, models.Timeframe1m, 0, start)

	if !b.StartTime().Equal(time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("start not floor-aligned: %v", b.StartTime())
	}

	b.Apply(tick(2, 0, 100, 10))
	c := b.Snapshot()
	if c.Open != 100 || c.High != 100 || c.Low != 100 || c.Close != 100 || c.Volume != 10 {
		t.Fatalf("first tick candle: %+v", c)
	}

	b.Apply(tick(2, 0, 102, 15))
	b.Apply(tick(2, 0, 99.5, 15))
	c = b.Snapshot()
	if c.Open != 100 || c.High != 102 || c.Low != 99.5 || c.Close != 99.5 {
		t.Fatalf("ohlc wrong: %+v", c)
	}
}

func TestBuilderIgnoresZeroPrice(t *testing.T) {
	b := NewBuilder("NIFTY", 2, models.Timeframe1m, 0, time.Now())
	if b.Apply(tick(2, 0, 0, 100)) {
		t.Error("zero-price tick applied")
	}
	if b.HasData() {
		t.Error("builder has data after zero-price tick")
	}
}

// Cumulative feed volume must never decrease the candle's volume.
func TestBuilderVolumeMonotone(t *testing.T) {
	b := NewBuilder("NIFTY", 2, models.Timeframe1m, 0, time.Now())
	volumes := []int64{10, 15, 12, 22, 22, 5}
	last := int64(0)
	for _, v := range volumes {
		b.Apply(tick(2, 0, 100, v))
		c := b.Snapshot()
		if c.Volume < last {
			t.Fatalf("volume decreased: %d after %d", c.Volume, last)
		}
		last = c.Volume
	}
	if last != 22 {
		t.Errorf("final volume = %d, want 22", last)
	}
}

// One-minute rollover with ticks at 10:00:20, 10:00:45 and 10:01:03.
func TestRolloverSequence(t *testing.T) {
	t0 := time.Date(2026, 1, 27, 10, 0, 17, 0, time.UTC)
	a, clock := newTestAggregator(t0)

	var completes, updates []Event
	a.OnCandleComplete(func(ev Event) { completes = append(completes, ev) })
	a.OnCandleUpdate(func(ev Event) { updates = append(updates, ev) })

	a.SubscribeTo("NIFTY", 2, 0, []models.Timeframe{models.Timeframe1m})

	clock.set(time.Date(2026, 1, 27, 10, 0, 20, 0, time.UTC))
	a.OnTick(tick(2, 0, 100, 10))
	clock.set(time.Date(2026, 1, 27, 10, 0, 45, 0, time.UTC))
	a.OnTick(tick(2, 0, 102, 15))

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	u := updates[1]
	if !u.Candle.Timestamp.Equal(time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("update ts = %v", u.Candle.Timestamp)
	}
	if u.Candle.Open != 100 || u.Candle.High != 102 || u.Candle.Low != 100 || u.Candle.Close != 102 || u.Candle.Volume != 15 {
		t.Errorf("update candle: %+v", u.Candle)
	}

	// Timer fires just past the boundary.
	clock.set(time.Date(2026, 1, 27, 10, 1, 0, 0, time.UTC))
	a.CompletePending()
	if len(completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(completes))
	}
	done := completes[0].Candle
	if !done.Timestamp.Equal(time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("complete ts = %v", done.Timestamp)
	}
	if done.Open != 100 || done.High != 102 || done.Low != 100 || done.Close != 102 || done.Volume != 15 {
		t.Errorf("complete candle: %+v", done)
	}

	// Third tick opens the next period.
	clock.set(time.Date(2026, 1, 27, 10, 1, 3, 0, time.UTC))
	a.OnTick(tick(2, 0, 101, 22))
	u = updates[len(updates)-1]
	if !u.Candle.Timestamp.Equal(time.Date(2026, 1, 27, 10, 1, 0, 0, time.UTC)) {
		t.Errorf("new period ts = %v", u.Candle.Timestamp)
	}
	if u.Candle.Open != 101 || u.Candle.Volume != 22 {
		t.Errorf("new period candle: %+v", u.Candle)
	}
}

// When a tick lands past the boundary before the timer fires, the old
// period's completion must still precede the new period's first update.
func TestTickDrivenRolloverOrdering(t *testing.T) {
	t0 := time.Date(2026, 1, 27, 10, 0, 30, 0, time.UTC)
	a, clock := newTestAggregator(t0)

	var order []string
	a.OnCandleComplete(func(ev Event) { order = append(order, "complete:"+ev.Candle.Timestamp.Format("15:04")) })
	a.OnCandleUpdate(func(ev Event) { order = append(order, "update:"+ev.Candle.Timestamp.Format("15:04")) })

	a.SubscribeTo("NIFTY", 2, 0, []models.Timeframe{models.Timeframe1m})
	a.OnTick(tick(2, 0, 100, 10))

	clock.set(time.Date(2026, 1, 27, 10, 1, 5, 0, time.UTC))
	a.OnTick(tick(2, 0, 105, 20))

	want := []string{"update:10:00", "complete:10:00", "update:10:01"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// Consecutive completes on one key advance by exactly one timeframe.
func TestRolloverContiguity(t *testing.T) {
	t0 := time.Date(2026, 1, 27, 10, 0, 10, 0, time.UTC)
	a, clock := newTestAggregator(t0)

	var completes []Event
	a.OnCandleComplete(func(ev Event) { completes = append(completes, ev) })
	a.SubscribeTo("NIFTY", 2, 0, []models.Timeframe{models.Timeframe1m})

	for i := 0; i < 4; i++ {
		a.OnTick(tick(2, 0, 100+float64(i), int64(10*(i+1))))
		clock.advance(time.Minute)
		a.CompletePending()
	}

	if len(completes) != 4 {
		t.Fatalf("completes = %d, want 4", len(completes))
	}
	for i := 1; i < len(completes); i++ {
		gap := completes[i].Candle.Timestamp.Sub(completes[i-1].Candle.Timestamp)
		if gap != time.Minute {
			t.Errorf("gap %d = %v, want 1m", i, gap)
		}
	}
}

// An empty period emits nothing but the builder still advances.
func TestEmptyPeriodDroppedSilently(t *testing.T) {
	t0 := time.Date(2026, 1, 27, 10, 0, 10, 0, time.UTC)
	a, clock := newTestAggregator(t0)

	var completes []Event
	a.OnCandleComplete(func(ev Event) { completes = append(completes, ev) })
	a.SubscribeTo("NIFTY", 2, 0, []models.Timeframe{models.Timeframe1m})

	clock.advance(time.Minute)
	a.CompletePending()
	if len(completes) != 0 {
		t.Fatalf("empty period emitted: %+v", completes)
	}

	a.OnTick(tick(2, 0, 100, 5))
	clock.advance(time.Minute)
	a.CompletePending()
	if len(completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(completes))
	}
	if !completes[0].Candle.Timestamp.Equal(time.Date(2026, 1, 27, 10, 1, 0, 0, time.UTC)) {
		t.Errorf("ts = %v", completes[0].Candle.Timestamp)
	}
}

func TestTokenScopedFanOut(t *testing.T) {
	t0 := time.Date(2026, 1, 27, 10, 0, 10, 0, time.UTC)
	a, _ := newTestAggregator(t0)

	var updates []Event
	a.OnCandleUpdate(func(ev Event) { updates = append(updates, ev) })

	a.SubscribeTo("NIFTY", 2, 35001, []models.Timeframe{models.Timeframe1m})
	a.SubscribeTo("ALLSEG", 2, 0, []models.Timeframe{models.Timeframe1m})

	a.OnTick(tick(2, 49050, 100, 5)) // wrong token for NIFTY; matches ALLSEG
	a.OnTick(tick(1, 35001, 100, 5)) // wrong segment entirely

	if len(updates) != 1 || updates[0].Symbol != "ALLSEG" {
		t.Fatalf("fan-out wrong: %+v", updates)
	}

	a.OnTick(tick(2, 35001, 101, 6))
	if len(updates) != 3 {
		t.Fatalf("updates = %d, want 3 (NIFTY + ALLSEG)", len(updates))
	}
}

func TestUnsubscribeDropsBuilders(t *testing.T) {
	t0 := time.Date(2026, 1, 27, 10, 0, 10, 0, time.UTC)
	a, _ := newTestAggregator(t0)

	a.SubscribeTo("NIFTY", 2, 0, []models.Timeframe{models.Timeframe1m, models.Timeframe5m})
	a.SubscribeTo("BANKNIFTY", 2, 0, []models.Timeframe{models.Timeframe1m})
	if len(a.Subscriptions("NIFTY", 2)) != 2 {
		t.Fatalf("subscriptions = %v", a.Subscriptions("NIFTY", 2))
	}

	a.UnsubscribeFrom("NIFTY", 2)
	if len(a.Subscriptions("NIFTY", 2)) != 0 {
		t.Error("subscriptions survived unsubscribe")
	}

	var updates []Event
	a.OnCandleUpdate(func(ev Event) { updates = append(updates, ev) })
	a.OnTick(tick(2, 0, 100, 5))
	for _, ev := range updates {
		if ev.Symbol == "NIFTY" {
			t.Errorf("dropped builder still emitting: %+v", ev)
		}
	}
}

func TestTimeframeFloorDaily(t *testing.T) {
	ts := time.Date(2026, 1, 27, 14, 42, 10, 0, time.UTC)
	if got := models.Timeframe1D.Floor(ts); !got.Equal(time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("1D floor = %v", got)
	}
	// 2026-01-27 is a Tuesday; the week starts Monday the 26th.
	if got := models.Timeframe1W.Floor(ts); !got.Equal(time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("1W floor = %v", got)
	}
}
