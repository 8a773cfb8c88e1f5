package atm

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"xts-terminal/internal/livestore"
	"xts-terminal/internal/models"
	"xts-terminal/internal/repository"
)

func TestCalculateFromActualStrikes(t *testing.T) {
	strikes := []float64{24900, 24950, 25000, 25050, 25100}

	tests := []struct {
		name       string
		base       float64
		rangeCount int
		wantATM    float64
		wantRange  []float64
	}{
		{"closer to lower", 24967.50, 1, 24950, []float64{24900, 24950, 25000}},
		{"closer to higher", 24985, 0, 25000, []float64{25000}},
		{"exact strike", 25000, 0, 25000, []float64{25000}},
		{"midpoint picks lower", 24975, 0, 24950, []float64{24950}},
		{"below band", 24000, 1, 24900, []float64{24900, 24950}},
		{"above band", 26000, 1, 25100, []float64{25050, 25100}},
		{"range clamped", 24950, 3, 24950, []float64{24900, 24950, 25000, 25050, 25100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CalculateFromActualStrikes(tt.base, strikes, tt.rangeCount)
			if !res.Valid {
				t.Fatal("result invalid")
			}
			if res.ATMStrike != tt.wantATM {
				t.Errorf("atm = %v, want %v", res.ATMStrike, tt.wantATM)
			}
			if len(res.Strikes) != len(tt.wantRange) {
				t.Fatalf("strikes = %v, want %v", res.Strikes, tt.wantRange)
			}
			for i := range tt.wantRange {
				if res.Strikes[i] != tt.wantRange[i] {
					t.Fatalf("strikes = %v, want %v", res.Strikes, tt.wantRange)
				}
			}
		})
	}
}

func TestCalculateRejectsDegenerateInput(t *testing.T) {
	if res := CalculateFromActualStrikes(100, nil, 1); res.Valid {
		t.Error("empty strikes accepted")
	}
	if res := CalculateFromActualStrikes(0, []float64{100}, 1); res.Valid {
		t.Error("zero base accepted")
	}
	if res := CalculateFixedDifference(100, 0, 1); res.Valid {
		t.Error("zero step accepted")
	}
}

func TestCalculateFixedDifference(t *testing.T) {
	res := CalculateFixedDifference(24967.50, 50, 1)
	if !res.Valid || res.ATMStrike != 24950 {
		t.Fatalf("atm = %v, want 24950", res.ATMStrike)
	}
	want := []float64{24900, 24950, 25000}
	if len(res.Strikes) != len(want) {
		t.Fatalf("strikes = %v", res.Strikes)
	}
	for i := range want {
		if res.Strikes[i] != want[i] {
			t.Fatalf("strikes = %v, want %v", res.Strikes, want)
		}
	}
}

// Property: the chosen strike is never farther from the base price than
// any other listed strike.
func TestNearestStrikeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("atm strike minimizes distance", prop.ForAll(
		func(base float64, raw []int) bool {
			if len(raw) == 0 {
				return true
			}
			strikes := make([]float64, len(raw))
			for i, v := range raw {
				strikes[i] = float64(v%500)*50 + 50
			}
			res := CalculateFromActualStrikes(base, strikes, 0)
			if !res.Valid {
				return false
			}
			dist := res.ATMStrike - base
			if dist < 0 {
				dist = -dist
			}
			for _, s := range strikes {
				d := s - base
				if d < 0 {
					d = -d
				}
				if d < dist {
					return false
				}
			}
			return true
		},
		gen.Float64Range(1, 100000),
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}

func TestStrikeInterval(t *testing.T) {
	if got := StrikeInterval([]float64{24900, 24950, 25000}); got != 50 {
		t.Errorf("interval = %v, want 50", got)
	}
	if got := StrikeInterval([]float64{25000}); got != 50 {
		t.Errorf("short chain fallback = %v, want 50", got)
	}
}

const testExpiry = "27JAN2026"

func loadTestChain(t *testing.T) *repository.Manager {
	t.Helper()
	m := repository.NewManager(zerolog.Nop())
	fo := m.NSEFO()
	fo.PrepareForLoad()

	token := int64(43000)
	for _, strike := range []float64{24900, 24950, 25000, 25050, 25100} {
		for _, optType := range []string{"CE", "PE"} {
			fo.AddContract(models.RawContract{
				Segment:        models.SegmentNSEFO,
				InstrumentID:   token,
				InstrumentType: models.InstrumentOption,
				Name:           "NIFTY",
				Series:         "OPTIDX",
				TickSize:       0.05,
				LotSize:        75,
				AssetToken:     26000,
				ExpiryDate:     testExpiry,
				StrikePrice:    strike,
				OptionType:     optType,
			}, nil)
			token++
		}
	}
	fo.AddContract(models.RawContract{
		Segment:        models.SegmentNSEFO,
		InstrumentID:   42999,
		InstrumentType: models.InstrumentFuture,
		Name:           "NIFTY",
		Series:         "FUTIDX",
		TickSize:       0.05,
		LotSize:        75,
		AssetToken:     26000,
		ExpiryDate:     testExpiry,
		OptionType:     "XX",
	}, nil)
	fo.FinalizeLoad()
	return m
}

func newTestWatchManager(t *testing.T) (*WatchManager, *livestore.Store, *livestore.Store) {
	t.Helper()
	m := loadTestChain(t)
	cash := livestore.NewStore(models.SegmentNSECM, 30000)
	fo := livestore.NewStore(models.SegmentNSEFO, 0)
	wm := NewWatchManager(m, cash, fo, livestore.NewIndexRegistry(), zerolog.Nop())
	return wm, cash, fo
}

func TestWatchCashSource(t *testing.T) {
	wm, cash, _ := newTestWatchManager(t)

	// Asset token 26000 is the NIFTY 50 index slot on NSECM.
	cash.InitializeToken(26000, "NIFTY 50", "", "NIFTY 50", 1, 0.05, 0, 0)
	cash.UpdateTicker(26000, 24967.50, 0)

	var got []Info
	wm.OnATMUpdated(func(info Info) { got = append(got, info) })
	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceCash, RangeCount: 1})

	if len(got) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(got))
	}
	info := got[0]
	if info.ATMStrike != 24950 || info.BasePrice != 24967.50 {
		t.Errorf("info = %+v", info)
	}
	want := []float64{24900, 24950, 25000}
	if len(info.Strikes) != len(want) {
		t.Fatalf("strikes = %v", info.Strikes)
	}
	for i := range want {
		if info.Strikes[i] != want[i] {
			t.Fatalf("strikes = %v, want %v", info.Strikes, want)
		}
	}
	if info.CallToken == 0 || info.PutToken == 0 || info.CallToken == info.PutToken {
		t.Errorf("tokens = %d/%d", info.CallToken, info.PutToken)
	}

	cached, ok := wm.GetATMInfo("NIFTY")
	if !ok || cached.ATMStrike != 24950 {
		t.Errorf("cached = %+v ok=%v", cached, ok)
	}
}

func TestWatchFutureSource(t *testing.T) {
	wm, _, fo := newTestWatchManager(t)

	fo.InitializeToken(42999, "NIFTY", "FUTIDX", "NIFTY27JAN2026FUT", 75, 0.05, 0, 0)
	fo.UpdateTicker(42999, 25010, 10)

	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceFuture, RangeCount: 0})

	info, ok := wm.GetATMInfo("NIFTY")
	if !ok {
		t.Fatal("no result")
	}
	if info.BasePrice != 25010 || info.ATMStrike != 25000 {
		t.Errorf("info = %+v", info)
	}
}

func TestWatchSkipsWhenPriceUnavailable(t *testing.T) {
	wm, cash, _ := newTestWatchManager(t)

	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceCash, RangeCount: 1})
	if _, ok := wm.GetATMInfo("NIFTY"); ok {
		t.Fatal("result exists with no base price")
	}

	// A previous result survives a pass with a dead feed.
	cash.InitializeToken(26000, "NIFTY 50", "", "NIFTY 50", 1, 0.05, 0, 0)
	cash.UpdateTicker(26000, 24967.50, 0)
	wm.CalculateAll()
	before, ok := wm.GetATMInfo("NIFTY")
	if !ok {
		t.Fatal("no result after feed came up")
	}

	cash.Reset()
	wm.CalculateAll()
	after, ok := wm.GetATMInfo("NIFTY")
	if !ok || after.ATMStrike != before.ATMStrike {
		t.Errorf("previous result lost: %+v", after)
	}
}

func TestWatchBatchSingleRecompute(t *testing.T) {
	wm, cash, _ := newTestWatchManager(t)
	cash.InitializeToken(26000, "NIFTY 50", "", "NIFTY 50", 1, 0.05, 0, 0)
	cash.UpdateTicker(26000, 24967.50, 0)

	calls := 0
	wm.OnATMUpdated(func(Info) { calls++ })
	wm.AddWatchesBatch([]WatchConfig{
		{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceCash, RangeCount: 1},
		{Symbol: "UNKNOWN", Expiry: testExpiry, Source: SourceCash},
	})

	// One callback for the resolvable watch, none for the unknown chain.
	if calls != 1 {
		t.Errorf("callbacks = %d, want 1", calls)
	}
}

func TestRemoveWatch(t *testing.T) {
	wm, cash, _ := newTestWatchManager(t)
	cash.InitializeToken(26000, "NIFTY 50", "", "NIFTY 50", 1, 0.05, 0, 0)
	cash.UpdateTicker(26000, 24967.50, 0)

	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceCash})
	wm.RemoveWatch("NIFTY")
	if _, ok := wm.GetATMInfo("NIFTY"); ok {
		t.Error("result survived RemoveWatch")
	}
	if len(wm.WatchArray()) != 0 {
		t.Error("WatchArray not empty")
	}
}

func TestWatchResolvesFromFirstTick(t *testing.T) {
	wm, _, fo := newTestWatchManager(t)
	fo.InitializeToken(42999, "NIFTY", "FUTIDX", "NIFTY27JAN2026FUT", 75, 0.05, 0, 0)

	// The watch lands before the future has ever printed.
	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceFuture, RangeCount: 1})
	if _, ok := wm.GetATMInfo("NIFTY"); ok {
		t.Fatal("result exists before the first tick")
	}

	// First broadcast for the future resolves the watch without waiting
	// for the backup timer.
	tick := models.Tick{
		ExchangeSegment:      models.SegmentIDNSEFO,
		ExchangeInstrumentID: 42999,
		LTP:                  25010,
	}
	fo.ApplyTick(tick)
	wm.OnTick(tick)

	info, ok := wm.GetATMInfo("NIFTY")
	if !ok || !info.Valid {
		t.Fatal("watch did not resolve from the first tick")
	}
	if info.ATMStrike != 25000 || info.BasePrice != 25010 {
		t.Errorf("info = %+v", info)
	}
}

func TestCashWatchResolvesFromFirstTick(t *testing.T) {
	wm, cash, _ := newTestWatchManager(t)
	cash.InitializeToken(26000, "NIFTY 50", "", "NIFTY 50", 1, 0.05, 0, 0)

	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceCash, RangeCount: 0})

	tick := models.Tick{
		ExchangeSegment:      models.SegmentIDNSECM,
		ExchangeInstrumentID: 26000,
		LTP:                  24967.50,
	}
	cash.ApplyTick(tick)
	wm.OnTick(tick)

	info, ok := wm.GetATMInfo("NIFTY")
	if !ok || info.ATMStrike != 24950 {
		t.Fatalf("info = %+v ok=%v", info, ok)
	}
}

func TestTriggerDuringPassReruns(t *testing.T) {
	wm, cash, _ := newTestWatchManager(t)
	cash.InitializeToken(26000, "NIFTY 50", "", "NIFTY 50", 1, 0.05, 0, 0)
	cash.UpdateTicker(26000, 25010, 0)

	// The handler runs while a pass is in flight; a threshold-crossing
	// price arriving there must queue a rerun, not vanish.
	calls := 0
	wm.OnATMUpdated(func(Info) {
		calls++
		if calls == 1 {
			cash.UpdateTicker(26000, 25060, 0)
			wm.OnUnderlyingPrice("NIFTY", 25060)
		}
	})
	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceCash, RangeCount: 0})

	if calls != 2 {
		t.Fatalf("callbacks = %d, want 2", calls)
	}
	info, _ := wm.GetATMInfo("NIFTY")
	if info.ATMStrike != 25050 {
		t.Errorf("atm = %v, want 25050", info.ATMStrike)
	}
}

func TestUnderlyingPriceTrigger(t *testing.T) {
	wm, cash, _ := newTestWatchManager(t)
	cash.InitializeToken(26000, "NIFTY 50", "", "NIFTY 50", 1, 0.05, 0, 0)
	cash.UpdateTicker(26000, 24967.50, 0)

	wm.AddWatch(WatchConfig{Symbol: "NIFTY", Expiry: testExpiry, Source: SourceCash, RangeCount: 1})

	calls := 0
	wm.OnATMUpdated(func(Info) { calls++ })

	// Inside the half-interval threshold: no recompute.
	wm.OnUnderlyingPrice("NIFTY", 24970)
	if calls != 0 {
		t.Fatalf("recompute inside threshold, calls = %d", calls)
	}

	// Crossing the threshold recomputes against the new feed price.
	cash.UpdateTicker(26000, 25005, 0)
	wm.OnUnderlyingPrice("NIFTY", 25005)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	info, _ := wm.GetATMInfo("NIFTY")
	if info.ATMStrike != 25000 {
		t.Errorf("atm = %v, want 25000", info.ATMStrike)
	}
}
