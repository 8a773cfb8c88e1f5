package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xts-terminal/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkCandle(ts time.Time, o, h, l, c float64, v int64) models.Candle {
	return models.Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestSaveCandleUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)

	if _, err := s.SaveCandle(ctx, "NIFTY", models.SegmentIDNSEFO, models.Timeframe1m, mkCandle(ts, 100, 102, 100, 102, 15)); err != nil {
		t.Fatalf("SaveCandle: %v", err)
	}
	// Same unique tuple replaces, not duplicates.
	if _, err := s.SaveCandle(ctx, "NIFTY", models.SegmentIDNSEFO, models.Timeframe1m, mkCandle(ts, 100, 103, 99, 101, 20)); err != nil {
		t.Fatalf("SaveCandle replace: %v", err)
	}

	got, err := s.GetCandles(ctx, "NIFTY", models.SegmentIDNSEFO, models.Timeframe1m, ts.Add(-time.Minute), ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1 after upsert", len(got))
	}
	if got[0].High != 103 || got[0].Volume != 20 {
		t.Errorf("replace lost fields: %+v", got[0])
	}
}

func TestSaveCandleBatchSkipsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)

	batch := []models.Candle{
		mkCandle(base, 100, 102, 99, 101, 10),
		{}, // invalid, dropped
		mkCandle(base.Add(time.Minute), 101, 104, 101, 103, 12),
	}
	n, err := s.SaveCandleBatch(ctx, "NIFTY", models.SegmentIDNSEFO, models.Timeframe1m, batch)
	if err != nil {
		t.Fatalf("SaveCandleBatch: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
}

func TestGetRecentCandlesAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if _, err := s.SaveCandle(ctx, "NIFTY", 2, models.Timeframe1m, mkCandle(ts, 100, 101, 99, 100, int64(i+1))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetRecentCandles(ctx, "NIFTY", 2, models.Timeframe1m, 3)
	if err != nil {
		t.Fatalf("GetRecentCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("not ascending at %d: %v then %v", i, got[i-1].Timestamp, got[i].Timestamp)
		}
	}
	if got[2].Volume != 5 {
		t.Errorf("latest candle volume = %d, want 5", got[2].Volume)
	}
}

func TestGetLastCandleAndExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)

	if _, ok, err := s.GetLastCandle(ctx, "NIFTY", 2, models.Timeframe1m); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	if _, err := s.SaveCandle(ctx, "NIFTY", 2, models.Timeframe1m, mkCandle(ts, 100, 102, 100, 102, 15)); err != nil {
		t.Fatal(err)
	}
	last, ok, err := s.GetLastCandle(ctx, "NIFTY", 2, models.Timeframe1m)
	if err != nil || !ok {
		t.Fatalf("GetLastCandle: ok=%v err=%v", ok, err)
	}
	if !last.Timestamp.Equal(ts) {
		t.Errorf("last ts = %v, want %v", last.Timestamp, ts)
	}

	exists, err := s.CandleExists(ctx, "NIFTY", 2, models.Timeframe1m, ts)
	if err != nil || !exists {
		t.Errorf("CandleExists = %v, %v", exists, err)
	}
	exists, err = s.CandleExists(ctx, "NIFTY", 2, models.Timeframe1m, ts.Add(time.Minute))
	if err != nil || exists {
		t.Errorf("CandleExists on missing tuple = %v, %v", exists, err)
	}
}

func TestIndicatorValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)

	id, err := s.SaveCandle(ctx, "NIFTY", 2, models.Timeframe1m, mkCandle(ts, 100, 102, 100, 102, 15))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIndicatorValue(ctx, id, "rsi", 61.8, map[string]interface{}{"period": 14.0}); err != nil {
		t.Fatalf("SaveIndicatorValue: %v", err)
	}
	if err := s.SaveIndicatorValue(ctx, id, "ema", 101.2, nil); err != nil {
		t.Fatal(err)
	}

	vals, err := s.GetIndicatorValues(ctx, id)
	if err != nil {
		t.Fatalf("GetIndicatorValues: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("values = %d, want 2", len(vals))
	}
	if vals[1].Name != "rsi" || vals[1].Value != 61.8 {
		t.Errorf("rsi row wrong: %+v", vals[1])
	}
	if vals[1].Metadata["period"] != 14.0 {
		t.Errorf("metadata lost: %+v", vals[1].Metadata)
	}
}

func TestDeleteOldCandlesAndStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if _, err := s.SaveCandle(ctx, "NIFTY", 2, models.Timeframe1m, mkCandle(ts, 100, 101, 99, 100, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.SaveCandle(ctx, "BANKNIFTY", 2, models.Timeframe5m, mkCandle(base, 200, 201, 199, 200, 1)); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteOldCandles(ctx, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("DeleteOldCandles: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}

	stats, err := s.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.CandleCount != 2 {
		t.Errorf("CandleCount = %d, want 2", stats.CandleCount)
	}
	if stats.DistinctKeys != 1 {
		t.Errorf("DistinctKeys = %d, want 1", stats.DistinctKeys)
	}
	if stats.FileSizeBytes == 0 {
		t.Error("FileSizeBytes = 0")
	}
	if !stats.OldestCandle.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("OldestCandle = %v, want %v", stats.OldestCandle, base.Add(2*time.Minute))
	}
	if !stats.NewestCandle.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("NewestCandle = %v, want %v", stats.NewestCandle, base.Add(3*time.Minute))
	}
}
