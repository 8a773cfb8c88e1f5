package masterload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xts-terminal/internal/repository"
)

const sampleMaster = `1|3045|0|HDFCBANK|HDFC Bank Ltd|EQ|HDFCBANK-EQ|HDFCBANK|2000.00|1000.00|0|0.05|1|1|HDFCBANK|INE040A01034|1|1
2|49543|2|NIFTY|NIFTY 27JAN2026 24950 CE|OPTIDX|NIFTY|49543|500.00|0.05|1800|0.05|75|1|26000|26000|20260127|24950.00|3|NIFTY27JAN202624950CE
2|49544|2|NIFTY|NIFTY 27JAN2026 24950 PE|OPTIDX|NIFTY|49544|500.00|0.05|1800|0.05|75|1|26000|26000|20260127|24950.00|4|NIFTY27JAN202624950PE
`

func newWorker(t *testing.T) (*Worker, *DataState, *repository.Manager) {
	t.Helper()
	m := repository.NewManager(zerolog.Nop())
	state := NewDataState(zerolog.Nop())
	return NewWorker(m, state, zerolog.Nop()), state, m
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}
}

func TestMemoryOnlyLoad(t *testing.T) {
	w, state, m := newWorker(t)

	var percents []int
	done := make(chan struct{})
	gotCount := 0
	w.SetCallbacks(Callbacks{
		Progress: func(p int, _ string) { percents = append(percents, p) },
		Complete: func(count int) { gotCount = count; close(done) },
		Failed:   func(msg string) { t.Errorf("unexpected failure: %s", msg); close(done) },
	})

	if !w.LoadFromMemoryOnly([]byte(sampleMaster), false, "") {
		t.Fatal("job rejected")
	}
	waitDone(t, done)

	if gotCount != 3 {
		t.Errorf("count = %d, want 3", gotCount)
	}
	if !state.AreMastersLoaded() || state.ContractCount() != 3 {
		t.Errorf("state = %v count = %d", state.State(), state.ContractCount())
	}
	if m.TotalCount() != 3 {
		t.Errorf("repo count = %d", m.TotalCount())
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Errorf("progress = %v", percents)
	}
}

func TestMemoryOnlyLoadWithSave(t *testing.T) {
	w, _, m := newWorker(t)
	dir := t.TempDir()

	done := make(chan struct{})
	w.SetCallbacks(Callbacks{
		Complete: func(int) { close(done) },
		Failed:   func(msg string) { t.Errorf("failed: %s", msg); close(done) },
	})
	w.LoadFromMemoryOnly([]byte(sampleMaster), true, dir)
	waitDone(t, done)

	if _, err := os.Stat(filepath.Join(dir, repository.CombinedMasterName)); err != nil {
		t.Errorf("raw master not saved: %v", err)
	}

	// A fresh manager cold-starts from the saved cache.
	m2 := repository.NewManager(zerolog.Nop())
	n, err := m2.LoadAll(dir)
	if err != nil {
		t.Fatalf("LoadAll from cache: %v", err)
	}
	if n != m.TotalCount() {
		t.Errorf("cache load count = %d, want %d", n, m.TotalCount())
	}
}

func TestDownloadLoad(t *testing.T) {
	w, state, _ := newWorker(t)
	dir := t.TempDir()

	done := make(chan struct{})
	w.SetCallbacks(Callbacks{
		Complete: func(int) { close(done) },
		Failed:   func(msg string) { t.Errorf("failed: %s", msg); close(done) },
	})
	w.LoadFromDownload(dir, []byte(sampleMaster))
	waitDone(t, done)

	if !state.AreMastersLoaded() {
		t.Error("state not loaded")
	}
	if _, err := os.Stat(filepath.Join(dir, repository.ProcessedCSVDir)); err != nil {
		t.Errorf("processed CSVs not saved: %v", err)
	}
}

func TestCacheLoadMissingDirFails(t *testing.T) {
	w, state, _ := newWorker(t)

	done := make(chan struct{})
	var failMsg string
	w.SetCallbacks(Callbacks{
		Complete: func(int) { t.Error("unexpected complete"); close(done) },
		Failed:   func(msg string) { failMsg = msg; close(done) },
	})
	w.LoadFromCache(filepath.Join(t.TempDir(), "nonexistent"))
	waitDone(t, done)

	if failMsg == "" {
		t.Fatal("no failure message")
	}
	if state.State() != StateLoadFailed || state.LastError() == "" {
		t.Errorf("state = %v lastErr = %q", state.State(), state.LastError())
	}
}

func TestCancelBeforeLoad(t *testing.T) {
	w, _, _ := newWorker(t)

	// Cancel is latched before the goroutine reaches its first check.
	w.cancelled.Store(true)
	done := make(chan struct{})
	var failMsg string
	w.SetCallbacks(Callbacks{
		Failed:   func(msg string) { failMsg = msg; close(done) },
		Complete: func(int) { t.Error("completed despite cancel"); close(done) },
	})

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}()
		w.runMemory([]byte(sampleMaster), false, "")
	}()
	waitDone(t, done)

	if failMsg != "Operation cancelled" {
		t.Errorf("failMsg = %q", failMsg)
	}
}

func TestRejectsConcurrentJob(t *testing.T) {
	w, _, _ := newWorker(t)

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	if w.LoadFromMemoryOnly([]byte(sampleMaster), false, "") {
		t.Error("second job accepted while running")
	}
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func TestDataStateTransitions(t *testing.T) {
	state := NewDataState(zerolog.Nop())

	var states []LoadState
	var readyCount int
	state.OnStateChanged(func(s LoadState) { states = append(states, s) })
	state.OnMastersReady(func(count int) { readyCount = count })

	if state.AreMastersLoaded() || state.IsLoading() {
		t.Fatal("fresh state not NotLoaded")
	}

	state.SetLoadingStarted()
	if !state.IsLoading() {
		t.Error("IsLoading = false")
	}

	state.SetMastersLoaded(42)
	if !state.AreMastersLoaded() || state.ContractCount() != 42 || readyCount != 42 {
		t.Errorf("loaded=%v count=%d ready=%d", state.AreMastersLoaded(), state.ContractCount(), readyCount)
	}

	state.SetLoadingFailed("boom")
	if state.AreMastersLoaded() || state.LastError() != "boom" {
		t.Errorf("state after failure: %v %q", state.State(), state.LastError())
	}

	want := []LoadState{StateLoading, StateLoaded, StateLoadFailed}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestMastersReadyFiresImmediatelyWhenLoaded(t *testing.T) {
	state := NewDataState(zerolog.Nop())
	state.SetMastersLoaded(7)

	got := 0
	state.OnMastersReady(func(count int) { got = count })
	if got != 7 {
		t.Errorf("late subscriber got %d, want 7", got)
	}
}

func TestLoadingErrorCallback(t *testing.T) {
	state := NewDataState(zerolog.Nop())
	var msg string
	state.OnLoadingError(func(m string) { msg = m })
	state.SetLoadingFailed("no masters")
	if msg != "no masters" {
		t.Errorf("msg = %q", msg)
	}
}
