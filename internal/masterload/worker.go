package masterload

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"xts-terminal/internal/repository"
)

// Mode selects how the worker sources the master files.
type Mode int

const (
	// FromCache loads processed CSVs or the raw master file already on
	// disk.
	FromCache Mode = iota
	// FromDownload writes the downloaded bytes to disk, loads them, then
	// saves processed CSVs for the next cold start.
	FromDownload
	// FromMemoryOnly parses the bytes directly with no initial file I/O;
	// an optional save pass caches them afterwards.
	FromMemoryOnly
)

// Callbacks receives worker progress. Nil fields are skipped. All
// callbacks run on the worker goroutine.
type Callbacks struct {
	Started  func()
	Progress func(percent int, message string)
	Complete func(count int)
	Failed   func(message string)
}

const cancelledMsg = "Operation cancelled"

// Worker runs one master load in the background. A worker instance runs
// at most one job at a time; Cancel is cooperative and checked between
// phases — once the data is in the repositories, cancellation is ignored
// and completion is reported.
type Worker struct {
	manager *repository.Manager
	state   *DataState
	log     zerolog.Logger

	mu        sync.Mutex
	running   bool
	cancelled atomic.Bool
	cb        Callbacks
}

// NewWorker wires a worker over the repository manager and the shared
// data state.
func NewWorker(manager *repository.Manager, state *DataState, log zerolog.Logger) *Worker {
	return &Worker{
		manager: manager,
		state:   state,
		log:     log.With().Str("component", "masterload").Logger(),
	}
}

// SetCallbacks replaces the progress callbacks. Must not be called while
// a job is running.
func (w *Worker) SetCallbacks(cb Callbacks) {
	w.mu.Lock()
	w.cb = cb
	w.mu.Unlock()
}

// IsRunning reports whether a job is in flight.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Cancel requests cooperative cancellation of the current job.
func (w *Worker) Cancel() {
	w.cancelled.Store(true)
}

// LoadFromCache starts a FromCache job on a new goroutine.
func (w *Worker) LoadFromCache(mastersDir string) bool {
	return w.launch(func() { w.runCache(mastersDir) })
}

// LoadFromDownload starts a FromDownload job with the downloaded bytes.
func (w *Worker) LoadFromDownload(mastersDir string, data []byte) bool {
	return w.launch(func() { w.runDownload(mastersDir, data) })
}

// LoadFromMemoryOnly starts a FromMemoryOnly job. When saveAfterLoad is
// set and mastersDir is non-empty, the raw file and processed CSVs are
// written after the load for the next cold start.
func (w *Worker) LoadFromMemoryOnly(data []byte, saveAfterLoad bool, mastersDir string) bool {
	return w.launch(func() { w.runMemory(data, saveAfterLoad, mastersDir) })
}

func (w *Worker) launch(job func()) bool {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.log.Warn().Msg("worker already running, job rejected")
		return false
	}
	w.running = true
	w.cancelled.Store(false)
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}()
		w.started()
		job()
	}()
	return true
}

func (w *Worker) runCache(mastersDir string) {
	w.progress(10, "Loading cached masters...")
	if w.cancelled.Load() {
		w.failed(cancelledMsg)
		return
	}

	count, err := w.manager.LoadAll(mastersDir)
	if err != nil {
		w.failed("Failed to load cached masters - you may need to download them")
		return
	}
	w.progress(80, "Building caches...")
	if w.cancelled.Load() {
		w.failed(cancelledMsg)
		return
	}

	w.progress(100, "Cache loaded successfully")
	w.complete(count)
}

func (w *Worker) runDownload(mastersDir string, data []byte) {
	w.progress(10, "Saving downloaded data...")
	if w.cancelled.Load() {
		w.failed(cancelledMsg)
		return
	}

	if err := writeRawMaster(mastersDir, data); err != nil {
		w.failed(fmt.Sprintf("Failed to save downloaded masters: %v", err))
		return
	}
	if w.cancelled.Load() {
		w.failed(cancelledMsg)
		return
	}

	w.progress(30, "Loading master contracts...")
	count, err := w.manager.LoadAll(mastersDir)
	if err != nil {
		w.failed("Failed to load downloaded masters")
		return
	}
	if w.cancelled.Load() {
		w.failed(cancelledMsg)
		return
	}

	w.progress(70, "Saving processed CSVs...")
	if err := w.manager.SaveProcessedCSVs(mastersDir); err != nil {
		// Non-fatal: the raw file is enough for the next start.
		w.log.Warn().Err(err).Msg("failed to save processed CSVs")
	}

	w.progress(100, "Masters loaded successfully")
	w.complete(count)
}

func (w *Worker) runMemory(data []byte, saveAfterLoad bool, mastersDir string) {
	w.progress(10, "Parsing in-memory data...")
	if w.cancelled.Load() {
		w.failed(cancelledMsg)
		return
	}

	count, err := w.manager.LoadFromMemory(data)
	if err != nil {
		w.failed(fmt.Sprintf("Failed to load from memory: %v", err))
		return
	}
	w.progress(70, fmt.Sprintf("Loaded %d contracts from memory", count))

	if saveAfterLoad && mastersDir != "" {
		w.progress(80, "Saving to disk...")
		if err := writeRawMaster(mastersDir, data); err != nil {
			w.log.Warn().Err(err).Msg("failed to save raw master file")
		}
		// The data is already loaded; a cancel at this point still
		// completes, it only skips the remaining cache write.
		if w.cancelled.Load() {
			w.complete(count)
			return
		}
		w.progress(90, "Saving processed CSVs...")
		if err := w.manager.SaveProcessedCSVs(mastersDir); err != nil {
			w.log.Warn().Err(err).Msg("failed to save processed CSVs")
		}
	}

	w.progress(100, "Memory load complete")
	w.complete(count)
}

func writeRawMaster(mastersDir string, data []byte) error {
	if err := os.MkdirAll(mastersDir, 0o755); err != nil {
		return fmt.Errorf("create masters dir: %w", err)
	}
	path := filepath.Join(mastersDir, repository.CombinedMasterName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write master file: %w", err)
	}
	return nil
}

func (w *Worker) started() {
	if w.state != nil {
		w.state.SetLoadingStarted()
	}
	if w.cb.Started != nil {
		w.cb.Started()
	}
}

func (w *Worker) progress(percent int, message string) {
	w.log.Debug().Int("percent", percent).Str("message", message).Msg("load progress")
	if w.cb.Progress != nil {
		w.cb.Progress(percent, message)
	}
}

func (w *Worker) complete(count int) {
	w.log.Info().Int("contracts", count).Msg("load complete")
	if w.state != nil {
		w.state.SetMastersLoaded(count)
	}
	if w.cb.Complete != nil {
		w.cb.Complete(count)
	}
}

func (w *Worker) failed(message string) {
	if w.state != nil {
		w.state.SetLoadingFailed(message)
	}
	if w.cb.Failed != nil {
		w.cb.Failed(message)
	}
}
