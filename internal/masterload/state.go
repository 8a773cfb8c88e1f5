// Package masterload drives the master-contract load as a background job
// and tracks the process-wide lifecycle of the catalog.
package masterload

import (
	"sync"

	"github.com/rs/zerolog"
)

// LoadState is the lifecycle of the master data set.
type LoadState int

const (
	StateNotLoaded LoadState = iota
	StateLoading
	StateLoaded
	StateLoadFailed
	StateDownloaded
)

// String implements fmt.Stringer for log output.
func (s LoadState) String() string {
	switch s {
	case StateNotLoaded:
		return "not_loaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateLoadFailed:
		return "load_failed"
	case StateDownloaded:
		return "downloaded"
	}
	return "unknown"
}

// DataState is the readiness signal components depending on the catalog
// subscribe to. One instance per process, explicitly constructed.
type DataState struct {
	mu      sync.Mutex
	state   LoadState
	count   int
	lastErr string
	onReady []func(count int)
	onState []func(LoadState)
	onError []func(msg string)
	log     zerolog.Logger
}

// NewDataState creates a state tracker in StateNotLoaded.
func NewDataState(log zerolog.Logger) *DataState {
	return &DataState{log: log.With().Str("component", "masterstate").Logger()}
}

// OnMastersReady registers a callback fired when a load completes. If the
// masters are already loaded it fires immediately with the current count.
func (d *DataState) OnMastersReady(fn func(count int)) {
	d.mu.Lock()
	d.onReady = append(d.onReady, fn)
	loaded := d.state == StateLoaded || d.state == StateDownloaded
	count := d.count
	d.mu.Unlock()
	if loaded {
		fn(count)
	}
}

// OnStateChanged registers a callback fired on every transition.
func (d *DataState) OnStateChanged(fn func(LoadState)) {
	d.mu.Lock()
	d.onState = append(d.onState, fn)
	d.mu.Unlock()
}

// OnLoadingError registers a callback fired when a load fails.
func (d *DataState) OnLoadingError(fn func(msg string)) {
	d.mu.Lock()
	d.onError = append(d.onError, fn)
	d.mu.Unlock()
}

// AreMastersLoaded reports whether the catalog is usable.
func (d *DataState) AreMastersLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateLoaded || d.state == StateDownloaded
}

// IsLoading reports whether a load is in flight.
func (d *DataState) IsLoading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateLoading
}

// State returns the current lifecycle state.
func (d *DataState) State() LoadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ContractCount returns the count recorded by the last successful load.
func (d *DataState) ContractCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// LastError returns the message of the last failed load, or "".
func (d *DataState) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// SetLoadingStarted transitions to StateLoading.
func (d *DataState) SetLoadingStarted() {
	d.mu.Lock()
	d.state = StateLoading
	d.lastErr = ""
	handlers := d.onState
	d.mu.Unlock()
	d.log.Debug().Msg("loading started")
	for _, fn := range handlers {
		fn(StateLoading)
	}
}

// SetMastersLoaded transitions to StateLoaded and fans out mastersReady.
func (d *DataState) SetMastersLoaded(count int) {
	d.mu.Lock()
	d.state = StateLoaded
	d.count = count
	d.lastErr = ""
	stateFns := d.onState
	readyFns := d.onReady
	d.mu.Unlock()
	d.log.Info().Int("contracts", count).Msg("masters loaded")
	for _, fn := range stateFns {
		fn(StateLoaded)
	}
	for _, fn := range readyFns {
		fn(count)
	}
}

// SetLoadingFailed transitions to StateLoadFailed and records the error.
func (d *DataState) SetLoadingFailed(msg string) {
	d.mu.Lock()
	d.state = StateLoadFailed
	d.lastErr = msg
	stateFns := d.onState
	errFns := d.onError
	d.mu.Unlock()
	d.log.Warn().Str("error", msg).Msg("loading failed")
	for _, fn := range stateFns {
		fn(StateLoadFailed)
	}
	for _, fn := range errFns {
		fn(msg)
	}
}

// Reset returns to StateNotLoaded, clearing the count and last error.
func (d *DataState) Reset() {
	d.mu.Lock()
	d.state = StateNotLoaded
	d.count = 0
	d.lastErr = ""
	handlers := d.onState
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(StateNotLoaded)
	}
}
