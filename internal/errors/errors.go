// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrMastersNotLoaded = errors.New("master contracts not loaded")
	ErrEmptyMaster      = errors.New("master data is empty")
	ErrSegmentUnknown   = errors.New("unknown exchange segment")
	ErrTokenUnknown     = errors.New("token not in catalog")
	ErrTimeframeInvalid = errors.New("invalid timeframe")
	ErrStoreClosed      = errors.New("store is closed")
	ErrLoadCancelled    = errors.New("operation cancelled")
	ErrFeedDisconnected = errors.New("feed disconnected")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDatabaseError    = errors.New("database error")
)

// LoadError describes a failure while loading one segment's master data.
type LoadError struct {
	Segment string
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("load error [%s] %s: %v", e.Segment, e.Path, e.Err)
	}
	return fmt.Sprintf("load error [%s]: %v", e.Segment, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new LoadError.
func NewLoadError(segment, path string, err error) *LoadError {
	return &LoadError{Segment: segment, Path: path, Err: err}
}

// FeedError describes a failure on the broadcast feed boundary.
type FeedError struct {
	Op  string
	URL string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed error [%s] %s: %v", e.Op, e.URL, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}
