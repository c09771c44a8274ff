package store

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store: closed")

	// ErrCacheFull is returned when the cache cannot admit a page because
	// every resident page is pinned.
	ErrCacheFull = errors.New("store: cache full, all pages pinned")

	// ErrCorrupted wraps any on-disk inconsistency: a page image that fails
	// its checksum or decode, or a broken firstKey chain found at open.
	ErrCorrupted = errors.New("store: corrupted")
)

// IOError is a backing-store fault. Transient errors are retried a bounded
// number of times before being surfaced with Transient cleared.
type IOError struct {
	Op        string
	PageID    PageID
	Transient bool
	Err       error
}

func (e *IOError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("store: %s io error (%s page %d): %v", kind, e.Op, e.PageID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func corruptionErr(pid PageID, format string, args ...any) error {
	return fmt.Errorf("%w: page %d: %s", ErrCorrupted, pid, fmt.Sprintf(format, args...))
}
