package streamcache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by store writes before the content length
	// is known. Reads in that state simply report nothing cached.
	ErrNotInitialized = errors.New("streamcache: cache file not initialized")

	// ErrInvalidated is returned for operations on a coordinator after Shutdown.
	ErrInvalidated = errors.New("streamcache: coordinator has been shut down")

	// ErrCancelled is the terminal state of a request that was cancelled.
	ErrCancelled = errors.New("streamcache: request cancelled")

	// ErrLocked means another process holds the cache file for writing.
	ErrLocked = errors.New("streamcache: cache file is locked by another writer")

	// ErrShortResponse is reported when a fetch ends without returning any byte.
	ErrShortResponse = errors.New("streamcache: response ended without data")

	// ErrInvalidRange is returned when a request has a negative offset or length.
	ErrInvalidRange = errors.New("streamcache: invalid range")
)

// TransportError wraps a network failure for a single request.
type TransportError struct {
	Range ByteRange
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("streamcache: fetch %s failed: %s", e.Range, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError is returned when the metadata record or the cache file
// cannot be written or read back. The in-memory state stays valid.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("streamcache: %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
