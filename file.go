package streamcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ContentInfo describes the remote resource, as surfaced to the media player
// before any data.
type ContentInfo struct {
	ContentLength   int64
	ContentType     string
	ByteRangeAccess bool
}

// Store is the on-disk cache of one remote resource: a sparse file pre-sized
// to the content length, plus a RangeIndex persisted next to it.
//
// Layout for a resource id:
//
//	<dir>/<id>.temp           # raw bytes, sparse
//	<dir>/<id>.temp.segments  # cached ranges, content length and type
//	<dir>/<id>.temp.lock      # held while a Store has the file open
type Store struct {
	path string // local data file

	index *RangeIndex
	local *os.File
	lock  *flock.Flock

	initialized bool
	closed      bool
	persistErr  error
	loadErr     error

	lk sync.RWMutex
}

// OpenStore opens the cache for id under dir, restoring any previously saved
// range index. The data file is only created once Initialize is called, but
// an existing one left by an earlier run is reused right away.
//
// A corrupt metadata record is not an error: the store starts empty and
// LoadErr reports what went wrong. ErrLocked is returned when another Store
// already owns the cache file.
func OpenStore(dir, id string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	path := DataPath(dir, id)

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock cache file: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	idx, loadErr := LoadRangeIndex(path + ".segments")

	s := &Store{
		path:    path,
		index:   idx,
		lock:    lock,
		loadErr: loadErr,
	}

	if idx.ContentLength() > 0 {
		fp, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err == nil {
			s.local = fp
			s.initialized = true
		} else {
			// ranges are meaningless without the data they describe
			idx.reset()
		}
	}

	return s, nil
}

// DataPath returns where the data file of id lives under dir. The range
// index record is stored at the same path with a ".segments" suffix.
func DataPath(dir, id string) string {
	return filepath.Join(dir, id+".temp")
}

// Path returns the location of the data file.
func (s *Store) Path() string {
	return s.path
}

// Initialize creates the sparse data file for a resource of contentLength
// bytes. It only has an effect the first time it succeeds; afterwards the
// size and type are fixed for the lifetime of the store.
func (s *Store) Initialize(contentType string, contentLength int64) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed {
		return ErrInvalidated
	}
	if s.initialized {
		return nil
	}
	if contentLength <= 0 {
		return fmt.Errorf("streamcache: cannot initialize cache with content length %d", contentLength)
	}

	// metadata is recorded even if the data file can't be created
	saveErr := s.index.setContent(contentType, contentLength)
	if saveErr != nil {
		s.persistErr = saveErr
	}

	fp, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return &PersistenceError{Op: "create", Path: s.path, Err: err}
	}
	if err := fp.Truncate(contentLength); err != nil {
		fp.Close()
		return &PersistenceError{Op: "truncate", Path: s.path, Err: err}
	}

	s.local = fp
	s.initialized = true
	return saveErr
}

// Initialized reports whether the data file is open and writes are accepted.
func (s *Store) Initialized() bool {
	s.lk.RLock()
	defer s.lk.RUnlock()

	return s.initialized
}

// ContentInfo returns the recorded resource metadata, if the store has been
// initialized.
func (s *Store) ContentInfo() (ContentInfo, bool) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.initialized {
		return ContentInfo{}, false
	}
	return ContentInfo{
		ContentLength:   s.index.ContentLength(),
		ContentType:     s.index.ContentType(),
		ByteRangeAccess: true,
	}, true
}

// WriteAt stores b at offset off and records the range as cached. The range
// is only recorded once the bytes have been handed to the file.
func (s *Store) WriteAt(b []byte, off int64) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if !s.initialized || s.closed {
		return ErrNotInitialized
	}

	n, err := s.local.WriteAt(b, off)
	if n > 0 {
		if ierr := s.index.Insert(ByteRange{Lower: off, Upper: off + int64(n)}); ierr != nil {
			s.persistErr = ierr
			if err == nil {
				err = ierr
			}
		}
	}
	if err != nil {
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			err = &PersistenceError{Op: "write", Path: s.path, Err: err}
		}
		return err
	}
	return nil
}

// PersistErr returns the last metadata persistence failure, if any. When set,
// cached data written this session may not survive a restart.
func (s *Store) PersistErr() error {
	s.lk.RLock()
	defer s.lk.RUnlock()

	return s.persistErr
}

// LoadErr returns the error met while restoring the metadata record, if any.
func (s *Store) LoadErr() error {
	return s.loadErr
}

// Ranges returns a copy of the cached ranges.
func (s *Store) Ranges() []ByteRange {
	s.lk.RLock()
	defer s.lk.RUnlock()

	return s.index.Ranges()
}
