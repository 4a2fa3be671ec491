package streamcache

import (
	"errors"
	"sync"
)

// writeOp is one chunk of network data waiting to be committed to the store.
// A nil data with a non-nil done is a flush barrier.
type writeOp struct {
	off  int64
	data []byte
	done chan struct{}
}

// fileWriter commits network data to the store from a single goroutine, so
// writes land in the order they were queued regardless of which fetch
// produced them.
type fileWriter struct {
	store *Store
	ops   chan writeOp
	exit  chan struct{}
	onErr func(off int64, n int, err error)

	mu     sync.Mutex
	closed bool
}

func newFileWriter(store *Store, queue int, onErr func(off int64, n int, err error)) *fileWriter {
	w := &fileWriter{
		store: store,
		ops:   make(chan writeOp, queue),
		exit:  make(chan struct{}),
		onErr: onErr,
	}
	go w.run()
	return w
}

func (w *fileWriter) run() {
	defer close(w.exit)

	for op := range w.ops {
		if op.done != nil {
			close(op.done)
			continue
		}
		if err := w.store.WriteAt(op.data, op.off); err != nil && !errors.Is(err, ErrNotInitialized) {
			if w.onErr != nil {
				w.onErr(op.off, len(op.data), err)
			}
		}
	}
}

// enqueue schedules data to be written at off. data must not be modified
// afterwards.
func (w *fileWriter) enqueue(off int64, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.ops <- writeOp{off: off, data: data}
}

// flush blocks until every write queued before it has been committed.
func (w *fileWriter) flush() {
	done := make(chan struct{})

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.ops <- writeOp{done: done}
	w.mu.Unlock()

	<-done
}

// close commits pending writes and stops the writer goroutine.
func (w *fileWriter) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ops)
	}
	w.mu.Unlock()

	<-w.exit
}
