package streamcache

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
)

// ToEnd as a request length asks for everything from the offset to the end
// of the resource.
const ToEnd int64 = -1

// Request is the handle of a read submitted to a Coordinator. Bytes are
// delivered in increasing offset order and can be consumed with Read; Info
// returns the content metadata.
type Request struct {
	ID uuid.UUID

	offset int64
	length int64
	coord  *Coordinator

	// guarded by coord.lk
	end     int64 // exclusive, -1 while unknown
	current int64
	task    *netTask

	mu        sync.Mutex
	queue     [][]byte
	queued    int64 // bytes in queue
	info      *ContentInfo
	err       error
	finished  bool
	cancelled bool
	notify    chan struct{}
	drained   chan struct{}
	infoReady chan struct{}
	done      chan struct{}
}

func newRequest(c *Coordinator, offset, length int64) *Request {
	r := &Request{
		ID:        uuid.New(),
		offset:    offset,
		length:    length,
		coord:     c,
		end:       -1,
		current:   offset,
		notify:    make(chan struct{}, 1),
		drained:   make(chan struct{}, 1),
		infoReady: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if length >= 0 {
		r.end = offset + length
	}
	return r
}

// Offset returns the requested start offset.
func (r *Request) Offset() int64 {
	return r.offset
}

// Length returns the requested length, or ToEnd.
func (r *Request) Length() int64 {
	return r.length
}

// resolveEnd clamps the request to the content length once it is known.
// Must be called with coord.lk held.
func (r *Request) resolveEnd(contentLength int64) {
	if contentLength < 0 {
		return
	}
	if r.end < 0 || r.end > contentLength {
		r.end = contentLength
	}
	if r.end < r.offset {
		r.end = r.offset
	}
}

// satisfied must be called with coord.lk held.
func (r *Request) satisfied() bool {
	return r.end >= 0 && r.current >= r.end
}

// remaining returns how many more bytes are wanted, or -1 if unknown. Must be
// called with coord.lk held.
func (r *Request) remaining() int64 {
	if r.end < 0 {
		return -1
	}
	return r.end - r.current
}

func (r *Request) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Request) deliver(b []byte) {
	if len(b) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.queue = append(r.queue, b)
	r.queued += int64(len(b))
	r.wake()
}

// waitDrained blocks while more than limit bytes are waiting to be read. It
// reports false once the request finished or ctx is done.
func (r *Request) waitDrained(ctx context.Context, limit int64) bool {
	for {
		r.mu.Lock()
		finished, queued := r.finished, r.queued
		r.mu.Unlock()

		if finished {
			return false
		}
		if queued < limit {
			return true
		}

		select {
		case <-r.drained:
		case <-r.done:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (r *Request) setInfo(info ContentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || r.info != nil {
		return
	}
	r.info = &info
	close(r.infoReady)
}

// finish records the terminal state. A nil err means the request completed.
func (r *Request) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.finished = true
	r.err = err
	if errors.Is(err, ErrCancelled) {
		r.cancelled = true
		r.queue = nil
		r.queued = 0
	}
	close(r.done)
}

// Info waits for the content metadata. If the request ends before metadata
// is known, its terminal error is returned (ErrNotInitialized for a request
// that completed without ever learning it).
func (r *Request) Info(ctx context.Context) (ContentInfo, error) {
	select {
	case <-r.infoReady:
	case <-r.done:
	case <-ctx.Done():
		return ContentInfo{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.info != nil {
		return *r.info, nil
	}
	if r.err != nil {
		return ContentInfo{}, r.err
	}
	return ContentInfo{}, ErrNotInitialized
}

// Read reads delivered bytes. It returns io.EOF once the request completed
// and all data was consumed, ErrCancelled after cancellation, and the
// failure error if the request failed.
func (r *Request) Read(p []byte) (int, error) {
	for {
		r.mu.Lock()
		if r.cancelled {
			r.mu.Unlock()
			return 0, ErrCancelled
		}
		if len(r.queue) > 0 {
			n := copy(p, r.queue[0])
			if n == len(r.queue[0]) {
				r.queue[0] = nil
				r.queue = r.queue[1:]
			} else {
				r.queue[0] = r.queue[0][n:]
			}
			r.queued -= int64(n)
			r.mu.Unlock()

			select {
			case r.drained <- struct{}{}:
			default:
			}
			return n, nil
		}
		if r.finished {
			err := r.err
			r.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		r.mu.Unlock()

		select {
		case <-r.notify:
		case <-r.done:
		}
	}
}

// WriteTo copies all delivered bytes to w until the request ends.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	var total int64
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Done is closed when the request has reached a terminal state.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal error: nil while running or after successful
// completion, ErrCancelled, ErrInvalidated or the failure otherwise.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Close cancels the request.
func (r *Request) Close() error {
	r.coord.Cancel(r)
	return nil
}
