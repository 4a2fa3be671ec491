package streamcache

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultReadAhead is how many contiguous cached bytes ahead of a request
	// make its network fetch redundant.
	DefaultReadAhead = 200000

	// DefaultChunkSize is the read buffer size for network bodies.
	DefaultChunkSize = 32 * 1024

	// DefaultContentType is used when the transport doesn't report one.
	DefaultContentType = "video/mp4"

	writeQueueLen = 64
)

// Options tunes a Coordinator. Zero values select the defaults.
type Options struct {
	ReadAhead          int64
	ChunkSize          int
	DefaultContentType string

	// Observer receives events from construction until Shutdown.
	Observer Observer

	// Client is used by Open to build the HTTPFetcher.
	Client *http.Client
}

// netTask is one in-flight fetch bound to a single request. A cache task
// streams an already cached run from the store instead of the network.
type netTask struct {
	id     uint64
	req    *Request
	rng    ByteRange
	open   bool
	cache  bool
	start  int64
	pos    int64 // offset of the next byte to deliver
	cancel context.CancelFunc
}

// Coordinator turns read requests on one resource into cache reads and
// network fetches. Up to one chunk of cached bytes is returned right away;
// longer cached runs are streamed by a cache task, and any gap is fetched
// with a single network task per request, whose data is both written to the
// Store and delivered to the requester.
//
// All request and task state is guarded by one mutex; task callbacks run on
// per-task goroutines and take it for each event. Store reads of cache tasks
// and cache writes happen outside of it. Tasks stop reading while a request
// has more than queueLimit undelivered bytes, so memory per request stays
// bounded.
type Coordinator struct {
	store       *Store
	fetcher     Fetcher
	readAhead   int64
	chunkSize   int
	defaultType string

	lk          sync.Mutex
	requests    map[uuid.UUID]*Request
	info        *ContentInfo
	nextTask    uint64
	invalidated bool

	obsLk    sync.Mutex
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	writer *fileWriter
}

// NewCoordinator returns a coordinator serving reads from store, filling gaps
// through fetcher. The coordinator owns store and closes it on Shutdown.
func NewCoordinator(store *Store, fetcher Fetcher, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		store:       store,
		fetcher:     fetcher,
		readAhead:   opts.ReadAhead,
		chunkSize:   opts.ChunkSize,
		defaultType: opts.DefaultContentType,
		requests:    make(map[uuid.UUID]*Request),
		observer:    opts.Observer,
		ctx:         ctx,
		cancel:      cancel,
	}
	if c.readAhead <= 0 {
		c.readAhead = DefaultReadAhead
	}
	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	if c.defaultType == "" {
		c.defaultType = DefaultContentType
	}
	if info, ok := store.ContentInfo(); ok {
		c.info = &info
	}

	c.writer = newFileWriter(store, writeQueueLen, c.writeFailed)
	return c
}

// Store returns the underlying cache store.
func (c *Coordinator) Store() *Store {
	return c.store
}

// ContentInfo returns the resource metadata once it is known.
func (c *Coordinator) ContentInfo() (ContentInfo, bool) {
	c.lk.Lock()
	defer c.lk.Unlock()

	if c.info == nil {
		return ContentInfo{}, false
	}
	return *c.info, true
}

// Submit registers a read of length bytes at offset (or ToEnd). Up to one
// chunk of what is cached at offset is delivered before Submit returns, and
// the request is already complete if that was enough. The rest of a cached
// run is streamed in the background, and a network fetch is started for the
// first gap.
func (c *Coordinator) Submit(offset, length int64) (*Request, error) {
	if offset < 0 || (length < 0 && length != ToEnd) {
		return nil, ErrInvalidRange
	}

	c.lk.Lock()
	defer c.lk.Unlock()

	if c.invalidated {
		return nil, ErrInvalidated
	}

	r := newRequest(c, offset, length)
	c.requests[r.ID] = r
	c.observe(Event{Kind: EventSubmitted, Request: r.ID, Offset: offset, Length: length})

	if c.info != nil {
		r.resolveEnd(c.info.ContentLength)
		r.setInfo(*c.info)
	}

	c.serve(r)
	return r, nil
}

// Cancel stops r. No data is delivered after Cancel returns, and reads on r
// return ErrCancelled. Cancelling a finished request does nothing.
func (c *Coordinator) Cancel(r *Request) {
	if r == nil {
		return
	}

	c.lk.Lock()
	defer c.lk.Unlock()

	if c.requests[r.ID] != r {
		return
	}
	c.detachTask(r)
	delete(c.requests, r.ID)
	r.finish(ErrCancelled)
	c.observe(Event{Kind: EventCancelled, Request: r.ID, Offset: r.current})
}

// Pending returns the number of requests not yet finished.
func (c *Coordinator) Pending() int {
	c.lk.Lock()
	defer c.lk.Unlock()

	return len(c.requests)
}

// serve answers r from the cache as far as possible and opens a network task
// for the rest. Must be called with c.lk held.
func (c *Coordinator) serve(r *Request) {
	if r.satisfied() {
		c.complete(r)
		return
	}

	if c.info == nil {
		// nothing known about the resource yet, probe from where we are
		c.startTask(r, ByteRange{Lower: r.current, Upper: r.end}, true)
		return
	}

	data, _ := c.store.ReadRange(r.current, min(r.remaining(), int64(c.chunkSize)))
	if len(data) > 0 {
		r.deliver(data)
		c.observe(Event{Kind: EventCacheHit, Request: r.ID, Offset: r.current, Length: int64(len(data))})
		r.current += int64(len(data))

		if r.satisfied() {
			c.complete(r)
			return
		}
	}

	cov := c.store.Coverage(r.current, r.remaining())
	if cov.HasCovered() {
		c.startCacheTask(r, cov.Covered)
		return
	}

	gap := cov.Gap
	if gap.Lower != r.current || gap.Upper <= r.current {
		gap = ByteRange{Lower: r.current, Upper: r.end}
	}
	c.startTask(r, gap, false)
}

// queueLimit is how many undelivered bytes a request may hold before its
// task waits for the reader.
func (c *Coordinator) queueLimit() int64 {
	return max(c.readAhead, int64(c.chunkSize))
}

// startTask opens a network fetch for r, replacing any task it had. Must be
// called with c.lk held.
func (c *Coordinator) startTask(r *Request, rng ByteRange, open bool) {
	ctx, t := c.newTask(r, rng)
	t.open = open

	length := rng.Len()
	if open {
		length = -1
	}
	c.observe(Event{Kind: EventFetchStarted, Request: r.ID, Offset: rng.Lower, Length: length})

	c.tasks.Add(1)
	go c.runTask(ctx, t)
}

// startCacheTask streams the cached run rng to r in chunks, replacing any
// task it had. Must be called with c.lk held.
func (c *Coordinator) startCacheTask(r *Request, rng ByteRange) {
	ctx, t := c.newTask(r, rng)
	t.cache = true

	c.tasks.Add(1)
	go c.runCacheTask(ctx, t)
}

func (c *Coordinator) newTask(r *Request, rng ByteRange) (context.Context, *netTask) {
	c.detachTask(r)

	ctx, cancel := context.WithCancel(c.ctx)
	c.nextTask++
	t := &netTask{
		id:     c.nextTask,
		req:    r,
		rng:    rng,
		start:  rng.Lower,
		pos:    rng.Lower,
		cancel: cancel,
	}
	r.task = t
	return ctx, t
}

// detachTask cancels the task of r, if any. Callbacks still in flight for it
// are dropped. Must be called with c.lk held.
func (c *Coordinator) detachTask(r *Request) {
	if r.task != nil {
		r.task.cancel()
		r.task = nil
	}
}

// active reports whether t is still the live task of a pending request. Must
// be called with c.lk held.
func (c *Coordinator) active(t *netTask) bool {
	r := t.req
	return r.task == t && c.requests[r.ID] == r
}

func (c *Coordinator) runTask(ctx context.Context, t *netTask) {
	defer c.tasks.Done()
	defer t.cancel()

	resp, err := c.fetcher.Fetch(ctx, FetchRequest{Range: t.rng, OpenEnded: t.open})
	if err != nil {
		c.taskDone(t, err)
		return
	}
	defer resp.Body.Close()

	if !c.taskHeaders(t, resp) {
		return
	}

	for {
		if !t.req.waitDrained(ctx, c.queueLimit()) {
			return
		}
		buf := make([]byte, c.chunkSize)
		n, err := resp.Body.Read(buf)
		if n > 0 && !c.taskData(t, buf[:n]) {
			return
		}
		if err == io.EOF {
			c.taskDone(t, nil)
			return
		}
		if err != nil {
			c.taskDone(t, err)
			return
		}
	}
}

func (c *Coordinator) runCacheTask(ctx context.Context, t *netTask) {
	defer c.tasks.Done()
	defer t.cancel()

	for t.pos < t.rng.Upper {
		if !t.req.waitDrained(ctx, c.queueLimit()) {
			return
		}
		data, _ := c.store.ReadRange(t.pos, min(t.rng.Upper-t.pos, int64(c.chunkSize)))
		if len(data) == 0 {
			break
		}
		if !c.cacheData(t, data) {
			return
		}
	}
	c.taskDone(t, nil)
}

// cacheData delivers one chunk read from the store and reports whether the
// task should keep reading.
func (c *Coordinator) cacheData(t *netTask, b []byte) bool {
	c.lk.Lock()
	defer c.lk.Unlock()

	if !c.active(t) {
		return false
	}
	r := t.req

	if rem := r.remaining(); int64(len(b)) > rem {
		b = b[:rem]
	}
	r.deliver(b)
	c.observe(Event{Kind: EventCacheHit, Request: r.ID, Offset: r.current, Length: int64(len(b))})
	r.current += int64(len(b))
	t.pos += int64(len(b))

	if r.satisfied() {
		c.detachTask(r)
		c.complete(r)
		return false
	}
	return true
}

// taskHeaders handles the response metadata of a fetch. The first response
// that reports a content length initializes the store and is surfaced to
// every request still waiting for it. A zero length is known too: there is
// nothing to store, and every request is complete.
func (c *Coordinator) taskHeaders(t *netTask, resp *FetchResponse) bool {
	c.lk.Lock()
	defer c.lk.Unlock()

	if !c.active(t) {
		return false
	}
	if c.info != nil || resp.ContentLength < 0 {
		return true
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = c.defaultType
	}
	info := ContentInfo{
		ContentLength:   resp.ContentLength,
		ContentType:     contentType,
		ByteRangeAccess: true,
	}
	c.info = &info

	if info.ContentLength > 0 {
		if err := c.store.Initialize(contentType, resp.ContentLength); err != nil {
			c.observe(Event{Kind: EventPersistFailed, Err: err})
		}
	}
	c.observe(Event{Kind: EventContentInfo, Info: info})

	for _, r := range c.requests {
		r.resolveEnd(info.ContentLength)
		r.setInfo(info)
		if r.satisfied() {
			c.detachTask(r)
			c.complete(r)
		}
	}
	return c.active(t)
}

// taskData handles one chunk of network data and reports whether the task
// should keep reading.
func (c *Coordinator) taskData(t *netTask, b []byte) bool {
	c.lk.Lock()
	defer c.lk.Unlock()

	if !c.active(t) {
		// cancelled while the chunk was in transit
		return false
	}
	r := t.req

	c.writer.enqueue(t.pos, b)
	t.pos += int64(len(b))

	out := b
	if rem := r.remaining(); rem >= 0 && int64(len(out)) > rem {
		out = out[:rem]
	}
	r.deliver(out)
	c.observe(Event{Kind: EventNetworkData, Request: r.ID, Offset: r.current, Length: int64(len(out))})
	r.current += int64(len(out))

	if r.satisfied() {
		c.detachTask(r)
		c.complete(r)
		return false
	}

	if c.cachedAhead(r) {
		c.detachTask(r)
		c.observe(Event{Kind: EventReadAheadCut, Request: r.ID, Offset: r.current, Length: c.readAhead})
		c.serve(r)
		return false
	}
	return true
}

// cachedAhead reports whether enough data is cached at the current offset of
// r that its network task is redundant. The threshold shrinks near the end
// of the request or the resource. Must be called with c.lk held.
func (c *Coordinator) cachedAhead(r *Request) bool {
	want := c.readAhead
	if rem := r.remaining(); rem >= 0 && rem < want {
		want = rem
	}
	if c.info != nil {
		if left := c.info.ContentLength - r.current; left < want {
			want = left
		}
	}
	if want <= 0 {
		return false
	}
	return c.store.HasCache(r.current, want)
}

func (c *Coordinator) taskDone(t *netTask, err error) {
	c.lk.Lock()
	defer c.lk.Unlock()

	if !c.active(t) {
		return
	}
	r := t.req
	r.task = nil

	switch {
	case err != nil:
		c.fail(r, &TransportError{Range: t.rng, Err: err})
	case r.end < 0 || r.satisfied():
		// an unknown-length stream ends with its body
		c.complete(r)
	case t.cache && t.pos == t.start:
		// the index claims data the file doesn't hold, fetch it again
		c.startTask(r, ByteRange{Lower: r.current, Upper: r.end}, false)
	case t.pos == t.start:
		c.fail(r, &TransportError{Range: t.rng, Err: ErrShortResponse})
	default:
		// the gap was filled up to the next cached range
		c.serve(r)
	}
}

// complete must be called with c.lk held.
func (c *Coordinator) complete(r *Request) {
	delete(c.requests, r.ID)
	r.finish(nil)
	c.observe(Event{Kind: EventCompleted, Request: r.ID, Offset: r.current})
}

// fail must be called with c.lk held.
func (c *Coordinator) fail(r *Request, err error) {
	c.detachTask(r)
	delete(c.requests, r.ID)
	r.finish(err)
	c.observe(Event{Kind: EventFailed, Request: r.ID, Offset: r.current, Err: err})
}

func (c *Coordinator) writeFailed(off int64, n int, err error) {
	c.observe(Event{Kind: EventPersistFailed, Offset: off, Length: int64(n), Err: err})
}

func (c *Coordinator) observe(ev Event) {
	c.obsLk.Lock()
	defer c.obsLk.Unlock()

	if c.observer != nil {
		c.observer.Observe(ev)
	}
}

// Sync waits until all network data received so far has been committed to
// the store.
func (c *Coordinator) Sync() {
	c.writer.flush()
}
