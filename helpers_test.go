package streamcache

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// testData is random data used for testing
var testData []byte

func init() {
	testData = make([]byte, 256*1024)
	rand.Read(testData)
}

// newTestServer creates an HTTP server that serves testData with Range support
func newTestServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "test.mp4", time.Time{}, bytes.NewReader(testData))
	}))
}

// newTestServerNoRange creates an HTTP server without Range support
func newTestServerNoRange() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(testData)))
		w.WriteHeader(http.StatusOK)
		w.Write(testData)
	}))
}

// newTestStore opens a store in a temp dir, initialized for data when data
// is not nil.
func newTestStore(t *testing.T, data []byte) *Store {
	t.Helper()

	s, err := OpenStore(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	if data != nil {
		if err := s.Initialize("video/mp4", int64(len(data))); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
	}
	return s
}

// scriptedFetcher serves fetches out of data and records what was asked.
// With gate set, fetches block until their context ends; failWith makes
// every fetch fail.
type scriptedFetcher struct {
	data        []byte
	contentType string
	gate        bool
	failWith    error

	mu    sync.Mutex
	calls []FetchRequest
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.gate {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	end := int64(len(f.data))
	if !req.OpenEnded && req.Range.Upper < end {
		end = req.Range.Upper
	}
	return &FetchResponse{
		StatusCode:    http.StatusPartialContent,
		ContentLength: int64(len(f.data)),
		ContentType:   f.contentType,
		AcceptRanges:  true,
		Body:          io.NopCloser(bytes.NewReader(f.data[req.Range.Lower:end])),
	}, nil
}

func (f *scriptedFetcher) requests() []FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]FetchRequest(nil), f.calls...)
}

// waitDone fails the test if r doesn't finish in time.
func waitDone(t *testing.T, r *Request) {
	t.Helper()

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("request %s did not finish", r.ID)
	}
}

// eventRecorder collects coordinator events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventRecorder) Observe(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, ev)
}

func (e *eventRecorder) count(kind EventKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, ev := range e.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (e *eventRecorder) snapshot() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]Event(nil), e.events...)
}
