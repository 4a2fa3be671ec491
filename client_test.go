package streamcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetcherRange(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	f := &HTTPFetcher{Client: NewHTTPClient(5 * time.Second), URL: server.URL}

	resp, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{100, 200}})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent || !resp.AcceptRanges {
		t.Errorf("status = %d, accept ranges = %v", resp.StatusCode, resp.AcceptRanges)
	}
	if resp.ContentLength != int64(len(testData)) {
		t.Errorf("ContentLength = %d, want %d", resp.ContentLength, len(testData))
	}
	if resp.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, testData[100:200]) {
		t.Errorf("body has %d bytes, want [100,200)", len(body))
	}
}

func TestHTTPFetcherOpenEnded(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	f := &HTTPFetcher{URL: server.URL}

	resp, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{Lower: 1000, Upper: -1}, OpenEnded: true})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, testData[1000:]) {
		t.Errorf("body has %d bytes, want everything from 1000", len(body))
	}
}

func TestHTTPFetcherNoRange(t *testing.T) {
	server := newTestServerNoRange()
	defer server.Close()

	f := &HTTPFetcher{URL: server.URL}

	resp, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{1000, 2000}})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.AcceptRanges {
		t.Error("server ignoring Range should not report range access")
	}
	if resp.ContentLength != int64(len(testData)) {
		t.Errorf("ContentLength = %d, want %d", resp.ContentLength, len(testData))
	}

	buf := make([]byte, 1000)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(buf, testData[1000:2000]) {
		t.Error("body should start at the requested offset")
	}
}

func TestHTTPFetcherStatusError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	f := &HTTPFetcher{URL: server.URL}
	_, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{0, 10}})
	if err == nil || !strings.Contains(err.Error(), "failed to download") {
		t.Errorf("Fetch returned %v, want a download failure", err)
	}
}

func TestHTTPFetcherHeaders(t *testing.T) {
	var gotRange, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(testData[:10])
	}))
	defer server.Close()

	f := &HTTPFetcher{URL: server.URL, Header: http.Header{"Authorization": {"Bearer x"}}}
	resp, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{0, 10}})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	resp.Body.Close()

	if gotRange != "bytes=0-9" {
		t.Errorf("Range header = %q, want bytes=0-9", gotRange)
	}
	if gotAuth != "Bearer x" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in   string
		want contentRange
		ok   bool
	}{
		{"bytes 0-99/1234", contentRange{0, 99, 1234}, true},
		{"BYTES 5-9/10", contentRange{5, 9, 10}, true},
		{"bytes 500-599/*", contentRange{500, 599, -1}, true},
		{"bytes */1234", contentRange{-1, -1, 1234}, true},
		{"bytes */0", contentRange{-1, -1, 0}, true},
		{"bytes */*", contentRange{-1, -1, -1}, false},
		{"bytes 9-5/10", contentRange{-1, -1, 10}, false},
		{"bytes 0-10/10", contentRange{-1, -1, 10}, false},
		{"bytes -5/10", contentRange{-1, -1, 10}, false},
		{"items 0-1/2", contentRange{-1, -1, -1}, false},
		{"bytes 0-99", contentRange{-1, -1, -1}, false},
		{"", contentRange{-1, -1, -1}, false},
	}

	for _, tt := range tests {
		got, err := parseContentRange(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseContentRange(%q) = %+v, %v", tt.in, got, err)
		}
	}
}

func TestHTTPFetcherRejectsShiftedRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// answers with the start of the file whatever was asked
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(testData[:100])
	}))
	defer server.Close()

	f := &HTTPFetcher{URL: server.URL}
	resp, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{Lower: 500, Upper: 600}})
	if err == nil {
		resp.Body.Close()
		t.Fatal("Fetch accepted a range starting at 0 for offset 500")
	}

	// the coordinator fails the request and caches nothing
	s := newTestStore(t, testData[:1000])
	c := NewCoordinator(s, f, Options{})
	defer c.Shutdown()

	r, err := c.Submit(500, 100)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, r)

	var terr *TransportError
	if !errors.As(r.Err(), &terr) {
		t.Fatalf("Err() = %v, want a TransportError", r.Err())
	}
	c.Sync()
	if rs := s.Ranges(); len(rs) != 0 {
		t.Errorf("cached %v from a shifted response", rs)
	}
}

func TestHTTPFetcherEmptyResource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "empty.mp4", time.Time{}, bytes.NewReader(nil))
	}))
	defer server.Close()

	f := &HTTPFetcher{URL: server.URL}
	resp, err := f.Fetch(context.Background(), FetchRequest{OpenEnded: true})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != 0 {
		t.Errorf("ContentLength = %d, want 0", resp.ContentLength)
	}
	if body, _ := io.ReadAll(resp.Body); len(body) != 0 {
		t.Errorf("got %d bytes from an empty resource", len(body))
	}

	resp2, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{Lower: 0, Upper: 10}})
	if err != nil {
		t.Fatalf("bounded Fetch of an empty resource failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.ContentLength != 0 {
		t.Errorf("ContentLength = %d, want 0", resp2.ContentLength)
	}
}

func TestHTTPFetcherUnsatisfiableInside(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes */1000")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer server.Close()

	f := &HTTPFetcher{URL: server.URL}
	resp, err := f.Fetch(context.Background(), FetchRequest{Range: ByteRange{Lower: 500, Upper: 600}})
	if err == nil {
		resp.Body.Close()
		t.Fatal("416 for a range inside the resource should fail")
	}
}

func TestOpenAndRead(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	c, err := Open(t.TempDir(), server.URL+"/movie.mp4", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Shutdown()

	r, err := c.Submit(1000, 5000)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, testData[1000:6000]) {
		t.Error("Read data doesn't match")
	}

	// second read of the same bytes comes from the cache
	c.Sync()
	r2, _ := c.Submit(1000, 5000)
	select {
	case <-r2.Done():
	default:
		t.Error("cached request should complete within Submit")
	}
	info, err := r2.Info(context.Background())
	if err != nil || info.ContentLength != int64(len(testData)) {
		t.Errorf("Info() = %+v, %v", info, err)
	}
}

func TestOpenRejectsBadURL(t *testing.T) {
	if _, err := Open(t.TempDir(), "::nope", Options{}); err == nil {
		t.Error("Open should reject an invalid URL")
	}
}
