package streamcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FetchRequest describes one byte-range fetch. When OpenEnded is set only
// Range.Lower is meaningful and the fetch runs to the end of the resource.
type FetchRequest struct {
	Range     ByteRange
	OpenEnded bool
}

// FetchResponse is what the transport reports once response headers are in.
// Body yields the bytes starting exactly at the requested lower bound.
type FetchResponse struct {
	StatusCode    int
	ContentLength int64 // total size of the resource, -1 when unknown
	ContentType   string
	AcceptRanges  bool
	Body          io.ReadCloser
}

// Fetcher is the network side of the coordinator. Implementations must honor
// ctx cancellation both while waiting for headers and while Body is read.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req FetchRequest) (*FetchResponse, error)

func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches byte ranges of URL using HTTP Range requests.
type HTTPFetcher struct {
	// Client is the http client used, http.DefaultClient if nil
	Client *http.Client

	URL string

	// Header is added to every request
	Header http.Header
}

var errInvalidContentRange = errors.New("invalid Content-Range response")

// NewHTTPClient returns a client tuned for long streaming downloads. timeout
// bounds connecting and waiting for response headers, never the body
// transfer itself.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

func (h *HTTPFetcher) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

// Fetch runs a GET request for req. A server that ignores the Range header
// and answers 200 is tolerated: the leading bytes are read and dropped so
// Body still starts at req.Range.Lower. A 206 must start at req.Range.Lower,
// and a 416 naming a total at or before it is an empty answer.
func (h *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range h.Header {
		hreq.Header[k] = v
	}

	start := req.Range.Lower
	if req.OpenEnded {
		hreq.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	} else {
		hreq.Header.Set("Range", req.Range.HeaderValue())
	}

	resp, err := h.client().Do(hreq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		cr, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && cr.first < 0 && cr.total >= 0 && start >= cr.total {
			// nothing at or past start, most likely an empty resource
			resp.Body.Close()
			return &FetchResponse{
				StatusCode:    resp.StatusCode,
				ContentLength: cr.total,
				ContentType:   parseContentType(resp.Header.Get("Content-Type")),
				AcceptRanges:  true,
				Body:          http.NoBody,
			}, nil
		}
	}
	if resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download: %s", resp.Status)
	}

	res := &FetchResponse{
		StatusCode:    resp.StatusCode,
		ContentLength: -1,
		ContentType:   parseContentType(resp.Header.Get("Content-Type")),
		Body:          resp.Body,
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		res.AcceptRanges = true
		v := resp.Header.Get("Content-Range")
		if v == "" {
			if req.OpenEnded && resp.ContentLength >= 0 {
				res.ContentLength = start + resp.ContentLength
			}
			break
		}
		cr, err := parseContentRange(v)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %q", err, v)
		}
		if cr.first != start {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected Content-Range %q for byte %d", v, start)
		}
		res.ContentLength = cr.total
	default:
		// full body, Range was ignored
		res.ContentLength = resp.ContentLength
		if start > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("skip to byte %d: %w", start, err)
			}
		}
	}

	return res, nil
}

// contentRange is a parsed Content-Range value. first and last are -1 for
// the unsatisfied form "bytes */1234", total is -1 when given as "*".
type contentRange struct {
	first, last, total int64
}

// parseContentRange parses a header such as "bytes 0-99/1234".
func parseContentRange(v string) (contentRange, error) {
	cr := contentRange{first: -1, last: -1, total: -1}

	fields := strings.Fields(v)
	if len(fields) != 2 || strings.ToLower(fields[0]) != "bytes" {
		return cr, errInvalidContentRange
	}

	spec, size, ok := strings.Cut(fields[1], "/")
	if !ok {
		return cr, errInvalidContentRange
	}
	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			return cr, errInvalidContentRange
		}
		cr.total = n
	}

	if spec == "*" {
		if cr.total < 0 {
			return cr, errInvalidContentRange
		}
		return cr, nil
	}

	a, b, ok := strings.Cut(spec, "-")
	if !ok {
		return cr, errInvalidContentRange
	}
	first, err := strconv.ParseInt(a, 10, 64)
	if err != nil || first < 0 {
		return cr, errInvalidContentRange
	}
	last, err := strconv.ParseInt(b, 10, 64)
	if err != nil || last < first || (cr.total >= 0 && last >= cr.total) {
		return cr, errInvalidContentRange
	}
	cr.first, cr.last = first, last
	return cr, nil
}

func parseContentType(v string) string {
	if v == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	return strings.TrimSpace(v)
}
