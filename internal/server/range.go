package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errInvalidRange  = errors.New("invalid range format")
	errUnsatisfiable = errors.New("range not satisfiable")
)

// httpRange is an inclusive byte range as used on the wire.
type httpRange struct {
	Start int64
	End   int64
}

func (r httpRange) length() int64 {
	return r.End - r.Start + 1
}

func (r httpRange) contentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// parseRange parses a Range header against a resource of size bytes. Only
// the first range of a multi-range request is honored. A nil range with a
// nil error means the header was empty.
func parseRange(header string, size int64) (*httpRange, error) {
	if header == "" {
		return nil, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return nil, errInvalidRange
	}

	spec := strings.TrimPrefix(header, "bytes=")
	if idx := strings.Index(spec, ","); idx != -1 {
		spec = spec[:idx]
	}
	spec = strings.TrimSpace(spec)

	parts := strings.Split(spec, "-")
	if len(parts) != 2 {
		return nil, errInvalidRange
	}

	var start, end int64
	if parts[0] == "" {
		// suffix: the last n bytes
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return nil, errInvalidRange
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil || start < 0 {
			return nil, errInvalidRange
		}
		if parts[1] == "" {
			end = size - 1
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil || end < start {
				return nil, errInvalidRange
			}
		}
	}

	if start >= size {
		return nil, errUnsatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return &httpRange{Start: start, End: end}, nil
}
