package streamcache

import "fmt"

// ByteRange is a half-open interval [Lower, Upper) of byte offsets in the
// remote resource. Ranges stored in a RangeIndex always have Upper > Lower.
type ByteRange struct {
	Lower int64 `json:"lowerBound"`
	Upper int64 `json:"upperBound"`
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	if r.Upper <= r.Lower {
		return 0
	}
	return r.Upper - r.Lower
}

// IsEmpty reports whether the range contains no bytes.
func (r ByteRange) IsEmpty() bool {
	return r.Upper <= r.Lower
}

// Contains reports whether off lies within the range.
func (r ByteRange) Contains(off int64) bool {
	return off >= r.Lower && off < r.Upper
}

// touches is true when r and o overlap or share an endpoint, meaning they
// must be merged into a single range.
func (r ByteRange) touches(o ByteRange) bool {
	return r.Lower <= o.Upper && o.Lower <= r.Upper
}

// clamp returns the intersection of r and o, which may be empty.
func (r ByteRange) clamp(o ByteRange) ByteRange {
	res := r
	if o.Lower > res.Lower {
		res.Lower = o.Lower
	}
	if o.Upper < res.Upper {
		res.Upper = o.Upper
	}
	if res.Upper < res.Lower {
		res.Upper = res.Lower
	}
	return res
}

// HeaderValue formats the range as an HTTP Range header value. The upper
// bound is inclusive on the wire.
func (r ByteRange) HeaderValue() string {
	return fmt.Sprintf("bytes=%d-%d", r.Lower, r.Upper-1)
}

func (r ByteRange) String() string {
	if r.Upper < 0 {
		return fmt.Sprintf("[%d,...)", r.Lower)
	}
	return fmt.Sprintf("[%d,%d)", r.Lower, r.Upper)
}
