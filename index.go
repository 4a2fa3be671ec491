package streamcache

import (
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// RangeIndex keeps track of which byte ranges of the resource are present in
// the cache file, as a sorted list of disjoint, non-adjacent ranges. It also
// holds the resource's content length and type.
//
// RangeIndex is not safe for concurrent use; Store serializes access to it.
type RangeIndex struct {
	ranges        []ByteRange
	contentLength int64
	contentType   string

	path string // metadata record, empty for an in-memory index
}

// Coverage is the result of a cache lookup. An empty Covered range means the
// start of the request is not cached, an empty Gap means nothing needs to be
// fetched.
type Coverage struct {
	Covered ByteRange
	Gap     ByteRange
}

// HasCovered reports whether a cached prefix was found.
func (c Coverage) HasCovered() bool {
	return !c.Covered.IsEmpty()
}

// HasGap reports whether part of the request must come from the network.
func (c Coverage) HasGap() bool {
	return !c.Gap.IsEmpty()
}

// NewRangeIndex returns an empty index that is not persisted anywhere.
func NewRangeIndex() *RangeIndex {
	return &RangeIndex{}
}

// Insert merges r into the index and persists the result. Empty or negative
// ranges are ignored.
func (idx *RangeIndex) Insert(r ByteRange) error {
	if !idx.insert(r) {
		return nil
	}
	return idx.save()
}

// insert merges r without saving and reports whether anything changed.
func (idx *RangeIndex) insert(r ByteRange) bool {
	if r.IsEmpty() || r.Lower < 0 {
		return false
	}

	// all ranges before i end strictly before r starts, so they can't touch it
	i := sort.Search(len(idx.ranges), func(k int) bool {
		return idx.ranges[k].Upper >= r.Lower
	})

	j := i
	for j < len(idx.ranges) && idx.ranges[j].Lower <= r.Upper {
		cur := idx.ranges[j]
		if cur.Lower < r.Lower {
			r.Lower = cur.Lower
		}
		if cur.Upper > r.Upper {
			r.Upper = cur.Upper
		}
		j++
	}

	if j == i+1 && idx.ranges[i] == r {
		// already fully covered
		return idx.raiseLength(r.Upper)
	}

	idx.ranges = slices.Replace(idx.ranges, i, j, r)
	idx.raiseLength(r.Upper)
	return true
}

func (idx *RangeIndex) raiseLength(upper int64) bool {
	if upper > idx.contentLength {
		idx.contentLength = upper
		return true
	}
	return false
}

// locate returns the position of the stored range containing off, or -1.
func (idx *RangeIndex) locate(off int64) int {
	k := sort.Search(len(idx.ranges), func(k int) bool {
		return idx.ranges[k].Upper > off
	})
	if k < len(idx.ranges) && idx.ranges[k].Lower <= off {
		return k
	}
	return -1
}

// QueryCovered looks up req. Only a request whose first byte is cached gets a
// covered prefix; anything else is returned whole as the gap, even if a later
// part of it happens to be cached.
func (idx *RangeIndex) QueryCovered(req ByteRange) Coverage {
	if req.IsEmpty() {
		return Coverage{}
	}

	k := idx.locate(req.Lower)
	if k < 0 {
		return Coverage{Gap: req}
	}

	res := Coverage{Covered: idx.ranges[k].clamp(req)}
	if res.Covered.Upper >= req.Upper {
		return res
	}

	// the gap runs up to the next cached range, which may lie past the request
	res.Gap.Lower = res.Covered.Upper
	res.Gap.Upper = req.Upper
	if k+1 < len(idx.ranges) {
		res.Gap.Upper = idx.ranges[k+1].Lower
	} else if idx.contentLength > res.Gap.Lower && idx.contentLength < res.Gap.Upper {
		res.Gap.Upper = idx.contentLength
	}
	return res
}

// IsFullyCovered reports whether at least minLength contiguous bytes are
// cached starting at r.Lower.
func (idx *RangeIndex) IsFullyCovered(r ByteRange, minLength int64) bool {
	k := idx.locate(r.Lower)
	if k < 0 {
		return false
	}
	return idx.ranges[k].Upper-r.Lower >= minLength
}

// Ranges returns a copy of the cached ranges.
func (idx *RangeIndex) Ranges() []ByteRange {
	return slices.Clone(idx.ranges)
}

// ContentLength returns the best known total size of the resource.
func (idx *RangeIndex) ContentLength() int64 {
	return idx.contentLength
}

// ContentType returns the recorded content type.
func (idx *RangeIndex) ContentType() string {
	return idx.contentType
}

// setContent records the resource metadata and persists it.
func (idx *RangeIndex) setContent(contentType string, contentLength int64) error {
	idx.contentType = contentType
	idx.raiseLength(contentLength)
	return idx.save()
}

// reset drops every cached range, keeping nothing of the previous state.
func (idx *RangeIndex) reset() {
	idx.ranges = nil
	idx.contentLength = 0
	idx.contentType = ""
}

// CachedBytes returns the total number of cached bytes.
func (idx *RangeIndex) CachedBytes() int64 {
	var total int64
	for _, r := range idx.ranges {
		total += r.Len()
	}
	return total
}

// IsComplete reports whether the whole resource is cached.
func (idx *RangeIndex) IsComplete() bool {
	if idx.contentLength <= 0 || len(idx.ranges) != 1 {
		return false
	}
	return idx.ranges[0].Lower == 0 && idx.ranges[0].Upper >= idx.contentLength
}

// FirstMissing returns the first uncached offset, or -1 if the file is
// complete.
func (idx *RangeIndex) FirstMissing() int64 {
	if idx.IsComplete() {
		return -1
	}
	if len(idx.ranges) == 0 || idx.ranges[0].Lower > 0 {
		return 0
	}
	return idx.ranges[0].Upper
}

// Blocks returns a bitmap of the blkSize blocks that are fully cached. The
// last block of the resource counts as full when cached up to the content
// length.
func (idx *RangeIndex) Blocks(blkSize int64) *roaring.Bitmap {
	bm := roaring.New()
	if blkSize <= 0 {
		return bm
	}

	for _, r := range idx.ranges {
		first := (r.Lower + blkSize - 1) / blkSize
		last := r.Upper / blkSize
		if r.Upper >= idx.contentLength && idx.contentLength%blkSize != 0 {
			last++
		}
		if last > first {
			bm.AddRange(uint64(first), uint64(last))
		}
	}
	return bm
}

// BlockCount returns the number of blkSize blocks in the resource.
func (idx *RangeIndex) BlockCount(blkSize int64) int64 {
	if blkSize <= 0 {
		return 0
	}
	cnt := idx.contentLength / blkSize
	if idx.contentLength%blkSize != 0 {
		cnt += 1
	}
	return cnt
}
