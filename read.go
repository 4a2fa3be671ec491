package streamcache

import (
	"io"
)

// ReadRange returns the cached prefix of [off, off+length) along with the
// range that still has to be fetched. When the first byte isn't cached, or
// the store is not initialized, no data is returned and the gap is the
// whole request.
//
// The returned data never extends past the actual size of the data file, so
// a file that was not completely flushed before a crash is tolerated.
func (s *Store) ReadRange(off, length int64) ([]byte, ByteRange) {
	req := ByteRange{Lower: off, Upper: off + length}

	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.initialized || s.closed {
		return nil, req
	}

	cov := s.index.QueryCovered(req)
	if !cov.HasCovered() {
		return nil, req
	}

	upper := cov.Covered.Upper
	if st, err := s.local.Stat(); err == nil && st.Size() < upper {
		upper = st.Size()
	}
	if upper <= off {
		return nil, req
	}

	buf := make([]byte, upper-off)
	n, err := s.local.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, req
	}
	buf = buf[:n]

	gap := cov.Gap
	if end := off + int64(n); end < cov.Covered.Upper {
		// short read, refetch what we couldn't get back
		gap.Lower = end
		if gap.IsEmpty() {
			gap.Upper = req.Upper
		}
	}
	return buf, gap
}

// Coverage reports how much of [off, off+length) is cached at off without
// reading any data.
func (s *Store) Coverage(off, length int64) Coverage {
	req := ByteRange{Lower: off, Upper: off + length}

	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.initialized || s.closed {
		return Coverage{Gap: req}
	}
	return s.index.QueryCovered(req)
}

// HasCache reports whether [off, off+length) is entirely cached.
func (s *Store) HasCache(off, length int64) bool {
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.initialized || s.closed || length <= 0 {
		return false
	}
	return s.index.IsFullyCovered(ByteRange{Lower: off, Upper: off + length}, length)
}

// Stats summarizes the cache state of the resource.
type Stats struct {
	ContentLength int64
	ContentType   string
	CachedBytes   int64
	Ranges        int
	BlockSize     int64
	Blocks        uint64 // fully cached blocks
	TotalBlocks   int64
	Complete      bool
	FirstMissing  int64
}

// Stats returns a summary of the cache contents, counting blocks of blkSize
// bytes.
func (s *Store) Stats(blkSize int64) Stats {
	s.lk.RLock()
	defer s.lk.RUnlock()

	return s.index.Stats(blkSize)
}

// Stats summarizes the index, counting blocks of blkSize bytes.
func (idx *RangeIndex) Stats(blkSize int64) Stats {
	return Stats{
		ContentLength: idx.contentLength,
		ContentType:   idx.contentType,
		CachedBytes:   idx.CachedBytes(),
		Ranges:        len(idx.ranges),
		BlockSize:     blkSize,
		Blocks:        idx.Blocks(blkSize).GetCardinality(),
		TotalBlocks:   idx.BlockCount(blkSize),
		Complete:      idx.IsComplete(),
		FirstMissing:  idx.FirstMissing(),
	}
}
