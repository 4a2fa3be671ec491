package streamcache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
)

// segmentsRecord is the on-disk form of a RangeIndex. The whole record is
// rewritten on every change.
type segmentsRecord struct {
	Segments      []ByteRange `json:"CachedSegmentRanges"`
	ContentLength int64       `json:"contentLength"`
	ContentType   string      `json:"contentType"`
}

// LoadRangeIndex restores an index from the metadata record at path. A
// missing record yields an empty index. A record that cannot be read or
// decoded also yields an empty, usable index, together with a
// *PersistenceError describing the problem.
func LoadRangeIndex(path string) (*RangeIndex, error) {
	idx := &RangeIndex{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return idx, &PersistenceError{Op: "load", Path: path, Err: err}
	}

	var rec segmentsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return idx, &PersistenceError{Op: "decode", Path: path, Err: err}
	}

	// re-insert instead of trusting the stored order, so a hand-edited or
	// stale record still yields a valid index
	for _, r := range rec.Segments {
		idx.insert(r)
	}
	idx.raiseLength(rec.ContentLength)
	idx.contentType = rec.ContentType
	if idx.contentType == "" && idx.contentLength > 0 {
		idx.contentType = DefaultContentType
	}

	return idx, nil
}

// SavePath returns where the index is persisted, or "" if it lives in memory.
func (idx *RangeIndex) SavePath() string {
	return idx.path
}

func (idx *RangeIndex) save() error {
	if idx.path == "" {
		return nil
	}

	rec := segmentsRecord{
		Segments:      idx.ranges,
		ContentLength: idx.contentLength,
		ContentType:   idx.contentType,
	}
	if rec.Segments == nil {
		rec.Segments = []ByteRange{}
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return &PersistenceError{Op: "encode", Path: idx.path, Err: err}
	}

	tmp := idx.path + ".w"

	out, err := os.Create(tmp)
	if err != nil {
		return &PersistenceError{Op: "save", Path: idx.path, Err: err}
	}

	_, err = out.Write(buf)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return &PersistenceError{Op: "save", Path: idx.path, Err: err}
	}

	if err := os.Rename(tmp, idx.path); err != nil {
		os.Remove(tmp)
		return &PersistenceError{Op: "save", Path: idx.path, Err: err}
	}
	return nil
}
