package streamcache

import (
	"math/rand"
	"slices"
	"testing"
)

func TestInsertMerges(t *testing.T) {
	tests := []struct {
		name   string
		insert []ByteRange
		want   []ByteRange
	}{
		{"single", []ByteRange{{0, 100}}, []ByteRange{{0, 100}}},
		{"disjoint", []ByteRange{{150, 200}, {0, 100}}, []ByteRange{{0, 100}, {150, 200}}},
		{"adjacent", []ByteRange{{0, 100}, {100, 200}}, []ByteRange{{0, 200}}},
		{"overlap", []ByteRange{{0, 100}, {50, 150}}, []ByteRange{{0, 150}}},
		{"contained", []ByteRange{{0, 200}, {50, 60}}, []ByteRange{{0, 200}}},
		{"bridge", []ByteRange{{0, 10}, {20, 30}, {40, 50}, {5, 45}}, []ByteRange{{0, 50}}},
		{"empty ignored", []ByteRange{{10, 10}, {30, 20}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewRangeIndex()
			for _, r := range tt.insert {
				if err := idx.Insert(r); err != nil {
					t.Fatalf("Insert(%s) failed: %v", r, err)
				}
			}
			if got := idx.Ranges(); !slices.Equal(got, tt.want) {
				t.Errorf("Ranges() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInsertOrderIndependent(t *testing.T) {
	var input []ByteRange
	for i := int64(0); i < 50; i++ {
		input = append(input, ByteRange{Lower: i * 20, Upper: i*20 + 10 + i%3*5})
	}

	ref := NewRangeIndex()
	for _, r := range input {
		ref.Insert(r)
	}

	rnd := rand.New(rand.NewSource(1))
	for round := 0; round < 20; round++ {
		rnd.Shuffle(len(input), func(i, j int) { input[i], input[j] = input[j], input[i] })

		idx := NewRangeIndex()
		for _, r := range input {
			idx.Insert(r)
		}
		if !slices.Equal(idx.Ranges(), ref.Ranges()) {
			t.Fatalf("round %d: got %v, want %v", round, idx.Ranges(), ref.Ranges())
		}
		checkNormalized(t, idx)
	}
}

func checkNormalized(t *testing.T, idx *RangeIndex) {
	t.Helper()

	rs := idx.Ranges()
	for i, r := range rs {
		if r.IsEmpty() {
			t.Fatalf("range %d %s is empty", i, r)
		}
		if i > 0 && rs[i-1].Upper >= r.Lower {
			t.Fatalf("ranges %s and %s overlap or touch", rs[i-1], r)
		}
	}
}

func TestQueryCovered(t *testing.T) {
	idx := NewRangeIndex()
	idx.Insert(ByteRange{0, 100})
	idx.Insert(ByteRange{150, 200})

	tests := []struct {
		req     ByteRange
		covered ByteRange
		gap     ByteRange
	}{
		{ByteRange{0, 180}, ByteRange{0, 100}, ByteRange{100, 150}},
		{ByteRange{0, 100}, ByteRange{0, 100}, ByteRange{}},
		{ByteRange{20, 50}, ByteRange{20, 50}, ByteRange{}},
		{ByteRange{50, 120}, ByteRange{50, 100}, ByteRange{100, 150}},
		{ByteRange{160, 300}, ByteRange{160, 200}, ByteRange{200, 300}},
		// start not cached: whole request is the gap
		{ByteRange{100, 180}, ByteRange{}, ByteRange{100, 180}},
		{ByteRange{300, 400}, ByteRange{}, ByteRange{300, 400}},
	}

	for _, tt := range tests {
		cov := idx.QueryCovered(tt.req)
		if cov.Covered.Len() != tt.covered.Len() || (tt.covered.Len() > 0 && cov.Covered != tt.covered) {
			t.Errorf("QueryCovered(%s) covered = %s, want %s", tt.req, cov.Covered, tt.covered)
		}
		if cov.Gap.Len() != tt.gap.Len() || (tt.gap.Len() > 0 && cov.Gap != tt.gap) {
			t.Errorf("QueryCovered(%s) gap = %s, want %s", tt.req, cov.Gap, tt.gap)
		}
	}
}

func TestQueryCoveredClampsToContentLength(t *testing.T) {
	idx := NewRangeIndex()
	idx.Insert(ByteRange{0, 100})
	idx.setContent("video/mp4", 1000)

	cov := idx.QueryCovered(ByteRange{50, 5000})
	if cov.Gap != (ByteRange{100, 1000}) {
		t.Errorf("gap = %s, want [100,1000)", cov.Gap)
	}
}

func TestIsFullyCovered(t *testing.T) {
	idx := NewRangeIndex()
	idx.Insert(ByteRange{100, 400})

	if !idx.IsFullyCovered(ByteRange{100, 300}, 200) {
		t.Error("[100,300) should be covered")
	}
	if !idx.IsFullyCovered(ByteRange{200, 400}, 200) {
		t.Error("[200,400) should be covered")
	}
	if idx.IsFullyCovered(ByteRange{300, 500}, 200) {
		t.Error("[300,500) should not be covered")
	}
	if idx.IsFullyCovered(ByteRange{50, 250}, 200) {
		t.Error("[50,250) should not be covered")
	}
}

func TestContentLengthNeverDecreases(t *testing.T) {
	idx := NewRangeIndex()
	idx.setContent("video/mp4", 1000)
	idx.Insert(ByteRange{0, 1200})
	idx.setContent("video/mp4", 500)

	if got := idx.ContentLength(); got != 1200 {
		t.Errorf("ContentLength() = %d, want 1200", got)
	}
}

func TestBlocks(t *testing.T) {
	idx := NewRangeIndex()
	idx.setContent("video/mp4", 1050)
	idx.Insert(ByteRange{0, 250})
	idx.Insert(ByteRange{350, 500})
	idx.Insert(ByteRange{900, 1050})

	bm := idx.Blocks(100)
	for _, blk := range []uint32{0, 1, 4, 9, 10} {
		if !bm.Contains(blk) {
			t.Errorf("block %d should be complete", blk)
		}
	}
	for _, blk := range []uint32{2, 3, 5, 8} {
		if bm.Contains(blk) {
			t.Errorf("block %d should not be complete", blk)
		}
	}
	if got := idx.BlockCount(100); got != 11 {
		t.Errorf("BlockCount(100) = %d, want 11", got)
	}
}

func TestFirstMissing(t *testing.T) {
	idx := NewRangeIndex()
	idx.setContent("video/mp4", 300)
	if got := idx.FirstMissing(); got != 0 {
		t.Errorf("FirstMissing() = %d, want 0", got)
	}

	idx.Insert(ByteRange{0, 120})
	if got := idx.FirstMissing(); got != 120 {
		t.Errorf("FirstMissing() = %d, want 120", got)
	}

	idx.Insert(ByteRange{120, 300})
	if !idx.IsComplete() {
		t.Error("index should be complete")
	}
	if got := idx.FirstMissing(); got != -1 {
		t.Errorf("FirstMissing() = %d, want -1", got)
	}
}
