package allocator

import "github.com/orizon-lang/orizon-heap/internal/errors"

// backingStore owns the raw memory the free-list engine carves blocks
// and free regions out of. Two implementations: contiguousStore and
// segmentedStore. Grounded on spec.md §4.2.
type backingStore interface {
	// base is the address of byte 0 of the store's reserved range.
	base() uintptr
	// bytes is a view over the entire reserved range (including any
	// not-yet-live segments, for the segmented variant).
	bytes() []byte
	// capacity is the currently usable size: HeapSize for contiguous,
	// live-segment-count*SegmentSize for segmented.
	capacity() uintptr
	// hardLimit is the absolute ceiling capacity can grow to (equal to
	// capacity() for contiguous; MaxSegments*SegmentSize for segmented).
	hardLimit() uintptr
	// teardown releases all backing memory. No method may be called
	// afterward.
	teardown() error
}

// segmentAccountant is implemented by backing stores that track
// per-segment occupancy (only segmentedStore). The free-list engine
// calls distribute after every successful alloc/free so that
// Σ occupied_size == blocks_size (invariant I5) holds continuously.
type segmentAccountant interface {
	distribute(addr uintptr, n uintptr, delta int)
}

// ---- contiguous ----

type contiguousStore struct {
	region *rawRegion
	size   uintptr
}

func newContiguousStore(cfg Config) (*contiguousStore, error) {
	region, err := reserveRaw(cfg.HeapSize)
	if err != nil {
		return nil, err
	}
	return &contiguousStore{region: region, size: cfg.HeapSize}, nil
}

func (s *contiguousStore) base() uintptr     { return s.region.base }
func (s *contiguousStore) bytes() []byte     { return s.region.bytes() }
func (s *contiguousStore) capacity() uintptr { return s.size }
func (s *contiguousStore) hardLimit() uintptr { return s.size }
func (s *contiguousStore) teardown() error   { return s.region.release() }

// ---- segmented ----

// segmentMeta is the per-segment metadata record from spec.md §3.
type segmentMeta struct {
	live     bool
	occupied uintptr
}

// segmentedStore reserves one contiguous mmap covering
// MaxSegments*SegmentSize bytes up front (see DESIGN.md's Open Question
// #2) and tracks, per segment, whether it is "live" (counted as part of
// capacity() and addressable by the free list) and its occupied_size.
// Only a trailing run of live segments above index 0 is ever released;
// see DESIGN.md's Open Question #4.
type segmentedStore struct {
	region     *rawRegion
	segSize    uintptr
	segments   []segmentMeta
	liveCount  int
	assertions bool
}

func newSegmentedStore(cfg Config) (*segmentedStore, error) {
	total := cfg.SegmentSize * uintptr(cfg.MaxSegments)
	region, err := reserveRaw(total)
	if err != nil {
		return nil, err
	}
	segments := make([]segmentMeta, cfg.MaxSegments)
	segments[0] = segmentMeta{live: true, occupied: 0}
	return &segmentedStore{
		region:     region,
		segSize:    cfg.SegmentSize,
		segments:   segments,
		liveCount:  1,
		assertions: cfg.EnableDebugAssertions,
	}, nil
}

func (s *segmentedStore) base() uintptr      { return s.region.base }
func (s *segmentedStore) bytes() []byte      { return s.region.bytes() }
func (s *segmentedStore) capacity() uintptr  { return uintptr(s.liveCount) * s.segSize }
func (s *segmentedStore) hardLimit() uintptr { return uintptr(len(s.segments)) * s.segSize }
func (s *segmentedStore) teardown() error    { return s.region.release() }

// segmentBase implements segmentBaseLookup for multiBaseCodec.
func (s *segmentedStore) segmentBase(index int) uintptr {
	return s.base() + uintptr(index)*s.segSize
}

func (s *segmentedStore) segmentIndexOf(addr uintptr) int {
	return int((addr - s.base()) / s.segSize)
}

// distribute implements segmentAccountant: a block of n bytes starting at
// addr may straddle several segments; add (delta>0) or subtract
// (delta<0) each segment's own share of n to/from its occupied_size.
// Grounded on jmem-heap.c's fragment_start_offset/fragment_end_offset
// loop in jmem_heap_alloc_block_internal_slow / jmem_heap_free_block_internal.
func (s *segmentedStore) distribute(addr uintptr, n uintptr, delta int) {
	end := addr + n
	idx := s.segmentIndexOf(addr)
	for cur := addr; cur < end; idx++ {
		segEnd := s.segmentBase(idx) + s.segSize
		fragEnd := segEnd
		if fragEnd > end {
			fragEnd = end
		}
		share := fragEnd - cur
		if delta > 0 {
			s.segments[idx].occupied += share
		} else {
			s.segments[idx].occupied -= share
		}
		if s.assertions && (s.segments[idx].occupied > s.segSize) {
			panic(errors.InvariantViolation("I5", "segment occupied_size exceeds segment size"))
		}
		cur = fragEnd
	}
}

// allocateGroup grows the live segment count by enough contiguous new
// segments (appended at the lowest free indices, i.e. right after the
// current tail) to fit a block of needBytes. Returns the byte range of
// newly-live space so the caller (freelistBackend.growOnExhaustion in
// backend_freelist.go) can splice it into the free
// list, and false if MaxSegments would be exceeded.
func (s *segmentedStore) allocateGroup(needBytes uintptr) (newBase, newSize uintptr, ok bool) {
	segsNeeded := int((needBytes + s.segSize - 1) / s.segSize)
	if segsNeeded < 1 {
		segsNeeded = 1
	}
	if s.liveCount+segsNeeded > len(s.segments) {
		return 0, 0, false
	}
	start := s.liveCount
	for i := start; i < start+segsNeeded; i++ {
		s.segments[i] = segmentMeta{live: true, occupied: 0}
	}
	s.liveCount += segsNeeded
	return s.segmentBase(start), uintptr(segsNeeded) * s.segSize, true
}

// releaseEmptyGroups frees the trailing run of live, empty (occupied==0)
// segments above index 0, decommitting their pages. Returns the byte
// range released (for the caller to remove from the free list) and
// whether anything was released.
func (s *segmentedStore) releaseEmptyGroups() (releasedBase, releasedSize uintptr, ok bool) {
	end := s.liveCount
	start := end
	for start > 1 && s.segments[start-1].live && s.segments[start-1].occupied == 0 {
		start--
	}
	if start == end {
		return 0, 0, false
	}
	for i := start; i < end; i++ {
		s.segments[i] = segmentMeta{}
	}
	base := s.segmentBase(start)
	size := uintptr(end-start) * s.segSize
	_ = s.region.decommit(base-s.base(), size)
	s.liveCount = start
	return base, size, true
}
