package allocator

import "math/bits"

// pointerCodec encodes a live address inside the backing store as a
// compact offset and decodes it back. Two implementations: singleBaseCodec
// (contiguous backing store) and multiBaseCodec (segmented backing
// store). Grounded on spec.md §4.1 and on the compress/decompress pair in
// original_source's jmem-heap.c (static_compress_pointer_internal /
// static_decompress_pointer_internal), generalized to the shifted-by-A
// encoding spec.md §4.1 calls for.
//
// Encoded offsets are a distinct semantic type from native addresses on
// purpose (spec.md §9): nothing outside this file ever does arithmetic on
// a raw uint32 offset.
type pointerCodec interface {
	// encode returns the compressed offset for addr, or endOfList() if
	// addr is the zero value meaning "no pointer".
	encode(addr uintptr) uint32
	// decode returns the address for a previously encoded offset, or 0
	// (meaning "no pointer") for endOfList().
	decode(off uint32) uintptr
	// endOfList is the reserved sentinel value, 2^W - 1.
	endOfList() uint32
}

func alignLog2(alignment uintptr) uint {
	return uint(bits.TrailingZeros(uint(alignment)))
}

func endOfListForWidth(width uint) uint32 {
	return uint32((uint64(1) << width) - 1)
}

// singleBaseCodec implements offset = (address - base) >> log2(A).
type singleBaseCodec struct {
	base     uintptr
	alignLog uint
	eol      uint32
}

func newSingleBaseCodec(base uintptr, alignment uintptr, width uint) *singleBaseCodec {
	return &singleBaseCodec{base: base, alignLog: alignLog2(alignment), eol: endOfListForWidth(width)}
}

func (c *singleBaseCodec) encode(addr uintptr) uint32 {
	if addr == 0 {
		return c.eol
	}
	rel := addr - c.base
	return uint32(rel >> c.alignLog)
}

func (c *singleBaseCodec) decode(off uint32) uintptr {
	if off == c.eol {
		return 0
	}
	return c.base + (uintptr(off) << c.alignLog)
}

func (c *singleBaseCodec) endOfList() uint32 { return c.eol }

// segmentBaseLookup resolves a segment index to its base address. The
// segmented backing store implements this over its segment table.
type segmentBaseLookup interface {
	segmentBase(index int) uintptr
}

// multiBaseCodec implements offset = segment_index*segUnits + intraUnits,
// where segUnits = S >> log2(A). segment_index = offset / segUnits,
// intra = offset mod segUnits; the real address is
// segmentBase(segment_index) + intraUnits<<log2(A).
type multiBaseCodec struct {
	segments segmentBaseLookup
	segUnits uint32 // SegmentSize expressed in units of A
	alignLog uint
	eol      uint32
}

func newMultiBaseCodec(segments segmentBaseLookup, segmentSize, alignment uintptr, width uint) *multiBaseCodec {
	return &multiBaseCodec{
		segments: segments,
		segUnits: uint32(segmentSize >> alignLog2(alignment)),
		alignLog: alignLog2(alignment),
		eol:      endOfListForWidth(width),
	}
}

// encodeInSegment encodes an address whose segment index and
// intra-segment byte offset are already known, with no lookup over the
// segment table. encode calls it once its search has found the segment.
func (c *multiBaseCodec) encodeInSegment(segIndex int, intraBytes uintptr) uint32 {
	intraUnits := uint32(intraBytes >> c.alignLog)
	return uint32(segIndex)*c.segUnits + intraUnits
}

func (c *multiBaseCodec) encode(addr uintptr) uint32 {
	if addr == 0 {
		return c.eol
	}
	// Linear search over segments; the free-list engine encodes every
	// link through this path, and only encodeInSegment skips the search.
	for i := 0; ; i++ {
		base := c.segments.segmentBase(i)
		segSizeBytes := uintptr(c.segUnits) << c.alignLog
		if addr >= base && addr < base+segSizeBytes {
			return c.encodeInSegment(i, addr-base)
		}
		if i > 1<<20 {
			// Defensive bound; a well-formed segment table never
			// triggers this.
			return c.eol
		}
	}
}

func (c *multiBaseCodec) decode(off uint32) uintptr {
	if off == c.eol {
		return 0
	}
	segIndex := int(off / c.segUnits)
	intraUnits := off % c.segUnits
	return c.segments.segmentBase(segIndex) + (uintptr(intraUnits) << c.alignLog)
}

func (c *multiBaseCodec) endOfList() uint32 { return c.eol }
