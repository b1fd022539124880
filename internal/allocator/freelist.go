package allocator

import (
	"unsafe"

	"github.com/orizon-lang/orizon-heap/internal/errors"
)

// regionHeader is the in-place header of a free region, embedded at its
// first bytes (spec.md §3, §9's "tagged view over raw memory"). size is
// the total byte length of the region including this header; next is the
// codec-encoded offset of the next free region in address order, or the
// codec's end-of-list sentinel.
//
// This struct is never copied out of the backing store: every pointer to
// one is produced by engine.headerAt, an unsafe cast over the backing
// store's byte slice. That cast, plus the sentinel in the engine struct
// itself, is the entire unsafe surface of the free-list engine.
type regionHeader struct {
	size uint32
	next uint32
}

// engine is the address-ordered, singly-linked free-list allocator at
// the heart of the package (spec.md §4.3). It knows nothing about
// heap_limit or reclamation — that is driver.go's job; engine only
// implements alloc_internal and free_internal.
type engine struct {
	store      backingStore
	codec      pointerCodec
	accountant segmentAccountant // non-nil only for the segmented backend
	alignment  uintptr
	assertions bool

	head regionHeader // sentinel; size always 0, never part of a live region
	skip uintptr      // 0 means "the sentinel" (spec.md's skip cursor)

	skipHits   uint64 // freeInternal calls where skip was usable (skip != 0 && skip < addr)
	skipMisses uint64 // freeInternal calls that had to start the scan from the sentinel
}

func newEngine(store backingStore, codec pointerCodec, accountant segmentAccountant, alignment uintptr, assertions bool) *engine {
	e := &engine{
		store:      store,
		codec:      codec,
		accountant: accountant,
		alignment:  alignment,
		assertions: assertions,
	}
	e.head.next = codec.endOfList()
	return e
}

// headerAt returns a pointer to the region header at addr, or to the
// sentinel when addr == 0.
func (e *engine) headerAt(addr uintptr) *regionHeader {
	if addr == 0 {
		return &e.head
	}
	idx := addr - e.store.base()
	buf := e.store.bytes()
	return (*regionHeader)(unsafe.Pointer(&buf[idx]))
}

func (e *engine) nextAddr(h *regionHeader) uintptr {
	if h.next == e.codec.endOfList() {
		return 0
	}
	return e.codec.decode(h.next)
}

func (e *engine) setNextAddr(h *regionHeader, addr uintptr) {
	if addr == 0 {
		h.next = e.codec.endOfList()
	} else {
		h.next = e.codec.encode(addr)
	}
}

func regionEnd(addr uintptr, h *regionHeader) uintptr { return addr + uintptr(h.size) }

// initFreeSpace seeds the free list with a single region covering
// [addr, addr+size). Used once at construction for the contiguous store
// and the segmented store's initial segment.
func (e *engine) initFreeSpace(addr, size uintptr) {
	e.spliceInFreeRegion(addr, size, nil)
}

// growBy splices newly-live backing-store space (from the segmented
// store's allocateGroup) into the free list. It performs exactly the
// free_internal splice (merge with predecessor/successor) but never
// touches blocks_size, live-block count, or segment occupancy — the
// space was never allocated, so there is nothing to account for there.
func (e *engine) growBy(addr, size uintptr) {
	e.spliceInFreeRegion(addr, size, nil)
}

// shrinkTrailingSpace removes [addr, addr+size) from the tail of the
// free list, for the segmented store's releaseEmptyGroups. It is only
// ever called with a range that is the exact tail of the heap's address
// space and that is entirely free (guaranteed by the caller: occupied
// segments cannot be part of the released range), so it only has to
// handle "shrink the region whose end equals addr+size from the high
// end" (see DESIGN.md's Open Question #4 for the scope of this).
func (e *engine) shrinkTrailingSpace(addr, size uintptr) {
	end := addr + size
	predAddr := uintptr(0)
	pred := &e.head
	for {
		na := e.nextAddr(pred)
		if na == 0 {
			if e.assertions {
				panic(errors.InvariantViolation("I1", "shrinkTrailingSpace: tail free region not found"))
			}
			return
		}
		cur := e.headerAt(na)
		if regionEnd(na, cur) == end {
			if na == addr {
				e.setNextAddr(pred, 0)
			} else {
				cur.size = uint32(addr - na)
			}
			if e.skip == na || (e.skip >= addr && e.skip != 0) {
				e.skip = predAddr
			}
			return
		}
		predAddr = na
		pred = cur
	}
}

// spliceInFreeRegion implements steps 2-7 of spec.md §4.3's free
// algorithm: locate the predecessor (optionally seeded by skip, for the
// public free path), merge with predecessor and/or successor, and update
// skip. accountant distribution and blocks_size bookkeeping are the
// caller's responsibility (freeInternal does both; initFreeSpace/growBy
// do neither, since no block was ever allocated from this span).
func (e *engine) spliceInFreeRegion(addr, n uintptr, skipSeed *uintptr) {
	predAddr := uintptr(0)
	if skipSeed != nil && *skipSeed != 0 && *skipSeed < addr {
		predAddr = *skipSeed
	}
	pred := e.headerAt(predAddr)
	for {
		na := e.nextAddr(pred)
		if na == 0 || na >= addr {
			break
		}
		predAddr = na
		pred = e.headerAt(na)
	}

	nextAddrVal := e.nextAddr(pred)
	nextRaw := pred.next

	mergedAddr := addr
	if predAddr != 0 && regionEnd(predAddr, pred) == addr {
		pred.size += uint32(n)
		mergedAddr = predAddr
	} else {
		h := e.headerAt(addr)
		h.size = uint32(n)
		e.setNextAddr(pred, addr)
	}

	merged := e.headerAt(mergedAddr)
	if nextAddrVal != 0 && regionEnd(mergedAddr, merged) == nextAddrVal {
		nextHeader := e.headerAt(nextAddrVal)
		merged.size += nextHeader.size
		merged.next = nextHeader.next
	} else {
		merged.next = nextRaw
	}

	e.skip = predAddr
}

// allocInternal implements spec.md §4.3's allocate algorithm: a fast path
// for single-alignment-unit requests, then address-ordered first-fit.
// n must already be aligned. Returns (0, false) if no free region fits.
func (e *engine) allocInternal(n uintptr) (uintptr, bool) {
	if n == e.alignment {
		first := &e.head
		firstAddr := e.nextAddr(first)
		if firstAddr != 0 {
			data := e.headerAt(firstAddr)
			dataNextRaw := data.next
			if uintptr(data.size) == n {
				first.next = dataNextRaw
			} else {
				remainingAddr := firstAddr + n
				remaining := e.headerAt(remainingAddr)
				remaining.size = data.size - uint32(n)
				remaining.next = dataNextRaw
				e.setNextAddr(first, remainingAddr)
			}
			if e.skip == firstAddr {
				e.skip = e.nextAddr(first)
			}
			e.accountAlloc(firstAddr, n)
			return firstAddr, true
		}
	}

	predAddr := uintptr(0)
	pred := &e.head
	curAddr := e.nextAddr(pred)
	for curAddr != 0 {
		cur := e.headerAt(curAddr)
		curNext := e.nextAddr(cur)
		if uintptr(cur.size) >= n {
			if uintptr(cur.size) > n {
				remainingAddr := curAddr + n
				remaining := e.headerAt(remainingAddr)
				remaining.size = cur.size - uint32(n)
				remaining.next = cur.next
				e.setNextAddr(pred, remainingAddr)
			} else {
				pred.next = cur.next
			}
			e.skip = predAddr
			e.accountAlloc(curAddr, n)
			return curAddr, true
		}
		predAddr = curAddr
		pred = cur
		curAddr = curNext
	}
	return 0, false
}

func (e *engine) accountAlloc(addr, n uintptr) {
	if e.accountant != nil {
		e.accountant.distribute(addr, n, +1)
	}
}

// freeInternal implements spec.md §4.3's free algorithm: locate the
// insertion point (optionally starting from skip), merge with
// predecessor and/or successor, and update skip. n must already be
// aligned.
func (e *engine) freeInternal(addr, n uintptr) {
	if e.assertions {
		base := e.store.base()
		if addr < base || addr+n > base+e.store.capacity() {
			panic(errors.InvalidFree(addr))
		}
		if n < e.alignment || n%e.alignment != 0 {
			panic(errors.InvariantViolation("I3", "free size is not a positive multiple of Alignment"))
		}
	}
	skip := e.skip
	if skip != 0 && skip < addr {
		e.skipHits++
	} else {
		e.skipMisses++
	}
	e.spliceInFreeRegion(addr, n, &skip)
	if e.accountant != nil {
		e.accountant.distribute(addr, n, -1)
	}
}

// skipStats reports the skip-cursor hit/miss counts accumulated by
// freeInternal, for Stats' SkipHits/SkipMisses.
func (e *engine) skipStats() (hits, misses uint64) {
	return e.skipHits, e.skipMisses
}

// isWithin reports whether addr..addr+1 lies inside the store's live
// capacity, for IsHeapPointer's contiguous-backend implementation.
func (e *engine) isWithin(addr uintptr) bool {
	base := e.store.base()
	return addr >= base && addr < base+e.store.capacity()
}
