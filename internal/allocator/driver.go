package allocator

import "github.com/orizon-lang/orizon-heap/internal/errors"

// backend is the variant-dispatch abstraction spec.md §9 calls for:
// "prefer an abstraction with variant dispatch over conditional
// compilation; the GC-and-limit driver should depend only on the
// abstraction." Heap never branches on Config.Backing itself — it asks
// the backend to grow, release, or report a pointer as in-heap, and each
// of the four backends answers according to its own variant.
type backend interface {
	allocRaw(n uintptr, small bool) (uintptr, bool)
	freeRaw(addr, n uintptr, small bool)
	// growOnExhaustion is called when allocRaw fails; a backend that can
	// grow its backing store (the segmented free-list backend) attempts
	// to and reports whether a retry might now succeed. Backends with no
	// fixed capacity (passthrough, emulated-dynamic) always return false
	// — there is nothing to grow, because allocRaw does not fail for them
	// short of true host-OS exhaustion.
	growOnExhaustion(n uintptr) bool
	// releaseEmpty gives back any backing-store capacity that is no
	// longer needed (segmented: trailing empty segment groups). A no-op
	// for backends without grow/shrink semantics.
	releaseEmpty()
	isHeapPointer(addr uintptr) bool
	capacity() uintptr
	hardLimit() uintptr
	teardown() error
}

// Heap is the GC-and-limit driver of spec.md §4.4: the public surface
// wrapping one of the four backends. It is the per-allocator context
// spec.md §3 and §9 describe — explicit, passed around by the caller,
// never a package-level global (unlike the teacher's GlobalAllocator).
type Heap struct {
	cfg        Config
	backend    backend
	blocksSize uintptr
	liveBlocks uint64
	heapLimit  uintptr
	stats      Stats
	torn       bool
}

// NewHeap constructs and initializes a Heap (spec.md §6's init()).
func NewHeap(cfg Config) (*Heap, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MinHeapLimit == 0 {
		cfg.MinHeapLimit = cfg.DesiredLimitStep
	}

	var b backend
	var err error
	switch cfg.Backing {
	case BackingContiguous, BackingSegmented:
		b, err = newFreelistBackend(cfg)
	case BackingSystemPassthrough:
		b = newPassthroughBackend(cfg)
	case BackingEmulatedDynamic:
		b = newEmulatedDynamicBackend(cfg)
	default:
		err = errors.InvalidSize(uintptr(cfg.Backing), "Config.Backing")
	}
	if err != nil {
		return nil, err
	}

	return &Heap{
		cfg:       cfg,
		backend:   b,
		heapLimit: cfg.MinHeapLimit,
	}, nil
}

// Teardown releases all backing memory (spec.md §6's teardown()). No
// other method may be called afterward.
func (h *Heap) Teardown() error {
	if h.torn {
		return nil
	}
	h.torn = true
	return h.backend.teardown()
}

func alignUp(size, alignment uintptr) uintptr {
	return (size + alignment - 1) &^ (alignment - 1)
}

// TryAlloc implements spec.md §4.4's alloc protocol, returning (0, false)
// instead of invoking the fatal handler on final failure.
func (h *Heap) TryAlloc(size uintptr) (uintptr, bool) {
	return h.tryAlloc(size, false)
}

// AllocSmall is the alloc_small hint from spec.md §6: a request the
// caller marks as small, letting an emulated-dynamic backend route it
// through its slab pool, bypassing per-block metadata accounting.
func (h *Heap) AllocSmall(size uintptr) uintptr {
	addr, ok := h.tryAlloc(size, true)
	if !ok {
		h.fatal(size)
	}
	return addr
}

func (h *Heap) tryAlloc(size uintptr, small bool) (uintptr, bool) {
	if size == 0 {
		return 0, false
	}
	n := alignUp(size, h.cfg.Alignment)

	if h.cfg.GCBeforeEachAlloc {
		h.reclaim(SeverityHigh)
	}

	limit := h.heapLimit
	if h.cfg.LazyGC {
		limit = h.backend.hardLimit()
	}
	if h.blocksSize+n > limit {
		h.reclaim(SeverityLow)
	}

	if addr, ok := h.backend.allocRaw(n, small); ok {
		h.onAllocSuccess(addr, n, size)
		return addr, true
	}

	if h.backend.growOnExhaustion(n) {
		if addr, ok := h.backend.allocRaw(n, small); ok {
			h.onAllocSuccess(addr, n, size)
			return addr, true
		}
	}

	for _, sev := range [...]Severity{SeverityLow, SeverityMedium, SeverityHigh} {
		h.reclaim(sev)
		if addr, ok := h.backend.allocRaw(n, small); ok {
			h.onAllocSuccess(addr, n, size)
			return addr, true
		}
	}

	if h.backend.growOnExhaustion(n) {
		if addr, ok := h.backend.allocRaw(n, small); ok {
			h.onAllocSuccess(addr, n, size)
			return addr, true
		}
	}

	return 0, false
}

func (h *Heap) onAllocSuccess(addr, n, requested uintptr) {
	h.blocksSize += n
	h.liveBlocks++
	h.stats.recordAlloc(n, requested)
	for h.blocksSize >= h.heapLimit {
		h.heapLimit += h.cfg.DesiredLimitStep
	}
}

func (h *Heap) reclaim(sev Severity) {
	if h.cfg.Reclaim == nil {
		return
	}
	h.stats.ReclaimCount++
	h.cfg.Reclaim(sev)
}

// Alloc implements spec.md §6's alloc(size) -> address, fatal on OOM.
func (h *Heap) Alloc(size uintptr) uintptr {
	addr, ok := h.tryAlloc(size, false)
	if !ok {
		h.fatal(size)
	}
	return addr
}

func (h *Heap) fatal(size uintptr) {
	h.stats.FatalCount++
	if h.cfg.Fatal != nil {
		h.cfg.Fatal(size)
	}
	// The fatal handler must not return (spec.md §6); if a caller-supplied
	// one violates that contract, fail loudly rather than hand back a
	// zero address that looks like a successful allocation of nothing.
	panic(errors.OutOfMemory(size))
}

// Free implements spec.md §4.4's free protocol.
func (h *Heap) Free(addr, size uintptr) {
	h.free(addr, size, false)
}

// FreeSmall is the free_small counterpart to AllocSmall.
func (h *Heap) FreeSmall(addr, size uintptr) {
	h.free(addr, size, true)
}

func (h *Heap) free(addr, size uintptr, small bool) {
	if size == 0 {
		// B1: free(ptr, 0) is a documented no-op, not undefined.
		return
	}
	n := alignUp(size, h.cfg.Alignment)
	h.backend.freeRaw(addr, n, small)

	h.blocksSize -= n
	if h.liveBlocks > 0 {
		h.liveBlocks--
	}
	h.stats.recordFree(n, size)

	h.backend.releaseEmpty()

	for h.heapLimit > h.cfg.MinHeapLimit && h.blocksSize+h.cfg.DesiredLimitStep <= h.heapLimit {
		h.heapLimit -= h.cfg.DesiredLimitStep
	}
}

// IsHeapPointer is the debug-only predicate from spec.md §6, resolved
// (not left "not yet implemented") per DESIGN.md's Open Question #1.
func (h *Heap) IsHeapPointer(addr uintptr) bool {
	return h.backend.isHeapPointer(addr)
}

// skipStatsReporter is implemented by backends that maintain a skip
// cursor (currently only the free-list backend, contiguous and
// segmented alike). Stats reports zero for backends without one.
type skipStatsReporter interface {
	skipStats() (hits, misses uint64)
}

// Stats returns an observer-only snapshot (spec.md §6's stats()).
func (h *Heap) Stats() Stats {
	snap := h.stats
	snap.Size = h.backend.capacity()
	snap.HeapLimit = h.heapLimit
	snap.Allocated = h.blocksSize
	snap.LiveBlocks = h.liveBlocks
	if r, ok := h.backend.(skipStatsReporter); ok {
		snap.SkipHits, snap.SkipMisses = r.skipStats()
	}
	return snap
}

// leakLister is implemented by backends that can enumerate still-live
// blocks (the system-passthrough backend, adapted from the teacher's
// SystemAllocatorImpl.FormatLeaks, and the emulated-dynamic backend,
// which adds its slab-held blocks to its fallback's). DebugLeaks reports an
// empty slice for backends that don't implement it.
type leakLister interface {
	liveAddresses() []uintptr
}

// DebugLeaks lists addresses of blocks that are still allocated. Intended
// for use at/after Teardown in tests, not on the hot path.
func (h *Heap) DebugLeaks() []uintptr {
	if l, ok := h.backend.(leakLister); ok {
		return l.liveAddresses()
	}
	return nil
}
