package allocator

// freelistBackend adapts the address-ordered free-list engine (the
// contiguous and segmented variants) to the backend interface driver.go
// dispatches through. segStore is nil for the contiguous variant.
type freelistBackend struct {
	store    backingStore
	engine   *engine
	segStore *segmentedStore
}

func newFreelistBackend(cfg Config) (*freelistBackend, error) {
	if cfg.Backing == BackingSegmented {
		store, err := newSegmentedStore(cfg)
		if err != nil {
			return nil, err
		}
		codec := newMultiBaseCodec(store, cfg.SegmentSize, cfg.Alignment, cfg.CompressedPointerWidth)
		eng := newEngine(store, codec, store, cfg.Alignment, cfg.EnableDebugAssertions)
		eng.initFreeSpace(store.base(), store.capacity())
		return &freelistBackend{store: store, engine: eng, segStore: store}, nil
	}

	store, err := newContiguousStore(cfg)
	if err != nil {
		return nil, err
	}
	codec := newSingleBaseCodec(store.base(), cfg.Alignment, cfg.CompressedPointerWidth)
	eng := newEngine(store, codec, nil, cfg.Alignment, cfg.EnableDebugAssertions)
	eng.initFreeSpace(store.base(), store.capacity())
	return &freelistBackend{store: store, engine: eng}, nil
}

func (b *freelistBackend) allocRaw(n uintptr, _ bool) (uintptr, bool) { return b.engine.allocInternal(n) }

func (b *freelistBackend) freeRaw(addr, n uintptr, _ bool) { b.engine.freeInternal(addr, n) }

func (b *freelistBackend) growOnExhaustion(n uintptr) bool {
	if b.segStore == nil {
		return false
	}
	newBase, newSize, ok := b.segStore.allocateGroup(n)
	if !ok {
		return false
	}
	b.engine.growBy(newBase, newSize)
	return true
}

func (b *freelistBackend) releaseEmpty() {
	if b.segStore == nil {
		return
	}
	for {
		base, size, ok := b.segStore.releaseEmptyGroups()
		if !ok {
			return
		}
		b.engine.shrinkTrailingSpace(base, size)
	}
}

func (b *freelistBackend) isHeapPointer(addr uintptr) bool {
	if b.segStore == nil {
		return b.engine.isWithin(addr)
	}
	base := b.segStore.base()
	if addr < base {
		return false
	}
	idx := int((addr - base) / b.segStore.segSize)
	if idx < 0 || idx >= len(b.segStore.segments) {
		return false
	}
	seg := b.segStore.segments[idx]
	return seg.live && addr < base+uintptr(idx+1)*b.segStore.segSize
}

func (b *freelistBackend) capacity() uintptr  { return b.store.capacity() }
func (b *freelistBackend) hardLimit() uintptr { return b.store.hardLimit() }
func (b *freelistBackend) teardown() error    { return b.store.teardown() }

// skipStats implements the optional skipStatsReporter interface (driver.go)
// so Stats can report whether the skip cursor is earning its keep.
func (b *freelistBackend) skipStats() (hits, misses uint64) { return b.engine.skipStats() }
