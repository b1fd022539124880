package allocator

import "testing"

// newTestEngine builds a bare engine directly over a contiguous store,
// bypassing Heap/driver.go, so these tests exercise alloc_internal/
// free_internal in isolation (spec.md §4.3), matching §8's scenarios
// S1/S2 and properties P1-P4.
func newTestEngine(t *testing.T, heapSize, alignment uintptr) (*engine, *contiguousStore) {
	t.Helper()
	cfg := Config{HeapSize: heapSize, Alignment: alignment, CompressedPointerWidth: 16, EnableDebugAssertions: true}
	store, err := newContiguousStore(cfg)
	if err != nil {
		t.Fatalf("newContiguousStore: %v", err)
	}
	codec := newSingleBaseCodec(store.base(), alignment, cfg.CompressedPointerWidth)
	e := newEngine(store, codec, nil, alignment, true)
	e.initFreeSpace(store.base(), store.capacity())
	return e, store
}

func freeListSizes(t *testing.T, e *engine) []uintptr {
	t.Helper()
	var sizes []uintptr
	addr := e.nextAddr(&e.head)
	for addr != 0 {
		h := e.headerAt(addr)
		sizes = append(sizes, uintptr(h.size))
		addr = e.nextAddr(h)
	}
	return sizes
}

func TestEngineScenarioS1(t *testing.T) {
	e, store := newTestEngine(t, 64, 8)
	base := store.base()

	if got := freeListSizes(t, e); len(got) != 1 || got[0] != 64 {
		t.Fatalf("initial free list = %v, want [64]", got)
	}

	addr, ok := e.allocInternal(8)
	if !ok || addr != base {
		t.Fatalf("allocInternal(8) = (%#x, %v), want (%#x, true)", addr, ok, base)
	}
	if got := freeListSizes(t, e); len(got) != 1 || got[0] != 56 {
		t.Fatalf("free list after alloc = %v, want [56]", got)
	}

	e.freeInternal(addr, 8)
	if got := freeListSizes(t, e); len(got) != 1 || got[0] != 64 {
		t.Fatalf("free list after free = %v, want [64]", got)
	}
}

func TestEngineScenarioS2(t *testing.T) {
	e, store := newTestEngine(t, 64, 8)
	base := store.base()

	a0, ok := e.allocInternal(16)
	if !ok || a0 != base {
		t.Fatalf("alloc 16 -> (%#x,%v), want base", a0, ok)
	}
	a1, ok := e.allocInternal(8)
	if !ok || a1 != base+16 {
		t.Fatalf("alloc 8 -> (%#x,%v), want base+16", a1, ok)
	}
	a2, ok := e.allocInternal(16)
	if !ok || a2 != base+24 {
		t.Fatalf("alloc 16 -> (%#x,%v), want base+24", a2, ok)
	}

	e.freeInternal(a1, 8) // [16..24) size 8, [40..64) size 24
	if got := freeListSizes(t, e); len(got) != 2 || got[0] != 8 || got[1] != 24 {
		t.Fatalf("after free(a1): %v, want [8 24]", got)
	}

	e.freeInternal(a0, 16) // merges with [16..24) into [0..24)
	if got := freeListSizes(t, e); len(got) != 2 || got[0] != 24 || got[1] != 24 {
		t.Fatalf("after free(a0): %v, want [24 24]", got)
	}

	e.freeInternal(a2, 16) // [0..24) and [40..64) coalesce into [0..64)
	if got := freeListSizes(t, e); len(got) != 1 || got[0] != 64 {
		t.Fatalf("after free(a2): %v, want [64]", got)
	}
}

func TestEngineFastPathB3(t *testing.T) {
	e, store := newTestEngine(t, 64, 8)
	base := store.base()

	for i := 0; i < 8; i++ {
		addr, ok := e.allocInternal(8)
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		if want := base + uintptr(i)*8; addr != want {
			t.Fatalf("alloc %d = %#x, want %#x (fast path must proceed low-to-high)", i, addr, want)
		}
	}
	if got := freeListSizes(t, e); len(got) != 0 {
		t.Fatalf("free list after exhausting heap = %v, want empty", got)
	}
	if _, ok := e.allocInternal(8); ok {
		t.Fatalf("alloc on exhausted heap should fail")
	}
}

func TestEngineTripleMergeB4(t *testing.T) {
	e, _ := newTestEngine(t, 64, 8)

	a0, _ := e.allocInternal(16)
	a1, _ := e.allocInternal(16)
	a2, _ := e.allocInternal(32)
	_ = a2

	e.freeInternal(a0, 16)
	e.freeInternal(a2, 32)
	// a0 and a2 are free but not adjacent: [0,16) and [32,64), with a1
	// still live between them.
	if got := freeListSizes(t, e); len(got) != 2 || got[0] != 16 || got[1] != 32 {
		t.Fatalf("after freeing a0,a2: %v, want [16 32]", got)
	}
	e.freeInternal(a1, 16)
	if got := freeListSizes(t, e); len(got) != 1 || got[0] != 64 {
		t.Fatalf("after freeing a1 (triple merge): %v, want [64]", got)
	}
}

func TestEnginePropertyFreeAllInAnyOrder(t *testing.T) {
	e, _ := newTestEngine(t, 64, 8)
	sizes := []uintptr{8, 16, 8, 24, 8}
	var addrs []uintptr
	for _, s := range sizes {
		addr, ok := e.allocInternal(s)
		if !ok {
			t.Fatalf("alloc %d failed", s)
		}
		addrs = append(addrs, addr)
	}
	// Free in reverse order (P4: any order should fully coalesce).
	for i := len(addrs) - 1; i >= 0; i-- {
		e.freeInternal(addrs[i], sizes[i])
	}
	if got := freeListSizes(t, e); len(got) != 1 || got[0] != 64 {
		t.Fatalf("after freeing all in reverse order: %v, want [64]", got)
	}
}

func TestEnginePropertyRoundTripP3(t *testing.T) {
	e, _ := newTestEngine(t, 128, 8)
	before := freeListSizes(t, e)

	addr, ok := e.allocInternal(24)
	if !ok {
		t.Fatalf("alloc failed")
	}
	e.freeInternal(addr, 24)

	after := freeListSizes(t, e)
	if len(before) != len(after) {
		t.Fatalf("free list shape changed: before=%v after=%v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("free list shape changed: before=%v after=%v", before, after)
		}
	}
}
