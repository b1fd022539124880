package allocator

import (
	"errors"
	"testing"
)

func newTestHeap(t *testing.T, opts ...Option) *Heap {
	t.Helper()
	cfg, err := New(opts...)
	if err != nil {
		t.Fatalf("New config: %v", err)
	}
	h, err := NewHeap(cfg)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	t.Cleanup(func() { _ = h.Teardown() })
	return h
}

func TestHeapBasicAllocFree(t *testing.T) {
	h := newTestHeap(t, WithHeapSize(64), WithAlignment(8), WithDesiredLimitStep(16))

	addr := h.Alloc(8)
	if addr == 0 {
		t.Fatalf("Alloc(8) returned 0")
	}
	stats := h.Stats()
	if stats.Allocated != 8 {
		t.Fatalf("Allocated = %d, want 8", stats.Allocated)
	}

	h.Free(addr, 8)
	stats = h.Stats()
	if stats.Allocated != 0 {
		t.Fatalf("Allocated after free = %d, want 0", stats.Allocated)
	}
}

func TestHeapZeroAllocReturnsNull(t *testing.T) {
	h := newTestHeap(t, WithHeapSize(64))
	if addr, ok := h.TryAlloc(0); ok || addr != 0 {
		t.Fatalf("TryAlloc(0) = (%#x,%v), want (0,false)", addr, ok)
	}
}

func TestHeapFreeZeroIsNoOp(t *testing.T) {
	h := newTestHeap(t, WithHeapSize(64))
	addr := h.Alloc(8)
	before := h.Stats()
	h.Free(addr, 0) // B1: documented no-op
	after := h.Stats()
	if before.Allocated != after.Allocated {
		t.Fatalf("Free(addr,0) changed Allocated: %d -> %d", before.Allocated, after.Allocated)
	}
}

func TestHeapAllocEntireHeapB2(t *testing.T) {
	h := newTestHeap(t, WithHeapSize(64), WithAlignment(8), WithDesiredLimitStep(64))
	addr := h.Alloc(64)
	if addr == 0 {
		t.Fatalf("Alloc(HeapSize) failed")
	}
	if _, ok := h.TryAlloc(8); ok {
		t.Fatalf("heap should be fully consumed")
	}
}

func TestHeapLimitDynamicsS3(t *testing.T) {
	h := newTestHeap(t, WithHeapSize(256), WithAlignment(8), WithDesiredLimitStep(16), WithMinHeapLimit(16))

	a := h.Alloc(8)
	if s := h.Stats(); s.HeapLimit != 16 {
		t.Fatalf("after alloc 8: heap_limit=%d, want 16", s.HeapLimit)
	}
	b := h.Alloc(16)
	if s := h.Stats(); s.HeapLimit != 32 {
		t.Fatalf("after alloc 16: heap_limit=%d, want 32", s.HeapLimit)
	}
	h.Free(a, 8)
	if s := h.Stats(); s.HeapLimit != 16 {
		t.Fatalf("after free: heap_limit=%d, want 16", s.HeapLimit)
	}
	h.Free(b, 16)
}

func TestHeapReclamationS4(t *testing.T) {
	var h *Heap
	var freed uintptr
	var severities []Severity

	cfg, err := New(WithHeapSize(256), WithAlignment(8), WithDesiredLimitStep(16), WithMinHeapLimit(16),
		WithReclaim(func(sev Severity) {
			severities = append(severities, sev)
			if freed != 0 {
				h.Free(freed, 8)
				freed = 0
			}
		}))
	if err != nil {
		t.Fatalf("New config: %v", err)
	}
	h, err = NewHeap(cfg)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	t.Cleanup(func() { _ = h.Teardown() })

	a := h.Alloc(8)
	b := h.Alloc(8)
	x := h.Alloc(8) // blocks_size=24, heap_limit=32
	h.Free(x, 8)    // blocks_size=16, heap_limit falls to 16; next request of 8 crosses it
	freed = a

	c, ok := h.TryAlloc(8)
	if !ok {
		t.Fatalf("expected reclamation to free enough space")
	}
	if len(severities) == 0 || severities[0] != SeverityLow {
		t.Fatalf("expected LOW severity first, got %v", severities)
	}
	h.Free(b, 8)
	h.Free(c, 8)
}

func TestHeapFatalOnOOMWithoutHandler(t *testing.T) {
	h := newTestHeap(t, WithHeapSize(16), WithAlignment(8))

	h.Alloc(16) // consume the whole heap

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected Alloc to panic via the fatal handler on OOM")
		}
		if _, ok := r.(error); !ok {
			t.Fatalf("expected a panic value implementing error, got %T", r)
		}
	}()
	h.Alloc(8)
}

func TestHeapFatalHandlerInvoked(t *testing.T) {
	called := false
	h := newTestHeap(t, WithHeapSize(16), WithAlignment(8), WithFatal(func(uintptr) {
		called = true
		panic(errors.New("custom fatal"))
	}))
	h.Alloc(16)

	func() {
		defer func() { recover() }()
		h.Alloc(8)
	}()

	if !called {
		t.Fatalf("custom Fatal handler was not invoked")
	}
}

func TestHeapTryAllocReturnsNullOnOOM(t *testing.T) {
	h := newTestHeap(t, WithHeapSize(16), WithAlignment(8))
	h.Alloc(16)
	if addr, ok := h.TryAlloc(8); ok {
		t.Fatalf("TryAlloc should fail cleanly, got addr=%#x", addr)
	}
}

func TestHeapNoReclamationWhenUnderLimitP7(t *testing.T) {
	calls := 0
	h := newTestHeap(t, WithHeapSize(256), WithAlignment(8), WithDesiredLimitStep(64), WithMinHeapLimit(64),
		WithReclaim(func(Severity) { calls++ }))

	h.Alloc(8)
	h.Alloc(8)
	h.Alloc(8)

	if calls != 0 {
		t.Fatalf("reclamation invoked %d times while under heap_limit", calls)
	}
}

func TestHeapGCBeforeEachAlloc(t *testing.T) {
	calls := 0
	h := newTestHeap(t, WithHeapSize(256), WithAlignment(8), WithGCBeforeEachAlloc(true),
		WithReclaim(func(sev Severity) {
			calls++
			if sev != SeverityHigh {
				t.Fatalf("GCBeforeEachAlloc must invoke at HIGH severity, got %v", sev)
			}
		}))

	h.Alloc(8)
	h.Alloc(8)
	if calls != 2 {
		t.Fatalf("GCBeforeEachAlloc should fire once per alloc, got %d calls", calls)
	}
}
