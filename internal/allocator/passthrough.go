package allocator

import "github.com/orizon-lang/orizon-heap/internal/errors"

// passthroughBackend is the system-malloc-passthrough variant named in
// spec.md §9 ("State sharing across variants"): it bypasses the free
// list entirely and forwards every request to the host allocator,
// tracking each live block so Free can validate it and Stats/DebugLeaks
// can report on it. Adapted from the teacher's
// internal/allocator/allocator.go SystemAllocatorImpl (map-tracked
// alloc/free with leak reporting), generalized from "kind-tagged pointer
// wrapper" to this package's plain backend interface.
type passthroughBackend struct {
	live           map[uintptr][]byte
	totalAllocated uintptr
	assertions     bool
}

func newPassthroughBackend(cfg Config) *passthroughBackend {
	return &passthroughBackend{
		live:       make(map[uintptr][]byte),
		assertions: cfg.EnableDebugAssertions,
	}
}

func (b *passthroughBackend) allocRaw(n uintptr, _ bool) (uintptr, bool) {
	buf := make([]byte, n)
	addr := addrOf(buf)
	b.live[addr] = buf
	b.totalAllocated += n
	return addr, true
}

func (b *passthroughBackend) freeRaw(addr, n uintptr, _ bool) {
	buf, ok := b.live[addr]
	if !ok {
		if b.assertions {
			panic(errors.InvalidFree(addr))
		}
		return
	}
	if b.assertions && uintptr(len(buf)) != n {
		panic(errors.InvariantViolation("I4", "free size does not match the tracked allocation size"))
	}
	delete(b.live, addr)
	b.totalAllocated -= n
}

func (b *passthroughBackend) growOnExhaustion(uintptr) bool { return false }
func (b *passthroughBackend) releaseEmpty()                 {}

func (b *passthroughBackend) isHeapPointer(addr uintptr) bool {
	for base, buf := range b.live {
		if addr >= base && addr < base+uintptr(len(buf)) {
			return true
		}
	}
	return false
}

func (b *passthroughBackend) capacity() uintptr  { return b.totalAllocated }
func (b *passthroughBackend) hardLimit() uintptr { return ^uintptr(0) }

func (b *passthroughBackend) teardown() error {
	b.live = nil
	return nil
}

func (b *passthroughBackend) liveAddresses() []uintptr {
	addrs := make([]uintptr, 0, len(b.live))
	for addr := range b.live {
		addrs = append(addrs, addr)
	}
	return addrs
}
