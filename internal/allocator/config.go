// Package allocator implements the managed heap allocator: a single-base
// or segmented free-list region allocator with compressed pointers and a
// soft-limit-driven reclamation protocol. See doc.go for the component
// overview.
package allocator

import "fmt"

// BackingKind selects which of the four backing-store/backend variants a
// Heap uses. The GC-and-limit driver depends only on the backend
// abstraction (see driver.go); it never branches on BackingKind itself.
type BackingKind int

const (
	// BackingContiguous reserves one fixed-size region at Init and never
	// grows or shrinks it.
	BackingContiguous BackingKind = iota
	// BackingSegmented reserves a dynamic set of fixed-size segments,
	// growing on exhaustion and releasing trailing empty groups on free.
	BackingSegmented
	// BackingSystemPassthrough bypasses the free list entirely and
	// forwards every Alloc/Free to the host allocator, tracking each
	// live block in a map for leak reporting and Stats.
	BackingSystemPassthrough
	// BackingEmulatedDynamic routes requests that fit a slab class through
	// a size-classed slab pool (see slab.go) when DynamicEmulSlab is set or
	// the caller uses AllocSmall; every other request goes to the system
	// allocator.
	BackingEmulatedDynamic
)

func (k BackingKind) String() string {
	switch k {
	case BackingContiguous:
		return "contiguous"
	case BackingSegmented:
		return "segmented"
	case BackingSystemPassthrough:
		return "system-passthrough"
	case BackingEmulatedDynamic:
		return "emulated-dynamic"
	default:
		return fmt.Sprintf("BackingKind(%d)", int(k))
	}
}

// Config holds every recognized configuration option from the allocator's
// external interface. Construct one with DefaultConfig and Option funcs,
// mirroring the teacher package's functional-options shape.
type Config struct {
	// Backing selects the backend variant.
	Backing BackingKind

	// HeapSize is the total byte size of the contiguous backing store.
	// Ignored when Backing is not BackingContiguous.
	HeapSize uintptr

	// Alignment (A) is the granularity blocks and free regions are
	// rounded up to. Must be a power of two and at least the size of a
	// free-region header (8 bytes: one uint32 size + one uint32 next).
	Alignment uintptr

	// CompressedPointerWidth (W) is 16 or 32.
	CompressedPointerWidth uint

	// DesiredLimitStep (L) is the granularity of heap_limit moves.
	DesiredLimitStep uintptr

	// MinHeapLimit is the floor heap_limit never drops below. Defaults
	// to DesiredLimitStep (k_min = 1) when zero.
	MinHeapLimit uintptr

	// SegmentSize (S) and MaxSegments apply only when Backing is
	// BackingSegmented.
	SegmentSize uintptr
	MaxSegments int

	// GCBeforeEachAlloc forces a HIGH-severity reclamation pass before
	// every single alloc, for debugging.
	GCBeforeEachAlloc bool

	// LazyGC defers the preemptive GC check from heap_limit to the hard
	// size H (HeapSize, or MaxSegments*SegmentSize when segmented).
	LazyGC bool

	// DynamicEmulSlab exempts small blocks from per-block metadata
	// accounting when Backing is BackingEmulatedDynamic.
	DynamicEmulSlab bool

	// EnableDebugAssertions turns on the invariant checks and the
	// INVALID_FREE / INVARIANT_VIOLATION panics described in the error
	// handling design. Should be on in tests, off in release builds.
	EnableDebugAssertions bool

	// Reclaim is called synchronously from inside alloc when the soft
	// limit is crossed or a request cannot be satisfied. May call Free
	// on any previously allocated block; must not call Alloc/TryAlloc.
	Reclaim func(severity Severity)

	// Fatal is invoked when Alloc cannot satisfy a request. Must not
	// return. If nil, a default handler panics.
	Fatal func(requestedSize uintptr)
}

// Option mutates a Config under construction, following the teacher
// package's functional-options pattern.
type Option func(*Config)

// DefaultConfig returns the baseline configuration: a 1 MiB contiguous
// heap, 8-byte alignment, 32-bit compressed pointers, a 4 KiB limit step,
// eager GC, debug assertions on.
func DefaultConfig() Config {
	return Config{
		Backing:                BackingContiguous,
		HeapSize:               1 << 20,
		Alignment:              8,
		CompressedPointerWidth: 32,
		DesiredLimitStep:       4096,
		MinHeapLimit:           0,
		SegmentSize:            32 * 1024,
		MaxSegments:            256,
		EnableDebugAssertions:  true,
	}
}

func WithBacking(k BackingKind) Option { return func(c *Config) { c.Backing = k } }
func WithHeapSize(n uintptr) Option    { return func(c *Config) { c.HeapSize = n } }
func WithAlignment(n uintptr) Option   { return func(c *Config) { c.Alignment = n } }
func WithCompressedPointerWidth(w uint) Option {
	return func(c *Config) { c.CompressedPointerWidth = w }
}
func WithDesiredLimitStep(l uintptr) Option { return func(c *Config) { c.DesiredLimitStep = l } }
func WithMinHeapLimit(n uintptr) Option     { return func(c *Config) { c.MinHeapLimit = n } }
func WithSegmentSize(s uintptr) Option      { return func(c *Config) { c.SegmentSize = s } }
func WithMaxSegments(n int) Option          { return func(c *Config) { c.MaxSegments = n } }
func WithGCBeforeEachAlloc(b bool) Option   { return func(c *Config) { c.GCBeforeEachAlloc = b } }
func WithLazyGC(b bool) Option              { return func(c *Config) { c.LazyGC = b } }
func WithDynamicEmulSlab(b bool) Option     { return func(c *Config) { c.DynamicEmulSlab = b } }
func WithDebugAssertions(b bool) Option     { return func(c *Config) { c.EnableDebugAssertions = b } }
func WithReclaim(f func(Severity)) Option   { return func(c *Config) { c.Reclaim = f } }
func WithFatal(f func(uintptr)) Option      { return func(c *Config) { c.Fatal = f } }

// New builds a Config from DefaultConfig with the given options applied,
// then validates it.
func New(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MinHeapLimit == 0 {
		cfg.MinHeapLimit = cfg.DesiredLimitStep
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if !isPowerOfTwo(c.Alignment) || c.Alignment < 8 {
		return fmt.Errorf("allocator: Alignment must be a power of two >= 8, got %d", c.Alignment)
	}
	if c.CompressedPointerWidth != 16 && c.CompressedPointerWidth != 32 {
		return fmt.Errorf("allocator: CompressedPointerWidth must be 16 or 32, got %d", c.CompressedPointerWidth)
	}
	if c.DesiredLimitStep == 0 || c.DesiredLimitStep%c.Alignment != 0 {
		return fmt.Errorf("allocator: DesiredLimitStep must be a positive multiple of Alignment")
	}
	if c.MinHeapLimit%c.DesiredLimitStep != 0 {
		return fmt.Errorf("allocator: MinHeapLimit must be a multiple of DesiredLimitStep")
	}

	switch c.Backing {
	case BackingContiguous:
		if c.HeapSize == 0 || c.HeapSize%c.Alignment != 0 {
			return fmt.Errorf("allocator: HeapSize must be a positive multiple of Alignment")
		}
		if !fitsCompressedWidth(c.HeapSize, c.Alignment, c.CompressedPointerWidth) {
			return fmt.Errorf("allocator: (2^W-1)*A must be >= HeapSize")
		}
	case BackingSegmented:
		if !isPowerOfTwo(c.SegmentSize) || c.SegmentSize%c.Alignment != 0 {
			return fmt.Errorf("allocator: SegmentSize must be a power of two multiple of Alignment")
		}
		if c.MaxSegments <= 0 {
			return fmt.Errorf("allocator: MaxSegments must be positive")
		}
		total := c.SegmentSize * uintptr(c.MaxSegments)
		if !fitsCompressedWidth(total, c.Alignment, c.CompressedPointerWidth) {
			return fmt.Errorf("allocator: (2^W-1)*A must be >= MaxSegments*SegmentSize")
		}
	case BackingSystemPassthrough, BackingEmulatedDynamic:
		// No codec/backing-store sizing constraints: these variants
		// never hand out compressed pointers.
	default:
		return fmt.Errorf("allocator: unknown BackingKind %d", int(c.Backing))
	}
	return nil
}

func isPowerOfTwo(n uintptr) bool { return n != 0 && n&(n-1) == 0 }

// fitsCompressedWidth reports whether (2^W-1)*A >= total: the
// COMPRESSED_POINTER_WIDTH constraint with the END_OF_LIST unit excluded.
func fitsCompressedWidth(total, alignment uintptr, width uint) bool {
	maxUnits := uintptr(1) << width
	// total is in bytes; capacity in bytes is maxUnits * alignment, but
	// one unit (END_OF_LIST) is reserved, so usable units are maxUnits-1.
	capacity := (maxUnits - 1) * alignment
	return capacity >= total
}
