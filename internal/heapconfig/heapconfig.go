// Package heapconfig loads the allocator's §6 configuration options from
// a JSON file and watches that file for edits, in the teacher's idiom:
// internal/cli.Config's JSON round-trip for load/save, and
// internal/runtime/vfs/watch_fsnotify.go's fsnotify event-loop shape for
// the watcher. The heap itself cannot be safely reconfigured while live
// (spec.md §5 forbids concurrent mutation and growth/shrink mid-operation),
// so watching only ever logs that a restart is needed — it never mutates
// a running Heap.
package heapconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/orizon-heap/internal/allocator"
	"github.com/orizon-lang/orizon-heap/internal/cli"
)

// schemaConstraint is the range of config file schema versions this
// build understands. Bumped whenever a field's meaning changes in a
// backward-incompatible way.
const schemaConstraint = ">= 1.0.0, < 2.0.0"

// File is the on-disk JSON shape of a heap configuration. Field names
// mirror spec.md §6's recognized configuration options exactly so a
// config file reads as a checklist against the spec.
type File struct {
	SchemaVersion string `json:"schema_version"`

	Backing string `json:"backing"` // "contiguous" | "segmented" | "system-passthrough" | "emulated-dynamic"

	HeapSize               uint64 `json:"heap_size"`
	Alignment              uint64 `json:"alignment"`
	CompressedPointerWidth uint   `json:"compressed_pointer_width"`
	DesiredLimitStep       uint64 `json:"desired_limit_step"`
	MinHeapLimit           uint64 `json:"min_heap_limit"`

	SegmentSize uint64 `json:"segment_size"`
	MaxSegments int    `json:"max_segments"`

	GCBeforeEachAlloc bool `json:"gc_before_each_alloc"`
	LazyGC            bool `json:"lazy_gc"`
	DynamicEmulSlab   bool `json:"dynamic_emul_slab"`

	EnableDebugAssertions bool `json:"enable_debug_assertions"`
}

// Load reads and validates a config file, checking SchemaVersion against
// schemaConstraint before trusting any other field (a config written for
// a future, incompatible schema must fail loudly rather than silently
// apply defaults for fields it doesn't recognize).
func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("heapconfig: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("heapconfig: parse %s: %w", path, err)
	}

	v, err := semver.NewVersion(f.SchemaVersion)
	if err != nil {
		return f, fmt.Errorf("heapconfig: invalid schema_version %q: %w", f.SchemaVersion, err)
	}
	constraint, err := semver.NewConstraint(schemaConstraint)
	if err != nil {
		// Only reachable if schemaConstraint itself is malformed, which
		// is a build-time bug, not a user-facing error.
		panic(fmt.Sprintf("heapconfig: invalid built-in constraint %q: %v", schemaConstraint, err))
	}
	if !constraint.Check(v) {
		return f, fmt.Errorf("heapconfig: schema_version %s does not satisfy %s", f.SchemaVersion, schemaConstraint)
	}
	return f, nil
}

// Save writes f back to path as indented JSON, matching
// internal/cli.Config.SaveConfig's shape.
func (f File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("heapconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("heapconfig: write %s: %w", path, err)
	}
	return nil
}

// Options converts File into allocator.Option values, the bridge between
// the JSON surface and the package's functional-options constructor.
func (f File) Options() []allocator.Option {
	opts := []allocator.Option{
		allocator.WithAlignment(uintptr(f.Alignment)),
		allocator.WithCompressedPointerWidth(f.CompressedPointerWidth),
		allocator.WithDesiredLimitStep(uintptr(f.DesiredLimitStep)),
		allocator.WithMinHeapLimit(uintptr(f.MinHeapLimit)),
		allocator.WithSegmentSize(uintptr(f.SegmentSize)),
		allocator.WithMaxSegments(f.MaxSegments),
		allocator.WithGCBeforeEachAlloc(f.GCBeforeEachAlloc),
		allocator.WithLazyGC(f.LazyGC),
		allocator.WithDynamicEmulSlab(f.DynamicEmulSlab),
		allocator.WithDebugAssertions(f.EnableDebugAssertions),
	}
	if f.HeapSize > 0 {
		opts = append(opts, allocator.WithHeapSize(uintptr(f.HeapSize)))
	}
	switch f.Backing {
	case "segmented":
		opts = append(opts, allocator.WithBacking(allocator.BackingSegmented))
	case "system-passthrough":
		opts = append(opts, allocator.WithBacking(allocator.BackingSystemPassthrough))
	case "emulated-dynamic":
		opts = append(opts, allocator.WithBacking(allocator.BackingEmulatedDynamic))
	default:
		opts = append(opts, allocator.WithBacking(allocator.BackingContiguous))
	}
	return opts
}

// WatchAndLog watches path for writes and logs that a process restart is
// required to pick them up (see the package doc comment for why it never
// reconfigures a live Heap). Returns a stop function.
func WatchAndLog(path string, logger *cli.Logger) (stop func() error, err error) {
	w, err := newFSWatcher(path)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				if ev.Op&WatchOpWrite != 0 {
					logger.Warn("config file %s changed; restart the process to apply it", path)
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				logger.Error("config watch error: %v", err)
			case <-done:
				return
			}
		}
	}()
	return func() error {
		close(done)
		return w.Close()
	}, nil
}
