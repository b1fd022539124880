// Package allocator is composed of four cooperating components, listed
// leaves-first:
//
//  1. Pointer codec (codec.go) — compresses a live address to a 16/32-bit
//     offset and back. Single-base for the contiguous backend, multi-base
//     for the segmented one.
//  2. Backing store (store.go, rawmem*.go) — owns the raw memory: one
//     fixed-size region (contiguous) or a dynamic set of fixed-size
//     segments (segmented).
//  3. Free-list engine (freelist.go) — an address-ordered, singly-linked
//     list of free regions with a sentinel head, a fast path for
//     single-alignment-unit requests, first-fit scanning otherwise, and
//     coalescing on free.
//  4. GC-and-limit driver (driver.go) — the Heap type: wraps a backend,
//     enforces the soft heap_limit, and escalates a caller-supplied
//     reclamation callback when the free list can't satisfy a request.
//
// Two more backends (passthrough.go, slab.go) exist alongside the
// free-list engine, selected by Config.Backing; see SPEC_FULL.md.
package allocator
