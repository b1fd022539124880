//go:build unix

package allocator

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// reserveRaw reserves size bytes of anonymous, private memory via mmap.
// This is the same one-file-per-OS-concern shape the teacher uses in
// internal/runtime/asyncio/zerocopy_unix_file.go: no cgo, direct
// golang.org/x/sys/unix calls, build-tagged to the platform family that
// supports them.
func reserveRaw(size uintptr) (*rawRegion, error) {
	if size == 0 {
		return &rawRegion{}, nil
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("allocator: mmap %d bytes: %w", size, err)
	}
	return &rawRegion{mem: mem, base: addrOf(mem)}, nil
}

func (r *rawRegion) release() error {
	if len(r.mem) == 0 {
		return nil
	}
	return unix.Munmap(r.mem)
}

// decommit advises the kernel that [offset, offset+length) is no longer
// needed, without unmapping it. Used by the segmented store when
// releasing a trailing group of empty segments: the address range stays
// reserved (so segment indices and the codec's base arithmetic remain
// stable) but the physical pages are given back.
func (r *rawRegion) decommit(offset, length uintptr) error {
	if length == 0 {
		return nil
	}
	return unix.Madvise(r.mem[offset:offset+length], unix.MADV_DONTNEED)
}
