//go:build unix

package allocator

import (
	"fmt"

	"golang.org/x/sys/unix"

	orizonerrors "github.com/orizon-lang/heapalloc/internal/errors"
)

// newOSHeap reserves the emulated break's backing address range. On unix,
// MAP_NORESERVE plus lazy physical-page commit means reserving the whole
// range costs no real memory up front — growing the break below never needs
// a second syscall, it just advances h.committed.
func newOSHeap(reserve uintptr) (*osHeap, error) {
	if reserve == 0 {
		reserve = defaultHeapReserve
	}

	data, err := unix.Mmap(-1, 0, int(reserve),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve heap: %v", ErrOOM, err)
	}

	return &osHeap{
		base:     sliceBase(data),
		reserved: reserve,
	}, nil
}

// extendBreak advances the emulated break by exactly delta bytes and
// returns the break address before the extension.
func (h *osHeap) extendBreak(delta uintptr) (uintptr, error) {
	if h.committed+delta > h.reserved {
		return 0, fmt.Errorf("%w: %s", ErrOOM, orizonerrors.OutOfMemory(delta, "extendBreak").Error())
	}

	prev := h.currentBreak()
	h.committed += delta

	return prev, nil
}

// release returns the emulated break's backing range to the OS. Only used
// by tests: the heap never shrinks during normal operation, so production
// code never calls this.
func (h *osHeap) release() error {
	data := byteSliceAt(h.base, h.reserved)

	return unix.Munmap(data)
}

// mapAnon creates a single independent anonymous mapping, page-aligned and
// zero-initialised, backing one MAPPED block.
func mapAnon(n uintptr) (uintptr, error) {
	data, err := unix.Mmap(-1, 0, int(n),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("%w: mmap %d bytes: %v", ErrOOM, n, err)
	}

	return sliceBase(data), nil
}

// unmapAnon releases exactly the region mapAnon returned. A failure here is
// fatal: it means the registry or the caller corrupted the mapping's
// bookkeeping.
func unmapAnon(base, n uintptr) error {
	data := byteSliceAt(base, n)
	if err := unix.Munmap(data); err != nil {
		return orizonerrors.NewStandardError(orizonerrors.CategorySystem, "MUNMAP_FAILED",
			fmt.Sprintf("munmap(0x%x, %d) failed: %v", base, n, err),
			map[string]interface{}{"base": base, "size": n})
	}

	return nil
}

// cachedOSPageSize queries the OS page size once.
func cachedOSPageSize() uintptr {
	return uintptr(unix.Getpagesize())
}
