package allocator

import (
	"fmt"
	"sync"
)

// osHeap emulates a contiguous, sbrk-style program break on top of a single
// upfront virtual memory reservation. Go processes have no real sbrk(2), and
// Windows has none at all, so every platform gets the same trick user-space
// allocators use when sbrk isn't available: reserve one large address range
// once, then only ever grow a "committed length" cursor inside it. The
// reservation's base address never changes, so every pointer derived from it
// stays valid for the life of the process: every heap-backed block lies
// inside [initial_break, current_break) for as long as the heap exists.
//
// newOSHeap, extendBreak, release, mapAnon, unmapAnon and cachedOSPageSize
// are implemented per platform in osmem_unix.go and osmem_windows.go.
type osHeap struct {
	base      uintptr
	reserved  uintptr
	committed uintptr
}

// defaultHeapReserve bounds how much address space is set aside for the
// emulated break. It is virtual only: unix backs it with a single
// MAP_NORESERVE mapping so no physical memory is committed until touched;
// Windows backs it with MEM_RESERVE and commits pages on demand as
// extendBreak grows the cursor.
const defaultHeapReserve = 4 << 30 // 4 GiB

// ErrOOM is returned by the allocation router whenever an operating system
// primitive refuses a request.
var ErrOOM = fmt.Errorf("allocator: out of memory")

// currentBreak returns the current logical break address.
func (h *osHeap) currentBreak() uintptr {
	return h.base + h.committed
}

// initialBreak returns the address the heap started at.
func (h *osHeap) initialBreak() uintptr {
	return h.base
}

var (
	pageSizeOnce sync.Once
	cachedPageSz uintptr
)

// pageSize returns the OS page size, queried once and cached — used as the
// calloc routing threshold in place of T.
func pageSize() uintptr {
	pageSizeOnce.Do(func() {
		cachedPageSz = cachedOSPageSize()
	})

	return cachedPageSz
}
