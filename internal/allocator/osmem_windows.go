//go:build windows

package allocator

import (
	"fmt"

	"golang.org/x/sys/windows"

	orizonerrors "github.com/orizon-lang/heapalloc/internal/errors"
)

// newOSHeap reserves the emulated break's address range with MEM_RESERVE
// only; no physical memory is committed until extendBreak grows into it.
// Unlike unix there's no overcommit to lean on, so reserve and commit are
// genuinely separate VirtualAlloc calls here.
func newOSHeap(reserve uintptr) (*osHeap, error) {
	if reserve == 0 {
		reserve = defaultHeapReserve
	}

	addr, err := windows.VirtualAlloc(0, reserve, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve heap: %v", ErrOOM, err)
	}

	return &osHeap{
		base:     addr,
		reserved: reserve,
	}, nil
}

// extendBreak commits the next delta bytes of the reservation and advances
// the emulated break.
func (h *osHeap) extendBreak(delta uintptr) (uintptr, error) {
	if h.committed+delta > h.reserved {
		return 0, fmt.Errorf("%w: %s", ErrOOM, orizonerrors.OutOfMemory(delta, "extendBreak").Error())
	}

	if delta > 0 {
		_, err := windows.VirtualAlloc(h.base+h.committed, delta, windows.MEM_COMMIT, windows.PAGE_READWRITE)
		if err != nil {
			return 0, fmt.Errorf("%w: commit %d bytes: %v", ErrOOM, delta, err)
		}
	}

	prev := h.currentBreak()
	h.committed += delta

	return prev, nil
}

// release returns the emulated break's reservation to the OS. Test-only,
// mirrors osmem_unix.go's release.
func (h *osHeap) release() error {
	return windows.VirtualFree(h.base, 0, windows.MEM_RELEASE)
}

// mapAnon creates one independent reserve+commit region backing a MAPPED
// block.
func mapAnon(n uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, n, windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("%w: VirtualAlloc %d bytes: %v", ErrOOM, n, err)
	}

	return addr, nil
}

// unmapAnon releases exactly the region mapAnon returned. MEM_RELEASE
// requires size 0 and the original base address.
func unmapAnon(base, n uintptr) error {
	if err := windows.VirtualFree(base, 0, windows.MEM_RELEASE); err != nil {
		return orizonerrors.NewStandardError(orizonerrors.CategorySystem, "VIRTUALFREE_FAILED",
			fmt.Sprintf("VirtualFree(0x%x, %d) failed: %v", base, n, err),
			map[string]interface{}{"base": base, "size": n})
	}

	return nil
}

// cachedOSPageSize queries the OS page size once.
func cachedOSPageSize() uintptr {
	var info windows.SystemInfo

	windows.GetSystemInfo(&info)

	return uintptr(info.PageSize)
}
