package allocator

import "unsafe"

// sliceBase returns the address of a byte slice's backing array, or 0 for
// an empty slice. Used to convert what unix.Mmap/VirtualAlloc hand back
// into the raw uintptr addresses the block registry deals in.
func sliceBase(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}

	return uintptr(unsafe.Pointer(&b[0]))
}

// byteSliceAt reconstructs a byte slice over a raw address/length pair
// previously obtained from mapAnon or newOSHeap, so it can be handed to
// unix.Munmap or copied into/out of.
func byteSliceAt(base, n uintptr) []byte {
	if n == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(base)), int(n))
}
