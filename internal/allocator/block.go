package allocator

import "unsafe"

// blockStatus is the lifecycle state of a block.
type blockStatus uint8

const (
	statusFree blockStatus = iota
	statusAlloc
	statusMapped
)

func (s blockStatus) String() string {
	switch s {
	case statusFree:
		return "FREE"
	case statusAlloc:
		return "ALLOC"
	case statusMapped:
		return "MAPPED"
	default:
		return "UNKNOWN"
	}
}

// blockHeader is the fixed-size metadata prefix immediately followed by the
// payload. It is placed directly into raw OS-backed memory (heap region or
// mapping) via unsafe.Pointer arithmetic rather than allocated as a normal
// Go value — headerOf/payloadOf are the single boundary where that
// arithmetic happens, per the "single unsafe module" design note.
type blockHeader struct {
	next   *blockHeader
	size   uintptr // payload size, always a multiple of wordAlign
	status blockStatus
}

// headerSize is H: unsafe.Sizeof(blockHeader{}) rounded up to wordAlign.
var headerSize = alignUp(unsafe.Sizeof(blockHeader{}), wordAlign)

// headerOf recovers the block header for a payload pointer previously
// returned to a caller.
func headerOf(payload unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(payload) - headerSize))
}

// payloadOf returns the caller-visible address for a block.
func payloadOf(b *blockHeader) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(b)) + headerSize)
}

// blockAt interprets the given address as a block header. Used when placing
// a new block at a freshly obtained heap or mapping address.
func blockAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

// addr returns the address of the block header itself (block_base).
func (b *blockHeader) addr() uintptr {
	return uintptr(unsafe.Pointer(b))
}

// footprint is the total bytes this block occupies, header included.
func (b *blockHeader) footprint() uintptr {
	return headerSize + b.size
}

// end is the address one past the end of this block.
func (b *blockHeader) end() uintptr {
	return b.addr() + b.footprint()
}

// alignUp rounds size up to the nearest multiple of alignment. alignment
// must be a power of two.
func alignUp(size, alignment uintptr) uintptr {
	return (size + alignment - 1) &^ (alignment - 1)
}
