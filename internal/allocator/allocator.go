// Package allocator implements a user-space general-purpose heap allocator:
// a drop-in replacement for malloc/free/calloc/realloc backed by two
// operating-system primitives — a contiguous, sbrk-style program break for
// small requests, and per-allocation anonymous mappings for large ones.
//
// The package is single-threaded at its core (the block registry, arena
// manager and router share no locks of their own); Heap wraps that core in
// a mutex so the public surface can be called from a single goroutine at a
// time without the caller coordinating access itself.
package allocator

import (
	"fmt"
	"sync"
	"unsafe"

	orizonerrors "github.com/orizon-lang/heapalloc/internal/errors"
)

// wordAlign is W: the fixed alignment every returned pointer and every
// stored block size honours.
const wordAlign uintptr = 8

// thresholdT is T: the boundary between heap-backed and mapping-backed
// routing for Alloc/Resize. ZeroedAlloc uses the OS page size instead.
const thresholdT uintptr = 128 * 1024

// errInvalidResize is returned when Resize targets a block that cannot be
// resized: an already-FREE block.
var errInvalidResize = fmt.Errorf("allocator: resize of invalid block")

// Config holds the allocator's tunables: the heap/mapping routing threshold
// and the word alignment. Both default to fixed values (T=128KiB, W=8) but
// are exposed as options so tests can exercise boundary conditions without
// waiting on a real 128KiB heap.
type Config struct {
	Threshold   uintptr
	Alignment   uintptr
	HeapReserve uintptr
}

// Option configures a Heap at construction time.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Threshold:   thresholdT,
		Alignment:   wordAlign,
		HeapReserve: defaultHeapReserve,
	}
}

// WithThreshold overrides the heap/mapping routing threshold.
func WithThreshold(t uintptr) Option {
	return func(c *Config) { c.Threshold = t }
}

// WithAlignment overrides the word alignment.
func WithAlignment(a uintptr) Option {
	return func(c *Config) { c.Alignment = a }
}

// WithHeapReserve overrides how much address space is reserved up front for
// the emulated program break.
func WithHeapReserve(n uintptr) Option {
	return func(c *Config) { c.HeapReserve = n }
}

// HeapStats reports allocator-wide bookkeeping. Unlike the block registry
// it is not load-bearing: nothing in the allocation router consults it, it
// only observes.
type HeapStats struct {
	HeapBytes         uintptr
	MappedBytes       uintptr
	AllocationCount   uint64
	FreeCount         uint64
	ActiveAllocations int64
}

// Heap is one process-wide (or, for tests, independent) instance of the
// allocator: one registry, one emulated program break, one threshold.
type Heap struct {
	mu          sync.Mutex
	os          *osHeap
	reg         registry
	threshold   uintptr
	alignment   uintptr
	mappedBytes uintptr
	allocCount  uint64
	freeCount   uint64
}

// NewHeap constructs an independent Heap with its own emulated program
// break. Most programs only need the package-level GlobalHeap via Init;
// NewHeap exists for tests and for embedding multiple isolated heaps in one
// process.
func NewHeap(opts ...Option) (*Heap, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	os, err := newOSHeap(cfg.HeapReserve)
	if err != nil {
		return nil, err
	}

	return &Heap{
		os:        os,
		threshold: cfg.Threshold,
		alignment: cfg.Alignment,
	}, nil
}

// Close releases the heap's emulated program break back to the OS. It does
// not unmap any still-live MAPPED blocks — there is no notion of tearing an
// allocator down during normal operation, this exists purely so tests don't
// leak real address space across hundreds of NewHeap calls.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.os.release()
}

// Alloc services a single allocation request.
func (h *Heap) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ptr, err := h.allocRouted(size, h.threshold)
	if err != nil {
		return nil
	}

	return ptr
}

// ZeroedAlloc services calloc(count, size): a zero-initialised allocation
// of count*size bytes, routed using the OS page size as the threshold
// instead of T.
func (h *Heap) ZeroedAlloc(count, size uintptr) unsafe.Pointer {
	if count == 0 || size == 0 {
		return nil
	}

	total := count * size
	if total/count != size {
		return nil // overflow
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ptr, err := h.allocRouted(total, pageSize())
	if err != nil {
		return nil
	}

	clear(unsafe.Slice((*byte)(ptr), int(total)))

	return ptr
}

// Free releases a previously returned pointer. Freeing nil is a no-op;
// freeing an already-FREE block is undefined behaviour that this
// implementation tolerates rather than detects.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.free(p)
}

// Resize implements realloc's decision tree.
func (h *Heap) Resize(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	h.mu.Lock()
	defer h.mu.Unlock()

	ptr, err := h.resize(p, newSize)
	if err != nil {
		return nil
	}

	return ptr
}

// Stats returns a point-in-time snapshot of allocator bookkeeping.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return HeapStats{
		HeapBytes:         h.os.currentBreak() - h.os.initialBreak(),
		MappedBytes:       h.mappedBytes,
		AllocationCount:   h.allocCount,
		FreeCount:         h.freeCount,
		ActiveAllocations: int64(h.allocCount) - int64(h.freeCount),
	}
}

// allocRouted is the shared body of Alloc and ZeroedAlloc: choose a
// primitive based on requested size against threshold, and dispatch to the
// arena manager or the mapping path.
func (h *Heap) allocRouted(size, threshold uintptr) (unsafe.Pointer, error) {
	aligned := alignUp(size, h.alignment)

	if !h.reg.heapInitialised {
		if size+headerSize < threshold {
			block, err := h.preallocate()
			if err != nil {
				return nil, err
			}

			h.splitIfPossible(block, aligned)
			block.status = statusAlloc
			h.allocCount++

			return payloadOf(block), nil
		}

		block, err := h.newMapping(aligned)
		if err != nil {
			return nil, err
		}

		h.reg.append(block)
		h.allocCount++

		return payloadOf(block), nil
	}

	if size+headerSize >= threshold {
		block, err := h.newMapping(aligned)
		if err != nil {
			return nil, err
		}

		h.reg.append(block)
		h.allocCount++

		return payloadOf(block), nil
	}

	block, err := h.bestFit(aligned)
	if err != nil {
		return nil, err
	}

	h.allocCount++

	return payloadOf(block), nil
}

// newMapping creates a MAPPED block for an aligned payload size, without
// touching the registry.
func (h *Heap) newMapping(aligned uintptr) (*blockHeader, error) {
	footprint := aligned + headerSize

	base, err := mapAnon(footprint)
	if err != nil {
		return nil, err
	}

	block := blockAt(base)
	block.size = aligned
	block.status = statusMapped
	block.next = nil
	h.mappedBytes += footprint

	return block, nil
}

// free is the unlocked body of Free.
func (h *Heap) free(p unsafe.Pointer) {
	b := headerOf(p)

	switch b.status {
	case statusMapped:
		footprint := b.footprint()
		h.reg.delink(b)

		if err := unmapAnon(b.addr(), footprint); err != nil {
			panic(orizonerrors.Fatal("free", err.Error()))
		}

		h.mappedBytes -= footprint
		h.freeCount++
	case statusAlloc:
		b.status = statusFree
		h.freeCount++
	case statusFree:
		// Double free: undefined behaviour. Tolerated rather than detected.
	}
}

// resize is the unlocked body of Resize.
func (h *Heap) resize(p unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	if p == nil {
		return h.allocRouted(newSize, h.threshold)
	}

	if newSize == 0 {
		h.free(p)

		return nil, nil
	}

	b := headerOf(p)
	aligned := alignUp(newSize, h.alignment)

	switch b.status {
	case statusFree:
		return nil, errInvalidResize
	case statusMapped:
		return h.relocate(p, b.size, newSize)
	case statusAlloc:
		if b.size >= aligned {
			h.splitIfPossible(b, aligned)

			return p, nil
		}

		return h.growAlloc(p, b, newSize, aligned)
	default:
		return nil, errInvalidResize
	}
}

// growAlloc handles resize's grow path for an ALLOC block. Mapped blocks
// never reach here; they always relocate.
func (h *Heap) growAlloc(p unsafe.Pointer, b *blockHeader, newSize, aligned uintptr) (unsafe.Pointer, error) {
	if newSize+headerSize >= h.threshold {
		return h.relocate(p, b.size, newSize)
	}

	if tailExpandable(b) {
		deficit := aligned - b.size
		if _, err := h.os.extendBreak(deficit); err != nil {
			return nil, err
		}

		b.size = aligned

		return p, nil
	}

	// Absorb FREE successors until b is large enough or a non-FREE
	// successor stops the walk. Exits as soon as either condition is met;
	// nothing unreachable.
	for b.next != nil && b.next.status == statusFree {
		succ := b.next
		b.size += headerSize + succ.size
		b.next = succ.next

		if b.size >= aligned {
			h.splitIfPossible(b, aligned)

			return p, nil
		}
	}

	return h.relocate(p, b.size, newSize)
}

// relocate implements resize's "can't grow in place" fallback: allocate a
// fresh block for the raw requested newSize (so routing sees the unaligned
// size, as Alloc does), copy the overlap, free the old one. Copies
// min(oldSize, newSize) bytes, never more — a shrink never reads past the
// smaller of the two sizes.
func (h *Heap) relocate(p unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	newPtr, err := h.allocRouted(newSize, h.threshold)
	if err != nil {
		return nil, err
	}

	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}

	copyMemory(newPtr, p, copySize)
	h.free(p)

	return newPtr, nil
}

// copyMemory copies n bytes from src to dst via slice aliasing. Uses
// unsafe.Slice rather than a fixed-size array cast, since mapping-backed
// copies here can exceed a couple of gigabytes.
func copyMemory(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}

	dstSlice := unsafe.Slice((*byte)(dst), int(n))
	srcSlice := unsafe.Slice((*byte)(src), int(n))
	copy(dstSlice, srcSlice)
}

// GlobalHeap is the default, process-wide heap used by the package-level
// convenience functions.
var GlobalHeap *Heap

// Init constructs GlobalHeap. It must be called once before the
// package-level Alloc/ZeroedAlloc/Free/Resize functions are used.
func Init(opts ...Option) error {
	h, err := NewHeap(opts...)
	if err != nil {
		return fmt.Errorf("allocator: init: %w", err)
	}

	GlobalHeap = h

	return nil
}

func mustGlobal() *Heap {
	if GlobalHeap == nil {
		panic("allocator: GlobalHeap not initialized, call Init first")
	}

	return GlobalHeap
}

// Alloc allocates memory using the global heap.
func Alloc(size uintptr) unsafe.Pointer { return mustGlobal().Alloc(size) }

// ZeroedAlloc allocates zero-initialised memory using the global heap.
func ZeroedAlloc(count, size uintptr) unsafe.Pointer { return mustGlobal().ZeroedAlloc(count, size) }

// Free releases memory using the global heap.
func Free(p unsafe.Pointer) { mustGlobal().Free(p) }

// Resize resizes memory using the global heap.
func Resize(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	return mustGlobal().Resize(p, newSize)
}

// Stats reports global heap statistics.
func Stats() HeapStats { return mustGlobal().Stats() }
