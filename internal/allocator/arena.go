package allocator

// Heap arena manager: preallocation, best-fit search, split and
// tail-expansion over the heap-backed portion of the registry.
// None of this runs for MAPPED blocks — those are handled entirely by the
// allocation router.

// preallocate performs the first heap-backed allocation's one-time setup:
// extend the break by exactly h.threshold and record it as a single FREE
// block of payload size threshold-H. Amortises the cost of the underlying
// OS call across every allocation that follows. Returns the new block
// itself — callers must not assume it is reg.head, since a mapping-class
// allocation issued before the first heap-backed one can already occupy
// the head.
func (h *Heap) preallocate() (*blockHeader, error) {
	prevBreak, err := h.os.extendBreak(h.threshold)
	if err != nil {
		return nil, err
	}

	block := blockAt(prevBreak)
	block.size = h.threshold - headerSize
	block.status = statusFree
	block.next = nil

	h.reg.append(block)
	h.reg.heapInitialised = true

	return block, nil
}

// coalesceSweep performs a single left-to-right pass over the registry,
// folding every FREE block into an immediately preceding FREE block. It is
// invoked on every heap-backed allocation, never on free, so frees stay
// O(1) and the cost of list maintenance is paid only where a scan is
// already required.
func (h *Heap) coalesceSweep() {
	prev := h.reg.head
	if prev == nil {
		return
	}

	curr := prev.next

	for curr != nil {
		if curr.status == statusFree && prev.status == statusFree {
			prev.size = prev.size + headerSize + curr.size
			prev.next = curr.next
			curr = prev.next

			continue
		}

		prev = curr
		curr = curr.next
	}
}

// selectBestFit scans the registry for the smallest FREE block whose size
// is at least requested, tie-breaking on first encountered (lowest
// address). Also returns the last FREE block in registry order, needed by
// the tail-expansion fallback.
func (h *Heap) selectBestFit(requested uintptr) (best, lastFree *blockHeader) {
	h.reg.forEach(func(b *blockHeader) bool {
		if b.status != statusFree {
			return true
		}

		lastFree = b

		if b.size >= requested && (best == nil || b.size < best.size) {
			best = b
		}

		return true
	})

	return best, lastFree
}

// splitIfPossible carves a residual FREE block off the tail of b when the
// leftover can hold at least a header plus one aligned payload byte. b is
// truncated to requested and the new block is spliced in immediately after
// it, preserving address order.
func (h *Heap) splitIfPossible(b *blockHeader, requested uintptr) {
	residual := b.size - requested
	if residual < headerSize+h.alignment {
		return
	}

	newBlock := blockAt(b.addr() + headerSize + requested)
	newBlock.size = residual - headerSize
	newBlock.status = statusFree
	h.reg.insertAfter(b, newBlock)

	b.size = requested
}

// tailExpandable reports whether b is the registry's heap tail in the sense
// §4.3 means: either the true tail, or followed only by a MAPPED block
// (MAPPED blocks aren't physically adjacent on the heap, so b is still
// logically the last heap block).
func tailExpandable(b *blockHeader) bool {
	for n := b.next; n != nil; n = n.next {
		if n.status != statusMapped {
			return false
		}
	}

	return true
}

// bestFit runs the three-phase best-fit procedure and returns the chosen
// block for a heap-backed allocation of the given (already aligned)
// requested size. Assumes the heap has already been initialised.
func (h *Heap) bestFit(requested uintptr) (*blockHeader, error) {
	h.coalesceSweep()

	best, lastFree := h.selectBestFit(requested)

	if best != nil {
		h.splitIfPossible(best, requested)
		best.status = statusAlloc

		return best, nil
	}

	if lastFree != nil && tailExpandable(lastFree) {
		deficit := requested - lastFree.size
		if _, err := h.os.extendBreak(deficit); err != nil {
			return nil, err
		}

		lastFree.size = requested
		lastFree.status = statusAlloc

		return lastFree, nil
	}

	prevBreak, err := h.os.extendBreak(requested + headerSize)
	if err != nil {
		return nil, err
	}

	newBlock := blockAt(prevBreak)
	newBlock.size = requested
	newBlock.status = statusAlloc
	h.reg.append(newBlock)

	return newBlock, nil
}
