package vm

// Heap is a free-list allocator carved out of a fixed region of VM RAM,
// sitting between the data block and the stack. Its own bookkeeping —
// three singly linked lists of block descriptors (free, used, fresh) —
// lives inside that same region, addressed by descriptor index rather
// than by pointer: an arena of fixed-size descriptor slots plus integer
// handles, so there is never an owning pointer into guest memory for Go
// code to mismanage.
type Heap struct {
	mem   *Memory
	base  uint32 // hlm: start of the descriptor pool
	count uint32 // number of descriptor slots
	sth   uint32 // split threshold
	aln   uint32 // alignment
	limit uint32 // heap ceiling (stack bottom)
	top   uint32 // bump pointer for the never-yet-split region

	free  int32
	used  int32
	fresh int32
}

const (
	heapDescriptorSize = 12 // next(int32) + size(uint32) + addr(uint32)
	heapNil            = -1
)

// NewHeap initializes a heap with count descriptor slots immediately
// following base, a split threshold sth, byte alignment aln, and a hard
// ceiling at limit (normally the stack's lowest address).
func NewHeap(mem *Memory, base, count, sth, aln, limit uint32) *Heap {
	h := &Heap{
		mem: mem, base: base, count: count, sth: sth, aln: aln, limit: limit,
		free: heapNil, used: heapNil,
	}
	h.top = base + count*heapDescriptorSize

	for i := uint32(0); i < count; i++ {
		next := int32(i) + 1
		if i == count-1 {
			next = heapNil
		}
		h.writeBlock(int32(i), next, 0, 0)
	}
	h.fresh = 0
	if count == 0 {
		h.fresh = heapNil
	}
	return h
}

func (h *Heap) slotOffset(i int32) uint32 {
	return h.base + uint32(i)*heapDescriptorSize
}

func (h *Heap) readBlock(i int32) (next int32, size, addr uint32) {
	off := h.slotOffset(i)
	rawNext, _ := h.mem.ReadWidth(off, WidthWord)
	sz, _ := h.mem.ReadWidth(off+4, WidthWord)
	ad, _ := h.mem.ReadWidth(off+8, WidthWord)
	return int32(rawNext), uint32(sz), uint32(ad)
}

func (h *Heap) writeBlock(i int32, next int32, size, addr uint32) {
	off := h.slotOffset(i)
	_ = h.mem.WriteWidth(off, WidthWord, uint64(uint32(next)))
	_ = h.mem.WriteWidth(off+4, WidthWord, uint64(size))
	_ = h.mem.WriteWidth(off+8, WidthWord, uint64(addr))
}

func (h *Heap) next(i int32) int32 {
	n, _, _ := h.readBlock(i)
	return n
}

func (h *Heap) setNext(i, next int32) {
	_, size, addr := h.readBlock(i)
	h.writeBlock(i, next, size, addr)
}

func (h *Heap) sizeOf(i int32) uint32 {
	_, size, _ := h.readBlock(i)
	return size
}

func (h *Heap) setSize(i int32, size uint32) {
	next, _, addr := h.readBlock(i)
	h.writeBlock(i, next, size, addr)
}

func (h *Heap) addrOf(i int32) uint32 {
	_, _, addr := h.readBlock(i)
	return addr
}

func (h *Heap) setAddr(i int32, addr uint32) {
	next, size, _ := h.readBlock(i)
	h.writeBlock(i, next, size, addr)
}

// insertFree inserts block i into the free list in ascending address
// order.
func (h *Heap) insertFree(i int32) {
	ptr := h.free
	prev := int32(heapNil)
	for ptr != heapNil {
		if h.addrOf(i) <= h.addrOf(ptr) {
			break
		}
		prev = ptr
		ptr = h.next(ptr)
	}
	if prev != heapNil {
		h.setNext(prev, i)
	} else {
		h.free = i
	}
	h.setNext(i, ptr)
}

// releaseRange moves every descriptor in [scan, to) back onto the fresh
// list, clearing its size/addr.
func (h *Heap) releaseRange(scan, to int32) {
	for scan != to {
		n := h.next(scan)
		h.setNext(scan, h.fresh)
		h.fresh = scan
		h.setSize(scan, 0)
		h.setAddr(scan, 0)
		scan = n
	}
}

// compact merges adjacent free blocks (ascending, contiguous in
// address) into one, releasing the absorbed descriptors to fresh.
func (h *Heap) compact() {
	ptr := h.free
	for ptr != heapNil {
		prev := ptr
		scan := h.next(ptr)
		for scan != heapNil && h.addrOf(prev)+h.sizeOf(prev) == h.addrOf(scan) {
			prev = scan
			scan = h.next(scan)
		}
		if prev != ptr {
			newSize := h.addrOf(prev) + h.sizeOf(prev) - h.addrOf(ptr)
			h.setSize(ptr, newSize)
			after := h.next(prev)
			h.releaseRange(h.next(ptr), after)
			h.setNext(ptr, after)
		}
		ptr = h.next(ptr)
	}
}

func alignUp(size, aln uint32) uint32 {
	if aln == 0 {
		return size
	}
	return (size + aln - 1) / aln * aln
}

// Alloc reserves size bytes (rounded up to the heap's alignment) and
// returns their address, or 0 if the heap is exhausted.
func (h *Heap) Alloc(size uint32) uint32 {
	size = alignUp(size, h.aln)

	ptr := h.free
	prev := int32(heapNil)
	for ptr != heapNil {
		addr, blockSize := h.addrOf(ptr), h.sizeOf(ptr)
		next := h.next(ptr)
		isTop := addr+blockSize >= h.top && addr+size <= h.limit
		if isTop || blockSize >= size {
			if prev != heapNil {
				h.setNext(prev, next)
			} else {
				h.free = next
			}
			h.setNext(ptr, h.used)
			h.used = ptr

			if isTop {
				h.setSize(ptr, size)
				h.top = addr + size
			} else if h.fresh != heapNil {
				excess := blockSize - size
				if excess >= h.sth {
					h.setSize(ptr, size)
					split := h.fresh
					h.fresh = h.next(split)
					h.setAddr(split, addr+size)
					h.setSize(split, excess)
					h.insertFree(split)
					h.compact()
				}
			}
			return addr
		}
		prev = ptr
		ptr = next
	}

	newTop := h.top + size
	if h.fresh != heapNil && newTop <= h.limit {
		block := h.fresh
		h.fresh = h.next(block)
		addr := h.top
		h.setAddr(block, addr)
		h.setNext(block, h.used)
		h.setSize(block, size)
		h.used = block
		h.top = newTop
		return addr
	}
	return 0
}

// Free releases the allocation at addr, returning false if addr is not
// a currently live allocation. free(0) is always a no-op success.
func (h *Heap) Free(addr uint32) bool {
	if addr == 0 {
		return true
	}
	ptr := h.used
	prev := int32(heapNil)
	for ptr != heapNil {
		if h.addrOf(ptr) == addr {
			if prev != heapNil {
				h.setNext(prev, h.next(ptr))
			} else {
				h.used = h.next(ptr)
			}
			h.insertFree(ptr)
			h.compact()
			return true
		}
		prev = ptr
		ptr = h.next(ptr)
	}
	return false
}

// FreeBlockCount returns the number of descriptors currently on the
// free list, exposed for testing the compaction invariant.
func (h *Heap) FreeBlockCount() int {
	n := 0
	for ptr := h.free; ptr != heapNil; ptr = h.next(ptr) {
		n++
	}
	return n
}

// FreeCapacity returns the sum of sizes of all free blocks.
func (h *Heap) FreeCapacity() uint32 {
	var total uint32
	for ptr := h.free; ptr != heapNil; ptr = h.next(ptr) {
		total += h.sizeOf(ptr)
	}
	return total
}
