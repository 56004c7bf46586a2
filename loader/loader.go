// Package loader maps a linked binary image into a fresh VM RAM region
// and wires up the heap and stack around it.
package loader

import (
	"fmt"
	"io"

	"github.com/dccarter/cyn/vm"
)

// Options configures the RAM layout a loaded image runs in. Total RAM
// size is derived, not configured directly: image size (aligned) plus
// HeapSize plus StackSize, matching the memory layout's bottom-to-top
// regions (data+code, heap, stack).
type Options struct {
	StackSize          uint32
	HeapSize           uint32
	HeapBlocks         uint32
	HeapSplitThreshold uint32
	HeapAlignment      uint32
	MaxCycles          uint64
}

// DefaultOptions returns the sizes used when a caller doesn't override
// them: a 64KiB stack, a 256KiB heap, and the allocator defaults named
// in the heap design (32 descriptor slots, 8-byte alignment).
func DefaultOptions() Options {
	return Options{
		StackSize:          64 * 1024,
		HeapSize:           256 * 1024,
		HeapBlocks:         32,
		HeapSplitThreshold: 16,
		HeapAlignment:      8,
	}
}

// Load validates a linked image's header, copies the image into a
// freshly allocated RAM region starting at offset 0, and sets up the
// heap immediately above it with the stack above that. It returns a VM
// ready for Bootstrap and the image's entry point.
func Load(image []byte, out io.Writer, in io.Reader, opts Options) (*vm.VM, uint32, error) {
	header, err := vm.DecodeHeader(image)
	if err != nil {
		return nil, 0, err
	}
	if header.Size > uint32(len(image)) {
		return nil, 0, fmt.Errorf("image header declares size %d but only %d bytes were read", header.Size, len(image))
	}
	if header.DB < vm.HeaderSize || header.DB > header.Size {
		return nil, 0, fmt.Errorf("invalid header: db %d out of range [%d, %d]", header.DB, vm.HeaderSize, header.Size)
	}
	if header.Main >= header.Size {
		return nil, 0, fmt.Errorf("invalid header: main %d beyond image size %d", header.Main, header.Size)
	}

	heapBase := alignUp(header.Size, opts.HeapAlignment)
	stackBottom := heapBase + opts.HeapSize
	ramSize := stackBottom + opts.StackSize

	mem := vm.NewMemory(ramSize)
	if err := mem.WriteBytes(0, image[:header.Size]); err != nil {
		return nil, 0, err
	}

	heap := vm.NewHeap(mem, heapBase, opts.HeapBlocks, opts.HeapSplitThreshold, opts.HeapAlignment, stackBottom)

	machine := vm.New(mem, heap, out, in)
	machine.MaxCycles = opts.MaxCycles
	return machine, header.Main, nil
}

func alignUp(v, aln uint32) uint32 {
	if aln == 0 {
		return v
	}
	return (v + aln - 1) / aln * aln
}
