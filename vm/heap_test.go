package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, capacity uint32) (*Heap, *Memory) {
	t.Helper()
	const blocks = 8
	mem := NewMemory(blocks*heapDescriptorSize + capacity)
	h := NewHeap(mem, 0, blocks, 4, 8, mem.Size())
	return h, mem
}

func TestHeapAllocDisjointAndAligned(t *testing.T) {
	h, _ := newTestHeap(t, 1024)

	a := h.Alloc(10)
	b := h.Alloc(20)
	c := h.Alloc(3)
	require.NotZero(t, a)
	require.NotZero(t, b)
	require.NotZero(t, c)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)
	assert.NotEqual(t, a, c)
	assert.Zero(t, a%8)
	assert.Zero(t, b%8)
	assert.Zero(t, c%8)
}

func TestHeapFreeAndCompact(t *testing.T) {
	h, _ := newTestHeap(t, 256)

	a := h.Alloc(32)
	b := h.Alloc(32)
	c := h.Alloc(32)
	require.NotZero(t, a)
	require.NotZero(t, b)
	require.NotZero(t, c)

	assert.True(t, h.Free(a))
	assert.True(t, h.Free(b))
	assert.True(t, h.Free(c))

	assert.LessOrEqual(t, h.FreeBlockCount(), 1)
}

func TestHeapFreeUnknownAddress(t *testing.T) {
	h, _ := newTestHeap(t, 64)
	assert.False(t, h.Free(9999))
}

func TestHeapFreeZeroIsNoop(t *testing.T) {
	h, _ := newTestHeap(t, 64)
	assert.True(t, h.Free(0))
}

func TestHeapExhaustion(t *testing.T) {
	h, _ := newTestHeap(t, 16)
	a := h.Alloc(16)
	require.NotZero(t, a)
	b := h.Alloc(16)
	assert.Zero(t, b)
}

func TestHeapReuseAfterFree(t *testing.T) {
	h, _ := newTestHeap(t, 64)
	a := h.Alloc(32)
	require.True(t, h.Free(a))
	b := h.Alloc(32)
	assert.Equal(t, a, b)
}
