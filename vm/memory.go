package vm

import "fmt"

// Memory is the VM's single contiguous RAM region: the code image is
// copied into its low addresses, the heap occupies a region above that,
// and the stack grows down from the top. There is no segmentation —
// every address is a plain offset into one byte slice.
type Memory struct {
	bytes []byte
}

// NewMemory allocates a zeroed RAM region of the given size.
func NewMemory(size uint32) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// Size returns the RAM region's length in bytes.
func (m *Memory) Size() uint32 { return uint32(len(m.bytes)) }

// Bytes exposes the raw backing slice, for bulk loader copies.
func (m *Memory) Bytes() []byte { return m.bytes }

func (m *Memory) bounds(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(m.bytes)) {
		return fmt.Errorf("out of bounds access at %#x (length %d, ram size %d)", addr, n, len(m.bytes))
	}
	return nil
}

// ReadByte reads a single raw byte at addr.
func (m *Memory) ReadByte(addr uint32) (byte, error) {
	if err := m.bounds(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

// ReadWidth reads w.Bytes() little-endian bytes at addr, zero-extended
// into a uint64.
func (m *Memory) ReadWidth(addr uint32, w Width) (uint64, error) {
	n := w.Bytes()
	if err := m.bounds(addr, n); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(m.bytes[addr+uint32(i)]) << (8 * uint(i))
	}
	return v, nil
}

// WriteWidth writes the low w.Bytes() bytes of v, little-endian, at addr.
func (m *Memory) WriteWidth(addr uint32, w Width, v uint64) error {
	n := w.Bytes()
	if err := m.bounds(addr, n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		m.bytes[addr+uint32(i)] = byte(v >> (8 * uint(i)))
	}
	return nil
}

// ReadBytes copies n raw bytes starting at addr.
func (m *Memory) ReadBytes(addr uint32, n int) ([]byte, error) {
	if err := m.bounds(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.bytes[addr:addr+uint32(n)])
	return out, nil
}

// WriteBytes copies data into RAM starting at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	if err := m.bounds(addr, len(data)); err != nil {
		return err
	}
	copy(m.bytes[addr:], data)
	return nil
}

// ReadCString reads a NUL-terminated byte string starting at addr, as
// used by puts and by native calls that take C-style path arguments.
func (m *Memory) ReadCString(addr uint32) (string, error) {
	end := addr
	for {
		if err := m.bounds(end, 1); err != nil {
			return "", fmt.Errorf("unterminated string at %#x: %w", addr, err)
		}
		if m.bytes[end] == 0 {
			break
		}
		end++
	}
	return string(m.bytes[addr:end]), nil
}
