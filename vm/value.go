package vm

import "math"

// A Value is the raw 8-byte contents of one register or stack slot.
// Views below reinterpret those bits; they never truncate or coerce.

// AsI64 reinterprets a raw slot as a signed 64-bit integer.
func AsI64(raw uint64) int64 { return int64(raw) }

// FromI64 reinterprets a signed 64-bit integer as a raw slot.
func FromI64(v int64) uint64 { return uint64(v) }

// AsF64 reinterprets a raw slot as an IEEE-754 double.
func AsF64(raw uint64) float64 { return math.Float64frombits(raw) }

// FromF64 reinterprets an IEEE-754 double as a raw slot.
func FromF64(f float64) uint64 { return math.Float64bits(f) }

// AsAddr reinterprets a raw slot as a VM RAM address.
func AsAddr(raw uint64) uint32 { return uint32(raw) }

// FromAddr reinterprets a VM RAM address as a raw slot.
func FromAddr(addr uint32) uint64 { return uint64(addr) }
