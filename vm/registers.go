package vm

// Registers is the ten-slot register file: six general-purpose slots,
// sp, ip, bp, and flg.
type Registers struct {
	slots [NumRegs]uint64
}

// Get returns the full 8-byte contents of reg.
func (r *Registers) Get(reg Reg) uint64 { return r.slots[reg] }

// Set replaces the full 8-byte contents of reg.
func (r *Registers) Set(reg Reg, v uint64) { r.slots[reg] = v }

// GetWidth reads the low w.Bytes() bytes of reg, zero-extended.
func (r *Registers) GetWidth(reg Reg, w Width) uint64 {
	return maskWidth(r.slots[reg], w)
}

// SetWidth writes the low w.Bytes() bytes of reg, leaving the untouched
// upper bytes exactly as they were: narrow writes are not zero-extended.
func (r *Registers) SetWidth(reg Reg, w Width, v uint64) {
	mask := widthMask(w)
	r.slots[reg] = (r.slots[reg] &^ mask) | (v & mask)
}

// Flag returns the current flg contents.
func (r *Registers) Flag() uint64 { return r.slots[FLG] }

// SetFlag overwrites flg with exactly one of FlagZero/FlagLess/FlagGreater.
func (r *Registers) SetFlag(f uint64) { r.slots[FLG] = f }

func widthMask(w Width) uint64 {
	switch w {
	case WidthByte:
		return 0xFF
	case WidthShort:
		return 0xFFFF
	case WidthWord:
		return 0xFFFFFFFF
	default:
		return ^uint64(0)
	}
}

func maskWidth(v uint64, w Width) uint64 {
	return v & widthMask(w)
}
