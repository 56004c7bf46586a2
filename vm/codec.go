package vm

import "fmt"

// Encode appends the binary form of instr to buf and returns the
// extended slice along with the number of bytes written. This is the
// sole encoder, used by the linker (C6); Decode, used by the executor
// and the disassembler, is its exact inverse, so the two can never drift.
func Encode(buf []byte, instr Instruction) ([]byte, int) {
	start := len(buf)
	arity := instr.Op.Arity()

	buf = append(buf, byte(instr.Op)<<2|byte(instr.Dsz))
	if arity == 0 {
		return buf, len(buf) - start
	}

	var b2 byte
	if arity == 1 {
		if instr.Mode == AddrReg {
			b2 = byte(instr.AReg) << 4
		}
		// else: the register-id nibble carries no register (immediate
		// instructions have no A register); the width lives in the low bits.
		if instr.AMem {
			b2 |= 1 << 3
		}
		b2 |= byte(instr.Mode) << 2
		b2 |= byte(instr.Ims)
	} else {
		b2 = byte(instr.AReg) << 4
		if instr.AMem {
			b2 |= 1 << 3
		}
		b2 |= byte(instr.Mode) << 2
		b2 |= byte(instr.Ims)
	}
	buf = append(buf, b2)

	if arity == 2 {
		var b3 byte
		b3 = byte(instr.BReg) << 4
		if instr.BMem {
			b3 |= 1 << 3
		}
		if instr.BEA {
			b3 |= 1 << 2
		}
		buf = append(buf, b3)
	}

	if instr.HasImmediate() {
		buf = appendImmediate(buf, instr.Imm, instr.Ims)
	}

	return buf, len(buf) - start
}

func appendImmediate(buf []byte, v int64, w Width) []byte {
	u := uint64(v)
	switch w {
	case WidthByte:
		return append(buf, byte(u))
	case WidthShort:
		return append(buf, byte(u), byte(u>>8))
	case WidthWord:
		return append(buf, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
	default:
		return append(buf, byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
			byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56))
	}
}

func readImmediate(buf []byte, w Width) (int64, error) {
	n := w.Bytes()
	if len(buf) < n {
		return 0, fmt.Errorf("immediate truncated: need %d bytes, have %d", n, len(buf))
	}
	var u uint64
	for i := 0; i < n; i++ {
		u |= uint64(buf[i]) << (8 * uint(i))
	}
	switch w {
	case WidthByte:
		return int64(int8(u)), nil
	case WidthShort:
		return int64(int16(u)), nil
	case WidthWord:
		return int64(int32(u)), nil
	default:
		return int64(u), nil
	}
}

// Decode reads one instruction starting at buf[offset] and returns it
// along with the number of bytes consumed.
func Decode(buf []byte, offset int) (Instruction, int, error) {
	if offset >= len(buf) {
		return Instruction{}, 0, fmt.Errorf("decode: offset %d beyond buffer of length %d", offset, len(buf))
	}
	start := offset
	b1 := buf[offset]
	offset++
	op := Opcode(b1 >> 2)
	if op >= opcodeCount {
		return Instruction{}, 0, fmt.Errorf("decode: invalid opcode %d at offset %d", b1>>2, start)
	}
	instr := Instruction{Op: op, Dsz: Width(b1 & 0b11)}
	arity := op.Arity()
	if arity == 0 {
		return instr, offset - start, nil
	}

	if offset >= len(buf) {
		return Instruction{}, 0, fmt.Errorf("decode: truncated operand-A byte at offset %d", offset)
	}
	b2 := buf[offset]
	offset++
	reg := Reg(b2 >> 4)
	instr.AMem = b2&(1<<3) != 0
	instr.Mode = AddrMode((b2 >> 2) & 1)
	instr.Ims = Width(b2 & 0b11)
	instr.AReg = reg

	if arity == 2 {
		if offset >= len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated operand-B byte at offset %d", offset)
		}
		b3 := buf[offset]
		offset++
		instr.BReg = Reg(b3 >> 4)
		instr.BMem = b3&(1<<3) != 0
		instr.BEA = b3&(1<<2) != 0
	}

	if instr.HasImmediate() {
		imm, err := readImmediate(buf[offset:], instr.Ims)
		if err != nil {
			return Instruction{}, 0, fmt.Errorf("decode: %w", err)
		}
		instr.Imm = imm
		offset += instr.Ims.Bytes()
	}

	return instr, offset - start, nil
}
