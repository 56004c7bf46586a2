package encoder

import (
	"fmt"
	"strings"

	"github.com/dccarter/cyn/vm"
)

// DisassembledInstruction is one decoded instruction annotated with its
// absolute offset, for listing output.
type DisassembledInstruction struct {
	Offset uint32
	Instr  vm.Instruction
	Length int
}

// Disassemble decodes every instruction in code (the instruction
// stream starting at header.DB) until it is exhausted.
func Disassemble(code []byte, base uint32) ([]DisassembledInstruction, error) {
	var out []DisassembledInstruction
	off := 0
	for off < len(code) {
		instr, n, err := vm.Decode(code, off)
		if err != nil {
			return out, fmt.Errorf("at offset %#x: %w", base+uint32(off), err)
		}
		out = append(out, DisassembledInstruction{Offset: base + uint32(off), Instr: instr, Length: n})
		off += n
	}
	return out, nil
}

// Format renders one decoded instruction in assembly-like text.
// hideAddr suppresses the leading offset column, useful for diffing
// listings across relinked images whose absolute addresses shift.
func Format(d DisassembledInstruction, hideAddr bool) string {
	var b strings.Builder
	if !hideAddr {
		fmt.Fprintf(&b, "%08x: ", d.Offset)
	}
	instr := d.Instr
	fmt.Fprintf(&b, "%s.%s", instr.Op, instr.Dsz)

	switch instr.Op.Arity() {
	case 0:
	case 1:
		b.WriteByte(' ')
		b.WriteString(formatOperandA(instr))
	default:
		b.WriteByte(' ')
		b.WriteString(formatOperandA(instr))
		b.WriteString(", ")
		b.WriteString(formatOperandB(instr))
	}
	return b.String()
}

func formatOperandA(instr vm.Instruction) string {
	if instr.Mode == vm.AddrReg {
		if instr.AMem {
			return fmt.Sprintf("[%s]", instr.AReg)
		}
		return instr.AReg.String()
	}
	if instr.AMem {
		return fmt.Sprintf("[%#x]", uint64(instr.Imm))
	}
	return fmt.Sprintf("%d", instr.Imm)
}

func formatOperandB(instr vm.Instruction) string {
	if instr.Mode == vm.AddrReg {
		if !instr.BMem {
			return instr.BReg.String()
		}
		if instr.BEA {
			if instr.Imm < 0 {
				return fmt.Sprintf("[%s, -%d]", instr.BReg, -instr.Imm)
			}
			return fmt.Sprintf("[%s, +%d]", instr.BReg, instr.Imm)
		}
		return fmt.Sprintf("[%s]", instr.BReg)
	}
	if instr.BMem {
		return fmt.Sprintf("[%#x]", uint64(instr.Imm))
	}
	return fmt.Sprintf("%d", instr.Imm)
}
