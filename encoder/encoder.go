// Package encoder translates a parsed assembly program into the
// in-memory vm.Instruction form, resolving every symbol reference it
// can at encode time and deferring the rest to the linker's patch pass.
package encoder

import (
	"fmt"

	"github.com/dccarter/cyn/parser"
	"github.com/dccarter/cyn/vm"
)

// Encode turns prog's instruction list into their vm.Instruction form.
// define and var references are resolved immediately (a var's absolute
// offset only depends on the fixed header size, never on link-time
// layout); label references, and any symbol absent from the table at
// this point, are left as a zero quad-width placeholder and recorded
// as a patch on prog.Symbols for the linker to resolve.
func Encode(prog *parser.Program) ([]vm.Instruction, error) {
	out := make([]vm.Instruction, len(prog.Instructions))
	errs := &parser.ErrorList{}

	for i, asm := range prog.Instructions {
		instr, err := encodeInstruction(prog, asm)
		if err != nil {
			errs.AddError(parser.NewError(asm.Pos, parser.ErrorInvalidOperand, err.Error()))
			continue
		}
		out[i] = instr
	}

	if errs.HasErrors() {
		return out, errs
	}
	return out, nil
}

func encodeInstruction(prog *parser.Program, asm *parser.AsmInstruction) (vm.Instruction, error) {
	dsz := vm.WidthQuad
	if asm.HasModeSuffix {
		dsz = asm.ModeSuffix
	}
	instr := vm.Instruction{Op: asm.Op, Dsz: dsz}

	switch asm.Op.Arity() {
	case 0:
		return instr, nil
	case 1:
		return encodeUnary(prog, asm, instr)
	default:
		return encodeBinary(prog, asm, instr)
	}
}

func encodeUnary(prog *parser.Program, asm *parser.AsmInstruction, instr vm.Instruction) (vm.Instruction, error) {
	op := asm.Operands[0]
	if op.EA {
		return instr, fmt.Errorf("%s: effective-address displacement is not supported on single-operand instructions", asm.Mnemonic)
	}

	if op.HasReg {
		instr.Mode = vm.AddrReg
		instr.AReg = op.Reg
		instr.AMem = op.Memory
		instr.Ims = instr.Dsz
		return instr, nil
	}

	instr.Mode = vm.AddrImm
	instr.AMem = op.Memory
	imm, width, deferred, err := resolveValue(prog, asm, op)
	if err != nil {
		return instr, err
	}
	instr.Imm = imm
	instr.Ims = width
	if deferred != "" {
		prog.Symbols.AddPatch(asm.Index, deferred, op.Pos)
	}
	if err := checkSign(asm, imm); err != nil {
		return instr, err
	}
	return instr, nil
}

func encodeBinary(prog *parser.Program, asm *parser.AsmInstruction, instr vm.Instruction) (vm.Instruction, error) {
	dst := asm.Operands[0]
	if !dst.HasReg {
		return instr, fmt.Errorf("%s: destination operand must be a register or register memory reference", asm.Mnemonic)
	}
	if dst.EA {
		return instr, fmt.Errorf("%s: effective-address displacement is not supported on the destination operand", asm.Mnemonic)
	}
	instr.AReg = dst.Reg
	instr.AMem = dst.Memory

	src := asm.Operands[1]
	if src.EA && !src.HasReg {
		return instr, fmt.Errorf("%s: effective-address displacement requires a register base", asm.Mnemonic)
	}

	if src.HasReg {
		instr.Mode = vm.AddrReg
		instr.BReg = src.Reg
		instr.BMem = src.Memory
		instr.BEA = src.EA
		if src.EA {
			instr.Imm = src.Disp
			instr.Ims = widthFor(src.Disp)
		} else {
			instr.Ims = instr.Dsz
		}
		return instr, nil
	}

	instr.Mode = vm.AddrImm
	instr.BMem = src.Memory
	imm, width, deferred, err := resolveValue(prog, asm, src)
	if err != nil {
		return instr, err
	}
	instr.Imm = imm
	instr.Ims = width
	if deferred != "" {
		prog.Symbols.AddPatch(asm.Index, deferred, src.Pos)
	}
	if err := checkSign(asm, imm); err != nil {
		return instr, err
	}
	return instr, nil
}

// resolveValue computes the immediate and its encoded width for an
// operand that is not register-addressed. define/var symbols resolve
// to a concrete value immediately; a label, or any symbol not yet in
// the table, is returned with a zero placeholder and its name so the
// caller can register a link-time patch.
func resolveValue(prog *parser.Program, asm *parser.AsmInstruction, op parser.Operand) (int64, vm.Width, string, error) {
	if op.Symbol != "" && !op.SizeOf {
		sym, ok := prog.Symbols.Lookup(op.Symbol)
		if !ok {
			return 0, vm.WidthQuad, op.Symbol, nil
		}
		switch sym.Kind {
		case parser.SymbolDefine:
			return sym.ID, widthFor(sym.ID), "", nil
		case parser.SymbolVar:
			abs := int64(vm.HeaderSize) + sym.ID
			return abs, widthFor(abs), "", nil
		default: // SymbolLabel: always deferred to the linker, forward or not.
			return 0, vm.WidthQuad, op.Symbol, nil
		}
	}

	if op.IsFloat {
		return int64(vm.FromF64(op.FloatValue)), vm.WidthQuad, "", nil
	}
	if !op.HasLiteral {
		return 0, 0, "", fmt.Errorf("%s: operand has no resolvable value", asm.Mnemonic)
	}
	return op.IntValue, widthFor(op.IntValue), "", nil
}

// widthFor picks the narrowest encoding width for a resolved value,
// matching integer_width's unsigned-magnitude rule; negative values
// always take the full quad width since their unsigned bit pattern
// would otherwise force it anyway.
func widthFor(v int64) vm.Width {
	if v < 0 {
		return vm.WidthQuad
	}
	return vm.IntegerWidth(uint64(v))
}

// countOperandOps forbid a negative operand value: they size a
// count or a native-call id, never a signed quantity.
var countOperandOps = map[vm.Opcode]bool{
	vm.OpPopn:   true,
	vm.OpAlloc:  true,
	vm.OpAlloca: true,
	vm.OpRmem:   true,
	vm.OpNcall:  true,
}

func checkSign(asm *parser.AsmInstruction, imm int64) error {
	if countOperandOps[asm.Op] && imm < 0 {
		return fmt.Errorf("%s: negative value not allowed in this context", asm.Mnemonic)
	}
	return nil
}
