// Package linker resolves an assembled program's patch list and emits
// the final binary image: header, data block, and instruction stream.
package linker

import (
	"fmt"

	"github.com/dccarter/cyn/parser"
	"github.com/dccarter/cyn/vm"
)

// Link resolves every patch recorded against prog's symbol table
// against instrs, then serializes the full image. Undefined symbols
// are reported as errors on the returned ErrorList but do not stop the
// pass early: every instruction is still encoded (with a zero
// placeholder immediate for anything that failed to resolve) so a
// single run surfaces every remaining diagnostic.
func Link(prog *parser.Program, instrs []vm.Instruction) ([]byte, error) {
	db := vm.HeaderSize + len(prog.DataBytes)

	offsets := make([]int, len(instrs))
	offset := db
	for i, instr := range instrs {
		offsets[i] = offset
		_, n := vm.Encode(nil, instr)
		offset += n
	}

	errs := &parser.ErrorList{}
	for _, patch := range prog.Symbols.Patches() {
		sym, ok := prog.Symbols.Lookup(patch.Name)
		if !ok {
			errs.AddError(parser.NewError(patch.Pos, parser.ErrorUnresolvedReference,
				fmt.Sprintf("undefined symbol %q", patch.Name)))
			continue
		}
		switch sym.Kind {
		case parser.SymbolLabel:
			if int(sym.ID) >= len(offsets) {
				errs.AddError(parser.NewError(patch.Pos, parser.ErrorUnresolvedReference,
					fmt.Sprintf("label %q has no corresponding instruction", patch.Name)))
				continue
			}
			instrs[patch.InstrIndex].Imm = int64(offsets[sym.ID] - offsets[patch.InstrIndex])
		case parser.SymbolVar:
			instrs[patch.InstrIndex].Imm = int64(vm.HeaderSize) + sym.ID
		default:
			errs.AddError(parser.NewError(patch.Pos, parser.ErrorUnresolvedReference,
				fmt.Sprintf("%q does not name a label or variable", patch.Name)))
		}
	}

	buf := make([]byte, 0, offset)
	buf = append(buf, make([]byte, vm.HeaderSize)...)
	buf = append(buf, prog.DataBytes...)
	for _, instr := range instrs {
		buf, _ = vm.Encode(buf, instr)
	}

	main := uint32(db)
	if sym, ok := prog.Symbols.Lookup("main"); ok && sym.Kind == parser.SymbolLabel && int(sym.ID) < len(offsets) {
		main = uint32(offsets[sym.ID])
	}
	for _, sym := range prog.Symbols.All() {
		if sym.Kind == parser.SymbolLabel && int(sym.ID) < len(offsets) {
			sym.ID = int64(offsets[sym.ID])
		}
	}
	header := vm.CodeHeader{Size: uint32(len(buf)), DB: uint32(db), Main: main}
	headerBytes := header.Encode(nil)
	copy(buf[:vm.HeaderSize], headerBytes)

	if errs.HasErrors() {
		return buf, errs
	}
	return buf, nil
}
