// Package tools holds standalone source-level utilities that sit
// beside the assembler pipeline rather than inside it: a symbol
// cross-reference report and a golden-listing diff helper for tests.
package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dccarter/cyn/parser"
)

// ReferenceKind indicates how an instruction operand used a symbol.
type ReferenceKind int

const (
	RefBranch ReferenceKind = iota // jmp/jmpz/jmpnz/call target
	RefData                       // operand names a $var or define
	RefSizeOf                     // '#' sizeof reference
)

func (k ReferenceKind) String() string {
	switch k {
	case RefBranch:
		return "branch"
	case RefSizeOf:
		return "sizeof"
	default:
		return "data"
	}
}

// Reference is one use of a symbol at a given instruction.
type Reference struct {
	Kind           ReferenceKind
	InstructionIdx int
	Mnemonic       string
	Pos            parser.Position
}

// XRefSymbol collects everything known about one name in the program:
// where it's defined (if at all) and every instruction operand that
// refers to it.
type XRefSymbol struct {
	Name       string
	Kind       parser.SymbolKind
	ID         int64
	Defined    bool
	DefPos     parser.Position
	References []Reference
}

// IsUnused reports whether a label or define was never referenced by
// any operand. Vars can be legitimately unused from the assembler's
// point of view (data consumed only by address arithmetic elsewhere),
// so callers typically exclude them from an "unused" report.
func (s *XRefSymbol) IsUnused() bool {
	return s.Defined && len(s.References) == 0
}

// BuildXRef parses src and returns a cross-reference table keyed by
// symbol name, covering every define/var/label the symbol table knows
// about plus every operand reference found across the instruction
// stream, including references to names the program never defined.
func BuildXRef(src, filename string) (map[string]*XRefSymbol, error) {
	p := parser.NewParser(src, filename)
	prog := p.Parse()
	if p.HasErrors() {
		return nil, fmt.Errorf("parse error: %s", p.Errors().Error())
	}

	table := make(map[string]*XRefSymbol)
	for name, sym := range prog.Symbols.All() {
		table[name] = &XRefSymbol{
			Name:    sym.Name,
			Kind:    sym.Kind,
			ID:      sym.ID,
			Defined: true,
			DefPos:  sym.Pos,
		}
	}

	for idx, instr := range prog.Instructions {
		for _, op := range instr.Operands {
			if op.Symbol == "" {
				continue
			}
			sym, ok := table[op.Symbol]
			if !ok {
				sym = &XRefSymbol{Name: op.Symbol}
				table[op.Symbol] = sym
			}
			kind := RefData
			switch {
			case op.SizeOf:
				kind = RefSizeOf
			case isBranchMnemonic(instr.Mnemonic):
				kind = RefBranch
			}
			sym.References = append(sym.References, Reference{
				Kind:           kind,
				InstructionIdx: idx,
				Mnemonic:       instr.Mnemonic,
				Pos:            op.Pos,
			})
		}
	}

	return table, nil
}

func isBranchMnemonic(mnemonic string) bool {
	switch mnemonic {
	case "jmp", "jmpz", "jmpnz", "call":
		return true
	default:
		return false
	}
}

// UndefinedSymbols returns names referenced but never defined, sorted.
func UndefinedSymbols(table map[string]*XRefSymbol) []string {
	var out []string
	for name, sym := range table {
		if !sym.Defined {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// UnusedSymbols returns defined labels/defines with no references,
// sorted. Vars are excluded since unreferenced data is common.
func UnusedSymbols(table map[string]*XRefSymbol) []string {
	var out []string
	for name, sym := range table {
		if sym.Kind == parser.SymbolVar {
			continue
		}
		if sym.IsUnused() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Report renders a human-readable cross-reference listing, one symbol
// per paragraph, sorted by name.
func Report(table map[string]*XRefSymbol) string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		sym := table[name]
		if sym.Defined {
			fmt.Fprintf(&b, "%s (%s, id=%d) defined at %s\n", name, sym.Kind, sym.ID, sym.DefPos)
		} else {
			fmt.Fprintf(&b, "%s (undefined)\n", name)
		}
		for _, ref := range sym.References {
			fmt.Fprintf(&b, "  %s at %s (%s)\n", ref.Kind, ref.Pos, ref.Mnemonic)
		}
	}
	return b.String()
}
