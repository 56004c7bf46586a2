package parser

import "github.com/dccarter/cyn/vm"

// Operand is one parsed instruction argument. Only the fields relevant
// to the operand's actual shape are populated; encoder.Encode decides
// which apply based on Memory/EA/Mode/HasLiteral/Symbol.
type Operand struct {
	Memory bool // leading '[' ... ']'
	EA     bool // '[reg, +/- disp]' effective address

	Mode vm.AddrMode // AddrReg when operand names a register, AddrImm otherwise

	HasReg bool
	Reg    vm.Reg

	Symbol string // referenced define/var/label name, empty if a literal
	SizeOf bool   // '#' prefix: value was sizeof(Symbol), resolved at parse time

	HasLiteral bool
	IntValue   int64
	IsFloat    bool
	FloatValue float64

	// Effective-address displacement, resolved at parse time whether
	// literal or a #name size-of.
	Disp int64

	Pos Position
}

// AsmInstruction is one parsed instruction line, before symbol
// resolution and encoding.
type AsmInstruction struct {
	Mnemonic      string
	Op            vm.Opcode
	ModeSuffix    vm.Width
	HasModeSuffix bool
	Operands      []Operand
	Index         int
	Pos           Position
}

// DataItem is one parsed `$name = ...` variable declaration.
type DataItem struct {
	Name   string
	Offset uint32
	Size   uint32
	Pos    Position
}

// Program is the full parsed result of one assembly source file: the
// instruction list (in source order, addressed by index until linking
// assigns byte offsets), the concatenated data block, and the symbol
// table with its patch list of forward references.
type Program struct {
	Instructions []*AsmInstruction
	Data         []*DataItem
	DataBytes    []byte
	Symbols      *SymbolTable
}
