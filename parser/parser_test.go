package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dccarter/cyn/vm"
)

func parse(t *testing.T, src string) *Program {
	t.Helper()
	p := NewParser(src, "t.cyn")
	prog := p.Parse()
	return prog
}

func TestParserVarDeclString(t *testing.T) {
	p := NewParser(`$msg = "hi"`+"\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	require.Len(t, prog.Data, 1)
	assert.Equal(t, "msg", prog.Data[0].Name)
	assert.Equal(t, []byte("hi\x00"), prog.DataBytes)
	sym, ok := prog.Symbols.Lookup("msg")
	require.True(t, ok)
	assert.Equal(t, SymbolVar, sym.Kind)
}

func TestParserVarDeclByteList(t *testing.T) {
	p := NewParser("$buf = {1, 2, 3}\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	assert.Equal(t, []byte{1, 2, 3}, prog.DataBytes)
}

func TestParserVarDeclReservation(t *testing.T) {
	p := NewParser("$buf = [4]`w\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	assert.Equal(t, uint32(16), prog.Data[0].Size)
}

func TestParserVarDeclScalar(t *testing.T) {
	p := NewParser("$n = 42\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	assert.Equal(t, uint32(1), prog.Data[0].Size) // fits in a byte
}

func TestParserLabelAndInstruction(t *testing.T) {
	p := NewParser("main:\n  mov r0, 1\n  halt\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	require.Len(t, prog.Instructions, 2)

	sym, ok := prog.Symbols.Lookup("main")
	require.True(t, ok)
	assert.Equal(t, SymbolLabel, sym.Kind)
	assert.Equal(t, int64(0), sym.ID)

	mov := prog.Instructions[0]
	assert.Equal(t, vm.OpMov, mov.Op)
	require.Len(t, mov.Operands, 2)
	assert.True(t, mov.Operands[0].HasReg)
	assert.Equal(t, vm.R0, mov.Operands[0].Reg)
	assert.Equal(t, int64(1), mov.Operands[1].IntValue)
}

func TestParserModeSuffix(t *testing.T) {
	p := NewParser("mov.w r0, 4096\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	instr := prog.Instructions[0]
	require.True(t, instr.HasModeSuffix)
	assert.Equal(t, vm.WidthWord, instr.ModeSuffix)
}

func TestParserMemoryOperandWithDisplacement(t *testing.T) {
	p := NewParser("add r0, [r1, +8]\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	operand := prog.Instructions[0].Operands[1]
	assert.True(t, operand.Memory)
	assert.True(t, operand.EA)
	assert.Equal(t, int64(8), operand.Disp)
}

func TestParserForwardLabelReferenceIsDeferred(t *testing.T) {
	p := NewParser("jmp done\ndone:\n  halt\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	operand := prog.Instructions[0].Operands[0]
	assert.Equal(t, "done", operand.Symbol)
	assert.False(t, operand.HasLiteral)
}

func TestParserUnknownMnemonicIsError(t *testing.T) {
	p := NewParser("bogus r0\n", "t.cyn")
	p.Parse()
	assert.True(t, p.HasErrors())
}

func TestParserDuplicateSymbolIsError(t *testing.T) {
	p := NewParser("foo:\nfoo:\n", "t.cyn")
	p.Parse()
	assert.True(t, p.HasErrors())
}

func TestParserSizeOfRequiresPriorDefinition(t *testing.T) {
	p := NewParser("mov r0, #later\nlater: halt\n", "t.cyn")
	p.Parse()
	assert.True(t, p.HasErrors())
}

func TestParserPredefinedSymbolsSeeded(t *testing.T) {
	p := NewParser("halt\n", "t.cyn")
	p.Parse()
	_, ok := p.program.Symbols.Lookup("argc")
	assert.True(t, ok)
	_, ok = p.program.Symbols.Lookup("__stdout")
	assert.True(t, ok)
}
