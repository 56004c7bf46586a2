package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dccarter/cyn/parser"
	"github.com/dccarter/cyn/vm"
)

func encodeSource(t *testing.T, src string) (*parser.Program, []vm.Instruction) {
	t.Helper()
	p := parser.NewParser(src, "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors(), "parse errors: %s", p.Errors().Error())
	instrs, err := Encode(prog)
	require.NoError(t, err)
	return prog, instrs
}

func TestEncodeRegisterOperand(t *testing.T) {
	_, instrs := encodeSource(t, "mov r0, r1\n")
	instr := instrs[0]
	assert.Equal(t, vm.OpMov, instr.Op)
	assert.Equal(t, vm.AddrReg, instr.Mode)
	assert.Equal(t, vm.R0, instr.AReg)
	assert.Equal(t, vm.R1, instr.BReg)
}

func TestEncodeImmediatePicksNarrowestWidth(t *testing.T) {
	_, instrs := encodeSource(t, "mov r0, 5\n")
	assert.Equal(t, vm.WidthByte, instrs[0].Ims)
	assert.Equal(t, int64(5), instrs[0].Imm)
}

func TestEncodeNegativeImmediateForcesQuadWidth(t *testing.T) {
	_, instrs := encodeSource(t, "mov r0, -1\n")
	assert.Equal(t, vm.WidthQuad, instrs[0].Ims)
}

func TestEncodeDefineResolvesImmediately(t *testing.T) {
	_, instrs := encodeSource(t, "mov r0, argc\n")
	assert.Equal(t, int64(vm.FrameArgc), instrs[0].Imm)
}

func TestEncodeForwardLabelIsDeferredAsPatch(t *testing.T) {
	prog, instrs := encodeSource(t, "jmp done\ndone:\n  halt\n")
	assert.Equal(t, int64(0), instrs[0].Imm)

	patches := prog.Symbols.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, "done", patches[0].Name)
	assert.Equal(t, 0, patches[0].InstrIndex)
}

func TestEncodeNegativeCountOperandIsError(t *testing.T) {
	p := parser.NewParser("popn -1\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())
	_, err := Encode(prog)
	assert.Error(t, err)
}

func TestEncodeEffectiveAddressDisplacement(t *testing.T) {
	_, instrs := encodeSource(t, "add r0, [r1, +16]\n")
	instr := instrs[0]
	assert.True(t, instr.BEA)
	assert.Equal(t, int64(16), instr.Imm)
}
