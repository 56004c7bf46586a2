package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dccarter/cyn/encoder"
	"github.com/dccarter/cyn/parser"
	"github.com/dccarter/cyn/vm"
)

func linkSource(t *testing.T, src string) ([]byte, error) {
	t.Helper()
	p := parser.NewParser(src, "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors(), "parse errors: %s", p.Errors().Error())
	instrs, err := encoder.Encode(prog)
	require.NoError(t, err)
	return Link(prog, instrs)
}

func TestLinkBackwardLabelDisplacement(t *testing.T) {
	image, err := linkSource(t, "loop:\n  jmp loop\n")
	require.NoError(t, err)

	header, err := vm.DecodeHeader(image)
	require.NoError(t, err)
	decoded, err := encoder.Disassemble(image[header.DB:header.Size], header.DB)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, int64(0), decoded[0].Instr.Imm, "jmp loop targets its own instruction's offset")
}

func TestLinkHeaderMainPointsAtMainLabel(t *testing.T) {
	image, err := linkSource(t, "jmp skip\nskip:\nmain:\n  halt\n")
	require.NoError(t, err)

	header, err := vm.DecodeHeader(image)
	require.NoError(t, err)
	decoded, err := encoder.Disassemble(image[header.DB:header.Size], header.DB)
	require.NoError(t, err)
	require.Len(t, decoded, 2) // jmp, then the halt at main:
	assert.Equal(t, decoded[1].Offset, header.Main)
}

func TestLinkUndefinedSymbolReportsError(t *testing.T) {
	_, err := linkSource(t, "jmp missing\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined symbol "missing"`)
}

func TestLinkVarPatchResolvesToDataOffset(t *testing.T) {
	image, err := linkSource(t, "$msg = \"hi\"\nmain:\n  puts msg\n  halt\n")
	require.NoError(t, err)

	header, err := vm.DecodeHeader(image)
	require.NoError(t, err)
	decoded, err := encoder.Disassemble(image[header.DB:header.Size], header.DB)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, int64(vm.HeaderSize), decoded[0].Instr.Imm)
}
