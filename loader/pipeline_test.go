package loader

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dccarter/cyn/encoder"
	"github.com/dccarter/cyn/linker"
	"github.com/dccarter/cyn/parser"
	"github.com/dccarter/cyn/vm"
)

// assembleSource runs the full source-to-image pipeline a single test
// needs: parse, encode, link. Fails the test on any diagnostic.
func assembleSource(t *testing.T, src string) []byte {
	t.Helper()
	p := parser.NewParser(src, "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors(), "parse errors: %s", p.Errors().Error())

	instrs, err := encoder.Encode(prog)
	require.NoError(t, err)

	image, err := linker.Link(prog, instrs)
	require.NoError(t, err)
	return image
}

func runImage(t *testing.T, image []byte, args []string) (*vm.VM, string) {
	t.Helper()
	var out bytes.Buffer
	opts := DefaultOptions()
	opts.MaxCycles = 100000
	machine, entry, err := Load(image, &out, strings.NewReader(""), opts)
	require.NoError(t, err)
	require.NoError(t, machine.Bootstrap(entry, args))
	require.NoError(t, machine.Run())
	return machine, out.String()
}

func TestScenarioHelloStack(t *testing.T) {
	image := assembleSource(t, "$msg = \"HI\\n\"\nmain:\n  puts msg\n  puti.b 0\n  halt\n")
	_, out := runImage(t, image, nil)
	assert.Equal(t, "HI\n0", out)
}

func TestScenarioLoopAndPrint(t *testing.T) {
	src := `main:
    mov.q r0, 3
loop:
    cmp r0, 0
    jmpz done
    puti r0
    putc ' '
    dec r0
    jmp loop
done:
    putc '\n'
    halt
`
	image := assembleSource(t, src)
	_, out := runImage(t, image, nil)
	assert.Equal(t, "3 2 1 \n", out)
}

func TestScenarioCallAndReturn(t *testing.T) {
	src := `main:
    push 7
    push 1
    call square
    pop r0
    pop r1
    puti r1
    halt
square:
    mov r1, [bp + argv]
    mul r1, r1
    push r1
    ret 1
`
	image := assembleSource(t, src)
	_, out := runImage(t, image, nil)
	assert.Equal(t, "49", out)
}

func TestScenarioHeapAllocateFreeCompact(t *testing.T) {
	src := `main:
    alloc r2, 64
    alloc r3, 32
    dlloc r2
    dlloc r3
    alloc r1, 96
    cmp r1, r2
    halt
`
	image := assembleSource(t, src)
	machine, _ := runImage(t, image, nil)
	assert.Equal(t, vm.FlagZero, machine.Reg.Flag())
}

func TestScenarioForwardLabel(t *testing.T) {
	p := parser.NewParser("main:\n    jmp end\n    halt\nend:\n    halt\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())

	instrs, err := encoder.Encode(prog)
	require.NoError(t, err)

	image, err := linker.Link(prog, instrs)
	require.NoError(t, err)

	header, err := vm.DecodeHeader(image)
	require.NoError(t, err)

	decoded, err := encoder.Disassemble(image[header.DB:header.Size], header.DB)
	require.NoError(t, err)
	require.Len(t, decoded, 3) // jmp, unreachable halt, end: halt

	jmpInstr, endInstr := decoded[0], decoded[2]
	assert.Equal(t, int64(endInstr.Offset)-int64(jmpInstr.Offset), jmpInstr.Instr.Imm)
}

func TestScenarioUndefinedSymbol(t *testing.T) {
	p := parser.NewParser("main:\n  jmp missing\n", "t.cyn")
	prog := p.Parse()
	require.False(t, p.HasErrors())

	instrs, err := encoder.Encode(prog)
	require.NoError(t, err)

	_, err = linker.Link(prog, instrs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined symbol "missing"`)
}
