package debugger

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dccarter/cyn/encoder"
	"github.com/dccarter/cyn/loader"
	"github.com/dccarter/cyn/parser"
	"github.com/dccarter/cyn/vm"
)

// StepMode controls how the run loop advances the VM between prompts.
type StepMode int

const (
	StepNone StepMode = iota
	StepSingle
	StepOver
)

// Debugger wraps a VM with breakpoints, command history, and symbol
// information so a CLI or TUI front end can drive execution one step
// or one breakpoint at a time.
type Debugger struct {
	VM    *vm.VM
	Entry uint32
	Image []byte

	Breakpoints *BreakpointManager
	History     *CommandHistory
	Symbols     *parser.SymbolTable

	Running  bool
	StepMode StepMode

	// Output accumulates text produced by command handlers, separate
	// from the VM's own program stdout (VM.Out). A front end drains it
	// with GetOutput after each command.
	Output strings.Builder

	commands map[string]func([]string) error
}

// New builds a Debugger around an already-loaded VM image. The VM's
// program stdout/stdin were already wired when it was constructed;
// command output goes through the Debugger's own buffer instead.
func New(machine *vm.VM, entry uint32, image []byte, symbols *parser.SymbolTable) *Debugger {
	d := &Debugger{
		VM:          machine,
		Entry:       entry,
		Image:       image,
		Breakpoints: NewBreakpointManager(),
		History:     NewCommandHistory(),
		Symbols:     symbols,
	}
	d.commands = map[string]func([]string) error{
		"continue": d.cmdContinue, "c": d.cmdContinue,
		"step": d.cmdStep, "s": d.cmdStep,
		"next": d.cmdNext, "n": d.cmdNext,
		"break": d.cmdBreak, "b": d.cmdBreak,
		"delete": d.cmdDelete, "d": d.cmdDelete,
		"regs": d.cmdRegs, "r": d.cmdRegs,
		"stack":  d.cmdStack,
		"disasm": d.cmdDisasm,
		"list":   d.cmdListBreaks,
		"help":   d.cmdHelp,
	}
	return d
}

// LoadFromImage loads an already linked image through the loader,
// returning a ready Debugger. Used by the cmd/asm debug subcommand.
func LoadFromImage(image []byte, symbols *parser.SymbolTable, out io.Writer, in io.Reader, opts loader.Options) (*Debugger, error) {
	machine, entry, err := loader.Load(image, out, in, opts)
	if err != nil {
		return nil, err
	}
	return New(machine, entry, image, symbols), nil
}

func (d *Debugger) Println(args ...interface{}) {
	fmt.Fprintln(&d.Output, args...)
}

func (d *Debugger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(&d.Output, format, args...)
}

// GetOutput returns and clears the accumulated command output.
func (d *Debugger) GetOutput() string {
	s := d.Output.String()
	d.Output.Reset()
	return s
}

// ExecuteCommand parses and dispatches a single command line.
func (d *Debugger) ExecuteCommand(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	d.History.Add(line)

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	handler, ok := d.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try \"help\")", name)
	}
	return handler(args)
}

// ResolveAddress turns a label name or numeric literal into a code
// address. Labels take priority over ambiguous bare decimal names.
func (d *Debugger) ResolveAddress(token string) (uint32, error) {
	if d.Symbols != nil {
		if sym, ok := d.Symbols.Lookup(token); ok && sym.Kind == parser.SymbolLabel {
			return uint32(sym.ID), nil
		}
	}
	base := 10
	t := token
	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		base = 16
		t = t[2:]
	}
	n, err := strconv.ParseUint(t, base, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown label or address %q", token)
	}
	return uint32(n), nil
}

// ShouldBreak reports whether execution sitting at the current ip
// should stop for the debugger, consuming a breakpoint hit as a side
// effect so temporary breakpoints are removed after firing once.
func (d *Debugger) ShouldBreak() bool {
	ip := uint32(d.VM.Reg.Get(vm.IP))
	if bp := d.Breakpoints.ProcessHit(ip); bp != nil {
		return true
	}
	switch d.StepMode {
	case StepSingle, StepOver:
		return true
	}
	return false
}

func (d *Debugger) cmdContinue(args []string) error {
	if d.VM.Halted {
		return fmt.Errorf("program has halted")
	}
	d.Running = true
	d.StepMode = StepNone
	d.Println("continuing")
	return nil
}

func (d *Debugger) cmdStep(args []string) error {
	if d.VM.Halted {
		return fmt.Errorf("program has halted")
	}
	d.StepMode = StepSingle
	return d.VM.Step()
}

func (d *Debugger) cmdNext(args []string) error {
	if d.VM.Halted {
		return fmt.Errorf("program has halted")
	}
	d.StepMode = StepOver
	return d.VM.Step()
}

func (d *Debugger) cmdBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break <address|label>")
	}
	addr, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}
	bp := d.Breakpoints.AddBreakpoint(addr, false, "")
	d.Printf("breakpoint %d at 0x%08x\n", bp.ID, addr)
	return nil
}

func (d *Debugger) cmdDelete(args []string) error {
	if len(args) == 0 {
		d.Breakpoints.Clear()
		d.Println("all breakpoints deleted")
		return nil
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("usage: delete <id>")
	}
	return d.Breakpoints.DeleteBreakpoint(id)
}

func (d *Debugger) cmdListBreaks(args []string) error {
	for _, bp := range d.Breakpoints.GetAllBreakpoints() {
		d.Printf("%d: 0x%08x hits=%d\n", bp.ID, bp.Address, bp.HitCount)
	}
	return nil
}

func (d *Debugger) cmdRegs(args []string) error {
	for _, r := range []vm.Reg{vm.R0, vm.R1, vm.R2, vm.R3, vm.R4, vm.R5, vm.SP, vm.BP, vm.IP, vm.FLG} {
		d.Printf("%-3s = 0x%016x\n", r.String(), d.VM.Reg.Get(r))
	}
	return nil
}

func (d *Debugger) cmdStack(args []string) error {
	sp := uint32(d.VM.Reg.Get(vm.SP))
	top := d.VM.RAM.Size()
	n := 0
	for addr := sp; addr+8 <= top && n < StackDisplayQuads; addr += 8 {
		v, err := d.VM.RAM.ReadWidth(addr, vm.WidthQuad)
		if err != nil {
			break
		}
		d.Printf("0x%08x: 0x%016x\n", addr, v)
		n++
	}
	return nil
}

func (d *Debugger) cmdDisasm(args []string) error {
	ip := uint32(d.VM.Reg.Get(vm.IP))
	end := ip + DisasmWindowBytes
	if end > d.VM.RAM.Size() {
		end = d.VM.RAM.Size()
	}
	chunk, err := d.VM.RAM.ReadBytes(ip, int(end-ip))
	if err != nil {
		return err
	}
	decoded, err := encoder.Disassemble(chunk, ip)
	if err != nil && len(decoded) == 0 {
		return err
	}
	for _, instr := range decoded {
		marker := "  "
		if instr.Offset == ip {
			marker = "=>"
		}
		d.Printf("%s %s\n", marker, encoder.Format(instr, false))
	}
	return nil
}

func (d *Debugger) cmdHelp(args []string) error {
	d.Println("commands: continue step next break delete list regs stack disasm help")
	return nil
}
