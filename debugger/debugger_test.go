package debugger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dccarter/cyn/encoder"
	"github.com/dccarter/cyn/linker"
	"github.com/dccarter/cyn/loader"
	"github.com/dccarter/cyn/parser"
)

func newTestDebugger(t *testing.T, src string) *Debugger {
	t.Helper()
	p := parser.NewParser(src, "t.cyn")
	prog := p.Parse()
	if p.HasErrors() {
		t.Fatalf("parse errors: %s", p.Errors().Error())
	}
	instrs, err := encoder.Encode(prog)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	image, err := linker.Link(prog, instrs)
	if err != nil {
		t.Fatalf("link: %v", err)
	}

	opts := loader.DefaultOptions()
	opts.MaxCycles = 10000
	var out bytes.Buffer
	dbg, err := LoadFromImage(image, prog.Symbols, &out, strings.NewReader(""), opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := dbg.VM.Bootstrap(dbg.Entry, nil); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return dbg
}

func TestDebuggerResolveAddressLabel(t *testing.T) {
	dbg := newTestDebugger(t, "main:\n  halt\ndone:\n  halt\n")

	addr, err := dbg.ResolveAddress("done")
	if err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}
	sym, ok := dbg.Symbols.Lookup("done")
	if !ok {
		t.Fatal("expected done symbol")
	}
	if uint64(addr) != uint64(sym.ID) {
		t.Errorf("resolved addr %d, want %d", addr, sym.ID)
	}
}

func TestDebuggerResolveAddressNumeric(t *testing.T) {
	dbg := newTestDebugger(t, "main:\n  halt\n")

	addr, err := dbg.ResolveAddress("0x10")
	if err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}
	if addr != 0x10 {
		t.Errorf("addr = %#x, want 0x10", addr)
	}
}

func TestDebuggerBreakAndStep(t *testing.T) {
	dbg := newTestDebugger(t, "main:\n  mov r0, 1\n  mov r1, 2\n  halt\n")

	if err := dbg.ExecuteCommand("break main"); err != nil {
		t.Fatalf("break: %v", err)
	}
	if dbg.Breakpoints.Count() != 1 {
		t.Fatalf("expected 1 breakpoint, got %d", dbg.Breakpoints.Count())
	}
	dbg.GetOutput()

	if err := dbg.ExecuteCommand("step"); err != nil {
		t.Fatalf("step: %v", err)
	}
	if dbg.VM.Cycles != 1 {
		t.Errorf("expected 1 cycle executed, got %d", dbg.VM.Cycles)
	}
}

func TestDebuggerUnknownCommand(t *testing.T) {
	dbg := newTestDebugger(t, "main:\n  halt\n")
	if err := dbg.ExecuteCommand("bogus"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestDebuggerRegsOutput(t *testing.T) {
	dbg := newTestDebugger(t, "main:\n  mov r0, 7\n  halt\n")
	if err := dbg.VM.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	if err := dbg.ExecuteCommand("regs"); err != nil {
		t.Fatalf("regs: %v", err)
	}
	out := dbg.GetOutput()
	if !strings.Contains(out, "r0") {
		t.Errorf("regs output missing r0: %q", out)
	}
}

func TestDebuggerDeleteAllBreakpoints(t *testing.T) {
	dbg := newTestDebugger(t, "main:\n  halt\n")
	dbg.Breakpoints.AddBreakpoint(0, false, "")
	dbg.Breakpoints.AddBreakpoint(4, false, "")

	if err := dbg.ExecuteCommand("delete"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if dbg.Breakpoints.Count() != 0 {
		t.Errorf("expected 0 breakpoints after delete, got %d", dbg.Breakpoints.Count())
	}
}
