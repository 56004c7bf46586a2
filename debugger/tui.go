package debugger

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/dccarter/cyn/encoder"
	"github.com/dccarter/cyn/vm"
)

// TUI is the full-screen debugger front end: a live view of registers,
// stack, and disassembly around the instruction pointer, attached to a
// running VM and driven by the same command set as RunCLI.
type TUI struct {
	Debugger *Debugger
	App      *tview.Application

	MainLayout *tview.Flex

	RegisterView    *tview.TextView
	StackView       *tview.TextView
	DisassemblyView *tview.TextView
	BreakpointsView *tview.TextView
	OutputView      *tview.TextView
	CommandInput    *tview.InputField
}

// NewTUI builds the panel layout around an existing Debugger.
func NewTUI(dbg *Debugger) *TUI {
	t := &TUI{
		Debugger: dbg,
		App:      tview.NewApplication(),
	}
	t.initializeViews()
	t.buildLayout()
	t.setupKeyBindings()
	return t
}

func (t *TUI) initializeViews() {
	t.RegisterView = tview.NewTextView().SetDynamicColors(true)
	t.RegisterView.SetBorder(true).SetTitle(" Registers ")

	t.StackView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	t.StackView.SetBorder(true).SetTitle(" Stack ")

	t.DisassemblyView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.DisassemblyView.SetBorder(true).SetTitle(" Disassembly ")

	t.BreakpointsView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	t.BreakpointsView.SetBorder(true).SetTitle(" Breakpoints ")

	t.OutputView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(true)
	t.OutputView.SetBorder(true).SetTitle(" Output ")

	t.CommandInput = tview.NewInputField().SetLabel("> ").SetFieldWidth(0)
	t.CommandInput.SetBorder(true).SetTitle(" Command ")
	t.CommandInput.SetDoneFunc(t.handleCommand)
}

func (t *TUI) buildLayout() {
	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.DisassemblyView, 0, 3, false).
		AddItem(t.StackView, 0, 2, false)

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.RegisterView, 8, 0, false).
		AddItem(t.BreakpointsView, 0, 1, false)

	content := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(left, 0, 2, false).
		AddItem(right, 0, 1, false)

	t.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(content, 0, 4, false).
		AddItem(t.OutputView, 8, 0, false).
		AddItem(t.CommandInput, 3, 0, true)
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF5:
			t.executeCommand("continue")
			return nil
		case tcell.KeyF9:
			t.executeCommand("break")
			return nil
		case tcell.KeyF10:
			t.executeCommand("next")
			return nil
		case tcell.KeyF11:
			t.executeCommand("step")
			return nil
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		case tcell.KeyCtrlL:
			t.RefreshAll()
			return nil
		}
		return event
	})
}

func (t *TUI) handleCommand(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	cmd := t.CommandInput.GetText()
	if cmd == "" {
		return
	}
	t.executeCommand(cmd)
	t.CommandInput.SetText("")
}

func (t *TUI) executeCommand(cmd string) {
	if cmd == "quit" || cmd == "q" {
		t.App.Stop()
		return
	}
	err := t.Debugger.ExecuteCommand(cmd)
	if out := t.Debugger.GetOutput(); out != "" {
		t.WriteOutput(out)
	}
	if err != nil {
		t.WriteOutput(fmt.Sprintf("[red]error:[white] %v\n", err))
	}
	if t.Debugger.Running {
		t.runUntilStop()
	}
	t.RefreshAll()
}

// runUntilStop advances the VM until ShouldBreak fires or it halts,
// mirroring interface.go's CLI loop for the TUI's continue/step commands.
func (t *TUI) runUntilStop() {
	dbg := t.Debugger
	for dbg.Running {
		if dbg.VM.Halted {
			dbg.Running = false
			t.WriteOutput(fmt.Sprintf("program halted after %d cycles\n", dbg.VM.Cycles))
			return
		}
		if err := dbg.VM.Step(); err != nil {
			dbg.Running = false
			t.WriteOutput(fmt.Sprintf("runtime error: %v\n", err))
			return
		}
		if dbg.ShouldBreak() {
			dbg.Running = false
			dbg.StepMode = StepNone
			t.WriteOutput(fmt.Sprintf("stopped at ip=0x%08x\n", dbg.VM.Reg.Get(vm.IP)))
			return
		}
	}
}

func (t *TUI) WriteOutput(text string) {
	_, _ = t.OutputView.Write([]byte(text))
	t.OutputView.ScrollToEnd()
}

func (t *TUI) RefreshAll() {
	t.updateRegisterView()
	t.updateStackView()
	t.updateDisassemblyView()
	t.updateBreakpointsView()
	t.App.Draw()
}

func (t *TUI) updateRegisterView() {
	reg := &t.Debugger.VM.Reg
	var lines []string
	var cols []string
	for _, r := range []vm.Reg{vm.R0, vm.R1, vm.R2, vm.R3, vm.R4, vm.R5} {
		cols = append(cols, fmt.Sprintf("%-3s: 0x%016x", r.String(), reg.Get(r)))
		if len(cols) == RegisterGroupSize {
			lines = append(lines, strings.Join(cols, "  "))
			cols = nil
		}
	}
	if len(cols) > 0 {
		lines = append(lines, strings.Join(cols, "  "))
	}
	lines = append(lines, fmt.Sprintf("sp : 0x%016x  bp : 0x%016x", reg.Get(vm.SP), reg.Get(vm.BP)))
	lines = append(lines, fmt.Sprintf("ip : 0x%016x  flg: 0x%016x", reg.Get(vm.IP), reg.Get(vm.FLG)))
	lines = append(lines, fmt.Sprintf("cycles: %d", t.Debugger.VM.Cycles))
	t.RegisterView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateStackView() {
	dbg := t.Debugger
	sp := uint32(dbg.VM.Reg.Get(vm.SP))
	top := dbg.VM.RAM.Size()
	var lines []string
	for addr := sp; addr+8 <= top && len(lines) < StackDisplayQuads; addr += 8 {
		v, err := dbg.VM.RAM.ReadWidth(addr, vm.WidthQuad)
		if err != nil {
			break
		}
		lines = append(lines, fmt.Sprintf("0x%08x: 0x%016x", addr, v))
	}
	t.StackView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateDisassemblyView() {
	dbg := t.Debugger
	ip := uint32(dbg.VM.Reg.Get(vm.IP))
	end := ip + DisasmWindowBytes
	if end > dbg.VM.RAM.Size() {
		end = dbg.VM.RAM.Size()
	}
	if ip >= end {
		t.DisassemblyView.SetText("")
		return
	}
	chunk, err := dbg.VM.RAM.ReadBytes(ip, int(end-ip))
	if err != nil {
		t.DisassemblyView.SetText(fmt.Sprintf("[red]%v[white]", err))
		return
	}
	decoded, decErr := encoder.Disassemble(chunk, ip)
	var lines []string
	for _, instr := range decoded {
		marker := "  "
		if instr.Offset == ip {
			marker = "->"
		}
		if dbg.Breakpoints.HasBreakpoint(instr.Offset) {
			marker = "* "
		}
		lines = append(lines, fmt.Sprintf("[yellow]%s[white] %s", marker, encoder.Format(instr, false)))
	}
	if decErr != nil && len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("[red]%v[white]", decErr))
	}
	t.DisassemblyView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateBreakpointsView() {
	bps := t.Debugger.Breakpoints.GetAllBreakpoints()
	var lines []string
	for _, bp := range bps {
		lines = append(lines, fmt.Sprintf("%d: 0x%08x hits=%d", bp.ID, bp.Address, bp.HitCount))
	}
	t.BreakpointsView.SetText(strings.Join(lines, "\n"))
}

// Run starts the TUI event loop, refreshing the views before the first
// draw so a breakpoint or label set before launch is already visible.
func (t *TUI) Run() error {
	t.RefreshAll()
	return t.App.SetRoot(t.MainLayout, true).SetFocus(t.CommandInput).Run()
}
