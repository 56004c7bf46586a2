package debugger

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dccarter/cyn/vm"
)

// RunCLI runs the line-oriented command interface, driving the VM
// forward between prompts until it halts, hits a breakpoint, or
// faults.
func RunCLI(dbg *Debugger) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("(cyn-dbg) ")

		if !scanner.Scan() {
			break
		}

		cmdLine := strings.TrimSpace(scanner.Text())
		if cmdLine == "quit" || cmdLine == "q" || cmdLine == "exit" {
			fmt.Println("exiting debugger")
			break
		}

		if err := dbg.ExecuteCommand(cmdLine); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if out := dbg.GetOutput(); out != "" {
			fmt.Print(out)
		}

		if dbg.Running {
			runUntilStop(dbg)
			if out := dbg.GetOutput(); out != "" {
				fmt.Print(out)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("input error: %w", err)
	}
	return nil
}

// runUntilStop advances the VM one step at a time until a breakpoint
// fires, the step mode is satisfied, or the program halts or faults.
func runUntilStop(dbg *Debugger) {
	for dbg.Running {
		if dbg.VM.Halted {
			dbg.Running = false
			fmt.Printf("program halted after %d cycles\n", dbg.VM.Cycles)
			return
		}
		if err := dbg.VM.Step(); err != nil {
			dbg.Running = false
			fmt.Printf("runtime error: %v\n", err)
			return
		}
		if dbg.ShouldBreak() {
			dbg.Running = false
			dbg.StepMode = StepNone
			fmt.Printf("stopped at ip=0x%08x\n", dbg.VM.Reg.Get(vm.IP))
			return
		}
	}
}

// RunTUI runs the full-screen tcell/tview debugger.
func RunTUI(dbg *Debugger) error {
	tui := NewTUI(dbg)
	return tui.Run()
}
