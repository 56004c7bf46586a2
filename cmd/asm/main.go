// Command asm is the cyn assembler: it assembles source into a linked
// bytecode image, disassembles an image back to text, or runs an image
// directly on the VM.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dccarter/cyn/debugger"
	"github.com/dccarter/cyn/encoder"
	"github.com/dccarter/cyn/linker"
	"github.com/dccarter/cyn/loader"
	"github.com/dccarter/cyn/parser"
	"github.com/dccarter/cyn/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:     "asm",
		Short:   "cyn assembler and VM runner",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.AddCommand(newAssembleCmd(), newDisassembleCmd(), newRunCmd(), newDebugCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAssembleCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "assemble <input>",
		Short: "Assemble source to a bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = strings.TrimSuffix(input, filepath.Ext(input)) + ".bin"
			}

			image, diags, err := assemble(input)
			if diags != "" {
				fmt.Fprint(os.Stderr, diags)
			}
			if err != nil {
				return err
			}
			return os.WriteFile(output, image, 0o644) // #nosec G306 -- executable bytecode image, not sensitive data
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: <input>.bin)")
	return cmd
}

// assemble runs the full source-to-image pipeline, returning any
// accumulated diagnostics text alongside a non-nil error when assembly
// failed at any stage.
func assemble(input string) ([]byte, string, error) {
	program, p, err := parser.ParseFile(input)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", input, err)
	}
	var diags strings.Builder
	diags.WriteString(p.Errors().PrintWarnings())
	if p.HasErrors() {
		diags.WriteString(p.Errors().Error())
		return nil, diags.String(), fmt.Errorf("assembly failed: %d error(s)", len(p.Errors().Errors))
	}

	instrs, err := encoder.Encode(program)
	if err != nil {
		diags.WriteString(err.Error())
		return nil, diags.String(), fmt.Errorf("encoding failed")
	}

	image, err := linker.Link(program, instrs)
	if err != nil {
		diags.WriteString(err.Error())
		return nil, diags.String(), fmt.Errorf("link failed")
	}
	return image, diags.String(), nil
}

func newDisassembleCmd() *cobra.Command {
	var output string
	var hideAddr bool
	cmd := &cobra.Command{
		Use:   "disassemble <input>",
		Short: "Disassemble a bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0]) // #nosec G304 -- user-provided image path
			if err != nil {
				return err
			}
			text, err := disassembleListing(image, hideAddr)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprint(os.Stdout, text)
				return err
			}
			return os.WriteFile(output, []byte(text), 0o644) // #nosec G306 -- text listing, not sensitive data
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&hideAddr, "hide-addr", false, "omit the leading offset column")
	return cmd
}

func disassembleListing(image []byte, hideAddr bool) (string, error) {
	header, err := vm.DecodeHeader(image)
	if err != nil {
		return "", err
	}
	if header.Size > uint32(len(image)) {
		return "", fmt.Errorf("image header declares size %d but only %d bytes were read", header.Size, len(image))
	}

	var b strings.Builder
	if !hideAddr {
		fmt.Fprintf(&b, "; size=%d db=%#x main=%#x\n", header.Size, header.DB, header.Main)
	}
	instrs, err := encoder.Disassemble(image[header.DB:header.Size], header.DB)
	for _, d := range instrs {
		b.WriteString(encoder.Format(d, hideAddr))
		b.WriteByte('\n')
	}
	return b.String(), err
}

func newRunCmd() *cobra.Command {
	var maxCycles uint64
	cmd := &cobra.Command{
		Use:   "run <image> [args...]",
		Short: "Run a linked bytecode image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0]) // #nosec G304 -- user-provided image path
			if err != nil {
				return err
			}
			opts := loader.DefaultOptions()
			opts.MaxCycles = maxCycles
			machine, entry, err := loader.Load(image, os.Stdout, os.Stdin, opts)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			if err := machine.Bootstrap(entry, args[1:]); err != nil {
				return dumpFault(machine, err)
			}
			if err := machine.Run(); err != nil {
				return dumpFault(machine, err)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&maxCycles, "max-cycles", 10_000_000, "abort after this many fetch/decode/execute cycles (0 = unlimited)")
	return cmd
}

func newDebugCmd() *cobra.Command {
	var maxCycles uint64
	var tui bool
	cmd := &cobra.Command{
		Use:   "debug <source> [args...]",
		Short: "Assemble and run a source file under the interactive debugger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			program, p, err := parser.ParseFile(input)
			if err != nil {
				return fmt.Errorf("reading %s: %w", input, err)
			}
			if p.HasErrors() {
				fmt.Fprint(os.Stderr, p.Errors().Error())
				return fmt.Errorf("assembly failed: %d error(s)", len(p.Errors().Errors))
			}

			instrs, err := encoder.Encode(program)
			if err != nil {
				return fmt.Errorf("encoding failed: %w", err)
			}
			image, err := linker.Link(program, instrs)
			if err != nil {
				return fmt.Errorf("link failed: %w", err)
			}

			opts := loader.DefaultOptions()
			opts.MaxCycles = maxCycles
			dbg, err := debugger.LoadFromImage(image, program.Symbols, os.Stdout, os.Stdin, opts)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			if err := dbg.VM.Bootstrap(dbg.Entry, args[1:]); err != nil {
				return dumpFault(dbg.VM, err)
			}

			if tui {
				return debugger.RunTUI(dbg)
			}
			return debugger.RunCLI(dbg)
		},
	}
	cmd.Flags().Uint64Var(&maxCycles, "max-cycles", 10_000_000, "abort after this many fetch/decode/execute cycles (0 = unlimited)")
	cmd.Flags().BoolVar(&tui, "tui", false, "use the full-screen debugger instead of the line-oriented one")
	return cmd
}

func dumpFault(machine *vm.VM, err error) error {
	fmt.Fprintf(os.Stderr, "cyn: runtime fault: %v\n", err)
	fmt.Fprintf(os.Stderr, "  r0=%#x r1=%#x r2=%#x r3=%#x r4=%#x r5=%#x\n",
		machine.Reg.Get(vm.R0), machine.Reg.Get(vm.R1), machine.Reg.Get(vm.R2),
		machine.Reg.Get(vm.R3), machine.Reg.Get(vm.R4), machine.Reg.Get(vm.R5))
	fmt.Fprintf(os.Stderr, "  sp=%#x ip=%#x bp=%#x flg=%#x\n",
		machine.Reg.Get(vm.SP), machine.Reg.Get(vm.IP), machine.Reg.Get(vm.BP), machine.Reg.Get(vm.FLG))
	return err
}
