package debugger

// Stack Display Constants
const (
	// StackDisplayQuads is the number of 8-byte stack slots to show in
	// the stack view and the "stack" command.
	StackDisplayQuads = 16
)

// Register Display Constants
const (
	// RegisterGroupSize is the number of general-purpose registers
	// displayed per row in the register view.
	RegisterGroupSize = 2
)

// DisasmWindowBytes bounds how much code past the instruction pointer
// the disassembly view decodes per refresh.
const DisasmWindowBytes = 96
