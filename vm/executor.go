package vm

import (
	"fmt"
	"io"
)

// VM is the register-machine executor: a single-threaded fetch-decode-
// execute loop over a flat RAM region, with an attached heap and a
// fixed native-call dispatch table.
type VM struct {
	Reg  Registers
	RAM  *Memory
	Heap *Heap

	MaxCycles uint64
	Cycles    uint64
	Halted    bool

	Out io.Writer
	In  io.Reader
}

// New constructs a VM over an already-loaded RAM image and heap.
func New(ram *Memory, heap *Heap, out io.Writer, in io.Reader) *VM {
	return &VM{RAM: ram, Heap: heap, Out: out, In: in}
}

// Bootstrap sets up the entry frame per the calling convention: argv
// entries (as guest-memory string pointers) are pushed in order, then a
// dummy return address and saved bp so the program's top-level ret
// halts gracefully, bp is set to sp, r0 holds argc, and ip is set to
// the entry point.
func (v *VM) Bootstrap(entry uint32, args []string) error {
	ramSize := v.RAM.Size()
	v.Reg.Set(SP, uint64(ramSize))
	v.Reg.Set(BP, uint64(ramSize))

	for _, a := range args {
		data := append([]byte(a), 0)
		addr := v.Heap.Alloc(uint32(len(data)))
		if addr == 0 {
			return fault(entry, "out of heap space loading program arguments")
		}
		if err := v.RAM.WriteBytes(addr, data); err != nil {
			return err
		}
		if err := v.push(uint64(addr)); err != nil {
			return err
		}
	}
	v.Reg.Set(R0, uint64(len(args)))

	if err := v.push(0); err != nil { // dummy return ip
		return err
	}
	if err := v.push(v.Reg.Get(BP)); err != nil { // dummy saved bp
		return err
	}
	v.Reg.Set(BP, v.Reg.Get(SP))
	v.Reg.Set(IP, uint64(entry))
	return nil
}

// Run executes until halt or a fault.
func (v *VM) Run() error {
	for !v.Halted {
		if err := v.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step fetches, decodes, and executes exactly one instruction.
func (v *VM) Step() error {
	if v.Halted {
		return nil
	}
	v.Cycles++
	if v.MaxCycles != 0 && v.Cycles > v.MaxCycles {
		return fault(uint32(v.Reg.Get(IP)), "cycle limit of %d exceeded", v.MaxCycles)
	}

	iip := uint32(v.Reg.Get(IP))
	if iip >= v.RAM.Size() {
		return fault(iip, "execution goes beyond code space")
	}
	// An instruction is at most 1 (header) + 1 + 1 + 8 (quad immediate)
	// bytes; read a bounded window and let Decode report truncation.
	window := uint32(11)
	end := iip + window
	if end > v.RAM.Size() {
		end = v.RAM.Size()
	}
	chunk, err := v.RAM.ReadBytes(iip, int(end-iip))
	if err != nil {
		return err
	}
	instr, n, err := Decode(chunk, 0)
	if err != nil {
		return fault(iip, "%v", err)
	}
	v.Reg.Set(IP, uint64(iip+uint32(n)))
	return v.execute(instr, iip)
}

func (v *VM) push(val uint64) error {
	sp := uint32(v.Reg.Get(SP)) - 8
	if sp >= v.RAM.Size() || int32(sp) < 0 {
		return fault(uint32(v.Reg.Get(IP)), "stack overflow")
	}
	if err := v.RAM.WriteWidth(sp, WidthQuad, val); err != nil {
		return err
	}
	v.Reg.Set(SP, uint64(sp))
	return nil
}

func (v *VM) pop() (uint64, error) {
	sp := uint32(v.Reg.Get(SP))
	if sp+8 > v.RAM.Size() {
		return 0, fault(uint32(v.Reg.Get(IP)), "stack underflow")
	}
	val, err := v.RAM.ReadWidth(sp, WidthQuad)
	if err != nil {
		return 0, err
	}
	v.Reg.Set(SP, uint64(sp+8))
	return val, nil
}

func (v *VM) popN(n uint32) ([]uint64, error) {
	vals := make([]uint64, n)
	for i := uint32(0); i < n; i++ {
		val, err := v.pop()
		if err != nil {
			return nil, err
		}
		vals[i] = val
	}
	return vals, nil
}

func (v *VM) pushN(vals []uint64) error {
	for i := len(vals) - 1; i >= 0; i-- {
		if err := v.push(vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// operandWidth picks the width used to read the "other" operand in a
// mixed register/immediate instruction: the destination width when
// that operand is itself a register, the immediate's own width
// otherwise. This mirrors the executor's two-way dispatch on whether
// an operand is register- or immediate-addressed.
func operandWidth(mode AddrMode, dsz, ims Width) Width {
	if mode == AddrReg {
		return dsz
	}
	return ims
}

// readSingle reads operand A for a 1-operand instruction.
func (v *VM) readSingle(instr Instruction) (uint64, error) {
	width := operandWidth(instr.Mode, instr.Dsz, instr.Ims)
	if instr.Mode == AddrReg {
		if instr.AMem {
			addr := uint32(v.Reg.Get(instr.AReg))
			return v.RAM.ReadWidth(addr, width)
		}
		return v.Reg.GetWidth(instr.AReg, width), nil
	}
	if instr.AMem {
		addr := uint32(instr.Imm)
		return v.RAM.ReadWidth(addr, width)
	}
	return maskWidth(uint64(instr.Imm), width), nil
}

// writeSingle writes operand A for a 1-operand instruction, at Dsz.
// Writing to an immediate (non-memory) operand is a no-op: the result
// is simply discarded, matching the source's note that it only makes
// sense to write to a register or memory reference.
func (v *VM) writeSingle(instr Instruction, val uint64) error {
	if instr.Mode == AddrReg {
		if instr.AMem {
			addr := uint32(v.Reg.Get(instr.AReg))
			return v.RAM.WriteWidth(addr, instr.Dsz, val)
		}
		v.Reg.SetWidth(instr.AReg, instr.Dsz, val)
		return nil
	}
	if instr.AMem {
		addr := uint32(instr.Imm)
		return v.RAM.WriteWidth(addr, instr.Dsz, val)
	}
	return nil
}

// readDest reads operand A of a 2-operand instruction: always register
// or memory-via-register, at width Dsz.
func (v *VM) readDest(instr Instruction) (uint64, error) {
	if instr.AMem {
		addr := uint32(v.Reg.Get(instr.AReg))
		return v.RAM.ReadWidth(addr, instr.Dsz)
	}
	return v.Reg.GetWidth(instr.AReg, instr.Dsz), nil
}

func (v *VM) writeDest(instr Instruction, val uint64) error {
	if instr.AMem {
		addr := uint32(v.Reg.Get(instr.AReg))
		return v.RAM.WriteWidth(addr, instr.Dsz, val)
	}
	v.Reg.SetWidth(instr.AReg, instr.Dsz, val)
	return nil
}

// readSource reads operand B of a 2-operand instruction.
func (v *VM) readSource(instr Instruction) (uint64, error) {
	width := operandWidth(instr.Mode, instr.Dsz, instr.Ims)
	if instr.Mode == AddrReg {
		base := uint32(v.Reg.Get(instr.BReg))
		if instr.BMem {
			addr := base
			if instr.BEA {
				addr = uint32(int64(base) + instr.Imm)
			}
			return v.RAM.ReadWidth(addr, width)
		}
		return v.Reg.GetWidth(instr.BReg, width), nil
	}
	if instr.BMem {
		addr := uint32(instr.Imm)
		return v.RAM.ReadWidth(addr, width)
	}
	return maskWidth(uint64(instr.Imm), width), nil
}

func (v *VM) doJump(iip uint32, instr Instruction, take bool) error {
	disp, err := v.readSingle(instr)
	if !take || err != nil {
		return err
	}
	v.Reg.Set(IP, uint64(int64(iip)+int64(disp)))
	return nil
}

func (v *VM) doCall(iip uint32, target uint32) error {
	if err := v.push(v.Reg.Get(IP)); err != nil {
		return err
	}
	if err := v.push(v.Reg.Get(BP)); err != nil {
		return err
	}
	v.Reg.Set(BP, v.Reg.Get(SP))
	v.Reg.Set(IP, uint64(target))
	return nil
}

// doRet performs the return unwind for bytecode ret: pop n return
// values first (sp is still the callee's), then unwind the frame.
func (v *VM) doRet(n uint32) error {
	rets, err := v.popN(n)
	if err != nil {
		return err
	}
	return v.unwind(rets)
}

// Return is the native-call equivalent of ret: the builtin supplies its
// result values directly (rather than having pushed them before a ret
// instruction) and the same frame unwind runs underneath it.
func (v *VM) Return(vals ...uint64) error {
	return v.unwind(vals)
}

// unwind resets sp to bp, restores the caller's bp/ip, discards the
// argc argument slots, then pushes the return values back followed by
// their count.
func (v *VM) unwind(rets []uint64) error {
	v.Reg.Set(SP, v.Reg.Get(BP))
	bp, err := v.pop()
	if err != nil {
		return err
	}
	v.Reg.Set(BP, bp)
	ip, err := v.pop()
	if err != nil {
		return err
	}
	v.Reg.Set(IP, ip)
	if ip == 0 {
		// Return into Bootstrap's dummy frame: the program is done.
		v.Halted = true
		return nil
	}
	argcVal, err := v.pop()
	if err != nil {
		return err
	}
	argc := uint32(argcVal)
	if argc > 0 {
		if _, err := v.popN(argc); err != nil {
			return err
		}
	}
	if len(rets) > 0 {
		if err := v.pushN(rets); err != nil {
			return err
		}
	}
	return v.push(uint64(len(rets)))
}

// doNcall resolves a native call id, builds a call frame identical to a
// bytecode call, and invokes the Go function backing it. Arguments are
// read directly off the stack in reverse-push order (args[0] is the
// first argument pushed) without popping them; the native function
// finishes the frame by calling Return.
func (v *VM) doNcall(id uint32) error {
	nargsVal, err := v.RAM.ReadWidth(uint32(v.Reg.Get(SP)), WidthQuad)
	if err != nil {
		return err
	}
	nargs := uint32(nargsVal)

	var argv []uint64
	if nargs > 0 {
		argv = make([]uint64, nargs)
		base := uint32(v.Reg.Get(SP)) + nargs*8
		for i := uint32(0); i < nargs; i++ {
			val, err := v.RAM.ReadWidth(base-i*8, WidthQuad)
			if err != nil {
				return err
			}
			argv[i] = val
		}
	}

	if err := v.push(v.Reg.Get(IP)); err != nil {
		return err
	}
	if err := v.push(v.Reg.Get(BP)); err != nil {
		return err
	}
	v.Reg.Set(BP, v.Reg.Get(SP))

	if id >= uint32(len(NativeBuiltinCallTable)) {
		return fault(uint32(v.Reg.Get(IP)), "invalid native call id %d", id)
	}
	fn := NativeBuiltinCallTable[id]
	if fn == nil {
		return fault(uint32(v.Reg.Get(IP)), "unimplemented native call %s", BuiltinNativeCall(id))
	}
	if err := fn(v, argv); err != nil {
		return fault(uint32(v.Reg.Get(IP)), "native call %s: %v", BuiltinNativeCall(id), err)
	}
	return nil
}

func (v *VM) execute(instr Instruction, iip uint32) error {
	switch instr.Op {
	case OpHalt:
		v.Halted = true
		return nil

	case OpJmp:
		return v.doJump(iip, instr, true)
	case OpJmpz:
		return v.doJump(iip, instr, v.Reg.Flag()&FlagZero != 0)
	case OpJmpnz:
		return v.doJump(iip, instr, v.Reg.Flag()&FlagZero == 0)
	case OpJmpg:
		return v.doJump(iip, instr, v.Reg.Flag()&FlagGreater != 0)
	case OpJmps:
		return v.doJump(iip, instr, v.Reg.Flag()&FlagLess != 0)

	case OpCall:
		disp, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		return v.doCall(iip, uint32(int64(iip)+int64(disp)))

	case OpRet:
		n, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		return v.doRet(uint32(n))

	case OpNcall:
		id, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		return v.doNcall(uint32(id))

	case OpNot:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		val := uint64(0)
		if a == 0 {
			val = 1
		}
		return v.writeSingle(instr, val)
	case OpBNot:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		return v.writeSingle(instr, ^a)
	case OpInc:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		return v.writeSingle(instr, a+1)
	case OpDec:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		return v.writeSingle(instr, a-1)

	case OpPush:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		return v.push(a)
	case OpPop:
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.writeSingle(instr, a)
	case OpPopn:
		n, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		_, err = v.popN(uint32(n))
		return err

	case OpPuti:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(v.Out, "%d", AsI64(a))
		return err
	case OpPutc:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		_, err = v.Out.Write([]byte(string(rune(a))))
		return err
	case OpPuts:
		if instr.Mode == AddrImm && instr.AMem {
			s, err := v.RAM.ReadCString(uint32(instr.Imm))
			if err != nil {
				return err
			}
			_, err = io.WriteString(v.Out, s)
			return err
		}
		addr, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		s, err := v.RAM.ReadCString(uint32(addr))
		if err != nil {
			return err
		}
		_, err = io.WriteString(v.Out, s)
		return err

	case OpDlloc:
		a, err := v.readSingle(instr)
		if err != nil {
			return err
		}
		v.Heap.Free(uint32(a))
		return nil

	case OpAlloc:
		size, err := v.readSource(instr)
		if err != nil {
			return err
		}
		addr := v.Heap.Alloc(uint32(size))
		return v.writeDest(instr, uint64(addr))
	case OpAlloca:
		size, err := v.readSource(instr)
		if err != nil {
			return err
		}
		sp := uint32(v.Reg.Get(SP)) - uint32(size)
		v.Reg.Set(SP, uint64(sp))
		return v.writeDest(instr, uint64(sp))
	case OpRmem:
		b, err := v.readSource(instr)
		if err != nil {
			return err
		}
		return v.writeDest(instr, uint64(uint32(b)))
	case OpMov:
		b, err := v.readSource(instr)
		if err != nil {
			return err
		}
		return v.writeDest(instr, b)

	case OpAdd, OpSub, OpAnd, OpOr, OpSar, OpSal, OpXor, OpBor, OpBand, OpMul, OpDiv, OpMod:
		return v.executeBinary(instr)

	case OpCmp:
		a, err := v.readDest(instr)
		if err != nil {
			return err
		}
		b, err := v.readSource(instr)
		if err != nil {
			return err
		}
		ai, bi := AsI64(a), AsI64(b)
		switch {
		case ai == bi:
			v.Reg.SetFlag(FlagZero)
		case ai < bi:
			v.Reg.SetFlag(FlagLess)
		default:
			v.Reg.SetFlag(FlagGreater)
		}
		return nil

	default:
		return fault(iip, "unknown instruction %v", instr.Op)
	}
}

func (v *VM) executeBinary(instr Instruction) error {
	a, err := v.readDest(instr)
	if err != nil {
		return err
	}
	b, err := v.readSource(instr)
	if err != nil {
		return err
	}

	var result uint64
	switch instr.Op {
	case OpAdd:
		result = FromI64(AsI64(a) + AsI64(b))
	case OpSub:
		result = FromI64(AsI64(a) - AsI64(b))
	case OpMul:
		result = FromI64(AsI64(a) * AsI64(b))
	case OpDiv:
		if b == 0 {
			return fault(uint32(v.Reg.Get(IP)), "division by zero")
		}
		result = FromI64(AsI64(a) / AsI64(b))
	case OpMod:
		if b == 0 {
			return fault(uint32(v.Reg.Get(IP)), "division by zero")
		}
		result = FromI64(AsI64(a) % AsI64(b))
	case OpAnd:
		result = boolToU64(a != 0 && b != 0)
	case OpOr:
		result = boolToU64(a != 0 || b != 0)
	case OpXor:
		result = a ^ b
	case OpBor:
		result = a | b
	case OpBand:
		result = a & b
	case OpSal:
		result = a << uint(b)
	case OpSar:
		result = FromI64(AsI64(a) >> uint(b))
	}
	return v.writeDest(instr, result)
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
