package vm

import (
	"fmt"
	"io"
	"os"

	"rook-vm/internal/chunk"
	"rook-vm/internal/table"
	"rook-vm/internal/value"
)

const (
	FramesMax = 256
	StackMax  = FramesMax * 256
)

type CallFrame struct {
	Closure *value.ObjClosure
	IP      int
	Slots   int // offset into the value stack where this frame's slot 0 lives
}

type Config struct {
	// Trace dumps the stack and each instruction as it dispatches.
	Trace bool
}

type VM struct {
	frames     [FramesMax]CallFrame
	frameCount int

	stack    [StackMax]value.Value
	stackTop int

	globals      *table.Table
	openUpvalues *value.ObjUpvalue // head of the open upvalue list, most recently captured first

	Config Config
	ErrOut io.Writer
}

func New() *VM {
	return NewWithConfig(Config{})
}

func NewWithConfig(cfg Config) *VM {
	return &VM{
		globals: table.New(),
		Config:  cfg,
		ErrOut:  os.Stderr,
	}
}

// DefineNative registers a host function under name before execution.
func (vm *VM) DefineNative(name string, fn value.NativeFunc) {
	vm.globals.Set(value.NewString(name), value.NewNative(name, fn))
}

// Globals exposes the globals table; the REPL keeps it alive across lines.
func (vm *VM) Globals() *table.Table {
	return vm.globals
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	val := vm.stack[vm.stackTop]
	vm.stack[vm.stackTop] = value.Value{} // drop the reference
	return val
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// runtimeError writes the diagnostic, resets the stack, and returns the
// error that unwinds the dispatch loop.
func (vm *VM) runtimeError(c *chunk.Chunk, ip int, format string, args ...interface{}) error {
	line := 0
	if c != nil && ip > 0 && ip <= len(c.Lines) {
		line = c.Lines[ip-1]
	}
	err := fmt.Errorf("[line %d] %s", line, fmt.Sprintf(format, args...))
	fmt.Fprintln(vm.ErrOut, err)
	vm.resetStack()
	return err
}

// Interpret wraps the compiled root function in a closure, pushes the
// root frame, and runs the dispatch loop to completion.
func (vm *VM) Interpret(fn *value.ObjFunction) (err error) {
	vm.resetStack()

	closure := &value.ObjClosure{Function: fn}
	vm.push(value.NewClosure(closure))

	vm.frames[0] = CallFrame{Closure: closure, IP: 0, Slots: 0}
	vm.frameCount = 1

	// A runaway expression can outgrow the value stack before the frame
	// bound trips; surface that as a runtime error, not a crash.
	defer func() {
		if r := recover(); r != nil {
			err = vm.runtimeError(nil, 0, "Stack Overflow")
		}
	}()

	return vm.run()
}

func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]
	c := frame.Closure.Function.Chunk.(*chunk.Chunk)
	ip := frame.IP

	for {
		if vm.Config.Trace {
			vm.traceInstruction(c, ip)
		}

		instruction := chunk.OpCode(c.Code[ip])
		ip++

		switch instruction {
		case chunk.OP_CONSTANT:
			index := c.Code[ip]
			ip++
			vm.push(c.Constants[index])

		case chunk.OP_NIL:
			vm.push(value.NewNil())
		case chunk.OP_TRUE:
			vm.push(value.NewBool(true))
		case chunk.OP_FALSE:
			vm.push(value.NewBool(false))
		case chunk.OP_POP:
			vm.pop()

		case chunk.OP_NEGATE:
			top := &vm.stack[vm.stackTop-1]
			switch top.Type {
			case value.VAL_INT:
				top.AsInt = -top.AsInt
			case value.VAL_FLOAT:
				top.AsFloat = -top.AsFloat
			default:
				return vm.runtimeError(c, ip, "Attempted to negate non number type")
			}

		case chunk.OP_NOT:
			top := vm.pop()
			switch top.Type {
			case value.VAL_BOOL:
				vm.push(value.NewBool(!top.AsBool))
			case value.VAL_INT:
				vm.push(value.NewBool(top.AsInt == 0))
			default:
				return vm.runtimeError(c, ip, "Operand of '!' must be a boolean or integer")
			}

		case chunk.OP_IADD, chunk.OP_ISUB, chunk.OP_IMUL, chunk.OP_IDIV:
			b := vm.pop()
			a := vm.pop()
			if a.Type != value.VAL_INT || b.Type != value.VAL_INT {
				return vm.runtimeError(c, ip, "Operands must be integers")
			}
			switch instruction {
			case chunk.OP_IADD:
				vm.push(value.NewInt(a.AsInt + b.AsInt))
			case chunk.OP_ISUB:
				vm.push(value.NewInt(a.AsInt - b.AsInt))
			case chunk.OP_IMUL:
				vm.push(value.NewInt(a.AsInt * b.AsInt))
			case chunk.OP_IDIV:
				if b.AsInt == 0 {
					return vm.runtimeError(c, ip, "Integer division by zero")
				}
				vm.push(value.NewInt(a.AsInt / b.AsInt))
			}

		case chunk.OP_FADD, chunk.OP_FSUB, chunk.OP_FMUL, chunk.OP_FDIV:
			b := vm.pop()
			a := vm.pop()
			if a.Type != value.VAL_FLOAT || b.Type != value.VAL_FLOAT {
				return vm.runtimeError(c, ip, "Operands must be floats")
			}
			switch instruction {
			case chunk.OP_FADD:
				vm.push(value.NewFloat(a.AsFloat + b.AsFloat))
			case chunk.OP_FSUB:
				vm.push(value.NewFloat(a.AsFloat - b.AsFloat))
			case chunk.OP_FMUL:
				vm.push(value.NewFloat(a.AsFloat * b.AsFloat))
			case chunk.OP_FDIV:
				vm.push(value.NewFloat(a.AsFloat / b.AsFloat))
			}

		case chunk.OP_EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.NewBool(value.Equal(a, b)))

		case chunk.OP_NEQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.NewBool(!value.Equal(a, b)))

		case chunk.OP_GREATER, chunk.OP_GREATER_EQUAL, chunk.OP_LESS, chunk.OP_LESS_EQUAL:
			b := vm.pop()
			a := vm.pop()
			if !isNumeric(a) || !isNumeric(b) {
				return vm.runtimeError(c, ip, "Operands must be numbers")
			}
			var less, equal bool
			if a.Type == value.VAL_INT && b.Type == value.VAL_INT {
				less, equal = a.AsInt < b.AsInt, a.AsInt == b.AsInt
			} else {
				af, bf := asFloat(a), asFloat(b)
				less, equal = af < bf, af == bf
			}
			switch instruction {
			case chunk.OP_GREATER:
				vm.push(value.NewBool(!less && !equal))
			case chunk.OP_GREATER_EQUAL:
				vm.push(value.NewBool(!less))
			case chunk.OP_LESS:
				vm.push(value.NewBool(less))
			case chunk.OP_LESS_EQUAL:
				vm.push(value.NewBool(less || equal))
			}

		case chunk.OP_DEFINE_GLOBAL:
			index := c.Code[ip]
			ip++
			name := c.Constants[index]
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case chunk.OP_GET_GLOBAL:
			index := c.Code[ip]
			ip++
			name := c.Constants[index]
			val, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError(c, ip, "Undefined variable '%s'", name.Str)
			}
			vm.push(val)

		case chunk.OP_SET_GLOBAL:
			index := c.Code[ip]
			ip++
			name := c.Constants[index]
			// Assignment requires a prior declaration; an insert that
			// created the key is rolled back.
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return vm.runtimeError(c, ip, "Undefined variable '%s'", name.Str)
			}

		case chunk.OP_GET_LOCAL:
			slot := c.Code[ip]
			ip++
			vm.push(vm.stack[frame.Slots+int(slot)])

		case chunk.OP_SET_LOCAL:
			slot := c.Code[ip]
			ip++
			vm.stack[frame.Slots+int(slot)] = vm.peek(0)

		case chunk.OP_GET_UPVALUE:
			slot := c.Code[ip]
			ip++
			vm.push(*frame.Closure.Upvalues[slot].Location)

		case chunk.OP_SET_UPVALUE:
			slot := c.Code[ip]
			ip++
			*frame.Closure.Upvalues[slot].Location = vm.peek(0)

		case chunk.OP_JUMP:
			offset := int(c.Code[ip])<<8 | int(c.Code[ip+1])
			ip += 2
			ip += offset

		case chunk.OP_JUMP_IF_FALSE:
			offset := int(c.Code[ip])<<8 | int(c.Code[ip+1])
			ip += 2
			// The condition stays on the stack; the compiler emits the
			// POPs around the branch.
			condition := vm.peek(0)
			if condition.Type == value.VAL_BOOL {
				if !condition.AsBool {
					ip += offset
				}
			} else if condition.IsFalsey() {
				ip += offset
			}

		case chunk.OP_LOOP:
			offset := int(c.Code[ip])<<8 | int(c.Code[ip+1])
			ip += 2
			ip -= offset

		case chunk.OP_CALL:
			argCount := int(c.Code[ip])
			ip++
			frame.IP = ip
			if err := vm.callValue(vm.peek(argCount), argCount, c, ip); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]
			c = frame.Closure.Function.Chunk.(*chunk.Chunk)
			ip = frame.IP

		case chunk.OP_CLOSURE:
			index := c.Code[ip]
			ip++
			fn := c.Constants[index].Obj.(*value.ObjFunction)
			closure := &value.ObjClosure{
				Function: fn,
				Upvalues: make([]*value.ObjUpvalue, fn.UpvalueCount),
			}
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := c.Code[ip]
				ip++
				idx := int(c.Code[ip])
				ip++
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.Slots + idx)
				} else {
					closure.Upvalues[i] = frame.Closure.Upvalues[idx]
				}
			}
			vm.push(value.NewClosure(closure))

		case chunk.OP_CLOSE_UPVALUE:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case chunk.OP_RETURN:
			result := vm.pop()
			vm.closeUpvalues(frame.Slots)

			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop() // the root callee
				return nil
			}

			// Drop the returning frame's window, clearing the dead slots.
			oldTop := vm.stackTop
			vm.stackTop = frame.Slots
			for i := vm.stackTop; i < oldTop; i++ {
				vm.stack[i] = value.Value{}
			}
			vm.push(result)

			frame = &vm.frames[vm.frameCount-1]
			c = frame.Closure.Function.Chunk.(*chunk.Chunk)
			ip = frame.IP

		default:
			return vm.runtimeError(c, ip, "Unknown opcode %d", byte(instruction))
		}
	}
}

func (vm *VM) callValue(callee value.Value, argCount int, c *chunk.Chunk, ip int) error {
	switch callee.Type {
	case value.VAL_NATIVE:
		native := callee.Obj.(*value.ObjNative)
		args := vm.stack[vm.stackTop-argCount : vm.stackTop]
		result := native.Fn(args)
		vm.stackTop -= argCount + 1 // arguments plus the callee
		vm.push(result)
		return nil

	case value.VAL_FUNCTION:
		if closure, ok := callee.Obj.(*value.ObjClosure); ok {
			return vm.call(closure, argCount, c, ip)
		}
	}
	return vm.runtimeError(c, ip, "Can only call functions")
}

func (vm *VM) call(closure *value.ObjClosure, argCount int, c *chunk.Chunk, ip int) error {
	fn := closure.Function

	if argCount != fn.Arity {
		return vm.runtimeError(c, ip, "Expected %d arguments but got %d", fn.Arity, argCount)
	}

	if vm.frameCount == FramesMax {
		return vm.runtimeError(c, ip, "Stack Overflow")
	}

	vm.frames[vm.frameCount] = CallFrame{
		Closure: closure,
		IP:      0,
		Slots:   vm.stackTop - argCount - 1,
	}
	vm.frameCount++
	return nil
}

// captureUpvalue finds or creates the open upvalue for a stack slot, so
// two closures over the same local share one cell.
func (vm *VM) captureUpvalue(slot int) *value.ObjUpvalue {
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Slot != slot {
		upvalue = upvalue.Next
	}
	if upvalue != nil {
		return upvalue
	}

	created := &value.ObjUpvalue{
		Location: &vm.stack[slot],
		Slot:     slot,
		Next:     vm.openUpvalues,
	}
	vm.openUpvalues = created
	return created
}

// closeUpvalues moves every open upvalue at or above the given slot off
// the stack and into its own heap cell.
func (vm *VM) closeUpvalues(from int) {
	var prev *value.ObjUpvalue
	curr := vm.openUpvalues

	for curr != nil {
		next := curr.Next
		if curr.Slot >= from {
			curr.Closed = *curr.Location
			curr.Location = &curr.Closed
			curr.Slot = -1
			if prev == nil {
				vm.openUpvalues = next
			} else {
				prev.Next = next
			}
		} else {
			prev = curr
		}
		curr = next
	}
}

func isNumeric(v value.Value) bool {
	return v.Type == value.VAL_INT || v.Type == value.VAL_FLOAT
}

func asFloat(v value.Value) float64 {
	if v.Type == value.VAL_INT {
		return float64(v.AsInt)
	}
	return v.AsFloat
}

func (vm *VM) traceInstruction(c *chunk.Chunk, ip int) {
	fmt.Fprint(vm.ErrOut, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(vm.ErrOut, "[ %s ]", vm.stack[i])
	}
	fmt.Fprintln(vm.ErrOut)
	c.DisassembleInstructionAt(vm.ErrOut, ip)
}
