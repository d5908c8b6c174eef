package chunk

import (
	"fmt"
	"io"
	"os"

	"rook-vm/internal/value"
)

func (c *Chunk) Disassemble(name string) {
	c.Fdisassemble(os.Stdout, name)
}

func (c *Chunk) Fdisassemble(w io.Writer, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)

	for offset := 0; offset < len(c.Code); {
		offset = c.disassembleInstruction(w, offset)
	}
}

// DisassembleAll disassembles this chunk and every function chunk in its
// constant pool, recursively.
func (c *Chunk) DisassembleAll(name string) {
	c.FdisassembleAll(os.Stdout, name)
}

func (c *Chunk) FdisassembleAll(w io.Writer, name string) {
	c.Fdisassemble(w, name)

	for _, constant := range c.Constants {
		if constant.Type != value.VAL_FUNCTION {
			continue
		}
		if fn, ok := constant.Obj.(*value.ObjFunction); ok {
			if fnChunk, ok := fn.Chunk.(*Chunk); ok {
				fmt.Fprintln(w)
				fnChunk.FdisassembleAll(w, fn.Name)
			}
		}
	}
}

// DisassembleInstructionAt prints one instruction and returns the offset
// of the next; execution tracing leans on it.
func (c *Chunk) DisassembleInstructionAt(w io.Writer, offset int) int {
	return c.disassembleInstruction(w, offset)
}

// InstructionLength returns the byte length of the instruction at offset,
// including operands. OP_CLOSURE's length depends on the upvalue count of
// the function constant it names.
func (c *Chunk) InstructionLength(offset int) int {
	switch OpCode(c.Code[offset]) {
	case OP_CONSTANT, OP_DEFINE_GLOBAL, OP_GET_GLOBAL, OP_SET_GLOBAL,
		OP_GET_LOCAL, OP_SET_LOCAL, OP_GET_UPVALUE, OP_SET_UPVALUE, OP_CALL:
		return 2
	case OP_JUMP, OP_JUMP_IF_FALSE, OP_LOOP:
		return 3
	case OP_CLOSURE:
		constant := c.Code[offset+1]
		if fn, ok := c.Constants[constant].Obj.(*value.ObjFunction); ok {
			return 2 + fn.UpvalueCount*2
		}
		return 2
	default:
		return 1
	}
}

func (c *Chunk) disassembleInstruction(w io.Writer, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprintf(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Lines[offset])
	}

	instruction := OpCode(c.Code[offset])
	name := instruction.String()
	switch instruction {
	case OP_CONSTANT, OP_DEFINE_GLOBAL, OP_GET_GLOBAL, OP_SET_GLOBAL:
		return c.constantInstruction(w, name, offset)
	case OP_GET_LOCAL, OP_SET_LOCAL, OP_GET_UPVALUE, OP_SET_UPVALUE, OP_CALL:
		return c.byteInstruction(w, name, offset)
	case OP_JUMP, OP_JUMP_IF_FALSE:
		return c.jumpInstruction(w, name, 1, offset)
	case OP_LOOP:
		return c.jumpInstruction(w, name, -1, offset)
	case OP_CLOSURE:
		return c.closureInstruction(w, name, offset)
	default:
		fmt.Fprintf(w, "%s\n", name)
		return offset + 1
	}
}

func (c *Chunk) constantInstruction(w io.Writer, name string, offset int) int {
	constant := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '", name, constant)
	fmt.Fprint(w, c.Constants[constant])
	fmt.Fprintf(w, "'\n")
	return offset + 2
}

func (c *Chunk) byteInstruction(w io.Writer, name string, offset int) int {
	slot := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", name, slot)
	return offset + 2
}

func (c *Chunk) jumpInstruction(w io.Writer, name string, sign int, offset int) int {
	jump := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
	fmt.Fprintf(w, "%-16s %4d -> %d\n", name, offset, offset+3+sign*jump)
	return offset + 3
}

func (c *Chunk) closureInstruction(w io.Writer, name string, offset int) int {
	offset++
	constant := c.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d ", name, constant)
	fmt.Fprint(w, c.Constants[constant])
	fmt.Fprintln(w)

	if fn, ok := c.Constants[constant].Obj.(*value.ObjFunction); ok {
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal := c.Code[offset]
			index := c.Code[offset+1]
			kind := "upvalue"
			if isLocal == 1 {
				kind = "local"
			}
			fmt.Fprintf(w, "%04d    |                     %s %d\n", offset, kind, index)
			offset += 2
		}
	}
	return offset
}
