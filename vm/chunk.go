package vm

import (
	"errors"
	"fmt"
)

// ChunkVersion is bumped whenever the instruction set changes shape.
const ChunkVersion = 1

// Chunk is a compiled, linear instruction sequence plus the source line each
// instruction came from.
type Chunk struct {
	Version int
	Code    []Instruction
	Lines   []int
}

// NewChunk creates an empty chunk at the current version.
func NewChunk() *Chunk {
	return &Chunk{Version: ChunkVersion}
}

// Write appends an instruction attributed to a source line.
func (c *Chunk) Write(in Instruction, line int) {
	c.Code = append(c.Code, in)
	c.Lines = append(c.Lines, line)
}

// Len returns the number of instructions.
func (c *Chunk) Len() int { return len(c.Code) }

// Line returns the source line for the instruction at offset, or 0.
func (c *Chunk) Line(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// Ops returns just the opcodes, in order.
func (c *Chunk) Ops() []Opcode {
	ops := make([]Opcode, len(c.Code))
	for i, in := range c.Code {
		ops[i] = in.Op
	}
	return ops
}

// Equal reports whether two chunks hold the same instructions and lines.
func (c *Chunk) Equal(other *Chunk) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.Code) != len(other.Code) || len(c.Lines) != len(other.Lines) {
		return false
	}
	for i := range c.Code {
		if !c.Code[i].Equal(other.Code[i]) || c.Lines[i] != other.Lines[i] {
			return false
		}
	}
	return true
}

// ErrMalformedChunk is wrapped by every Verify failure.
var ErrMalformedChunk = errors.New("malformed chunk")

// Verify checks that every opcode is known, that operands are present where
// required, and that no instruction pops more than has been pushed. Chunks
// produced by the compiler always verify; chunks read from disk may not.
func (c *Chunk) Verify() error {
	if c.Version != ChunkVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrMalformedChunk, c.Version, ChunkVersion)
	}
	if len(c.Lines) != len(c.Code) {
		return fmt.Errorf("%w: %d lines for %d instructions", ErrMalformedChunk, len(c.Lines), len(c.Code))
	}

	depth := 0
	for offset, in := range c.Code {
		if !in.Op.Valid() {
			return fmt.Errorf("%w: unknown opcode 0x%02x at offset %d", ErrMalformedChunk, byte(in.Op), offset)
		}
		info := in.Op.Info()
		if info.Operand == OperandName && in.Name == "" {
			return fmt.Errorf("%w: %s at offset %d has no name", ErrMalformedChunk, info.Name, offset)
		}
		if depth < info.Pops {
			return fmt.Errorf("%w: %s at offset %d underflows the stack", ErrMalformedChunk, info.Name, offset)
		}
		depth += info.StackEffect()
		if in.Op == OpReturn {
			break
		}
	}
	return nil
}
