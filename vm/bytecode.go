package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single instruction.
type Opcode byte

// Literals
const (
	OpConstant Opcode = 0x01 // push embedded constant
	OpNil      Opcode = 0x02 // push nil
	OpTrue     Opcode = 0x03 // push true
	OpFalse    Opcode = 0x04 // push false
)

// Unary
const (
	OpNot    Opcode = 0x10 // replace top with its falsiness
	OpNegate Opcode = 0x11 // negate a number
)

// Binary: pop right, pop left, push result
const (
	OpEqual    Opcode = 0x20
	OpGreater  Opcode = 0x21
	OpLess     Opcode = 0x22
	OpAdd      Opcode = 0x23
	OpSubtract Opcode = 0x24
	OpMultiply Opcode = 0x25
	OpDivide   Opcode = 0x26
)

// Statements and globals
const (
	OpPrint        Opcode = 0x30 // pop and display
	OpPop          Opcode = 0x31 // discard top of stack
	OpDefineGlobal Opcode = 0x32 // pop and bind embedded name
	OpGetGlobal    Opcode = 0x33 // push value bound to embedded name
	OpSetGlobal    Opcode = 0x34 // rebind embedded name to top, no pop
)

// Control
const (
	OpReturn Opcode = 0x40 // halt successfully
)

// OperandKind describes what an instruction embeds.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandValue
	OperandName
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string      // disassembly name
	Operand OperandKind // embedded operand, if any
	Pops    int         // values consumed from the stack
	Pushes  int         // values produced onto the stack
}

// StackEffect returns the net change in stack depth.
func (i OpcodeInfo) StackEffect() int { return i.Pushes - i.Pops }

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpConstant: {"OP_CONSTANT", OperandValue, 0, 1},
	OpNil:      {"OP_NIL", OperandNone, 0, 1},
	OpTrue:     {"OP_TRUE", OperandNone, 0, 1},
	OpFalse:    {"OP_FALSE", OperandNone, 0, 1},

	OpNot:    {"OP_NOT", OperandNone, 1, 1},
	OpNegate: {"OP_NEGATE", OperandNone, 1, 1},

	OpEqual:    {"OP_EQUAL", OperandNone, 2, 1},
	OpGreater:  {"OP_GREATER", OperandNone, 2, 1},
	OpLess:     {"OP_LESS", OperandNone, 2, 1},
	OpAdd:      {"OP_ADD", OperandNone, 2, 1},
	OpSubtract: {"OP_SUBTRACT", OperandNone, 2, 1},
	OpMultiply: {"OP_MULTIPLY", OperandNone, 2, 1},
	OpDivide:   {"OP_DIVIDE", OperandNone, 2, 1},

	OpPrint:        {"OP_PRINT", OperandNone, 1, 0},
	OpPop:          {"OP_POP", OperandNone, 1, 0},
	OpDefineGlobal: {"OP_DEFINE_GLOBAL", OperandName, 1, 0},
	OpGetGlobal:    {"OP_GET_GLOBAL", OperandName, 0, 1},
	OpSetGlobal:    {"OP_SET_GLOBAL", OperandName, 1, 1},

	OpReturn: {"OP_RETURN", OperandNone, 0, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the disassembly name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is one step of a chunk. Constant carries its value inline and
// the global opcodes carry the variable name; every other opcode leaves both
// fields zero.
type Instruction struct {
	Op    Opcode
	Value Value
	Name  string
}

// Simple returns a zero-operand instruction.
func Simple(op Opcode) Instruction { return Instruction{Op: op} }

// Constant returns an OpConstant instruction.
func Constant(v Value) Instruction { return Instruction{Op: OpConstant, Value: v} }

// DefineGlobal, GetGlobal and SetGlobal build the named global instructions.
func DefineGlobal(name string) Instruction { return Instruction{Op: OpDefineGlobal, Name: name} }
func GetGlobal(name string) Instruction    { return Instruction{Op: OpGetGlobal, Name: name} }
func SetGlobal(name string) Instruction    { return Instruction{Op: OpSetGlobal, Name: name} }

// Equal compares two instructions, including their operands.
func (in Instruction) Equal(other Instruction) bool {
	return in.Op == other.Op && in.Name == other.Name && in.Value.Equal(other.Value)
}

// String renders the instruction as "OP_NAME" or "OP_NAME: operand".
func (in Instruction) String() string {
	switch in.Op.Info().Operand {
	case OperandValue:
		return in.Op.Name() + ": " + in.Value.String()
	case OperandName:
		return in.Op.Name() + ": " + in.Name
	}
	return in.Op.Name()
}

// FormatInstructions renders a sequence as a comma separated list. Tests use
// it to print readable mismatches.
func FormatInstructions(code []Instruction) string {
	parts := make([]string, len(code))
	for i, in := range code {
		parts[i] = in.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
