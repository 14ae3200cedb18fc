package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; bytelox chunk v%d\n", c.Version))
	sb.WriteString(fmt.Sprintf("; %d instructions\n\n", len(c.Code)))

	for offset, in := range c.Code {
		writeInstruction(&sb, c, offset, in)
	}
	return sb.String()
}

// writeInstruction formats one line: offset, source line (or "|" when it
// repeats the previous instruction's line), name, operand.
func writeInstruction(sb *strings.Builder, c *Chunk, offset int, in Instruction) {
	fmt.Fprintf(sb, "%04d ", offset)
	if offset > 0 && c.Line(offset) == c.Line(offset-1) {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(sb, "%4d ", c.Line(offset))
	}

	switch in.Op.Info().Operand {
	case OperandValue:
		display := in.Value.String()
		if in.Value.IsString() {
			display = fmt.Sprintf("%q", display)
		}
		fmt.Fprintf(sb, "%-16s %s\n", in.Op.Name(), display)
	case OperandName:
		fmt.Fprintf(sb, "%-16s %s\n", in.Op.Name(), in.Name)
	default:
		fmt.Fprintf(sb, "%s\n", in.Op.Name())
	}
}
