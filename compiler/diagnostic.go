package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/bytelox/vm"
)

// Diagnostic is one reported compile error.
type Diagnostic struct {
	Message string
	Line    int
	Column  int
	Start   int // byte offset of the offending token
	End     int // byte offset just past it
	AtEnd   bool
	Lexical bool // raised by the lexer; no location suffix
}

func newDiagnostic(tok Token, msg string) Diagnostic {
	return Diagnostic{
		Message: msg,
		Line:    tok.Line,
		Column:  tok.Column,
		Start:   tok.Start,
		End:     tok.End(),
		AtEnd:   tok.Type == TokenEOF,
		Lexical: tok.Type == TokenError,
	}
}

// Where returns the location fragment placed after "Error".
func (d Diagnostic) Where() string {
	switch {
	case d.AtEnd:
		return " at end"
	case d.Lexical:
		return ""
	}
	return fmt.Sprintf(" at %d to %d", d.Start, d.End)
}

// String renders the diagnostic as "[line N] Error<where>: message".
func (d Diagnostic) String() string {
	return fmt.Sprintf("[line %d] Error%s: %s", d.Line, d.Where(), d.Message)
}

// CompileError is returned when at least one diagnostic was reported.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}

// Is makes errors.Is(err, vm.ErrCompileTime) hold.
func (e *CompileError) Is(target error) bool { return target == vm.ErrCompileTime }
