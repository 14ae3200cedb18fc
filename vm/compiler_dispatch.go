package vm

import (
	"errors"
	"io"
)

// ---------------------------------------------------------------------------
// Compiler backend
// ---------------------------------------------------------------------------

// The compiler package imports vm, so the VM cannot import the compiler.
// Callers plug it in instead, usually via UseCompiler(compiler.Backend{}).

// CompilerBackend turns source text into chunks. Diagnostics are written to
// diag, one line per reported error.
type CompilerBackend interface {
	// Compile compiles a program made of declarations and statements.
	Compile(source string, diag io.Writer) (*Chunk, error)
	// CompileExpression compiles a single expression whose value is left on
	// the stack when the chunk returns.
	CompileExpression(source string, diag io.Writer) (*Chunk, error)
}

// ErrNoCompiler is returned by Interpret and Evaluate when no backend has
// been configured.
var ErrNoCompiler = errors.New("vm: no compiler backend configured")

// ErrNilChunk is returned by Run and Eval when given no chunk.
var ErrNilChunk = errors.New("vm: nil chunk")

// UseCompiler sets the backend used by Interpret and Evaluate.
func (vm *VM) UseCompiler(backend CompilerBackend) {
	vm.backend = backend
}

// Backend returns the configured compiler backend, or nil.
func (vm *VM) Backend() CompilerBackend {
	return vm.backend
}
