package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// State is the lifecycle position of a VM.
type State int

const (
	StateReady State = iota
	StateRunning
	StateHaltedOk
	StateHaltedError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHaltedOk:
		return "halted"
	case StateHaltedError:
		return "halted with error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// VM executes chunks against an operand stack and a global table. Globals
// survive across Run calls on the same instance; the stack does not.
//
// A VM is not safe for concurrent use. Servers serialize access through a
// single worker goroutine.
type VM struct {
	chunk   *Chunk
	ip      int
	stack   []Value
	globals map[string]Value
	state   State

	stdout  io.Writer
	stderr  io.Writer
	trace   io.Writer
	backend CompilerBackend
}

// Option configures a VM.
type Option func(*VM)

// WithStdout sets where print writes. Defaults to os.Stdout.
func WithStdout(w io.Writer) Option { return func(vm *VM) { vm.stdout = w } }

// WithStderr sets where diagnostics and runtime errors are written.
// Defaults to os.Stderr.
func WithStderr(w io.Writer) Option { return func(vm *VM) { vm.stderr = w } }

// WithTrace enables instruction tracing to w. A nil writer disables it.
func WithTrace(w io.Writer) Option { return func(vm *VM) { vm.trace = w } }

// WithCompiler sets the compiler backend.
func WithCompiler(backend CompilerBackend) Option { return func(vm *VM) { vm.backend = backend } }

// WithGlobals seeds the global table. The map is copied.
func WithGlobals(globals map[string]Value) Option {
	return func(vm *VM) {
		for name, v := range globals {
			vm.globals[name] = v
		}
	}
}

// New creates a VM in the Ready state.
func New(opts ...Option) *VM {
	vm := &VM{
		stack:   make([]Value, 0, 256),
		globals: make(map[string]Value),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// SetTrace enables or disables tracing after construction.
func (vm *VM) SetTrace(w io.Writer) { vm.trace = w }

// SetOutput redirects print and error output.
func (vm *VM) SetOutput(stdout, stderr io.Writer) {
	vm.stdout = stdout
	vm.stderr = stderr
}

// State returns the VM's lifecycle state.
func (vm *VM) State() State { return vm.state }

// StackDepth returns the number of values currently on the operand stack.
func (vm *VM) StackDepth() int { return len(vm.stack) }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Interpret compiles source with the configured backend and runs it. When
// compilation fails nothing is executed.
func (vm *VM) Interpret(source string) error {
	if vm.backend == nil {
		return ErrNoCompiler
	}
	chunk, err := vm.backend.Compile(source, vm.stderr)
	if err != nil {
		return err
	}
	return vm.Run(chunk)
}

// Evaluate compiles source as a single expression and returns its value.
func (vm *VM) Evaluate(source string) (Value, error) {
	if vm.backend == nil {
		return Nil, ErrNoCompiler
	}
	chunk, err := vm.backend.CompileExpression(source, vm.stderr)
	if err != nil {
		return Nil, err
	}
	return vm.Eval(chunk)
}

// Eval runs chunk and returns the value left on top of the stack, or nil
// when the stack is empty.
func (vm *VM) Eval(chunk *Chunk) (Value, error) {
	if err := vm.Run(chunk); err != nil {
		return Nil, err
	}
	if len(vm.stack) == 0 {
		return Nil, nil
	}
	return vm.stack[len(vm.stack)-1], nil
}

// Run executes chunk from its first instruction. The operand stack is
// cleared first. Execution stops at OpReturn, at the end of the code, or at
// the first runtime error. Mutations made before a failing instruction are
// kept.
func (vm *VM) Run(chunk *Chunk) error {
	if chunk == nil {
		return ErrNilChunk
	}
	vm.chunk = chunk
	vm.ip = 0
	vm.stack = vm.stack[:0]
	vm.state = StateRunning

	if err := vm.run(); err != nil {
		vm.state = StateHaltedError
		fmt.Fprintln(vm.stderr, err.Error())
		return err
	}
	vm.state = StateHaltedOk
	return nil
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (vm *VM) run() error {
	code := vm.chunk.Code
	for vm.ip < len(code) {
		in := code[vm.ip]
		if vm.trace != nil {
			vm.traceInstruction(vm.ip, in)
		}
		vm.ip++

		switch in.Op {
		case OpConstant:
			vm.push(in.Value)
		case OpNil:
			vm.push(Nil)
		case OpTrue:
			vm.push(Bool(true))
		case OpFalse:
			vm.push(Bool(false))

		case OpNot:
			vm.push(Bool(vm.pop().IsFalsey()))
		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError(in, "Operand must be a number.")
			}
			vm.push(Number(-vm.pop().AsNumber()))

		case OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(Bool(a.Equal(b)))
		case OpGreater:
			b, a := vm.pop(), vm.pop()
			vm.push(Bool(a.Greater(b)))
		case OpLess:
			b, a := vm.pop(), vm.pop()
			vm.push(Bool(a.Less(b)))

		case OpAdd, OpSubtract, OpMultiply, OpDivide:
			if err := vm.arithmetic(in); err != nil {
				return err
			}

		case OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().String())
		case OpPop:
			vm.pop()

		case OpDefineGlobal:
			vm.globals[in.Name] = vm.pop()
		case OpGetGlobal:
			v, ok := vm.globals[in.Name]
			if !ok {
				return vm.undefined(in)
			}
			vm.push(v)
		case OpSetGlobal:
			if _, ok := vm.globals[in.Name]; !ok {
				return vm.undefined(in)
			}
			vm.globals[in.Name] = vm.peek(0)

		case OpReturn:
			return nil

		default:
			return fmt.Errorf("unknown opcode: 0x%02x at offset %d", byte(in.Op), vm.ip-1)
		}
	}
	return nil
}

// arithmetic handles the four binary arithmetic opcodes. Add also
// concatenates two strings.
func (vm *VM) arithmetic(in Instruction) error {
	b, a := vm.peek(0), vm.peek(1)

	if a.IsNumber() && b.IsNumber() {
		vm.pop()
		vm.pop()
		x, y := a.AsNumber(), b.AsNumber()
		switch in.Op {
		case OpAdd:
			vm.push(Number(x + y))
		case OpSubtract:
			vm.push(Number(x - y))
		case OpMultiply:
			vm.push(Number(x * y))
		case OpDivide:
			vm.push(Number(x / y))
		}
		return nil
	}

	if in.Op == OpAdd {
		x, aok := a.AsString()
		y, bok := b.AsString()
		if aok && bok {
			vm.pop()
			vm.pop()
			vm.push(String(x + y))
			return nil
		}
	}

	return vm.runtimeError(in, "Operands must be two numbers or two strings.")
}

func (vm *VM) undefined(in Instruction) error {
	return vm.runtimeError(in, fmt.Sprintf("Undefined variable '%s'", in.Name))
}

func (vm *VM) runtimeError(in Instruction, msg string) error {
	offset := vm.ip - 1
	return &RuntimeError{
		Message: msg,
		Op:      in.Op,
		Offset:  offset,
		Line:    vm.chunk.Line(offset),
	}
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

// pop panics on an empty stack. Compiled and verified chunks never do
// that, so an underflow is a bug in the compiler or the VM.
func (vm *VM) pop() Value {
	n := len(vm.stack)
	if n == 0 {
		panic(fmt.Sprintf("vm: stack underflow at offset %d", vm.ip-1))
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) peek(distance int) Value {
	n := len(vm.stack)
	if distance >= n {
		panic(fmt.Sprintf("vm: stack underflow at offset %d", vm.ip-1))
	}
	return vm.stack[n-1-distance]
}

func (vm *VM) traceInstruction(offset int, in Instruction) {
	var sb strings.Builder
	sb.WriteString("          ")
	for _, v := range vm.stack {
		fmt.Fprintf(&sb, "[ %s ]", v.String())
	}
	sb.WriteByte('\n')
	writeInstruction(&sb, vm.chunk, offset, in)
	io.WriteString(vm.trace, sb.String())
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// LookupGlobal returns the value bound to name.
func (vm *VM) LookupGlobal(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// DefineGlobal binds name, replacing any previous binding.
func (vm *VM) DefineGlobal(name string, v Value) {
	vm.globals[name] = v
}

// Globals returns a copy of the global table.
func (vm *VM) Globals() map[string]Value {
	out := make(map[string]Value, len(vm.globals))
	for k, v := range vm.globals {
		out[k] = v
	}
	return out
}

// GlobalNames returns the bound names in sorted order.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals))
	for k := range vm.globals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ResetGlobals drops every binding and returns the VM to Ready.
func (vm *VM) ResetGlobals() {
	vm.globals = make(map[string]Value)
	vm.stack = vm.stack[:0]
	vm.state = StateReady
}
