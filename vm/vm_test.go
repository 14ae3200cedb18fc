package vm

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// newTestVM returns a VM whose output streams are captured.
func newTestVM() (*VM, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return New(WithStdout(&out), WithStderr(&errOut)), &out, &errOut
}

// ---------------------------------------------------------------------------
// Expression evaluation
// ---------------------------------------------------------------------------

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		want Value
	}{
		{
			name: "10 + 20 * 30",
			code: []Instruction{
				Constant(Number(10)), Constant(Number(20)), Constant(Number(30)),
				Simple(OpMultiply), Simple(OpAdd), Simple(OpReturn),
			},
			want: Number(610),
		},
		{
			name: "subtract is left then right",
			code: []Instruction{Constant(Number(10)), Constant(Number(4)), Simple(OpSubtract)},
			want: Number(6),
		},
		{
			name: "divide",
			code: []Instruction{Constant(Number(1)), Constant(Number(4)), Simple(OpDivide)},
			want: Number(0.25),
		},
		{
			name: "negate",
			code: []Instruction{Constant(Number(3)), Simple(OpNegate)},
			want: Number(-3),
		},
		{
			name: "concatenate",
			code: []Instruction{
				Constant(String("a")), Constant(String("b")), Simple(OpAdd),
				Constant(String("c")), Simple(OpAdd),
			},
			want: String("abc"),
		},
		{
			name: "not nil",
			code: []Instruction{Simple(OpNil), Simple(OpNot)},
			want: Bool(true),
		},
		{
			name: "not zero",
			code: []Instruction{Constant(Number(0)), Simple(OpNot)},
			want: Bool(false),
		},
		{
			name: "cross kind equality",
			code: []Instruction{Constant(Number(1)), Simple(OpTrue), Simple(OpEqual)},
			want: Bool(false),
		},
		{
			name: "cross kind ordering",
			code: []Instruction{Constant(String("a")), Constant(Number(1)), Simple(OpLess)},
			want: Bool(false),
		},
		{
			name: "greater",
			code: []Instruction{Constant(Number(2)), Constant(Number(1)), Simple(OpGreater)},
			want: Bool(true),
		},
		{
			name: "empty chunk",
			code: nil,
			want: Nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, _, _ := newTestVM()
			got, err := vm.Eval(chunkOf(tt.code...))
			if err != nil {
				t.Fatalf("Eval() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Eval() = %#v, want %#v", got, tt.want)
			}
			if vm.State() != StateHaltedOk {
				t.Errorf("State() = %s, want halted", vm.State())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Statements and globals
// ---------------------------------------------------------------------------

func TestRunPrintAndGlobals(t *testing.T) {
	vm, out, _ := newTestVM()

	// var x = 10; print x;
	chunk := chunkOf(
		Constant(Number(10)), DefineGlobal("x"),
		GetGlobal("x"), Simple(OpPrint),
		Simple(OpReturn),
	)
	if err := vm.Run(chunk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.String() != "10\n" {
		t.Errorf("output = %q, want %q", out.String(), "10\n")
	}
	if vm.StackDepth() != 0 {
		t.Errorf("StackDepth() = %d, want 0", vm.StackDepth())
	}
	if v, ok := vm.LookupGlobal("x"); !ok || !v.Equal(Number(10)) {
		t.Errorf("x = %#v, %v", v, ok)
	}
}

func TestSetGlobalKeepsValueOnStack(t *testing.T) {
	vm, _, _ := newTestVM()
	vm.DefineGlobal("a", Number(1))

	got, err := vm.Eval(chunkOf(Constant(Number(5)), SetGlobal("a")))
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if !got.Equal(Number(5)) {
		t.Errorf("assignment value = %#v, want 5", got)
	}
	if vm.StackDepth() != 1 {
		t.Errorf("StackDepth() = %d, want 1", vm.StackDepth())
	}
	if v, _ := vm.LookupGlobal("a"); !v.Equal(Number(5)) {
		t.Errorf("a = %#v, want 5", v)
	}
}

func TestDefineGlobalOverwrites(t *testing.T) {
	vm, _, _ := newTestVM()
	chunk := chunkOf(
		Constant(Number(1)), DefineGlobal("a"),
		Constant(String("two")), DefineGlobal("a"),
	)
	if err := vm.Run(chunk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if v, _ := vm.LookupGlobal("a"); !v.Equal(String("two")) {
		t.Errorf("a = %#v, want \"two\"", v)
	}
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	vm, out, _ := newTestVM()
	if err := vm.Run(chunkOf(Constant(Number(1)), DefineGlobal("a"))); err != nil {
		t.Fatal(err)
	}
	if err := vm.Run(chunkOf(GetGlobal("a"), Simple(OpPrint))); err != nil {
		t.Fatal(err)
	}
	if out.String() != "1\n" {
		t.Errorf("output = %q", out.String())
	}

	vm.ResetGlobals()
	if len(vm.Globals()) != 0 {
		t.Errorf("Globals() after reset = %v", vm.GlobalNames())
	}
	if vm.State() != StateReady {
		t.Errorf("State() after reset = %s", vm.State())
	}
}

func TestReturnStopsExecution(t *testing.T) {
	vm, out, _ := newTestVM()
	chunk := chunkOf(Simple(OpReturn), Constant(Number(1)), Simple(OpPrint))
	if err := vm.Run(chunk); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("instructions after OP_RETURN ran: %q", out.String())
	}
}

func TestWithGlobals(t *testing.T) {
	vm := New(WithGlobals(map[string]Value{"b": Bool(true)}), WithStdout(io.Discard))
	if names := vm.GlobalNames(); len(names) != 1 || names[0] != "b" {
		t.Errorf("GlobalNames() = %v", names)
	}
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name  string
		code  []Instruction
		msg   string
		depth int
	}{
		{
			name:  "negate bool",
			code:  []Instruction{Simple(OpTrue), Simple(OpNegate)},
			msg:   "Operand must be a number.",
			depth: 1,
		},
		{
			name:  "add number and string",
			code:  []Instruction{Constant(Number(1)), Constant(String("a")), Simple(OpAdd)},
			msg:   "Operands must be two numbers or two strings.",
			depth: 2,
		},
		{
			name:  "subtract strings",
			code:  []Instruction{Constant(String("a")), Constant(String("b")), Simple(OpSubtract)},
			msg:   "Operands must be two numbers or two strings.",
			depth: 2,
		},
		{
			name:  "get undefined",
			code:  []Instruction{GetGlobal("y")},
			msg:   "Undefined variable 'y'",
			depth: 0,
		},
		{
			name:  "set undefined",
			code:  []Instruction{Constant(Number(1)), SetGlobal("y")},
			msg:   "Undefined variable 'y'",
			depth: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, _, errOut := newTestVM()
			err := vm.Run(chunkOf(tt.code...))
			if err == nil {
				t.Fatal("Run() = nil, want runtime error")
			}
			if !errors.Is(err, ErrRuntime) {
				t.Errorf("errors.Is(err, ErrRuntime) = false for %v", err)
			}
			if KindOf(err) != KindRuntimeError {
				t.Errorf("KindOf() = %s", KindOf(err))
			}
			if err.Error() != tt.msg {
				t.Errorf("message = %q, want %q", err.Error(), tt.msg)
			}
			if errOut.String() != tt.msg+"\n" {
				t.Errorf("stderr = %q, want %q", errOut.String(), tt.msg+"\n")
			}
			if vm.StackDepth() != tt.depth {
				t.Errorf("StackDepth() = %d, want %d", vm.StackDepth(), tt.depth)
			}
			if vm.State() != StateHaltedError {
				t.Errorf("State() = %s", vm.State())
			}
			if _, ok := vm.LookupGlobal("y"); ok {
				t.Error("failed SetGlobal must not create a binding")
			}
		})
	}
}

func TestRuntimeErrorNoRollback(t *testing.T) {
	vm, out, _ := newTestVM()
	chunk := chunkOf(
		Constant(Number(1)), DefineGlobal("a"),
		Constant(String("before")), Simple(OpPrint),
		Simple(OpTrue), Simple(OpNegate),
		Constant(String("after")), Simple(OpPrint),
	)
	err := vm.Run(chunk)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("Run() = %v, want *RuntimeError", err)
	}
	if rerr.Offset != 5 || rerr.Op != OpNegate || rerr.Line != 1 {
		t.Errorf("RuntimeError = %+v", rerr)
	}
	if _, ok := vm.LookupGlobal("a"); !ok {
		t.Error("global defined before the error should survive")
	}
	if out.String() != "before\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestStackUnderflowPanics(t *testing.T) {
	vm, _, _ := newTestVM()
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on empty stack pop")
		}
	}()
	vm.Run(chunkOf(Simple(OpPop)))
}

func TestRunNilChunk(t *testing.T) {
	vm, _, _ := newTestVM()
	if err := vm.Run(nil); !errors.Is(err, ErrNilChunk) {
		t.Errorf("Run(nil) = %v, want ErrNilChunk", err)
	}
	if _, err := vm.Eval(nil); !errors.Is(err, ErrNilChunk) {
		t.Errorf("Eval(nil) = %v, want ErrNilChunk", err)
	}
	if vm.State() != StateReady {
		t.Errorf("State() = %v, want Ready", vm.State())
	}
}

func TestInterpretWithoutCompiler(t *testing.T) {
	vm, _, _ := newTestVM()
	if err := vm.Interpret("print 1;"); !errors.Is(err, ErrNoCompiler) {
		t.Errorf("Interpret() = %v, want ErrNoCompiler", err)
	}
	if _, err := vm.Evaluate("1"); !errors.Is(err, ErrNoCompiler) {
		t.Errorf("Evaluate() = %v, want ErrNoCompiler", err)
	}
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

func TestTrace(t *testing.T) {
	var trace bytes.Buffer
	vm := New(WithStdout(io.Discard), WithTrace(&trace))
	vm.Run(chunkOf(Constant(Number(1)), Constant(Number(2)), Simple(OpAdd)))

	got := trace.String()
	for _, want := range []string{"OP_CONSTANT", "[ 1 ][ 2 ]", "OP_ADD"} {
		if !strings.Contains(got, want) {
			t.Errorf("trace missing %q:\n%s", want, got)
		}
	}
}
