package vm

import "errors"

// Sentinel error kinds. Concrete errors satisfy errors.Is against one of
// these so callers can branch without knowing the concrete type.
var (
	ErrCompileTime = errors.New("compiler error")
	ErrRuntime     = errors.New("runtime error")
)

// ErrorKind classifies an error returned by Interpret.
type ErrorKind int

const (
	KindUnknownError ErrorKind = iota
	KindCompileError
	KindRuntimeError
)

func (k ErrorKind) String() string {
	switch k {
	case KindCompileError:
		return "compile"
	case KindRuntimeError:
		return "runtime"
	}
	return "unknown"
}

// KindOf maps an error to its kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknownError
	case errors.Is(err, ErrCompileTime):
		return KindCompileError
	case errors.Is(err, ErrRuntime):
		return KindRuntimeError
	}
	return KindUnknownError
}

// RuntimeError is an operand type violation or an unbound global. Its
// message is reported bare, without location.
type RuntimeError struct {
	Message string
	Op      Opcode
	Offset  int
	Line    int
}

func (e *RuntimeError) Error() string { return e.Message }

// Is makes errors.Is(err, ErrRuntime) hold.
func (e *RuntimeError) Is(target error) bool { return target == ErrRuntime }
