package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/bytelox/compiler"
	"github.com/chazu/bytelox/vm"
)

// EvalServiceName is the fully-qualified name of the evaluation service.
const EvalServiceName = "bytelox.v1.EvalService"

// Procedure paths served by NewEvalServiceHandler.
const (
	EvalServiceEvaluateProcedure       = "/" + EvalServiceName + "/Evaluate"
	EvalServiceCheckSyntaxProcedure    = "/" + EvalServiceName + "/CheckSyntax"
	EvalServiceDisassembleProcedure    = "/" + EvalServiceName + "/Disassemble"
	EvalServiceCreateSessionProcedure  = "/" + EvalServiceName + "/CreateSession"
	EvalServiceDestroySessionProcedure = "/" + EvalServiceName + "/DestroySession"
	EvalServiceSaveSessionProcedure    = "/" + EvalServiceName + "/SaveSession"
	EvalServiceListSessionsProcedure   = "/" + EvalServiceName + "/ListSessions"
)

// Evaluation modes accepted in the "mode" request field.
const (
	ModeProgram    = "program"
	ModeExpression = "expression"
)

// EvalService implements the evaluation service over Connect. Messages are
// google.protobuf.Struct values, so both the binary and JSON codecs work
// without generated code.
type EvalService struct {
	worker   *VMWorker
	sessions *SessionStore
}

// NewEvalService creates an EvalService.
func NewEvalService(worker *VMWorker, sessions *SessionStore) *EvalService {
	return &EvalService{
		worker:   worker,
		sessions: sessions,
	}
}

// NewEvalServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewEvalServiceHandler(svc *EvalService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(EvalServiceEvaluateProcedure, connect.NewUnaryHandler(EvalServiceEvaluateProcedure, svc.Evaluate, opts...))
	mux.Handle(EvalServiceCheckSyntaxProcedure, connect.NewUnaryHandler(EvalServiceCheckSyntaxProcedure, svc.CheckSyntax, opts...))
	mux.Handle(EvalServiceDisassembleProcedure, connect.NewUnaryHandler(EvalServiceDisassembleProcedure, svc.Disassemble, opts...))
	mux.Handle(EvalServiceCreateSessionProcedure, connect.NewUnaryHandler(EvalServiceCreateSessionProcedure, svc.CreateSession, opts...))
	mux.Handle(EvalServiceDestroySessionProcedure, connect.NewUnaryHandler(EvalServiceDestroySessionProcedure, svc.DestroySession, opts...))
	mux.Handle(EvalServiceSaveSessionProcedure, connect.NewUnaryHandler(EvalServiceSaveSessionProcedure, svc.SaveSession, opts...))
	mux.Handle(EvalServiceListSessionsProcedure, connect.NewUnaryHandler(EvalServiceListSessionsProcedure, svc.ListSessions, opts...))
	return "/" + EvalServiceName + "/", mux
}

// ---------------------------------------------------------------------------
// Evaluate
// ---------------------------------------------------------------------------

// Evaluate compiles and runs source. Without a session the worker's scratch
// VM is used with its globals cleared first, so each call starts fresh.
// Compile and runtime failures are reported in the response, not as RPC
// errors.
func (s *EvalService) Evaluate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	mode, err := modeField(req.Msg)
	if err != nil {
		return nil, err
	}

	var sess *Session
	if id := stringField(req.Msg, "session"); id != "" {
		var ok bool
		if sess, ok = s.sessions.Get(id); !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", ErrUnknownSession, id))
		}
	}

	result, err := s.worker.DoContext(ctx, func(scratch *vm.VM) interface{} {
		target := scratch
		if sess != nil {
			target = sess.VM
		} else {
			scratch.ResetGlobals()
		}
		return evaluate(target, source, mode)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, connect.NewError(connect.CodeCanceled, err)
		}
		return respond(map[string]any{
			"success": false,
			"error":   err.Error(),
			"kind":    vm.KindUnknownError.String(),
		})
	}

	return respond(result.(map[string]any))
}

// evaluate runs on the worker goroutine.
func evaluate(v *vm.VM, source, mode string) map[string]any {
	var stdout, stderr bytes.Buffer
	v.SetOutput(&stdout, &stderr)
	defer v.SetOutput(io.Discard, io.Discard)

	var (
		value vm.Value
		err   error
	)
	if mode == ModeExpression {
		value, err = v.Evaluate(source)
	} else {
		err = v.Interpret(source)
	}

	out := map[string]any{
		"success": err == nil,
		"output":  stdout.String(),
	}
	if err != nil {
		out["error"] = err.Error()
		out["kind"] = vm.KindOf(err).String()
		var cerr *compiler.CompileError
		if errors.As(err, &cerr) {
			out["diagnostics"] = diagnosticsList(cerr.Diagnostics)
		}
		return out
	}
	if mode == ModeExpression {
		out["result"] = value.String()
	}
	return out
}

// ---------------------------------------------------------------------------
// Static analysis
// ---------------------------------------------------------------------------

// CheckSyntax compiles source without running it and reports diagnostics and
// the globals it declares.
func (s *EvalService) CheckSyntax(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	res := compiler.Check(stringField(req.Msg, "source"))

	globals := make([]any, len(res.Globals))
	for i, g := range res.Globals {
		globals[i] = g.Name
	}
	return respond(map[string]any{
		"success":     len(res.Diagnostics) == 0,
		"diagnostics": diagnosticsList(res.Diagnostics),
		"globals":     globals,
	})
}

// Disassemble compiles source and returns the chunk listing.
func (s *EvalService) Disassemble(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source := stringField(req.Msg, "source")
	mode, err := modeField(req.Msg)
	if err != nil {
		return nil, err
	}
	name := stringField(req.Msg, "name")
	if name == "" {
		name = "code"
	}

	compile := compiler.Compile
	if mode == ModeExpression {
		compile = compiler.CompileExpression
	}
	chunk, err := compile(source, compiler.WithDiagnostics(io.Discard))
	if err != nil {
		out := map[string]any{"success": false, "error": err.Error()}
		var cerr *compiler.CompileError
		if errors.As(err, &cerr) {
			out["diagnostics"] = diagnosticsList(cerr.Diagnostics)
		}
		return respond(out)
	}
	return respond(map[string]any{
		"success":      true,
		"listing":      chunk.DisassembleWithName(name),
		"instructions": chunk.Len(),
	})
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession starts a session. A name that was saved before restores its
// globals.
func (s *EvalService) CreateSession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	name := stringField(req.Msg, "name")
	sess, err := s.sessions.Create(ctx, name)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	count, err := s.worker.DoContext(ctx, func(*vm.VM) interface{} {
		return len(sess.VM.GlobalNames())
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return respond(map[string]any{
		"id":      sess.ID,
		"name":    sess.Name,
		"globals": count.(int),
	})
}

// DestroySession drops a live session. Saved state is left untouched.
func (s *EvalService) DestroySession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "id")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("id is required"))
	}
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", ErrUnknownSession, id))
	}
	return respond(map[string]any{"destroyed": true})
}

// SaveSession persists a named session's globals.
func (s *EvalService) SaveSession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", ErrUnknownSession, id))
	}
	if !s.sessions.Persistent() {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no session database configured"))
	}
	if sess.Name == "" {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("only named sessions can be saved"))
	}

	snapshot, err := s.worker.DoContext(ctx, func(*vm.VM) interface{} {
		return sess.VM.Globals()
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	globals := snapshot.(map[string]vm.Value)
	if err := s.sessions.Save(ctx, sess, globals); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return respond(map[string]any{"saved": true, "globals": len(globals)})
}

// ListSessions reports the live sessions.
func (s *EvalService) ListSessions(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	live := s.sessions.List()
	list := make([]any, len(live))
	for i, sess := range live {
		list[i] = map[string]any{
			"id":      sess.ID,
			"name":    sess.Name,
			"created": sess.Created.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return respond(map[string]any{"sessions": list})
}

// ---------------------------------------------------------------------------
// Message helpers
// ---------------------------------------------------------------------------

func stringField(msg *structpb.Struct, key string) string {
	return msg.GetFields()[key].GetStringValue()
}

func modeField(msg *structpb.Struct) (string, error) {
	switch mode := stringField(msg, "mode"); mode {
	case "", ModeProgram:
		return ModeProgram, nil
	case ModeExpression:
		return ModeExpression, nil
	default:
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown mode %q", mode))
	}
}

func diagnosticsList(ds []compiler.Diagnostic) []any {
	out := make([]any, len(ds))
	for i, d := range ds {
		out[i] = map[string]any{
			"message": d.Message,
			"line":    d.Line,
			"column":  d.Column,
			"start":   d.Start,
			"end":     d.End,
			"text":    d.String(),
		}
	}
	return out
}

func respond(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
