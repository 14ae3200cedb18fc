package server

import (
	"strings"
	"testing"

	"connectrpc.com/connect"
)

// ---------------------------------------------------------------------------
// Evaluate: happy paths
// ---------------------------------------------------------------------------

func TestEvaluate_PrintProgram(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(t, map[string]any{
		"source": "var a = 2; print a * 3; print \"x\" + \"y\";",
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !field(resp.Msg, "success").GetBoolValue() {
		t.Fatalf("Evaluate was not successful: %s", field(resp.Msg, "error").GetStringValue())
	}
	if got := field(resp.Msg, "output").GetStringValue(); got != "6\nxy\n" {
		t.Errorf("output = %q, want %q", got, "6\nxy\n")
	}
}

func TestEvaluate_Expression(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(t, map[string]any{
		"source": "10 + 20 * 30",
		"mode":   ModeExpression,
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "610" {
		t.Errorf("result = %q, want %q", got, "610")
	}
}

func TestEvaluate_ExpressionComparison(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(t, map[string]any{
		"source": "!(5 - 4 > 3 * 2 == !nil)",
		"mode":   ModeExpression,
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "true" {
		t.Errorf("result = %q, want %q", got, "true")
	}
}

func TestEvaluate_WithoutSessionStartsFresh(t *testing.T) {
	svc := newTestEvalService()

	if _, err := svc.Evaluate(bg(), connectReq(t, map[string]any{"source": "var leak = 1;"})); err != nil {
		t.Fatal(err)
	}
	resp, err := svc.Evaluate(bg(), connectReq(t, map[string]any{"source": "print leak;"}))
	if err != nil {
		t.Fatal(err)
	}
	if field(resp.Msg, "success").GetBoolValue() {
		t.Fatal("global should not survive between sessionless evaluations")
	}
	if got := field(resp.Msg, "error").GetStringValue(); got != "Undefined variable 'leak'" {
		t.Errorf("error = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Evaluate: failures
// ---------------------------------------------------------------------------

func TestEvaluate_EmptySource(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Evaluate(bg(), connectReq(t, map[string]any{"source": ""}))
	if err == nil {
		t.Fatal("expected error for empty source")
	}
	if connectCode(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", connectCode(err))
	}
}

func TestEvaluate_UnknownMode(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Evaluate(bg(), connectReq(t, map[string]any{"source": "1", "mode": "repl"}))
	if connectCode(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", connectCode(err))
	}
}

func TestEvaluate_CompileError(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(t, map[string]any{"source": "print 1 +;"}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if field(resp.Msg, "success").GetBoolValue() {
		t.Fatal("compile error should not succeed")
	}
	if got := field(resp.Msg, "kind").GetStringValue(); got != "compile" {
		t.Errorf("kind = %q, want compile", got)
	}
	diags := field(resp.Msg, "diagnostics").GetListValue().GetValues()
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0].GetStructValue()
	if got := field(d, "message").GetStringValue(); got != "Expect expression." {
		t.Errorf("message = %q", got)
	}
	if got := field(d, "text").GetStringValue(); got != "[line 1] Error at 9 to 10: Expect expression." {
		t.Errorf("text = %q", got)
	}
}

func TestEvaluate_RuntimeErrorKeepsOutput(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(t, map[string]any{
		"source": "print 1; print -\"a\"; print 2;",
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if field(resp.Msg, "success").GetBoolValue() {
		t.Fatal("runtime error should not succeed")
	}
	if got := field(resp.Msg, "kind").GetStringValue(); got != "runtime" {
		t.Errorf("kind = %q, want runtime", got)
	}
	if got := field(resp.Msg, "error").GetStringValue(); got != "Operand must be a number." {
		t.Errorf("error = %q", got)
	}
	if got := field(resp.Msg, "output").GetStringValue(); got != "1\n" {
		t.Errorf("output = %q, want %q", got, "1\n")
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestEvaluate_SessionKeepsGlobals(t *testing.T) {
	svc := newTestEvalService()

	created, err := svc.CreateSession(bg(), connectReq(t, map[string]any{}))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := field(created.Msg, "id").GetStringValue()
	if id == "" {
		t.Fatal("CreateSession returned no id")
	}
	defer svc.DestroySession(bg(), connectReq(t, map[string]any{"id": id}))

	if _, err := svc.Evaluate(bg(), connectReq(t, map[string]any{"source": "var n = 41;", "session": id})); err != nil {
		t.Fatal(err)
	}
	resp, err := svc.Evaluate(bg(), connectReq(t, map[string]any{
		"source":  "n + 1",
		"session": id,
		"mode":    ModeExpression,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "42" {
		t.Errorf("result = %q, want 42", got)
	}
}

func TestEvaluate_UnknownSession(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Evaluate(bg(), connectReq(t, map[string]any{"source": "print 1;", "session": "nope"}))
	if connectCode(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want NotFound", connectCode(err))
	}
}

func TestDestroySession(t *testing.T) {
	svc := newTestEvalService()

	created, err := svc.CreateSession(bg(), connectReq(t, map[string]any{"name": "scratch"}))
	if err != nil {
		t.Fatal(err)
	}
	id := field(created.Msg, "id").GetStringValue()

	resp, err := svc.DestroySession(bg(), connectReq(t, map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	if !field(resp.Msg, "destroyed").GetBoolValue() {
		t.Error("destroyed = false")
	}

	_, err = svc.DestroySession(bg(), connectReq(t, map[string]any{"id": id}))
	if connectCode(err) != connect.CodeNotFound {
		t.Errorf("second destroy code = %v, want NotFound", connectCode(err))
	}
	_, err = svc.DestroySession(bg(), connectReq(t, map[string]any{}))
	if connectCode(err) != connect.CodeInvalidArgument {
		t.Errorf("missing id code = %v, want InvalidArgument", connectCode(err))
	}
}

func TestSaveSession_RestoresByName(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.Eval.CreateSession(bg(), connectReq(t, map[string]any{"name": "calc"}))
	if err != nil {
		t.Fatal(err)
	}
	id := field(created.Msg, "id").GetStringValue()

	if _, err := env.Eval.Evaluate(bg(), connectReq(t, map[string]any{
		"source":  "var total = 10; var label = \"sum\";",
		"session": id,
	})); err != nil {
		t.Fatal(err)
	}

	saved, err := env.Eval.SaveSession(bg(), connectReq(t, map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if got := field(saved.Msg, "globals").GetNumberValue(); got != 2 {
		t.Errorf("saved globals = %v, want 2", got)
	}

	restored, err := env.Eval.CreateSession(bg(), connectReq(t, map[string]any{"name": "calc"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := field(restored.Msg, "globals").GetNumberValue(); got != 2 {
		t.Errorf("restored globals = %v, want 2", got)
	}

	resp, err := env.Eval.Evaluate(bg(), connectReq(t, map[string]any{
		"source":  "label + \"=\"",
		"session": field(restored.Msg, "id").GetStringValue(),
		"mode":    ModeExpression,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := field(resp.Msg, "result").GetStringValue(); got != "sum=" {
		t.Errorf("result = %q, want %q", got, "sum=")
	}
}

func TestSaveSession_Preconditions(t *testing.T) {
	svc := newTestEvalService()

	created, err := svc.CreateSession(bg(), connectReq(t, map[string]any{"name": "volatile"}))
	if err != nil {
		t.Fatal(err)
	}
	id := field(created.Msg, "id").GetStringValue()
	defer svc.DestroySession(bg(), connectReq(t, map[string]any{"id": id}))

	_, err = svc.SaveSession(bg(), connectReq(t, map[string]any{"id": id}))
	if connectCode(err) != connect.CodeFailedPrecondition {
		t.Errorf("save without database code = %v, want FailedPrecondition", connectCode(err))
	}

	env := newTestEnv(t)
	anon, err := env.Eval.CreateSession(bg(), connectReq(t, map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Eval.SaveSession(bg(), connectReq(t, map[string]any{"id": field(anon.Msg, "id").GetStringValue()}))
	if connectCode(err) != connect.CodeFailedPrecondition {
		t.Errorf("save anonymous code = %v, want FailedPrecondition", connectCode(err))
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"first", "second"} {
		if _, err := env.Eval.CreateSession(bg(), connectReq(t, map[string]any{"name": name})); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := env.Eval.ListSessions(bg(), connectReq(t, map[string]any{}))
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	list := field(resp.Msg, "sessions").GetListValue().GetValues()
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}
	names := map[string]bool{}
	for _, v := range list {
		names[field(v.GetStructValue(), "name").GetStringValue()] = true
	}
	if !names["first"] || !names["second"] {
		t.Errorf("sessions = %v", names)
	}
}

// ---------------------------------------------------------------------------
// CheckSyntax / Disassemble
// ---------------------------------------------------------------------------

func TestCheckSyntax(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.CheckSyntax(bg(), connectReq(t, map[string]any{"source": "var a = 1; var b = a;"}))
	if err != nil {
		t.Fatal(err)
	}
	if !field(resp.Msg, "success").GetBoolValue() {
		t.Error("valid program reported errors")
	}
	globals := field(resp.Msg, "globals").GetListValue().GetValues()
	if len(globals) != 2 || globals[0].GetStringValue() != "a" || globals[1].GetStringValue() != "b" {
		t.Errorf("globals = %v", globals)
	}

	resp, err = svc.CheckSyntax(bg(), connectReq(t, map[string]any{"source": "print 1 +; print 2 2; var = 3;"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(field(resp.Msg, "diagnostics").GetListValue().GetValues()); got != 3 {
		t.Errorf("got %d diagnostics, want 3", got)
	}
}

func TestDisassemble(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Disassemble(bg(), connectReq(t, map[string]any{
		"source": "1 + 2",
		"mode":   ModeExpression,
		"name":   "sum",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !field(resp.Msg, "success").GetBoolValue() {
		t.Fatalf("Disassemble failed: %s", field(resp.Msg, "error").GetStringValue())
	}
	listing := field(resp.Msg, "listing").GetStringValue()
	for _, want := range []string{"; === sum ===", "OP_CONSTANT", "OP_ADD", "OP_RETURN"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
	if got := field(resp.Msg, "instructions").GetNumberValue(); got != 4 {
		t.Errorf("instructions = %v, want 4", got)
	}

	resp, err = svc.Disassemble(bg(), connectReq(t, map[string]any{"source": "print ;"}))
	if err != nil {
		t.Fatal(err)
	}
	if field(resp.Msg, "success").GetBoolValue() {
		t.Error("invalid source should not disassemble")
	}
}
