package compiler

import (
	"io"
	"os"

	"github.com/chazu/bytelox/vm"
)

// ---------------------------------------------------------------------------
// Codegen: single-pass parse and emit
// ---------------------------------------------------------------------------

// Compiler parses tokens and emits instructions in the same pass; there is
// no syntax tree. A Compiler is used for exactly one source text.
type Compiler struct {
	lexer    *Lexer
	current  Token
	previous Token

	hadError  bool
	panicMode bool

	chunk       *vm.Chunk
	diagnostics []Diagnostic
	diag        io.Writer
	globals     []Symbol
}

// Symbol is a global declared by a var statement.
type Symbol struct {
	Name   string
	Line   int
	Column int
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithDiagnostics sets where diagnostics are written, one per line.
// Defaults to os.Stderr. A nil writer discards them.
func WithDiagnostics(w io.Writer) Option {
	return func(c *Compiler) {
		if w == nil {
			w = io.Discard
		}
		c.diag = w
	}
}

// NewCompiler creates a compiler over source.
func NewCompiler(source string, opts ...Option) *Compiler {
	c := &Compiler{
		lexer: NewLexer(source),
		chunk: vm.NewChunk(),
		diag:  os.Stderr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Diagnostics returns every reported error in order.
func (c *Compiler) Diagnostics() []Diagnostic { return c.diagnostics }

// Globals returns the globals declared by var statements, in source order.
func (c *Compiler) Globals() []Symbol { return c.globals }

// Chunk returns the instructions emitted so far.
func (c *Compiler) Chunk() *vm.Chunk { return c.chunk }

// CompileProgram compiles declarations until end of input.
func (c *Compiler) CompileProgram() (*vm.Chunk, error) {
	c.advance()
	for !c.match(TokenEOF) {
		c.declaration()
	}
	return c.end()
}

// CompileExpression compiles exactly one expression followed by end of
// input. The expression's value is left on the stack.
func (c *Compiler) CompileExpression() (*vm.Chunk, error) {
	c.advance()
	c.expression()
	c.consume(TokenEOF, "Expect end of expression.")
	return c.end()
}

func (c *Compiler) end() (*vm.Chunk, error) {
	c.emit(vm.Simple(vm.OpReturn))
	if c.hadError {
		return nil, &CompileError{Diagnostics: c.diagnostics}
	}
	return c.chunk, nil
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Compile compiles a program.
func Compile(source string, opts ...Option) (*vm.Chunk, error) {
	return NewCompiler(source, opts...).CompileProgram()
}

// CompileExpression compiles a single expression.
func CompileExpression(source string, opts ...Option) (*vm.Chunk, error) {
	return NewCompiler(source, opts...).CompileExpression()
}

// Result is everything a compilation produced, for tools that want more than
// the chunk.
type Result struct {
	Chunk       *vm.Chunk // nil when Diagnostics is non-empty
	Diagnostics []Diagnostic
	Globals     []Symbol
}

// Check compiles source as a program without writing diagnostics anywhere.
func Check(source string) *Result {
	c := NewCompiler(source, WithDiagnostics(io.Discard))
	chunk, _ := c.CompileProgram()
	return &Result{Chunk: chunk, Diagnostics: c.diagnostics, Globals: c.globals}
}

// Backend adapts this package to vm.CompilerBackend.
type Backend struct{}

func (Backend) Compile(source string, diag io.Writer) (*vm.Chunk, error) {
	return Compile(source, WithDiagnostics(diag))
}

func (Backend) CompileExpression(source string, diag io.Writer) (*vm.Chunk, error) {
	return CompileExpression(source, WithDiagnostics(diag))
}

// ---------------------------------------------------------------------------
// Token stream
// ---------------------------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lexer.ScanToken()
		switch c.current.Type {
		case TokenComment:
			continue
		case TokenError:
			c.errorAtCurrent(c.current.Text)
			continue
		}
		return
	}
}

func (c *Compiler) check(t TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t TokenType, msg string) {
	if c.check(t) {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) errorAtPrevious(msg string) { c.errorAt(c.previous, msg) }

// errorAt reports a diagnostic unless one is already pending for the
// current statement.
func (c *Compiler) errorAt(tok Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	d := newDiagnostic(tok, msg)
	c.diagnostics = append(c.diagnostics, d)
	io.WriteString(c.diag, d.String()+"\n")
}

// synchronize skips tokens until a statement boundary: just past a
// semicolon or before a keyword that starts a declaration or statement.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for !c.check(TokenEOF) {
		if c.previous.Type == TokenSemicolon {
			return
		}
		switch c.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor, TokenIf, TokenWhile, TokenPrint, TokenReturn:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) emit(ins ...vm.Instruction) {
	for _, in := range ins {
		c.chunk.Write(in, c.previous.Line)
	}
}

func (c *Compiler) emitOp(ops ...vm.Opcode) {
	for _, op := range ops {
		c.emit(vm.Simple(op))
	}
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (c *Compiler) declaration() {
	if c.match(TokenVar) {
		c.varDeclaration()
	} else {
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	c.consume(TokenIdentifier, "Expect variable name.")
	nameTok := c.previous
	name := nameTok.Text

	if c.match(TokenEqual) {
		c.expression()
	} else {
		c.emitOp(vm.OpNil)
	}
	c.consume(TokenSemicolon, "Expect ';' after variable declaration.")

	c.emit(vm.DefineGlobal(name))
	if nameTok.Type == TokenIdentifier {
		c.globals = append(c.globals, Symbol{Name: name, Line: nameTok.Line, Column: nameTok.Column})
	}
}

func (c *Compiler) statement() {
	if c.match(TokenPrint) {
		c.printStatement()
		return
	}
	c.expressionStatement()
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after value.")
	c.emitOp(vm.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(vm.OpPop)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

// parsePrecedence parses an expression whose operators all bind at least as
// tightly as prec.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefix := ruleFor(c.previous.Type).Prefix
	if prefix == PrefixNone {
		c.errorAtPrevious("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	c.prefix(prefix, canAssign)

	for prec <= ruleFor(c.current.Type).Precedence {
		c.advance()
		c.infix(ruleFor(c.previous.Type).Infix)
	}

	if canAssign && c.match(TokenEqual) {
		c.errorAtPrevious("Invalid assignment target.")
	}
}

func (c *Compiler) prefix(rule PrefixRule, canAssign bool) {
	switch rule {
	case PrefixGrouping:
		c.grouping()
	case PrefixUnary:
		c.unary()
	case PrefixNumber:
		c.emit(vm.Constant(vm.Number(c.previous.Number)))
	case PrefixString:
		c.emit(vm.Constant(vm.String(c.previous.Text)))
	case PrefixLiteral:
		c.literal()
	case PrefixVariable:
		c.variable(canAssign)
	}
}

func (c *Compiler) infix(rule InfixRule) {
	switch rule {
	case InfixBinary:
		c.binary()
	}
}

func (c *Compiler) grouping() {
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary() {
	op := c.previous.Type
	c.parsePrecedence(PrecUnary)

	switch op {
	case TokenMinus:
		c.emitOp(vm.OpNegate)
	case TokenBang:
		c.emitOp(vm.OpNot)
	}
}

// binary compiles the right operand one level tighter than the operator,
// which makes every binary operator left-associative.
func (c *Compiler) binary() {
	op := c.previous.Type
	c.parsePrecedence(ruleFor(op).Precedence.next())

	switch op {
	case TokenPlus:
		c.emitOp(vm.OpAdd)
	case TokenMinus:
		c.emitOp(vm.OpSubtract)
	case TokenStar:
		c.emitOp(vm.OpMultiply)
	case TokenSlash:
		c.emitOp(vm.OpDivide)
	case TokenEqualEqual:
		c.emitOp(vm.OpEqual)
	case TokenBangEqual:
		c.emitOp(vm.OpEqual, vm.OpNot)
	case TokenGreater:
		c.emitOp(vm.OpGreater)
	case TokenGreaterEqual:
		c.emitOp(vm.OpLess, vm.OpNot)
	case TokenLess:
		c.emitOp(vm.OpLess)
	case TokenLessEqual:
		c.emitOp(vm.OpGreater, vm.OpNot)
	}
}

func (c *Compiler) literal() {
	switch c.previous.Type {
	case TokenFalse:
		c.emitOp(vm.OpFalse)
	case TokenNil:
		c.emitOp(vm.OpNil)
	case TokenTrue:
		c.emitOp(vm.OpTrue)
	}
}

// variable compiles a global read, or an assignment when the name is
// followed by '=' in a context that allows one.
func (c *Compiler) variable(canAssign bool) {
	name := c.previous.Text
	if canAssign && c.match(TokenEqual) {
		c.expression()
		c.emit(vm.SetGlobal(name))
		return
	}
	c.emit(vm.GetGlobal(name))
}
