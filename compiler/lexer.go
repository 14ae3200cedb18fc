package compiler

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: on-demand tokenizer
// ---------------------------------------------------------------------------

// Lexer tokenizes source code one token at a time. It is not restartable;
// scanning the same source again needs a new Lexer.
type Lexer struct {
	input     string
	start     int // offset of the token being scanned
	pos       int // offset of the next unread byte
	line      int // current line (1-based)
	lineStart int // offset of the current line's first byte

	tokLine      int
	tokLineStart int

	// EmitComments makes ScanToken return TokenComment for // comments
	// instead of skipping them.
	EmitComments bool
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1}
}

func (l *Lexer) atEnd() bool { return l.pos >= len(l.input) }

func (l *Lexer) advance() byte {
	c := l.input[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.lineStart = l.pos
	}
	return c
}

func (l *Lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekNext() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

// match consumes the next byte if it is expected.
func (l *Lexer) match(expected byte) bool {
	if l.atEnd() || l.input[l.pos] != expected {
		return false
	}
	l.pos++
	return true
}

// ScanToken returns the next token. Once the input is exhausted every call
// returns TokenEOF.
func (l *Lexer) ScanToken() Token {
	if tok, ok := l.skipWhitespace(); ok {
		return tok
	}
	l.beginToken()

	if l.atEnd() {
		return l.makeToken(TokenEOF)
	}

	c := l.advance()
	switch {
	case isAlpha(c):
		return l.identifier()
	case isDigit(c):
		return l.number()
	}

	switch c {
	case '(':
		return l.makeToken(TokenLeftParen)
	case ')':
		return l.makeToken(TokenRightParen)
	case '{':
		return l.makeToken(TokenLeftBrace)
	case '}':
		return l.makeToken(TokenRightBrace)
	case ',':
		return l.makeToken(TokenComma)
	case '.':
		return l.makeToken(TokenDot)
	case '-':
		return l.makeToken(TokenMinus)
	case '+':
		return l.makeToken(TokenPlus)
	case ';':
		return l.makeToken(TokenSemicolon)
	case '/':
		return l.makeToken(TokenSlash)
	case '*':
		return l.makeToken(TokenStar)
	case '!':
		return l.makeToken(l.either('=', TokenBangEqual, TokenBang))
	case '=':
		return l.makeToken(l.either('=', TokenEqualEqual, TokenEqual))
	case '<':
		return l.makeToken(l.either('=', TokenLessEqual, TokenLess))
	case '>':
		return l.makeToken(l.either('=', TokenGreaterEqual, TokenGreater))
	case '"':
		return l.string()
	}

	// Report the whole character, not just its first byte.
	l.pos = l.start
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	return l.errorToken(fmt.Sprintf("Unknown Token %c", r))
}

func (l *Lexer) either(next byte, two, one TokenType) TokenType {
	if l.match(next) {
		return two
	}
	return one
}

// skipWhitespace consumes blanks and line comments. When EmitComments is
// set a comment is returned as a token instead.
func (l *Lexer) skipWhitespace() (Token, bool) {
	for !l.atEnd() {
		switch l.peek() {
		case ' ', '\t', '\r', '\n':
			l.advance()
		case '/':
			if l.peekNext() != '/' {
				return Token{}, false
			}
			l.beginToken()
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
			if l.EmitComments {
				tok := l.makeToken(TokenComment)
				tok.Text = l.input[l.start+2 : l.pos]
				return tok, true
			}
		default:
			return Token{}, false
		}
	}
	return Token{}, false
}

func (l *Lexer) identifier() Token {
	for isAlpha(l.peek()) || isDigit(l.peek()) {
		l.advance()
	}
	text := l.input[l.start:l.pos]
	tok := l.makeToken(LookupIdent(text))
	tok.Text = text
	return tok
}

func (l *Lexer) number() Token {
	for isDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' && isDigit(l.peekNext()) {
		l.advance()
		for isDigit(l.peek()) {
			l.advance()
		}
	}

	text := l.input[l.start:l.pos]
	// Out-of-range literals saturate to ±Inf; the digits are always valid.
	n, _ := strconv.ParseFloat(text, 64)
	tok := l.makeToken(TokenNumber)
	tok.Number = n
	return tok
}

func (l *Lexer) string() Token {
	for !l.atEnd() && l.peek() != '"' {
		l.advance()
	}
	if l.atEnd() {
		return l.errorToken("Unterminated string")
	}
	l.advance() // closing quote

	tok := l.makeToken(TokenString)
	tok.Text = l.input[l.start+1 : l.pos-1]
	return tok
}

func (l *Lexer) beginToken() {
	l.start = l.pos
	l.tokLine = l.line
	l.tokLineStart = l.lineStart
}

func (l *Lexer) makeToken(t TokenType) Token {
	return Token{
		Type:   t,
		Start:  l.start,
		Length: l.pos - l.start,
		Line:   l.tokLine,
		Column: l.start - l.tokLineStart + 1,
	}
}

func (l *Lexer) errorToken(msg string) Token {
	tok := l.makeToken(TokenError)
	tok.Text = msg
	return tok
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// IsIdentByte reports whether c can appear in an identifier.
func IsIdentByte(c byte) bool {
	return isAlpha(c) || isDigit(c)
}

// ScanAll tokenizes source up to and including the EOF token.
func ScanAll(source string, emitComments bool) []Token {
	l := NewLexer(source)
	l.EmitComments = emitComments
	var tokens []Token
	for {
		tok := l.ScanToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
