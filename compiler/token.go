package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenComment

	// Single-character punctuation
	TokenLeftParen  // (
	TokenRightParen // )
	TokenLeftBrace  // {
	TokenRightBrace // }
	TokenComma      // ,
	TokenDot        // .
	TokenMinus      // -
	TokenPlus       // +
	TokenSemicolon  // ;
	TokenSlash      // /
	TokenStar       // *

	// One or two character operators
	TokenBang         // !
	TokenBangEqual    // !=
	TokenEqual        // =
	TokenEqualEqual   // ==
	TokenGreater      // >
	TokenGreaterEqual // >=
	TokenLess         // <
	TokenLessEqual    // <=

	// Literals
	TokenIdentifier // foo, _bar
	TokenString     // "hello"
	TokenNumber     // 42, 3.14

	// Keywords
	TokenAnd
	TokenClass
	TokenElse
	TokenFalse
	TokenFor
	TokenFun
	TokenIf
	TokenNil
	TokenOr
	TokenPrint
	TokenReturn
	TokenSuper
	TokenThis
	TokenTrue
	TokenVar
	TokenWhile
)

var tokenNames = map[TokenType]string{
	TokenEOF:          "EOF",
	TokenError:        "ERROR",
	TokenComment:      "COMMENT",
	TokenLeftParen:    "(",
	TokenRightParen:   ")",
	TokenLeftBrace:    "{",
	TokenRightBrace:   "}",
	TokenComma:        ",",
	TokenDot:          ".",
	TokenMinus:        "-",
	TokenPlus:         "+",
	TokenSemicolon:    ";",
	TokenSlash:        "/",
	TokenStar:         "*",
	TokenBang:         "!",
	TokenBangEqual:    "!=",
	TokenEqual:        "=",
	TokenEqualEqual:   "==",
	TokenGreater:      ">",
	TokenGreaterEqual: ">=",
	TokenLess:         "<",
	TokenLessEqual:    "<=",
	TokenIdentifier:   "IDENTIFIER",
	TokenString:       "STRING",
	TokenNumber:       "NUMBER",
	TokenAnd:          "and",
	TokenClass:        "class",
	TokenElse:         "else",
	TokenFalse:        "false",
	TokenFor:          "for",
	TokenFun:          "fun",
	TokenIf:           "if",
	TokenNil:          "nil",
	TokenOr:           "or",
	TokenPrint:        "print",
	TokenReturn:       "return",
	TokenSuper:        "super",
	TokenThis:         "this",
	TokenTrue:         "true",
	TokenVar:          "var",
	TokenWhile:        "while",
}

// String returns the token type name.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenAnd && t <= TokenWhile
}

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

// Token represents a lexical token. Text holds the identifier name, the
// string contents without quotes, the comment body, or the error message
// for TokenError. Number is set only for TokenNumber.
type Token struct {
	Type   TokenType
	Text   string
	Number float64
	Start  int // byte offset of the first character
	Length int // length in bytes
	Line   int // 1-based line the token starts on
	Column int // 1-based column, in bytes, of the first character
}

// End returns the byte offset just past the token.
func (t Token) End() int { return t.Start + t.Length }

// String returns a string representation of the token.
func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Text)
	case TokenNumber:
		return fmt.Sprintf("NUMBER(%g)", t.Number)
	case TokenString, TokenIdentifier, TokenComment:
		return fmt.Sprintf("%s(%q)", t.Type, t.Text)
	}
	return t.Type.String()
}

// keywords holds the reserved words bucketed by their first letter.
var keywords = map[byte][]struct {
	word string
	typ  TokenType
}{
	'a': {{"and", TokenAnd}},
	'c': {{"class", TokenClass}},
	'e': {{"else", TokenElse}},
	'f': {{"for", TokenFor}, {"fun", TokenFun}, {"false", TokenFalse}},
	'i': {{"if", TokenIf}},
	'n': {{"nil", TokenNil}},
	'o': {{"or", TokenOr}},
	'p': {{"print", TokenPrint}},
	'r': {{"return", TokenReturn}},
	's': {{"super", TokenSuper}},
	't': {{"this", TokenThis}, {"true", TokenTrue}},
	'v': {{"var", TokenVar}},
	'w': {{"while", TokenWhile}},
}

// LookupIdent returns the keyword type for ident, or TokenIdentifier.
func LookupIdent(ident string) TokenType {
	if ident == "" {
		return TokenIdentifier
	}
	for _, kw := range keywords[ident[0]] {
		if kw.word == ident {
			return kw.typ
		}
	}
	return TokenIdentifier
}

// Keywords returns every reserved word.
func Keywords() []string {
	out := make([]string, 0, TokenWhile-TokenAnd+1)
	for t := TokenAnd; t <= TokenWhile; t++ {
		out = append(out, tokenNames[t])
	}
	return out
}
