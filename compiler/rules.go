package compiler

// PrefixRule names the handler used when a token starts an expression.
type PrefixRule uint8

const (
	PrefixNone PrefixRule = iota
	PrefixGrouping
	PrefixUnary
	PrefixNumber
	PrefixString
	PrefixLiteral
	PrefixVariable
)

// InfixRule names the handler used when a token follows a complete operand.
type InfixRule uint8

const (
	InfixNone InfixRule = iota
	InfixBinary
)

// ParseRule is the static parsing behaviour of one token type.
type ParseRule struct {
	Prefix     PrefixRule
	Infix      InfixRule
	Precedence Precedence
}

// ruleFor returns the parse rule for t. Token types without a case have no
// prefix or infix role.
func ruleFor(t TokenType) ParseRule {
	switch t {
	case TokenLeftParen:
		return ParseRule{PrefixGrouping, InfixNone, PrecNone}
	case TokenMinus:
		return ParseRule{PrefixUnary, InfixBinary, PrecTerm}
	case TokenPlus:
		return ParseRule{PrefixNone, InfixBinary, PrecTerm}
	case TokenSlash, TokenStar:
		return ParseRule{PrefixNone, InfixBinary, PrecFactor}
	case TokenBang:
		return ParseRule{PrefixUnary, InfixNone, PrecNone}
	case TokenBangEqual, TokenEqualEqual:
		return ParseRule{PrefixNone, InfixBinary, PrecEquality}
	case TokenGreater, TokenGreaterEqual, TokenLess, TokenLessEqual:
		return ParseRule{PrefixNone, InfixBinary, PrecComparison}
	case TokenIdentifier:
		return ParseRule{PrefixVariable, InfixNone, PrecNone}
	case TokenString:
		return ParseRule{PrefixString, InfixNone, PrecNone}
	case TokenNumber:
		return ParseRule{PrefixNumber, InfixNone, PrecNone}
	case TokenFalse, TokenNil, TokenTrue:
		return ParseRule{PrefixLiteral, InfixNone, PrecNone}
	}
	return ParseRule{}
}
