package compiler

import "fmt"

// Precedence is the binding strength used as the climbing threshold in
// parsePrecedence. Higher binds tighter.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // . ()
	PrecPrimary
	PrecTop
)

var precedenceNames = [...]string{
	"None", "Assignment", "Or", "And", "Equality", "Comparison",
	"Term", "Factor", "Unary", "Call", "Primary", "Top",
}

func (p Precedence) String() string {
	if p >= 0 && int(p) < len(precedenceNames) {
		return precedenceNames[p]
	}
	return fmt.Sprintf("Precedence(%d)", int(p))
}

// next returns the next tighter level, saturating at PrecTop.
func (p Precedence) next() Precedence {
	if p >= PrecTop {
		return PrecTop
	}
	return p + 1
}
