package units

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	quantityLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t]+`},
		{Name: "Number", Pattern: `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`},
		{Name: "Unit", Pattern: `[A-Za-zµμ]+`},
	})

	quantityParser = participle.MustBuild[quantityExpr](
		participle.Lexer(quantityLexer),
		participle.Elide("Whitespace"),
	)
)

// quantityExpr is the grammar of a typed-in quantity: a number followed by
// an optional unit.
type quantityExpr struct {
	Value float64 `parser:"@Number"`
	Unit  string  `parser:"@Unit?"`
}

// Parse reads a quantity like "50um", "50 µm" or "0.05mm". A bare number is
// taken to be in micrometers.
func Parse(input string) (Quantity, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Quantity{}, fmt.Errorf("empty quantity")
	}

	expr, err := quantityParser.ParseString("", input)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %w", input, err)
	}

	unit, err := ParseUnit(expr.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: expr.Value, Unit: unit}, nil
}

// MustParse is Parse for constants in tests and defaults; it panics on error.
func MustParse(input string) Quantity {
	q, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return q
}
