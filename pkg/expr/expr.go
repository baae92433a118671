// Package expr implements the restricted arithmetic and boolean expression
// language used by formula steps, formula coefficients and validation rules.
//
// The grammar admits numeric literals, identifiers bound to numeric inputs,
// the operators + - * / % ^ (and ** as an alias for ^), comparisons, the
// logical operators && || ! (or their word forms), and parentheses. Function
// calls, attribute access and indexing are rejected at compile time.
package expr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// MaxLength bounds the size of any single expression source.
const MaxLength = 4096

var (
	ErrSyntax            = errors.New("syntax error")
	ErrUnsupported       = errors.New("unsupported construct")
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrNotFinite         = errors.New("result is not a finite number")
	ErrTooLong           = errors.New("expression too long")
	ErrEmpty             = errors.New("empty expression")
)

// Expression is a compiled, reusable expression.
type Expression struct {
	source string
	root   node
}

// Compile parses source into an Expression.
func Compile(source string) (*Expression, error) {
	if len(source) > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLong, len(source), MaxLength)
	}

	tokens, err := newLexer(source).tokenize()
	if err != nil {
		return nil, err
	}

	if len(tokens) == 1 {
		return nil, ErrEmpty
	}

	p := &parser{tokens: tokens}

	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	if tok := p.current(); tok.typ != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %s at position %d", ErrSyntax, tok.typ, tok.pos)
	}

	return &Expression{source: source, root: root}, nil
}

// String returns the original source text.
func (e *Expression) String() string {
	return e.source
}

// Variables returns the distinct identifiers referenced by the expression,
// sorted by name.
func (e *Expression) Variables() []string {
	seen := map[string]struct{}{}
	e.root.collect(seen)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Eval evaluates the expression against vars and returns either a float64
// or a bool.
func (e *Expression) Eval(vars map[string]float64) (any, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return nil, err
	}

	if v.isBool {
		return v.b, nil
	}

	return v.num, nil
}

// Float evaluates the expression and requires a numeric result.
func (e *Expression) Float(vars map[string]float64) (float64, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return 0, err
	}

	if v.isBool {
		return 0, fmt.Errorf("%w: expression %q yields a boolean, expected a number", ErrTypeMismatch, e.source)
	}

	return v.num, nil
}

// Bool evaluates the expression and requires a boolean result.
func (e *Expression) Bool(vars map[string]float64) (bool, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return false, err
	}

	if !v.isBool {
		return false, fmt.Errorf("%w: expression %q yields a number, expected a boolean", ErrTypeMismatch, e.source)
	}

	return v.b, nil
}

// EvalFloat compiles and evaluates source in one call.
func EvalFloat(source string, vars map[string]float64) (float64, error) {
	e, err := Compile(source)
	if err != nil {
		return 0, err
	}

	return e.Float(vars)
}

// EvalBool compiles and evaluates a boolean source in one call.
func EvalBool(source string, vars map[string]float64) (bool, error) {
	e, err := Compile(source)
	if err != nil {
		return false, err
	}

	return e.Bool(vars)
}

// ToFloat coerces a decoded input value into a float64. Numbers of any Go
// numeric kind, numeric strings and booleans (1 or 0) are accepted.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}

		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return f, true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

// NumericVars keeps the entries of values that coerce to numbers.
func NumericVars(values map[string]any) map[string]float64 {
	vars := make(map[string]float64, len(values))

	for k, v := range values {
		if f, ok := ToFloat(v); ok {
			vars[k] = f
		}
	}

	return vars
}

type value struct {
	num    float64
	b      bool
	isBool bool
}

func number(f float64) value { return value{num: f} }

func boolean(b bool) value { return value{b: b, isBool: true} }

func checkFinite(f float64) (value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return value{}, ErrNotFinite
	}

	return number(f), nil
}
