package expr

import (
	"fmt"
	"strings"
)

// Statement is one `target = expression` line of a Program. Target is empty
// for a bare expression.
type Statement struct {
	Target string
	Expr   *Expression
}

// Program is an ordered list of statements separated by ';' or newlines.
// Later statements see the targets assigned by earlier ones.
type Program struct {
	Statements []Statement
}

// ParseProgram compiles a statement list.
func ParseProgram(source string) (*Program, error) {
	if len(source) > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLong, len(source), MaxLength)
	}

	parts := strings.FieldsFunc(source, func(r rune) bool { return r == ';' || r == '\n' })

	program := &Program{}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		stmt, err := parseStatement(part)
		if err != nil {
			return nil, err
		}

		program.Statements = append(program.Statements, stmt)
	}

	if len(program.Statements) == 0 {
		return nil, ErrEmpty
	}

	return program, nil
}

func parseStatement(source string) (Statement, error) {
	tokens, err := newLexer(source).tokenize()
	if err != nil {
		return Statement{}, err
	}

	if len(tokens) >= 3 && tokens[0].typ == tokenIdentifier && tokens[1].typ == tokenAssign {
		rhs := source[tokens[2].pos:]

		e, err := Compile(rhs)
		if err != nil {
			return Statement{}, fmt.Errorf("%s: %w", tokens[0].literal, err)
		}

		return Statement{Target: tokens[0].literal, Expr: e}, nil
	}

	e, err := Compile(source)
	if err != nil {
		return Statement{}, err
	}

	return Statement{Expr: e}, nil
}

// Run executes the statements in order against a copy of vars and returns
// the numeric values assigned, keyed by target. A bare expression is stored
// under defaultTarget.
func (p *Program) Run(vars map[string]float64, defaultTarget string) (map[string]float64, error) {
	scope := make(map[string]float64, len(vars)+len(p.Statements))
	for k, v := range vars {
		scope[k] = v
	}

	outputs := make(map[string]float64, len(p.Statements))

	for _, stmt := range p.Statements {
		result, err := stmt.Expr.Float(scope)
		if err != nil {
			return nil, fmt.Errorf("evaluating %q: %w", stmt.Expr.String(), err)
		}

		target := stmt.Target
		if target == "" {
			target = defaultTarget
		}

		scope[target] = result
		outputs[target] = result
	}

	return outputs, nil
}
