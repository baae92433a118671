package expr

import (
	"fmt"
	"math"
	"strconv"
)

type node interface {
	eval(vars map[string]float64) (value, error)
	collect(names map[string]struct{})
}

type numberNode struct{ value float64 }

type boolNode struct{ value bool }

type identNode struct{ name string }

type unaryNode struct {
	op      tokenType
	operand node
}

type binaryNode struct {
	op          tokenType
	left, right node
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) current() token {
	return p.tokens[p.pos]
}

func (p *parser) peekType() tokenType {
	if p.pos+1 >= len(p.tokens) {
		return tokenEOF
	}

	return p.tokens[p.pos+1].typ
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.typ != tokenEOF {
		p.pos++
	}

	return tok
}

func (p *parser) parseExpression() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current().typ == tokenOr {
		p.advance()

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: tokenOr, left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.current().typ == tokenAnd {
		p.advance()

		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: tokenAnd, left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch op := p.current().typ; op {
	case tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte:
		p.advance()

		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}

		if next := p.current(); isComparison(next.typ) {
			return nil, fmt.Errorf("%w: chained comparison at position %d", ErrSyntax, next.pos)
		}

		return &binaryNode{op: op, left: left, right: right}, nil
	case tokenAssign:
		return nil, fmt.Errorf("%w: assignment is only allowed at the start of a statement (position %d)", ErrSyntax, p.current().pos)
	}

	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for {
		op := p.current().typ
		if op != tokenPlus && op != tokenMinus {
			return left, nil
		}

		p.advance()

		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op := p.current().typ
		if op != tokenStar && op != tokenSlash && op != tokenPercent {
			return left, nil
		}

		p.advance()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	switch op := p.current().typ; op {
	case tokenMinus, tokenPlus, tokenNot:
		p.advance()

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &unaryNode{op: op, operand: operand}, nil
	}

	return p.parsePower()
}

// parsePower binds tighter than unary minus on its left and is right
// associative, so -2^2 is -4 and 2^3^2 is 2^9.
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	if p.current().typ != tokenCaret {
		return base, nil
	}

	p.advance()

	exponent, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	return &binaryNode{op: tokenCaret, left: base, right: exponent}, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.current()

	switch tok.typ {
	case tokenNumber:
		p.advance()

		f, err := strconv.ParseFloat(tok.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q at position %d", ErrSyntax, tok.literal, tok.pos)
		}

		return &numberNode{value: f}, nil
	case tokenTrue, tokenFalse:
		p.advance()
		return &boolNode{value: tok.typ == tokenTrue}, nil
	case tokenIdentifier:
		if p.peekType() == tokenLParen {
			return nil, fmt.Errorf("%w: function call %s() at position %d", ErrUnsupported, tok.literal, tok.pos)
		}

		p.advance()

		return &identNode{name: tok.literal}, nil
	case tokenLParen:
		p.advance()

		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}

		if closing := p.current(); closing.typ != tokenRParen {
			return nil, fmt.Errorf("%w: expected ) at position %d, got %s", ErrSyntax, closing.pos, closing.typ)
		}

		p.advance()

		if p.current().typ == tokenLParen {
			return nil, fmt.Errorf("%w: call expression at position %d", ErrUnsupported, p.current().pos)
		}

		return inner, nil
	}

	return nil, fmt.Errorf("%w: unexpected %s at position %d", ErrSyntax, tok.typ, tok.pos)
}

func isComparison(t tokenType) bool {
	switch t {
	case tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte:
		return true
	}

	return false
}

func (n *numberNode) eval(map[string]float64) (value, error) { return number(n.value), nil }

func (n *numberNode) collect(map[string]struct{}) {}

func (n *boolNode) eval(map[string]float64) (value, error) { return boolean(n.value), nil }

func (n *boolNode) collect(map[string]struct{}) {}

func (n *identNode) eval(vars map[string]float64) (value, error) {
	v, ok := vars[n.name]
	if !ok {
		return value{}, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.name)
	}

	return number(v), nil
}

func (n *identNode) collect(names map[string]struct{}) { names[n.name] = struct{}{} }

func (n *unaryNode) eval(vars map[string]float64) (value, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return value{}, err
	}

	switch n.op {
	case tokenNot:
		if !v.isBool {
			return value{}, fmt.Errorf("%w: ! requires a boolean operand", ErrTypeMismatch)
		}

		return boolean(!v.b), nil
	case tokenMinus:
		if v.isBool {
			return value{}, fmt.Errorf("%w: - requires a numeric operand", ErrTypeMismatch)
		}

		return number(-v.num), nil
	default:
		if v.isBool {
			return value{}, fmt.Errorf("%w: + requires a numeric operand", ErrTypeMismatch)
		}

		return v, nil
	}
}

func (n *unaryNode) collect(names map[string]struct{}) { n.operand.collect(names) }

func (n *binaryNode) collect(names map[string]struct{}) {
	n.left.collect(names)
	n.right.collect(names)
}

func (n *binaryNode) eval(vars map[string]float64) (value, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return value{}, err
	}

	// && and || short-circuit before the right side is evaluated.
	if n.op == tokenAnd || n.op == tokenOr {
		if !left.isBool {
			return value{}, fmt.Errorf("%w: %s requires boolean operands", ErrTypeMismatch, n.op)
		}

		if n.op == tokenAnd && !left.b {
			return boolean(false), nil
		}

		if n.op == tokenOr && left.b {
			return boolean(true), nil
		}

		right, err := n.right.eval(vars)
		if err != nil {
			return value{}, err
		}

		if !right.isBool {
			return value{}, fmt.Errorf("%w: %s requires boolean operands", ErrTypeMismatch, n.op)
		}

		return boolean(right.b), nil
	}

	right, err := n.right.eval(vars)
	if err != nil {
		return value{}, err
	}

	if n.op == tokenEq || n.op == tokenNeq {
		if left.isBool != right.isBool {
			return value{}, fmt.Errorf("%w: cannot compare boolean with number", ErrTypeMismatch)
		}

		equal := left.num == right.num
		if left.isBool {
			equal = left.b == right.b
		}

		return boolean(equal == (n.op == tokenEq)), nil
	}

	if left.isBool || right.isBool {
		return value{}, fmt.Errorf("%w: %s requires numeric operands", ErrTypeMismatch, n.op)
	}

	a, b := left.num, right.num

	switch n.op {
	case tokenPlus:
		return checkFinite(a + b)
	case tokenMinus:
		return checkFinite(a - b)
	case tokenStar:
		return checkFinite(a * b)
	case tokenSlash:
		if b == 0 {
			return value{}, ErrDivisionByZero
		}

		return checkFinite(a / b)
	case tokenPercent:
		if b == 0 {
			return value{}, ErrDivisionByZero
		}

		return checkFinite(math.Mod(a, b))
	case tokenCaret:
		return checkFinite(math.Pow(a, b))
	case tokenLt:
		return boolean(a < b), nil
	case tokenLte:
		return boolean(a <= b), nil
	case tokenGt:
		return boolean(a > b), nil
	case tokenGte:
		return boolean(a >= b), nil
	}

	return value{}, fmt.Errorf("%w: operator %s", ErrUnsupported, n.op)
}
