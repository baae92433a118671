package expr

import (
	"fmt"
)

type tokenType int

type token struct {
	typ     tokenType
	literal string
	pos     int
}

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenTrue
	tokenFalse
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenCaret
	tokenLParen
	tokenRParen
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
	tokenAssign
)

func (t tokenType) String() string {
	switch t {
	case tokenIllegal:
		return "illegal"
	case tokenEOF:
		return "end of expression"
	case tokenIdentifier:
		return "identifier"
	case tokenNumber:
		return "number"
	case tokenTrue:
		return "true"
	case tokenFalse:
		return "false"
	case tokenPlus:
		return "+"
	case tokenMinus:
		return "-"
	case tokenStar:
		return "*"
	case tokenSlash:
		return "/"
	case tokenPercent:
		return "%"
	case tokenCaret:
		return "^"
	case tokenLParen:
		return "("
	case tokenRParen:
		return ")"
	case tokenAnd:
		return "&&"
	case tokenOr:
		return "||"
	case tokenNot:
		return "!"
	case tokenEq:
		return "=="
	case tokenNeq:
		return "!="
	case tokenLt:
		return "<"
	case tokenLte:
		return "<="
	case tokenGt:
		return ">"
	case tokenGte:
		return ">="
	case tokenAssign:
		return "="
	default:
		return "unknown"
	}
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

// tokenize scans the whole input up front; expressions are short and the
// parser needs one token of lookahead past identifiers.
func (l *lexer) tokenize() ([]token, error) {
	var tokens []token

	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, tok)

		if tok.typ == tokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipWhitespace()

	start := l.pos
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF, pos: start}, nil
	}

	ch := l.input[l.pos]

	switch {
	case isDigit(ch) || (ch == '.' && isDigit(l.peek())):
		return l.number()
	case isIdentStart(ch):
		return l.identifier()
	}

	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}

	switch two {
	case "&&":
		l.pos += 2
		return token{typ: tokenAnd, literal: two, pos: start}, nil
	case "||":
		l.pos += 2
		return token{typ: tokenOr, literal: two, pos: start}, nil
	case "==":
		l.pos += 2
		return token{typ: tokenEq, literal: two, pos: start}, nil
	case "!=":
		l.pos += 2
		return token{typ: tokenNeq, literal: two, pos: start}, nil
	case "<=":
		l.pos += 2
		return token{typ: tokenLte, literal: two, pos: start}, nil
	case ">=":
		l.pos += 2
		return token{typ: tokenGte, literal: two, pos: start}, nil
	case "**":
		l.pos += 2
		return token{typ: tokenCaret, literal: two, pos: start}, nil
	}

	single := map[byte]tokenType{
		'+': tokenPlus,
		'-': tokenMinus,
		'*': tokenStar,
		'/': tokenSlash,
		'%': tokenPercent,
		'^': tokenCaret,
		'(': tokenLParen,
		')': tokenRParen,
		'!': tokenNot,
		'<': tokenLt,
		'>': tokenGt,
		'=': tokenAssign,
	}

	if typ, ok := single[ch]; ok {
		l.pos++
		return token{typ: typ, literal: string(ch), pos: start}, nil
	}

	if ch == '.' || ch == '[' || ch == ']' {
		return token{}, fmt.Errorf("%w: attribute and index access are not allowed (position %d)", ErrUnsupported, start)
	}

	return token{}, fmt.Errorf("%w: unexpected character %q at position %d", ErrSyntax, ch, start)
}

func (l *lexer) number() (token, error) {
	start := l.pos
	seenDot := false

	for l.pos < len(l.input) {
		ch := l.input[l.pos]

		switch {
		case isDigit(ch):
			l.pos++
		case ch == '.' && !seenDot:
			seenDot = true
			l.pos++
		case ch == 'e' || ch == 'E':
			l.pos++
			if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
				l.pos++
			}

			if l.pos >= len(l.input) || !isDigit(l.input[l.pos]) {
				return token{}, fmt.Errorf("%w: malformed exponent at position %d", ErrSyntax, start)
			}

			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}

			return token{typ: tokenNumber, literal: l.input[start:l.pos], pos: start}, nil
		default:
			return token{typ: tokenNumber, literal: l.input[start:l.pos], pos: start}, nil
		}
	}

	return token{typ: tokenNumber, literal: l.input[start:l.pos], pos: start}, nil
}

func (l *lexer) identifier() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}

	literal := l.input[start:l.pos]

	switch literal {
	case "true":
		return token{typ: tokenTrue, literal: literal, pos: start}, nil
	case "false":
		return token{typ: tokenFalse, literal: literal, pos: start}, nil
	case "and":
		return token{typ: tokenAnd, literal: literal, pos: start}, nil
	case "or":
		return token{typ: tokenOr, literal: literal, pos: start}, nil
	case "not":
		return token{typ: tokenNot, literal: literal, pos: start}, nil
	}

	return token{typ: tokenIdentifier, literal: literal, pos: start}, nil
}

func (l *lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) peek() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}

	return l.input[l.pos+1]
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
