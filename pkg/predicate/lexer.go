// Package predicate evaluates branch predicates against the run context.
//
// The accepted surface is a closed grammar: comparisons, membership tests,
// and/or/not, and parentheses over variable references, quoted strings,
// numbers, true, false, and null. The evaluator is a hand-written lexer,
// recursive-descent parser, and AST walk — no host-language evaluation
// facility appears anywhere in the path, which is the load-bearing safety
// property of the whole system.
package predicate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MaxInputLen bounds predicate source length to bound parse time.
const MaxInputLen = 2048

// Error is a predicate parse or evaluation failure.
type Error struct {
	Reason string
	Pos    int // byte offset into the predicate text, -1 if not positional
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("predicate: %s at offset %d", e.Reason, e.Pos)
	}
	return "predicate: " + e.Reason
}

func errAt(pos int, format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...), Pos: pos}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokVar           // {name}
	tokString
	tokNumber
	tokTrue
	tokFalse
	tokNull
	tokAnd
	tokOr
	tokNot
	tokIn
	tokEq // ==
	tokNe // !=
	tokLt
	tokLe
	tokGt
	tokGe
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	pos  int
	str  string  // tokVar name / tokString value
	num  float64 // tokNumber value
}

var keywords = map[string]tokenKind{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"in":    tokIn,
	"true":  tokTrue,
	"false": tokFalse,
	"null":  tokNull,
}

// lex tokenizes the full input up front. Any byte the grammar does not
// recognize is an illegal-token error.
func lex(src string) ([]token, *Error) {
	if len(src) > MaxInputLen {
		return nil, errAt(-1, "input exceeds %d bytes", MaxInputLen)
	}
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '{':
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, errAt(i, "unterminated variable reference")
			}
			name := src[i+1 : i+end]
			if !isIdent(name) {
				return nil, errAt(i, "invalid variable name %q", name)
			}
			toks = append(toks, token{kind: tokVar, pos: i, str: name})
			i += end + 1
		case c == '\'' || c == '"':
			val, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, pos: i, str: val})
			i = next
		case c >= '0' && c <= '9' || c == '-':
			start := i
			if c == '-' {
				i++
				if i >= len(src) || src[i] < '0' || src[i] > '9' {
					return nil, errAt(start, "illegal token %q", "-")
				}
			}
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			f, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, errAt(start, "invalid number %q", src[start:i])
			}
			toks = append(toks, token{kind: tokNumber, pos: start, num: f})
		case c == '=' || c == '!' || c == '<' || c == '>':
			kind, width, err := lexOperator(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: kind, pos: i})
			i += width
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == '[':
			toks = append(toks, token{kind: tokLBracket, pos: i})
			i++
		case c == ']':
			toks = append(toks, token{kind: tokRBracket, pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, pos: i})
			i++
		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}
			word := src[start:i]
			kind, ok := keywords[word]
			if !ok {
				return nil, errAt(start, "illegal token %q", word)
			}
			toks = append(toks, token{kind: kind, pos: start})
		default:
			return nil, errAt(i, "illegal character %q", string(c))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func lexString(src string, start int) (string, int, *Error) {
	quote := src[start]
	var sb strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch c {
		case quote:
			return sb.String(), i + 1, nil
		case '\\':
			if i+1 >= len(src) {
				return "", 0, errAt(start, "unterminated string")
			}
			next := src[i+1]
			switch next {
			case '\'', '"', '\\':
				sb.WriteByte(next)
			default:
				return "", 0, errAt(i, "unsupported escape \\%c", next)
			}
			i += 2
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return "", 0, errAt(start, "unterminated string")
}

func lexOperator(src string, i int) (tokenKind, int, *Error) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}
	switch two {
	case "==":
		return tokEq, 2, nil
	case "!=":
		return tokNe, 2, nil
	case "<=":
		return tokLe, 2, nil
	case ">=":
		return tokGe, 2, nil
	}
	switch src[i] {
	case '<':
		return tokLt, 1, nil
	case '>':
		return tokGt, 1, nil
	}
	return 0, 0, errAt(i, "illegal token %q", string(src[i]))
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if i == 0 && s[i] >= '0' && s[i] <= '9' {
			return false
		}
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
