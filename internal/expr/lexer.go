// Package expr evaluates the restricted arithmetic and boolean expressions
// used by conditional nodes and Math actions.
//
// The grammar covers numeric literals, True/False, parentheses, the
// operators + - * / // % **, unary + - not, comparisons (chainable) and the
// short-circuit and/or. Names, calls, strings and subscripts are rejected.
package expr

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokKeyword // and, or, not, True, False
)

type token struct {
	typ tokenType
	val string
	pos int
}

var keywords = map[string]bool{
	"and":   true,
	"or":    true,
	"not":   true,
	"True":  true,
	"False": true,
}

// two-character operators are tried before one-character ones
var operators = []string{"**", "//", "==", "!=", ">=", "<=", "+", "-", "*", "/", "%", ">", "<"}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			i = scanNumber(src, i)
			if i == start || src[start:i] == "." {
				return nil, fmt.Errorf("malformed number at %d", start)
			}
			toks = append(toks, token{typ: tokNumber, val: src[start:i], pos: start})
		case c == '(':
			toks = append(toks, token{typ: tokLParen, val: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{typ: tokRParen, val: ")", pos: i})
			i++
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			if !keywords[word] {
				return nil, fmt.Errorf("name %q is not allowed", word)
			}
			toks = append(toks, token{typ: tokKeyword, val: word, pos: start})
		default:
			op := ""
			for _, cand := range operators {
				if strings.HasPrefix(src[i:], cand) {
					op = cand
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("unexpected character %q at %d", c, i)
			}
			toks = append(toks, token{typ: tokOp, val: op, pos: i})
			i += len(op)
		}
	}
	toks = append(toks, token{typ: tokEOF, pos: len(src)})
	return toks, nil
}

// scanNumber consumes digits, an optional fraction and an optional exponent.
func scanNumber(src string, i int) int {
	digits := func() {
		for i < len(src) && src[i] >= '0' && src[i] <= '9' {
			i++
		}
	}
	digits()
	if i < len(src) && src[i] == '.' {
		i++
		digits()
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && src[j] >= '0' && src[j] <= '9' {
			i = j
			digits()
		}
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
