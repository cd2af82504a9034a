package expr

import (
	"fmt"
	"math"
	"strconv"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
)

// maxDepth bounds parenthesis and unary nesting.
const maxDepth = 64

// Value is the result of an evaluation. Booleans are numbers 1 and 0 that
// remember they came from a comparison or literal.
type Value struct {
	Num    float64
	IsBool bool
}

func boolValue(b bool) Value {
	if b {
		return Value{Num: 1, IsBool: true}
	}
	return Value{Num: 0, IsBool: true}
}

// Truthy reports Python-style truthiness.
func (v Value) Truthy() bool { return v.Num != 0 }

// String renders booleans as True/False and numbers in shortest form.
func (v Value) String() string {
	if v.IsBool {
		if v.Truthy() {
			return "True"
		}
		return "False"
	}
	if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e15 {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return strconv.FormatFloat(v.Num, 'g', -1, 64)
}

// Eval parses and evaluates src.
func Eval(src string) (Value, error) {
	toks, err := tokenize(src)
	if err != nil {
		return Value{}, tferrors.Expression(src, err.Error())
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err == nil && p.peek().typ != tokEOF {
		err = fmt.Errorf("unexpected %q at %d", p.peek().val, p.peek().pos)
	}
	if err != nil {
		return Value{}, tferrors.Expression(src, err.Error())
	}
	v, err := n.eval()
	if err != nil {
		return Value{}, tferrors.Expression(src, err.Error())
	}
	return v, nil
}

// EvalBool evaluates src and reports its truthiness. Any failure yields false.
func EvalBool(src string) bool {
	v, err := Eval(src)
	if err != nil {
		return false
	}
	return v.Truthy()
}

type node interface {
	eval() (Value, error)
}

type numNode struct{ v Value }

func (n numNode) eval() (Value, error) { return n.v, nil }

type unaryNode struct {
	op string
	x  node
}

func (n unaryNode) eval() (Value, error) {
	v, err := n.x.eval()
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "not":
		return boolValue(!v.Truthy()), nil
	case "-":
		return Value{Num: -v.Num}, nil
	default:
		return Value{Num: v.Num}, nil
	}
}

type logicNode struct {
	op   string // and, or
	l, r node
}

// eval returns the deciding operand, as Python does.
func (n logicNode) eval() (Value, error) {
	l, err := n.l.eval()
	if err != nil {
		return Value{}, err
	}
	if n.op == "and" && !l.Truthy() || n.op == "or" && l.Truthy() {
		return l, nil
	}
	return n.r.eval()
}

type compareNode struct {
	operands []node
	ops      []string
}

func (n compareNode) eval() (Value, error) {
	left, err := n.operands[0].eval()
	if err != nil {
		return Value{}, err
	}
	for i, op := range n.ops {
		right, err := n.operands[i+1].eval()
		if err != nil {
			return Value{}, err
		}
		if !compare(op, left.Num, right.Num) {
			return boolValue(false), nil
		}
		left = right
	}
	return boolValue(true), nil
}

func compare(op string, a, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

type binaryNode struct {
	op   string
	l, r node
}

func (n binaryNode) eval() (Value, error) {
	l, err := n.l.eval()
	if err != nil {
		return Value{}, err
	}
	r, err := n.r.eval()
	if err != nil {
		return Value{}, err
	}
	a, b := l.Num, r.Num
	var out float64
	switch n.op {
	case "+":
		out = a + b
	case "-":
		out = a - b
	case "*":
		out = a * b
	case "/":
		if b == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		out = a / b
	case "//":
		if b == 0 {
			return Value{}, fmt.Errorf("integer division or modulo by zero")
		}
		out = math.Floor(a / b)
	case "%":
		if b == 0 {
			return Value{}, fmt.Errorf("integer division or modulo by zero")
		}
		out = a - b*math.Floor(a/b)
	case "**":
		if a == 0 && b < 0 {
			return Value{}, fmt.Errorf("zero to a negative power")
		}
		out = math.Pow(a, b)
	}
	if math.IsInf(out, 0) || math.IsNaN(out) {
		return Value{}, fmt.Errorf("result of %s out of range", n.op)
	}
	return Value{Num: out}, nil
}

// parser is a recursive-descent parser. Lowest to highest precedence:
//
//	or < and < not < comparison < + - < * / // % < unary + - < **
type parser struct {
	toks  []token
	pos   int
	depth int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(typ tokenType, vals ...string) (token, bool) {
	t := p.peek()
	if t.typ != typ {
		return t, false
	}
	if len(vals) == 0 {
		return p.next(), true
	}
	for _, v := range vals {
		if t.val == v {
			return p.next(), true
		}
	}
	return t, false
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("expression nested deeper than %d", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept(tokKeyword, "or"); !ok {
			return l, nil
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = logicNode{op: "or", l: l, r: r}
	}
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept(tokKeyword, "and"); !ok {
			return l, nil
		}
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = logicNode{op: "and", l: l, r: r}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.accept(tokKeyword, "not"); ok {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	cmp := compareNode{operands: []node{first}}
	for {
		t, ok := p.accept(tokOp, "==", "!=", "<", "<=", ">", ">=")
		if !ok {
			break
		}
		r, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		cmp.ops = append(cmp.ops, t.val)
		cmp.operands = append(cmp.operands, r)
	}
	if len(cmp.ops) == 0 {
		return first, nil
	}
	return cmp, nil
}

func (p *parser) parseSum() (node, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.accept(tokOp, "+", "-")
		if !ok {
			return l, nil
		}
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: t.val, l: l, r: r}
	}
}

func (p *parser) parseTerm() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.accept(tokOp, "*", "/", "//", "%")
		if !ok {
			return l, nil
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: t.val, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	if t, ok := p.accept(tokOp, "+", "-"); ok {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: t.val, x: x}, nil
	}
	return p.parsePower()
}

// parsePower is right-associative and binds tighter than a unary minus on
// its left: -2**2 is -(2**2).
func (p *parser) parsePower() (node, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if _, ok := p.accept(tokOp, "**"); !ok {
		return base, nil
	}
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return binaryNode{op: "**", l: base, r: exp}, nil
}

func (p *parser) parseAtom() (node, error) {
	t := p.next()
	switch t.typ {
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed number %q", t.val)
		}
		return numNode{v: Value{Num: f}}, nil
	case tokKeyword:
		switch t.val {
		case "True":
			return numNode{v: boolValue(true)}, nil
		case "False":
			return numNode{v: boolValue(false)}, nil
		}
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, ok := p.accept(tokRParen); !ok {
			return nil, fmt.Errorf("missing ')' at %d", p.peek().pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.val, t.pos)
}
