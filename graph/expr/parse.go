package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSyntax is returned when an expression cannot be parsed.
	ErrSyntax = errors.New("expr: syntax error")
	// ErrUnresolved is returned when an identifier names no variable.
	ErrUnresolved = errors.New("expr: unresolved identifier")
	// ErrIncomparable is returned when an ordering operator is applied to
	// operands that have no common order.
	ErrIncomparable = errors.New("expr: incomparable operands")
)

// Program is a compiled expression. A Program is immutable and safe for
// concurrent use.
type Program struct {
	src  string
	root node
}

// String returns the source the program was compiled from.
func (p *Program) String() string { return p.src }

// Eval evaluates the program against vars and reports its truth value.
// An identifier that does not resolve is an ErrUnresolved error.
func (p *Program) Eval(vars map[string]any) (bool, error) {
	if p == nil || p.root == nil {
		return false, nil
	}
	v, err := p.root.eval(vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Compile parses src into a Program. An empty source compiles to a program
// that always evaluates to false.
func Compile(src string) (*Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &Program{}, nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	return &Program{src: src, root: root}, nil
}

type node interface {
	eval(vars map[string]any) (any, error)
}

type literal struct{ v any }

func (n literal) eval(map[string]any) (any, error) { return n.v, nil }

type ident struct{ path []string }

func (n ident) eval(vars map[string]any) (any, error) {
	v, ok := lookup(vars, n.path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(n.path, "."))
	}
	return v, nil
}

type notNode struct{ x node }

func (n notNode) eval(vars map[string]any) (any, error) {
	v, err := n.x.eval(vars)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type logical struct {
	and  bool
	l, r node
}

func (n logical) eval(vars map[string]any) (any, error) {
	lv, err := n.l.eval(vars)
	if err != nil {
		return nil, err
	}
	l := truthy(lv)
	if n.and && !l {
		return false, nil
	}
	if !n.and && l {
		return true, nil
	}
	rv, err := n.r.eval(vars)
	if err != nil {
		return nil, err
	}
	return truthy(rv), nil
}

type comparison struct {
	op   string
	l, r node
}

func (n comparison) eval(vars map[string]any) (any, error) {
	l, err := n.l.eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(vars)
	if err != nil {
		return nil, err
	}
	return compare(l, n.op, r)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() *token {
	if p.pos < len(p.toks) {
		return &p.toks[p.pos]
	}
	return nil
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) or() (node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = logical{l: left, r: right}
	}
}

func (p *parser) and() (node, error) {
	left, err := p.comparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.comparison()
		if err != nil {
			return nil, err
		}
		left = logical{and: true, l: left, r: right}
	}
}

func (p *parser) comparison() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", ">=", "<=", ">", "<")
	if !ok {
		return left, nil
	}
	right, err := p.unary()
	if err != nil {
		return nil, err
	}
	return comparison{op: op, l: left, r: right}, nil
}

func (p *parser) unary() (node, error) {
	if _, ok := p.acceptOp("!"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return notNode{x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	p.pos++

	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
		}
		return literal{f}, nil
	case tokString:
		return literal{t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literal{true}, nil
		case "false":
			return literal{false}, nil
		case "nil", "null", "None":
			return literal{nil}, nil
		}
		return ident{path: strings.Split(t.text, ".")}, nil
	case tokLParen:
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if c := p.peek(); c == nil || c.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrSyntax)
		}
		p.pos++
		return inner, nil
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
}
