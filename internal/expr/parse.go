package expr

import (
	"errors"
	"fmt"
	"go/scanner"
	"go/token"
	"math"
	"strconv"
)

var ErrSyntax = errors.New("expr: syntax error")

// Scope resolves identifiers other than t and pi.
type Scope func(name string) (*Node, bool)

type lexeme struct {
	pos int
	tok token.Token
	lit string
}

// Parse reads an infix expression. Operators are + - * / and ^ (or **) for
// powers; functions are sin, cos, exp, log, sqrt, tanh and pow(a, b).
// Identifiers resolve through scope first, then t (time) and pi.
func Parse(src string, scope Scope) (*Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, scope: scope}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.peek().tok != token.EOF {
		return nil, p.errorf("unexpected %s", p.peek().describe())
	}
	return n, nil
}

func lex(src string) ([]lexeme, error) {
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))

	var firstErr error
	var s scanner.Scanner
	s.Init(file, []byte(src), func(pos token.Position, msg string) {
		if firstErr == nil {
			firstErr = fmt.Errorf("%w at column %d: %s", ErrSyntax, pos.Column, msg)
		}
	}, 0)

	var toks []lexeme
	for {
		pos, tok, lit := s.Scan()
		if tok == token.SEMICOLON && lit == "\n" {
			continue
		}
		toks = append(toks, lexeme{pos: file.Offset(pos), tok: tok, lit: lit})
		if tok == token.EOF {
			break
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return toks, nil
}

func (l lexeme) describe() string {
	if l.lit != "" {
		return strconv.Quote(l.lit)
	}
	return l.tok.String()
}

type parser struct {
	toks  []lexeme
	i     int
	scope Scope
}

func (p *parser) peek() lexeme { return p.toks[p.i] }

func (p *parser) peekAt(k int) lexeme {
	if p.i+k < len(p.toks) {
		return p.toks[p.i+k]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() lexeme {
	l := p.toks[p.i]
	if l.tok != token.EOF {
		p.i++
	}
	return l
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.peek().pos, fmt.Sprintf(format, args...))
}

func (p *parser) expr() (*Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().tok {
		case token.ADD:
			p.next()
			right, err := p.term()
			if err != nil {
				return nil, err
			}
			left = Add(left, right)
		case token.SUB:
			p.next()
			right, err := p.term()
			if err != nil {
				return nil, err
			}
			left = Sub(left, right)
		default:
			return left, nil
		}
	}
}

func (p *parser) isPowerOp() bool {
	if p.peek().tok == token.XOR {
		return true
	}
	return p.peek().tok == token.MUL && p.peekAt(1).tok == token.MUL
}

func (p *parser) term() (*Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.peek().tok == token.MUL && !p.isPowerOp():
			p.next()
			right, err := p.unary()
			if err != nil {
				return nil, err
			}
			left = Mul(left, right)
		case p.peek().tok == token.QUO:
			p.next()
			right, err := p.unary()
			if err != nil {
				return nil, err
			}
			left = Div(left, right)
		default:
			return left, nil
		}
	}
}

func (p *parser) unary() (*Node, error) {
	switch p.peek().tok {
	case token.SUB:
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Neg(x), nil
	case token.ADD:
		p.next()
		return p.unary()
	}
	return p.power()
}

func (p *parser) power() (*Node, error) {
	base, err := p.atom()
	if err != nil {
		return nil, err
	}
	if !p.isPowerOp() {
		return base, nil
	}
	if p.next().tok == token.MUL {
		p.next()
	}
	// right associative, and the exponent may carry its own sign
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return Pow(base, exp), nil
}

func (p *parser) atom() (*Node, error) {
	l := p.peek()
	switch l.tok {
	case token.INT, token.FLOAT:
		p.next()
		v, err := strconv.ParseFloat(l.lit, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, l.lit)
		}
		return Const(v), nil
	case token.LPAREN:
		p.next()
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek().tok != token.RPAREN {
			return nil, p.errorf("expected ')', found %s", p.peek().describe())
		}
		p.next()
		return x, nil
	case token.IDENT:
		p.next()
		if p.peek().tok == token.LPAREN {
			return p.call(l.lit)
		}
		return p.ident(l.lit)
	}
	return nil, p.errorf("unexpected %s", l.describe())
}

func (p *parser) ident(name string) (*Node, error) {
	if p.scope != nil {
		if n, ok := p.scope(name); ok {
			return n, nil
		}
	}
	switch name {
	case "t":
		return Time(), nil
	case "pi":
		return Const(math.Pi), nil
	}
	return nil, fmt.Errorf("%w: unknown identifier %q", ErrSyntax, name)
}

var functions = map[string]func(*Node) *Node{
	"sin":  Sin,
	"cos":  Cos,
	"exp":  Exp,
	"log":  Log,
	"sqrt": Sqrt,
	"tanh": Tanh,
}

func (p *parser) call(name string) (*Node, error) {
	p.next() // (
	var args []*Node
	for p.peek().tok != token.RPAREN {
		a, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.peek().tok == token.COMMA {
			p.next()
			continue
		}
		if p.peek().tok != token.RPAREN {
			return nil, p.errorf("expected ',' or ')' in call to %s", name)
		}
	}
	p.next() // )

	if name == "pow" {
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: pow takes 2 arguments, got %d", ErrSyntax, len(args))
		}
		return Pow(args[0], args[1]), nil
	}
	f, ok := functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown function %q", ErrSyntax, name)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: %s takes 1 argument, got %d", ErrSyntax, name, len(args))
	}
	return f(args[0]), nil
}
