package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/expr"
)

var (
	ErrNoUnknowns     = errors.New("models: system declares no unknowns")
	ErrEquationCount  = errors.New("models: number of equations differs from number of unknowns")
	ErrDuplicateName  = errors.New("models: name already declared")
	ErrReservedName   = errors.New("models: name is reserved")
	ErrForeignUnknown = errors.New("models: expression references an unknown not declared here")
)

var reserved = map[string]bool{"t": true, "pi": true}

// Builder declares an algebraic system one piece at a time. The first error
// is kept and reported by Compile.
type Builder struct {
	names    []string
	unknowns []*expr.Node
	guess    dynamo.State
	eqs      []*expr.Node
	vars     map[string]*expr.Node
	varOrder []string
	err      error
}

func NewBuilder() *Builder {
	return &Builder{vars: make(map[string]*expr.Node)}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) hasUnknown(name string) bool {
	for _, n := range b.names {
		if n == name {
			return true
		}
	}
	return false
}

// Unknown declares the next entry of y with its initial guess.
func (b *Builder) Unknown(name string, initial float64) *expr.Node {
	switch {
	case reserved[name]:
		b.fail(fmt.Errorf("%w: %q", ErrReservedName, name))
	case b.hasUnknown(name):
		b.fail(fmt.Errorf("%w: %q", ErrDuplicateName, name))
	}
	n := expr.Unknown(len(b.unknowns), name)
	b.names = append(b.names, name)
	b.unknowns = append(b.unknowns, n)
	b.guess = append(b.guess, initial)
	return n
}

// Param is a named input of the system.
func (b *Builder) Param(name string) *expr.Node {
	return expr.Param(name)
}

// Equation adds the residual g_i; the system is solved for g = 0.
func (b *Builder) Equation(residual *expr.Node) *Builder {
	b.eqs = append(b.eqs, residual)
	return b
}

// Variable names an output expression over the unknowns, t and inputs.
// Later equations and variables may refer to it by name when parsed; an
// unknown of the same name takes precedence there.
func (b *Builder) Variable(name string, e *expr.Node) *Builder {
	_, dup := b.vars[name]
	switch {
	case reserved[name]:
		b.fail(fmt.Errorf("%w: %q", ErrReservedName, name))
	case dup:
		b.fail(fmt.Errorf("%w: %q", ErrDuplicateName, name))
	}
	b.vars[name] = e
	b.varOrder = append(b.varOrder, name)
	return b
}

// Scope resolves unknowns and variables declared so far; any other name
// except t and pi becomes an input parameter.
func (b *Builder) Scope() expr.Scope {
	return func(name string) (*expr.Node, bool) {
		for i, n := range b.names {
			if n == name {
				return b.unknowns[i], true
			}
		}
		if v, ok := b.vars[name]; ok {
			return v, true
		}
		if reserved[name] {
			return nil, false
		}
		return expr.Param(name), true
	}
}

// ParseEquation adds a residual given as text. "lhs = rhs" is read as lhs - rhs.
func (b *Builder) ParseEquation(src string) error {
	e, err := parseResidual(src, b.Scope())
	if err != nil {
		return fmt.Errorf("equation %q: %w", src, err)
	}
	b.Equation(e)
	return nil
}

func (b *Builder) ParseVariable(name, src string) error {
	e, err := expr.Parse(src, b.Scope())
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	b.Variable(name, e)
	return nil
}

func parseResidual(src string, scope expr.Scope) (*expr.Node, error) {
	lhs, rhs, found := strings.Cut(src, "=")
	if !found {
		return expr.Parse(src, scope)
	}
	l, err := expr.Parse(lhs, scope)
	if err != nil {
		return nil, err
	}
	r, err := expr.Parse(rhs, scope)
	if err != nil {
		return nil, err
	}
	return expr.Sub(l, r), nil
}

func (b *Builder) Compile() (*Algebraic, error) {
	if b.err != nil {
		return nil, b.err
	}
	n := len(b.unknowns)
	if n == 0 {
		return nil, ErrNoUnknowns
	}
	if len(b.eqs) != n {
		return nil, fmt.Errorf("%w: %d equations, %d unknowns", ErrEquationCount, len(b.eqs), n)
	}

	all := append([]*expr.Node(nil), b.eqs...)
	for _, name := range b.varOrder {
		all = append(all, b.vars[name])
	}
	if hi := expr.MaxUnknown(all...); hi >= n {
		return nil, fmt.Errorf("%w: index %d, have %d", ErrForeignUnknown, hi, n)
	}

	return newAlgebraic(b), nil
}
