package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/expr"
)

// Algebraic is a compiled residual system. The jacobian is formed once by
// symbolic differentiation. It is immutable and safe for concurrent use.
type Algebraic struct {
	names    []string
	unknowns []*expr.Node
	guess    dynamo.State
	eqs      []*expr.Node
	vars     map[string]*expr.Node
	inputs   []string

	residual *expr.Program
	jacobian *expr.Program
}

func newAlgebraic(b *Builder) *Algebraic {
	n := len(b.unknowns)
	a := &Algebraic{
		names:    append([]string(nil), b.names...),
		unknowns: append([]*expr.Node(nil), b.unknowns...),
		guess:    b.guess.Clone(),
		eqs:      append([]*expr.Node(nil), b.eqs...),
		vars:     make(map[string]*expr.Node, len(b.vars)),
	}
	roots := append([]*expr.Node(nil), a.eqs...)
	for name, v := range b.vars {
		a.vars[name] = v
		roots = append(roots, v)
	}
	a.inputs = expr.Params(roots...)

	jac := make([]*expr.Node, 0, n*n)
	for _, eq := range a.eqs {
		for _, u := range a.unknowns {
			jac = append(jac, expr.Diff(eq, u))
		}
	}
	a.residual = expr.Compile(a.eqs...)
	a.jacobian = expr.Compile(jac...)
	return a
}

func (a *Algebraic) Size() int { return len(a.unknowns) }

func (a *Algebraic) InitialGuess() dynamo.State { return a.guess.Clone() }

// UnknownNames lists the unknowns in vector order.
func (a *Algebraic) UnknownNames() []string {
	return append([]string(nil), a.names...)
}

func (a *Algebraic) Equations() []*expr.Node {
	return append([]*expr.Node(nil), a.eqs...)
}

func (a *Algebraic) Variables() map[string]*expr.Node {
	out := make(map[string]*expr.Node, len(a.vars))
	for k, v := range a.vars {
		out[k] = v
	}
	return out
}

// Inputs lists the parameters referenced by equations and variables.
func (a *Algebraic) Inputs() []string {
	return append([]string(nil), a.inputs...)
}

// Residual returns NaN entries when y or p cannot bind the equations.
func (a *Algebraic) Residual(t float64, y dynamo.State, p dynamo.Params) dynamo.State {
	out := make(dynamo.State, a.residual.Len())
	if err := a.residual.EvalInto(expr.Bindings{T: t, Y: y, P: p}, out); err != nil {
		fillNaN(out)
	}
	return out
}

func (a *Algebraic) Jacobian(t float64, y dynamo.State, p dynamo.Params) *mat.Dense {
	n := a.Size()
	vals := make([]float64, n*n)
	if err := a.jacobian.EvalInto(expr.Bindings{T: t, Y: y, P: p}, vals); err != nil {
		fillNaN(vals)
	}
	return mat.NewDense(n, n, vals)
}

func fillNaN(v []float64) {
	for i := range v {
		v[i] = math.NaN()
	}
}
