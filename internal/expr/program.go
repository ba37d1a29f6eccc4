package expr

import (
	"errors"
	"fmt"
)

var (
	ErrUnbound      = errors.New("expr: unbound parameter")
	ErrUnknownIndex = errors.New("expr: unknown index out of range")
)

// Bindings supplies values for the leaves of an expression.
type Bindings struct {
	T float64
	Y []float64
	P map[string]float64
}

type instr struct {
	op    Op
	value float64
	index int
	name  string
	a, b  int
}

// Program is a compiled, immutable evaluation plan for a set of roots.
// Eval allocates its own scratch space, so one Program may be evaluated
// from several goroutines.
type Program struct {
	code  []instr
	roots []int
}

// Compile orders the graph reachable from roots so that each node appears
// once, after its arguments.
func Compile(roots ...*Node) *Program {
	p := &Program{roots: make([]int, len(roots))}
	slot := make(map[*Node]int)

	var visit func(n *Node) int
	visit = func(n *Node) int {
		if s, ok := slot[n]; ok {
			return s
		}
		in := instr{op: n.op, value: n.value, index: n.index, name: n.name, a: -1, b: -1}
		if len(n.args) > 0 {
			in.a = visit(n.args[0])
		}
		if len(n.args) > 1 {
			in.b = visit(n.args[1])
		}
		slot[n] = len(p.code)
		p.code = append(p.code, in)
		return slot[n]
	}

	for i, r := range roots {
		p.roots[i] = visit(r)
	}
	return p
}

// Len is the number of roots.
func (p *Program) Len() int { return len(p.roots) }

// Size is the number of distinct nodes evaluated per call.
func (p *Program) Size() int { return len(p.code) }

func (p *Program) Eval(b Bindings) ([]float64, error) {
	out := make([]float64, len(p.roots))
	if err := p.EvalInto(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EvalInto writes one value per root into out, which must have length Len().
func (p *Program) EvalInto(b Bindings, out []float64) error {
	if len(out) != len(p.roots) {
		return fmt.Errorf("expr: output length %d, program has %d roots", len(out), len(p.roots))
	}
	reg := make([]float64, len(p.code))
	for i, in := range p.code {
		switch in.op {
		case OpConst:
			reg[i] = in.value
		case OpTime:
			reg[i] = b.T
		case OpUnknown:
			if in.index < 0 || in.index >= len(b.Y) {
				return fmt.Errorf("%w: %s is y[%d], have %d unknowns", ErrUnknownIndex, in.name, in.index, len(b.Y))
			}
			reg[i] = b.Y[in.index]
		case OpParam:
			v, ok := b.P[in.name]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnbound, in.name)
			}
			reg[i] = v
		case OpAdd, OpSub, OpMul, OpDiv, OpPow:
			reg[i] = apply2(in.op, reg[in.a], reg[in.b])
		default:
			reg[i] = apply1(in.op, reg[in.a])
		}
	}
	for i, r := range p.roots {
		out[i] = reg[r]
	}
	return nil
}
