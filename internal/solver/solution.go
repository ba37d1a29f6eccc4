package solver

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/expr"
)

// Solution is the accepted trajectory of one Solve call. It holds copies
// of everything it was built from and does not change afterwards.
type Solution struct {
	times      []float64
	states     []dynamo.State
	iterations []int
	tol        float64
	inputs     dynamo.Inputs
	params     dynamo.Params
	variables  map[string]*ProcessedVariable
	rel        *relation
}

func newSolution(m dynamo.Model, times []float64, points []point, inputs dynamo.Inputs, params dynamo.Params, tol float64) *Solution {
	sol := &Solution{
		times:      append([]float64(nil), times...),
		states:     make([]dynamo.State, len(points)),
		iterations: make([]int, len(points)),
		tol:        tol,
		inputs:     make(dynamo.Inputs, len(inputs)),
		params:     params.Clone(),
		variables:  make(map[string]*ProcessedVariable),
	}
	for i, p := range points {
		sol.states[i] = p.y
		sol.iterations[i] = p.iterations
	}
	for k, v := range inputs {
		sol.inputs[k] = v
	}
	for name, e := range m.Variables() {
		sol.variables[name] = &ProcessedVariable{name: name, expr: e, sol: sol}
	}
	return sol
}

// Times returns a copy of the time grid.
func (s *Solution) Times() []float64 {
	return append([]float64(nil), s.times...)
}

// Y stacks the unknowns, one column per time point.
func (s *Solution) Y() *mat.Dense {
	n := 0
	if len(s.states) > 0 {
		n = len(s.states[0])
	}
	if n == 0 {
		return &mat.Dense{}
	}
	y := mat.NewDense(n, len(s.states), nil)
	for i, st := range s.states {
		y.SetCol(i, st)
	}
	return y
}

func (s *Solution) States() []dynamo.State {
	out := make([]dynamo.State, len(s.states))
	for i, st := range s.states {
		out[i] = st.Clone()
	}
	return out
}

func (s *Solution) Tol() float64 { return s.tol }

// Iterations is the root-finder iteration count per time point.
func (s *Solution) Iterations() []int {
	return append([]int(nil), s.iterations...)
}

func (s *Solution) totalIterations() int {
	total := 0
	for _, n := range s.iterations {
		total += n
	}
	return total
}

func (s *Solution) Inputs() dynamo.Inputs {
	out := make(dynamo.Inputs, len(s.inputs))
	for k, v := range s.inputs {
		out[k] = v
	}
	return out
}

// Symbolic reports whether Value and Sensitivity are available.
func (s *Solution) Symbolic() bool { return s.rel != nil }

// SymbolicInputs lists the placeholders in the order Value and
// Sensitivity take their arguments.
func (s *Solution) SymbolicInputs() []string {
	if s.rel == nil {
		return nil
	}
	return append([]string(nil), s.rel.names...)
}

func (s *Solution) VariableNames() []string {
	names := make([]string, 0, len(s.variables))
	for name := range s.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Solution) Variable(name string) (*ProcessedVariable, error) {
	v, ok := s.variables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", dynamo.ErrUnknownVariable, name)
	}
	return v, nil
}

// Value evaluates the unknowns at the given symbolic input values without
// running the root finder: n x len(times).
func (s *Solution) Value(p ...float64) (*mat.Dense, error) {
	if s.rel == nil {
		return nil, dynamo.ErrNotSymbolic
	}
	return s.rel.states(p)
}

// Sensitivity is dy/dp at the given symbolic input values. Row i*n+j holds
// the derivatives of unknown j at time point i, one column per input.
func (s *Solution) Sensitivity(p ...float64) (*mat.Dense, error) {
	if s.rel == nil {
		return nil, dynamo.ErrNotSymbolic
	}
	return s.rel.stateSensitivity(p)
}

// ProcessedVariable is a named output over the solved trajectory.
type ProcessedVariable struct {
	name string
	expr *expr.Node
	sol  *Solution

	entriesOnce sync.Once
	entries     []float64

	outputOnce sync.Once
	out        *output
}

func (v *ProcessedVariable) Name() string { return v.name }

// Entries evaluates the variable at every stored time point, on first use.
// Points where it cannot be evaluated are NaN.
func (v *ProcessedVariable) Entries() []float64 {
	v.entriesOnce.Do(func() {
		prog := expr.Compile(v.expr)
		v.entries = make([]float64, len(v.sol.times))
		for i, t := range v.sol.times {
			val, err := prog.Eval(expr.Bindings{T: t, Y: v.sol.states[i], P: v.sol.params})
			if err != nil {
				v.entries[i] = math.NaN()
				continue
			}
			v.entries[i] = val[0]
		}
	})
	return append([]float64(nil), v.entries...)
}

func (v *ProcessedVariable) compiled() *output {
	v.outputOnce.Do(func() {
		v.out = v.sol.rel.output(v.expr)
	})
	return v.out
}

// Value is the variable at each time point for the given symbolic input
// values, in the order of Solution.SymbolicInputs.
func (v *ProcessedVariable) Value(p ...float64) ([]float64, error) {
	if v.sol.rel == nil {
		return nil, dynamo.ErrNotSymbolic
	}
	return v.sol.rel.value(v.compiled(), p)
}

// Sensitivity has one row per time point and one column per symbolic input.
func (v *ProcessedVariable) Sensitivity(p ...float64) (*mat.Dense, error) {
	if v.sol.rel == nil {
		return nil, dynamo.ErrNotSymbolic
	}
	return v.sol.rel.sensitivity(v.compiled(), p)
}
