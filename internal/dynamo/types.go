package dynamo

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/expr"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// MaxAbs is the infinity norm; NaN entries make it NaN.
func (s State) MaxAbs() float64 {
	m := 0.0
	for _, v := range s {
		if math.IsNaN(v) {
			return math.NaN()
		}
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

// Params holds concrete parameter values by name.
type Params map[string]float64

func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Model is the residual system g(t, y, p) = 0 produced by a discretisation.
// Implementations must not be mutated by the solver.
type Model interface {
	// Residual has the same length as y.
	Residual(t float64, y State, p Params) State
	// Jacobian is dg/dy, square with side Size().
	Jacobian(t float64, y State, p Params) *mat.Dense
	InitialGuess() State
	// Variables maps output names to expressions over y, t and p.
	Variables() map[string]*expr.Node
	Size() int
	// Inputs lists every parameter name the residual or the variables use.
	Inputs() []string
}

// SymbolicModel exposes the residual as expressions over expr.Unknown,
// expr.Time and expr.Param leaves so parameter derivatives can be formed.
type SymbolicModel interface {
	Model
	Equations() []*expr.Node
}

// Status classifies one root-finding attempt.
type Status int

const (
	StatusSuccess Status = iota
	StatusResidualTooLarge
	StatusSolverTerminated
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusResidualTooLarge:
		return "RESIDUAL_TOO_LARGE"
	case StatusSolverTerminated:
		return "SOLVER_TERMINATED"
	default:
		return "UNKNOWN"
	}
}
