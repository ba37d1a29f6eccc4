// Package newton solves square nonlinear systems g(y) = 0 by damped Newton
// iteration with a backtracking line search.
package newton

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/dynamo"
)

// Problem is a square system at fixed time and parameters.
type Problem struct {
	Residual func(y dynamo.State) dynamo.State
	// Jacobian is dg/dy at y.
	Jacobian func(y dynamo.State) *mat.Dense
}

type Options struct {
	// Tol bounds the infinity norm of the residual.
	Tol float64
	// MaxIter caps Newton iterations, not residual evaluations.
	MaxIter int
	// StepTol declares convergence when |step| <= StepTol*(1+|y|), even if
	// the residual is still above Tol.
	StepTol float64
	// MinStep is the smallest damping factor the line search tries.
	MinStep float64
}

// DefaultOptions returns the root-finder settings the solver starts from.
func DefaultOptions() Options {
	return Options{
		Tol:     1e-8,
		MaxIter: 100,
		StepTol: 1e-12,
		MinStep: 1e-10,
	}
}

// Result is the last accepted iterate. Converged is false when the
// iteration stopped early; Reason says why in either case.
type Result struct {
	Y            dynamo.State
	Converged    bool
	Iterations   int
	ResidualNorm float64
	Reason       string
}

const armijo = 1e-4

type Solver struct {
	opts Options
}

// New fills zero fields of opts from DefaultOptions.
func New(opts Options) *Solver {
	def := DefaultOptions()
	if opts.Tol <= 0 {
		opts.Tol = def.Tol
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.StepTol <= 0 {
		opts.StepTol = def.StepTol
	}
	if opts.MinStep <= 0 {
		opts.MinStep = def.MinStep
	}
	return &Solver{opts: opts}
}

func (s *Solver) Options() Options { return s.opts }

func (s *Solver) Solve(p Problem, y0 dynamo.State) Result {
	return solve(p, y0, s.opts)
}

// FindRoot is Solve with the residual tolerance overridden.
func (s *Solver) FindRoot(p Problem, y0 dynamo.State, tol float64) Result {
	opts := s.opts
	opts.Tol = tol
	return solve(p, y0, opts)
}

var errSingular = errors.New("singular jacobian")

func solve(p Problem, y0 dynamo.State, opts Options) Result {
	y := y0.Clone()
	r := p.Residual(y)
	res := Result{Y: y, ResidualNorm: r.MaxAbs()}

	if len(y) == 0 {
		res.Converged = true
		res.Reason = "empty system"
		return res
	}
	if !r.IsValid() {
		res.Reason = "residual is not finite at the initial guess"
		return res
	}

	for it := 0; ; it++ {
		res.Y, res.Iterations, res.ResidualNorm = y, it, r.MaxAbs()
		if res.ResidualNorm <= opts.Tol {
			res.Converged = true
			res.Reason = "residual within tolerance"
			return res
		}
		if it == opts.MaxIter {
			res.Reason = fmt.Sprintf("maximum iterations (%d) reached", opts.MaxIter)
			return res
		}

		dx, err := newtonStep(p.Jacobian(y), r)
		if err != nil {
			res.Reason = err.Error()
			return res
		}

		lambda, yTry, rTry, ok := lineSearch(p, y, r, dx, opts.MinStep)
		if !ok {
			res.Reason = "line search failed"
			return res
		}

		step := dynamo.State(dx).Scale(lambda).MaxAbs()
		y, r = yTry, rTry
		if step <= opts.StepTol*(1+y.MaxAbs()) {
			res.Y, res.Iterations, res.ResidualNorm = y, it+1, r.MaxAbs()
			res.Converged = true
			res.Reason = "step below tolerance"
			return res
		}
	}
}

func newtonStep(jac *mat.Dense, r dynamo.State) ([]float64, error) {
	n := len(r)
	if jac == nil {
		return nil, errors.New("jacobian unavailable")
	}
	if rows, cols := jac.Dims(); rows != n || cols != n {
		return nil, fmt.Errorf("jacobian is %dx%d, want %dx%d", rows, cols, n, n)
	}

	var lu mat.LU
	lu.Factorize(jac)
	if c := lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
		return nil, errSingular
	}

	neg := mat.NewVecDense(n, r.Scale(-1))
	var dx mat.VecDense
	if err := lu.SolveVecTo(&dx, false, neg); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = dx.AtVec(i)
	}
	if !dynamo.State(out).IsValid() {
		return nil, errSingular
	}
	return out, nil
}

// lineSearch halves the step until the 2-norm of the residual decreases
// sufficiently.
func lineSearch(p Problem, y, r dynamo.State, dx []float64, minStep float64) (float64, dynamo.State, dynamo.State, bool) {
	f0 := r.Norm()
	for lambda := 1.0; lambda >= minStep; lambda /= 2 {
		yTry := y.Add(dynamo.State(dx).Scale(lambda))
		rTry := p.Residual(yTry)
		if rTry.IsValid() && rTry.Norm() <= (1-armijo*lambda)*f0 {
			return lambda, yTry, rTry, true
		}
	}
	return 0, nil, nil, false
}
