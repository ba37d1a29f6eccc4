// Package solver finds y(t) with g(t, y, p) = 0 over a time grid.
//
// Time points are solved in order and each is seeded with the previous
// accepted solution. Inputs may be concrete numbers or symbolic
// placeholders; with placeholders the returned Solution can be evaluated
// and differentiated at other parameter values without solving again.
package solver

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/newton"
)

// RootFinder is the nonlinear primitive invoked once per time point.
type RootFinder interface {
	FindRoot(p newton.Problem, y0 dynamo.State, tol float64) newton.Result
}

// Solver is not safe for concurrent mutation; Solve reads the
// configuration once at the start of each call.
type Solver struct {
	tol         float64
	errorOnFail bool
	debug       bool
	logger      *slog.Logger
	finder      RootFinder
}

func New(cfg Config) *Solver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Solver{
		tol:         cfg.Tol,
		errorOnFail: cfg.ErrorOnFail,
		debug:       cfg.Debug,
		logger:      logger,
		finder:      newton.New(newton.Options{MaxIter: cfg.MaxIterations}),
	}
}

func (s *Solver) Tol() float64 { return s.tol }

// SetTol stores tol; it is validated by the next Solve.
func (s *Solver) SetTol(tol float64) { s.tol = tol }

func (s *Solver) ErrorOnFail() bool { return s.errorOnFail }

func (s *Solver) SetErrorOnFail(v bool) { s.errorOnFail = v }

func (s *Solver) SetRootFinder(f RootFinder) { s.finder = f }

type settings struct {
	tol         float64
	errorOnFail bool
	debug       bool
	logger      *slog.Logger
	finder      RootFinder
}

func (s *Solver) snapshot() settings {
	return settings{
		tol:         s.tol,
		errorOnFail: s.errorOnFail,
		debug:       s.debug,
		logger:      s.logger,
		finder:      s.finder,
	}
}

// point is one accepted time point; it also seeds the next one.
type point struct {
	y          dynamo.State
	iterations int
}

// Solve runs the root finder at every time in times. It returns a
// *dynamo.SolverError for the first point that fails; no partial
// trajectory is returned.
func (s *Solver) Solve(m dynamo.Model, times []float64, inputs dynamo.Inputs) (*Solution, error) {
	cfg := s.snapshot()

	if err := validate(cfg.tol, times); err != nil {
		return nil, err
	}
	params, err := bind(m, inputs)
	if err != nil {
		return nil, err
	}

	var sym dynamo.SymbolicModel
	if inputs.HasSymbolic() {
		var ok bool
		if sym, ok = m.(dynamo.SymbolicModel); !ok {
			return nil, fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, dynamo.ErrNotSymbolicModel)
		}
	}

	guess := m.InitialGuess()
	if len(guess) != m.Size() {
		return nil, fmt.Errorf("%w: %w: initial guess has %d entries, system has %d",
			dynamo.ErrInvalidConfig, dynamo.ErrDimensionMismatch, len(guess), m.Size())
	}

	cfg.logger.Info("solve started",
		slog.Int("points", len(times)),
		slog.Int("unknowns", m.Size()),
		slog.Float64("tol", cfg.tol),
		slog.Bool("symbolic", sym != nil))

	points, err := march(times, point{y: guess}, func(i int, t float64, prev point) (point, error) {
		return s.solvePoint(cfg, m, params, i, t, prev.y)
	})
	if err != nil {
		return nil, err
	}

	sol := newSolution(m, times, points, inputs, params, cfg.tol)
	if sym != nil {
		rel, err := newRelation(sym, inputs, params, times, sol.states)
		if err != nil {
			return nil, err
		}
		sol.rel = rel
	}

	cfg.logger.Info("solve finished", slog.Int("points", len(times)), slog.Int("iterations", sol.totalIterations()))
	return sol, nil
}

// march folds f over times: each step receives the previous step's
// output, starting from seed, and the first error stops the fold.
func march[T any](times []float64, seed T, f func(i int, t float64, prev T) (T, error)) ([]T, error) {
	out := make([]T, 0, len(times))
	acc := seed
	for i, t := range times {
		next, err := f(i, t, acc)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		acc = next
	}
	return out, nil
}

func (s *Solver) solvePoint(cfg settings, m dynamo.Model, params dynamo.Params, i int, t float64, y0 dynamo.State) (point, error) {
	prob := newton.Problem{
		Residual: func(y dynamo.State) dynamo.State { return m.Residual(t, y, params) },
		Jacobian: func(y dynamo.State) *mat.Dense { return m.Jacobian(t, y, params) },
	}

	res := cfg.finder.FindRoot(prob, y0, cfg.tol)
	maxErr := math.Inf(1)
	if len(res.Y) == len(y0) {
		maxErr = m.Residual(t, res.Y, params).MaxAbs()
	}

	status, msg := classify(res, maxErr, cfg.tol, cfg.errorOnFail)
	if cfg.debug {
		cfg.logger.Debug("time point",
			slog.Int("step", i),
			slog.Float64("t", t),
			slog.String("status", status.String()),
			slog.Int("iterations", res.Iterations),
			slog.Float64("max_error", maxErr))
	}

	if status != dynamo.StatusSuccess {
		cfg.logger.Warn("time point failed",
			slog.Int("step", i),
			slog.Float64("t", t),
			slog.String("status", status.String()),
			slog.String("reason", res.Reason))
		return point{}, &dynamo.SolverError{
			Status:  status,
			Step:    i,
			Time:    t,
			State:   res.Y.Clone(),
			Message: msg,
		}
	}

	if cfg.debug && !res.Y.IsValid() {
		return point{}, fmt.Errorf("step %d at t=%g: %w", i, t, dynamo.ErrInvalidState)
	}

	return point{y: res.Y.Clone(), iterations: res.Iterations}, nil
}

func validate(tol float64, times []float64) error {
	if !(tol > 0) || math.IsInf(tol, 1) {
		return fmt.Errorf("%w: %w: got %g", dynamo.ErrInvalidConfig, dynamo.ErrInvalidTolerance, tol)
	}
	if len(times) == 0 {
		return fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, dynamo.ErrEmptyTimeGrid)
	}
	for i, t := range times {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: time %d is %g", dynamo.ErrInvalidConfig, i, t)
		}
	}
	return nil
}

// bind checks that every input the model references is supplied and
// resolves placeholders to their nominal values.
func bind(m dynamo.Model, inputs dynamo.Inputs) (dynamo.Params, error) {
	for _, name := range m.Inputs() {
		if _, ok := inputs[name]; !ok {
			return nil, fmt.Errorf("%w: %w: %q", dynamo.ErrInvalidConfig, dynamo.ErrMissingInput, name)
		}
	}
	return inputs.ConcreteValues(), nil
}
