package optim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmptyProblem = errors.New("optim: residual or start point is empty")
	ErrShape        = errors.New("optim: jacobian shape does not match residual and parameters")
)

// Problem is min 0.5*|f(x)|^2. Jacobian is df/dx, len(f) x len(x); nil
// means forward differences.
type Problem struct {
	Residual func(x []float64) ([]float64, error)
	Jacobian func(x []float64) (*mat.Dense, error)
}

type Settings struct {
	MaxIter int
	// GTol bounds the infinity norm of the gradient J^T f.
	GTol float64
	// XTol bounds the step relative to |x|.
	XTol float64
	// FTol bounds the relative decrease of the cost in one accepted step.
	FTol   float64
	Logger *slog.Logger
}

func DefaultSettings() Settings {
	return Settings{
		MaxIter: 200,
		GTol:    1e-10,
		XTol:    1e-10,
		FTol:    1e-14,
	}
}

type Result struct {
	X          []float64
	Cost       float64
	Iterations int
	Converged  bool
	Reason     string
}

const maxDamping = 1e16

// LeastSquares runs Levenberg-Marquardt from x0. Zero fields of s take
// their DefaultSettings values.
func LeastSquares(p Problem, x0 []float64, s Settings) (Result, error) {
	s = withDefaults(s)
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	x := append([]float64(nil), x0...)
	f, err := p.Residual(x)
	if err != nil {
		return Result{}, fmt.Errorf("residual at start: %w", err)
	}
	if len(f) == 0 || len(x) == 0 {
		return Result{}, ErrEmptyProblem
	}
	n := len(x)
	cost := 0.5 * dot(f, f)
	res := Result{X: x, Cost: cost}
	mu := -1.0

	for it := 0; it < s.MaxIter; it++ {
		res.Iterations = it

		jac, err := jacobian(p, x, f)
		if err != nil {
			return res, err
		}
		if r, c := jac.Dims(); r != len(f) || c != n {
			return res, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrShape, r, c, len(f), n)
		}

		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(len(f), f))
		if mat.Norm(&g, math.Inf(1)) <= s.GTol {
			res.Converged, res.Reason = true, "gradient below tolerance"
			return res, nil
		}

		var a mat.Dense
		a.Mul(jac.T(), jac)
		if mu < 0 {
			mu = 1e-3 * maxDiag(&a)
			if mu == 0 {
				mu = 1e-3
			}
		}

		accepted := false
		for !accepted {
			if mu > maxDamping {
				res.Reason = "damping exceeded limit without decreasing the cost"
				return res, nil
			}
			h, ok := dampedStep(&a, &g, mu)
			if !ok {
				mu *= 10
				continue
			}

			xNew := make([]float64, n)
			for i := range x {
				xNew[i] = x[i] + h[i]
			}
			fNew, err := p.Residual(xNew)
			if err != nil || !allFinite(fNew) {
				mu *= 10
				continue
			}

			costNew := 0.5 * dot(fNew, fNew)
			if costNew >= cost {
				mu *= 2
				continue
			}
			accepted = true

			logger.Debug("lm step",
				slog.Int("iteration", it),
				slog.Float64("cost", costNew),
				slog.Float64("damping", mu))

			stepSmall := norm(h) <= s.XTol*(norm(x)+s.XTol)
			costFlat := cost-costNew <= s.FTol*cost
			x, f, cost = xNew, fNew, costNew
			res.X, res.Cost, res.Iterations = x, cost, it+1
			mu /= 3

			switch {
			case stepSmall:
				res.Converged, res.Reason = true, "step below tolerance"
				return res, nil
			case costFlat:
				res.Converged, res.Reason = true, "cost reduction below tolerance"
				return res, nil
			}
		}
	}

	res.Reason = fmt.Sprintf("maximum iterations (%d) reached", s.MaxIter)
	return res, nil
}

func withDefaults(s Settings) Settings {
	def := DefaultSettings()
	if s.MaxIter <= 0 {
		s.MaxIter = def.MaxIter
	}
	if s.GTol <= 0 {
		s.GTol = def.GTol
	}
	if s.XTol <= 0 {
		s.XTol = def.XTol
	}
	if s.FTol <= 0 {
		s.FTol = def.FTol
	}
	return s
}

func jacobian(p Problem, x, f []float64) (*mat.Dense, error) {
	if p.Jacobian != nil {
		return p.Jacobian(x)
	}
	m, n := len(f), len(x)
	jac := mat.NewDense(m, n, nil)
	xh := append([]float64(nil), x...)
	for j := 0; j < n; j++ {
		h := math.Sqrt(2.2e-16) * math.Max(math.Abs(x[j]), 1)
		xh[j] = x[j] + h
		fh, err := p.Residual(xh)
		xh[j] = x[j]
		if err != nil {
			return nil, fmt.Errorf("finite difference in x[%d]: %w", j, err)
		}
		for i := 0; i < m; i++ {
			jac.Set(i, j, (fh[i]-f[i])/h)
		}
	}
	return jac, nil
}

// dampedStep solves (J^T J + mu I) h = -J^T f.
func dampedStep(a *mat.Dense, g *mat.VecDense, mu float64) ([]float64, bool) {
	n, _ := a.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := a.At(i, j)
			if i == j {
				v += mu
			}
			sym.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, false
	}
	var h mat.VecDense
	if err := chol.SolveVecTo(&h, g); err != nil {
		return nil, false
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = -h.AtVec(i)
	}
	return out, allFinite(out)
}

func maxDiag(a *mat.Dense) float64 {
	n, _ := a.Dims()
	m := 0.0
	for i := 0; i < n; i++ {
		m = math.Max(m, a.At(i, i))
	}
	return m
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(v []float64) float64 { return math.Sqrt(dot(v, v)) }

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
