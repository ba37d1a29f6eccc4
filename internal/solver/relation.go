package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/expr"
)

const (
	maxCorrections = 50
	correctionTol  = 1e-12
)

// relation is y(t_i; p) for the symbolic inputs p, bound at solve time.
// The residual and both of its jacobians are compiled once; every query is
// a pure evaluation, so a relation may be shared between goroutines.
type relation struct {
	names   []string
	nominal dynamo.Params
	times   []float64
	anchors []dynamo.State
	n       int

	resid *expr.Program
	jy    *expr.Program
	jp    *expr.Program
}

func newRelation(m dynamo.SymbolicModel, inputs dynamo.Inputs, params dynamo.Params, times []float64, states []dynamo.State) (*relation, error) {
	eqs := m.Equations()
	n := m.Size()
	if len(eqs) != n {
		return nil, fmt.Errorf("%w: %w: %d equations for %d unknowns",
			dynamo.ErrInvalidConfig, dynamo.ErrDimensionMismatch, len(eqs), n)
	}

	r := &relation{
		names:   inputs.SymbolicNames(),
		nominal: params.Clone(),
		times:   append([]float64(nil), times...),
		anchors: make([]dynamo.State, len(states)),
		n:       n,
	}
	for i, s := range states {
		r.anchors[i] = s.Clone()
	}

	jy := make([]*expr.Node, 0, n*n)
	jp := make([]*expr.Node, 0, n*len(r.names))
	for _, eq := range eqs {
		for j := 0; j < n; j++ {
			jy = append(jy, expr.Diff(eq, expr.Unknown(j, "")))
		}
		for _, name := range r.names {
			jp = append(jp, expr.Diff(eq, expr.Param(name)))
		}
	}
	r.resid = expr.Compile(eqs...)
	r.jy = expr.Compile(jy...)
	r.jp = expr.Compile(jp...)
	return r, nil
}

func (r *relation) k() int { return len(r.names) }

// bind overlays the symbolic values on the nominal inputs.
func (r *relation) bind(p []float64) (map[string]float64, []float64, error) {
	if len(p) != r.k() {
		return nil, nil, fmt.Errorf("%w: got %d, want %d (%v)", dynamo.ErrParamCount, len(p), r.k(), r.names)
	}
	P := r.nominal.Clone()
	dp := make([]float64, len(p))
	for i, name := range r.names {
		P[name] = p[i]
		dp[i] = p[i] - r.nominal[name]
	}
	return P, dp, nil
}

// dydp is -Jy^-1 Jp, n x k.
func (r *relation) dydp(b expr.Bindings) (*mat.Dense, error) {
	n, k := r.n, r.k()
	jy, err := r.jy.Eval(b)
	if err != nil {
		return nil, err
	}
	jp, err := r.jp.Eval(b)
	if err != nil {
		return nil, err
	}

	var lu mat.LU
	lu.Factorize(mat.NewDense(n, n, jy))
	if c := lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
		return nil, fmt.Errorf("%w at t=%g", dynamo.ErrSingularJacobian, b.T)
	}

	var s mat.Dense
	if err := lu.SolveTo(&s, false, mat.NewDense(n, k, jp)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	s.Scale(-1, &s)
	if !finite(s.RawMatrix().Data) {
		return nil, fmt.Errorf("%w at t=%g", dynamo.ErrSingularJacobian, b.T)
	}
	return &s, nil
}

// state evaluates y(t_i; p) from the anchor: a first order prediction
// followed by Newton corrections at fixed p.
func (r *relation) state(i int, P map[string]float64, dp []float64) (dynamo.State, error) {
	t := r.times[i]
	y := r.anchors[i].Clone()

	if nonzero(dp) {
		s, err := r.dydp(expr.Bindings{T: t, Y: y, P: r.nominal})
		if err == nil {
			for row := 0; row < r.n; row++ {
				for col, d := range dp {
					y[row] += s.At(row, col) * d
				}
			}
		}
	}

	b := expr.Bindings{T: t, Y: y, P: P}
	for it := 0; ; it++ {
		res, err := r.resid.Eval(b)
		if err != nil {
			return nil, err
		}
		if dynamo.State(res).MaxAbs() <= correctionTol*(1+y.MaxAbs()) {
			return y, nil
		}
		if it == maxCorrections {
			break
		}

		jy, err := r.jy.Eval(b)
		if err != nil {
			return nil, err
		}
		var lu mat.LU
		lu.Factorize(mat.NewDense(r.n, r.n, jy))
		if c := lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
			return nil, fmt.Errorf("%w at t=%g", dynamo.ErrSingularJacobian, t)
		}
		var dx mat.VecDense
		if err := lu.SolveVecTo(&dx, false, mat.NewVecDense(r.n, dynamo.State(res).Scale(-1))); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return nil, err
			}
		}
		step := 0.0
		for j := range y {
			y[j] += dx.AtVec(j)
			step = math.Max(step, math.Abs(dx.AtVec(j)))
		}
		if !y.IsValid() {
			break
		}
		// a scaled residual can stay above its threshold in rounding noise
		if step <= correctionTol*(1+y.MaxAbs()) {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w at t=%g, p=%v", dynamo.ErrRelationDiverged, t, P)
}

// output is a compiled scalar expression with its gradients in y and p.
type output struct {
	value *expr.Program
	gy    *expr.Program
	gp    *expr.Program
}

func (r *relation) output(v *expr.Node) *output {
	gy := make([]*expr.Node, r.n)
	for j := range gy {
		gy[j] = expr.Diff(v, expr.Unknown(j, ""))
	}
	gp := make([]*expr.Node, r.k())
	for c, name := range r.names {
		gp[c] = expr.Diff(v, expr.Param(name))
	}
	return &output{value: expr.Compile(v), gy: expr.Compile(gy...), gp: expr.Compile(gp...)}
}

// states evaluates y at every time point, n x len(times).
func (r *relation) states(p []float64) (*mat.Dense, error) {
	P, dp, err := r.bind(p)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(r.n, len(r.times), nil)
	for i := range r.times {
		y, err := r.state(i, P, dp)
		if err != nil {
			return nil, err
		}
		out.SetCol(i, y)
	}
	return out, nil
}

// stateSensitivity stacks dy/dp per time point: row i*n+j is dy_j(t_i)/dp.
func (r *relation) stateSensitivity(p []float64) (*mat.Dense, error) {
	P, dp, err := r.bind(p)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(r.n*len(r.times), r.k(), nil)
	for i, t := range r.times {
		y, err := r.state(i, P, dp)
		if err != nil {
			return nil, err
		}
		s, err := r.dydp(expr.Bindings{T: t, Y: y, P: P})
		if err != nil {
			return nil, err
		}
		out.Slice(i*r.n, (i+1)*r.n, 0, r.k()).(*mat.Dense).Copy(s)
	}
	return out, nil
}

func (r *relation) value(o *output, p []float64) ([]float64, error) {
	P, dp, err := r.bind(p)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(r.times))
	for i, t := range r.times {
		y, err := r.state(i, P, dp)
		if err != nil {
			return nil, err
		}
		v, err := o.value.Eval(expr.Bindings{T: t, Y: y, P: P})
		if err != nil {
			return nil, err
		}
		out[i] = v[0]
	}
	return out, nil
}

// sensitivity is dv/dp = dv/dp|y + dv/dy * dy/dp, one row per time point.
func (r *relation) sensitivity(o *output, p []float64) (*mat.Dense, error) {
	P, dp, err := r.bind(p)
	if err != nil {
		return nil, err
	}
	k := r.k()
	out := mat.NewDense(len(r.times), k, nil)
	for i, t := range r.times {
		y, err := r.state(i, P, dp)
		if err != nil {
			return nil, err
		}
		b := expr.Bindings{T: t, Y: y, P: P}
		s, err := r.dydp(b)
		if err != nil {
			return nil, err
		}
		gy, err := o.gy.Eval(b)
		if err != nil {
			return nil, err
		}
		gp, err := o.gp.Eval(b)
		if err != nil {
			return nil, err
		}
		for c := 0; c < k; c++ {
			d := gp[c]
			for j := 0; j < r.n; j++ {
				d += gy[j] * s.At(j, c)
			}
			out.Set(i, c, d)
		}
	}
	return out, nil
}

func nonzero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
