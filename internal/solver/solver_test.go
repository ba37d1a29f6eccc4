package solver_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/expr"
	"github.com/san-kum/algsim/internal/models"
	"github.com/san-kum/algsim/internal/newton"
	"github.com/san-kum/algsim/internal/optim"
	"github.com/san-kum/algsim/internal/solver"
	"github.com/san-kum/algsim/internal/testutil"
)

func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = a + (b-a)*float64(i)/float64(n-1)
	}
	return out
}

// opaque hides the equations of a model.
type opaque struct{ dynamo.Model }

type wrongGuess struct{ dynamo.Model }

func (wrongGuess) InitialGuess() dynamo.State { return dynamo.State{1, 2, 3} }

// scripted returns a fixed report regardless of the problem.
type scripted struct {
	result func(y0 dynamo.State) newton.Result
}

func (s scripted) FindRoot(_ newton.Problem, y0 dynamo.State, _ float64) newton.Result {
	return s.result(y0)
}

// recording forwards to Newton and remembers every seed.
type recording struct {
	inner *newton.Solver
	seeds []dynamo.State
}

func (r *recording) FindRoot(p newton.Problem, y0 dynamo.State, tol float64) newton.Result {
	r.seeds = append(r.seeds, y0.Clone())
	return r.inner.FindRoot(p, y0, tol)
}

func newSolver() *solver.Solver {
	cfg := solver.DefaultConfig()
	cfg.Debug = true
	cfg.Logger = testutil.NewTestLogger(GinkgoT())
	return solver.New(cfg)
}

var _ = Describe("Solver", func() {
	var s *solver.Solver

	BeforeEach(func() {
		s = newSolver()
	})

	Describe("configuration", func() {
		It("uses the documented defaults", func() {
			Expect(s.Tol()).To(Equal(1e-6))
			Expect(s.ErrorOnFail()).To(BeTrue())
			Expect(solver.DefaultConfig().MaxIterations).To(Equal(100))
		})

		It("returns the tolerance exactly as set", func() {
			s.SetTol(1e-4)
			Expect(s.Tol()).To(Equal(1e-4))
			s.SetTol(1e-5)
			Expect(s.Tol()).To(Equal(1e-5))
		})

		It("does not change solutions already produced", func() {
			sol, err := s.Solve(models.NewOffset(), []float64{0}, dynamo.Inputs{"c": dynamo.Concrete(2)})
			Expect(err).NotTo(HaveOccurred())

			s.SetTol(1e-2)
			Expect(sol.Tol()).To(Equal(1e-6))
		})
	})

	Describe("concrete inputs", func() {
		It("solves a single equation at every time point", func() {
			times := linspace(0, 1, 10)
			sol, err := s.Solve(models.NewOffset(), times, dynamo.Inputs{"c": dynamo.Concrete(2)})
			Expect(err).NotTo(HaveOccurred())

			y := sol.Y()
			r, c := y.Dims()
			Expect(r).To(Equal(1))
			Expect(c).To(Equal(len(times)))
			for i := 0; i < c; i++ {
				Expect(y.At(0, i)).To(BeNumerically("~", -2, 1e-12))
			}
			Expect(sol.Symbolic()).To(BeFalse())
		})

		It("substitutes the input value into the residual", func() {
			sol, err := s.Solve(models.NewOffset(), linspace(0, 1, 10), dynamo.Inputs{"c": dynamo.Concrete(7)})
			Expect(err).NotTo(HaveOccurred())
			for _, st := range sol.States() {
				Expect(st[0]).To(BeNumerically("~", -7, 1e-12))
			}
		})

		It("solves a coupled time-dependent system and its variables", func() {
			times := linspace(0, 1, 50)
			sol, err := s.Solve(models.NewRamp(), times, nil)
			Expect(err).NotTo(HaveOccurred())

			y := sol.Y()
			v1, err := sol.Variable("y1")
			Expect(err).NotTo(HaveOccurred())
			v2, err := sol.Variable("y2")
			Expect(err).NotTo(HaveOccurred())

			e1, e2 := v1.Entries(), v2.Entries()
			for i, t := range times {
				Expect(y.At(0, i)).To(BeNumerically("~", 3*t, 1e-9))
				Expect(y.At(1, i)).To(BeNumerically("~", 6*t, 1e-9))
				Expect(e1[i]).To(BeNumerically("~", 3*t, 1e-9))
				Expect(e2[i]).To(BeNumerically("~", 6*t, 1e-9))
			}
			Expect(sol.VariableNames()).To(Equal([]string{"y1", "y2"}))
		})

		It("warm starts each point from the previous solution", func() {
			rec := &recording{inner: newton.New(newton.Options{})}
			s.SetRootFinder(rec)

			times := linspace(0, 1, 4)
			sol, err := s.Solve(models.NewRamp(), times, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.seeds).To(HaveLen(len(times)))
			Expect(rec.seeds[0]).To(Equal(models.NewRamp().InitialGuess()))
			states := sol.States()
			for i := 1; i < len(times); i++ {
				Expect(rec.seeds[i]).To(Equal(states[i-1]))
			}
		})

		It("reports an unknown variable", func() {
			sol, err := s.Solve(models.NewOffset(), []float64{0}, dynamo.Inputs{"c": dynamo.Concrete(1)})
			Expect(err).NotTo(HaveOccurred())
			_, err = sol.Variable("nope")
			Expect(err).To(MatchError(dynamo.ErrUnknownVariable))
		})

		It("offers no symbolic queries", func() {
			sol, err := s.Solve(models.NewOffset(), []float64{0}, dynamo.Inputs{"c": dynamo.Concrete(1)})
			Expect(err).NotTo(HaveOccurred())

			_, err = sol.Value(1)
			Expect(err).To(MatchError(dynamo.ErrNotSymbolic))
			_, err = sol.Sensitivity(1)
			Expect(err).To(MatchError(dynamo.ErrNotSymbolic))

			v, _ := sol.Variable("y")
			_, err = v.Sensitivity(1)
			Expect(err).To(MatchError(dynamo.ErrNotSymbolic))
		})
	})

	Describe("input validation", func() {
		DescribeTable("rejects bad calls before solving",
			func(m dynamo.Model, times []float64, inputs dynamo.Inputs, tol float64, want error) {
				s.SetTol(tol)
				_, err := s.Solve(m, times, inputs)
				Expect(err).To(MatchError(dynamo.ErrInvalidConfig))
				Expect(errors.Is(err, want)).To(BeTrue(), "got %v", err)
			},
			Entry("empty time grid", models.NewOffset(), []float64{}, dynamo.Inputs{"c": dynamo.Concrete(1)}, 1e-6, dynamo.ErrEmptyTimeGrid),
			Entry("missing input", models.NewOffset(), []float64{0}, dynamo.Inputs{}, 1e-6, dynamo.ErrMissingInput),
			Entry("zero tolerance", models.NewOffset(), []float64{0}, dynamo.Inputs{"c": dynamo.Concrete(1)}, 0.0, dynamo.ErrInvalidTolerance),
			Entry("NaN tolerance", models.NewOffset(), []float64{0}, dynamo.Inputs{"c": dynamo.Concrete(1)}, math.NaN(), dynamo.ErrInvalidTolerance),
			Entry("guess of the wrong length", wrongGuess{models.NewOffset()}, []float64{0}, dynamo.Inputs{"c": dynamo.Concrete(1)}, 1e-6, dynamo.ErrDimensionMismatch),
			Entry("symbolic input on an opaque model", opaque{models.NewOffset()}, []float64{0}, dynamo.Inputs{"c": dynamo.Symbolic(dynamo.SymbolicToken)}, 1e-6, dynamo.ErrNotSymbolicModel),
		)

		It("rejects non-finite times", func() {
			_, err := s.Solve(models.NewOffset(), []float64{0, math.Inf(1)}, dynamo.Inputs{"c": dynamo.Concrete(1)})
			Expect(err).To(MatchError(dynamo.ErrInvalidConfig))
		})
	})

	Describe("symbolic inputs", func() {
		var sol *solver.Solution

		BeforeEach(func() {
			var err error
			sol, err = s.Solve(models.NewOffset(), []float64{0}, dynamo.Inputs{"c": dynamo.Symbolic(dynamo.SymbolicToken)})
			Expect(err).NotTo(HaveOccurred())
		})

		It("evaluates the bound relation without solving again", func() {
			Expect(sol.Symbolic()).To(BeTrue())
			Expect(sol.SymbolicInputs()).To(Equal([]string{"c"}))

			v, err := sol.Variable("y")
			Expect(err).NotTo(HaveOccurred())

			val, err := v.Value(7)
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(HaveLen(1))
			Expect(val[0]).To(BeNumerically("~", -7, 1e-12))

			val, err = v.Value(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(val[0]).To(BeNumerically("~", -3, 1e-12))
		})

		It("differentiates through the implicit solution", func() {
			v, _ := sol.Variable("y")
			d, err := v.Sensitivity(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.At(0, 0)).To(BeNumerically("~", -1, 1e-12))

			dy, err := sol.Sensitivity(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(dy.At(0, 0)).To(BeNumerically("~", -1, 1e-12))
		})

		It("anchors the stored trajectory at the nominal value", func() {
			Expect(sol.States()[0][0]).To(BeNumerically("~", -dynamo.DefaultNominal, 1e-9))

			y, err := sol.Value(5)
			Expect(err).NotTo(HaveOccurred())
			Expect(y.At(0, 0)).To(BeNumerically("~", -5, 1e-12))
			Expect(sol.States()[0][0]).To(BeNumerically("~", -dynamo.DefaultNominal, 1e-9))
		})

		It("checks the number of parameter values", func() {
			v, _ := sol.Variable("y")
			_, err := v.Value(1, 2)
			Expect(err).To(MatchError(dynamo.ErrParamCount))
		})

		It("honours a custom nominal value", func() {
			sol, err := s.Solve(models.NewOffset(), []float64{0}, dynamo.Inputs{"c": dynamo.SymbolicAt(dynamo.SymbolicToken, 4)})
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.States()[0][0]).To(BeNumerically("~", -4, 1e-9))
		})

		It("tracks a nonlinear output over several time points", func() {
			b := models.NewBuilder()
			y := b.Unknown("y", 1)
			Expect(b.ParseEquation("y^3 + y - k*(1 + t)")).To(Succeed())
			b.Variable("y", y)
			m, err := b.Compile()
			Expect(err).NotTo(HaveOccurred())

			times := linspace(0, 1, 5)
			sol, err := s.Solve(m, times, dynamo.Inputs{"k": dynamo.Symbolic(dynamo.SymbolicToken)})
			Expect(err).NotTo(HaveOccurred())

			v, _ := sol.Variable("y")
			vals, err := v.Value(2.5)
			Expect(err).NotTo(HaveOccurred())
			sens, err := v.Sensitivity(2.5)
			Expect(err).NotTo(HaveOccurred())

			for i, t := range times {
				yv := vals[i]
				Expect(yv*yv*yv + yv - 2.5*(1+t)).To(BeNumerically("~", 0, 1e-10))
				// implicit derivative: (3y^2 + 1) dy/dk = 1 + t
				Expect(sens.At(i, 0)).To(BeNumerically("~", (1+t)/(3*yv*yv+1), 1e-10))
			}
		})

		It("surfaces a singular jacobian as a failure", func() {
			b := models.NewBuilder()
			y1 := b.Unknown("a", 0.5)
			y2 := b.Unknown("b", 0.5)
			p := b.Param("p")
			sum := expr.Add(y1, y2)
			b.Equation(expr.Sub(sum, p))
			b.Equation(expr.Sub(expr.Mul(expr.Const(2), sum), expr.Mul(expr.Const(2), p)))
			b.Variable("a", y1)
			m, err := b.Compile()
			Expect(err).NotTo(HaveOccurred())

			sol, err := s.Solve(m, []float64{0}, dynamo.Inputs{"p": dynamo.Symbolic(dynamo.SymbolicToken)})
			Expect(err).NotTo(HaveOccurred())

			_, err = sol.Sensitivity(1)
			Expect(err).To(MatchError(dynamo.ErrSingularJacobian))
		})
	})

	Describe("badly scaled residuals", func() {
		DescribeTable("evaluates the relation far from the anchor",
			func(scale string, p float64) {
				b := models.NewBuilder()
				y := b.Unknown("y", 1)
				Expect(b.ParseEquation(scale + "*(y^3 - p)")).To(Succeed())
				b.Variable("y", y)
				m, err := b.Compile()
				Expect(err).NotTo(HaveOccurred())

				sol, err := s.Solve(m, []float64{0}, dynamo.Inputs{"p": dynamo.Symbolic(dynamo.SymbolicToken)})
				Expect(err).NotTo(HaveOccurred())

				v, _ := sol.Variable("y")
				vals, err := v.Value(p)
				Expect(err).NotTo(HaveOccurred())
				want := math.Cbrt(p)
				Expect(vals[0]).To(BeNumerically("~", want, 1e-9))

				sens, err := v.Sensitivity(p)
				Expect(err).NotTo(HaveOccurred())
				Expect(sens.At(0, 0)).To(BeNumerically("~", 1/(3*want*want), 1e-9))
			},
			Entry("1e6 at p=20", "1e6", 20.0),
			Entry("1e6 at p=123.4", "1e6", 123.4),
			Entry("1e9 at p=20", "1e9", 20.0),
			Entry("1e9 at p=123.4", "1e9", 123.4),
		)
	})

	Describe("two symbolic inputs", func() {
		// y1 = a*t, y2 = a*b
		var (
			sol   *solver.Solution
			times = []float64{0, 0.5, 1}
		)

		BeforeEach(func() {
			b := models.NewBuilder()
			y1 := b.Unknown("y1", 0)
			y2 := b.Unknown("y2", 0)
			Expect(b.ParseEquation("y1 = a*t")).To(Succeed())
			Expect(b.ParseEquation("y2 = a*b")).To(Succeed())
			b.Variable("y1", y1).Variable("y2", y2)
			m, err := b.Compile()
			Expect(err).NotTo(HaveOccurred())

			sol, err = s.Solve(m, times, dynamo.Inputs{
				"b": dynamo.SymbolicAt(dynamo.SymbolicToken, 3),
				"a": dynamo.SymbolicAt(dynamo.SymbolicToken, 2),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("orders the inputs by name", func() {
			Expect(sol.SymbolicInputs()).To(Equal([]string{"a", "b"}))
		})

		It("evaluates every unknown at new input values", func() {
			y, err := sol.Value(4, 5)
			Expect(err).NotTo(HaveOccurred())
			r, c := y.Dims()
			Expect(r).To(Equal(2))
			Expect(c).To(Equal(len(times)))
			for i, t := range times {
				Expect(y.At(0, i)).To(BeNumerically("~", 4*t, 1e-12))
				Expect(y.At(1, i)).To(BeNumerically("~", 20, 1e-12))
			}
		})

		It("stacks the unknown sensitivities one column per input", func() {
			a, bv := 4.0, 5.0
			d, err := sol.Sensitivity(a, bv)
			Expect(err).NotTo(HaveOccurred())
			r, c := d.Dims()
			Expect(r).To(Equal(2 * len(times)))
			Expect(c).To(Equal(2))
			for i, t := range times {
				// row i*n+j is unknown j at time point i
				Expect(d.At(2*i, 0)).To(BeNumerically("~", t, 1e-12))
				Expect(d.At(2*i, 1)).To(BeNumerically("~", 0, 1e-12))
				Expect(d.At(2*i+1, 0)).To(BeNumerically("~", bv, 1e-12))
				Expect(d.At(2*i+1, 1)).To(BeNumerically("~", a, 1e-12))
			}
		})

		It("differentiates a variable with respect to each input", func() {
			v, err := sol.Variable("y2")
			Expect(err).NotTo(HaveOccurred())

			vals, err := v.Value(4, 5)
			Expect(err).NotTo(HaveOccurred())
			d, err := v.Sensitivity(4, 5)
			Expect(err).NotTo(HaveOccurred())
			for i := range times {
				Expect(vals[i]).To(BeNumerically("~", 20, 1e-12))
				Expect(d.At(i, 0)).To(BeNumerically("~", 5, 1e-12))
				Expect(d.At(i, 1)).To(BeNumerically("~", 4, 1e-12))
			}
		})

		It("rejects the wrong number of input values", func() {
			_, err := sol.Value(4)
			Expect(err).To(MatchError(dynamo.ErrParamCount))

			v, _ := sol.Variable("y1")
			_, err = v.Sensitivity(1, 2, 3)
			Expect(err).To(MatchError(dynamo.ErrParamCount))
		})
	})

	Describe("least-squares fitting through the relation", func() {
		It("recovers sqrt(3) with and without the analytic jacobian", func() {
			b := models.NewBuilder()
			b.Unknown("y", 2)
			Expect(b.ParseEquation("y - p")).To(Succeed())
			Expect(b.ParseVariable("objective", "(y^2 - 3)^2")).To(Succeed())
			m, err := b.Compile()
			Expect(err).NotTo(HaveOccurred())

			sol, err := s.Solve(m, []float64{0}, dynamo.Inputs{"p": dynamo.Symbolic(dynamo.SymbolicToken)})
			Expect(err).NotTo(HaveOccurred())
			obj, err := sol.Variable("objective")
			Expect(err).NotTo(HaveOccurred())

			residual := func(x []float64) ([]float64, error) { return obj.Value(x...) }
			jacobian := func(x []float64) (*mat.Dense, error) { return obj.Sensitivity(x...) }

			plain, err := optim.LeastSquares(optim.Problem{Residual: residual}, []float64{1}, optim.Settings{})
			Expect(err).NotTo(HaveOccurred())
			Expect(plain.X[0]).To(BeNumerically("~", math.Sqrt(3), 1e-3))

			exact, err := optim.LeastSquares(optim.Problem{Residual: residual, Jacobian: jacobian}, []float64{1}, optim.Settings{})
			Expect(err).NotTo(HaveOccurred())
			Expect(exact.X[0]).To(BeNumerically("~", math.Sqrt(3), 1e-3))
		})
	})

	Describe("failure classification", func() {
		It("reports a terminated search with the default configuration", func() {
			_, err := s.Solve(models.NewNoRoot(), []float64{0}, nil)
			Expect(err).To(MatchError(dynamo.ErrNoAcceptableSolution))

			var se *dynamo.SolverError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Status).To(Equal(dynamo.StatusSolverTerminated))
			Expect(se.Message).To(HavePrefix("could not find acceptable solution: "))
			Expect(se.Message).NotTo(ContainSubstring("solver terminated unsuccessfully"))
		})

		It("words the failure as search termination when ErrorOnFail is off", func() {
			s.SetErrorOnFail(false)
			_, err := s.Solve(models.NewNoRoot(), []float64{0}, nil)
			Expect(err).To(MatchError(dynamo.ErrNoAcceptableSolution))
			Expect(err.Error()).To(ContainSubstring("could not find acceptable solution: solver terminated unsuccessfully"))

			var se *dynamo.SolverError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Status).To(Equal(dynamo.StatusSolverTerminated))
			Expect(se.Step).To(Equal(0))
		})

		It("stops at the first failing point", func() {
			// y^2 = 1 - t has no real root once t > 1
			b := models.NewBuilder()
			b.Unknown("y", 1)
			Expect(b.ParseEquation("y^2 - 1 + t")).To(Succeed())
			m, err := b.Compile()
			Expect(err).NotTo(HaveOccurred())

			_, err = s.Solve(m, []float64{0, 0.5, 2, 3}, nil)
			var se *dynamo.SolverError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Step).To(Equal(2))
			Expect(se.Time).To(Equal(2.0))
		})

		It("classifies a converged point above tolerance as residual too large", func() {
			s.SetRootFinder(scripted{func(y0 dynamo.State) newton.Result {
				return newton.Result{Y: y0.Clone(), Converged: true, Reason: "step below tolerance"}
			}})

			_, err := s.Solve(models.NewNoRoot(), []float64{0}, nil)
			var se *dynamo.SolverError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Status).To(Equal(dynamo.StatusResidualTooLarge))
			Expect(se.Message).To(ContainSubstring("residual norm"))

			s.SetErrorOnFail(false)
			_, err = s.Solve(models.NewNoRoot(), []float64{0}, nil)
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Status).To(Equal(dynamo.StatusResidualTooLarge))
			Expect(se.Message).To(ContainSubstring("solver converged but maximum solution error"))
		})

		It("accepts a terminated search within tolerance only when ErrorOnFail is off", func() {
			s.SetRootFinder(scripted{func(dynamo.State) newton.Result {
				return newton.Result{Y: dynamo.State{-2}, Converged: false, Reason: "maximum iterations (1) reached"}
			}})
			inputs := dynamo.Inputs{"c": dynamo.Concrete(2)}

			_, err := s.Solve(models.NewOffset(), []float64{0}, inputs)
			Expect(err).To(MatchError(dynamo.ErrNoAcceptableSolution))
			Expect(err.Error()).To(Equal("could not find acceptable solution: maximum iterations (1) reached"))

			s.SetErrorOnFail(false)
			sol, err := s.Solve(models.NewOffset(), []float64{0}, inputs)
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.States()[0][0]).To(Equal(-2.0))
		})
	})
})
