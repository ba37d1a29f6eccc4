package expr

import (
	"errors"
	"math"
	"testing"
)

func scopeOf(nodes ...*Node) Scope {
	return func(name string) (*Node, bool) {
		for _, n := range nodes {
			if n.Name() == name {
				return n, true
			}
		}
		return nil, false
	}
}

func eval(n *Node, b Bindings) (float64, error) {
	v, err := Compile(n).Eval(b)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func TestEvalArithmetic(t *testing.T) {
	x := Unknown(0, "x")
	a := Param("a")
	e := Add(Mul(a, Pow(x, Const(2))), Sin(Time()))

	v, err := eval(e, Bindings{T: 0, Y: []float64{3}, P: map[string]float64{"a": 2}})
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if math.Abs(v-18) > 1e-12 {
		t.Errorf("expected 18, got %f", v)
	}
}

func TestEvalUnbound(t *testing.T) {
	_, err := eval(Param("k"), Bindings{})
	if !errors.Is(err, ErrUnbound) {
		t.Errorf("expected ErrUnbound, got %v", err)
	}

	_, err = eval(Unknown(2, "z"), Bindings{Y: []float64{1}})
	if !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("expected ErrUnknownIndex, got %v", err)
	}
}

func TestConstantFolding(t *testing.T) {
	x := Unknown(0, "x")

	if n := Add(Const(2), Const(3)); !n.IsConst() || n.Value() != 5 {
		t.Errorf("expected folded 5, got %s", n)
	}
	if n := Mul(x, Const(0)); !n.IsZero() {
		t.Errorf("expected zero, got %s", n)
	}
	if n := Mul(Const(1), x); n != x {
		t.Errorf("expected x itself, got %s", n)
	}
	if n := Neg(Neg(x)); n != x {
		t.Errorf("expected double negation to cancel, got %s", n)
	}
	if n := Sub(x, x); !n.IsZero() {
		t.Errorf("expected x - x to fold, got %s", n)
	}
}

func TestDiffPolynomial(t *testing.T) {
	x := Unknown(0, "x")
	d := Diff(Pow(x, Const(3)), x)

	v, err := eval(d, Bindings{Y: []float64{2}})
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if math.Abs(v-12) > 1e-12 {
		t.Errorf("expected 12, got %f", v)
	}
}

func TestDiffSharesSubexpressions(t *testing.T) {
	x := Unknown(0, "x")
	e := Exp(x)

	if d := Diff(e, x); d != e {
		t.Errorf("d/dx exp(x) should reuse exp(x), got %s", d)
	}
}

func TestDiffAgainstFiniteDifference(t *testing.T) {
	x := Unknown(0, "x")
	y := Unknown(1, "y")
	k := Param("k")

	tests := []struct {
		name string
		e    *Node
	}{
		{"product", Mul(x, Sin(y))},
		{"quotient", Div(Add(x, k), Mul(y, y))},
		{"general power", Pow(x, y)},
		{"log sqrt", Add(Log(x), Sqrt(Mul(x, y)))},
		{"tanh cos", Mul(Tanh(Mul(k, x)), Cos(y))},
		{"negation", Neg(Sub(Mul(x, x), Exp(Neg(y))))},
		{"time", Mul(Time(), Mul(k, x))},
	}

	b := Bindings{T: 0.3, Y: []float64{1.3, 0.7}, P: map[string]float64{"k": 0.4}}
	const h = 1e-6

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, wrt := range []*Node{x, y, k} {
				got, err := eval(Diff(tt.e, wrt), b)
				if err != nil {
					t.Fatalf("eval derivative: %v", err)
				}

				plus, minus := shift(b, wrt, h), shift(b, wrt, -h)
				fp, _ := eval(tt.e, plus)
				fm, _ := eval(tt.e, minus)
				want := (fp - fm) / (2 * h)

				if math.Abs(got-want) > 1e-6*(1+math.Abs(want)) {
					t.Errorf("d/d%s: got %.9f, finite difference %.9f", wrt, got, want)
				}
			}
		})
	}
}

func shift(b Bindings, wrt *Node, h float64) Bindings {
	out := Bindings{T: b.T, Y: append([]float64(nil), b.Y...), P: map[string]float64{}}
	for k, v := range b.P {
		out.P[k] = v
	}
	switch wrt.Op() {
	case OpUnknown:
		out.Y[wrt.Index()] += h
	case OpParam:
		out.P[wrt.Name()] += h
	case OpTime:
		out.T += h
	}
	return out
}

func TestDiffRequiresLeaf(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when differentiating by a non-leaf")
		}
	}()
	x := Unknown(0, "x")
	Diff(x, Add(x, Const(1)))
}

func TestCompileEvaluatesSharedNodeOnce(t *testing.T) {
	x := Unknown(0, "x")
	s := Sin(x)
	root := Add(s, Mul(s, s))

	p := Compile(root)
	if p.Size() != 4 {
		t.Errorf("expected 4 distinct nodes, got %d", p.Size())
	}

	v, err := p.Eval(Bindings{Y: []float64{0.5}})
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	want := math.Sin(0.5) + math.Sin(0.5)*math.Sin(0.5)
	if math.Abs(v[0]-want) > 1e-12 {
		t.Errorf("expected %f, got %f", want, v[0])
	}
}

func TestProgramMultipleRoots(t *testing.T) {
	x := Unknown(0, "x")
	p := Compile(Add(x, Const(1)), Mul(x, Const(2)), Const(7))
	if p.Len() != 3 {
		t.Fatalf("expected 3 roots, got %d", p.Len())
	}

	out := make([]float64, 3)
	if err := p.EvalInto(Bindings{Y: []float64{4}}, out); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if out[0] != 5 || out[1] != 8 || out[2] != 7 {
		t.Errorf("unexpected values %v", out)
	}

	if err := p.EvalInto(Bindings{Y: []float64{4}}, make([]float64, 2)); err == nil {
		t.Error("expected error for short output slice")
	}
}

func TestParamsAndMaxUnknown(t *testing.T) {
	x := Unknown(0, "x")
	z := Unknown(3, "z")
	e := Add(Mul(Param("b"), x), Mul(Param("a"), z))

	names := Params(e, Param("b"))
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}
	if got := MaxUnknown(e); got != 3 {
		t.Errorf("expected max unknown 3, got %d", got)
	}
	if got := MaxUnknown(Const(1)); got != -1 {
		t.Errorf("expected -1 for no unknowns, got %d", got)
	}
}

func TestParse(t *testing.T) {
	y := Unknown(0, "y")
	scope := scopeOf(y)

	tests := []struct {
		src  string
		t    float64
		y    float64
		want float64
	}{
		{"3*y^2", 0, 2, 12},
		{"-y^2", 0, 3, -9},
		{"2^3^2", 0, 0, 512},
		{"2**3", 0, 0, 8},
		{"y**-1", 0, 4, 0.25},
		{"(1 + 2)*3", 0, 0, 9},
		{"1 - 2 - 3", 0, 0, -4},
		{"8/4/2", 0, 0, 1},
		{"pow(2, 10)", 0, 0, 1024},
		{"exp(log(5))", 0, 0, 5},
		{"t + pi", 1, 0, 1 + math.Pi},
		{"y*y - 1\n", 0, 3, 8},
		{"2.5e-1 * y", 0, 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := Parse(tt.src, scope)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			v, err := eval(n, Bindings{T: tt.t, Y: []float64{tt.y}})
			if err != nil {
				t.Fatalf("eval failed: %v", err)
			}
			if math.Abs(v-tt.want) > 1e-12 {
				t.Errorf("expected %g, got %g", tt.want, v)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"1 +",
		"(1",
		"3 4",
		"zz",
		"foo(1)",
		"sin(1, 2)",
		"pow(2)",
		"y $ 2",
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src, scopeOf(Unknown(0, "y")))
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("expected ErrSyntax, got %v", err)
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	x := Unknown(0, "x")
	y := Unknown(1, "y")
	a := Param("a")

	tests := []*Node{
		Sub(x, Sub(y, a)),
		Div(x, Mul(y, a)),
		Pow(Pow(x, y), a),
		Neg(Add(x, y)),
		Mul(Const(-2), Sin(Add(x, Time()))),
		Add(Mul(a, Pow(x, Const(2))), Div(Const(1), y)),
	}

	b := Bindings{T: 0.2, Y: []float64{1.5, 2}, P: map[string]float64{"a": 0.7}}
	for _, e := range tests {
		t.Run(e.String(), func(t *testing.T) {
			back, err := Parse(e.String(), scopeOf(x, y, a))
			if err != nil {
				t.Fatalf("reparse %q: %v", e.String(), err)
			}
			want, _ := eval(e, b)
			got, _ := eval(back, b)
			if math.Abs(got-want) > 1e-12 {
				t.Errorf("%q: expected %g after reparse, got %g", e.String(), want, got)
			}
		})
	}
}
