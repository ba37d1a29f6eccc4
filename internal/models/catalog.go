package models

import "github.com/san-kum/algsim/internal/expr"

func mustCompile(b *Builder) *Algebraic {
	a, err := b.Compile()
	if err != nil {
		panic(err)
	}
	return a
}

// NewOffset is y + c = 0 with input c.
func NewOffset() *Algebraic {
	b := NewBuilder()
	y := b.Unknown("y", 0)
	b.Equation(expr.Add(y, b.Param("c")))
	b.Variable("y", y)
	return mustCompile(b)
}

// NewRamp is y1 = 3t, y2 = 2*y1.
func NewRamp() *Algebraic {
	b := NewBuilder()
	y1 := b.Unknown("y1", 0)
	y2 := b.Unknown("y2", 0)
	b.Equation(expr.Sub(y1, expr.Mul(expr.Const(3), expr.Time())))
	b.Equation(expr.Sub(expr.Mul(expr.Const(2), y1), y2))
	b.Variable("y1", y1).Variable("y2", y2)
	return mustCompile(b)
}

// NewTracker is y - p = 0, with the output q = y^2.
func NewTracker() *Algebraic {
	b := NewBuilder()
	y := b.Unknown("y", 0)
	b.Equation(expr.Sub(y, b.Param("p")))
	b.Variable("y", y)
	b.Variable("q", expr.Pow(y, expr.Const(2)))
	return mustCompile(b)
}

// NewNoRoot is y^2 + 1 = 0, which has no real solution.
func NewNoRoot() *Algebraic {
	b := NewBuilder()
	y := b.Unknown("y", 2)
	b.Equation(expr.Add(expr.Pow(y, expr.Const(2)), expr.Const(1)))
	b.Variable("y", y)
	return mustCompile(b)
}
