// Package expr provides differentiable scalar expression graphs.
//
// Nodes are immutable and may be shared between expressions, so a graph
// is a DAG rather than a tree: derivatives built by [Diff] reuse the
// subexpressions of the function they differentiate. Evaluation goes
// through [Compile], which orders the graph once and evaluates every
// shared node a single time per [Program.Eval] call.
//
// Leaves are constants, the time t ([Time]), entries of the unknown vector
// ([Unknown]) and named parameters ([Param]).
package expr

import "math"

type Op uint8

const (
	OpConst Op = iota
	OpTime
	OpUnknown
	OpParam
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpPow
	OpSin
	OpCos
	OpExp
	OpLog
	OpSqrt
	OpTanh
)

var opNames = map[Op]string{
	OpSin:  "sin",
	OpCos:  "cos",
	OpExp:  "exp",
	OpLog:  "log",
	OpSqrt: "sqrt",
	OpTanh: "tanh",
}

type Node struct {
	op    Op
	value float64
	index int
	name  string
	args  []*Node
}

func (n *Node) Op() Op         { return n.op }
func (n *Node) Value() float64 { return n.value }
func (n *Node) Index() int     { return n.index }
func (n *Node) Name() string   { return n.name }

func (n *Node) Args() []*Node {
	out := make([]*Node, len(n.args))
	copy(out, n.args)
	return out
}

func (n *Node) IsConst() bool { return n.op == OpConst }
func (n *Node) IsZero() bool  { return n.op == OpConst && n.value == 0 }
func (n *Node) IsOne() bool   { return n.op == OpConst && n.value == 1 }

// IsLeaf reports whether n can be used as a differentiation variable.
func (n *Node) IsLeaf() bool {
	return n.op == OpTime || n.op == OpUnknown || n.op == OpParam
}

// SameLeaf compares variables by identity of what they denote, not by pointer.
func SameLeaf(a, b *Node) bool {
	if a.op != b.op {
		return false
	}
	switch a.op {
	case OpTime:
		return true
	case OpUnknown:
		return a.index == b.index
	case OpParam:
		return a.name == b.name
	}
	return false
}

func Const(v float64) *Node { return &Node{op: OpConst, value: v} }

func Time() *Node { return &Node{op: OpTime, name: "t"} }

// Unknown is entry index of the unknown vector; name is used for printing.
func Unknown(index int, name string) *Node {
	return &Node{op: OpUnknown, index: index, name: name}
}

func Param(name string) *Node { return &Node{op: OpParam, name: name} }

func binary(op Op, a, b *Node) *Node { return &Node{op: op, args: []*Node{a, b}} }
func unary(op Op, a *Node) *Node     { return &Node{op: op, args: []*Node{a}} }

func Add(a, b *Node) *Node {
	switch {
	case a.IsConst() && b.IsConst():
		return Const(a.value + b.value)
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	}
	return binary(OpAdd, a, b)
}

func Sub(a, b *Node) *Node {
	switch {
	case a.IsConst() && b.IsConst():
		return Const(a.value - b.value)
	case b.IsZero():
		return a
	case a.IsZero():
		return Neg(b)
	case a == b:
		return Const(0)
	}
	return binary(OpSub, a, b)
}

func Mul(a, b *Node) *Node {
	switch {
	case a.IsConst() && b.IsConst():
		return Const(a.value * b.value)
	case a.IsZero() || b.IsZero():
		return Const(0)
	case a.IsOne():
		return b
	case b.IsOne():
		return a
	case a.IsConst() && a.value == -1:
		return Neg(b)
	case b.IsConst() && b.value == -1:
		return Neg(a)
	}
	return binary(OpMul, a, b)
}

func Div(a, b *Node) *Node {
	switch {
	case a.IsConst() && b.IsConst() && b.value != 0:
		return Const(a.value / b.value)
	case a.IsZero() && !b.IsZero():
		return Const(0)
	case b.IsOne():
		return a
	}
	return binary(OpDiv, a, b)
}

func Neg(a *Node) *Node {
	switch {
	case a.IsConst():
		return Const(-a.value)
	case a.op == OpNeg:
		return a.args[0]
	}
	return unary(OpNeg, a)
}

func Pow(base, exp *Node) *Node {
	switch {
	case base.IsConst() && exp.IsConst():
		return Const(math.Pow(base.value, exp.value))
	case exp.IsZero():
		return Const(1)
	case exp.IsOne():
		return base
	}
	return binary(OpPow, base, exp)
}

func fn(op Op, a *Node) *Node {
	if a.IsConst() {
		return Const(apply1(op, a.value))
	}
	return unary(op, a)
}

func Sin(a *Node) *Node  { return fn(OpSin, a) }
func Cos(a *Node) *Node  { return fn(OpCos, a) }
func Exp(a *Node) *Node  { return fn(OpExp, a) }
func Log(a *Node) *Node  { return fn(OpLog, a) }
func Sqrt(a *Node) *Node { return fn(OpSqrt, a) }
func Tanh(a *Node) *Node { return fn(OpTanh, a) }

func apply1(op Op, x float64) float64 {
	switch op {
	case OpNeg:
		return -x
	case OpSin:
		return math.Sin(x)
	case OpCos:
		return math.Cos(x)
	case OpExp:
		return math.Exp(x)
	case OpLog:
		return math.Log(x)
	case OpSqrt:
		return math.Sqrt(x)
	case OpTanh:
		return math.Tanh(x)
	}
	return math.NaN()
}

func apply2(op Op, x, y float64) float64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		return x / y
	case OpPow:
		return math.Pow(x, y)
	}
	return math.NaN()
}
