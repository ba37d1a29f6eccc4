package expr

import (
	"fmt"
	"sort"
)

// Diff returns d(n)/d(wrt). wrt must be a leaf (time, unknown or parameter).
// The result shares subexpressions with n; nothing is copied.
func Diff(n, wrt *Node) *Node {
	if !wrt.IsLeaf() {
		panic(fmt.Sprintf("expr: cannot differentiate with respect to %s", wrt))
	}
	d := differ{wrt: wrt, memo: make(map[*Node]*Node)}
	return d.diff(n)
}

type differ struct {
	wrt  *Node
	memo map[*Node]*Node
}

func (d *differ) diff(n *Node) *Node {
	if out, ok := d.memo[n]; ok {
		return out
	}
	out := d.rule(n)
	d.memo[n] = out
	return out
}

func (d *differ) rule(n *Node) *Node {
	switch n.op {
	case OpConst:
		return Const(0)
	case OpTime, OpUnknown, OpParam:
		if SameLeaf(n, d.wrt) {
			return Const(1)
		}
		return Const(0)
	}

	a := n.args[0]
	da := d.diff(a)

	switch n.op {
	case OpNeg:
		return Neg(da)
	case OpSin:
		return Mul(Cos(a), da)
	case OpCos:
		return Neg(Mul(Sin(a), da))
	case OpExp:
		return Mul(n, da)
	case OpLog:
		return Div(da, a)
	case OpSqrt:
		return Div(da, Mul(Const(2), n))
	case OpTanh:
		return Mul(Sub(Const(1), Mul(n, n)), da)
	}

	b := n.args[1]
	db := d.diff(b)

	switch n.op {
	case OpAdd:
		return Add(da, db)
	case OpSub:
		return Sub(da, db)
	case OpMul:
		return Add(Mul(da, b), Mul(a, db))
	case OpDiv:
		// (a/b)' = a'/b - a*b'/b^2
		return Sub(Div(da, b), Div(Mul(a, db), Mul(b, b)))
	case OpPow:
		if db.IsZero() {
			return Mul(Mul(b, Pow(a, Sub(b, Const(1)))), da)
		}
		// a^b * (b' ln a + b a'/a)
		return Mul(n, Add(Mul(db, Log(a)), Div(Mul(b, da), a)))
	}
	panic(fmt.Sprintf("expr: no derivative rule for op %d", n.op))
}

// Params lists the parameter names referenced by the given expressions, sorted.
func Params(roots ...*Node) []string {
	seen := make(map[*Node]bool)
	names := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		if n.op == OpParam {
			names[n.name] = true
		}
		for _, a := range n.args {
			walk(a)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MaxUnknown returns the largest unknown index referenced, or -1.
func MaxUnknown(roots ...*Node) int {
	seen := make(map[*Node]bool)
	hi := -1
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		if n.op == OpUnknown && n.index > hi {
			hi = n.index
		}
		for _, a := range n.args {
			walk(a)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return hi
}
