package expr

import (
	"strconv"
	"strings"
)

func precedence(op Op) int {
	switch op {
	case OpAdd, OpSub:
		return 1
	case OpMul, OpDiv:
		return 2
	case OpNeg:
		return 3
	case OpPow:
		return 4
	}
	return 5
}

func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	switch n.op {
	case OpConst:
		sb.WriteString(strconv.FormatFloat(n.value, 'g', -1, 64))
	case OpTime:
		sb.WriteString("t")
	case OpUnknown:
		if n.name != "" {
			sb.WriteString(n.name)
		} else {
			sb.WriteString("y[" + strconv.Itoa(n.index) + "]")
		}
	case OpParam:
		sb.WriteString(n.name)
	case OpNeg:
		sb.WriteString("-")
		n.child(sb, n.args[0], false)
	case OpAdd, OpSub, OpMul, OpDiv, OpPow:
		n.child(sb, n.args[0], n.op == OpPow)
		sb.WriteString(map[Op]string{OpAdd: " + ", OpSub: " - ", OpMul: "*", OpDiv: "/", OpPow: "^"}[n.op])
		n.child(sb, n.args[1], n.op != OpAdd && n.op != OpMul && n.op != OpPow)
	default:
		sb.WriteString(opNames[n.op])
		sb.WriteString("(")
		n.args[0].write(sb)
		sb.WriteString(")")
	}
}

// child parenthesises c when it binds looser than n, or equally loose on
// the side where associativity would change the meaning.
func (n *Node) child(sb *strings.Builder, c *Node, strictSide bool) {
	pc, pn := precedence(c.op), precedence(n.op)
	wrap := pc < pn || (strictSide && pc == pn) || (c.op == OpConst && c.value < 0 && n.op != OpAdd)
	if wrap {
		sb.WriteString("(")
	}
	c.write(sb)
	if wrap {
		sb.WriteString(")")
	}
}
