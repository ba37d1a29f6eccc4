package dynamo

import (
	"fmt"
	"sort"
)

// SymbolicToken marks a placeholder in problem files and CLI arguments.
const SymbolicToken = "[sym]"

// DefaultNominal anchors a symbolic input when no nominal value is given.
const DefaultNominal = 1.0

type inputKind uint8

const (
	kindConcrete inputKind = iota
	kindSymbolic
)

// Input is a parameter value: either a concrete number or a symbolic
// placeholder left unbound until the solution is queried.
type Input struct {
	kind    inputKind
	value   float64
	token   string
	nominal float64
}

func Concrete(v float64) Input {
	return Input{kind: kindConcrete, value: v}
}

func Symbolic(token string) Input {
	return SymbolicAt(token, DefaultNominal)
}

// SymbolicAt is a placeholder whose representative solve happens at nominal.
func SymbolicAt(token string, nominal float64) Input {
	return Input{kind: kindSymbolic, token: token, nominal: nominal}
}

func (in Input) IsSymbolic() bool { return in.kind == kindSymbolic }

func (in Input) Token() string { return in.token }

// Value is the concrete value, or the nominal anchor of a placeholder.
func (in Input) Value() float64 {
	if in.kind == kindSymbolic {
		return in.nominal
	}
	return in.value
}

func (in Input) String() string {
	if in.kind == kindSymbolic {
		return fmt.Sprintf("%s(%s@%g)", SymbolicToken, in.token, in.nominal)
	}
	return fmt.Sprintf("%g", in.value)
}

// Inputs maps parameter names to values. It is not modified by a solve.
type Inputs map[string]Input

func (in Inputs) HasSymbolic() bool {
	for _, v := range in {
		if v.IsSymbolic() {
			return true
		}
	}
	return false
}

// SymbolicNames returns the names bound to placeholders, sorted.
func (in Inputs) SymbolicNames() []string {
	var names []string
	for name, v := range in {
		if v.IsSymbolic() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ConcreteValues converts every input to its concrete or nominal value.
func (in Inputs) ConcreteValues() Params {
	p := make(Params, len(in))
	for name, v := range in {
		p[name] = v.Value()
	}
	return p
}
