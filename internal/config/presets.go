package config

import (
	"sort"

	"github.com/san-kum/algsim/internal/dynamo"
)

func solverDefaults() SolverConfig {
	return SolverConfig{Tol: DefaultTol, ErrorOnFail: true, MaxIterations: DefaultMaxIterations}
}

var Presets = map[string]*Problem{
	"simple": {
		Name:      "simple",
		Unknowns:  []Unknown{{Name: "y", Initial: 2}},
		Equations: []string{"y + 2"},
		Times:     TimeGrid{Start: 0, Stop: 1, Points: 10},
		Solver:    solverDefaults(),
	},
	"coupled": {
		Name:      "coupled",
		Unknowns:  []Unknown{{Name: "y1", Initial: 1}, {Name: "y2", Initial: 4}},
		Equations: []string{"y1 - 3*t", "2*y1 - y2"},
		Variables: []Variable{{Name: "y1", Expr: "y1"}, {Name: "y2", Expr: "y2"}},
		Times:     TimeGrid{Start: 0, Stop: 1, Points: 50},
		Solver:    solverDefaults(),
	},
	"input": {
		Name:      "input",
		Unknowns:  []Unknown{{Name: "y", Initial: 2}},
		Equations: []string{"y + param"},
		Inputs:    map[string]any{"param": 7.0},
		Times:     TimeGrid{Start: 0, Stop: 1, Points: 10},
		Solver:    solverDefaults(),
	},
	"symbolic": {
		Name:      "symbolic",
		Unknowns:  []Unknown{{Name: "y", Initial: 2}},
		Equations: []string{"y + param"},
		Variables: []Variable{{Name: "y", Expr: "y"}},
		Inputs:    map[string]any{"param": dynamo.SymbolicToken},
		Times:     TimeGrid{Values: []float64{0}, Points: 1},
		Solver:    solverDefaults(),
	},
	"fit": {
		Name:      "fit",
		Unknowns:  []Unknown{{Name: "y", Initial: 2}},
		Equations: []string{"y - param"},
		Variables: []Variable{{Name: "objective", Expr: "(y^2 - 3)^2"}},
		Inputs:    map[string]any{"param": dynamo.SymbolicToken},
		Times:     TimeGrid{Values: []float64{0}, Points: 1},
		Solver:    solverDefaults(),
	},
	"no_root": {
		Name:      "no_root",
		Unknowns:  []Unknown{{Name: "y", Initial: 2}},
		Equations: []string{"y^2 + 1"},
		Times:     TimeGrid{Values: []float64{0}, Points: 1},
		Solver:    solverDefaults(),
	},
	"circle": {
		Name:      "circle",
		Unknowns:  []Unknown{{Name: "x", Initial: 1}, {Name: "y", Initial: 0}},
		Equations: []string{"x^2 + y^2 = r^2", "y = x*tanh(t)"},
		Variables: []Variable{{Name: "x", Expr: "x"}, {Name: "y", Expr: "y"}, {Name: "angle", Expr: "log((x + y)/(x - y))/2"}},
		Inputs:    map[string]any{"r": 2.0},
		Times:     TimeGrid{Start: 0, Stop: 2, Points: 40},
		Solver:    solverDefaults(),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Problem {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return p.clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Problem) clone() *Problem {
	c := *p
	c.Unknowns = append([]Unknown(nil), p.Unknowns...)
	c.Equations = append([]string(nil), p.Equations...)
	c.Variables = append([]Variable(nil), p.Variables...)
	c.Times.Values = append([]float64(nil), p.Times.Values...)
	if p.Inputs != nil {
		c.Inputs = make(map[string]any, len(p.Inputs))
		for k, v := range p.Inputs {
			c.Inputs[k] = v
		}
	}
	return &c
}
