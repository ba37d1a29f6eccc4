// Package config reads problem files: the unknowns, residual equations,
// output variables, inputs, time grid and solver settings of one solve.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/models"
	"github.com/san-kum/algsim/internal/solver"
)

const (
	DefaultStart         = 0.0
	DefaultStop          = 1.0
	DefaultPoints        = 50
	DefaultTol           = 1e-6
	DefaultMaxIterations = 100
)

var (
	ErrBadInput    = errors.New("config: input must be a number or " + dynamo.SymbolicToken)
	ErrBadTimeGrid = errors.New("config: time grid needs at least one point")
)

type Problem struct {
	Name      string         `yaml:"name" koanf:"name"`
	Unknowns  []Unknown      `yaml:"unknowns" koanf:"unknowns"`
	Equations []string       `yaml:"equations" koanf:"equations"`
	Variables []Variable     `yaml:"variables,omitempty" koanf:"variables"`
	Inputs    map[string]any `yaml:"inputs,omitempty" koanf:"inputs"`
	Times     TimeGrid       `yaml:"times" koanf:"times"`
	Solver    SolverConfig   `yaml:"solver" koanf:"solver"`
}

type Unknown struct {
	Name    string  `yaml:"name" koanf:"name"`
	Initial float64 `yaml:"initial" koanf:"initial"`
}

// Variable is a named output. Expr may use unknowns, inputs and t.
type Variable struct {
	Name string `yaml:"name" koanf:"name"`
	Expr string `yaml:"expr" koanf:"expr"`
}

// TimeGrid is either explicit Values or Points evenly spaced from Start to Stop.
type TimeGrid struct {
	Start  float64   `yaml:"start" koanf:"start"`
	Stop   float64   `yaml:"stop" koanf:"stop"`
	Points int       `yaml:"points" koanf:"points"`
	Values []float64 `yaml:"values,omitempty" koanf:"values"`
}

type SolverConfig struct {
	Tol           float64 `yaml:"tol" koanf:"tol"`
	ErrorOnFail   bool    `yaml:"error_on_fail" koanf:"error_on_fail"`
	MaxIterations int     `yaml:"max_iterations" koanf:"max_iterations"`
	Debug         bool    `yaml:"debug" koanf:"debug"`
}

func DefaultProblem() *Problem {
	return &Problem{
		Times: TimeGrid{Start: DefaultStart, Stop: DefaultStop, Points: DefaultPoints},
		Solver: SolverConfig{
			Tol:           DefaultTol,
			ErrorOnFail:   true,
			MaxIterations: DefaultMaxIterations,
		},
	}
}

func Save(path string, p *Problem) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// TimeGrid returns the requested time points.
func (p *Problem) TimeGrid() ([]float64, error) {
	if len(p.Times.Values) > 0 {
		return append([]float64(nil), p.Times.Values...), nil
	}
	n := p.Times.Points
	if n < 1 {
		return nil, fmt.Errorf("%w: points = %d", ErrBadTimeGrid, n)
	}
	if n == 1 {
		return []float64{p.Times.Start}, nil
	}
	out := make([]float64, n)
	step := (p.Times.Stop - p.Times.Start) / float64(n-1)
	for i := range out {
		out[i] = p.Times.Start + step*float64(i)
	}
	out[n-1] = p.Times.Stop
	return out, nil
}

// BindInputs converts the raw input values. A value is a number, a numeric
// string, the token [sym], or [sym]@nominal. An unquoted [sym] in YAML
// reads as a one-element list and is accepted too.
func (p *Problem) BindInputs() (dynamo.Inputs, error) {
	out := make(dynamo.Inputs, len(p.Inputs))
	for name, raw := range p.Inputs {
		in, err := ParseInput(raw)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		out[name] = in
	}
	return out, nil
}

func ParseInput(raw any) (dynamo.Input, error) {
	switch v := raw.(type) {
	case float64:
		return dynamo.Concrete(v), nil
	case int:
		return dynamo.Concrete(float64(v)), nil
	case int64:
		return dynamo.Concrete(float64(v)), nil
	case []any:
		if len(v) == 1 && fmt.Sprint(v[0]) == strings.Trim(dynamo.SymbolicToken, "[]") {
			return dynamo.Symbolic(dynamo.SymbolicToken), nil
		}
	case string:
		s := strings.TrimSpace(v)
		if rest, ok := strings.CutPrefix(s, dynamo.SymbolicToken); ok {
			if rest == "" {
				return dynamo.Symbolic(dynamo.SymbolicToken), nil
			}
			nominal, err := strconv.ParseFloat(strings.TrimPrefix(rest, "@"), 64)
			if err != nil || !strings.HasPrefix(rest, "@") {
				return dynamo.Input{}, fmt.Errorf("%w: %q", ErrBadInput, v)
			}
			return dynamo.SymbolicAt(dynamo.SymbolicToken, nominal), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err == nil && !math.IsNaN(f) {
			return dynamo.Concrete(f), nil
		}
	}
	return dynamo.Input{}, fmt.Errorf("%w: %v", ErrBadInput, raw)
}

// Model compiles the unknowns, equations and variables.
func (p *Problem) Model() (*models.Algebraic, error) {
	b := models.NewBuilder()
	for _, u := range p.Unknowns {
		b.Unknown(u.Name, u.Initial)
	}
	for _, eq := range p.Equations {
		if err := b.ParseEquation(eq); err != nil {
			return nil, err
		}
	}
	for _, v := range p.Variables {
		if err := b.ParseVariable(v.Name, v.Expr); err != nil {
			return nil, err
		}
	}
	if len(p.Variables) == 0 {
		for _, u := range p.Unknowns {
			if err := b.ParseVariable(u.Name, u.Name); err != nil {
				return nil, err
			}
		}
	}
	return b.Compile()
}

// Build assembles everything a solve needs.
func (p *Problem) Build() (*models.Algebraic, dynamo.Inputs, []float64, error) {
	m, err := p.Model()
	if err != nil {
		return nil, nil, nil, err
	}
	inputs, err := p.BindInputs()
	if err != nil {
		return nil, nil, nil, err
	}
	times, err := p.TimeGrid()
	if err != nil {
		return nil, nil, nil, err
	}
	return m, inputs, times, nil
}

func (p *Problem) SolverConfig(logger *slog.Logger) solver.Config {
	return solver.Config{
		Tol:           p.Solver.Tol,
		ErrorOnFail:   p.Solver.ErrorOnFail,
		MaxIterations: p.Solver.MaxIterations,
		Debug:         p.Solver.Debug,
		Logger:        logger,
	}
}

// InputNames lists the configured inputs, sorted.
func (p *Problem) InputNames() []string {
	names := make([]string, 0, len(p.Inputs))
	for name := range p.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
