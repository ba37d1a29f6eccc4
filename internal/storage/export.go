package storage

import (
	"encoding/json"
	"io"
	"math"
	"os"
)

type ExportData struct {
	Problem        string                `json:"problem"`
	Tol            float64               `json:"tol"`
	Times          []float64             `json:"times"`
	Unknowns       []string              `json:"unknowns"`
	States         [][]*float64          `json:"states"`
	Variables      map[string][]*float64 `json:"variables"`
	Inputs         map[string]string     `json:"inputs"`
	SymbolicInputs []string              `json:"symbolic_inputs,omitempty"`
	// Sensitivities holds dvariable/dinput at the nominal inputs, one row
	// per time point, for symbolic runs only. Non-finite values are null.
	Sensitivities map[string][][]*float64 `json:"sensitivities,omitempty"`
}

// nullable maps NaN and infinities to nil, which encodes as null.
func nullable(v []float64) []*float64 {
	out := make([]*float64, len(v))
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		out[i] = &x
	}
	return out
}

func (r Run) export() ExportData {
	sol := r.Solution
	data := ExportData{
		Problem:        r.Problem,
		Tol:            sol.Tol(),
		Times:          sol.Times(),
		Unknowns:       r.Unknowns,
		Variables:      make(map[string][]*float64),
		Inputs:         make(map[string]string),
		SymbolicInputs: sol.SymbolicInputs(),
	}
	for _, st := range sol.States() {
		data.States = append(data.States, nullable(st))
	}
	for name, in := range sol.Inputs() {
		data.Inputs[name] = in.String()
	}

	var nominal []float64
	if sol.Symbolic() {
		data.Sensitivities = make(map[string][][]*float64)
		inputs := sol.Inputs()
		for _, name := range data.SymbolicInputs {
			nominal = append(nominal, inputs[name].Value())
		}
	}

	for _, name := range sol.VariableNames() {
		v, err := sol.Variable(name)
		if err != nil {
			continue
		}
		data.Variables[name] = nullable(v.Entries())
		if !sol.Symbolic() {
			continue
		}
		sens, err := v.Sensitivity(nominal...)
		if err != nil {
			continue
		}
		rows, _ := sens.Dims()
		out := make([][]*float64, rows)
		for i := range out {
			out[i] = nullable(sens.RawRowView(i))
		}
		data.Sensitivities[name] = out
	}
	return data
}

func WriteJSON(w io.Writer, r Run) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r.export())
}

func ExportJSON(path string, r Run) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return WriteJSON(file, r)
}
