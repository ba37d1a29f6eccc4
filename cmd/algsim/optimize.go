package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/algsim/internal/optim"
	"github.com/san-kum/algsim/internal/solver"
	"github.com/san-kum/algsim/internal/tui"
)

var (
	sweepRanges []string
	output      string
	workers     int
	target      float64
	useJacobian bool
)

// solveSymbolic solves the problem once and returns the named output,
// which is then evaluated through the solved relation.
func solveSymbolic(cmd *cobra.Command, variable string) (*loaded, *solver.Solution, *solver.ProcessedVariable, error) {
	l, err := loadProblem(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	sol, err := l.solve()
	if err != nil {
		return nil, nil, nil, err
	}
	if !sol.Symbolic() {
		return nil, nil, nil, fmt.Errorf("problem %s has no symbolic inputs; mark one as [sym]", l.name)
	}
	if variable == "" {
		return l, sol, nil, nil
	}
	v, err := sol.Variable(variable)
	if err != nil {
		return nil, nil, nil, err
	}
	return l, sol, v, nil
}

// parseRange reads name=lo:hi:n.
func parseRange(s string) (string, []float64, error) {
	name, grid, ok := strings.Cut(s, "=")
	parts := strings.Split(grid, ":")
	if !ok || len(parts) != 3 {
		return "", nil, fmt.Errorf("bad range %q, want name=lo:hi:n", s)
	}
	lo, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return "", nil, fmt.Errorf("bad range %q: %w", s, err)
	}
	hi, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return "", nil, fmt.Errorf("bad range %q: %w", s, err)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		return "", nil, fmt.Errorf("bad range %q: need a positive point count", s)
	}
	if n == 1 {
		return name, []float64{lo}, nil
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return name, vals, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	l, sol, v, err := solveSymbolic(cmd, output)
	if err != nil {
		return err
	}

	given := make(map[string][]float64, len(sweepRanges))
	for _, s := range sweepRanges {
		name, vals, err := parseRange(s)
		if err != nil {
			return err
		}
		given[name] = vals
	}
	names := sol.SymbolicInputs()
	ranges := make([][]float64, len(names))
	for i, name := range names {
		vals, ok := given[name]
		if !ok {
			return fmt.Errorf("no --range for symbolic input %s", name)
		}
		ranges[i] = vals
	}

	grid := optim.NewGridSearch(names, ranges)
	grid.SetWorkers(workers)
	l.logger.Info("sweep started", "output", output, "points", len(grid.Points()))

	best, all, err := grid.Search(context.Background(), func(_ context.Context, x []float64) (float64, error) {
		vals, err := v.Value(x...)
		if err != nil {
			return 0, err
		}
		return vals[len(vals)-1], nil
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, p := range all {
		if p.Err != nil {
			failed++
			l.logger.Debug("grid point failed", "x", p.X, "err", p.Err)
		}
	}

	fmt.Println(titleStyle.Render(l.name) + "  " + dimStyle.Render("sweep of "+output))
	printField("evaluated", len(all))
	printField("failed", failed)
	for i, name := range names {
		printField(name, best.X[i])
	}
	printField(output, best.Value)

	if len(names) == 1 && len(all) > 1 {
		values := make([]float64, len(all))
		for i, p := range all {
			values[i] = p.Value
		}
		fmt.Println()
		fmt.Println(asciigraph.Plot(values,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs %s [%g, %g]", output, names[0], ranges[0][0], ranges[0][len(ranges[0])-1])),
		))
	}
	return nil
}

func runFit(cmd *cobra.Command, args []string) error {
	l, sol, v, err := solveSymbolic(cmd, output)
	if err != nil {
		return err
	}

	names := sol.SymbolicInputs()
	inputs := sol.Inputs()
	x0 := make([]float64, len(names))
	for i, name := range names {
		x0[i] = inputs[name].Value()
	}

	p := optim.Problem{
		Residual: func(x []float64) ([]float64, error) {
			vals, err := v.Value(x...)
			if err != nil {
				return nil, err
			}
			for i := range vals {
				vals[i] -= target
			}
			return vals, nil
		},
	}
	if useJacobian {
		p.Jacobian = func(x []float64) (*mat.Dense, error) {
			return v.Sensitivity(x...)
		}
	}

	settings := optim.DefaultSettings()
	settings.Logger = l.logger
	res, err := optim.LeastSquares(p, x0, settings)
	if err != nil {
		return err
	}

	status := okStyle.Render("converged")
	if !res.Converged {
		status = errStyle.Render("not converged")
	}
	fmt.Println(titleStyle.Render(l.name) + "  " + status + "  " + dimStyle.Render(res.Reason))
	printField("iterations", res.Iterations)
	printField("cost", res.Cost)
	for i, name := range names {
		printField(name, res.X[i])
	}
	if !res.Converged {
		return fmt.Errorf("fit of %s did not converge: %s", output, res.Reason)
	}
	return nil
}

func runTune(cmd *cobra.Command, args []string) error {
	l, sol, _, err := solveSymbolic(cmd, "")
	if err != nil {
		return err
	}
	return tui.Run(l.name, sol)
}
