package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/algsim/internal/config"
	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/storage"
)

func runSolve(cmd *cobra.Command, args []string) error {
	l, err := loadProblem(cmd)
	if err != nil {
		return err
	}

	sol, err := l.solve()
	if err != nil {
		var serr *dynamo.SolverError
		if errors.As(err, &serr) {
			fmt.Println(errStyle.Render(serr.Status.String()))
			printField("step", serr.Step)
			printField("time", serr.Time)
			printField("last iterate", serr.State)
		}
		return err
	}

	times := sol.Times()
	states := sol.States()
	iterations := 0
	for _, n := range sol.Iterations() {
		iterations += n
	}

	fmt.Println(titleStyle.Render(l.name) + "  " + okStyle.Render("solved"))
	printField("points", len(times))
	printField("tol", sol.Tol())
	printField("iterations", iterations)
	printField("final state", states[len(states)-1])
	if sol.Symbolic() {
		printField("symbolic", strings.Join(sol.SymbolicInputs(), ", "))
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	names := sol.VariableNames()
	fmt.Fprintln(w, "VARIABLE\tFIRST\tLAST\tMIN\tMAX")
	for _, name := range names {
		v, err := sol.Variable(name)
		if err != nil {
			return err
		}
		e := v.Entries()
		lo, hi := bounds(e)
		fmt.Fprintf(w, "%s\t%.6g\t%.6g\t%.6g\t%.6g\n", name, e[0], e[len(e)-1], lo, hi)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if plot && len(times) > 1 {
		for _, name := range names {
			v, _ := sol.Variable(name)
			fmt.Println()
			fmt.Println(asciigraph.Plot(v.Entries(),
				asciigraph.Height(10),
				asciigraph.Width(80),
				asciigraph.Caption(fmt.Sprintf("%s vs time [%g, %g]", name, times[0], times[len(times)-1])),
			))
		}
	}

	if saveRun {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(storage.Run{Problem: l.name, Unknowns: l.model.UnknownNames(), Solution: sol})
		if err != nil {
			return err
		}
		l.logger.Info("run saved", "id", runID, "dir", dataDir)
		fmt.Println()
		printField("run", runID)
	}

	return nil
}

func runExportJSON(cmd *cobra.Command, args []string) error {
	l, err := loadProblem(cmd)
	if err != nil {
		return err
	}
	sol, err := l.solve()
	if err != nil {
		return err
	}

	run := storage.Run{Problem: l.name, Unknowns: l.model.UnknownNames(), Solution: sol}
	if outPath == "" {
		return storage.WriteJSON(os.Stdout, run)
	}
	if err := storage.ExportJSON(outPath, run); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", outPath)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tEQUATIONS\tINPUTS")
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		var inputs []string
		for _, in := range p.InputNames() {
			inputs = append(inputs, fmt.Sprintf("%s=%v", in, p.Inputs[in]))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, strings.Join(p.Equations, "; "), strings.Join(inputs, " "))
	}
	return w.Flush()
}

func bounds(v []float64) (lo, hi float64) {
	lo, hi = v[0], v[0]
	for _, x := range v {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi
}
