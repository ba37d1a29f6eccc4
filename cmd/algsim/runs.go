package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/algsim/internal/storage"
)

const maxPlots = 6

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println(dimStyle.Render("no runs found"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tPOINTS\tTOL\tITERS\tSYMBOLIC")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%g\t%d\t%s\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Points,
			run.Tol,
			run.Iterations,
			strings.Join(run.SymbolicInputs, ","),
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}

	if len(tr.Times) < 2 {
		return fmt.Errorf("run %s has %d time points, nothing to plot", runID, len(tr.Times))
	}

	fmt.Println(titleStyle.Render(meta.ID))
	printField("problem", meta.Problem)
	printField("samples", len(tr.Times))
	fmt.Println()

	// variables follow the unknowns and may share their names
	names, offset := meta.Variables, len(meta.Unknowns)
	if len(names) == 0 {
		names, offset = meta.Unknowns, 0
	}
	if len(names) > maxPlots {
		names = names[:maxPlots]
	}

	for i, name := range names {
		col := make([]float64, len(tr.Rows))
		for r, row := range tr.Rows {
			col[r] = row[offset+i]
		}

		fmt.Println(asciigraph.Plot(col,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs time [%g, %g]", name, tr.Times[0], tr.Times[len(tr.Times)-1])),
		))
		fmt.Println()
	}

	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
