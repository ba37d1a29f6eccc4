package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/san-kum/algsim/internal/config"
	"github.com/san-kum/algsim/internal/models"
	"github.com/san-kum/algsim/internal/solver"
)

var (
	dataDir string
	debug   bool

	// problem selection
	preset      string
	problemFile string

	// solver overrides
	tol         float64
	errorOnFail bool
	maxIter     int
	points      int
	start       float64
	stop        float64

	saveRun bool
	plot    bool
	outPath string
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "algsim",
		Short:         "time-stepped algebraic solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".algsim", "data directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging and per-point state checks")

	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "solve a problem over its time grid",
		RunE:  runSolve,
	}
	addProblemFlags(solveCmd)
	solveCmd.Flags().BoolVar(&saveRun, "save", false, "store the run")
	solveCmd.Flags().BoolVar(&plot, "plot", false, "plot every output variable")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json",
		Short: "solve a problem and write the solution as JSON",
		RunE:  runExportJSON,
	}
	addProblemFlags(exportJSONCmd)
	exportJSONCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list built-in problems",
		RunE:  listPresets,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "print run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "grid search an output over the symbolic inputs",
		RunE:  runSweep,
	}
	addProblemFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&sweepRanges, "range", nil, "input grid as name=lo:hi:n (repeatable)")
	sweepCmd.Flags().StringVar(&output, "output", "objective", "variable to minimise at the last time point")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "concurrent evaluations (default: CPUs)")

	fitCmd := &cobra.Command{
		Use:   "fit",
		Short: "least-squares fit of the symbolic inputs",
		RunE:  runFit,
	}
	addProblemFlags(fitCmd)
	fitCmd.Flags().StringVar(&output, "output", "objective", "variable whose values are the residuals")
	fitCmd.Flags().Float64Var(&target, "target", 0, "value subtracted from every residual")
	fitCmd.Flags().BoolVar(&useJacobian, "jacobian", true, "use the solution sensitivity as jacobian")

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "interactively adjust the symbolic inputs",
		RunE:  runTune,
	}
	addProblemFlags(tuneCmd)

	rootCmd.AddCommand(solveCmd, exportJSONCmd, presetsCmd, listCmd, plotCmd, exportCmd, sweepCmd, fitCmd, tuneCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func addProblemFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&preset, "preset", "", "built-in problem (see presets)")
	cmd.Flags().StringVarP(&problemFile, "file", "f", "", "problem file (yaml)")
	cmd.Flags().Float64Var(&tol, "tol", config.DefaultTol, "residual tolerance")
	cmd.Flags().BoolVar(&errorOnFail, "error-on-fail", true, "report root-finder failures as errors")
	cmd.Flags().IntVar(&maxIter, "max-iter", config.DefaultMaxIterations, "root-finder iterations per time point")
	cmd.Flags().IntVar(&points, "points", config.DefaultPoints, "time points")
	cmd.Flags().Float64Var(&start, "start", config.DefaultStart, "first time point")
	cmd.Flags().Float64Var(&stop, "stop", config.DefaultStop, "last time point")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loaded is a problem ready to solve.
type loaded struct {
	name    string
	problem *config.Problem
	model   *models.Algebraic
	logger  *slog.Logger
}

func loadProblem(cmd *cobra.Command) (*loaded, error) {
	if preset == "" && problemFile == "" {
		return nil, fmt.Errorf("one of --preset or --file is required")
	}
	p, err := config.Load(config.LoadOptions{Preset: preset, File: problemFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	name := p.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(problemFile), filepath.Ext(problemFile))
	}
	logger := newLogger().With(slog.String("problem", name))
	return &loaded{name: name, problem: p, logger: logger}, nil
}

func (l *loaded) solve() (*solver.Solution, error) {
	m, inputs, times, err := l.problem.Build()
	if err != nil {
		return nil, err
	}
	l.model = m
	return solver.New(l.problem.SolverConfig(l.logger)).Solve(m, times, inputs)
}

func printField(label string, value any) {
	fmt.Println(labelStyle.Render(label) + valueStyle.Render(fmt.Sprint(value)))
}
