package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/algsim/internal/solver"
)

const (
	metadataFile = "metadata.json"
	solutionFile = "solution.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID             string            `json:"id"`
	Problem        string            `json:"problem"`
	Timestamp      time.Time         `json:"timestamp"`
	Tol            float64           `json:"tol"`
	Points         int               `json:"points"`
	Unknowns       []string          `json:"unknowns"`
	Variables      []string          `json:"variables"`
	Inputs         map[string]string `json:"inputs"`
	SymbolicInputs []string          `json:"symbolic_inputs,omitempty"`
	Iterations     int               `json:"iterations"`
}

// Run is one stored solve: the problem name and the unknown names in
// model order, along with the solution.
type Run struct {
	Problem  string
	Unknowns []string
	Solution *solver.Solution
}

func (r Run) metadata(id string) RunMetadata {
	sol := r.Solution
	meta := RunMetadata{
		ID:             id,
		Problem:        r.Problem,
		Timestamp:      time.Now(),
		Tol:            sol.Tol(),
		Points:         len(sol.Times()),
		Unknowns:       append([]string(nil), r.Unknowns...),
		Variables:      sol.VariableNames(),
		Inputs:         make(map[string]string),
		SymbolicInputs: sol.SymbolicInputs(),
	}
	for name, in := range sol.Inputs() {
		meta.Inputs[name] = in.String()
	}
	for _, n := range sol.Iterations() {
		meta.Iterations += n
	}
	return meta
}

// Save writes the run to <baseDir>/<problem>_<id>/ and returns the run ID.
func (s *Store) Save(r Run) (string, error) {
	runID := fmt.Sprintf("%s_%s", runName(r.Problem), uuid.New().String()[:8])
	if err := writeRun(filepath.Join(s.baseDir, runID), runID, r); err != nil {
		return "", err
	}
	return runID, nil
}

// runName keeps a problem name to a single path element.
func runName(problem string) string {
	name := strings.Map(func(c rune) rune {
		if c == '/' || c == '\\' || c == filepath.Separator {
			return '_'
		}
		return c
	}, problem)
	if name == "" {
		return "run"
	}
	return name
}

// writeRun removes runDir again if any file fails to write.
func writeRun(runDir, runID string, r Run) (err error) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(runDir)
		}
	}()

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.metadata(runID)); err != nil {
		return err
	}

	csvFile, err := os.Create(filepath.Join(runDir, solutionFile))
	if err != nil {
		return err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	for _, row := range r.rows() {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// rows lays the solution out as time, unknowns, then variables by name.
func (r Run) rows() [][]string {
	sol := r.Solution
	times := sol.Times()
	states := sol.States()
	names := sol.VariableNames()

	header := append([]string{"time"}, r.Unknowns...)
	header = append(header, names...)

	columns := make([][]float64, len(names))
	for j, name := range names {
		v, err := sol.Variable(name)
		if err != nil {
			continue
		}
		columns[j] = v.Entries()
	}

	rows := make([][]string, 0, len(times)+1)
	rows = append(rows, header)
	for i, t := range times {
		row := []string{formatFloat(t)}
		for _, val := range states[i] {
			row = append(row, formatFloat(val))
		}
		for _, col := range columns {
			row = append(row, formatFloat(col[i]))
		}
		rows = append(rows, row)
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}

		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// Trajectory is a stored solution read back from disk.
type Trajectory struct {
	Columns []string
	Times   []float64
	Rows    [][]float64
}

// Column returns the named column, or false if it was not stored.
func (tr *Trajectory) Column(name string) ([]float64, bool) {
	for j, c := range tr.Columns {
		if c != name {
			continue
		}
		out := make([]float64, len(tr.Rows))
		for i, row := range tr.Rows {
			out[i] = row[j]
		}
		return out, true
	}
	return nil, false
}

func (s *Store) LoadTrajectory(runID string) (*Trajectory, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, solutionFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	tr := &Trajectory{}
	if len(records) == 0 {
		return tr, nil
	}
	tr.Columns = records[0][1:]

	for _, record := range records[1:] {
		values := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("run %s: bad value %q: %w", runID, field, err)
			}
			values[j] = v
		}
		tr.Times = append(tr.Times, values[0])
		tr.Rows = append(tr.Rows, values[1:])
	}

	return tr, nil
}
