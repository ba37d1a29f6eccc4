// Package tui is an interactive tuner for symbolic solves: the symbolic
// inputs are adjusted from the keyboard and the outputs are re-evaluated
// through the solved relation, without running the root finder again.
package tui

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/algsim/internal/solver"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

const (
	defaultStep = 0.1
	minStep     = 1e-6
	maxStep     = 1e6
)

type model struct {
	title     string
	sol       *solver.Solution
	names     []string
	nominal   []float64
	values    []float64
	variables []string

	cursor int
	output int
	step   float64

	series []float64
	sens   []float64
	err    error

	width int
}

// newTuner builds the tuner for a symbolic solution. The inputs start at
// their nominal values.
func newTuner(title string, sol *solver.Solution) (*model, error) {
	if !sol.Symbolic() {
		return nil, fmt.Errorf("tui: solution of %s has no symbolic inputs", title)
	}
	m := &model{
		title:     title,
		sol:       sol,
		names:     sol.SymbolicInputs(),
		variables: sol.VariableNames(),
		step:      defaultStep,
		width:     80,
	}
	inputs := sol.Inputs()
	for _, name := range m.names {
		m.nominal = append(m.nominal, inputs[name].Value())
	}
	m.values = append([]float64(nil), m.nominal...)
	m.refresh()
	return m, nil
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.refresh()
		}
	case "down", "j":
		if m.cursor < len(m.names)-1 {
			m.cursor++
			m.refresh()
		}
	case "left", "h":
		m.nudge(-m.step)
	case "right", "l":
		m.nudge(m.step)
	case "[":
		m.step = math.Max(m.step/10, minStep)
	case "]":
		m.step = math.Min(m.step*10, maxStep)
	case "tab":
		if len(m.variables) > 0 {
			m.output = (m.output + 1) % len(m.variables)
			m.refresh()
		}
	case "r":
		m.values = append([]float64(nil), m.nominal...)
		m.refresh()
	}
	return m, nil
}

// nudge moves the selected input. values is shared with earlier copies of
// the model, so it is copied before the write.
func (m *model) nudge(delta float64) {
	m.values = append([]float64(nil), m.values...)
	m.values[m.cursor] += delta
	m.refresh()
}

// refresh re-evaluates the selected output at the current input values.
func (m *model) refresh() {
	m.series, m.sens, m.err = nil, nil, nil
	if len(m.variables) == 0 {
		return
	}
	v, err := m.sol.Variable(m.variables[m.output])
	if err != nil {
		m.err = err
		return
	}
	if m.series, m.err = v.Value(m.values...); m.err != nil {
		return
	}
	s, err := v.Sensitivity(m.values...)
	if err != nil {
		m.err = err
		return
	}
	rows, _ := s.Dims()
	m.sens = make([]float64, rows)
	for i := range m.sens {
		m.sens[i] = s.At(i, m.cursor)
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("      " + cyan.Render(m.title) + "  " + dim.Render("symbolic inputs") + "\n")
	b.WriteString(dimmer.Render("      "+strings.Repeat("─", 40)) + "\n\n")

	for i, name := range m.names {
		val := fmt.Sprintf("%10.4g", m.values[i])
		nominal := dimmer.Render(fmt.Sprintf("  nominal %g", m.nominal[i]))
		if i == m.cursor {
			b.WriteString("      " + cyan.Render("▸ ") + white.Render(fmt.Sprintf("%-12s", name)) + magenta.Render(val) + nominal + "\n")
		} else {
			b.WriteString("        " + dim.Render(fmt.Sprintf("%-12s", name)) + dim.Render(val) + nominal + "\n")
		}
	}
	b.WriteString("\n      " + dim.Render(fmt.Sprintf("step %g", m.step)) + "\n\n")

	switch {
	case len(m.variables) == 0:
		b.WriteString("      " + dim.Render("no output variables") + "\n")
	case m.err != nil:
		b.WriteString("      " + red.Render(m.err.Error()) + "\n")
	default:
		name := m.variables[m.output]
		width := max(m.width-24, 10)
		b.WriteString("      " + white.Render(fmt.Sprintf("%-12s", name)) + green.Render(sparkline(m.series, width)) + "\n")
		b.WriteString("      " + dim.Render(fmt.Sprintf("%-12s", "d/d"+m.names[m.cursor])) + cyan.Render(sparkline(m.sens, width)) + "\n\n")
		last := len(m.series) - 1
		b.WriteString("      " + dim.Render(fmt.Sprintf("final %g   d/d%s %g", m.series[last], m.names[m.cursor], m.sens[last])) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(dim.Render("      ↑↓ select  ←→ adjust  [] step  tab output  r reset  q quit") + "\n")

	return b.String()
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := max(len(data)/width, 1)
	var sb strings.Builder
	for i := 0; i < width && i*step < len(data); i++ {
		idx := int((data[i*step] - minVal) / rang * 7)
		sb.WriteRune(chars[min(max(idx, 0), 7)])
	}
	return sb.String()
}

func Run(title string, sol *solver.Solution) error {
	m, err := newTuner(title, sol)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
