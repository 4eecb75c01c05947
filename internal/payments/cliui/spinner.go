package cliui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// RunResult is delivered once the background operation a spinnerModel is
// waiting on finishes.
type RunResult struct {
	Summary string
	Err     error
}

type doneMsg RunResult

type spinnerModel struct {
	spin    spinner.Model
	label   string
	resultC <-chan RunResult
	result  *RunResult
}

func (m spinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForResult(m.resultC))
}

func waitForResult(c <-chan RunResult) tea.Cmd {
	return func() tea.Msg {
		return doneMsg(<-c)
	}
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case doneMsg:
		r := RunResult(msg)
		m.result = &r
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.result != nil {
		if m.result.Err != nil {
			return ErrorStyle.Render("✗ "+m.result.Err.Error()) + "\n"
		}
		return SuccessStyle.Render("✓ "+m.result.Summary) + "\n"
	}
	return fmt.Sprintf("%s %s\n", m.spin.View(), m.label)
}

// RunWithSpinner renders a spinner labeled with label while work runs on a
// goroutine, returning work's RunResult once it completes. Grounded on the
// teacher's internal/cli/install.go tea.Program pattern (progress driven by
// tea.Msg delivered from a background tea.Cmd), adapted from a multi-step
// install wizard down to a single spinner-and-result widget.
func RunWithSpinner(label string, work func() RunResult) (RunResult, error) {
	resultC := make(chan RunResult, 1)
	go func() { resultC <- work() }()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SuccessStyle

	m := spinnerModel{spin: s, label: label, resultC: resultC}
	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return RunResult{}, err
	}
	fm := final.(spinnerModel)
	if fm.result == nil {
		return RunResult{Err: fmt.Errorf("cliui: program exited before result arrived")}, nil
	}
	return *fm.result, nil
}
