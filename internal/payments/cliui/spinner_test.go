package cliui

import (
	"errors"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(label string) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return spinnerModel{spin: s, label: label}
}

func TestSpinnerModelViewBeforeResult(t *testing.T) {
	m := newTestModel("negotiating payment")
	view := m.View()
	assert.Contains(t, view, "negotiating payment")
}

func TestSpinnerModelUpdateOnDoneMsgSuccess(t *testing.T) {
	m := newTestModel("paying")
	next, cmd := m.Update(doneMsg(RunResult{Summary: "state=settled status=200"}))

	nm, ok := next.(spinnerModel)
	require.True(t, ok)
	require.NotNil(t, nm.result)
	assert.NoError(t, nm.result.Err)
	assert.Equal(t, "state=settled status=200", nm.result.Summary)
	assert.Contains(t, nm.View(), "state=settled status=200")
	assert.NotNil(t, cmd, "reaching a terminal result should issue tea.Quit")
}

func TestSpinnerModelUpdateOnDoneMsgError(t *testing.T) {
	m := newTestModel("paying")
	next, _ := m.Update(doneMsg(RunResult{Err: errors.New("payment declined")}))

	nm := next.(spinnerModel)
	require.NotNil(t, nm.result)
	assert.Error(t, nm.result.Err)
	assert.Contains(t, nm.View(), "payment declined")
}

func TestSpinnerModelUpdateQuitsOnCtrlC(t *testing.T) {
	m := newTestModel("paying")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.NotNil(t, cmd)
}

func TestWaitForResultDeliversChannelValue(t *testing.T) {
	c := make(chan RunResult, 1)
	c <- RunResult{Summary: "ok"}

	msg := waitForResult(c)()
	done, ok := msg.(doneMsg)
	require.True(t, ok)
	assert.Equal(t, "ok", done.Summary)
}

func TestRunWithSpinnerReturnsWorkResult(t *testing.T) {
	// RunWithSpinner drives a real tea.Program, which needs a terminal;
	// exercising spinnerModel's Update/View directly (above) covers its
	// actual logic without requiring one.
	t.Skip("tea.Program requires an interactive terminal; covered via spinnerModel unit tests above")
}
