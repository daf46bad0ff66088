// Package tui is the live dashboard behind `planloop watch`: a compact
// bubbletea view over the persisted loop state, refreshed on a fixed tick.
package tui

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/state"
)

// refreshInterval is how often the dashboard re-reads the state file.
const refreshInterval = 500 * time.Millisecond

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the watch dashboard. It holds a snapshot of the persisted
// state and re-reads it on every tick; a missing state file renders as
// a waiting screen so watch can be started before the run.
type Model struct {
	store    *state.Store
	planPath string

	st      *state.LoopState
	loadErr error

	spin     spinner.Model
	width    int
	height   int
	ready    bool
	quitting bool
}

// NewModel creates a dashboard model for the plan whose state the store
// reads.
func NewModel(planPath string, store *state.Store) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	m := Model{
		store:    store,
		planPath: planPath,
		spin:     s,
	}
	m.refresh()
	return m
}

// refresh re-reads the persisted state. A missing file is not an error;
// anything else is surfaced on the dashboard.
func (m *Model) refresh() {
	st, err := m.store.Load()
	switch {
	case err == nil:
		m.st = st
		m.loadErr = nil
	case errors.Is(err, errors.ErrStateNotFound):
		m.st = nil
		m.loadErr = nil
	default:
		m.loadErr = err
	}
}

// waiting reports whether the dashboard should keep animating: either no
// run exists yet, or the run is still going.
func (m Model) waiting() bool {
	return m.st == nil || m.st.Status == state.StatusRunning
}

// Init starts the refresh tick and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spin.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()

	case spinner.TickMsg:
		if !m.waiting() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Watch runs the dashboard for the given plan until the user quits.
func Watch(planPath string) error {
	resolved, err := plan.Resolve(planPath)
	if err != nil {
		return err
	}

	model := NewModel(resolved, state.NewStore(state.NewLayout(resolved), nil))
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		model.width = w
		model.height = h
		model.ready = true
	}

	program := tea.NewProgram(model, tea.WithAltScreen())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		program.Send(tea.Quit())
	}()

	_, err = program.Run()
	signal.Stop(sigChan)
	return err
}
