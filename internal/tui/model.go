// Package tui implements the interactive inspect viewer.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gpucheckpoint/internal/detector"
	"gpucheckpoint/internal/logging"
)

// DetectFunc runs one detection for pid.
type DetectFunc func(ctx context.Context, pid int) (detector.Report, error)

// Options configures the viewer.
type Options struct {
	PID     int
	Detect  DetectFunc
	Timeout time.Duration
	// StateDir holds persisted viewer preferences; empty disables them.
	StateDir string
	Logger   *logging.Logger
}

// reportMsg carries the outcome of one detection run.
type reportMsg struct {
	run    int
	report detector.Report
	err    error
}

// Model represents the inspect viewer state
type Model struct {
	startTime time.Time
	quitting  bool

	pid     int
	detect  DetectFunc
	timeout time.Duration
	logger  *logging.Logger

	stateManager *UIStateManager

	currentScreen Screen
	verbose       bool
	selection     int
	width         int

	report    detector.Report
	hasReport bool
	lastError string

	// runs counts started detections; results of older runs are dropped.
	runs    int
	running bool
}

const down = "down"

// NewModel creates the viewer. The first detection starts from Init.
func NewModel(opts Options) Model {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = detector.DefaultTimeout
	}

	m := Model{
		startTime:     time.Now(),
		pid:           opts.PID,
		detect:        opts.Detect,
		timeout:       timeout,
		logger:        opts.Logger,
		stateManager:  NewUIStateManager(opts.StateDir, opts.Logger),
		currentScreen: ScreenAllocations,
		runs:          1,
		running:       true,
	}

	if state, err := m.stateManager.Load(); err == nil {
		m.currentScreen = state.CurrentScreen
		m.verbose = state.Verbose
	} else {
		m.logger.Warn("tui.state.load_failed", "Failed to load UI state", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return m
}

// Init starts the first detection
func (m Model) Init() tea.Cmd {
	return m.detectCmd(m.runs)
}

func (m Model) detectCmd(run int) tea.Cmd {
	detect, pid, timeout := m.detect, m.pid, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		report, err := detect(ctx, pid)
		return reportMsg{run: run, report: report, err: err}
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case reportMsg:
		return m.applyReport(msg), nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg.String())
	}
	return m, nil
}

func (m Model) applyReport(msg reportMsg) Model {
	if msg.run != m.runs {
		return m
	}
	m.running = false

	if msg.err != nil {
		m.hasReport = false
		m.report = detector.Report{}
		m.lastError = msg.err.Error()
		m.selection = 0
		m.logger.Warn("tui.detect.failed", "Detection failed", map[string]interface{}{
			"pid":   m.pid,
			"error": m.lastError,
		})
		return m
	}

	m.report = msg.report
	m.hasReport = true
	m.lastError = ""
	if m.selection >= len(m.report.Allocations) {
		m.selection = 0
	}
	return m
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", "q":
		m.quitting = true
		m.saveState()
		return m, tea.Quit
	case "r":
		if m.running {
			return m, nil
		}
		m.runs++
		m.running = true
		return m, m.detectCmd(m.runs)
	case "esc":
		m.currentScreen = ScreenAllocations
		return m, nil
	case "?":
		m.currentScreen = ScreenHelp
		return m, nil
	case "w", "tab":
		if m.currentScreen == ScreenWarnings {
			m.currentScreen = ScreenAllocations
		} else {
			m.currentScreen = ScreenWarnings
		}
		m.saveState()
		return m, nil
	case "v":
		m.verbose = !m.verbose
		m.saveState()
		return m, nil
	case "up", "k":
		return m.navigateUp(), nil
	case down, "j":
		return m.navigateDown(), nil
	}
	return m, nil
}

func (m Model) navigateUp() Model {
	n := len(m.report.Allocations)
	if m.currentScreen != ScreenAllocations || n == 0 {
		return m
	}
	if m.selection > 0 {
		m.selection--
	} else {
		m.selection = n - 1
	}
	return m
}

func (m Model) navigateDown() Model {
	n := len(m.report.Allocations)
	if m.currentScreen != ScreenAllocations || n == 0 {
		return m
	}
	if m.selection < n-1 {
		m.selection++
	} else {
		m.selection = 0
	}
	return m
}

// View renders the viewer
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	switch m.currentScreen {
	case ScreenWarnings:
		return m.renderWarningsScreen()
	case ScreenHelp:
		return m.renderHelpScreen()
	default:
		return m.renderAllocationsScreen()
	}
}

func (m *Model) saveState() {
	state := &UIState{
		CurrentScreen: m.currentScreen,
		Verbose:       m.verbose,
	}

	if err := m.stateManager.Save(state); err != nil {
		m.logger.Warn("tui.state.save_failed", "Failed to save UI state", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Run starts the viewer on the terminal and blocks until it quits.
func Run(opts Options) error {
	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
