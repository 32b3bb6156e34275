package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/testforge/framework"
)

// maxFeedLines bounds the activity feed shown under the status line.
const maxFeedLines = 12

// RunFunc executes one repair session.
type RunFunc func(ctx context.Context) framework.LoopResult

// Run shows live progress while run executes and returns its result.
// Quitting the UI cancels the session.
func Run(ctx context.Context, run RunFunc, telemetry *ChannelTelemetry) (framework.LoopResult, error) {
	if run == nil {
		return framework.LoopResult{}, fmt.Errorf("run function is required")
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	model := NewModel(telemetry)
	model.run = run
	model.ctx = sessionCtx
	model.cancel = cancel
	program := tea.NewProgram(model, tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return framework.LoopResult{}, err
	}
	m, ok := final.(Model)
	if !ok || m.result == nil {
		return framework.LoopResult{State: framework.StateCancelled, Message: "repair cancelled"}, nil
	}
	return *m.result, nil
}

// Model implements tea.Model for the repair progress view.
type Model struct {
	spinner spinner.Model
	events  <-chan framework.Event

	ctx    context.Context
	cancel context.CancelFunc
	run    RunFunc

	sessionID string
	state     framework.LoopState
	iteration int
	maxIter   int
	started   time.Time
	feed      []string
	result    *framework.LoopResult
	width     int
}

// NewModel builds a model reading events from telemetry.
func NewModel(telemetry *ChannelTelemetry) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = inProgressStyle
	m := Model{
		spinner: sp,
		state:   framework.StateGenerating,
		started: time.Now(),
	}
	if telemetry != nil {
		m.events = telemetry.Events()
	}
	return m
}

// Init starts the spinner, the event listener and the session itself.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, listenLoopEvents(m.events)}
	if m.run != nil {
		run, ctx := m.run, m.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		cmds = append(cmds, func() tea.Msg {
			return loopDoneMsg{result: run(ctx)}
		})
	}
	return tea.Batch(cmds...)
}

// Update handles key presses, loop events and completion.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel()
			}
			if m.result != nil {
				return m, tea.Quit
			}
			m.appendFeed(failedStyle.Render("cancelling..."))
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case loopEventMsg:
		m.apply(msg.event)
		return m, listenLoopEvents(m.events)
	case loopDoneMsg:
		result := msg.result
		m.result = &result
		m.state = result.State
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one telemetry event into the view state.
func (m *Model) apply(event framework.Event) {
	if event.SessionID != "" {
		m.sessionID = event.SessionID
	}
	if event.Iteration > 0 {
		m.iteration = event.Iteration
	}
	switch event.Type {
	case framework.EventLoopStart:
		if n, ok := event.Metadata["max_iterations"].(int); ok {
			m.maxIter = n
		}
		m.appendFeed(dimStyle.Render(event.Message))
	case framework.EventStateChange:
		m.state = event.State
	case framework.EventFileWritten:
		m.appendFeed(completedStyle.Render("✓ wrote ") + filePathStyle.Render(event.Message))
	case framework.EventWriteFailed:
		m.appendFeed(failedStyle.Render("✗ write failed ") + filePathStyle.Render(event.Message))
	case framework.EventTestRun:
		line := fmt.Sprintf("ran tests in %s", event.Message)
		if code, ok := event.Metadata["exit_code"].(int); ok {
			line += fmt.Sprintf(" (exit %d)", code)
		}
		m.appendFeed(dimStyle.Render(line))
	case framework.EventIterationFinish:
		style := inProgressStyle
		if passed, _ := event.Metadata["passed"].(bool); passed {
			style = completedStyle
		}
		m.appendFeed(style.Render(fmt.Sprintf("iteration %d: %s", event.Iteration, event.Message)))
	case framework.EventCorrection:
		m.appendFeed(dimStyle.Render("engine: " + event.Message))
	case framework.EventLoopFinish:
		m.state = event.State
	}
}

func (m *Model) appendFeed(line string) {
	m.feed = append(m.feed, line)
	if len(m.feed) > maxFeedLines {
		m.feed = m.feed[len(m.feed)-maxFeedLines:]
	}
}

// View renders the header, feed and status bar, or the summary when done.
func (m Model) View() string {
	if m.result != nil {
		return RenderSummary(*m.result) + "\n"
	}
	header := headerStyle.Render("testforge") + " " + dimStyle.Render(m.sessionID)
	progress := fmt.Sprintf("%s %s", m.spinner.View(), m.state)
	if m.iteration > 0 {
		if m.maxIter > 0 {
			progress += fmt.Sprintf("  iteration %d/%d", m.iteration, m.maxIter)
		} else {
			progress += fmt.Sprintf("  iteration %d", m.iteration)
		}
	}
	status := statusStyle.Render(fmt.Sprintf("⏱️  %s | q to cancel", formatDuration(time.Since(m.started))))
	return lipgloss.JoinVertical(lipgloss.Left, header, progress, strings.Join(m.feed, "\n"), status)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return d.Round(time.Second).String()
}
