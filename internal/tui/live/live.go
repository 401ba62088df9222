// Package live is the full-screen dashboard shown while a run is in flight.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"usagegen/internal/stats"
	"usagegen/internal/tui/components"
	"usagegen/internal/tui/styles"
)

const tickInterval = 250 * time.Millisecond

type tickMsg time.Time

// Model polls the run state on a timer. Pressing q asks the run to stop;
// the dashboard closes once every test has drained.
type Model struct {
	State   *stats.RunState
	Planned int
	Tests   []string

	done   <-chan struct{}
	cancel func()

	Progress    progress.Model
	RpsLine     components.Sparkline
	LatencyLine components.Sparkline

	Snap         stats.Snapshot
	lastAttempts uint64
	lastTick     time.Time

	Stopping bool
	Finished bool
	Width    int
}

func NewModel(state *stats.RunState, planned int, tests []string, done <-chan struct{}, cancel func()) Model {
	return Model{
		State:       state,
		Planned:     planned,
		Tests:       tests,
		done:        done,
		cancel:      cancel,
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "Requests/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Service time P90 (ms)", styles.Warn),
		lastTick:    state.Start(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		now := time.Time(msg)
		m = m.observe(now)
		select {
		case <-m.done:
			m.Finished = true
			return m, tea.Quit
		default:
		}
		var cmd tea.Cmd
		if m.Planned > 0 {
			cmd = m.Progress.SetPercent(min(1, float64(m.Snap.Attempted)/float64(m.Planned)))
		}
		return m, tea.Batch(cmd, tick())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.Stopping {
				return m, tea.Quit
			}
			m.Stopping = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Progress.Width = max(10, msg.Width-4)
		half := max(10, msg.Width/2-6)
		m.RpsLine.Resize(half)
		m.LatencyLine.Resize(half)
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m Model) observe(now time.Time) Model {
	snap := m.State.Snapshot(now)
	dt := max(now.Sub(m.lastTick).Seconds(), 0.01)
	rps := float64(snap.Attempted-m.lastAttempts) / dt

	m.RpsLine.Add(uint64(rps))
	m.LatencyLine.Add(uint64(snap.P90.Milliseconds()))
	m.Snap = snap
	m.lastAttempts = snap.Attempted
	m.lastTick = now
	return m
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(styles.Title.Render("usagegen: " + strings.Join(m.Tests, ", ")))
	s.WriteString("\n\n")

	errRate := 0.0
	if m.Snap.Attempted > 0 {
		errRate = float64(m.Snap.Failed) / float64(m.Snap.Attempted) * 100
	}
	sent := fmt.Sprintf("SENT: %d", m.Snap.Attempted)
	if m.Planned > 0 {
		sent += fmt.Sprintf("/%d", m.Planned)
	}
	col1 := fmt.Sprintf("%s\nOK: %d", sent, m.Snap.Succeeded)
	col2 := fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, m.Snap.Failed)
	col3 := fmt.Sprintf("TIME: %s\nKB: %d", m.Snap.Elapsed.Round(time.Second), m.Snap.Bytes/1024)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(styles.ErrorRate(errRate).Render(col2)),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	if m.Planned > 0 {
		s.WriteString(m.Progress.View())
		s.WriteString("\n\n")
	}

	switch {
	case m.Finished:
		s.WriteString(styles.Success.Render("done"))
	case m.Stopping:
		s.WriteString(styles.Warn.Render("stopping, waiting for in-flight requests..."))
		s.WriteString("  ")
		s.WriteString(styles.RenderKey("q", "quit now"))
	default:
		s.WriteString(styles.RenderKey("q", "stop run"))
	}
	s.WriteString("\n")
	return s.String()
}

// Run shows the dashboard until the run finishes, the user quits twice, or
// ctx ends.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
