// Package history is an interactive table of saved runs.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"usagegen/internal/storage"
	"usagegen/internal/tui/styles"
)

type Model struct {
	Records []storage.Record
	Table   table.Model

	// Detail is the record opened with enter, if any.
	Detail *storage.Record
	Width  int
}

func NewModel(recs []storage.Record) Model {
	columns := []table.Column{
		{Title: "Time", Width: 19},
		{Title: "Stage", Width: 6},
		{Title: "Reqs", Width: 8},
		{Title: "Errors", Width: 8},
		{Title: "Secs", Width: 8},
		{Title: "Tests", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(min(max(len(recs), 1), 15)),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	rows := make([]table.Row, len(recs))
	for i, r := range recs {
		rows[i] = table.Row{
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Stage,
			fmt.Sprintf("%d", r.Summary.Attempted),
			fmt.Sprintf("%d", r.Summary.Failed),
			fmt.Sprintf("%.1f", r.Summary.Elapsed.Seconds()),
			strings.Join(r.Tests, ","),
		}
	}
	t.SetRows(rows)

	return Model{Records: recs, Table: t}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Table.SetWidth(msg.Width - 4)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.Detail = nil
			return m, nil
		case "enter":
			if i := m.Table.Cursor(); i >= 0 && i < len(m.Records) {
				rec := m.Records[i]
				m.Detail = &rec
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Detail != nil {
		return styles.Box.Render(detail(*m.Detail)) + "\n" + styles.RenderKey("esc", "back") + "  " + styles.RenderKey("q", "quit") + "\n"
	}
	return styles.Box.Render(m.Table.View()) + "\n" + styles.RenderKey("enter", "details") + "  " + styles.RenderKey("q", "quit") + "\n"
}

func detail(r storage.Record) string {
	var b strings.Builder
	sum := r.Summary
	fmt.Fprintf(&b, "%s\n\n", styles.Title.Render(r.ID))
	fmt.Fprintf(&b, "%s\n", sum.Line())
	fmt.Fprintf(&b, "P50 %s  P90 %s  P99 %s  Max %s\n\n",
		sum.P50.Round(time.Millisecond), sum.P90.Round(time.Millisecond),
		sum.P99.Round(time.Millisecond), sum.Max.Round(time.Millisecond))

	for _, name := range sum.Tests() {
		c := sum.PerTest[name]
		fmt.Fprintf(&b, "%-28s %6d sent %6d failed\n", name, c.Attempted, c.Failed)
	}
	for _, e := range sum.TopErrors() {
		fmt.Fprintf(&b, "%s\n", styles.Error.Render(fmt.Sprintf("%d x %s", e.Count, e.Key)))
	}
	return b.String()
}

// Run shows the table until the user quits.
func Run(recs []storage.Record) error {
	_, err := tea.NewProgram(NewModel(recs)).Run()
	return err
}
