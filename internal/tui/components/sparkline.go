// Package components has small widgets shared by the terminal views.
package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline is a one-row scrolling chart scaled to the visible maximum.
type Sparkline struct {
	Data  []uint64
	Width int
	Max   uint64
	Style lipgloss.Style
	Label string
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Style: style,
		Data:  make([]uint64, 0, width),
	}
}

func (s *Sparkline) Add(val uint64) {
	s.Data = append(s.Data, val)
	if len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}
	s.Max = 0
	for _, v := range s.Data {
		s.Max = max(s.Max, v)
	}
}

// Resize keeps the newest points that fit.
func (s *Sparkline) Resize(width int) {
	s.Width = width
	if len(s.Data) > width {
		s.Data = s.Data[len(s.Data)-width:]
	}
}

// Graph renders the bars without label or padding.
func (s Sparkline) Graph() string {
	var b strings.Builder
	for _, v := range s.Data {
		if s.Max == 0 {
			b.WriteString(levels[0])
			continue
		}
		idx := int(float64(v) / float64(s.Max) * float64(len(levels)-1))
		b.WriteString(levels[max(0, min(idx, len(levels)-1))])
	}
	return b.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	graph := s.Graph()
	if pad := s.Width - len(s.Data); pad > 0 {
		graph += strings.Repeat(" ", pad)
	}
	return s.Style.Render(s.Label) + "\n" + s.Style.Render(graph)
}
