package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"switchboard/internal/adapter/tui/theme"
)

// KeyHint is a key and what it does.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel is the bottom line: who is answering on the left, key
// hints and transient status on the right.
type StatusBarModel struct {
	AgentName string
	ModelName string
	Extra     string
	Hints     []KeyHint
	width     int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel { return StatusBarModel{} }

// SetWidth sets the rendered width.
func (m *StatusBarModel) SetWidth(w int) { m.width = w }

// View renders the bar on one line. Hints are dropped from the end until
// the line fits.
func (m StatusBarModel) View() string {
	var who []string
	for _, s := range []string{m.AgentName, m.ModelName} {
		if s != "" {
			who = append(who, s)
		}
	}
	left := theme.TextMuted.Render(strings.Join(who, " "+theme.SymbolBullet+" "))
	if m.Extra != "" {
		if left != "" {
			left += "  "
		}
		left += theme.TextInfo.Render(m.Extra)
	}

	hints := m.Hints
	for {
		right := renderHints(hints)
		gap := m.width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
		if gap >= 1 || len(hints) == 0 {
			return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", max(gap, 1)) + right)
		}
		hints = hints[:len(hints)-1]
	}
}

func renderHints(hints []KeyHint) string {
	parts := make([]string, len(hints))
	for i, h := range hints {
		parts[i] = theme.StatusKey.Render(h.Key) + " " + h.Desc
	}
	return strings.Join(parts, "  ")
}
