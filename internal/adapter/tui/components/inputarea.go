package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"switchboard/internal/adapter/tui/theme"
)

// InputSubmitMsg carries the trimmed text submitted with Enter.
type InputSubmitMsg struct {
	Value string
}

// InputAreaModel is the message editor. Enter submits; Alt+Enter and
// Ctrl+J insert a newline.
type InputAreaModel struct {
	Textarea textarea.Model
	Enabled  bool
}

// NewInputArea creates a focused, enabled editor.
func NewInputArea() InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Ask a question, or /help"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputAreaModel{Textarea: ta, Enabled: true}
}

// SetWidth sets the editor width.
func (m *InputAreaModel) SetWidth(w int) { m.Textarea.SetWidth(max(w-2, 1)) }

// SetEnabled toggles input. A disabled editor ignores every message.
func (m *InputAreaModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
	} else {
		m.Textarea.Blur()
	}
}

// Value returns the current text.
func (m InputAreaModel) Value() string { return m.Textarea.Value() }

// Update edits the text, or submits it on a plain Enter.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.MouseMsg:
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyEnter && !msg.Alt {
			value := strings.TrimSpace(m.Textarea.Value())
			if value == "" {
				return m, nil
			}
			m.Textarea.Reset()
			return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)
	return m, cmd
}

// View renders the editor.
func (m InputAreaModel) View() string { return m.Textarea.View() }
