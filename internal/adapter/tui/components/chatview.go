package components

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ChatViewModel shows the transcript in a scrolling viewport. It follows new
// output while the user is at the bottom and stays put once they scroll up.
type ChatViewModel struct {
	Transcript
	vp     viewport.Model
	sized  bool
	follow bool
}

// NewChatView creates a chat view. The viewport is created on the first
// SetSize.
func NewChatView() ChatViewModel {
	return ChatViewModel{follow: true}
}

// SetLimit caps the number of entries kept. 0 keeps everything.
func (m *ChatViewModel) SetLimit(n int) { m.limit = n }

// SetSize resizes the viewport and re-renders at the new width.
func (m *ChatViewModel) SetSize(w, h int) {
	m.setWidth(w)
	if !m.sized {
		m.vp = viewport.New(w, h)
		m.vp.MouseWheelEnabled = true
		m.vp.MouseWheelDelta = 3
		m.sized = true
	} else {
		m.vp.Width, m.vp.Height = w, h
	}
	m.refresh()
}

// AddMessage appends an entry.
func (m *ChatViewModel) AddMessage(msg ChatMessage) {
	m.add(msg)
	m.refresh()
}

// UpdateLastMessage replaces the newest entry's content.
func (m *ChatViewModel) UpdateLastMessage(content string) {
	if last := m.last(); last != nil {
		last.Content, last.rendered = content, ""
		m.refresh()
	}
}

// SetLastToolCalls replaces the newest entry's tool summary.
func (m *ChatViewModel) SetLastToolCalls(calls []ToolCallSummary) {
	if last := m.last(); last != nil {
		last.ToolCalls = calls
		m.refresh()
	}
}

// LastMessage returns the newest entry, or false when there is none.
func (m ChatViewModel) LastMessage() (ChatMessage, bool) {
	if last := m.last(); last != nil {
		return *last, true
	}
	return ChatMessage{}, false
}

// Clear empties the transcript.
func (m *ChatViewModel) Clear() {
	m.clear()
	m.follow = true
	m.refresh()
}

// Update scrolls the viewport.
func (m ChatViewModel) Update(msg tea.Msg) (ChatViewModel, tea.Cmd) {
	if !m.sized {
		return m, nil
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	m.follow = m.vp.AtBottom()
	return m, cmd
}

// View renders the viewport.
func (m ChatViewModel) View() string {
	if !m.sized {
		return "  Initializing..."
	}
	return m.vp.View()
}

func (m *ChatViewModel) refresh() {
	if !m.sized {
		return
	}
	m.vp.SetContent(m.view())
	if m.follow {
		m.vp.GotoBottom()
	}
}
