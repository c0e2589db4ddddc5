package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"switchboard/internal/adapter/tui/theme"
)

// MessageRole identifies who a transcript entry is from.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleError     MessageRole = "error"
)

// ToolCallSummary is a tool the agent called while producing a reply.
type ToolCallSummary struct {
	Name     string
	Duration time.Duration
	IsError  bool
}

// ChatMessage is one transcript entry.
type ChatMessage struct {
	Role      MessageRole
	Content   string
	Agent     string // assistant entries: the agent that answered
	ToolCalls []ToolCallSummary
	Timestamp time.Time

	rendered string // cached markdown; cleared whenever Content or width changes
}

// Transcript is the ordered list of entries and their rendering. With a
// positive limit the oldest entries are dropped.
type Transcript struct {
	entries []ChatMessage
	limit   int
	dropped int
	width   int
	md      *glamour.TermRenderer
}

// Len returns the number of entries.
func (t *Transcript) Len() int { return len(t.entries) }

// Entries returns the entries, oldest first. The slice must not be modified.
func (t *Transcript) Entries() []ChatMessage { return t.entries }

func (t *Transcript) setWidth(w int) {
	if w == t.width {
		return
	}
	t.width, t.md = w, nil
	for i := range t.entries {
		t.entries[i].rendered = ""
	}
}

func (t *Transcript) add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	t.entries = append(t.entries, msg)
	if t.limit > 0 && len(t.entries) > t.limit {
		n := len(t.entries) - t.limit
		t.entries = append(t.entries[:0], t.entries[n:]...)
		t.dropped += n
	}
}

func (t *Transcript) last() *ChatMessage {
	if len(t.entries) == 0 {
		return nil
	}
	return &t.entries[len(t.entries)-1]
}

func (t *Transcript) clear() {
	t.entries, t.dropped = nil, 0
}

func (t *Transcript) view() string {
	if len(t.entries) == 0 {
		return theme.TextMuted.Render("  Ask anything. Each message is routed to the best agent.")
	}

	width := ContentWidth(t.width)
	blocks := make([]string, 0, len(t.entries)+1)
	if t.dropped > 0 {
		blocks = append(blocks, theme.TextMuted.Render(fmt.Sprintf("  (%d earlier messages not shown)", t.dropped)))
	}
	for i := range t.entries {
		blocks = append(blocks, t.render(&t.entries[i], width))
	}
	return strings.Join(blocks, "\n\n")
}

// render lays an entry out as a header line, the tools it used, and an
// indented body.
func (t *Transcript) render(msg *ChatMessage, width int) string {
	var b strings.Builder
	b.WriteString(label(msg))
	b.WriteString(" " + theme.Timestamp.Render(msg.Timestamp.Format("15:04")))

	for _, tc := range msg.ToolCalls {
		b.WriteString("\n" + toolLine(tc))
	}

	var body string
	switch msg.Role {
	case RoleAssistant:
		if msg.rendered == "" {
			msg.rendered = t.markdown(msg.Content, width)
		}
		body = strings.Trim(msg.rendered, "\n")
	case RoleError:
		body = theme.TextError.Render(indent(wrap(msg.Content, width-2)))
	default:
		body = indent(wrap(msg.Content, width-2))
	}
	if strings.TrimSpace(body) != "" {
		b.WriteString("\n" + body)
	}
	return b.String()
}

func label(msg *ChatMessage) string {
	switch msg.Role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		name := msg.Agent
		if name == "" {
			name = theme.SymbolBot
		}
		return theme.BotLabel.Render(name)
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	default:
		return theme.TextMuted.Render(string(msg.Role))
	}
}

func toolLine(tc ToolCallSummary) string {
	mark := theme.TextSuccess.Render(theme.SymbolSuccess)
	if tc.IsError {
		mark = theme.TextError.Render(theme.SymbolError)
	}
	line := "  " + mark + " " + theme.ToolLabel.Render(tc.Name)
	if tc.Duration > 0 {
		line += " " + theme.TextMuted.Render(tc.Duration.Round(time.Millisecond).String())
	}
	return line
}

func (t *Transcript) markdown(content string, width int) string {
	if t.md == nil {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err != nil {
			return indent(content)
		}
		t.md = r
	}
	out, err := t.md.Render(content)
	if err != nil {
		return indent(content)
	}
	return out
}

// wrap breaks s into lines of at most width runes, preferring spaces.
func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			cut := width
			for i := width; i > 0; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
			lines = append(lines, string(runes[:cut]))
			runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
		}
		lines = append(lines, string(runes))
	}
	return strings.Join(lines, "\n")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// ContentWidth is the width messages are rendered at for a terminal width.
func ContentWidth(termWidth int) int {
	return theme.Clamp(termWidth-4, 40, theme.MaxContentWidth)
}

// Divider renders a horizontal rule.
func Divider(width int) string {
	return lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("─", max(width, 0)))
}
