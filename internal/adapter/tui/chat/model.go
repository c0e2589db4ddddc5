package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"switchboard/internal/adapter/tui/components"
	"switchboard/internal/adapter/tui/theme"
	"switchboard/internal/adapter/tui/uxerror"
	"switchboard/internal/domain"
	"switchboard/internal/usecase"
)

// Router answers a message. *usecase.Orchestrator implements it.
type Router interface {
	Process(ctx context.Context, input string, history []domain.Message, opts usecase.ProcessOptions) (domain.Result, error)
	Agents() []domain.AgentDescriptor
	ClearHistory()
}

// ChatModelDeps are dependencies injected into the chat model.
type ChatModelDeps struct {
	Router Router
	Logger *slog.Logger
	Stream bool   // request streamed replies
	Model  string // model name shown in the status bar
}

// ChatModel is the root Bubble Tea model for the chat REPL.
type ChatModel struct {
	deps ChatModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	// history is the conversation passed to the orchestrator. It only
	// grows when a request completes.
	history *usecase.History
	stream  bool

	width    int
	height   int
	quitting bool

	// Request lifecycle: gen is incremented on every new request and on
	// cancel. Messages tagged with an older gen are discarded.
	gen      uint64
	cancelFn context.CancelFunc
	inbox    <-chan tea.Msg

	// State of the in-flight request.
	waiting   bool
	status    string
	pending   string
	agent     string
	streaming bool
	streamed  string
	failed    bool
	tools     []components.ToolCallSummary
	toolStart map[string]time.Time
}

// NewChatModel creates the root chat model.
func NewChatModel(deps ChatModelDeps) ChatModel {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.ModelName = deps.Model
	sb.Hints = defaultHints()

	chatView := components.NewChatView()
	chatView.SetLimit(1000)

	m := ChatModel{
		deps:      deps,
		chatView:  chatView,
		input:     components.NewInputArea(),
		statusBar: sb,
		spinner:   s,
		history:   usecase.NewHistory(),
		stream:    deps.Stream,
		toolStart: make(map[string]time.Time),
	}
	m.statusBar.Extra = m.modeLabel()
	return m
}

// History returns a copy of the conversation sent to the orchestrator.
func (m ChatModel) History() []domain.Message {
	return m.history.Messages()
}

// Init starts the spinner.
func (m ChatModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case progressMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.status = msg.Status
		if name, ok := strings.CutPrefix(msg.Status, usecase.SelectedAgentStatus); ok {
			m.agent = name
			m.statusBar.AgentName = name
		}
		return m, waitFor(m.inbox, m.gen)

	case replyMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.handleReply(msg)
		return m, waitFor(m.inbox, m.gen)

	case streamEventMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.handleStreamEvent(msg.Event)
		return m, waitFor(m.inbox, m.gen)

	case requestDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		if m.streaming && !m.failed {
			m.commit(m.streamed)
		}
		m.finish()
		return m, nil

	case QuitMsg:
		m.quitting = true
		m.cancelInFlight()
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	return m, cmd
}

// View renders the entire chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		status := m.status
		if status == "" {
			status = "Thinking" + theme.SymbolEllipsis
		}
		inputView = theme.Dim.Render("> waiting for response (Ctrl+C to cancel)") +
			"\n" + m.spinner.View() + " " + status
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

func (m *ChatModel) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := max(m.height-inputH-statusH-dividerH, 5)

	m.statusBar.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelRequest("Request cancelled.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlL:
		return m.handleSlashCommand("/clear", nil)

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit sends value to the router, or runs it as a slash command.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := parseSlash(value); ok {
		return m.handleSlashCommand(cmd, args)
	}
	if m.waiting {
		return m, nil
	}

	m.chatView.AddMessage(components.ChatMessage{
		Role:      components.RoleUser,
		Content:   value,
		Timestamp: time.Now(),
	})

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel
	m.inbox = startRequest(ctx, m.deps.Router, value, m.history.Messages(), m.stream, m.gen)

	m.resetRequest()
	m.waiting = true
	m.pending = value
	m.input.SetEnabled(false)

	m.deps.Logger.Debug("chat request", "gen", m.gen, "stream", m.stream, "history", m.history.Len())
	return m, waitFor(m.inbox, m.gen)
}

func (m *ChatModel) handleReply(msg replyMsg) {
	if msg.Err != nil {
		m.showError(msg.Err)
		return
	}

	switch msg.Result.Kind {
	case domain.ResultStream:
		m.streaming = true
		m.addAssistant("")
	case domain.ResultStructured:
		m.addAssistant(formatStructured(msg.Result.Response))
		if msg.Result.Response != nil {
			m.commit(msg.Result.Response.Text)
		}
	default:
		m.addAssistant(msg.Result.Text)
		m.commit(msg.Result.Text)
	}
}

func (m *ChatModel) handleStreamEvent(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.StreamEventTextDelta:
		m.streamed += ev.Text
		m.chatView.UpdateLastMessage(m.streamed)

	case domain.StreamEventToolCall:
		if ev.ToolCall == nil {
			return
		}
		m.toolStart[ev.ToolCall.ID] = time.Now()
		m.tools = append(m.tools, components.ToolCallSummary{Name: ev.ToolCall.Name})
		m.status = "Calling " + ev.ToolCall.Name + theme.SymbolEllipsis
		m.chatView.SetLastToolCalls(append([]components.ToolCallSummary(nil), m.tools...))

	case domain.StreamEventToolResult:
		if ev.ToolResult == nil {
			return
		}
		if start, ok := m.toolStart[ev.ToolResult.ToolCallID]; ok {
			delete(m.toolStart, ev.ToolResult.ToolCallID)
			for i := len(m.tools) - 1; i >= 0; i-- {
				if m.tools[i].Name == ev.ToolResult.Name && m.tools[i].Duration == 0 {
					m.tools[i].Duration = time.Since(start)
					break
				}
			}
		}
		m.chatView.SetLastToolCalls(append([]components.ToolCallSummary(nil), m.tools...))

	case domain.StreamEventStepFinish:
		m.status = "Thinking" + theme.SymbolEllipsis

	case domain.StreamEventError:
		if len(m.tools) > 0 {
			m.tools[len(m.tools)-1].IsError = true
			m.chatView.SetLastToolCalls(append([]components.ToolCallSummary(nil), m.tools...))
		}
		m.showError(ev.Err)
	}
}

func (m *ChatModel) showError(err error) {
	m.failed = true
	if errors.Is(err, context.Canceled) {
		return
	}
	m.deps.Logger.Warn("chat request failed", "error", err, "code", domain.ErrorCodeOf(err))
	m.chatView.AddMessage(components.ChatMessage{
		Role:    components.RoleError,
		Content: uxerror.Humanize(err).Render(),
	})
}

func (m *ChatModel) addAssistant(content string) {
	m.chatView.AddMessage(components.ChatMessage{
		Role:      components.RoleAssistant,
		Agent:     m.agent,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// commit records the finished exchange in the history.
func (m *ChatModel) commit(reply string) {
	if strings.TrimSpace(reply) == "" {
		return
	}
	m.history.Append(
		domain.Message{Role: domain.RoleUser, Content: m.pending},
		domain.Message{Role: domain.RoleAssistant, Content: reply},
	)
}

func (m *ChatModel) handleSlashCommand(cmd string, _ []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.system(`Available commands:
  /help      - Show this help
  /agents    - List the agents messages are routed to
  /stream    - Toggle streamed replies
  /clear     - Clear the conversation
  /cancel    - Cancel the active request
  /quit      - Exit

Keybindings:
  Enter      - Send message
  Alt+Enter  - New line
  Ctrl+L     - Clear conversation
  Ctrl+C     - Cancel/Quit
  PgUp/PgDn  - Scroll chat`)
		return *m, nil

	case "/quit", "/exit":
		m.quitting = true
		m.cancelInFlight()
		return *m, tea.Quit

	case "/agents":
		var sb strings.Builder
		sb.WriteString("Agents:")
		for _, a := range m.deps.Router.Agents() {
			fmt.Fprintf(&sb, "\n  %s %s: %s", theme.SymbolBullet, a.Name(), a.Description())
		}
		m.system(sb.String())
		return *m, nil

	case "/stream":
		m.stream = !m.stream
		m.statusBar.Extra = m.modeLabel()
		m.system("Streaming " + onOff(m.stream) + ".")
		return *m, nil

	case "/clear":
		if m.waiting {
			m.cancelRequest("Request cancelled.")
		}
		m.chatView.Clear()
		m.history.Clear()
		m.deps.Router.ClearHistory()
		m.statusBar.AgentName = ""
		m.system(theme.SymbolSuccess + " Conversation cleared.")
		return *m, nil

	case "/cancel":
		if m.waiting {
			m.cancelRequest("Request cancelled.")
		} else {
			m.system("No active request to cancel.")
		}
		return *m, nil

	default:
		m.system(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
		return *m, nil
	}
}

func (m *ChatModel) system(content string) {
	m.chatView.AddMessage(components.ChatMessage{Role: components.RoleSystem, Content: content})
}

// cancelRequest cancels the in-flight request and bumps the generation so
// its remaining messages are discarded.
func (m *ChatModel) cancelRequest(reason string) {
	m.cancelInFlight()
	m.gen++
	m.finish()
	m.system(reason)
}

func (m *ChatModel) cancelInFlight() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
}

func (m *ChatModel) finish() {
	m.cancelInFlight()
	m.inbox = nil
	m.waiting = false
	m.input.SetEnabled(true)
	m.resetRequest()
}

func (m *ChatModel) resetRequest() {
	m.status = ""
	m.pending = ""
	m.agent = ""
	m.streaming = false
	m.streamed = ""
	m.failed = false
	m.tools = nil
	m.toolStart = make(map[string]time.Time)
}

func (m ChatModel) modeLabel() string {
	if m.stream {
		return "stream"
	}
	return ""
}

// formatStructured renders a reply that stopped at tool calls as markdown.
func formatStructured(resp *domain.GenerationResponse) string {
	if resp == nil {
		return "_(empty response)_"
	}

	var sb strings.Builder
	if text := strings.TrimSpace(resp.Text); text != "" {
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	if step := resp.LastStep(); step != nil {
		for _, tc := range step.ToolCalls {
			fmt.Fprintf(&sb, "**%s** requested:\n\n```json\n%s\n```\n\n", tc.Name, prettyJSON(tc.Arguments))
		}
	}
	if sb.Len() == 0 {
		return fmt.Sprintf("_(no text, finish reason %s)_", resp.FinishReason)
	}
	return strings.TrimSpace(sb.String())
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Alt+Enter", Desc: "Newline"},
		{Key: "/help", Desc: "Commands"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
