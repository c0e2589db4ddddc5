package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/adapter/tui/components"
	"switchboard/internal/domain"
	"switchboard/internal/usecase"
)

type agentDesc struct{ name, desc string }

func (a agentDesc) Name() string        { return a.name }
func (a agentDesc) Description() string { return a.desc }

type routerCall struct {
	input   string
	history []domain.Message
	stream  bool
}

type mockRouter struct {
	mu     sync.Mutex
	agent  string
	result domain.Result
	err    error
	block  bool
	calls  []routerCall
	clears int
}

func (r *mockRouter) Process(ctx context.Context, input string, history []domain.Message, opts usecase.ProcessOptions) (domain.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, routerCall{input: input, history: history, stream: opts.Stream})
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return domain.Result{}, ctx.Err()
	}
	opts.OnUpdate.Emit("Analyzing agents")
	opts.OnUpdate.Emit(usecase.SelectedAgentStatus + r.agent)
	return r.result, r.err
}

func (r *mockRouter) Agents() []domain.AgentDescriptor {
	return []domain.AgentDescriptor{
		agentDesc{"weather-agent", "forecasts"},
		agentDesc{"calculator-agent", "arithmetic"},
	}
}

func (r *mockRouter) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *mockRouter) seen() []routerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]routerCall(nil), r.calls...)
}

type fakeStream struct{ events []domain.StreamEvent }

func (s fakeStream) ID() string { return "stream-1" }

func (s fakeStream) Events() <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (s fakeStream) Wait() (*domain.GenerationResponse, error) { return &domain.GenerationResponse{}, nil }

func newModel(r *mockRouter) ChatModel {
	m := NewChatModel(ChatModelDeps{Router: r, Model: "gpt-test"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(ChatModel)
}

// drive feeds msg to m and keeps running the returned commands until the
// model stops asking for more.
func drive(t *testing.T, m ChatModel, msg tea.Msg) ChatModel {
	t.Helper()
	for range 100 {
		next, cmd := m.Update(msg)
		m = next.(ChatModel)
		if cmd == nil {
			return m
		}
		msg = cmd()
	}
	t.Fatal("model did not settle")
	return m
}

func lastMessage(t *testing.T, m ChatModel) components.ChatMessage {
	t.Helper()
	msg, ok := m.chatView.LastMessage()
	require.True(t, ok)
	return msg
}

func TestChat_TextReply(t *testing.T) {
	r := &mockRouter{agent: "calculator-agent", result: domain.TextResult("2 + 2 = 4")}
	m := drive(t, newModel(r), components.InputSubmitMsg{Value: "what is 2+2"})

	assert.False(t, m.waiting)
	last := lastMessage(t, m)
	assert.Equal(t, components.RoleAssistant, last.Role)
	assert.Equal(t, "calculator-agent", last.Agent)
	assert.Equal(t, "2 + 2 = 4", last.Content)
	assert.Equal(t, "calculator-agent", m.statusBar.AgentName)

	hist := m.History()
	require.Len(t, hist, 2)
	assert.Equal(t, domain.RoleUser, hist[0].Role)
	assert.Equal(t, "what is 2+2", hist[0].Content)
	assert.Equal(t, domain.RoleAssistant, hist[1].Role)
	assert.Equal(t, "2 + 2 = 4", hist[1].Content)
}

func TestChat_HistoryIsPassedToRouter(t *testing.T) {
	r := &mockRouter{agent: "calculator-agent", result: domain.TextResult("4")}
	m := drive(t, newModel(r), components.InputSubmitMsg{Value: "what is 2+2"})
	m = drive(t, m, components.InputSubmitMsg{Value: "and times 3?"})

	calls := r.seen()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].history)
	require.Len(t, calls[1].history, 2)
	assert.Equal(t, "what is 2+2", calls[1].history[0].Content)
	assert.Equal(t, "and times 3?", calls[1].input)
	assert.Len(t, m.History(), 4)
}

func TestChat_ErrorReply(t *testing.T) {
	r := &mockRouter{
		agent: "calculator-agent",
		err: &domain.AgentProcessingError{
			Agent: "calculator-agent",
			Err:   domain.NewExecutionError("calculator", errors.New("division by zero")),
		},
	}
	m := drive(t, newModel(r), components.InputSubmitMsg{Value: "10 / 0"})

	last := lastMessage(t, m)
	assert.Equal(t, components.RoleError, last.Role)
	assert.Contains(t, last.Content, "Tool Failed")
	assert.Contains(t, last.Content, "division by zero")
	assert.Empty(t, m.History())
	assert.False(t, m.waiting)
}

func TestChat_StructuredReply(t *testing.T) {
	resp := &domain.GenerationResponse{
		FinishReason: domain.FinishToolCalls,
		Steps: []domain.GenerationStep{{
			ToolCalls: []domain.ToolCall{{ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"operation":"add","a":2,"b":2}`)}},
		}},
	}
	r := &mockRouter{agent: "calculator-agent", result: domain.StructuredResult(resp)}
	m := drive(t, newModel(r), components.InputSubmitMsg{Value: "2+2"})

	last := lastMessage(t, m)
	assert.Contains(t, last.Content, "**calculator** requested")
	assert.Contains(t, last.Content, `"operation": "add"`)
	assert.Empty(t, m.History(), "no text to remember")
}

func TestChat_StreamedReply(t *testing.T) {
	stream := fakeStream{events: []domain.StreamEvent{
		{Type: domain.StreamEventToolCall, ToolCall: &domain.ToolCall{ID: "c1", Name: "calculator"}},
		{Type: domain.StreamEventToolResult, ToolResult: &domain.ToolResultRecord{ToolCallID: "c1", Name: "calculator"}},
		{Type: domain.StreamEventStepFinish},
		{Type: domain.StreamEventTextDelta, Text: "2 + 2 "},
		{Type: domain.StreamEventTextDelta, Text: "= 4"},
		{Type: domain.StreamEventFinish, FinishReason: domain.FinishStop},
	}}
	r := &mockRouter{agent: "calculator-agent", result: domain.StreamResult(stream)}

	m := drive(t, newModel(r), components.InputSubmitMsg{Value: "/stream"})
	assert.True(t, m.stream)
	m = drive(t, m, components.InputSubmitMsg{Value: "what is 2+2"})

	calls := r.seen()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].stream)

	last := lastMessage(t, m)
	assert.Equal(t, components.RoleAssistant, last.Role)
	assert.Equal(t, "2 + 2 = 4", last.Content)
	require.Len(t, last.ToolCalls, 1)
	assert.Equal(t, "calculator", last.ToolCalls[0].Name)
	assert.False(t, last.ToolCalls[0].IsError)

	hist := m.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "2 + 2 = 4", hist[1].Content)
}

func TestChat_StreamErrorIsNotRemembered(t *testing.T) {
	stream := fakeStream{events: []domain.StreamEvent{
		{Type: domain.StreamEventTextDelta, Text: "partial"},
		{Type: domain.StreamEventError, Err: fmt.Errorf("openai: %w", domain.ErrRateLimit)},
	}}
	r := &mockRouter{agent: "weather-agent", result: domain.StreamResult(stream)}
	m := newModel(r)
	m.stream = true
	m = drive(t, m, components.InputSubmitMsg{Value: "weather?"})

	last := lastMessage(t, m)
	assert.Equal(t, components.RoleError, last.Role)
	assert.Contains(t, last.Content, "Rate Limited")
	assert.Empty(t, m.History())
}

func TestChat_CancelDiscardsLateMessages(t *testing.T) {
	r := &mockRouter{block: true}
	m := newModel(r)

	next, pending := m.Update(components.InputSubmitMsg{Value: "slow question"})
	m = next.(ChatModel)
	require.NotNil(t, pending)
	assert.True(t, m.waiting)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(ChatModel)
	assert.False(t, m.waiting)
	assert.Equal(t, "Request cancelled.", lastMessage(t, m).Content)

	// Whatever the cancelled request still delivers belongs to an old
	// generation.
	next, cmd := m.Update(pending())
	m = next.(ChatModel)
	assert.Nil(t, cmd)
	assert.Equal(t, "Request cancelled.", lastMessage(t, m).Content)
	assert.Empty(t, m.History())
}

func TestChat_IgnoresStaleMessages(t *testing.T) {
	m := newModel(&mockRouter{})
	next, cmd := m.Update(progressMsg{Status: "Selected agent: ghost", Gen: 42})
	m = next.(ChatModel)

	assert.Nil(t, cmd)
	assert.Empty(t, m.statusBar.AgentName)
}

func TestChat_SlashCommands(t *testing.T) {
	r := &mockRouter{agent: "calculator-agent", result: domain.TextResult("4")}
	m := drive(t, newModel(r), components.InputSubmitMsg{Value: "2+2"})
	require.Len(t, m.History(), 2)

	m = drive(t, m, components.InputSubmitMsg{Value: "/agents"})
	agents := lastMessage(t, m).Content
	assert.Contains(t, agents, "weather-agent: forecasts")
	assert.Contains(t, agents, "calculator-agent: arithmetic")

	m = drive(t, m, components.InputSubmitMsg{Value: "/bogus"})
	assert.Contains(t, lastMessage(t, m).Content, "Unknown command: /bogus")

	m = drive(t, m, components.InputSubmitMsg{Value: "/cancel"})
	assert.Equal(t, "No active request to cancel.", lastMessage(t, m).Content)

	m = drive(t, m, components.InputSubmitMsg{Value: "/clear"})
	assert.Empty(t, m.History())
	assert.Len(t, m.chatView.Entries(), 1)
	assert.Equal(t, 1, r.clears)

	assert.Len(t, r.seen(), 1, "slash commands never reach the router")
}

func TestChat_Quit(t *testing.T) {
	m := newModel(&mockRouter{})
	next, cmd := m.Update(components.InputSubmitMsg{Value: "/quit"})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "Goodbye!\n", next.View())
}

func TestChat_ViewWhileWaiting(t *testing.T) {
	m := newModel(&mockRouter{block: true})
	next, _ := m.Update(components.InputSubmitMsg{Value: "slow question"})
	m = next.(ChatModel)
	next, _ = m.Update(progressMsg{Status: "Analyzing agents", Gen: m.gen})
	m = next.(ChatModel)

	assert.Contains(t, m.View(), "Analyzing agents")
	m.cancelInFlight()
}

func TestFormatStructured(t *testing.T) {
	assert.Equal(t, "_(empty response)_", formatStructured(nil))
	assert.Equal(t, "_(no text, finish reason stop)_", formatStructured(&domain.GenerationResponse{FinishReason: domain.FinishStop}))
	assert.Equal(t, "hello", formatStructured(&domain.GenerationResponse{Text: " hello "}))
}

func TestParseSlash(t *testing.T) {
	tests := []struct {
		input    string
		wantCmd  string
		wantArgs []string
		wantOK   bool
	}{
		{"/help", "/help", []string{}, true},
		{"  /Agents  ", "/agents", []string{}, true},
		{"/stream on", "/stream", []string{"on"}, true},
		{"what is 2+2", "", nil, false},
		{"   ", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, args, ok := parseSlash(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCmd, cmd)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

type routeTo string

func (r routeTo) Classify(context.Context, string, []domain.AgentDescriptor, []domain.Message, domain.ProgressFunc) (domain.ClassifierResult, error) {
	return domain.ClassifierResult{SelectedAgent: string(r)}, nil
}

// recordingModel answers "ok" and keeps every prompt it was sent.
type recordingModel struct {
	mu      sync.Mutex
	prompts [][]domain.Message
}

func (m *recordingModel) GenerateText(_ context.Context, msgs []domain.Message, _ domain.ModelOptions) (*domain.GenerationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, append([]domain.Message(nil), msgs...))
	return &domain.GenerationResponse{Text: "ok", FinishReason: domain.FinishStop}, nil
}

func (m *recordingModel) StreamText(context.Context, []domain.Message, domain.ModelOptions) (domain.StreamHandle, error) {
	return nil, errors.New("streaming not supported")
}

func (m *recordingModel) seen() [][]domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]domain.Message(nil), m.prompts...)
}

func TestChat_ClearResetsDelegateConversation(t *testing.T) {
	tests := []struct {
		name string
		opts []usecase.OrchestratorOption
	}{
		{"shared agents", nil},
		{"threaded sessions", []usecase.OrchestratorOption{
			usecase.WithRequestSessions(true), usecase.WithHistoryThreading(true),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &recordingModel{}
			agent, err := usecase.NewAgent(usecase.AgentConfig{Name: "calculator-agent"}, usecase.AgentDeps{Model: model})
			require.NoError(t, err)
			orch, err := usecase.NewOrchestrator(routeTo("calculator-agent"), []usecase.Processor{agent}, tt.opts...)
			require.NoError(t, err)

			m := NewChatModel(ChatModelDeps{Router: orch})
			next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
			m = next.(ChatModel)

			m = drive(t, m, components.InputSubmitMsg{Value: "2+2"})
			m = drive(t, m, components.InputSubmitMsg{Value: "and doubled?"})
			m = drive(t, m, components.InputSubmitMsg{Value: "/clear"})
			m = drive(t, m, components.InputSubmitMsg{Value: "3+3"})

			prompts := model.seen()
			require.Len(t, prompts, 3)
			assert.Len(t, prompts[1], 3, "the second turn carries the first")
			assert.Equal(t, []domain.Message{{Role: domain.RoleUser, Content: "3+3"}}, prompts[2])
			assert.Len(t, m.History(), 2)
		})
	}
}
