package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"switchboard/internal/domain"
)

// --- Mocks ---

// mockLLM returns scripted responses in order and records every request.
type mockLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	err       error
	requests  []domain.ChatRequest
	callIdx   int
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.callIdx >= len(m.responses) {
		return &domain.ChatResponse{
			Message:      domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
			FinishReason: domain.FinishStop,
		}, nil
	}
	idx := m.callIdx
	m.callIdx++
	return new(m.responses[idx]), nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

// mockStreamLLM streams scripted delta sequences, one per call.
type mockStreamLLM struct {
	mockLLM
	streams [][]domain.StreamDelta
	block   bool
	streamN int
}

func (m *mockStreamLLM) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var deltas []domain.StreamDelta
	if m.streamN < len(m.streams) {
		deltas = m.streams[m.streamN]
	}
	m.streamN++
	block := m.block
	m.mu.Unlock()

	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)
		for _, d := range deltas {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
		if block {
			<-ctx.Done()
			ch <- domain.StreamDelta{Done: true, Err: ctx.Err()}
		}
	}()
	return ch, nil
}

// mockTool is a domain.Tool whose Execute is a closure.
type mockTool struct {
	name    string
	mu      sync.Mutex
	calls   []json.RawMessage
	execute func(json.RawMessage) (*domain.ToolResult, error)
}

func (t *mockTool) Name() string        { return t.name }
func (t *mockTool) Description() string { return "mock tool " + t.name }
func (t *mockTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{Name: t.name, Description: t.Description(), Version: "test"}
}
func (t *mockTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *mockTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.mu.Unlock()
	if t.execute == nil {
		return &domain.ToolResult{Content: `{"ok":true}`}, nil
	}
	return t.execute(params)
}

func (t *mockTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// mockModel is a domain.LanguageModel returning a fixed response.
type mockModel struct {
	mu       sync.Mutex
	resp     *domain.GenerationResponse
	err      error
	handle   domain.StreamHandle
	messages [][]domain.Message
	opts     []domain.ModelOptions
}

func (m *mockModel) record(msgs []domain.Message, opts domain.ModelOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, append([]domain.Message(nil), msgs...))
	m.opts = append(m.opts, opts)
}

func (m *mockModel) GenerateText(_ context.Context, msgs []domain.Message, opts domain.ModelOptions) (*domain.GenerationResponse, error) {
	m.record(msgs, opts)
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockModel) StreamText(_ context.Context, msgs []domain.Message, opts domain.ModelOptions) (domain.StreamHandle, error) {
	m.record(msgs, opts)
	if m.err != nil {
		return nil, m.err
	}
	return m.handle, nil
}

func (m *mockModel) lastMessages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[len(m.messages)-1]
}

// staticHandle is a finished StreamHandle.
type staticHandle struct{ resp *domain.GenerationResponse }

func (h staticHandle) ID() string { return "static" }
func (h staticHandle) Events() <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent)
	close(ch)
	return ch
}
func (h staticHandle) Wait() (*domain.GenerationResponse, error) { return h.resp, nil }

// mockClassifier returns a fixed decision.
type mockClassifier struct {
	result     domain.ClassifierResult
	err        error
	calls      int
	candidates []domain.AgentDescriptor
	history    []domain.Message
}

func (c *mockClassifier) Classify(_ context.Context, _ string, candidates []domain.AgentDescriptor, history []domain.Message, onUpdate domain.ProgressFunc) (domain.ClassifierResult, error) {
	c.calls++
	c.candidates = candidates
	c.history = history
	onUpdate.Emit("Analyzing agents")
	return c.result, c.err
}

// mockProcessor records the calls an orchestrator makes.
type mockProcessor struct {
	name        string
	result      domain.Result
	err         error
	inputs      []string
	messageSets [][]domain.Message
	opts        []domain.GenerationOptions
}

func (p *mockProcessor) Name() string        { return p.name }
func (p *mockProcessor) Description() string { return "handles " + p.name }

func (p *mockProcessor) Process(_ context.Context, input string, opts domain.GenerationOptions) (domain.Result, error) {
	p.inputs = append(p.inputs, input)
	p.opts = append(p.opts, opts)
	return p.result, p.err
}

func (p *mockProcessor) ProcessMessages(_ context.Context, msgs []domain.Message, opts domain.GenerationOptions) (domain.Result, error) {
	p.messageSets = append(p.messageSets, msgs)
	p.opts = append(p.opts, opts)
	return p.result, p.err
}

func (p *mockProcessor) calls() int { return len(p.inputs) + len(p.messageSets) }

// --- Helpers ---

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func textResponse(text string) domain.ChatResponse {
	return domain.ChatResponse{
		Message:      domain.Message{Role: domain.RoleAssistant, Content: text},
		FinishReason: domain.FinishStop,
		Usage:        domain.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
}

func toolCallResponse(calls ...domain.ToolCall) domain.ChatResponse {
	return domain.ChatResponse{
		Message:      domain.Message{Role: domain.RoleAssistant, ToolCalls: calls},
		FinishReason: domain.FinishToolCalls,
		Usage:        domain.Usage{PromptTokens: 4, CompletionTokens: 1, TotalTokens: 5},
	}
}

func toolCall(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func newTestAgent(name string, model domain.LanguageModel, tools ToolSource) *Agent {
	a, err := NewAgent(AgentConfig{
		Name:         name,
		Description:  fmt.Sprintf("%s description", name),
		SystemPrompt: "You are " + name + ".",
		MaxSteps:     3,
	}, AgentDeps{Model: model, Tools: tools, Logger: discardLogger()})
	if err != nil {
		panic(err)
	}
	return a
}
