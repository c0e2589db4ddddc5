package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// ToolSource supplies the current tool set. *tool.Registry implements it.
type ToolSource interface {
	Tools() map[string]domain.Tool
}

// Processor is anything that can answer as a named agent. *Agent and
// *Session implement it.
type Processor interface {
	domain.AgentDescriptor
	Process(ctx context.Context, input string, opts domain.GenerationOptions) (domain.Result, error)
	ProcessMessages(ctx context.Context, msgs []domain.Message, opts domain.GenerationOptions) (domain.Result, error)
}

// AgentConfig is the static identity and generation defaults of an agent.
type AgentConfig struct {
	Name         string
	Description  string
	Capabilities []string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
	MaxSteps     int
}

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	Model  domain.LanguageModel
	Tools  ToolSource // optional, nil = no tools
	Logger *slog.Logger
}

// Agent binds a system prompt, a language model and a tool set. Its own
// history is shared by every caller of Process; use Session for
// request-scoped history.
type Agent struct {
	mu      sync.RWMutex
	cfg     AgentConfig
	deps    AgentDeps
	history *History
}

// NewAgent creates an agent with the given config and dependencies.
func NewAgent(cfg AgentConfig, deps AgentDeps) (*Agent, error) {
	if cfg.Name == "" {
		return nil, domain.NewDomainError("NewAgent", domain.ErrInvalidInput, "agent name is required")
	}
	if deps.Model == nil {
		return nil, domain.NewDomainError("NewAgent", domain.ErrInvalidInput, fmt.Sprintf("agent %q has no language model", cfg.Name))
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	cfg.Capabilities = slices.Clone(cfg.Capabilities)
	return &Agent{cfg: cfg, deps: deps, history: NewHistory()}, nil
}

func (a *Agent) Name() string        { return a.cfg.Name }
func (a *Agent) Description() string { return a.cfg.Description }

// Capabilities returns a copy of the declared capabilities.
func (a *Agent) Capabilities() []string { return slices.Clone(a.cfg.Capabilities) }

// SystemPrompt returns the current system prompt.
func (a *Agent) SystemPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.SystemPrompt
}

// SetSystemPrompt replaces the system prompt for subsequent calls.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.SystemPrompt = prompt
}

// History returns a copy of the agent's conversation.
func (a *Agent) History() []domain.Message { return a.history.Messages() }

// ClearHistory discards the agent's conversation.
func (a *Agent) ClearHistory() { a.history.Clear() }

// Process answers input in the context of the agent's history. A text
// result appends the user input and the reply to history; other kinds
// leave it unchanged.
func (a *Agent) Process(ctx context.Context, input string, opts domain.GenerationOptions) (domain.Result, error) {
	return a.process(ctx, a.history, input, opts)
}

// ProcessMessages generates from an explicit message set. The system prompt
// is prepended unless msgs already starts with a system message. History is
// not read or written.
func (a *Agent) ProcessMessages(ctx context.Context, msgs []domain.Message, opts domain.GenerationOptions) (domain.Result, error) {
	return a.generate(ctx, a.withSystemPrompt(msgs), opts)
}

// Session returns a request-scoped view of the agent with its own history,
// seeded with a copy of seed.
func (a *Agent) Session(seed ...domain.Message) *Session {
	return newSession(a, seed)
}

func (a *Agent) process(ctx context.Context, hist *History, input string, opts domain.GenerationOptions) (domain.Result, error) {
	msgs := a.buildPrompt(hist.Messages(), input)

	res, err := a.generate(ctx, msgs, opts)
	if err != nil {
		return domain.Result{}, err
	}
	if res.Kind == domain.ResultText {
		hist.Append(
			domain.Message{Role: domain.RoleUser, Content: input},
			domain.Message{Role: domain.RoleAssistant, Content: res.Text},
		)
	}
	return res, nil
}

func (a *Agent) withSystemPrompt(msgs []domain.Message) []domain.Message {
	sp := a.SystemPrompt()
	if sp == "" || (len(msgs) > 0 && msgs[0].Role == domain.RoleSystem) {
		return msgs
	}
	out := make([]domain.Message, 0, len(msgs)+1)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: sp})
	return append(out, msgs...)
}

// buildPrompt returns [system?, ...history, user(input)].
func (a *Agent) buildPrompt(history []domain.Message, input string) []domain.Message {
	msgs := make([]domain.Message, 0, len(history)+2)
	if sp := a.SystemPrompt(); sp != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: sp})
	}
	msgs = append(msgs, history...)
	return append(msgs, domain.Message{Role: domain.RoleUser, Content: input})
}

// generate dispatches to the streaming or complete path. Every failure is
// returned as *domain.AgentProcessingError.
func (a *Agent) generate(ctx context.Context, msgs []domain.Message, opts domain.GenerationOptions) (res domain.Result, err error) {
	ctx, span := tracer.StartSpan(ctx, "agent.process",
		trace.WithAttributes(
			tracer.StringAttr("agent.name", a.cfg.Name),
			tracer.BoolAttr("agent.stream", opts.Stream),
			tracer.IntAttr("agent.messages", len(msgs)),
		),
	)
	defer func() { tracer.Finish(span, err) }()

	modelOpts := a.modelOptions(opts)

	if opts.Stream {
		handle, err := a.deps.Model.StreamText(ctx, msgs, modelOpts)
		if err != nil {
			return domain.Result{}, a.wrapErr(err)
		}
		if handle == nil {
			return domain.Result{}, a.wrapErr(&domain.GenerationFailedError{FinishReason: domain.FinishUnknown, Detail: "model returned no stream"})
		}
		return domain.StreamResult(handle), nil
	}

	resp, err := a.deps.Model.GenerateText(ctx, msgs, modelOpts)
	if err != nil {
		return domain.Result{}, a.wrapErr(err)
	}
	if resp == nil {
		return domain.Result{}, a.wrapErr(&domain.GenerationFailedError{FinishReason: domain.FinishUnknown, Detail: "model returned no response"})
	}

	res, err = HandleResponse(resp)
	if err != nil {
		return domain.Result{}, a.wrapErr(err)
	}
	span.SetAttributes(tracer.StringAttr("agent.result", res.Kind.String()))
	a.deps.Logger.DebugContext(ctx, "agent processed", "agent", a.cfg.Name, "result", res.Kind.String(), "steps", len(resp.Steps))
	return res, nil
}

func (a *Agent) modelOptions(opts domain.GenerationOptions) domain.ModelOptions {
	mo := domain.ModelOptions{
		ToolChoice:  opts.ToolChoice,
		MaxSteps:    a.cfg.MaxSteps,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}
	if a.deps.Tools != nil {
		mo.Tools = a.deps.Tools.Tools()
	}
	if opts.MaxSteps > 0 {
		mo.MaxSteps = opts.MaxSteps
	}
	if opts.Temperature != nil {
		mo.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		mo.MaxTokens = opts.MaxTokens
	}
	return mo
}

func (a *Agent) wrapErr(err error) error {
	return &domain.AgentProcessingError{Agent: a.cfg.Name, Err: err}
}

var _ Processor = (*Agent)(nil)
