package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// defaultMaxSteps is used when ModelOptions.MaxSteps is not set.
const defaultMaxSteps = 1

// Generator implements domain.LanguageModel on top of an LLMProvider. It runs
// the tool loop: each step is one model turn, and requested tools are
// executed sequentially, in call order, before the next turn.
type Generator struct {
	provider domain.LLMProvider
	model    string
	logger   *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithModel overrides the provider's default model for every request.
func WithModel(model string) GeneratorOption {
	return func(g *Generator) { g.model = model }
}

// NewGenerator creates a language model backed by provider.
func NewGenerator(provider domain.LLMProvider, logger *slog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{provider: provider, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateText runs the tool loop to completion and returns every step.
func (g *Generator) GenerateText(ctx context.Context, msgs []domain.Message, opts domain.ModelOptions) (resp *domain.GenerationResponse, err error) {
	run := g.newRun(msgs, opts)

	ctx, span := tracer.StartSpan(ctx, "llm.generate", trace.WithAttributes(run.attrs()...))
	defer func() { tracer.Finish(span, err) }()

	for step := 0; step < run.maxSteps; step++ {
		chatResp, err := g.provider.Chat(ctx, run.request(false))
		if err != nil {
			return nil, err
		}

		more, err := run.completeStep(ctx, chatResp.Message, chatResp.FinishReason, chatResp.Usage, nil)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	resp = run.response()
	span.SetAttributes(
		tracer.IntAttr("llm.steps", len(resp.Steps)),
		tracer.StringAttr("llm.finish_reason", string(resp.FinishReason)),
	)
	return resp, nil
}

// StreamText runs the tool loop in a goroutine and returns a handle that
// yields events as they arrive. Providers without streaming support are
// called with Chat and their text is emitted as a single delta.
func (g *Generator) StreamText(ctx context.Context, msgs []domain.Message, opts domain.ModelOptions) (domain.StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run := g.newRun(msgs, opts)
	h := newStreamHandle(ctx)

	go func() {
		ctx, span := tracer.StartSpan(ctx, "llm.stream", trace.WithAttributes(run.attrs()...))
		resp, err := g.streamLoop(ctx, run, h)
		tracer.Finish(span, err)
		h.finish(resp, err)
	}()

	return h, nil
}

func (g *Generator) streamLoop(ctx context.Context, run *generationRun, h *streamHandle) (*domain.GenerationResponse, error) {
	sp, canStream := g.provider.(domain.StreamingLLMProvider)

	for step := 0; step < run.maxSteps; step++ {
		var (
			msg    domain.Message
			finish domain.FinishReason
			usage  domain.Usage
		)

		if canStream {
			deltas, err := sp.ChatStream(ctx, run.request(true))
			if err != nil {
				return nil, err
			}
			acc := newStreamAccumulator()
			for delta := range deltas {
				acc.addDelta(delta)
				if delta.Content != "" && !h.emit(domain.StreamEvent{Type: domain.StreamEventTextDelta, Text: delta.Content}) {
					return nil, ctx.Err()
				}
			}
			if acc.err != nil {
				return nil, acc.err
			}
			msg, finish, usage = acc.build()
		} else {
			chatResp, err := g.provider.Chat(ctx, run.request(false))
			if err != nil {
				return nil, err
			}
			msg, finish, usage = chatResp.Message, chatResp.FinishReason, chatResp.Usage
			if msg.Content != "" && !h.emit(domain.StreamEvent{Type: domain.StreamEventTextDelta, Text: msg.Content}) {
				return nil, ctx.Err()
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		more, err := run.completeStep(ctx, msg, finish, usage, h.emit)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	return run.response(), nil
}

// generationRun is the working state of one GenerateText or StreamText call.
type generationRun struct {
	g        *Generator
	conv     []domain.Message
	tools    map[string]domain.Tool
	schemas  []domain.ToolSchema
	opts     domain.ModelOptions
	maxSteps int

	steps []domain.GenerationStep
	usage domain.Usage
}

func (g *Generator) newRun(msgs []domain.Message, opts domain.ModelOptions) *generationRun {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	conv := make([]domain.Message, len(msgs))
	copy(conv, msgs)

	return &generationRun{
		g:        g,
		conv:     conv,
		tools:    opts.Tools,
		schemas:  toolSchemas(opts.Tools),
		opts:     opts,
		maxSteps: maxSteps,
	}
}

func (r *generationRun) attrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		tracer.StringAttr("llm.provider", r.g.provider.Name()),
		tracer.IntAttr("llm.tools", len(r.schemas)),
		tracer.IntAttr("llm.max_steps", r.maxSteps),
		tracer.StringAttr("llm.tool_choice", string(r.opts.ToolChoice.Mode)),
	}
}

func (r *generationRun) request(stream bool) domain.ChatRequest {
	return domain.ChatRequest{
		Model:       r.g.model,
		Messages:    r.conv,
		Tools:       r.schemas,
		ToolChoice:  r.opts.ToolChoice,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: r.opts.Temperature,
		Stream:      stream,
	}
}

// completeStep records one model turn and runs the tools it asked for.
// It reports whether another turn should follow. emit is nil for
// non-streaming runs.
func (r *generationRun) completeStep(ctx context.Context, msg domain.Message, finish domain.FinishReason, usage domain.Usage, emit func(domain.StreamEvent) bool) (bool, error) {
	r.usage.Add(usage)

	step := domain.GenerationStep{
		Text:         msg.Content,
		FinishReason: finish,
		ToolCalls:    msg.ToolCalls,
	}

	msg.Role = domain.RoleAssistant
	if msg.ID == "" {
		msg.ID = newID()
	}
	r.conv = append(r.conv, msg)

	for _, call := range msg.ToolCalls {
		if emit != nil && !emit(domain.StreamEvent{Type: domain.StreamEventToolCall, ToolCall: new(call)}) {
			return false, ctx.Err()
		}

		record, err := r.executeTool(ctx, call)
		if err != nil {
			return false, err
		}
		step.ToolResults = append(step.ToolResults, record)
		r.conv = append(r.conv, domain.Message{
			ID:        newID(),
			Role:      domain.RoleTool,
			Name:      call.Name,
			Content:   string(record.Result),
			ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
			Timestamp: time.Now(),
		})

		if emit != nil && !emit(domain.StreamEvent{Type: domain.StreamEventToolResult, ToolResult: new(record)}) {
			return false, ctx.Err()
		}
	}

	r.steps = append(r.steps, step)
	r.g.logger.DebugContext(ctx, "generation step completed",
		"provider", r.g.provider.Name(),
		"step", len(r.steps),
		"finish_reason", finish,
		"tool_calls", len(msg.ToolCalls),
		"tokens", usage.TotalTokens,
	)

	if emit != nil && !emit(domain.StreamEvent{Type: domain.StreamEventStepFinish, FinishReason: finish, Usage: new(usage)}) {
		return false, ctx.Err()
	}

	return len(msg.ToolCalls) > 0 && len(r.steps) < r.maxSteps, nil
}

// executeTool runs a single tool call. Any failure aborts the run.
func (r *generationRun) executeTool(ctx context.Context, call domain.ToolCall) (domain.ToolResultRecord, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)

	t, ok := r.tools[call.Name]
	if !ok {
		err := domain.NewExecutionError(call.Name, fmt.Errorf("%w: %s", domain.ErrToolNotFound, call.Name))
		tracer.Finish(span, err)
		return domain.ToolResultRecord{}, err
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	result, err := t.Execute(ctx, args)
	tracer.Finish(span, err)
	if err != nil {
		return domain.ToolResultRecord{}, err
	}

	return domain.ToolResultRecord{
		ToolCallID: call.ID,
		Name:       call.Name,
		Result:     resultJSON(result),
	}, nil
}

func (r *generationRun) response() *domain.GenerationResponse {
	resp := &domain.GenerationResponse{
		Steps:        r.steps,
		Usage:        r.usage,
		FinishReason: domain.FinishUnknown,
	}
	if last := resp.LastStep(); last != nil {
		resp.Text = last.Text
		resp.FinishReason = last.FinishReason
	}
	return resp
}

// resultJSON returns the tool output as JSON. Plain-text output is encoded
// as a JSON string.
func resultJSON(result *domain.ToolResult) json.RawMessage {
	if result == nil {
		return json.RawMessage(`null`)
	}
	if json.Valid([]byte(result.Content)) {
		return json.RawMessage(result.Content)
	}
	b, _ := json.Marshal(result.Content)
	return b
}

// toolSchemas returns the declarations for tools, sorted by name.
func toolSchemas(tools map[string]domain.Tool) []domain.ToolSchema {
	if len(tools) == 0 {
		return nil
	}
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

var _ domain.LanguageModel = (*Generator)(nil)
