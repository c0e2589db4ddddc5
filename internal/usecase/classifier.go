package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// Classifier modes.
const (
	// ClassifierModeTool forces a call to the classification tool.
	ClassifierModeTool = "tool"
	// ClassifierModeStructured asks for a JSON reply and validates it, for
	// models without forced tool choice.
	ClassifierModeStructured = "structured"
)

// Classifier picks the agent that should answer a message.
type Classifier interface {
	Classify(ctx context.Context, input string, candidates []domain.AgentDescriptor, history []domain.Message, onUpdate domain.ProgressFunc) (domain.ClassifierResult, error)
}

// ClassifierConfig configures an AgentClassifier. Zero values select the
// tool mode and DefaultClassifierTemplate.
type ClassifierConfig struct {
	Mode        string
	Template    string
	Temperature *float64
	MaxTokens   int
}

// ClassifierDeps holds injected dependencies for the classifier.
type ClassifierDeps struct {
	Model  domain.LanguageModel
	Tool   domain.Tool // the classification tool; its schema is the decision shape
	Logger *slog.Logger
}

// AgentClassifier is a single-turn agent whose only output is a
// domain.ClassifierResult. Classify calls on one classifier are serialized.
type AgentClassifier struct {
	mu        sync.Mutex
	agent     *Agent
	mode      string
	template  string
	toolName  string
	schema    *jsonschema.Schema
	rawSchema json.RawMessage
	logger    *slog.Logger
}

// checkedTool validates raw arguments against the decision schema before
// the wrapped tool runs.
type checkedTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

func (t checkedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	name := t.Name()
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return nil, domain.NewInvalidParamsError(name, &domain.ValidationError{Tool: name, Detail: "invalid JSON", Err: err})
	}
	if result := t.schema.Validate(v); !result.IsValid() {
		err := fmt.Errorf("%s", result.Error())
		return nil, domain.NewInvalidParamsError(name, &domain.ValidationError{Tool: name, Detail: err.Error(), Err: err})
	}
	return t.Tool.Execute(ctx, params)
}

// staticTools is a fixed ToolSource.
type staticTools map[string]domain.Tool

func (s staticTools) Tools() map[string]domain.Tool {
	out := make(map[string]domain.Tool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// NewAgentClassifier creates a classifier.
func NewAgentClassifier(cfg ClassifierConfig, deps ClassifierDeps) (*AgentClassifier, error) {
	if deps.Tool == nil {
		return nil, domain.NewDomainError("NewAgentClassifier", domain.ErrInvalidInput, "classification tool is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	c := &AgentClassifier{
		mode:      cfg.Mode,
		template:  cfg.Template,
		toolName:  deps.Tool.Name(),
		rawSchema: deps.Tool.Schema().Parameters,
		logger:    deps.Logger,
	}
	if c.mode == "" {
		c.mode = ClassifierModeTool
	}
	if c.template == "" {
		c.template = DefaultClassifierTemplate
	}

	temperature := cfg.Temperature
	if temperature == nil {
		temperature = new(0.0)
	}

	if c.mode != ClassifierModeTool && c.mode != ClassifierModeStructured {
		return nil, domain.NewDomainError("NewAgentClassifier", domain.ErrInvalidInput, fmt.Sprintf("unknown classifier mode %q", c.mode))
	}
	schema, err := jsonschema.NewCompiler().Compile(c.rawSchema)
	if err != nil {
		return nil, fmt.Errorf("compile classification schema: %w", err)
	}
	c.schema = schema

	var tools ToolSource
	if c.mode == ClassifierModeTool {
		tools = staticTools{c.toolName: checkedTool{Tool: deps.Tool, schema: schema}}
	}

	agent, err := NewAgent(AgentConfig{
		Name:        "classifier",
		Description: "Selects the agent best suited to answer a message.",
		Temperature: temperature,
		MaxTokens:   cfg.MaxTokens,
		MaxSteps:    1,
	}, AgentDeps{Model: deps.Model, Tools: tools, Logger: deps.Logger})
	if err != nil {
		return nil, err
	}
	c.agent = agent
	return c, nil
}

// Mode returns the active classifier mode.
func (c *AgentClassifier) Mode() string { return c.mode }

// Classify asks the model which candidate should answer input.
func (c *AgentClassifier) Classify(ctx context.Context, input string, candidates []domain.AgentDescriptor, history []domain.Message, onUpdate domain.ProgressFunc) (result domain.ClassifierResult, err error) {
	onUpdate.Emit("Analyzing agents")

	ctx, span := tracer.StartSpan(ctx, "classifier.classify",
		trace.WithAttributes(
			tracer.StringAttr("classifier.mode", c.mode),
			tracer.IntAttr("classifier.candidates", len(candidates)),
			tracer.IntAttr("classifier.history", len(history)),
		),
	)
	defer func() { tracer.Finish(span, err) }()

	prompt := RenderTemplate(c.template, map[string]string{
		PlaceholderAgentDescriptions: FormatAgentDescriptions(candidates),
		PlaceholderHistory:           FormatHistory(history),
	})

	if c.mode == ClassifierModeStructured {
		result, err = c.classifyStructured(ctx, prompt, input)
	} else {
		result, err = c.classifyWithTool(ctx, prompt, input)
	}
	if err != nil {
		return domain.ClassifierResult{}, err
	}

	span.SetAttributes(
		tracer.StringAttr("classifier.selected_agent", result.SelectedAgent),
		tracer.FloatAttr("classifier.confidence", result.Confidence),
	)
	c.logger.DebugContext(ctx, "message classified",
		"selected_agent", result.SelectedAgent,
		"confidence", result.Confidence,
	)
	return result, nil
}

func (c *AgentClassifier) process(ctx context.Context, prompt, input string, opts domain.GenerationOptions) (domain.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.agent.SetSystemPrompt(prompt)
	return c.agent.ProcessMessages(ctx, []domain.Message{{Role: domain.RoleUser, Content: input}}, opts)
}

func (c *AgentClassifier) classifyWithTool(ctx context.Context, prompt, input string) (domain.ClassifierResult, error) {
	prompt += "\n\nRespond by calling the " + c.toolName + " tool."

	res, err := c.process(ctx, prompt, input, domain.GenerationOptions{
		MaxSteps:   1,
		ToolChoice: domain.ToolChoiceTool(c.toolName),
	})
	if err != nil {
		return domain.ClassifierResult{}, err
	}

	if res.Kind != domain.ResultStructured || res.Response == nil {
		return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{
			Shape:  res.Kind.String(),
			Detail: fmt.Sprintf("expected a %s tool call", c.toolName),
		}
	}

	last := res.Response.LastStep()
	if last == nil || len(last.ToolResults) == 0 {
		return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{
			Shape:  res.Kind.String(),
			Detail: "last step has no tool result",
		}
	}

	first := last.ToolResults[0]
	if first.Name != c.toolName {
		return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{
			Shape:  res.Kind.String(),
			Detail: fmt.Sprintf("tool result came from %q, not %q", first.Name, c.toolName),
		}
	}

	return decodeClassification(first.Result)
}

func (c *AgentClassifier) classifyStructured(ctx context.Context, prompt, input string) (domain.ClassifierResult, error) {
	prompt += "\n\nDo not call any tool. Reply with a single JSON object and nothing else. It must match this JSON Schema:\n" + string(c.rawSchema)

	res, err := c.process(ctx, prompt, input, domain.GenerationOptions{
		MaxSteps:   1,
		ToolChoice: domain.ToolChoice{Mode: domain.ToolChoiceNone},
	})
	if err != nil {
		return domain.ClassifierResult{}, err
	}
	if res.Kind != domain.ResultText {
		return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{
			Shape:  res.Kind.String(),
			Detail: "expected a JSON text reply",
		}
	}

	raw := []byte(stripCodeFences(res.Text))
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{Shape: "text", Detail: "reply is not JSON", Err: err}
		}
		fixed, repairErr := jsonrepair.JSONRepair(string(raw))
		if repairErr != nil {
			return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{Shape: "text", Detail: "reply is not JSON", Err: err}
		}
		raw = []byte(fixed)
		if err := json.Unmarshal(raw, &data); err != nil {
			return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{Shape: "text", Detail: "repaired reply is not JSON", Err: err}
		}
	}

	if result := c.schema.Validate(data); !result.IsValid() {
		return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{
			Shape:  "text",
			Detail: "reply does not match the classification schema",
			Err:    fmt.Errorf("%s", result.Error()),
		}
	}

	return decodeClassification(raw)
}

// decodeClassification reads a decision object that already passed the
// schema. Missing optional fields keep their zero values.
func decodeClassification(raw json.RawMessage) (domain.ClassifierResult, error) {
	var result domain.ClassifierResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.ClassifierResult{}, &domain.UnsupportedResponseShapeError{
			Shape:  "tool-result",
			Detail: "classification is not an object",
			Err:    err,
		}
	}
	result.SelectedAgent = strings.TrimSpace(result.SelectedAgent)
	return result, nil
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// stripCodeFences removes markdown code fences if the model wrapped its output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

var _ Classifier = (*AgentClassifier)(nil)
