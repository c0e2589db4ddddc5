package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// ClassificationToolName is the tool the classifier forces the model to call.
const ClassificationToolName = "select_agent"

// ClassificationArgs is the argument shape of the classification tool. It
// mirrors domain.ClassifierResult.
type ClassificationArgs struct {
	SelectedAgent string  `json:"selectedAgent" jsonschema:"exact name of the agent that should handle the message or unknown when none fits"`
	Confidence    float64 `json:"confidence,omitempty" jsonschema:"confidence in the selection from 0 to 1"`
	Reasoning     string  `json:"reasoning,omitempty" jsonschema:"one or two sentences explaining the choice"`
}

// ClassificationSchema returns the JSON Schema of ClassificationArgs.
func ClassificationSchema() (json.RawMessage, error) {
	s, err := jsonschema.For[ClassificationArgs](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("infer classification schema: %w", err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal classification schema: %w", err)
	}
	return raw, nil
}

// ClassificationTool records a routing decision. Its "execution" validates
// the decision and echoes it back, so the result carries the classification.
type ClassificationTool struct {
	schema json.RawMessage
	logger *slog.Logger
}

// NewClassificationTool creates the classification tool.
func NewClassificationTool(logger *slog.Logger) (*ClassificationTool, error) {
	schema, err := ClassificationSchema()
	if err != nil {
		return nil, err
	}
	return &ClassificationTool{schema: schema, logger: logger}, nil
}

func (t *ClassificationTool) Name() string { return ClassificationToolName }
func (t *ClassificationTool) Description() string {
	return "Select the agent best suited to handle the user's message."
}

func (t *ClassificationTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{
		Name:        t.Name(),
		Description: t.Description(),
		Version:     "1.0.0",
		Categories:  []string{"routing"},
	}
}

func (t *ClassificationTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.schema,
	}
}

func (t *ClassificationTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(_ context.Context, span trace.Span, p ClassificationArgs) (any, error) {
			if err := ValidateFloatRange("confidence", p.Confidence, 0, 1); err != nil {
				return nil, domain.NewInvalidParamsError(t.Name(), &domain.ValidationError{
					Tool: t.Name(), Detail: err.Error(), Err: err,
				})
			}
			span.SetAttributes(tracer.StringAttr("classifier.selected_agent", p.SelectedAgent))
			return domain.ClassifierResult{
				SelectedAgent: strings.TrimSpace(p.SelectedAgent),
				Confidence:    p.Confidence,
				Reasoning:     p.Reasoning,
			}, nil
		},
	)
}
