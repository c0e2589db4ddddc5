package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"switchboard/internal/domain"
)

// SchemaValidatingTool wraps a Tool with JSON Schema validation.
// On Execute, it validates params against the compiled schema before
// delegating, and normalizes every failure into *domain.ToolExecutionError.
type SchemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema // nil when the tool declares no schema
}

// WithSchemaValidation wraps a tool so that Execute validates params against
// the tool's JSON Schema before forwarding to the inner tool.
// Returns error if the schema fails to compile.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return guard(t, nil), nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return guard(t, compiled), nil
}

func guard(t domain.Tool, schema *jsonschema.Schema) *SchemaValidatingTool {
	return &SchemaValidatingTool{inner: t, schema: schema}
}

func (s *SchemaValidatingTool) Name() string                   { return s.inner.Name() }
func (s *SchemaValidatingTool) Description() string            { return s.inner.Description() }
func (s *SchemaValidatingTool) Metadata() domain.ToolMetadata  { return s.inner.Metadata() }
func (s *SchemaValidatingTool) Schema() domain.ToolSchema      { return s.inner.Schema() }
func (s *SchemaValidatingTool) Unwrap() domain.Tool            { return s.inner }
func (s *SchemaValidatingTool) Validates() bool                { return s.schema != nil }

func (s *SchemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (result *domain.ToolResult, err error) {
	name := s.inner.Name()

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return nil, domain.NewInvalidParamsError(name, &domain.ValidationError{
			Tool: name, Detail: "invalid JSON", Err: err,
		})
	}

	if s.schema != nil {
		if err := s.schema.Validate(v); err != nil {
			return nil, domain.NewInvalidParamsError(name, &domain.ValidationError{
				Tool: name, Detail: validationDetail(err), Err: err,
			})
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = domain.NewExecutionError(name, fmt.Errorf("panic: %v", r))
		}
	}()

	result, err = s.inner.Execute(ctx, params)
	if err != nil {
		return nil, normalizeToolError(name, err)
	}
	if result == nil {
		return nil, domain.NewExecutionError(name, errors.New("tool returned no result"))
	}
	if result.IsError {
		return nil, domain.NewExecutionError(name, errors.New(result.Content))
	}
	return result, nil
}

// normalizeToolError keeps ToolExecutionErrors as-is and wraps anything else
// as execution-failed.
func normalizeToolError(name string, err error) error {
	var te *domain.ToolExecutionError
	if errors.As(err, &te) {
		return err
	}
	return domain.NewExecutionError(name, err)
}

// validationDetail flattens the innermost schema violation into one line.
func validationDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if leaf.InstanceLocation == "" {
		return leaf.Message
	}
	return leaf.InstanceLocation + ": " + leaf.Message
}
