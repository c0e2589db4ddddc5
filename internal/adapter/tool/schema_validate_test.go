package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
)

var nameSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string"}
	},
	"required": ["name"]
}`)

func TestSchemaValidation_ValidParams(t *testing.T) {
	inner := &stubTool{name: "test", schema: nameSchema, result: &domain.ToolResult{Content: "ok"}}

	wrapped, err := WithSchemaValidation(inner)
	require.NoError(t, err)

	result, err := wrapped.Execute(context.Background(), json.RawMessage(`{"name":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, 1, inner.calls)
}

func TestSchemaValidation_MissingRequired(t *testing.T) {
	inner := &stubTool{name: "test", schema: nameSchema}
	wrapped, err := WithSchemaValidation(inner)
	require.NoError(t, err)

	_, err = wrapped.Execute(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)

	var te *domain.ToolExecutionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.ToolErrInvalidParameters, te.Kind)
	assert.Equal(t, "test", te.Tool)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Detail, "name")
	assert.Equal(t, 0, inner.calls, "inner tool must not run on invalid params")
}

func TestSchemaValidation_WrongType(t *testing.T) {
	wrapped, err := WithSchemaValidation(&stubTool{name: "test", schema: nameSchema})
	require.NoError(t, err)

	_, err = wrapped.Execute(context.Background(), json.RawMessage(`{"name": 42}`))
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestSchemaValidation_InvalidJSON(t *testing.T) {
	wrapped, err := WithSchemaValidation(&stubTool{name: "test", schema: nameSchema})
	require.NoError(t, err)

	_, err = wrapped.Execute(context.Background(), json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestSchemaValidation_NoSchemaPassesThrough(t *testing.T) {
	inner := &stubTool{name: "test"}
	wrapped, err := WithSchemaValidation(inner)
	require.NoError(t, err)

	sv, ok := wrapped.(*SchemaValidatingTool)
	require.True(t, ok)
	assert.False(t, sv.Validates())
	assert.Same(t, inner, sv.Unwrap())

	_, err = wrapped.Execute(context.Background(), nil)
	assert.NoError(t, err)
}

func TestSchemaValidation_CompileError(t *testing.T) {
	_, err := WithSchemaValidation(&stubTool{name: "bad", schema: json.RawMessage(`{"type": "nope"}`)})
	assert.Error(t, err)
}

func TestSchemaValidation_NormalizesFailures(t *testing.T) {
	tests := []struct {
		name string
		tool *stubTool
	}{
		{"plain error", &stubTool{name: "t", err: errors.New("boom")}},
		{"error result", &stubTool{name: "t", result: &domain.ToolResult{IsError: true, Content: "bad thing"}}},
		{"panic", &stubTool{name: "t", panicMsg: "kaboom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped, err := WithSchemaValidation(tt.tool)
			require.NoError(t, err)

			_, err = wrapped.Execute(context.Background(), json.RawMessage(`{}`))
			var te *domain.ToolExecutionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, domain.ToolErrExecutionFailed, te.Kind)
		})
	}
}

func TestSchemaValidation_KeepsToolExecutionError(t *testing.T) {
	orig := domain.NewInvalidParamsError("t", errors.New("range"))
	wrapped, err := WithSchemaValidation(&stubTool{name: "t", err: orig})
	require.NoError(t, err)

	_, err = wrapped.Execute(context.Background(), json.RawMessage(`{}`))
	assert.Same(t, orig, err)
}
