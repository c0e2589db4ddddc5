package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"

	"switchboard/internal/domain"
)

// ErrDivisionByZero is returned when the calculator is asked to divide by zero.
var ErrDivisionByZero = errors.New("division by zero")

// CalculatorTool performs basic arithmetic on two operands.
type CalculatorTool struct {
	logger *slog.Logger
}

// NewCalculatorTool creates a calculator tool.
func NewCalculatorTool(logger *slog.Logger) *CalculatorTool {
	return &CalculatorTool{logger: logger}
}

func (t *CalculatorTool) Name() string { return "calculator" }
func (t *CalculatorTool) Description() string {
	return "Performs basic arithmetic (add, subtract, multiply, divide) on two numbers."
}

func (t *CalculatorTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{
		Name:        t.Name(),
		Description: t.Description(),
		Version:     "1.0.0",
		Categories:  []string{"math", "utility"},
	}
}

func (t *CalculatorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"operation": {
					"type": "string",
					"enum": ["add", "subtract", "multiply", "divide"],
					"description": "The arithmetic operation to perform"
				},
				"a": {"type": "number", "description": "First operand"},
				"b": {"type": "number", "description": "Second operand"}
			},
			"required": ["operation", "a", "b"],
			"additionalProperties": false
		}`),
	}
}

type calcParams struct {
	Operation string  `json:"operation"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
}

type calcResult struct {
	Operation string  `json:"operation"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
	Result    float64 `json:"result"`
}

func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		Operations(func(p calcParams) string { return p.Operation }, map[string]func(context.Context, calcParams) (any, error){
			"add":      binary(func(a, b float64) (float64, error) { return a + b, nil }),
			"subtract": binary(func(a, b float64) (float64, error) { return a - b, nil }),
			"multiply": binary(func(a, b float64) (float64, error) { return a * b, nil }),
			"divide": binary(func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, ErrDivisionByZero
				}
				return a / b, nil
			}),
		}),
	)
}

func binary(op func(a, b float64) (float64, error)) func(context.Context, calcParams) (any, error) {
	return func(_ context.Context, p calcParams) (any, error) {
		v, err := op(p.A, p.B)
		if err != nil {
			return nil, err
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, errors.New("result is not a finite number")
		}
		return calcResult{Operation: p.Operation, A: p.A, B: p.B, Result: v}, nil
	}
}
