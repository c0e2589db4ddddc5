package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// Handler runs a tool on decoded params inside the tool's span.
//
// The returned value becomes the tool result: a *domain.ToolResult is used
// as-is, a string is the result content, and anything else is marshaled to
// JSON. An error becomes an execution-failed *domain.ToolExecutionError.
type Handler[P any] func(ctx context.Context, span trace.Span, params P) (any, error)

// Execute decodes rawParams into P and runs handler in a span named after
// the tool. Params that do not decode are reported as invalid-parameters.
func Execute[P any](ctx context.Context, toolName string, logger *slog.Logger, rawParams json.RawMessage, handler Handler[P]) (*domain.ToolResult, error) {
	scope := domain.ScopeFrom(ctx)
	ctx, span := tracer.StartSpan(ctx, "tool."+toolName,
		trace.WithAttributes(
			tracer.StringAttr("tool.name", toolName),
			tracer.StringAttr("agent.name", scope.Agent),
		),
	)
	defer span.End()

	var p P
	if err := json.Unmarshal(rawParams, &p); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewInvalidParamsError(toolName, &domain.ValidationError{
			Tool: toolName, Detail: "decode params", Err: err,
		})
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.WarnContext(ctx, "tool failed", "tool", toolName, "error", err, "transient", transient(err))
		return nil, normalizeToolError(toolName, err)
	}

	res, err := toResult(result)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return res, nil
}

func toResult(v any) (*domain.ToolResult, error) {
	switch v := v.(type) {
	case *domain.ToolResult:
		return v, nil
	case string:
		return &domain.ToolResult{Content: v}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("format result: %w", err)
		}
		return &domain.ToolResult{Content: string(data)}, nil
	}
}

// Operations routes a Handler by an operation name taken from the params.
// Unknown operations fail with the sorted list of valid ones.
func Operations[P any](opOf func(P) string, ops map[string]func(context.Context, P) (any, error)) Handler[P] {
	valid := make([]string, 0, len(ops))
	for name := range ops {
		valid = append(valid, name)
	}
	slices.Sort(valid)

	return func(ctx context.Context, span trace.Span, p P) (any, error) {
		op := opOf(p)
		span.SetAttributes(tracer.StringAttr("tool.operation", op))

		fn, ok := ops[op]
		if !ok {
			return nil, fmt.Errorf("unknown operation %q (want: %s)", op, strings.Join(valid, ", "))
		}
		return fn(ctx, p)
	}
}

// transientMarkers are lower-cased substrings of errors worth retrying.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
}

// transient reports whether err looks temporary. It only feeds logs; tool
// calls are never retried.
func transient(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []error{domain.ErrTimeout, domain.ErrProviderError, domain.ErrRateLimit} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(transientMarkers, func(m string) bool { return strings.Contains(msg, m) })
}
