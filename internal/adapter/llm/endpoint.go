package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

const (
	maxResponseBody = 10 << 20
	maxErrorDetail  = 512
)

// endpoint is one JSON-over-HTTP completions URL with the headers every
// request to it carries.
type endpoint struct {
	client *http.Client
	url    string
	header http.Header
}

func newEndpoint(client *http.Client, url, apiKey string) endpoint {
	h := http.Header{"Content-Type": {"application/json"}}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return endpoint{client: client, url: url, header: h}
}

// post sends body and returns the open response. Non-200 answers are
// closed and mapped onto a domain error.
func (e endpoint) post(ctx context.Context, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = e.header.Clone()
	req.Header.Set("Accept", accept)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail+1))
		return nil, statusError(resp.StatusCode, detail)
	}
	return resp, nil
}

// postJSON sends body and reads the whole answer.
func (e endpoint) postJSON(ctx context.Context, body []byte) ([]byte, error) {
	resp, err := e.post(ctx, body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return out, nil
}

// statusSentinels classifies HTTP failures for the circuit breaker, the
// failover chain and the HTTP channel. Anything else is ErrProviderError.
var statusSentinels = map[int]error{
	http.StatusTooManyRequests:       domain.ErrRateLimit,
	http.StatusUnauthorized:          domain.ErrAuthInvalid,
	http.StatusForbidden:             domain.ErrAuthInvalid,
	http.StatusRequestEntityTooLarge: domain.ErrContextOverflow,
	http.StatusRequestTimeout:        domain.ErrTimeout,
	http.StatusGatewayTimeout:        domain.ErrTimeout,
}

func statusError(code int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail] + "..."
	}
	sentinel, ok := statusSentinels[code]
	if !ok {
		sentinel = domain.ErrProviderError
	}
	return fmt.Errorf("%w: API error %d: %s", sentinel, code, detail)
}

// startChatSpan opens the span shared by every provider's Chat.
func startChatSpan(ctx context.Context, provider string, req domain.ChatRequest) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "llm.chat", trace.WithAttributes(
		tracer.StringAttr("llm.provider", provider),
		tracer.StringAttr("llm.model", req.Model),
		tracer.IntAttr("llm.tools", len(req.Tools)),
	))
}

// chatDone records a finished completion on span and in the debug log.
func chatDone(ctx context.Context, span trace.Span, logger *slog.Logger, provider string, res *domain.ChatResponse) {
	span.SetAttributes(
		tracer.StringAttr("llm.finish_reason", string(res.FinishReason)),
		tracer.IntAttr("llm.prompt_tokens", res.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", res.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	logger.DebugContext(ctx, "llm chat completed",
		"provider", provider,
		"model", res.Model,
		"tokens", res.Usage.TotalTokens,
		"finish_reason", res.FinishReason,
		"tool_calls", len(res.Message.ToolCalls),
	)
}
