package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"switchboard/internal/domain"
)

// FailoverProvider tries a primary provider and then each fallback in
// order. A cancelled caller stops the chain.
type FailoverProvider struct {
	chain  []domain.LLMProvider
	logger *slog.Logger
}

func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		chain:  append([]domain.LLMProvider{primary}, fallbacks...),
		logger: logger,
	}
}

func (f *FailoverProvider) Name() string { return f.chain[0].Name() + "+failover" }

// firstOK runs call against each provider until one succeeds. skip providers
// are passed over silently. The error joins every attempt so sentinels
// from the providers still match with errors.Is.
func firstOK[T any](ctx context.Context, f *FailoverProvider, op string, call func(domain.LLMProvider) (T, bool, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for i, p := range f.chain {
		v, skipped, err := call(p)
		switch {
		case skipped:
			continue
		case err == nil:
			if i > 0 {
				f.logger.InfoContext(ctx, "failover succeeded", "op", op, "provider", p.Name())
			}
			return v, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		f.logger.WarnContext(ctx, "llm provider failed, trying next", "op", op, "provider", p.Name(), "error", err)
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("%w: no provider supports %s", domain.ErrProviderError, op)
	}
	return zero, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return firstOK(ctx, f, "chat", func(p domain.LLMProvider) (*domain.ChatResponse, bool, error) {
		resp, err := p.Chat(ctx, req)
		return resp, false, err
	})
}

// ChatStream passes over providers that cannot stream.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return firstOK(ctx, f, "streaming", func(p domain.LLMProvider) (<-chan domain.StreamDelta, bool, error) {
		sp, ok := p.(domain.StreamingLLMProvider)
		if !ok {
			return nil, true, nil
		}
		ch, err := sp.ChatStream(ctx, req)
		return ch, false, err
	})
}

var (
	_ domain.LLMProvider          = (*FailoverProvider)(nil)
	_ domain.StreamingLLMProvider = (*FailoverProvider)(nil)
)
