package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// breakerSettings builds gobreaker settings for a provider. Zero fields in
// cfg take these defaults: trip after 5 consecutive faults, stay open 30s,
// reset counts every minute while closed.
func breakerSettings(name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) gobreaker.Settings {
	trip := cmp.Or(cfg.MaxFailures, 5)
	return gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1,
		Interval:    cmp.Or(cfg.Interval, time.Minute),
		Timeout:     cmp.Or(cfg.Timeout, 30*time.Second),
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trip },
		IsSuccessful: func(err error) bool {
			return !isProviderFault(err)
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", breaker, "from", from.String(), "to", to.String())
		},
	}
}

// isProviderFault reports whether err counts against the provider. A
// cancelled caller or an oversized prompt says nothing about its health.
func isProviderFault(err error) bool {
	return err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, domain.ErrContextOverflow)
}

// CircuitBreakerProvider fails fast with domain.ErrProviderError while the
// wrapped provider is tripped.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[any]
}

func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](breakerSettings(inner.Name(), cfg, logger)),
	}
}

func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State and Counts report the breaker for monitoring.
func (p *CircuitBreakerProvider) State() gobreaker.State { return p.breaker.State() }

func (p *CircuitBreakerProvider) Counts() gobreaker.Counts { return p.breaker.Counts() }

func (p *CircuitBreakerProvider) guard(fn func() (any, error)) (any, error) {
	v, err := p.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: provider %q circuit open: %w", domain.ErrProviderError, p.inner.Name(), err)
	}
	return v, err
}

func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	v, err := p.guard(func() (any, error) { return p.inner.Chat(ctx, req) })
	if err != nil {
		return nil, err
	}
	return v.(*domain.ChatResponse), nil
}

// ChatStream guards opening the stream. Errors delivered on the channel
// afterwards are not counted.
func (p *CircuitBreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingLLMProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support streaming", p.inner.Name())
	}
	v, err := p.guard(func() (any, error) { return sp.ChatStream(ctx, req) })
	if err != nil {
		return nil, err
	}
	return v.(<-chan domain.StreamDelta), nil
}

var (
	_ domain.LLMProvider          = (*CircuitBreakerProvider)(nil)
	_ domain.StreamingLLMProvider = (*CircuitBreakerProvider)(nil)
)
