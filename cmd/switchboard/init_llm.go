package main

import (
	"context"
	"fmt"
	"log/slog"

	"switchboard/internal/adapter/llm"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// failoverName is the registry name of the failover chain when enabled.
const failoverName = "failover"

// initLLM registers every configured provider and sets the default. When
// failover is enabled the default becomes a chain of the default provider
// and its fallbacks; agents that name a provider explicitly bypass it.
func initLLM(ctx context.Context, cfg *config.Config, log *slog.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		provider, err := createLLMProvider(ctx, pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}

		if cbCfg.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cbCfg, log)
		}

		if err := registry.Register(pc.Name, provider); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	primary, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}
	registry.SetDefault(cfg.LLM.DefaultProvider)

	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		fallbacks := make([]domain.LLMProvider, 0, len(cfg.LLM.Failover.Fallbacks))
		for _, name := range cfg.LLM.Failover.Fallbacks {
			fb, err := registry.Get(name)
			if err != nil {
				return nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		if err := registry.Register(failoverName, llm.NewFailoverProvider(primary, fallbacks, log)); err != nil {
			return nil, fmt.Errorf("failover: %w", err)
		}
		registry.SetDefault(failoverName)
		log.Info("model failover enabled", "primary", cfg.LLM.DefaultProvider, "fallbacks", cfg.LLM.Failover.Fallbacks)
	}

	return registry, nil
}

func createLLMProvider(ctx context.Context, pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai", "":
		return llm.NewOpenAIProvider(pc, log), nil
	case "openrouter":
		return llm.NewOpenRouterProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(ctx, pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// providerModel returns the model configured for the named provider, or
// for the default provider when name is empty.
func providerModel(cfg *config.Config, name string) string {
	if name == "" {
		name = cfg.LLM.DefaultProvider
	}
	for _, pc := range cfg.LLM.Providers {
		if pc.Name == name {
			return pc.Model
		}
	}
	return ""
}
