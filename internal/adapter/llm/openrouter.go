package llm

import (
	"log/slog"

	"switchboard/internal/infra/config"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterProvider speaks the OpenAI wire format to OpenRouter, adding
// the headers it uses to attribute traffic to an application.
func NewOpenRouterProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	p := newCompletionsProvider(cfg, defaultOpenRouterBaseURL, logger)
	p.endpoint.header.Set("HTTP-Referer", "https://github.com/switchboard-ai/switchboard")
	p.endpoint.header.Set("X-Title", "switchboard")
	return p
}
