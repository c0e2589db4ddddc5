//go:build bedrock

package main

import (
	"context"
	"log/slog"

	"switchboard/internal/adapter/llm"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

func createBedrockProvider(ctx context.Context, pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(ctx, pc, log)
}
