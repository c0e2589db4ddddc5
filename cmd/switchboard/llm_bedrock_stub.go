//go:build !bedrock

package main

import (
	"context"
	"errors"
	"log/slog"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

func createBedrockProvider(_ context.Context, _ config.ProviderConfig, _ *slog.Logger) (domain.LLMProvider, error) {
	return nil, errors.New("bedrock provider requires build with -tags bedrock")
}
