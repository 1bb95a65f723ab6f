package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/retry"
)

// New builds the generator described by cfg, wrapped for retries.
func New(ctx context.Context, cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		base Generator
		err  error
	)
	switch cfg.Provider {
	case "openai", "ollama":
		if cfg.Provider == "openai" && cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai generator: API key is required (set OPENAI_API_KEY)")
		}
		base = NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Provider, logger)
	case "claude":
		base, err = NewClaudeGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, logger)
	case "gemini":
		base, err = NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, logger)
	case "mock":
		base = NewMockGenerator("This is a mock answer based on the provided context.")
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("generator ready", zap.String("provider", cfg.Provider), zap.String("model", base.Model()))
	return NewResilient(base, retry.Policy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}, logger), nil
}
