package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/retry"
)

// New builds the embedder described by cfg: the provider, wrapped for batching, pacing
// and retries, then (when cache_size > 0) wrapped in an LRU cache.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		base Embedder
		err  error
	)
	switch cfg.Provider {
	case "openai", "ollama":
		if cfg.Provider == "openai" && cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai embedder: API key is required (set OPENAI_API_KEY)")
		}
		base = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Provider:   cfg.Provider,
			Logger:     logger,
		})
	case "gemini":
		base, err = NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions, logger)
	case "onnx":
		base, err = NewONNXEmbedder(cfg.ModelPath, cfg.Model, cfg.Dimensions, cfg.MaxTokens)
	case "mock":
		base = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	var e Embedder = NewResilientEmbedder(base,
		WithBatchSize(cfg.BatchSize),
		WithRateLimit(cfg.RequestsPerSecond),
		WithRetryPolicy(retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		}),
		WithLogger(logger),
	)
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", e.Model()),
		zap.Int("dimensions", e.Dimensions()))
	return e, nil
}
