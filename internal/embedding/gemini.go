package embedding

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/retry"
)

// GeminiEmbedder calls the Gemini embedContent API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewGeminiEmbedder creates a Gemini embedding provider for the given API key.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int, logger *zap.Logger) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions, logger: logger}, nil
}

// Embed sends all texts as one batch request.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{}
	if e.dimensions > 0 {
		d := int32(e.dimensions)
		cfg.OutputDimensionality = &d
	}

	start := time.Now()
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("gemini", e.model, "error").Inc()
		e.logger.Debug("gemini embedding failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, geminiError(err)
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues("gemini", e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues("gemini", e.model).Observe(time.Since(start).Seconds())

	if result == nil || len(result.Embeddings) != len(texts) {
		n := 0
		if result != nil {
			n = len(result.Embeddings)
		}
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", n, len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini returned an empty embedding at position %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (e *GeminiEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// Dimensions returns the configured output dimensionality.
func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }

// Model returns the model identifier.
func (e *GeminiEmbedder) Model() string { return e.model }

// Close is a no-op; genai.Client holds no resources that need releasing.
func (e *GeminiEmbedder) Close() error { return nil }

// geminiStatusRe matches the "Error 429, Message: ..." prefix of genai API errors.
var geminiStatusRe = regexp.MustCompile(`Error (\d{3}),`)

func geminiError(err error) error {
	if m := geminiStatusRe.FindStringSubmatch(err.Error()); len(m) == 2 {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return &retry.HTTPError{StatusCode: code, Err: err}
		}
	}
	return err
}
