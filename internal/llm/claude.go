package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/retry"
)

// ClaudeGenerator calls the Anthropic Messages API.
type ClaudeGenerator struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// NewClaudeGenerator creates a Claude client. Retries are left to the Resilient wrapper.
func NewClaudeGenerator(apiKey, baseURL, model string, logger *zap.Logger) (*ClaudeGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("claude generator: API key is required (set ANTHROPIC_API_KEY)")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeGenerator{client: anthropic.NewClient(opts...), model: model, logger: logger}, nil
}

// Generate sends the prompt as a Messages request and joins the text blocks of the reply.
func (g *ClaudeGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]anthropic.MessageParam, 0, len(p.History)+1)
	for _, m := range p.History {
		if m.Role == models.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   int64(p.MaxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(p.Temperature),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	start := time.Now()
	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues("claude", g.model, "error").Inc()
		g.logger.Debug("claude request failed", zap.Error(err))
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &retry.HTTPError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", err
	}
	metrics.GenerationRequestsTotal.WithLabelValues("claude", g.model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues("claude", g.model).Observe(time.Since(start).Seconds())

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude API")
	}
	return strings.TrimSpace(text.String()), nil
}

// Model returns the model identifier.
func (g *ClaudeGenerator) Model() string { return g.model }
