package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/retry"
)

// GeminiGenerator calls the Gemini GenerateContent API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiGenerator creates a Gemini client for the given API key.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini generator: API key is required (set GOOGLE_API_KEY)")
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
	return &GeminiGenerator{client: client, model: model, logger: logger}, nil
}

// Generate sends history and the user message as contents with the system prompt as the
// system instruction.
func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, m := range p.History {
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
	}
	contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{genai.NewPartFromText(p.User)}})

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.Temperature)),
		MaxOutputTokens: int32(p.MaxTokens),
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues("gemini", g.model, "error").Inc()
		g.logger.Debug("gemini request failed", zap.Error(err))
		return "", geminiError(err)
	}
	metrics.GenerationRequestsTotal.WithLabelValues("gemini", g.model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues("gemini", g.model).Observe(time.Since(start).Seconds())

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	return text, nil
}

// Model returns the model identifier.
func (g *GeminiGenerator) Model() string { return g.model }

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
