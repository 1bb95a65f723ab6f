// Package answer turns retrieved context and a question into a grounded answer.
package answer

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/conversation"
	"github.com/hyperjump/kiku/internal/llm"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
)

// Grounding is what retrieval found for a question.
type Grounding struct {
	Results []models.RetrievalResult
	// Context is Results rendered for the model.
	Context string
}

// Generator answers questions with a chat model, constrained to retrieved context.
type Generator struct {
	llm          llm.Generator
	classifier   Classifier
	historyTurns int
	temperature  float64
	maxTokens    int
	logger       *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(g *Generator) {
		if c != nil {
			g.classifier = c
		}
	}
}

// WithHistoryTurns sets how many prior turns are sent to the model. Zero sends none.
func WithHistoryTurns(n int) Option {
	return func(g *Generator) { g.historyTurns = max(n, 0) }
}

// WithSampling sets temperature and the completion token limit.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(g *Generator) {
		g.temperature = temperature
		if maxTokens > 0 {
			g.maxTokens = maxTokens
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Generator around a chat model.
func New(model llm.Generator, opts ...Option) *Generator {
	g := &Generator{
		llm:          model,
		classifier:   DefaultClassifier,
		historyTurns: config.DefaultHistoryTurns,
		temperature:  config.DefaultTemperature,
		maxTokens:    config.DefaultMaxTokens,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Answer produces the answer to question and records the exchange in state.
//
// With no retrieved results the model is not called and the fallback is returned. A reply
// the classifier flags is replaced by the fallback. Model errors are returned unchanged
// and leave state untouched. state may be nil for one-off questions.
func (g *Generator) Answer(ctx context.Context, state *conversation.State, question string, grounding Grounding) (*models.Answer, error) {
	var ans *models.Answer
	if len(grounding.Results) == 0 {
		g.logger.Debug("no context retrieved, answering with fallback")
		ans = &models.Answer{Text: FallbackText, Sources: []models.SourceRef{}}
	} else {
		prompt := llm.Prompt{
			System:      SystemPrompt,
			History:     g.history(state),
			User:        UserMessage(grounding.Context, question),
			Temperature: g.temperature,
			MaxTokens:   g.maxTokens,
		}
		reply, err := g.llm.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		if g.classifier(reply) {
			g.logger.Debug("model reply classified as not found", zap.String("reply", reply))
			ans = &models.Answer{Text: FallbackText, Sources: []models.SourceRef{}}
		} else {
			ans = &models.Answer{Text: reply, Sources: models.SourceRefs(grounding.Results), Grounded: true}
		}
	}

	metrics.AnswersTotal.WithLabelValues(strconv.FormatBool(ans.Grounded)).Inc()
	if state != nil {
		state.AppendExchange(
			models.Turn{Role: models.RoleUser, Content: question},
			models.Turn{Role: models.RoleAssistant, Content: ans.Text, Sources: ans.Sources, Grounded: ans.Grounded},
		)
	}
	return ans, nil
}

func (g *Generator) history(state *conversation.State) []llm.Message {
	if state == nil || g.historyTurns == 0 {
		return nil
	}
	turns := state.History(g.historyTurns, conversation.Chronological)
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return msgs
}
