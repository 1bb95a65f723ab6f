// Package qa answers questions about the ingested documents.
package qa

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/answer"
	"github.com/hyperjump/kiku/internal/conversation"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/retriever"
)

// Engine ties retrieval to answer generation.
type Engine struct {
	retriever *retriever.Retriever
	answers   *answer.Generator
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(r *retriever.Retriever, a *answer.Generator, opts ...Option) *Engine {
	e := &Engine{retriever: r, answers: a, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Ask retrieves context for req.Question and answers it, recording the exchange in state.
// state may be nil for a one-off question. A blank question fails with
// models.ErrInvalidRequest before anything is retrieved.
func (e *Engine) Ask(ctx context.Context, state *conversation.State, req models.AskRequest) (*models.AskResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := e.retriever.Retrieve(ctx, req.Question, req.K)
	if err != nil {
		return nil, err
	}
	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())

	ans, err := e.answers.Answer(ctx, state, req.Question, answer.Grounding{
		Results: results,
		Context: e.retriever.FormatContext(results),
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("question answered",
		zap.Int("retrieved", len(results)),
		zap.Bool("grounded", ans.Grounded),
		zap.Duration("took", time.Since(start)))

	sources := ans.Sources
	if sources == nil {
		sources = []models.SourceRef{}
	}
	return &models.AskResponse{
		Answer:    ans.Text,
		Sources:   sources,
		Grounded:  ans.Grounded,
		Retrieved: len(results),
	}, nil
}
