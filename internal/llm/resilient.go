package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/retry"
)

// Resilient retries transient generation failures. Exhausted or non-transient failures
// are returned wrapping models.ErrGenerationUnavailable; a cancelled context is returned
// as is.
type Resilient struct {
	inner  Generator
	policy retry.Policy
	logger *zap.Logger
}

// NewResilient wraps inner with the given retry policy.
func NewResilient(inner Generator, policy retry.Policy, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{inner: inner, policy: policy, logger: logger}
}

// Generate calls the wrapped generator until it succeeds or retries run out.
func (r *Resilient) Generate(ctx context.Context, p Prompt) (string, error) {
	var out string
	notify := func(attempt int, err error, wait time.Duration) {
		metrics.GenerationRetriesTotal.WithLabelValues(r.inner.Model()).Inc()
		r.logger.Warn("generation call failed, retrying",
			zap.String("model", r.inner.Model()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	err := retry.Do(ctx, r.policy, notify, func(ctx context.Context) error {
		text, err := r.inner.Generate(ctx, p)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
	}
	return out, nil
}

// Model returns the wrapped generator's model.
func (r *Resilient) Model() string { return r.inner.Model() }
