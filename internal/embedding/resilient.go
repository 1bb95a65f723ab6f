package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/retry"
)

// ResilientEmbedder splits input into bounded batches, paces calls with a rate limiter and
// retries transient provider failures. Exhausted or non-transient failures are returned
// wrapping models.ErrEmbeddingUnavailable; a cancelled context is returned as is.
type ResilientEmbedder struct {
	inner     Embedder
	batchSize int
	limiter   *rate.Limiter
	policy    retry.Policy
	logger    *zap.Logger
}

// ResilientOption configures a ResilientEmbedder.
type ResilientOption func(*ResilientEmbedder)

// WithBatchSize caps how many texts go into one provider call.
func WithBatchSize(n int) ResilientOption {
	return func(r *ResilientEmbedder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRateLimit allows rps provider calls per second. Zero disables pacing.
func WithRateLimit(rps float64) ResilientOption {
	return func(r *ResilientEmbedder) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			r.limiter = nil
		}
	}
}

// WithRetryPolicy sets attempts and backoff.
func WithRetryPolicy(p retry.Policy) ResilientOption {
	return func(r *ResilientEmbedder) { r.policy = p }
}

// WithLogger sets a logger for retry warnings.
func WithLogger(l *zap.Logger) ResilientOption {
	return func(r *ResilientEmbedder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResilientEmbedder wraps inner. Defaults: batches of 100, no rate limit, 5 attempts
// starting at 500ms backoff.
func NewResilientEmbedder(inner Embedder, opts ...ResilientOption) *ResilientEmbedder {
	r := &ResilientEmbedder{
		inner:     inner,
		batchSize: 100,
		policy:    retry.Policy{MaxAttempts: 5, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 20 * time.Second},
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Embed embeds texts batch by batch. Either every vector is returned or none is.
func (r *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.batchSize {
		end := min(start+r.batchSize, len(texts))
		vecs, err := r.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (r *ResilientEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vecs [][]float32
	notify := func(attempt int, err error, wait time.Duration) {
		metrics.EmbeddingRetriesTotal.WithLabelValues(r.inner.Model()).Inc()
		r.logger.Warn("embedding call failed, retrying",
			zap.String("model", r.inner.Model()),
			zap.Int("attempt", attempt),
			zap.Int("batch", len(batch)),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	err := retry.Do(ctx, r.policy, notify, func(ctx context.Context) error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		got, err := r.inner.Embed(ctx, batch)
		if err != nil {
			return err
		}
		if len(got) != len(batch) {
			return retry.Permanent(fmt.Errorf("provider returned %d vectors for %d texts", len(got), len(batch)))
		}
		vecs = got
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, models.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, err)
	}
	return vecs, nil
}

// EmbedOne embeds a single text.
func (r *ResilientEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, r, text)
}

// Dimensions returns the wrapped embedder's dimension.
func (r *ResilientEmbedder) Dimensions() int { return r.inner.Dimensions() }

// Model returns the wrapped embedder's model.
func (r *ResilientEmbedder) Model() string { return r.inner.Model() }

// Close closes the wrapped embedder.
func (r *ResilientEmbedder) Close() error { return r.inner.Close() }
