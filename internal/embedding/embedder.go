// Package embedding turns text into vectors through hosted or local models.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kiku/internal/models"
)

// Embedder produces vector embeddings for text. The same embedder must serve ingestion
// and queries so that vectors stay comparable.
type Embedder interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
	Close() error
}

// embedOne is the shared EmbedOne implementation on top of Embed.
func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", models.ErrEmbeddingUnavailable, len(vecs))
	}
	return vecs[0], nil
}
