// Package vector stores chunk embeddings and answers nearest-neighbour queries.
package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kiku/internal/models"
)

// Metric is the similarity measure an index ranks by.
type Metric string

const (
	// Cosine ranks by cosine similarity, highest first.
	Cosine Metric = "cosine"
	// L2 ranks by Euclidean distance, lowest first.
	L2 Metric = "l2"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Cosine, "":
		return Cosine, nil
	case L2:
		return L2, nil
	default:
		return "", fmt.Errorf("unknown metric %q (supported: cosine, l2)", s)
	}
}

// Index stores vector records and answers similarity queries.
type Index interface {
	// Add inserts records, replacing any with the same chunk id in place.
	Add(ctx context.Context, records []models.VectorRecord) error
	// Query returns up to k hits ordered best first.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Remove(ctx context.Context, chunkIDs []string) error
	Persist(path string) error
	Load(path string) error
	Clear(ctx context.Context) error
	Size() int
	Dimensions() int
	Metric() Metric
	Close() error
}

// Hit is a query match. For Cosine, Score is the similarity; for L2 it is the distance.
type Hit struct {
	ChunkID    string
	DocumentID string
	Text       string
	Source     string
	Score      float64
}
