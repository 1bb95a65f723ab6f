// Package retriever finds the chunks most relevant to a question and renders them as
// model context.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/vector"
)

// hybridCandidates is the minimum number of candidates fetched from each index before fusion.
const hybridCandidates = 20

// Retriever embeds a query and looks it up in the vector index, optionally fusing the
// hits with BM25 matches from a keyword index.
type Retriever struct {
	embedder embedding.Embedder
	index    vector.Index
	keywords keyword.Index
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithKeywordIndex enables hybrid retrieval when cfg.Hybrid is set.
func WithKeywordIndex(k keyword.Index) Option {
	return func(r *Retriever) { r.keywords = k }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Retriever. Zero TopK and MaxK take the package defaults.
func New(embedder embedding.Embedder, index vector.Index, cfg config.RetrievalConfig, opts ...Option) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = config.DefaultTopK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = config.DefaultMaxK
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = config.DefaultMaxContextChars
	}
	if cfg.KeywordWeight == 0 && cfg.SemanticWeight == 0 {
		cfg.KeywordWeight, cfg.SemanticWeight = 0.3, 0.7
	}
	r := &Retriever{embedder: embedder, index: index, cfg: cfg, logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EffectiveK clamps a requested k: k <= 0 means the configured top_k, and anything
// above max_k is capped.
func (r *Retriever) EffectiveK(k int) int {
	if k <= 0 {
		k = r.cfg.TopK
	}
	return min(k, r.cfg.MaxK)
}

// MaxContextChars is the configured context budget.
func (r *Retriever) MaxContextChars() int { return r.cfg.MaxContextChars }

// FormatContext renders results within the configured context budget.
func (r *Retriever) FormatContext(results []models.RetrievalResult) string {
	return FormatContext(results, r.cfg.MaxContextChars)
}

// Retrieve returns up to k chunks relevant to query, best first. A blank query or an
// empty index yields no results and no error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	k = r.EffectiveK(k)
	if r.index.Size() == 0 {
		r.logger.Debug("vector index is empty", zap.String("query", query))
		return nil, nil
	}

	hybrid := r.cfg.Hybrid && r.keywords != nil
	candidates := k
	if hybrid {
		candidates = max(k*2, hybridCandidates)
	}

	var (
		hits   []vector.Hit
		kwHits []keyword.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := r.embedder.EmbedOne(gctx, query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		hits, err = r.index.Query(gctx, vec, candidates)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		return nil
	})
	if hybrid {
		g.Go(func() error {
			var err error
			kwHits, err = r.keywords.Search(gctx, query, candidates, &keyword.SearchOptions{SourceBoost: 2, PhraseBoost: 1.5})
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []models.RetrievalResult
	if hybrid {
		results = r.fuse(hits, kwHits, k)
	} else {
		results = make([]models.RetrievalResult, 0, len(hits))
		for _, h := range hits {
			results = append(results, models.RetrievalResult{
				ChunkID:    h.ChunkID,
				DocumentID: h.DocumentID,
				Score:      SemanticScore(h.Score, r.index.Metric()),
				Text:       h.Text,
				Source:     h.Source,
			})
		}
	}
	results = r.filter(results, hits)
	r.logger.Debug("retrieved chunks",
		zap.Int("k", k),
		zap.Int("results", len(results)),
		zap.Bool("hybrid", hybrid))
	return results, nil
}

// filter applies min_score to the semantic similarity of cosine indexes.
func (r *Retriever) filter(results []models.RetrievalResult, hits []vector.Hit) []models.RetrievalResult {
	if r.cfg.MinScore <= 0 || r.index.Metric() != vector.Cosine {
		return results
	}
	similarity := make(map[string]float64, len(hits))
	for _, h := range hits {
		similarity[h.ChunkID] = h.Score
	}
	kept := results[:0]
	for _, res := range results {
		if s, ok := similarity[res.ChunkID]; ok && s >= r.cfg.MinScore {
			kept = append(kept, res)
		}
	}
	return kept
}

func (r *Retriever) fuse(hits []vector.Hit, kwHits []keyword.Result, k int) []models.RetrievalResult {
	byID := make(map[string]models.RetrievalResult, len(hits)+len(kwHits))
	for _, kw := range kwHits {
		byID[kw.ChunkID] = models.RetrievalResult{ChunkID: kw.ChunkID, DocumentID: kw.DocumentID, Text: kw.Text, Source: kw.Source}
	}
	for _, h := range hits {
		byID[h.ChunkID] = models.RetrievalResult{ChunkID: h.ChunkID, DocumentID: h.DocumentID, Text: h.Text, Source: h.Source}
	}
	fused := Fuse(
		NormalizeKeywordScores(kwHits),
		NormalizeSemanticScores(hits, r.index.Metric()),
		r.cfg.KeywordWeight,
		r.cfg.SemanticWeight,
	)
	if len(fused) > k {
		fused = fused[:k]
	}
	out := make([]models.RetrievalResult, len(fused))
	for i, f := range fused {
		res := byID[f.ChunkID]
		res.Score = f.Score
		out[i] = res
	}
	return out
}
