package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/models"
)

// NeedsRebuild reports whether the vector index disagrees with the registry, as happens
// after a restart with the memory backend and no snapshot.
func (idx *Indexer) NeedsRebuild(ctx context.Context) (bool, error) {
	chunks, err := idx.storage.CountChunks(ctx)
	if err != nil {
		return false, err
	}
	return chunks != int64(idx.vectors.Size()), nil
}

// Rebuild re-embeds every registered chunk and repopulates the vector and keyword indexes
// from scratch. The registry is the source of truth; documents are not re-extracted.
// It returns the number of chunks indexed.
func (idx *Indexer) Rebuild(ctx context.Context) (int, error) {
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()

	start := time.Now()
	docs, err := idx.storage.ListDocuments(ctx, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	if err := idx.vectors.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clear vector index: %w", err)
	}
	if idx.keywords != nil {
		if err := idx.keywords.Clear(ctx); err != nil {
			return 0, fmt.Errorf("clear keyword index: %w", err)
		}
	}

	total := 0
	for _, doc := range docs {
		n, err := idx.reindexDocument(ctx, doc)
		if err != nil {
			return total, err
		}
		total += n
	}
	idx.logger.Info("index rebuilt",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", total),
		zap.Duration("took", time.Since(start)))
	return total, nil
}

func (idx *Indexer) reindexDocument(ctx context.Context, doc *models.Document) (int, error) {
	chunks, err := idx.storage.GetChunksByDocumentID(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("load chunks of %s: %w", doc.Filename, err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", doc.Filename, err)
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embed %s: %w: got %d vectors for %d chunks",
			doc.Filename, models.ErrEmbeddingUnavailable, len(vecs), len(chunks))
	}

	records := make([]models.VectorRecord, len(chunks))
	entries := make([]keyword.Entry, len(chunks))
	for i, ch := range chunks {
		if len(vecs[i]) != idx.vectors.Dimensions() {
			return 0, fmt.Errorf("embed %s: %w", doc.Filename, models.DimensionMismatch(len(vecs[i]), idx.vectors.Dimensions()))
		}
		records[i] = models.VectorRecord{ChunkID: ch.ID, DocumentID: doc.ID, Vector: vecs[i], Text: ch.Text, Source: doc.Filename}
		entries[i] = keyword.Entry{ChunkID: ch.ID, DocumentID: doc.ID, Source: doc.Filename, Text: ch.Text}
	}
	if err := idx.vectors.Add(ctx, records); err != nil {
		return 0, fmt.Errorf("index vectors of %s: %w", doc.Filename, err)
	}
	if idx.keywords != nil {
		if err := idx.keywords.IndexChunks(ctx, entries); err != nil {
			return 0, fmt.Errorf("index keywords of %s: %w", doc.Filename, err)
		}
	}
	return len(chunks), nil
}
