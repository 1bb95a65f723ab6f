// Package app wires storage, indexes and model clients into the services the
// kiku binaries share.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/answer"
	"github.com/hyperjump/kiku/internal/autosave"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/indexer"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/llm"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/qa"
	"github.com/hyperjump/kiku/internal/retriever"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  vector.Index
	KeywordIndex keyword.Index
	Snapshots    *autosave.Snapshotter
	Engine       *qa.Engine
	Indexer      *indexer.Indexer
	logger       *zap.Logger
}

// Close releases everything Initialize opened.
func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// Reconcile re-embeds registered chunks when the vector index does not match the
// registry, so unchanged files are not skipped against an empty index.
func (c *Components) Reconcile(ctx context.Context) error {
	need, err := c.Indexer.NeedsRebuild(ctx)
	if err != nil || !need {
		return err
	}
	c.logger.Info("vector index out of sync with registry, rebuilding")
	if _, err := c.Indexer.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	return c.SaveSnapshot()
}

// SaveSnapshot persists the memory index after a one-shot command changed it. It is a
// no-op for backends that write through.
func (c *Components) SaveSnapshot() error {
	if c.Snapshots.Path() == "" {
		return nil
	}
	n, err := c.Snapshots.Save()
	if err != nil {
		return fmt.Errorf("save vector snapshot: %w", err)
	}
	c.logger.Debug("vector snapshot saved", zap.String("path", c.Snapshots.Path()), zap.Int("records", n))
	return nil
}

// Options selects what Initialize builds. Commands that only touch the registry skip
// the generation client.
type Options struct {
	Generation bool
}

// Initialize opens storage and the indexes described by cfg. On error everything
// opened so far is closed.
func Initialize(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *Components, err error) {
	metrics.Register()
	c := &Components{logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	emb, err := embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = emb

	vecs, err := vector.New(cfg.Vector, emb.Dimensions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = vecs
	// Only the memory backend needs snapshots; badger writes through.
	snapshotPath := ""
	if cfg.Vector.Backend == vector.BackendMemory {
		snapshotPath = cfg.Vector.SnapshotPath
	}
	c.Snapshots = autosave.New(c.VectorIndex, snapshotPath, logger)
	if snapshotPath != "" {
		if err := c.Snapshots.Restore(); err != nil {
			logger.Warn("vector snapshot load skipped (index will be rebuilt)",
				zap.String("path", cfg.Vector.SnapshotPath), zap.Error(err))
		}
	}
	logger.Info("vector index initialized",
		zap.String("backend", cfg.Vector.Backend),
		zap.String("metric", string(c.VectorIndex.Metric())),
		zap.Int("records", c.VectorIndex.Size()))

	if cfg.Retrieval.Hybrid {
		kw, err := keyword.NewBleveIndex(cfg.Retrieval.KeywordIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		c.KeywordIndex = kw
	}

	idxOpts := []indexer.IndexerOption{
		indexer.WithWorkers(cfg.Ingest.Workers),
		indexer.WithExtensions(cfg.Ingest.Extensions),
		indexer.WithLogger(logger),
	}
	retrieverOpts := []retriever.Option{retriever.WithLogger(logger)}
	if c.KeywordIndex != nil {
		idxOpts = append(idxOpts, indexer.WithKeywordIndex(c.KeywordIndex))
		retrieverOpts = append(retrieverOpts, retriever.WithKeywordIndex(c.KeywordIndex))
	}
	c.Indexer = indexer.NewIndexer(c.Storage, c.Embedder, c.VectorIndex, cfg.Chunking, idxOpts...)

	if !opts.Generation {
		return c, nil
	}
	model, err := llm.New(ctx, cfg.Generation, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	answers := answer.New(model,
		answer.WithHistoryTurns(cfg.Conversation.HistoryTurns),
		answer.WithSampling(cfg.Generation.Temperature, cfg.Generation.MaxTokens),
		answer.WithLogger(logger),
	)
	c.Engine = qa.NewEngine(retriever.New(c.Embedder, c.VectorIndex, cfg.Retrieval, retrieverOpts...), answers, qa.WithLogger(logger))
	return c, nil
}
