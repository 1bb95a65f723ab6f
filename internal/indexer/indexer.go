package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/extract"
	"github.com/hyperjump/kiku/internal/fileid"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
)

// Indexer runs the ingest pipeline: extract, chunk, embed, then commit to the vector
// index, the keyword index and the document registry.
type Indexer struct {
	storage    storage.Storage
	embedder   embedding.Embedder
	vectors    vector.Index
	keywords   keyword.Index
	extractor  *extract.Extractor
	chunking   config.ChunkingConfig
	workers    int
	extensions []string
	logger     *zap.Logger

	// commitMu serializes index and registry writes so a document is never half visible.
	commitMu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithKeywordIndex also writes chunks to a keyword index for hybrid retrieval.
func WithKeywordIndex(k keyword.Index) IndexerOption {
	return func(idx *Indexer) { idx.keywords = k }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *extract.Extractor) IndexerOption {
	return func(idx *Indexer) {
		if e != nil {
			idx.extractor = e
		}
	}
}

// WithWorkers sets how many documents are processed concurrently.
func WithWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithExtensions limits IngestDirectory to files with these extensions.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) { idx.extensions = exts }
}

// WithLogger sets a logger for debug output (file indexed, document deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// NewIndexer creates an indexer with the given dependencies. The chunking settings are
// validated on every ingest call.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	vectors vector.Index,
	chunking config.ChunkingConfig,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:   store,
		embedder:  embedder,
		vectors:   vectors,
		extractor: extract.NewExtractor(),
		chunking:  chunking,
		workers:   4,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// source is one document waiting to be ingested. Content is loaded lazily so directory
// ingests hold at most one file per worker in memory.
type source struct {
	filename string
	format   models.Format
	load     func() ([]byte, error)
}

// outcome is what happened to one source.
type outcome struct {
	doc     *models.Document
	chunks  int
	skipped bool
	err     error
}

// Ingest ingests documents concurrently and returns what was indexed, skipped or rejected.
//
// Invalid chunking settings reject the request before any work. A document that cannot be
// extracted is reported in IngestResult.Errors without affecting the others. An embedding
// outage, a dimension mismatch or a cancelled context aborts the request and is returned
// together with the partial result: documents committed before the failure stay indexed,
// the failing one is not written at all.
func (idx *Indexer) Ingest(ctx context.Context, docs []models.IngestDocument) (*models.IngestResult, error) {
	sources := make([]source, len(docs))
	for i, d := range docs {
		content := d.Content
		sources[i] = source{
			filename: d.Filename,
			format:   d.Format,
			load:     func() ([]byte, error) { return content, nil },
		}
	}
	return idx.ingest(ctx, sources)
}

// IngestFile ingests one file from disk.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	return idx.IngestPaths(ctx, []string{path})
}

// IngestPaths ingests files from disk. Directories are walked with IngestDirectory's rules.
func (idx *Indexer) IngestPaths(ctx context.Context, paths []string) (*models.IngestResult, error) {
	var sources []source
	var statErrs []models.FileError
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			statErrs = append(statErrs, models.FileError{Filename: filepath.Base(p), Error: err.Error()})
			continue
		}
		if info.IsDir() {
			found, err := idx.walk(p)
			if err != nil {
				return nil, err
			}
			sources = append(sources, found...)
			continue
		}
		sources = append(sources, fileSource(p))
	}
	result, err := idx.ingest(ctx, sources)
	if result != nil {
		result.Errors = append(statErrs, result.Errors...)
	}
	return result, err
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension is
// allowed (all files when no extensions are configured).
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string) (*models.IngestResult, error) {
	sources, err := idx.walk(dir)
	if err != nil {
		return nil, err
	}
	return idx.ingest(ctx, sources)
}

func (idx *Indexer) walk(dir string) ([]source, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var sources []source
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.Accepts(path) {
			return nil
		}
		// Resolve symlinks so we only ingest regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		sources = append(sources, fileSource(path))
		return nil
	})
	return sources, err
}

// Accepts reports whether path has an extension IngestDirectory would pick up.
func (idx *Indexer) Accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if len(idx.extensions) == 0 {
		return true
	}
	return extensionAllowed(filepath.Ext(path), idx.extensions)
}

func fileSource(path string) source {
	return source{
		filename: filepath.Base(path),
		load:     func() ([]byte, error) { return os.ReadFile(path) },
	}
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

func (idx *Indexer) ingest(ctx context.Context, sources []source) (*models.IngestResult, error) {
	chunker, err := NewChunker(idx.chunking.Size, idx.chunking.Overlap, WithLookback(idx.chunking.Lookback))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outcomes := make([]outcome, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for i, src := range sources {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := idx.ingestOne(gctx, chunker, src)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result := &models.IngestResult{Documents: []*models.Document{}}
	for i, out := range outcomes {
		switch {
		case out.err != nil:
			result.Errors = append(result.Errors, models.FileError{Filename: sources[i].filename, Error: out.err.Error()})
		case out.skipped:
			result.Skipped = append(result.Skipped, sources[i].filename)
		case out.doc != nil:
			result.Documents = append(result.Documents, out.doc)
			result.ChunksAdded += out.chunks
		}
	}
	idx.logger.Info("ingest finished",
		zap.Int("documents", len(result.Documents)),
		zap.Int("chunks", result.ChunksAdded),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Errors)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	return result, err
}

// ingestOne returns an error only when the whole request must stop; per-document
// problems are reported in the outcome.
func (idx *Indexer) ingestOne(ctx context.Context, chunker *Chunker, src source) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return outcome{}, err
	}
	content, err := src.load()
	if err != nil {
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
		return outcome{err: &models.ExtractionError{Filename: src.filename, Format: src.format, Err: err}}, nil
	}

	id := fileid.DocumentID(src.filename, content)
	switch _, err := idx.storage.GetDocument(ctx, id); {
	case err == nil:
		idx.logger.Debug("document unchanged, skipping", zap.String("filename", src.filename), zap.String("id", id))
		metrics.IngestDocumentsTotal.WithLabelValues("skipped").Inc()
		return outcome{skipped: true}, nil
	case !errors.Is(err, models.ErrNotFound):
		return outcome{}, fmt.Errorf("look up %s: %w", src.filename, err)
	}

	extracted, err := idx.extractor.ExtractBytes(src.filename, content, src.format)
	if err != nil {
		idx.logger.Warn("extraction failed", zap.String("filename", src.filename), zap.Error(err))
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
		return outcome{err: err}, nil
	}

	chunks := chunker.Chunk(id, extracted.Text, map[string]string{
		models.MetaSource: src.filename,
		models.MetaFormat: string(extracted.Format),
	})
	if len(chunks) == 0 {
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
		return outcome{err: &models.ExtractionError{Filename: src.filename, Format: extracted.Format, Err: errors.New("no text content found")}}, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return outcome{}, fmt.Errorf("embed %s: %w", src.filename, err)
	}
	if len(vecs) != len(chunks) {
		return outcome{}, fmt.Errorf("embed %s: %w: got %d vectors for %d chunks",
			src.filename, models.ErrEmbeddingUnavailable, len(vecs), len(chunks))
	}
	for i, v := range vecs {
		if len(v) != idx.vectors.Dimensions() {
			return outcome{}, fmt.Errorf("embed %s: %w", src.filename, models.DimensionMismatch(len(v), idx.vectors.Dimensions()))
		}
		chunks[i].Embedding = v
	}

	doc := &models.Document{
		ID:          id,
		Filename:    src.filename,
		Format:      extracted.Format,
		ContentHash: fileid.ContentHash(content),
		Chars:       len([]rune(extracted.Text)),
		Pages:       extracted.Pages,
	}
	if err := idx.commit(ctx, doc, chunks); err != nil {
		return outcome{}, err
	}
	metrics.IngestDocumentsTotal.WithLabelValues("indexed").Inc()
	metrics.IngestChunksTotal.Add(float64(len(chunks)))
	idx.logger.Debug("document indexed",
		zap.String("filename", doc.Filename),
		zap.String("id", doc.ID),
		zap.Int("chunks", len(chunks)))
	return outcome{doc: doc, chunks: len(chunks)}, nil
}

// commit writes a fully embedded document: prior chunks of the same id are removed, then
// the vector index, keyword index and registry are written in that order. A failure
// undoes the index writes already made. Older documents registered under the same
// filename are superseded and removed.
func (idx *Indexer) commit(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()

	if err := idx.removeIndexed(ctx, doc.ID); err != nil {
		return fmt.Errorf("remove previous chunks of %s: %w", doc.Filename, err)
	}

	records := make([]models.VectorRecord, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, ch := range chunks {
		records[i] = models.VectorRecord{
			ChunkID:    ch.ID,
			DocumentID: doc.ID,
			Vector:     ch.Embedding,
			Text:       ch.Text,
			Source:     doc.Filename,
		}
		chunkIDs[i] = ch.ID
	}
	if err := idx.vectors.Add(ctx, records); err != nil {
		return fmt.Errorf("index vectors of %s: %w", doc.Filename, err)
	}

	undo := func() {
		cleanup := context.WithoutCancel(ctx)
		if err := idx.vectors.Remove(cleanup, chunkIDs); err != nil {
			idx.logger.Error("failed to roll back vectors", zap.String("id", doc.ID), zap.Error(err))
		}
		if idx.keywords != nil {
			if err := idx.keywords.DeleteDocument(cleanup, doc.ID); err != nil {
				idx.logger.Error("failed to roll back keyword entries", zap.String("id", doc.ID), zap.Error(err))
			}
		}
	}

	if idx.keywords != nil {
		entries := make([]keyword.Entry, len(chunks))
		for i, ch := range chunks {
			entries[i] = keyword.Entry{ChunkID: ch.ID, DocumentID: doc.ID, Source: doc.Filename, Text: ch.Text}
		}
		if err := idx.keywords.IndexChunks(ctx, entries); err != nil {
			undo()
			return fmt.Errorf("index keywords of %s: %w", doc.Filename, err)
		}
	}

	if err := idx.storage.SaveDocument(ctx, doc, chunks); err != nil {
		undo()
		return fmt.Errorf("register %s: %w", doc.Filename, err)
	}

	older, err := idx.storage.FindByFilename(ctx, doc.Filename)
	if err != nil {
		idx.logger.Warn("failed to look up older versions", zap.String("filename", doc.Filename), zap.Error(err))
		return nil
	}
	for _, old := range older {
		if old.ID == doc.ID {
			continue
		}
		if err := idx.deleteLocked(ctx, old.ID); err != nil {
			idx.logger.Warn("failed to remove superseded document",
				zap.String("filename", doc.Filename), zap.String("id", old.ID), zap.Error(err))
			continue
		}
		idx.logger.Debug("superseded document removed", zap.String("filename", doc.Filename), zap.String("id", old.ID))
	}
	return nil
}

// removeIndexed drops whatever the indexes hold for docID, using the registry's chunk list.
func (idx *Indexer) removeIndexed(ctx context.Context, docID string) error {
	chunks, err := idx.storage.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return err
	}
	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
		}
		if err := idx.vectors.Remove(ctx, ids); err != nil {
			return err
		}
	}
	if idx.keywords != nil {
		return idx.keywords.DeleteDocument(ctx, docID)
	}
	return nil
}

// DeleteDocument removes a document from all indexes and the registry.
// It returns models.ErrNotFound when the id is not registered.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()
	return idx.deleteLocked(ctx, id)
}

func (idx *Indexer) deleteLocked(ctx context.Context, id string) error {
	if _, err := idx.storage.GetDocument(ctx, id); err != nil {
		return err
	}
	if err := idx.removeIndexed(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from indexes: %w", err)
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	idx.logger.Debug("document deleted", zap.String("id", id))
	return nil
}

// DeleteByFilename removes every document registered under filename and returns how many
// were removed.
func (idx *Indexer) DeleteByFilename(ctx context.Context, filename string) (int, error) {
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()
	docs, err := idx.storage.FindByFilename(ctx, filename)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		if err := idx.deleteLocked(ctx, d.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// GetDocument returns a registry entry by id.
func (idx *Indexer) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return idx.storage.GetDocument(ctx, id)
}

// ListDocuments returns registry entries, newest first. limit <= 0 lists all.
func (idx *Indexer) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	return idx.storage.ListDocuments(ctx, offset, limit)
}

// Clear empties the vector index, the keyword index and the registry.
func (idx *Indexer) Clear(ctx context.Context) error {
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()
	if err := idx.vectors.Clear(ctx); err != nil {
		return fmt.Errorf("clear vector index: %w", err)
	}
	if idx.keywords != nil {
		if err := idx.keywords.Clear(ctx); err != nil {
			return fmt.Errorf("clear keyword index: %w", err)
		}
	}
	if err := idx.storage.Clear(ctx); err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}
	idx.logger.Info("index cleared")
	return nil
}

// Stats describes what is currently indexed.
type Stats struct {
	Documents  int64  `json:"documents"`
	Chunks     int64  `json:"chunks"`
	Vectors    int    `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	Metric     string `json:"metric"`
	Keyword    uint64 `json:"keyword_entries,omitempty"`
	Hybrid     bool   `json:"hybrid"`
}

// Stats returns registry and index counts.
func (idx *Indexer) Stats(ctx context.Context) (*Stats, error) {
	docs, err := idx.storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := idx.storage.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		Documents:  docs,
		Chunks:     chunks,
		Vectors:    idx.vectors.Size(),
		Dimensions: idx.vectors.Dimensions(),
		Metric:     string(idx.vectors.Metric()),
		Hybrid:     idx.keywords != nil,
	}
	if idx.keywords != nil {
		if n, err := idx.keywords.DocCount(); err == nil {
			s.Keyword = n
		}
	}
	return s, nil
}
