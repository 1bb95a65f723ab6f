package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{".rst", []string{".txt", ".md", ".rst"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

var testChunking = config.ChunkingConfig{Size: 60, Overlap: 10, Lookback: 20}

// explodingEmbedder fails every call whose input mentions "EXPLODE".
type explodingEmbedder struct {
	*embedding.MockEmbedder
}

func (e explodingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "EXPLODE") {
			return nil, fmt.Errorf("%w: provider down", models.ErrEmbeddingUnavailable)
		}
	}
	return e.MockEmbedder.Embed(ctx, texts)
}

type fixture struct {
	idx      *Indexer
	store    storage.Storage
	vectors  *vector.MemoryIndex
	keywords *keyword.BleveIndex
	embedder *embedding.MockEmbedder
}

func newFixture(t *testing.T, chunking config.ChunkingConfig, opts ...IndexerOption) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	vecIndex, err := vector.NewMemoryIndex(4, vector.Cosine)
	if err != nil {
		t.Fatal(err)
	}
	kwIndex, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kwIndex.Close() })
	embedder := embedding.NewMockEmbedder(4)
	opts = append([]IndexerOption{WithKeywordIndex(kwIndex)}, opts...)
	return &fixture{
		idx:      NewIndexer(store, embedder, vecIndex, chunking, opts...),
		store:    store,
		vectors:  vecIndex,
		keywords: kwIndex,
		embedder: embedder,
	}
}

func doc(name, text string) models.IngestDocument {
	return models.IngestDocument{Filename: name, Content: []byte(text)}
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	chunks, err := f.store.CountChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if int64(f.vectors.Size()) != chunks {
		t.Errorf("vector index has %d records, registry has %d chunks", f.vectors.Size(), chunks)
	}
	kw, err := f.keywords.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if int64(kw) != chunks {
		t.Errorf("keyword index has %d entries, registry has %d chunks", kw, chunks)
	}
}

func TestIngest_indexesDocuments(t *testing.T) {
	f := newFixture(t, testChunking)
	ctx := context.Background()

	long := strings.Repeat("The quarterly budget was approved by the board. ", 5)
	result, err := f.idx.Ingest(ctx, []models.IngestDocument{
		doc("budget.txt", long),
		doc("notes.md", "# Notes\n\nShort meeting notes."),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d (errors %v)", len(result.Documents), result.Errors)
	}
	if result.Documents[0].Filename != "budget.txt" || result.Documents[1].Filename != "notes.md" {
		t.Errorf("documents should keep input order: %s, %s", result.Documents[0].Filename, result.Documents[1].Filename)
	}
	if result.Documents[0].ChunkCount < 2 {
		t.Errorf("long document should span several chunks, got %d", result.Documents[0].ChunkCount)
	}
	if !strings.HasPrefix(result.Documents[0].ID, "doc:") {
		t.Errorf("unexpected id %q", result.Documents[0].ID)
	}
	if result.Documents[1].Format != models.FormatMarkdown {
		t.Errorf("format = %q, want md", result.Documents[1].Format)
	}
	if result.ChunksAdded != f.vectors.Size() {
		t.Errorf("ChunksAdded = %d, vector index size = %d", result.ChunksAdded, f.vectors.Size())
	}
	f.assertConsistent(t)

	first := ChunkID(result.Documents[0].ID, 0)
	found := false
	for _, r := range f.vectors.Records() {
		if r.ChunkID == first {
			found = true
			if r.Source != "budget.txt" || r.DocumentID != result.Documents[0].ID {
				t.Errorf("unexpected record %+v", r)
			}
		}
	}
	if !found {
		t.Errorf("chunk %q not in vector index", first)
	}
}

func TestIngest_identicalContentIsSkipped(t *testing.T) {
	f := newFixture(t, testChunking)
	ctx := context.Background()

	if _, err := f.idx.Ingest(ctx, []models.IngestDocument{doc("a.txt", "Alpha content here.")}); err != nil {
		t.Fatal(err)
	}
	calls := f.embedder.Calls()
	result, err := f.idx.Ingest(ctx, []models.IngestDocument{doc("a.txt", "Alpha content here.")})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "a.txt" {
		t.Errorf("expected a.txt to be skipped, got %+v", result)
	}
	if len(result.Documents) != 0 || result.ChunksAdded != 0 {
		t.Errorf("nothing should be indexed, got %+v", result)
	}
	if f.embedder.Calls() != calls {
		t.Error("skipped document must not be embedded")
	}
	f.assertConsistent(t)
}

func TestIngest_newVersionSupersedesOld(t *testing.T) {
	f := newFixture(t, testChunking)
	ctx := context.Background()

	first, err := f.idx.Ingest(ctx, []models.IngestDocument{doc("notes.txt", "Version one of the notes.")})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.idx.Ingest(ctx, []models.IngestDocument{doc("notes.txt", "Version two of the notes.")})
	if err != nil {
		t.Fatal(err)
	}
	if first.Documents[0].ID == second.Documents[0].ID {
		t.Fatal("different content should give a different id")
	}
	docs, _ := f.idx.ListDocuments(ctx, 0, 0)
	if len(docs) != 1 || docs[0].ID != second.Documents[0].ID {
		t.Errorf("only the new version should remain, got %d documents", len(docs))
	}
	for _, r := range f.vectors.Records() {
		if strings.Contains(r.Text, "one") {
			t.Errorf("stale chunk still indexed: %q", r.Text)
		}
	}
	f.assertConsistent(t)
}

func TestIngest_extractionErrorIsIsolated(t *testing.T) {
	f := newFixture(t, testChunking)
	result, err := f.idx.Ingest(context.Background(), []models.IngestDocument{
		doc("blob.bin", "\x00\x01"),
		doc("empty.txt", "   \n\t "),
		doc("good.txt", "Good document text."),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 1 || result.Documents[0].Filename != "good.txt" {
		t.Errorf("expected only good.txt indexed, got %+v", result.Documents)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %+v", result.Errors)
	}
	if result.Errors[0].Filename != "blob.bin" || result.Errors[1].Filename != "empty.txt" {
		t.Errorf("unexpected errors %+v", result.Errors)
	}
	f.assertConsistent(t)
}

func TestIngest_invalidChunkingRejectsRequest(t *testing.T) {
	f := newFixture(t, config.ChunkingConfig{Size: 100, Overlap: 100})
	result, err := f.idx.Ingest(context.Background(), []models.IngestDocument{doc("a.txt", "text")})
	if !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if result != nil {
		t.Errorf("no result expected, got %+v", result)
	}
	if f.embedder.Calls() != 0 {
		t.Error("nothing should be embedded")
	}
}

func TestIngest_embeddingFailureAborts(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	vecIndex, _ := vector.NewMemoryIndex(4, vector.Cosine)
	idx := NewIndexer(store, explodingEmbedder{embedding.NewMockEmbedder(4)}, vecIndex, testChunking, WithWorkers(1))

	result, err := idx.Ingest(context.Background(), []models.IngestDocument{
		doc("good.txt", "Committed before the failure."),
		doc("bad.txt", "This one will EXPLODE."),
		doc("late.txt", "Never reached."),
	})
	if !errors.Is(err, models.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if result == nil || len(result.Documents) != 1 || result.Documents[0].Filename != "good.txt" {
		t.Fatalf("expected good.txt to stay committed, got %+v", result)
	}
	if vecIndex.Size() != result.ChunksAdded {
		t.Errorf("vector index has %d records, want %d", vecIndex.Size(), result.ChunksAdded)
	}
	for _, r := range vecIndex.Records() {
		if r.Source != "good.txt" {
			t.Errorf("partial write of %s", r.Source)
		}
	}
	if n, _ := store.CountDocuments(context.Background()); n != 1 {
		t.Errorf("registry has %d documents, want 1", n)
	}
}

func TestIngest_dimensionMismatchAborts(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	vecIndex, _ := vector.NewMemoryIndex(8, vector.Cosine)
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), vecIndex, testChunking)

	_, err = idx.Ingest(context.Background(), []models.IngestDocument{doc("a.txt", "Some text.")})
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if vecIndex.Size() != 0 {
		t.Errorf("nothing should be written, got %d records", vecIndex.Size())
	}
	if n, _ := store.CountDocuments(context.Background()); n != 0 {
		t.Errorf("registry has %d documents, want 0", n)
	}
}

func TestIngest_canceled(t *testing.T) {
	f := newFixture(t, testChunking)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.idx.Ingest(ctx, []models.IngestDocument{doc("a.txt", "Some text.")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.vectors.Size() != 0 {
		t.Error("nothing should be indexed")
	}
}

func TestIngestDirectory(t *testing.T) {
	f := newFixture(t, testChunking, WithExtensions([]string{".txt", ".md"}))
	dir := t.TempDir()
	files := map[string]string{
		"a.txt":             "First file.",
		"sub/b.md":          "Second file.",
		"skip.go":           "package main",
		".hidden.txt":       "Hidden file.",
		".git/config.txt":   "Repository metadata.",
		"sub/deeper/c.txt":  "Third file.",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	result, err := f.idx.IngestDirectory(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, d := range result.Documents {
		got[d.Filename] = true
	}
	for _, want := range []string{"a.txt", "b.md", "c.txt"} {
		if !got[want] {
			t.Errorf("%s was not ingested", want)
		}
	}
	if len(result.Documents) != 3 {
		t.Errorf("expected 3 documents, got %d", len(result.Documents))
	}

	if _, err := f.idx.IngestDirectory(context.Background(), filepath.Join(dir, "a.txt")); err == nil {
		t.Error("expected error for a file path")
	}
}

func TestIngestPaths_missingFileIsReported(t *testing.T) {
	f := newFixture(t, testChunking)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	if err := os.WriteFile(good, []byte("Readable."), 0600); err != nil {
		t.Fatal(err)
	}
	result, err := f.idx.IngestPaths(context.Background(), []string{filepath.Join(dir, "missing.txt"), good})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 1 || len(result.Errors) != 1 || result.Errors[0].Filename != "missing.txt" {
		t.Errorf("unexpected result %+v", result)
	}

	single, err := f.idx.IngestFile(context.Background(), good)
	if err != nil {
		t.Fatal(err)
	}
	if len(single.Skipped) != 1 {
		t.Errorf("re-ingesting the same file should skip, got %+v", single)
	}
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, testChunking)
	ctx := context.Background()
	result, err := f.idx.Ingest(ctx, []models.IngestDocument{
		doc("keep.txt", "Keep this document."),
		doc("drop.txt", "Drop this document."),
	})
	if err != nil {
		t.Fatal(err)
	}
	dropID := result.Documents[1].ID

	if err := f.idx.DeleteDocument(ctx, dropID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.idx.GetDocument(ctx, dropID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := f.idx.DeleteDocument(ctx, dropID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete should be ErrNotFound, got %v", err)
	}
	for _, r := range f.vectors.Records() {
		if r.DocumentID == dropID {
			t.Error("deleted document still in vector index")
		}
	}
	f.assertConsistent(t)

	n, err := f.idx.DeleteByFilename(ctx, "keep.txt")
	if err != nil || n != 1 {
		t.Errorf("DeleteByFilename = %d, %v", n, err)
	}
	if f.vectors.Size() != 0 {
		t.Errorf("expected empty vector index, got %d", f.vectors.Size())
	}
}

func TestClearAndStats(t *testing.T) {
	f := newFixture(t, testChunking)
	ctx := context.Background()
	if _, err := f.idx.Ingest(ctx, []models.IngestDocument{doc("a.txt", "Alpha."), doc("b.txt", "Beta.")}); err != nil {
		t.Fatal(err)
	}
	stats, err := f.idx.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 2 || stats.Chunks != 2 || stats.Vectors != 2 || stats.Dimensions != 4 || !stats.Hybrid {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Metric != "cosine" || stats.Keyword != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if err := f.idx.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ = f.idx.Stats(ctx)
	if stats.Documents != 0 || stats.Vectors != 0 || stats.Keyword != 0 {
		t.Errorf("expected empty stats after clear, got %+v", stats)
	}

	// Clearing does not block re-ingesting the same content.
	result, err := f.idx.Ingest(ctx, []models.IngestDocument{doc("a.txt", "Alpha.")})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 1 {
		t.Errorf("expected a.txt to be indexed again, got %+v", result)
	}
}
