package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kiku/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChunks(docID string, texts ...string) []*models.Chunk {
	var chunks []*models.Chunk
	offset := 0
	for i, text := range texts {
		chunks = append(chunks, &models.Chunk{
			ID:         docID + "#" + string(rune('0'+i)),
			DocumentID: docID,
			Index:      i,
			Text:       text,
			Start:      offset,
			End:        offset + len(text),
			Metadata:   map[string]string{models.MetaSource: "notes.txt"},
		})
		offset += len(text)
	}
	return chunks
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:          "doc:1",
		Filename:    "notes.txt",
		Format:      models.FormatText,
		ContentHash: "abc",
		Chars:       11,
	}
	if err := store.SaveDocument(ctx, doc, testChunks("doc:1", "hello ", "world")); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() || doc.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
	if doc.ChunkCount != 2 {
		t.Errorf("ChunkCount = %d, want 2", doc.ChunkCount)
	}

	got, err := store.GetDocument(ctx, "doc:1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Filename != "notes.txt" || got.Format != models.FormatText || got.Chars != 11 || got.ChunkCount != 2 {
		t.Errorf("got %+v", got)
	}

	list, err := store.ListDocuments(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 doc, got %d", len(list))
	}

	if err := store.DeleteDocument(ctx, "doc:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, "doc:1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteDocument(ctx, "doc:1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
	chunks, _ := store.GetChunksByDocumentID(ctx, "doc:1")
	if len(chunks) != 0 {
		t.Errorf("chunks should cascade on delete, got %d", len(chunks))
	}
}

func TestSQLiteStorage_Chunks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{ID: "d1", Filename: "notes.txt", Format: models.FormatText}
	if err := store.SaveDocument(ctx, doc, testChunks("d1", "aaa", "bbb", "ccc")); err != nil {
		t.Fatal(err)
	}

	list, err := store.GetChunksByDocumentID(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(list))
	}
	for i, c := range list {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
	if list[1].Text != "bbb" || list[1].Start != 3 || list[1].End != 6 {
		t.Errorf("got %+v", list[1])
	}
	if list[0].Metadata[models.MetaSource] != "notes.txt" {
		t.Errorf("metadata not restored: %v", list[0].Metadata)
	}

	// Saving again replaces the chunk set and keeps CreatedAt.
	created := doc.CreatedAt
	if err := store.SaveDocument(ctx, doc, testChunks("d1", "zz")); err != nil {
		t.Fatal(err)
	}
	list, _ = store.GetChunksByDocumentID(ctx, "d1")
	if len(list) != 1 || list[0].Text != "zz" {
		t.Errorf("expected replaced chunks, got %d", len(list))
	}
	got, _ := store.GetDocument(ctx, "d1")
	if got.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", got.ChunkCount)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: %v -> %v", created, got.CreatedAt)
	}
}

func TestSQLiteStorage_FindByFilename(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, d := range []*models.Document{
		{ID: "a", Filename: "report.pdf", Format: models.FormatPDF},
		{ID: "b", Filename: "report.pdf", Format: models.FormatPDF},
		{ID: "c", Filename: "other.pdf", Format: models.FormatPDF},
	} {
		if err := store.SaveDocument(ctx, d, nil); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := store.FindByFilename(ctx, "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 documents, got %d", len(docs))
	}
	docs, _ = store.FindByFilename(ctx, "missing.pdf")
	if len(docs) != 0 {
		t.Errorf("expected none, got %d", len(docs))
	}
}

func TestSQLiteStorage_CountsAndClear(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	n, err := store.CountDocuments(ctx)
	if err != nil || n != 0 {
		t.Errorf("CountDocuments: %v, %d", err, n)
	}
	_ = store.SaveDocument(ctx, &models.Document{ID: "x", Filename: "x.txt", Format: models.FormatText}, testChunks("x", "one", "two"))
	_ = store.SaveDocument(ctx, &models.Document{ID: "y", Filename: "y.txt", Format: models.FormatText}, testChunks("y", "three"))

	if n, _ = store.CountDocuments(ctx); n != 2 {
		t.Errorf("expected 2 documents, got %d", n)
	}
	if n, _ = store.CountChunks(ctx); n != 3 {
		t.Errorf("expected 3 chunks, got %d", n)
	}
	if all, _ := store.ListDocuments(ctx, 0, 0); len(all) != 2 {
		t.Errorf("limit 0 should list all, got %d", len(all))
	}
	if page, _ := store.ListDocuments(ctx, 1, 10); len(page) != 1 {
		t.Errorf("offset 1 should leave one document, got %d", len(page))
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ = store.CountDocuments(ctx); n != 0 {
		t.Errorf("expected 0 documents after clear, got %d", n)
	}
	if n, _ = store.CountChunks(ctx); n != 0 {
		t.Errorf("expected 0 chunks after clear, got %d", n)
	}
}

func TestSQLiteStorage_inMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.SaveDocument(ctx, &models.Document{ID: "m", Filename: "m.md", Format: models.FormatMarkdown}, nil); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountDocuments(ctx); n != 1 {
		t.Errorf("expected 1 document, got %d", n)
	}
}
