// Package storage defines the document registry: what has been ingested and how it was chunked.
package storage

import (
	"context"

	"github.com/hyperjump/kiku/internal/models"
)

// Storage persists document registry entries and their chunks.
type Storage interface {
	// SaveDocument inserts or replaces doc together with its chunks.
	SaveDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// FindByFilename returns every document registered under filename, newest first.
	FindByFilename(ctx context.Context, filename string) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	// Clear removes every document and chunk.
	Clear(ctx context.Context) error
	Close() error
}
