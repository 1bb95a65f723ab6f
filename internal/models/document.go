// Package models defines core data structures for documents, chunks, retrieval, and conversations.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Format is a document format tag.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatDOC      Format = "doc"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
	FormatRTF      Format = "rtf"
	FormatODT      Format = "odt"
)

// FormatFromFilename returns the format implied by the file extension, or "" when unknown.
func FormatFromFilename(name string) Format {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "pdf":
		return FormatPDF
	case "docx":
		return FormatDOCX
	case "doc":
		return FormatDOC
	case "txt", "text", "log", "csv", "rst":
		return FormatText
	case "md", "markdown":
		return FormatMarkdown
	case "html", "htm":
		return FormatHTML
	case "xlsx":
		return FormatXLSX
	case "rtf":
		return FormatRTF
	case "odt":
		return FormatODT
	}
	return ""
}

// ParseFormat normalizes a declared format such as "PDF", ".docx" or "text/plain".
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto":
		return ""
	case "text/plain", "text":
		return FormatText
	case "application/pdf":
		return FormatPDF
	case "text/markdown":
		return FormatMarkdown
	case "text/html":
		return FormatHTML
	}
	return FormatFromFilename("x." + strings.TrimPrefix(s, "."))
}

// Document is the registry entry kept for an ingested document.
// Raw bytes and extracted text are not retained after chunking.
type Document struct {
	ID          string    `json:"id" db:"id"`
	Filename    string    `json:"filename" db:"filename"`
	Format      Format    `json:"format" db:"format"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Chars       int       `json:"chars" db:"chars"`
	ChunkCount  int       `json:"chunk_count" db:"chunk_count"`
	Pages       int       `json:"pages,omitempty" db:"pages"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// IngestDocument is one document submitted for ingestion.
type IngestDocument struct {
	Filename string `json:"filename" validate:"required"`
	// Format is optional; when empty it is derived from Filename.
	Format  Format `json:"format,omitempty"`
	Content []byte `json:"content" validate:"required"`
}

// Chunk is a contiguous span of a document's normalized text.
// Start and End are character (rune) offsets into that text.
type Chunk struct {
	ID         string            `json:"id" db:"id"`
	DocumentID string            `json:"document_id" db:"document_id"`
	Index      int               `json:"index" db:"chunk_index"`
	Text       string            `json:"text" db:"text"`
	Start      int               `json:"start" db:"start_offset"`
	End        int               `json:"end" db:"end_offset"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"-"`
	Embedding  []float32         `json:"-" db:"-"`
}

// Metadata keys copied onto chunks by the ingest pipeline.
const (
	MetaSource = "source"
	MetaFormat = "format"
)
