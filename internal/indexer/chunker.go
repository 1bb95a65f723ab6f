// Package indexer provides document chunking and the ingest pipeline.
package indexer

import (
	"fmt"
	"maps"
	"strings"
	"unicode"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/models"
)

// Chunker splits text into overlapping character windows, preferring to cut at a
// sentence end or whitespace near each window's end.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	lookback     int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithLookback sets how far before a hard cutoff the chunker searches for a boundary.
// It is capped at the chunk size; 0 disables boundary search.
func WithLookback(n int) ChunkerOption {
	return func(c *Chunker) { c.lookback = n }
}

// NewChunker creates a chunker with the given size and overlap in characters.
// It fails with models.ErrInvalidConfiguration unless size > 0 and 0 <= overlap < size.
func NewChunker(chunkSize, chunkOverlap int, opts ...ChunkerOption) (*Chunker, error) {
	c := &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		lookback:     config.DefaultChunkLookback,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := config.ValidateChunking(config.ChunkingConfig{Size: chunkSize, Overlap: chunkOverlap, Lookback: c.lookback}); err != nil {
		return nil, err
	}
	if c.lookback > c.chunkSize {
		c.lookback = c.chunkSize
	}
	return c, nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap returns the configured chunk overlap.
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Chunk splits text into chunks. Each chunk is the exact span text[Start:End] in rune
// offsets, so removing overlaps and concatenating reconstructs text. Blank text yields nil.
// metadata is copied onto every chunk.
func (c *Chunker) Chunk(docID, text string, metadata map[string]string) []*models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= c.chunkSize {
		return []*models.Chunk{c.newChunk(docID, 0, runes, 0, n, metadata)}
	}

	var chunks []*models.Chunk
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end < n {
			end = c.boundary(runes, start, end)
		}
		// Whitespace-only windows are kept so consecutive chunks always overlap or touch.
		chunks = append(chunks, c.newChunk(docID, len(chunks), runes, start, min(end, n), metadata))
		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// boundary returns where a chunk starting at start should end instead of the hard cutoff
// end: just after the last sentence end (.!? followed by whitespace) within the lookback
// window, else just after the last whitespace there, else end itself.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	from := max(end-c.lookback, start+1)
	for i := end - 1; i >= from; i-- {
		if isSentenceEnd(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	for i := end - 1; i >= from; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func (c *Chunker) newChunk(docID string, index int, runes []rune, start, end int, metadata map[string]string) *models.Chunk {
	return &models.Chunk{
		ID:         ChunkID(docID, index),
		DocumentID: docID,
		Index:      index,
		Text:       string(runes[start:end]),
		Start:      start,
		End:        end,
		Metadata:   maps.Clone(metadata),
	}
}

// ChunkID returns the stable id of the index-th chunk of a document.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%d", docID, index)
}
