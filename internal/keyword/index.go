// Package keyword provides BM25 keyword search over chunk text.
package keyword

import "context"

// SearchOptions are optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// SourceBoost multiplies the score contribution from matches in the source filename.
	// Values > 1 make filename matches rank higher. Use 1.0 for no boost.
	SourceBoost float64
	// PhraseBoost multiplies the score when query terms appear as a phrase.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy term matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default is 1.
	Fuzziness int
}

// Entry is one chunk as stored in the keyword index.
type Entry struct {
	ChunkID    string
	DocumentID string
	Source     string
	Text       string
}

// Index defines keyword search operations over chunks.
type Index interface {
	IndexChunks(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error)
	// DeleteDocument removes every chunk belonging to documentID.
	DeleteDocument(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Source     string
	Text       string
	Score      float64
}
