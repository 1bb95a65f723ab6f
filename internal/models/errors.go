package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration marks bad settings (e.g. chunk overlap >= chunk size).
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrEmbeddingUnavailable is returned when the embedding service failed after retries.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	// ErrGenerationUnavailable is returned when the generation service failed after retries.
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	// ErrDimensionMismatch is returned when a vector length disagrees with the index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrUnsupportedFormat is returned for document formats without an extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrNotFound is returned when a document or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest marks malformed caller input such as a blank question.
	ErrInvalidRequest = errors.New("invalid request")
)

// ExtractionError reports a document that could not be turned into text.
// It is scoped to one file and never aborts the rest of a batch.
type ExtractionError struct {
	Filename string
	Format   Format
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("extract %s (%s): %v", e.Filename, e.Format, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// InvalidConfigf returns an error wrapping ErrInvalidConfiguration.
func InvalidConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// DimensionMismatch returns an error wrapping ErrDimensionMismatch.
func DimensionMismatch(got, want int) error {
	return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, got, want)
}
