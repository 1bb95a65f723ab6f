package models

import (
	"fmt"
	"strings"
)

// AskRequest is a question against the ingested documents.
type AskRequest struct {
	Question string `json:"question" validate:"required"`
	// K overrides the configured top-K; zero means default.
	K int `json:"k,omitempty" validate:"gte=0"`
}

// Validate trims the question and rejects blank input or a negative K.
func (r *AskRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return fmt.Errorf("%w: question cannot be empty", ErrInvalidRequest)
	}
	if r.K < 0 {
		return fmt.Errorf("%w: k must not be negative", ErrInvalidRequest)
	}
	return nil
}

// AskResponse is returned for a question.
type AskResponse struct {
	Answer    string      `json:"answer"`
	Sources   []SourceRef `json:"sources"`
	Grounded  bool        `json:"grounded"`
	Retrieved int         `json:"retrieved"`
	SessionID string      `json:"session_id,omitempty"`
}

// FileError reports a document that failed ingestion.
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// IngestResult summarizes an ingestion request.
type IngestResult struct {
	Documents   []*Document `json:"documents"`
	ChunksAdded int         `json:"chunks_added"`
	Skipped     []string    `json:"skipped,omitempty"`
	Errors      []FileError `json:"errors,omitempty"`
}
