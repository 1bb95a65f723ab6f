// Package llm wraps chat model providers behind a single Generator interface.
package llm

import (
	"context"

	"github.com/hyperjump/kiku/internal/models"
)

// Message is one prior conversation turn sent to the model.
type Message struct {
	Role    models.Role
	Content string
}

// Prompt is a complete chat request.
type Prompt struct {
	System      string
	History     []Message
	User        string
	Temperature float64
	MaxTokens   int
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Model() string
}
