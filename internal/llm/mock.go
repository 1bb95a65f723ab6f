package llm

import (
	"context"
	"sync"
)

// MockGenerator returns canned replies and records every prompt it receives.
type MockGenerator struct {
	// Reply is returned when Replies is exhausted.
	Reply string
	// Replies are returned in order, one per call.
	Replies []string
	// Err, when set, is returned instead of a reply.
	Err error

	mu      sync.Mutex
	prompts []Prompt
}

// NewMockGenerator returns a generator that always answers reply.
func NewMockGenerator(reply string) *MockGenerator {
	return &MockGenerator{Reply: reply}
}

// Generate records p and returns the next canned reply.
func (m *MockGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, p)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Replies) > 0 {
		r := m.Replies[0]
		m.Replies = m.Replies[1:]
		return r, nil
	}
	return m.Reply, nil
}

// Prompts returns the prompts received so far.
func (m *MockGenerator) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.prompts...)
}

// Calls returns how many times Generate was invoked.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Model returns "mock".
func (m *MockGenerator) Model() string { return "mock" }
