package models

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a session's conversation log.
type Turn struct {
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Sources   []SourceRef `json:"sources,omitempty"`
	Grounded  bool        `json:"grounded,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Answer is the outcome of one question.
type Answer struct {
	Text     string      `json:"answer"`
	Sources  []SourceRef `json:"sources"`
	Grounded bool        `json:"grounded"`
}
