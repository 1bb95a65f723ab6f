// Package conversation keeps per-session question and answer history in memory.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kiku/internal/models"
)

// Order selects how History returns turns.
type Order int

const (
	// Chronological returns the oldest turn first.
	Chronological Order = iota
	// MostRecentFirst returns the newest turn first.
	MostRecentFirst
)

// ParseOrder parses "chronological" (or "") and "recent".
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "chronological", "oldest":
		return Chronological, nil
	case "recent", "most_recent_first", "newest":
		return MostRecentFirst, nil
	default:
		return Chronological, fmt.Errorf("%w: unknown history order %q", models.ErrInvalidRequest, s)
	}
}

// State is the turn log of one session. It is safe for concurrent use.
type State struct {
	mu         sync.Mutex
	turns      []models.Turn
	lastActive time.Time
	now        func() time.Time
}

// NewState returns an empty conversation.
func NewState() *State {
	return &State{now: time.Now, lastActive: time.Now()}
}

// Append adds a turn. A zero timestamp is set to the current time.
func (s *State) Append(turn models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(turn)
}

// AppendExchange adds a question and its answer as one adjacent pair, so concurrent
// exchanges on the same session never interleave.
func (s *State) AppendExchange(user, assistant models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(user)
	s.appendLocked(assistant)
}

func (s *State) appendLocked(turn models.Turn) {
	now := s.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	turn.Sources = append([]models.SourceRef(nil), turn.Sources...)
	s.turns = append(s.turns, turn)
	s.lastActive = now
}

// History returns copies of the last limit turns (all when limit <= 0) in the given order.
func (s *State) History(limit int, order Order) []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if limit > 0 && limit < len(s.turns) {
		start = len(s.turns) - limit
	}
	out := make([]models.Turn, 0, len(s.turns)-start)
	for _, t := range s.turns[start:] {
		t.Sources = append([]models.SourceRef(nil), t.Sources...)
		out = append(out, t)
	}
	if order == MostRecentFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Clear drops every turn.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.lastActive = s.now()
}

// Len returns the number of turns.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

func (s *State) touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

func (s *State) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
