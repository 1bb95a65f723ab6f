package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sessions is a registry of conversation states keyed by session id. Nothing is persisted.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*State
	ttl      time.Duration
	now      func() time.Time
}

// NewSessions creates a registry. Sessions idle for longer than ttl are dropped by Sweep;
// ttl <= 0 keeps them forever.
func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{sessions: make(map[string]*State), ttl: ttl, now: time.Now}
}

// Create starts a session with a fresh UUID.
func (r *Sessions) Create() (string, *State) {
	id := uuid.New().String()
	return id, r.Get(id)
}

// Get returns the session with id, creating it on first use.
func (r *Sessions) Get(id string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = NewState()
		s.now = r.now
		s.lastActive = r.now()
		r.sessions[id] = s
		return s
	}
	s.touch()
	return s
}

// Lookup returns an existing session without creating one.
func (r *Sessions) Lookup(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.touch()
	}
	return s, ok
}

// Delete removes a session. It reports whether the session existed.
func (r *Sessions) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// IDs returns the ids of all live sessions, sorted.
func (r *Sessions) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep drops sessions idle for longer than the ttl and returns how many were removed.
func (r *Sessions) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
