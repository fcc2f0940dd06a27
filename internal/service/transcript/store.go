// Package transcript holds the ordered list of turns for one conversation.
package transcript

import (
	"sync"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
)

// Store is an append-only sequence of turns. Only a turn's text can change
// after it has been appended.
type Store struct {
	mu    sync.RWMutex
	turns []chat.Turn
}

// New returns an empty store.
func New() *Store {
	return &Store{turns: make([]chat.Turn, 0, 16)}
}

// Append adds a turn at the end.
func (s *Store) Append(turn chat.Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, turn.Clone())
	s.mu.Unlock()
}

// UpdateText applies updater to the text of the turn with the given id. It
// reports whether a turn matched; an unknown id leaves the store untouched.
func (s *Store) UpdateText(id string, updater func(string) string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.turns {
		if s.turns[i].ID == id {
			s.turns[i].Text = updater(s.turns[i].Text)
			return true
		}
	}
	return false
}

// SetText replaces the text of the turn with the given id.
func (s *Store) SetText(id, text string) bool {
	return s.UpdateText(id, func(string) string { return text })
}

// Clear empties a non-empty store once confirm agrees. A nil confirm counts
// as declining.
func (s *Store) Clear(confirm func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.turns) == 0 {
		return true
	}
	if confirm == nil || !confirm() {
		return false
	}
	s.turns = make([]chat.Turn, 0, 16)
	return true
}

// Turns returns a copy of the transcript in order.
func (s *Store) Turns() []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Turn, len(s.turns))
	for i, turn := range s.turns {
		out[i] = turn.Clone()
	}
	return out
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Get returns the turn with the given id.
func (s *Store) Get(id string) (chat.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, turn := range s.turns {
		if turn.ID == id {
			return turn.Clone(), true
		}
	}
	return chat.Turn{}, false
}

// LastOf returns the most recent turn with the given role and its index.
func (s *Store) LastOf(role chat.Role) (chat.Turn, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == role {
			return s.turns[i].Clone(), i, true
		}
	}
	return chat.Turn{}, -1, false
}
