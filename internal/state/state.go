// Package state holds the authoritative copy of the shared composition.
package state

import (
	"sync"
)

// DefaultRecentPrompts is the cap on the recent prompt ring.
const DefaultRecentPrompts = 10

// Snapshot is a consistent copy of the shared state.
type Snapshot struct {
	Code          string
	Playing       bool
	RecentPrompts []string
}

// Store is the server's cache of the master's code, play flag and the most
// recent applied prompts. The master's runtime is the source of truth for
// code; Store only mirrors what the master reported or what the pipeline
// committed.
type Store struct {
	mu        sync.RWMutex
	code      string
	playing   bool
	recent    []string
	maxRecent int
}

func NewStore(initialCode string, maxRecent int) *Store {
	if maxRecent <= 0 {
		maxRecent = DefaultRecentPrompts
	}
	return &Store{
		code:      initialCode,
		recent:    make([]string, 0, maxRecent),
		maxRecent: maxRecent,
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Code:          s.code,
		Playing:       s.playing,
		RecentPrompts: s.recentLocked(),
	}
}

func (s *Store) Code() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code
}

// SetCode replaces the cached code and reports whether it changed.
func (s *Store) SetCode(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == code {
		return false
	}
	s.code = code
	return true
}

func (s *Store) SetPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = playing
}

// Commit installs code produced for prompt and appends prompt to the recent
// ring, evicting the oldest entry past the cap. It returns the updated ring.
func (s *Store) Commit(code, prompt string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.code = code
	s.pushRecentLocked(prompt)
	return s.recentLocked()
}

// ApplyPreset installs code without touching the recent ring.
func (s *Store) ApplyPreset(code string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	return s.recentLocked()
}

func (s *Store) pushRecentLocked(prompt string) {
	if prompt == "" {
		return
	}
	s.recent = append(s.recent, prompt)
	if over := len(s.recent) - s.maxRecent; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}

func (s *Store) recentLocked() []string {
	out := make([]string, len(s.recent))
	copy(out, s.recent)
	return out
}
