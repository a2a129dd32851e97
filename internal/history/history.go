// Package history keeps the per-sender conversation transcripts that the
// reply pipeline feeds to the completion service. Transcripts are
// append-only and live for the lifetime of the process.
package history

import "sync"

// Turn roles, matching the completion service's chat format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged utterance in a transcript. Immutable once
// appended.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store maps sender IDs to their transcripts. It is goroutine-safe: user
// turns are appended from the read loop while assistant turns arrive from
// completion goroutines.
//
// Transcripts are never evicted, so memory grows with the number of distinct
// senders observed during the process lifetime.
type Store struct {
	mu          sync.RWMutex
	transcripts map[string][]Turn
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		transcripts: make(map[string][]Turn),
	}
}

// GetOrCreate registers an empty transcript for senderID if one does not
// exist yet and returns a snapshot of the current turns. Creation is
// idempotent: a sender never gets a second transcript.
func (s *Store) GetOrCreate(senderID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.transcripts[senderID]
	if !ok {
		s.transcripts[senderID] = nil
	}
	return snapshot(turns)
}

// Append adds a turn to the sender's transcript, creating the transcript if
// it does not exist yet.
func (s *Store) Append(senderID string, turn Turn) {
	s.mu.Lock()
	s.transcripts[senderID] = append(s.transcripts[senderID], turn)
	s.mu.Unlock()
}

// Turns returns a snapshot of the sender's transcript in append order. The
// returned slice is safe to read and extend without holding the lock.
// Returns an empty slice for unknown senders.
func (s *Store) Turns(senderID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.transcripts[senderID])
}

// Len returns the number of turns in the sender's transcript.
func (s *Store) Len(senderID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts[senderID])
}

// Senders returns the IDs of all senders with a registered transcript.
func (s *Store) Senders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.transcripts))
	for id := range s.transcripts {
		ids = append(ids, id)
	}
	return ids
}

func snapshot(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
