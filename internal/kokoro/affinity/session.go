package affinity

import (
	"sync"

	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// SessionConfig carries the session boost tuning. These are product-tuned
// values, not invariants; SessionDefaults documents the shipped settings.
type SessionConfig struct {
	// DecayFactor is applied multiplicatively to every component of a
	// conversation's session boost at the start of each exchange.
	DecayFactor float64

	// PrimaryBump is the session boost added when a persona speaks first
	// in a turn.
	PrimaryBump float64

	// FollowOnBump is the session boost added when a persona speaks as a
	// secondary or continuation response.
	FollowOnBump float64
}

// SessionDefaults returns the shipped session tuning.
func SessionDefaults() SessionConfig {
	return SessionConfig{
		DecayFactor:  0.9,
		PrimaryBump:  0.02,
		FollowOnBump: 0.015,
	}
}

// SessionStore holds the transient per-conversation boost vectors, keyed by
// conversation ID. Entries start at zero, decay each exchange, grow when a
// persona speaks, and are discarded when the conversation is finalised.
//
// The store is shared by all concurrent conversations and is safe for
// concurrent use. A single mutex guards the map: every operation is a few
// float updates, so contention is negligible even with many rooms active.
type SessionStore struct {
	cfg SessionConfig

	mu     sync.Mutex
	boosts map[string]Weights
}

// NewSessionStore returns an empty SessionStore. The composing service owns
// the store's lifecycle: created at startup, cleared per conversation as
// conversations end.
func NewSessionStore(cfg SessionConfig) *SessionStore {
	return &SessionStore{cfg: cfg, boosts: make(map[string]Weights)}
}

// Config returns the store's tuning, so the composing service applies the
// same bump amounts the store was configured with.
func (s *SessionStore) Config() SessionConfig {
	return s.cfg
}

// Decay multiplies all components of the conversation's boost vector by
// the configured decay factor. Call once at the start of each exchange,
// before any read. A missing conversation is a no-op, not an error.
func (s *SessionStore) Decay(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.boosts[conversationID]; ok {
		s.boosts[conversationID] = b.Scale(s.cfg.DecayFactor)
	}
}

// Boost adds amount to the named persona's component, creating the entry if
// absent.
func (s *SessionStore) Boost(conversationID string, p persona.Persona, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.boosts[conversationID]
	s.boosts[conversationID] = b.Set(p, b.Get(p)+amount)
}

// Get returns a copy of the conversation's current boost vector. The zero
// vector is returned for unknown conversations.
func (s *SessionStore) Get(conversationID string) Weights {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.boosts[conversationID]
}

// Combined returns persistent + session, the vector routing scores start
// from. The result is intentionally neither clamped nor normalised;
// routing tolerates components outside [0, 1].
func (s *SessionStore) Combined(conversationID string, persistent Weights) Weights {
	return persistent.Add(s.Get(conversationID))
}

// Clear removes the conversation's entry. Called when a conversation is
// finalised or abandoned. Idempotent.
func (s *SessionStore) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.boosts, conversationID)
}

// Len returns the number of conversations currently tracked. Used by
// shutdown logging and tests.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.boosts)
}
