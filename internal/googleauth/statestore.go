package googleauth

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultStateTTL bounds how long a login link stays valid before the user
// must start over.
const DefaultStateTTL = 10 * time.Minute

type pendingState struct {
	userID    string
	expiresAt time.Time
}

// StateStore holds pending authorization states keyed by the opaque state
// parameter sent to Google. States are single use and expire after a TTL.
type StateStore struct {
	states map[string]pendingState
	ttl    time.Duration
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewStateStore creates a state store and starts its cleanup goroutine.
func NewStateStore(ttl time.Duration, logger *slog.Logger) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := &StateStore{
		states: make(map[string]pendingState),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}

	go store.cleanup()

	return store
}

// Put registers a pending state for the given user.
func (s *StateStore) Put(state, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state] = pendingState{
		userID:    userID,
		expiresAt: s.now().Add(s.ttl),
	}
}

// Consume retrieves and immediately deletes a pending state. A state can only
// be consumed once, which prevents callback replay. Returns false for
// unknown or expired states.
func (s *StateStore) Consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, exists := s.states[state]
	if !exists {
		return "", false
	}

	delete(s.states, state)

	if s.now().After(pending.expiresAt) {
		return "", false
	}

	return pending.userID, true
}

// cleanup periodically removes expired states.
func (s *StateStore) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.cleanupExpired()
	}
}

func (s *StateStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	deleted := 0

	for state, pending := range s.states {
		if now.After(pending.expiresAt) {
			delete(s.states, state)
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Debug("Cleaned up expired authorization states",
			"states_deleted", deleted,
		)
	}
}
