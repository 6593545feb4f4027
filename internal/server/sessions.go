package server

import (
	"errors"
	"sync"
)

// ErrAlreadyConnected is returned when a user opens a second concurrent
// session. The existing session keeps its place; the new one is rejected.
var ErrAlreadyConnected = errors.New("user already connected")

// SessionRegistry tracks all attached sessions, indexed by session id and
// by user id. Both indexes are updated atomically. Thread-safe.
type SessionRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string]*Session
}

// NewSessionRegistry creates an empty session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byID:   make(map[string]*Session, 128),
		byUser: make(map[string]*Session, 128),
	}
}

// Attach registers a session. A second concurrent session for the same
// user is rejected with ErrAlreadyConnected (last-writer-wins is not
// allowed).
func (sr *SessionRegistry) Attach(s *Session) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if _, ok := sr.byUser[s.UserID()]; ok {
		return ErrAlreadyConnected
	}
	sr.byID[s.ID()] = s
	sr.byUser[s.UserID()] = s
	return nil
}

// Detach removes a session from both indexes. Returns the removed session
// or nil when it was already gone.
func (sr *SessionRegistry) Detach(sessionID string) *Session {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	s, ok := sr.byID[sessionID]
	if !ok {
		return nil
	}
	delete(sr.byID, sessionID)
	delete(sr.byUser, s.UserID())
	return s
}

// ByID returns a session by id, or nil.
func (sr *SessionRegistry) ByID(sessionID string) *Session {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.byID[sessionID]
}

// ByUser returns a user's live session, or nil.
func (sr *SessionRegistry) ByUser(userID string) *Session {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.byUser[userID]
}

// Count returns the number of attached sessions.
func (sr *SessionRegistry) Count() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.byID)
}

// ForEach iterates over all attached sessions. If fn returns false,
// iteration stops.
func (sr *SessionRegistry) ForEach(fn func(*Session) bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	for _, s := range sr.byID {
		if !fn(s) {
			return
		}
	}
}
