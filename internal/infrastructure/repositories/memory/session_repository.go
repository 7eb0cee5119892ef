// Package memory provides the in-process session arena. Session key
// material never leaves the process, so no persistent or networked
// store backs it.
package memory

import (
	"sync"
	"time"

	"alpinenet/internal/core/domain"
)

// SessionRepository is a mutex-guarded map of live sessions.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
}

// NewSessionRepository creates an empty arena.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[domain.SessionID]*domain.Session)}
}

// Put stores an established session. Re-admitting an existing id is
// rejected; session ids derive from ephemeral keys and never collide
// between distinct handshakes.
func (r *SessionRepository) Put(session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return domain.NewError(domain.ErrCodeHandshakeFailed, "session id already established")
	}
	r.sessions[session.ID] = session
	return nil
}

// Get resolves a session by id.
func (r *SessionRepository) Get(id domain.SessionID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.NewError(domain.ErrCodeSessionNotFound, "unknown session id")
	}
	return session, nil
}

// Delete removes a session from the arena.
func (r *SessionRepository) Delete(id domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// List returns all live sessions.
func (r *SessionRepository) List() []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// PruneIdle removes and returns sessions idle longer than maxIdle.
func (r *SessionRepository) PruneIdle(maxIdle time.Duration) []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned []*domain.Session
	for id, s := range r.sessions {
		if s.IdleFor() > maxIdle {
			pruned = append(pruned, s)
			delete(r.sessions, id)
		}
	}
	return pruned
}
