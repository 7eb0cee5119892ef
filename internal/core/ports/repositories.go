package ports

import (
	"time"

	"alpinenet/internal/core/domain"
)

// SessionRepository is the arena of established sessions indexed by
// session id. Implementations must be safe for concurrent use; all
// per-session mutation still goes through the session's own lock.
type SessionRepository interface {
	Put(session *domain.Session) error
	Get(id domain.SessionID) (*domain.Session, error)
	Delete(id domain.SessionID)
	List() []*domain.Session
	// PruneIdle removes and returns sessions idle longer than maxIdle.
	PruneIdle(maxIdle time.Duration) []*domain.Session
}
