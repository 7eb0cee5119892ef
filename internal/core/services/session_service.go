package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/pkg/logger"
)

// SessionInfo is a read-only session summary for status endpoints.
type SessionInfo struct {
	ID        domain.SessionID `json:"session_id"`
	Role      string           `json:"role"`
	Peer      string           `json:"peer"`
	PeerKey   string           `json:"peer_key"`
	ConfigID  string           `json:"config_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	IdleMs    int64            `json:"idle_ms"`
}

// SessionManager owns the lifetime of established sessions: admission
// after handshake completion, lookup for control and streaming, idle
// sweeping, and teardown. Sessions leave the arena only through idle
// timeout or explicit close.
type SessionManager struct {
	repo    ports.SessionRepository
	metrics ports.MetricsCollector
	log     *logger.ContextLogger

	idleTimeout   time.Duration
	sweepInterval time.Duration

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	closeHooks []func(*domain.Session)
}

// NewSessionManager creates a manager over the given repository.
func NewSessionManager(repo ports.SessionRepository, metrics ports.MetricsCollector, log *logger.ContextLogger, idleTimeout, sweepInterval time.Duration) *SessionManager {
	return &SessionManager{
		repo:          repo,
		metrics:       metrics,
		log:           log,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
	}
}

// OnClose registers fn to run whenever the manager closes or discards a
// session, so transports and per-session caches release their state with
// it. Hooks must be idempotent; teardown paths can overlap.
func (m *SessionManager) OnClose(fn func(*domain.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHooks = append(m.closeHooks, fn)
}

func (m *SessionManager) notifyClose(session *domain.Session) {
	m.mu.Lock()
	hooks := m.closeHooks
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(session)
	}
}

// Start launches the idle sweeper. It stops when ctx is cancelled or
// Close is called.
func (m *SessionManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.sweepLoop(ctx, m.done)
}

func (m *SessionManager) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, session := range m.repo.PruneIdle(m.idleTimeout) {
				session.Close()
				m.notifyClose(session)
				m.metrics.SessionClosed("idle_timeout")
				m.log.WithSession(string(session.ID)).Info("session expired",
					zap.Duration("idle", session.IdleFor()),
				)
			}
		}
	}
}

// Admit places a freshly established session into the arena.
func (m *SessionManager) Admit(session *domain.Session) error {
	if err := m.repo.Put(session); err != nil {
		return err
	}
	m.metrics.SessionOpened()
	return nil
}

// Lookup resolves a session id. Closed sessions are treated as absent;
// in-flight messages addressed to them are dropped by the caller.
func (m *SessionManager) Lookup(id domain.SessionID) (*domain.Session, error) {
	session, err := m.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if session.Closed() {
		m.repo.Delete(id)
		m.notifyClose(session)
		return nil, domain.NewError(domain.ErrCodeSessionClosed, "session closed")
	}
	return session, nil
}

// Terminate closes and removes a session.
func (m *SessionManager) Terminate(id domain.SessionID, reason string) {
	session, err := m.repo.Get(id)
	if err != nil {
		return
	}
	session.Close()
	m.repo.Delete(id)
	m.notifyClose(session)
	m.metrics.SessionClosed(reason)
	m.log.WithSession(string(id)).Info("session closed", zap.String("reason", reason))
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	return len(m.repo.List())
}

// Snapshot returns a summary of every live session.
func (m *SessionManager) Snapshot() []SessionInfo {
	sessions := m.repo.List()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		role := "initiator"
		if s.Role == domain.RoleResponder {
			role = "responder"
		}
		out = append(out, SessionInfo{
			ID:        s.ID,
			Role:      role,
			Peer:      s.Peer.Name,
			PeerKey:   s.Peer.Fingerprint(),
			ConfigID:  s.ConfigID(),
			CreatedAt: s.CreatedAt,
			IdleMs:    s.IdleFor().Milliseconds(),
		})
	}
	return out
}

// Close stops the sweeper and tears down every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, session := range m.repo.List() {
		session.Close()
		m.repo.Delete(session.ID)
		m.notifyClose(session)
		m.metrics.SessionClosed("shutdown")
	}
}
