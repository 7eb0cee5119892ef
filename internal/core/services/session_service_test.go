package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/infrastructure/repositories/memory"
)

func newManager(idle, sweep time.Duration) *SessionManager {
	return NewSessionManager(memory.NewSessionRepository(), ports.NopMetrics{}, nopLog(), idle, sweep)
}

func TestSessionManager_AdmitAndLookup(t *testing.T) {
	m := newManager(time.Minute, time.Minute)
	sess, _ := sessionPair(t, domain.CapabilitySet{})
	require.NoError(t, m.Admit(sess))

	got, err := m.Lookup(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, m.Count())

	_, err = m.Lookup("nope")
	assert.True(t, domain.IsCode(err, domain.ErrCodeSessionNotFound))
}

func TestSessionManager_LookupDropsClosedSessions(t *testing.T) {
	m := newManager(time.Minute, time.Minute)
	sess, _ := sessionPair(t, domain.CapabilitySet{})
	require.NoError(t, m.Admit(sess))

	sess.Close()
	_, err := m.Lookup(sess.ID)
	assert.True(t, domain.IsCode(err, domain.ErrCodeSessionClosed))
	assert.Zero(t, m.Count())
}

func TestSessionManager_IdleSweep(t *testing.T) {
	m := newManager(30*time.Millisecond, 10*time.Millisecond)
	sess, _ := sessionPair(t, domain.CapabilitySet{})
	require.NoError(t, m.Admit(sess))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Close()

	require.Eventually(t, func() bool {
		_, err := m.Lookup(sess.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond)
	assert.True(t, sess.Closed())
}

func TestSessionManager_CloseHooksRunOnTerminate(t *testing.T) {
	m := newManager(time.Minute, time.Minute)
	var released []domain.SessionID
	m.OnClose(func(s *domain.Session) { released = append(released, s.ID) })

	sess, _ := sessionPair(t, domain.CapabilitySet{})
	require.NoError(t, m.Admit(sess))
	m.Terminate(sess.ID, "operator")

	assert.Equal(t, []domain.SessionID{sess.ID}, released)
}

func TestSessionManager_CloseHooksRunOnIdleExpiry(t *testing.T) {
	m := newManager(30*time.Millisecond, 10*time.Millisecond)
	var released atomic.Int32
	m.OnClose(func(*domain.Session) { released.Add(1) })

	sess, _ := sessionPair(t, domain.CapabilitySet{})
	require.NoError(t, m.Admit(sess))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Close()

	require.Eventually(t, func() bool {
		return released.Load() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestSessionManager_TerminateAndSnapshot(t *testing.T) {
	m := newManager(time.Minute, time.Minute)
	sess, _ := sessionPair(t, domain.CapabilitySet{})
	require.NoError(t, m.Admit(sess))

	infos := m.Snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, sess.ID, infos[0].ID)
	assert.Equal(t, "initiator", infos[0].Role)

	m.Terminate(sess.ID, "test")
	assert.Zero(t, m.Count())
	assert.True(t, sess.Closed())
}
