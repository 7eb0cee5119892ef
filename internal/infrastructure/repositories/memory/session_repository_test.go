package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpinenet/internal/core/domain"
)

func newSession(id string) *domain.Session {
	keys := domain.SessionKeys{
		ControlKey: make([]byte, 32),
		FrameKey:   make([]byte, 32),
		PayloadKey: make([]byte, 32),
	}
	return domain.NewSession(domain.SessionID(id), domain.RoleResponder, keys, domain.DeviceIdentity{DeviceID: "dev"}, domain.CapabilitySet{})
}

func TestRepository_PutGetDelete(t *testing.T) {
	repo := NewSessionRepository()
	s := newSession("one")
	require.NoError(t, repo.Put(s))

	got, err := repo.Get("one")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = repo.Get("missing")
	assert.True(t, domain.IsCode(err, domain.ErrCodeSessionNotFound))

	repo.Delete("one")
	_, err = repo.Get("one")
	assert.True(t, domain.IsCode(err, domain.ErrCodeSessionNotFound))
}

func TestRepository_RejectsDuplicateID(t *testing.T) {
	repo := NewSessionRepository()
	require.NoError(t, repo.Put(newSession("dup")))
	assert.Error(t, repo.Put(newSession("dup")))
}

func TestRepository_PruneIdle(t *testing.T) {
	repo := NewSessionRepository()
	stale := newSession("stale")
	fresh := newSession("fresh")
	require.NoError(t, repo.Put(stale))
	require.NoError(t, repo.Put(fresh))

	time.Sleep(20 * time.Millisecond)
	fresh.Touch()

	pruned := repo.PruneIdle(10 * time.Millisecond)
	require.Len(t, pruned, 1)
	assert.Equal(t, domain.SessionID("stale"), pruned[0].ID)

	_, err := repo.Get("stale")
	assert.Error(t, err)
	_, err = repo.Get("fresh")
	assert.NoError(t, err)
}
