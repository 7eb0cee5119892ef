package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() *Session {
	keys := SessionKeys{
		ControlKey: make([]byte, 32),
		FrameKey:   make([]byte, 32),
		PayloadKey: make([]byte, 32),
	}
	return NewSession("sid", RoleInitiator, keys, DeviceIdentity{DeviceID: "dev"}, CapabilitySet{})
}

func TestNextSequence_StrictlyIncreasing(t *testing.T) {
	s := testSession()
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		seq := s.NextSequence()
		assert.Greater(t, seq, prev)
		prev = seq
	}
}

func TestAcceptSequence_RejectsReplay(t *testing.T) {
	s := testSession()
	require.NoError(t, s.AcceptSequence(1))
	require.NoError(t, s.AcceptSequence(3))
	require.NoError(t, s.AcceptSequence(2))

	assert.True(t, IsCode(s.AcceptSequence(2), ErrCodeSequenceReplayed))
	assert.True(t, IsCode(s.AcceptSequence(3), ErrCodeSequenceReplayed))
}

func TestAcceptSequence_WindowAdvance(t *testing.T) {
	s := testSession()
	require.NoError(t, s.AcceptSequence(1))
	// Jump far beyond the window; the floor moves with it.
	require.NoError(t, s.AcceptSequence(200))

	assert.True(t, IsCode(s.AcceptSequence(1), ErrCodeSequenceReplayed))
	assert.True(t, IsCode(s.AcceptSequence(100), ErrCodeSequenceReplayed))
	// In-window stragglers above the floor still pass.
	require.NoError(t, s.AcceptSequence(199))
	assert.True(t, IsCode(s.AcceptSequence(199), ErrCodeSequenceReplayed))
	require.NoError(t, s.AcceptSequence(201))
}

func TestAcceptSequence_ClosedSession(t *testing.T) {
	s := testSession()
	s.Close()
	assert.True(t, IsCode(s.AcceptSequence(1), ErrCodeSessionClosed))
}

func TestBindProfile_Immutable(t *testing.T) {
	s := testSession()
	auto, err := AutoProfile().Compile()
	require.NoError(t, err)
	require.NoError(t, s.BindProfile(auto))

	realtime, err := RealtimeProfile().Compile()
	require.NoError(t, err)
	err = s.BindProfile(realtime)
	assert.True(t, IsCode(err, ErrCodeProfileImmutable))

	// Original binding survives the rejected rebind.
	bound, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, auto.ConfigID, bound.ConfigID)
	assert.Equal(t, auto.ConfigID, s.ConfigID())
}
