package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/internal/infrastructure/transport"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/retry"
	"alpinenet/pkg/wire"
)

func testHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		Timeout: 2 * time.Second,
		Retry: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func nopLog() *logger.ContextLogger {
	return logger.NewContextLogger(zap.NewNop())
}

func newPeer(t *testing.T, name string, caps domain.CapabilitySet) *HandshakeService {
	t.Helper()
	creds, err := crypto.GenerateCredentials(name)
	require.NoError(t, err)
	return NewHandshakeService(creds, caps, testHandshakeConfig(), nopLog())
}

// respondToInit runs the responder side: read the init off the transport
// and complete the exchange.
func respondToInit(ctx context.Context, hs *HandshakeService, tr *transport.Loopback) (*domain.Session, error) {
	data, err := tr.Recv(ctx)
	if err != nil {
		return nil, err
	}
	pkt, err := wire.DecodePacket(data)
	if err != nil {
		return nil, err
	}
	var init domain.SessionInitMessage
	if err := wire.DecodeBody(pkt, &init); err != nil {
		return nil, err
	}
	return hs.Respond(ctx, tr, init)
}

func TestHandshake_BothRolesDeriveIdenticalSessions(t *testing.T) {
	controllerCaps := domain.CapabilitySet{
		domain.CapabilitySigning:      nil,
		domain.CapabilityEncryption:   nil,
		domain.CapabilityInterpolable: nil,
	}
	deviceCaps := domain.CapabilitySet{
		domain.CapabilitySigning:    nil,
		domain.CapabilityEncryption: nil,
	}
	initiator := newPeer(t, "controller", controllerCaps)
	responder := newPeer(t, "device", deviceCaps)

	a, b := transport.LoopbackPair(16)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		session *domain.Session
		err     error
	}
	responderDone := make(chan result, 1)
	go func() {
		s, err := respondToInit(ctx, responder, b)
		responderDone <- result{s, err}
	}()

	initiatorSession, err := initiator.Initiate(ctx, a)
	require.NoError(t, err)
	r := <-responderDone
	require.NoError(t, r.err)

	assert.Equal(t, initiatorSession.ID, r.session.ID)
	assert.Equal(t, initiatorSession.Keys, r.session.Keys)
	assert.Equal(t, domain.RoleInitiator, initiatorSession.Role)
	assert.Equal(t, domain.RoleResponder, r.session.Role)

	// Negotiated capabilities are the intersection on both sides.
	assert.True(t, initiatorSession.Capabilities.Has(domain.CapabilityEncryption))
	assert.False(t, initiatorSession.Capabilities.Has(domain.CapabilityInterpolable))
	assert.Equal(t, initiatorSession.Capabilities, r.session.Capabilities)
}

func TestHandshake_RespondRejectsBadSignature(t *testing.T) {
	responder := newPeer(t, "device", domain.CapabilitySet{domain.CapabilitySigning: nil})
	creds, err := crypto.GenerateCredentials("controller")
	require.NoError(t, err)
	eph, err := crypto.NewEphemeralKey()
	require.NoError(t, err)

	init := domain.SessionInitMessage{
		Ephemeral:    eph.Public,
		Identity:     creds.Identity,
		Capabilities: domain.CapabilitySet{domain.CapabilitySigning: nil},
		Signature:    []byte("forged"),
	}
	a, _ := transport.LoopbackPair(4)
	_, err = responder.Respond(context.Background(), a, init)
	assert.True(t, domain.IsCode(err, domain.ErrCodeSignatureInvalid))
}

func TestHandshake_InitiateTimesOutWithoutResponder(t *testing.T) {
	initiator := newPeer(t, "controller", domain.CapabilitySet{domain.CapabilitySigning: nil})
	cfg := testHandshakeConfig()
	cfg.Timeout = 50 * time.Millisecond
	initiator.cfg = cfg

	a, _ := transport.LoopbackPair(4)
	_, err := initiator.Initiate(context.Background(), a)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeHandshakeTimeout))
}

func TestHandshake_SurvivesDroppedAck(t *testing.T) {
	initiator := newPeer(t, "controller", domain.CapabilitySet{domain.CapabilitySigning: nil})
	responder := newPeer(t, "device", domain.CapabilitySet{domain.CapabilitySigning: nil})

	a, b := transport.LoopbackPair(16)
	// Lose the first session_ack; the initiator's retransmitted init
	// must still complete the exchange.
	b.DropNext = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		// First init spawns a responder that loses its ack and keeps
		// waiting for session_ready; the retried init is skipped by the
		// await loop, and the retried ack goes through.
		_, err := respondToInit(ctx, responder, b)
		done <- err
	}()

	_, err := initiator.Initiate(ctx, a)
	require.NoError(t, err)
	require.NoError(t, <-done)
}
