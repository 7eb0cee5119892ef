package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/internal/infrastructure/transport"
	"alpinenet/pkg/circuitbreaker"
	"alpinenet/pkg/retry"
	"alpinenet/pkg/wire"
)

func testBackoff() retry.Config {
	return retry.Config{
		MaxAttempts:  2,
		InitialDelay: 30 * time.Millisecond,
		MaxDelay:     120 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// sessionPair builds two session objects sharing identical derived keys,
// as both handshake roles would hold.
func sessionPair(t *testing.T, caps domain.CapabilitySet) (*domain.Session, *domain.Session) {
	t.Helper()
	a, err := crypto.NewEphemeralKey()
	require.NoError(t, err)
	b, err := crypto.NewEphemeralKey()
	require.NoError(t, err)
	secret, err := a.SharedSecret(b.Public)
	require.NoError(t, err)
	id := crypto.DeriveSessionID(a.Public, b.Public)
	keys, err := crypto.DeriveSessionKeys(secret, id)
	require.NoError(t, err)

	peer := domain.DeviceIdentity{DeviceID: "peer"}
	initiator := domain.NewSession(id, domain.RoleInitiator, keys, peer, caps)
	responder := domain.NewSession(id, domain.RoleResponder, keys, peer, caps)
	return initiator, responder
}

// runResponder services control envelopes on tr until ctx ends.
func runResponder(ctx context.Context, svc *ControlService, session *domain.Session, tr ports.PacketTransport) {
	for {
		data, err := tr.Recv(ctx)
		if err != nil {
			return
		}
		pkt, err := wire.DecodePacket(data)
		if err != nil {
			continue
		}
		if pkt.Type != domain.MsgControl {
			continue
		}
		var env domain.ControlEnvelope
		if wire.DecodeBody(pkt, &env) == nil {
			_ = svc.HandleControl(ctx, session, tr, env)
		}
	}
}

// runAckPump routes acks from tr back into the sender service.
func runAckPump(ctx context.Context, svc *ControlService, session *domain.Session, tr ports.PacketTransport) {
	for {
		data, err := tr.Recv(ctx)
		if err != nil {
			return
		}
		pkt, err := wire.DecodePacket(data)
		if err != nil || pkt.Type != domain.MsgControlAck {
			continue
		}
		var ack domain.Acknowledge
		if wire.DecodeBody(pkt, &ack) == nil {
			svc.HandleAck(session, ack)
		}
	}
}

func TestControl_DeliverAndAcknowledge(t *testing.T) {
	sessA, sessB := sessionPair(t, domain.CapabilitySet{})
	a, b := transport.LoopbackPair(16)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())
	receiver := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())

	var applied atomic.Int32
	receiver.RegisterHandler(domain.OpSetChannels, func(context.Context, *domain.Session, domain.ControlOp, []byte) error {
		applied.Add(1)
		return nil
	})

	go runResponder(ctx, receiver, sessB, b)
	go runAckPump(ctx, sender, sessA, a)

	require.NoError(t, sender.Send(ctx, sessA, a, domain.OpSetChannels, []byte{1, 2, 3}))
	assert.Equal(t, int32(1), applied.Load())
}

func TestControl_EncryptedPayloadRoundtrip(t *testing.T) {
	caps := domain.CapabilitySet{domain.CapabilityEncryption: nil}
	sessA, sessB := sessionPair(t, caps)
	a, b := transport.LoopbackPair(16)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())
	receiver := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())

	var seen []byte
	receiver.RegisterHandler(domain.OpIdentify, func(_ context.Context, _ *domain.Session, _ domain.ControlOp, payload []byte) error {
		seen = append([]byte(nil), payload...)
		return nil
	})
	go runResponder(ctx, receiver, sessB, b)
	go runAckPump(ctx, sender, sessA, a)

	secret := []byte("cue stack 12")
	require.NoError(t, sender.Send(ctx, sessA, a, domain.OpIdentify, secret))
	assert.Equal(t, secret, seen)
}

func TestControl_TamperedMACDropped(t *testing.T) {
	sessA, sessB := sessionPair(t, domain.CapabilitySet{})
	_, b := transport.LoopbackPair(4)
	receiver := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())

	var applied atomic.Int32
	receiver.RegisterHandler(domain.OpSetChannels, func(context.Context, *domain.Session, domain.ControlOp, []byte) error {
		applied.Add(1)
		return nil
	})

	payload := []byte{1, 2, 3}
	env := domain.ControlEnvelope{
		SessionID: sessA.ID,
		Sequence:  1,
		Op:        domain.OpSetChannels,
		Payload:   payload,
		MAC:       crypto.ComputeMAC(sessA.Keys.ControlKey, sessA.ID, 1, payload),
	}
	env.MAC[3] ^= 0xFF

	err := receiver.HandleControl(context.Background(), sessB, b, env)
	assert.True(t, domain.IsCode(err, domain.ErrCodeMACInvalid))
	assert.Zero(t, applied.Load())
	// Fail closed: the sequence was not consumed.
	assert.NoError(t, sessB.AcceptSequence(1))
}

func TestControl_ReplayReAckedWithoutReapplying(t *testing.T) {
	sessA, sessB := sessionPair(t, domain.CapabilitySet{})
	a, b := transport.LoopbackPair(8)
	receiver := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())

	var applied atomic.Int32
	receiver.RegisterHandler(domain.OpSetChannels, func(context.Context, *domain.Session, domain.ControlOp, []byte) error {
		applied.Add(1)
		return nil
	})

	payload := []byte{9}
	env := domain.ControlEnvelope{
		SessionID: sessA.ID,
		Sequence:  1,
		Op:        domain.OpSetChannels,
		Payload:   payload,
		MAC:       crypto.ComputeMAC(sessA.Keys.ControlKey, sessA.ID, 1, payload),
	}
	ctx := context.Background()
	require.NoError(t, receiver.HandleControl(ctx, sessB, b, env))
	require.NoError(t, receiver.HandleControl(ctx, sessB, b, env))

	assert.Equal(t, int32(1), applied.Load())

	// Both deliveries were acknowledged.
	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		data, err := a.Recv(recvCtx)
		require.NoError(t, err)
		pkt, err := wire.DecodePacket(data)
		require.NoError(t, err)
		assert.Equal(t, domain.MsgControlAck, pkt.Type)
		var ack domain.Acknowledge
		require.NoError(t, wire.DecodeBody(pkt, &ack))
		assert.True(t, ack.OK)
		assert.Equal(t, uint64(1), ack.Sequence)
	}
}

func TestControl_GivesUpAfterRetransmitBudget(t *testing.T) {
	sessA, _ := sessionPair(t, domain.CapabilitySet{})
	a, _ := transport.LoopbackPair(4)
	a.DropNext = 100 // every transmission lost, no ack ever arrives

	backoff := retry.Config{
		MaxAttempts:  2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
	sender := NewControlService(backoff, ports.NopMetrics{}, nopLog())

	err := sender.Send(context.Background(), sessA, a, domain.OpIdentify, nil)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeDeliveryFailed))
}

func TestControl_KeepaliveGrantsFreshRetransmitBudget(t *testing.T) {
	sessA, _ := sessionPair(t, domain.CapabilitySet{})
	a, _ := transport.LoopbackPair(4)
	a.DropNext = 100 // every transmission lost, no ack ever arrives

	backoff := retry.Config{
		MaxAttempts:  2,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2.0,
	}
	sender := NewControlService(backoff, ports.NopMetrics{}, nopLog())

	errCh := make(chan error, 1)
	go func() {
		errCh <- sender.Send(context.Background(), sessA, a, domain.OpIdentify, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	sender.HandleKeepalive(sessA, domain.KeepaliveMessage{SessionID: sessA.ID})

	err := <-errCh
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeDeliveryFailed))
	// The keepalive granted one fresh budget: twice the transmissions of
	// a plain failure.
	assert.Equal(t, 100-6, a.DropNext)
}

func TestControl_ForeignKeepaliveDoesNotExtendRetries(t *testing.T) {
	sessA, _ := sessionPair(t, domain.CapabilitySet{})
	sessOther, _ := sessionPair(t, domain.CapabilitySet{})
	a, _ := transport.LoopbackPair(4)
	a.DropNext = 100

	backoff := retry.Config{
		MaxAttempts:  2,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2.0,
	}
	sender := NewControlService(backoff, ports.NopMetrics{}, nopLog())

	errCh := make(chan error, 1)
	go func() {
		errCh <- sender.Send(context.Background(), sessA, a, domain.OpIdentify, nil)
	}()

	// Liveness of a different session must not keep a send to a dead
	// peer alive.
	time.Sleep(50 * time.Millisecond)
	sender.HandleKeepalive(sessOther, domain.KeepaliveMessage{SessionID: sessOther.ID})

	err := <-errCh
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeDeliveryFailed))
	assert.Equal(t, 100-3, a.DropNext)
}

func TestControl_OpenBreakerFailsWithDeliveryCode(t *testing.T) {
	sessA, _ := sessionPair(t, domain.CapabilitySet{})
	a, _ := transport.LoopbackPair(4)
	sender := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())

	for i := 0; i < 3; i++ {
		_ = sender.breaker.Execute(func() error { return errors.New("peer unreachable") })
	}

	err := sender.Send(context.Background(), sessA, a, domain.OpIdentify, nil)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeDeliveryFailed))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestControl_ReleaseSessionDropsKeepaliveState(t *testing.T) {
	sessA, _ := sessionPair(t, domain.CapabilitySet{})
	svc := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())

	svc.HandleKeepalive(sessA, domain.KeepaliveMessage{SessionID: sessA.ID})
	require.Equal(t, uint64(1), svc.keepaliveMark(sessA.ID))

	svc.ReleaseSession(sessA.ID)
	assert.Zero(t, svc.keepaliveMark(sessA.ID))
}

func TestControl_NegativeAckSurfacesDetail(t *testing.T) {
	sessA, sessB := sessionPair(t, domain.CapabilitySet{})
	a, b := transport.LoopbackPair(16)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())
	receiver := NewControlService(testBackoff(), ports.NopMetrics{}, nopLog())
	receiver.RegisterHandler(domain.OpSetChannels, func(context.Context, *domain.Session, domain.ControlOp, []byte) error {
		return domain.NewError(domain.ErrCodeUnsupportedChannelMode, "u8 only")
	})
	go runResponder(ctx, receiver, sessB, b)
	go runAckPump(ctx, sender, sessA, a)

	err := sender.Send(ctx, sessA, a, domain.OpSetChannels, []byte{1})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeDeliveryFailed))
	assert.Contains(t, err.Error(), "u8 only")
}
