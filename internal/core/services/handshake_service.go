package services

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/retry"
	"alpinenet/pkg/wire"
)

// Sequence numbers reserved for the confirmation MACs exchanged at the
// end of the handshake, before the session counters start at 1.
const (
	readySequence    = 0
	completeSequence = 1
)

var completeLabel = []byte("session-complete")

// HandshakeConfig bounds a handshake exchange. Every await step uses
// Timeout; lost messages are resent on the Retry schedule until the
// budget is exhausted.
type HandshakeConfig struct {
	Timeout time.Duration
	Retry   retry.Config
}

// DefaultHandshakeConfig returns the handshake bounds used when the
// caller does not override them.
func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		Timeout: 3 * time.Second,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// HandshakeService runs the authenticated session establishment state
// machine for both roles. A handshake either completes with byte-equal
// derived keys on both sides or fails closed; no partially established
// session ever reaches the repository.
type HandshakeService struct {
	creds *crypto.Credentials
	caps  domain.CapabilitySet
	cfg   HandshakeConfig
	log   *logger.ContextLogger
}

// NewHandshakeService creates a handshake service for a device identity.
func NewHandshakeService(creds *crypto.Credentials, caps domain.CapabilitySet, cfg HandshakeConfig, log *logger.ContextLogger) *HandshakeService {
	return &HandshakeService{creds: creds, caps: caps, cfg: cfg, log: log}
}

// Initiate performs the initiator side: session_init, await session_ack,
// derive keys, session_ready, await session_complete. The returned
// session is fully established.
func (h *HandshakeService) Initiate(ctx context.Context, transport ports.PacketTransport) (*domain.Session, error) {
	eph, err := crypto.NewEphemeralKey()
	if err != nil {
		return nil, err
	}

	initSigned := domain.SessionInitSigned{
		Ephemeral:    eph.Public,
		Identity:     h.creds.Identity,
		Capabilities: h.caps,
	}
	signedBytes, err := wire.Marshal(initSigned)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode session_init")
	}
	initPacket, err := wire.EncodePacket(domain.MsgSessionInit, domain.SessionInitMessage{
		Ephemeral:    eph.Public,
		Identity:     h.creds.Identity,
		Capabilities: h.caps,
		Signature:    h.creds.Sign(signedBytes),
	})
	if err != nil {
		return nil, err
	}

	var ack domain.SessionAckMessage
	err = retry.Do(ctx, h.cfg.Retry, func() error {
		if err := transport.Send(ctx, initPacket); err != nil {
			return err
		}
		pkt, err := h.await(ctx, transport, domain.MsgSessionAck)
		if err != nil {
			return err
		}
		return wire.DecodeBody(pkt, &ack)
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeHandshakeTimeout, "session_ack not received")
	}

	ackSigned, err := wire.Marshal(domain.SessionAckSigned{
		Ephemeral:     ack.Ephemeral,
		PeerEphemeral: ack.PeerEphemeral,
		Identity:      ack.Identity,
		Capabilities:  ack.Capabilities,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode session_ack for verification")
	}
	if !crypto.Verify(ack.Identity.PublicKey, ackSigned, ack.Signature) {
		return nil, domain.NewError(domain.ErrCodeSignatureInvalid, "session_ack signature rejected")
	}
	if !bytes.Equal(ack.PeerEphemeral, eph.Public) {
		return nil, domain.NewError(domain.ErrCodeHandshakeFailed, "session_ack echoes a foreign ephemeral key")
	}

	secret, err := eph.SharedSecret(ack.Ephemeral)
	if err != nil {
		return nil, err
	}
	sessionID := crypto.DeriveSessionID(eph.Public, ack.Ephemeral)
	keys, err := crypto.DeriveSessionKeys(secret, sessionID)
	if err != nil {
		return nil, err
	}
	negotiated := h.caps.Intersect(ack.Capabilities)

	readyMAC, err := capabilitiesMAC(keys.ControlKey, sessionID, negotiated)
	if err != nil {
		return nil, err
	}
	readyPacket, err := wire.EncodePacket(domain.MsgSessionReady, domain.SessionReadyMessage{
		SessionID:    sessionID,
		Capabilities: negotiated,
		MAC:          readyMAC,
	})
	if err != nil {
		return nil, err
	}

	var complete domain.SessionCompleteMessage
	err = retry.Do(ctx, h.cfg.Retry, func() error {
		if err := transport.Send(ctx, readyPacket); err != nil {
			return err
		}
		pkt, err := h.await(ctx, transport, domain.MsgSessionComplete)
		if err != nil {
			return err
		}
		return wire.DecodeBody(pkt, &complete)
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeHandshakeTimeout, "session_complete not received")
	}
	if complete.SessionID != sessionID {
		return nil, domain.NewError(domain.ErrCodeHandshakeFailed, "session_complete for a different session")
	}
	if !crypto.VerifyMAC(keys.ControlKey, sessionID, completeSequence, completeLabel, complete.MAC) {
		return nil, domain.NewError(domain.ErrCodeMACInvalid, "session_complete MAC rejected")
	}

	h.log.WithSession(string(sessionID)).Info("session established",
		zap.String("role", "initiator"),
		zap.String("peer", ack.Identity.Fingerprint()),
	)
	return domain.NewSession(sessionID, domain.RoleInitiator, keys, ack.Identity, negotiated), nil
}

// Respond performs the responder side against an already received and
// decoded session_init. Invalid signatures fail the handshake before any
// state is allocated or any reply is sent.
func (h *HandshakeService) Respond(ctx context.Context, transport ports.PacketTransport, init domain.SessionInitMessage) (*domain.Session, error) {
	initSigned, err := wire.Marshal(domain.SessionInitSigned{
		Ephemeral:    init.Ephemeral,
		Identity:     init.Identity,
		Capabilities: init.Capabilities,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode session_init for verification")
	}
	if !crypto.Verify(init.Identity.PublicKey, initSigned, init.Signature) {
		return nil, domain.NewError(domain.ErrCodeSignatureInvalid, "session_init signature rejected")
	}

	eph, err := crypto.NewEphemeralKey()
	if err != nil {
		return nil, err
	}
	ackSigned, err := wire.Marshal(domain.SessionAckSigned{
		Ephemeral:     eph.Public,
		PeerEphemeral: init.Ephemeral,
		Identity:      h.creds.Identity,
		Capabilities:  h.caps,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode session_ack")
	}
	ackPacket, err := wire.EncodePacket(domain.MsgSessionAck, domain.SessionAckMessage{
		Ephemeral:     eph.Public,
		PeerEphemeral: init.Ephemeral,
		Identity:      h.creds.Identity,
		Capabilities:  h.caps,
		Signature:     h.creds.Sign(ackSigned),
	})
	if err != nil {
		return nil, err
	}

	secret, err := eph.SharedSecret(init.Ephemeral)
	if err != nil {
		return nil, err
	}
	sessionID := crypto.DeriveSessionID(eph.Public, init.Ephemeral)
	keys, err := crypto.DeriveSessionKeys(secret, sessionID)
	if err != nil {
		return nil, err
	}

	var ready domain.SessionReadyMessage
	err = retry.Do(ctx, h.cfg.Retry, func() error {
		if err := transport.Send(ctx, ackPacket); err != nil {
			return err
		}
		pkt, err := h.await(ctx, transport, domain.MsgSessionReady)
		if err != nil {
			return err
		}
		return wire.DecodeBody(pkt, &ready)
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeHandshakeTimeout, "session_ready not received")
	}
	if ready.SessionID != sessionID {
		return nil, domain.NewError(domain.ErrCodeHandshakeFailed, "session_ready for a different session")
	}
	expectedMAC, err := capabilitiesMAC(keys.ControlKey, sessionID, ready.Capabilities)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(expectedMAC, ready.MAC) {
		return nil, domain.NewError(domain.ErrCodeMACInvalid, "session_ready MAC rejected")
	}

	completePacket, err := wire.EncodePacket(domain.MsgSessionComplete, domain.SessionCompleteMessage{
		SessionID: sessionID,
		MAC:       crypto.ComputeMAC(keys.ControlKey, sessionID, completeSequence, completeLabel),
	})
	if err != nil {
		return nil, err
	}
	if err := transport.Send(ctx, completePacket); err != nil {
		return nil, err
	}

	negotiated := ready.Capabilities
	h.log.WithSession(string(sessionID)).Info("session established",
		zap.String("role", "responder"),
		zap.String("peer", init.Identity.Fingerprint()),
	)
	return domain.NewSession(sessionID, domain.RoleResponder, keys, init.Identity, negotiated), nil
}

// await reads packets until one of the wanted type arrives or the step
// timeout expires. Unrelated packet types are dropped, not errors; a
// retransmitted session_init during the ready wait must not abort the
// exchange.
func (h *HandshakeService) await(ctx context.Context, transport ports.PacketTransport, want domain.MessageType) (wire.Packet, error) {
	stepCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()
	for {
		data, err := transport.Recv(stepCtx)
		if err != nil {
			return wire.Packet{}, err
		}
		pkt, err := wire.DecodePacket(data)
		if err != nil {
			continue
		}
		if pkt.Type == want {
			return pkt, nil
		}
	}
}

// capabilitiesMAC authenticates the negotiated capability set with the
// derived control key, proving possession of the session keys without
// exposing them.
func capabilitiesMAC(controlKey []byte, sessionID domain.SessionID, caps domain.CapabilitySet) ([]byte, error) {
	payload, err := wire.Marshal(caps)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode negotiated capabilities")
	}
	return crypto.ComputeMAC(controlKey, sessionID, readySequence, payload), nil
}
