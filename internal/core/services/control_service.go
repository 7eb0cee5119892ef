package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/pkg/circuitbreaker"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/retry"
	"alpinenet/pkg/wire"
)

// ControlHandler applies one decoded control operation on the receiver.
// Returning an error produces a negative acknowledgement; the sequence
// stays consumed either way.
type ControlHandler func(ctx context.Context, session *domain.Session, op domain.ControlOp, payload []byte) error

type pendingAck struct {
	ch chan domain.Acknowledge
}

// ControlService implements the reliable authenticated control channel.
// Outbound envelopes are retransmitted on a backoff schedule until
// acknowledged or the attempt budget runs out; inbound envelopes pass
// MAC verification and replay protection before any handler runs.
type ControlService struct {
	metrics ports.MetricsCollector
	log     *logger.ContextLogger
	backoff retry.Config
	breaker *circuitbreaker.CircuitBreaker

	mu       sync.Mutex
	pending  map[domain.SessionID]map[uint64]*pendingAck
	handlers map[domain.ControlOp]ControlHandler

	// keepalives proves peer liveness mid-retransmit, per session: a
	// keepalive that arrives while a send to the same session is waiting
	// grants that send a fresh attempt budget instead of letting it give
	// up on a live peer. Keepalives from other sessions never extend a
	// send to a dead peer.
	keepalives map[domain.SessionID]uint64
}

// NewControlService creates the control channel layer.
func NewControlService(backoff retry.Config, metrics ports.MetricsCollector, log *logger.ContextLogger) *ControlService {
	return &ControlService{
		metrics:    metrics,
		log:        log,
		backoff:    backoff,
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		pending:    make(map[domain.SessionID]map[uint64]*pendingAck),
		handlers:   make(map[domain.ControlOp]ControlHandler),
		keepalives: make(map[domain.SessionID]uint64),
	}
}

// RegisterHandler installs the receiver-side handler for an operation.
func (c *ControlService) RegisterHandler(op domain.ControlOp, handler ControlHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[op] = handler
}

// Send delivers one control operation reliably. The payload is encrypted
// when the session negotiated the encryption capability; the MAC always
// covers the exact bytes on the wire. Send blocks until the peer
// acknowledges or the retransmit budget is exhausted.
func (c *ControlService) Send(ctx context.Context, session *domain.Session, transport ports.PacketTransport, op domain.ControlOp, payload []byte) error {
	if session.Closed() {
		return domain.NewError(domain.ErrCodeSessionClosed, "session closed")
	}

	seq := session.NextSequence()
	wirePayload := payload
	encrypted := false
	if session.Encrypted() {
		sealed, err := crypto.SealPayload(session.Keys.PayloadKey, session.ID, seq, payload)
		if err != nil {
			return err
		}
		wirePayload = sealed
		encrypted = true
	}

	packet, err := wire.EncodePacket(domain.MsgControl, domain.ControlEnvelope{
		SessionID: session.ID,
		Sequence:  seq,
		Op:        op,
		Payload:   wirePayload,
		Encrypted: encrypted,
		MAC:       crypto.ComputeMAC(session.Keys.ControlKey, session.ID, seq, wirePayload),
	})
	if err != nil {
		return err
	}

	waiter := c.registerWaiter(session.ID, seq)
	defer c.unregisterWaiter(session.ID, seq)

	err = c.breaker.Execute(func() error {
		return c.deliver(ctx, session, transport, packet, seq, waiter)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return domain.WrapError(err, domain.ErrCodeDeliveryFailed, "control channel circuit open")
	}
	return err
}

// deliver runs the retransmit loop for one envelope.
func (c *ControlService) deliver(ctx context.Context, session *domain.Session, transport ports.PacketTransport, packet []byte, seq uint64, waiter *pendingAck) error {
	keepaliveMark := c.keepaliveMark(session.ID)
	attempt := 0
	for {
		if err := transport.Send(ctx, packet); err != nil {
			return err
		}
		if attempt > 0 {
			c.metrics.ControlRetransmit()
		}

		wait := retry.Delay(c.backoff, attempt)
		select {
		case ack := <-waiter.ch:
			session.Touch()
			c.metrics.ControlDelivered()
			if !ack.OK {
				return domain.NewError(domain.ErrCodeDeliveryFailed, ack.Detail)
			}
			return nil
		case <-time.After(wait):
		case <-ctx.Done():
			return domain.WrapError(ctx.Err(), domain.ErrCodeDeliveryFailed, "control send cancelled")
		}

		attempt++
		if attempt > c.backoff.MaxAttempts {
			// A keepalive from this session observed during the wait
			// proves the peer is alive; grant one fresh budget before
			// giving up.
			if mark := c.keepaliveMark(session.ID); mark != keepaliveMark {
				keepaliveMark = mark
				attempt = 0
				continue
			}
			c.log.WithSession(string(session.ID)).Warn("control delivery failed",
				zap.Uint64("seq", seq),
				zap.Int("attempts", c.backoff.MaxAttempts+1),
			)
			return domain.NewError(domain.ErrCodeDeliveryFailed, "acknowledgement not received")
		}
	}
}

func (c *ControlService) keepaliveMark(id domain.SessionID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepalives[id]
}

func (c *ControlService) registerWaiter(id domain.SessionID, seq uint64) *pendingAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	bySeq, ok := c.pending[id]
	if !ok {
		bySeq = make(map[uint64]*pendingAck)
		c.pending[id] = bySeq
	}
	waiter := &pendingAck{ch: make(chan domain.Acknowledge, 1)}
	bySeq[seq] = waiter
	return waiter
}

func (c *ControlService) unregisterWaiter(id domain.SessionID, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bySeq, ok := c.pending[id]; ok {
		delete(bySeq, seq)
		if len(bySeq) == 0 {
			delete(c.pending, id)
		}
	}
}

// HandleAck routes an inbound acknowledgement to its waiting sender.
// Acks with invalid MACs are dropped without waking anyone.
func (c *ControlService) HandleAck(session *domain.Session, ack domain.Acknowledge) {
	if !crypto.VerifyMAC(session.Keys.ControlKey, ack.SessionID, ack.Sequence, ackPayload(ack.OK, ack.Detail), ack.MAC) {
		c.metrics.FrameRejected(string(domain.ErrCodeMACInvalid))
		return
	}
	c.mu.Lock()
	waiter := c.pending[ack.SessionID][ack.Sequence]
	c.mu.Unlock()
	if waiter == nil {
		return
	}
	select {
	case waiter.ch <- ack:
	default:
	}
}

// HandleControl verifies and applies one inbound control envelope, then
// acknowledges it. Verification order is fixed: MAC first, then replay.
// A replayed sequence that verifies is re-acknowledged without being
// applied again, so a lost ack does not wedge the sender.
func (c *ControlService) HandleControl(ctx context.Context, session *domain.Session, transport ports.PacketTransport, env domain.ControlEnvelope) error {
	if !crypto.VerifyMAC(session.Keys.ControlKey, env.SessionID, env.Sequence, env.Payload, env.MAC) {
		return domain.NewError(domain.ErrCodeMACInvalid, "control envelope MAC rejected")
	}

	if err := session.AcceptSequence(env.Sequence); err != nil {
		if domain.IsCode(err, domain.ErrCodeSequenceReplayed) {
			return c.sendAck(ctx, session, transport, env.Sequence, true, "")
		}
		return err
	}

	payload := env.Payload
	if env.Encrypted {
		plain, err := crypto.OpenPayload(session.Keys.PayloadKey, session.ID, env.Sequence, env.Payload)
		if err != nil {
			return err
		}
		payload = plain
	}

	c.mu.Lock()
	handler := c.handlers[env.Op]
	c.mu.Unlock()
	if handler == nil {
		return c.sendAck(ctx, session, transport, env.Sequence, false, "unsupported operation")
	}
	if err := handler(ctx, session, env.Op, payload); err != nil {
		return c.sendAck(ctx, session, transport, env.Sequence, false, err.Error())
	}
	return c.sendAck(ctx, session, transport, env.Sequence, true, "")
}

func (c *ControlService) sendAck(ctx context.Context, session *domain.Session, transport ports.PacketTransport, seq uint64, ok bool, detail string) error {
	packet, err := wire.EncodePacket(domain.MsgControlAck, domain.Acknowledge{
		SessionID: session.ID,
		Sequence:  seq,
		OK:        ok,
		Detail:    detail,
		MAC:       crypto.ComputeMAC(session.Keys.ControlKey, session.ID, seq, ackPayload(ok, detail)),
	})
	if err != nil {
		return err
	}
	return transport.Send(ctx, packet)
}

// SendKeepalive refreshes the peer's view of this session.
func (c *ControlService) SendKeepalive(ctx context.Context, session *domain.Session, transport ports.PacketTransport, nowMs uint64) error {
	packet, err := wire.EncodePacket(domain.MsgKeepalive, domain.KeepaliveMessage{
		SessionID: session.ID,
		SentMs:    nowMs,
	})
	if err != nil {
		return err
	}
	return transport.Send(ctx, packet)
}

// HandleKeepalive records peer liveness. In-flight sends to the same
// session observe the counter change and reset their attempt budgets.
func (c *ControlService) HandleKeepalive(session *domain.Session, _ domain.KeepaliveMessage) {
	session.Touch()
	c.mu.Lock()
	c.keepalives[session.ID]++
	c.mu.Unlock()
}

// ReleaseSession drops retransmit and keepalive state for a torn-down
// session. In-flight sends to it are not woken; they fail on their own
// schedule against the closed session.
func (c *ControlService) ReleaseSession(id domain.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	delete(c.keepalives, id)
}

// ackPayload is the byte string covered by an acknowledgement MAC.
func ackPayload(ok bool, detail string) []byte {
	b := make([]byte, 0, 1+len(detail))
	if ok {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return append(b, detail...)
}
