package transport

import (
	"context"
	"sync"

	"alpinenet/internal/core/domain"
)

// LoopbackPair returns two connected in-memory transports. Everything
// sent on one side is received on the other, in order and without loss,
// which is exactly what handshake determinism tests need.
func LoopbackPair(depth int) (*Loopback, *Loopback) {
	ab := make(chan []byte, depth)
	ba := make(chan []byte, depth)
	a := &Loopback{out: ab, in: ba}
	b := &Loopback{out: ba, in: ab}
	a.peer, b.peer = b, a
	return a, b
}

// Loopback is one endpoint of an in-memory transport pair.
type Loopback struct {
	out  chan []byte
	in   chan []byte
	peer *Loopback

	mu     sync.Mutex
	closed bool

	// DropNext discards the next n outbound packets, simulating loss.
	DropNext int
}

// Send delivers a packet to the peer endpoint.
func (l *Loopback) Send(ctx context.Context, data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.NewError(domain.ErrCodeSessionClosed, "loopback closed")
	}
	if l.DropNext > 0 {
		l.DropNext--
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case l.out <- cp:
		return nil
	case <-ctx.Done():
		return domain.WrapError(ctx.Err(), domain.ErrCodeTransport, "loopback send cancelled")
	}
}

// Recv returns the next packet from the peer.
func (l *Loopback) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-l.in:
		if !ok {
			return nil, domain.NewError(domain.ErrCodeSessionClosed, "loopback closed")
		}
		return data, nil
	case <-ctx.Done():
		return nil, domain.WrapError(ctx.Err(), domain.ErrCodeHandshakeTimeout, "loopback recv timeout")
	}
}

// Close marks the endpoint closed.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
