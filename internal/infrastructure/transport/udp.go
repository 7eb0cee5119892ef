// Package transport provides datagram transports for the protocol:
// CBOR-over-UDP for real deployments and an in-memory loopback pair for
// exercising both handshake roles in-process.
package transport

import (
	"context"
	"net"
	"time"

	"alpinenet/internal/core/domain"
	"alpinenet/pkg/optimize"
)

// UDPTransport sends and receives packets over a connected UDP socket.
type UDPTransport struct {
	conn    *net.UDPConn
	maxSize int
	pool    *optimize.BufferPool
}

// DialUDP binds a local UDP socket and connects it to the peer.
func DialUDP(local, remote string, maxSize int) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "resolve local address")
	}
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "resolve remote address")
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "dial udp")
	}
	return &UDPTransport{
		conn:    conn,
		maxSize: maxSize,
		pool:    optimize.NewBufferPool(maxSize),
	}, nil
}

// Send writes one datagram. Oversized packets are rejected before hitting
// the socket.
func (t *UDPTransport) Send(_ context.Context, data []byte) error {
	if len(data) > t.maxSize {
		return domain.NewError(domain.ErrCodeStreamTooLarge, "packet exceeds transport limit")
	}
	if _, err := t.conn.Write(data); err != nil {
		return domain.WrapError(err, domain.ErrCodeTransport, "udp send")
	}
	return nil
}

// Recv reads one datagram, honoring the context deadline.
func (t *UDPTransport) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, domain.WrapError(err, domain.ErrCodeTransport, "set read deadline")
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, domain.WrapError(err, domain.ErrCodeTransport, "clear read deadline")
		}
	}

	buf := t.pool.Get()
	defer t.pool.Put(buf)
	n, err := t.conn.Read(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, domain.WrapError(err, domain.ErrCodeHandshakeTimeout, "udp recv timeout")
		}
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "udp recv")
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}
