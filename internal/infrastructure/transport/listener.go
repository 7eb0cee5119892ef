package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/pkg/optimize"
)

// UDPListener is an unconnected UDP socket serving many peers at once.
// The daemon reads from it and demultiplexes by source address.
type UDPListener struct {
	conn    *net.UDPConn
	maxSize int
	pool    *optimize.BufferPool
}

// ListenUDP binds an unconnected UDP socket.
func ListenUDP(bind string, maxSize int) (*UDPListener, error) {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "resolve bind address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "listen udp")
	}
	return &UDPListener{
		conn:    conn,
		maxSize: maxSize,
		pool:    optimize.NewBufferPool(maxSize),
	}, nil
}

// RecvFrom reads one datagram and its source address.
func (l *UDPListener) RecvFrom(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := l.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, domain.WrapError(err, domain.ErrCodeTransport, "set read deadline")
		}
	} else {
		if err := l.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, nil, domain.WrapError(err, domain.ErrCodeTransport, "clear read deadline")
		}
	}

	buf := l.pool.Get()
	defer l.pool.Put(buf)
	n, addr, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, nil, domain.WrapError(err, domain.ErrCodeHandshakeTimeout, "udp recv timeout")
		}
		return nil, nil, domain.WrapError(err, domain.ErrCodeTransport, "udp recv")
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, addr, nil
}

// SendTo writes one datagram to the given peer.
func (l *UDPListener) SendTo(_ context.Context, data []byte, addr *net.UDPAddr) error {
	if len(data) > l.maxSize {
		return domain.NewError(domain.ErrCodeStreamTooLarge, "packet exceeds transport limit")
	}
	if _, err := l.conn.WriteToUDP(data, addr); err != nil {
		return domain.WrapError(err, domain.ErrCodeTransport, "udp send")
	}
	return nil
}

// Close releases the socket.
func (l *UDPListener) Close() error {
	return l.conn.Close()
}

// LocalAddr returns the bound address.
func (l *UDPListener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// PeerConn is a per-peer view over a shared listener. It satisfies the
// packet transport port so handshake and control code is identical for
// connected and demultiplexed sockets.
type PeerConn struct {
	listener *UDPListener
	addr     *net.UDPAddr
	inbox    chan []byte
	closed   chan struct{}
	once     sync.Once
}

// Send writes to this peer through the shared socket.
func (p *PeerConn) Send(ctx context.Context, data []byte) error {
	return p.listener.SendTo(ctx, data, p.addr)
}

// Recv returns the next packet routed to this peer.
func (p *PeerConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.inbox:
		return data, nil
	case <-p.closed:
		return nil, domain.NewError(domain.ErrCodeSessionClosed, "peer connection closed")
	case <-ctx.Done():
		return nil, domain.WrapError(ctx.Err(), domain.ErrCodeHandshakeTimeout, "peer recv timeout")
	}
}

// Close detaches the peer view. The shared socket stays open.
func (p *PeerConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// Addr returns the peer's address.
func (p *PeerConn) Addr() *net.UDPAddr {
	return p.addr
}

// Demux fans one listener out into per-peer connections keyed by source
// address.
type Demux struct {
	listener *UDPListener

	mu    sync.Mutex
	peers map[string]*PeerConn
}

// NewDemux wraps a listener.
func NewDemux(listener *UDPListener) *Demux {
	return &Demux{listener: listener, peers: make(map[string]*PeerConn)}
}

// Peer returns the connection for an address, creating it on first use.
// The second return value is true when the peer is new.
func (d *Demux) Peer(addr *net.UDPAddr) (*PeerConn, bool) {
	key := addr.String()
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[key]; ok {
		return p, false
	}
	p := &PeerConn{
		listener: d.listener,
		addr:     addr,
		inbox:    make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	d.peers[key] = p
	return p, true
}

// Deliver routes a packet into a peer's inbox. Full inboxes drop the
// packet; datagram transports lose packets anyway and every layer above
// already copes.
func (d *Demux) Deliver(peer *PeerConn, data []byte) {
	select {
	case peer.inbox <- data:
	default:
	}
}

// Remove detaches and closes a peer view.
func (d *Demux) Remove(addr *net.UDPAddr) {
	key := addr.String()
	d.mu.Lock()
	peer := d.peers[key]
	delete(d.peers, key)
	d.mu.Unlock()
	if peer != nil {
		peer.Close()
	}
}

var _ ports.PacketTransport = (*PeerConn)(nil)
