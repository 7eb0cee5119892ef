package ports

import "context"

// PacketTransport moves encoded packets between two peers. The protocol
// runs over datagrams; delivery is unordered and unreliable, and the
// layers above provide their own reliability where they need it.
type PacketTransport interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// FrameTransport is the minimal one-way transport for streaming frames.
type FrameTransport interface {
	SendFrame(data []byte) error
}
