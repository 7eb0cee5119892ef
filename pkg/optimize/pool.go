package optimize

import "sync"

// BufferPool recycles byte buffers for UDP read loops and frame
// encoding, keeping datagram handling allocation-free on the hot path.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of fixed-capacity buffers.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get returns a buffer of the pool's capacity.
func (p *BufferPool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a buffer to the pool. Buffers of the wrong capacity are
// dropped rather than poisoning the pool.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}
