package proxy

import (
	"net/http/httputil"
	"sync"
)

// copyBufferSize is shared by tunnels and the reverse proxy.
const copyBufferSize = 32 * 1024

var copyBuffers = NewBufferPool(copyBufferSize)

type bufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers usable as an
// httputil.BufferPool.
func NewBufferPool(size int) httputil.BufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *bufferPool) Put(b []byte) {
	// Foreign or resliced buffers would shrink later copies.
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	// This &b forces a 32-byte heap allocation.
	p.pool.Put(&b)
}
