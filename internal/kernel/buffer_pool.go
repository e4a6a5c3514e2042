package kernel

import "sync"

// BufferPool reuses pixel buffers via sync.Pool, one pool per byte size.
//
// Tiles of one frame come in at most four sizes (interior, last column,
// last row, corner), so the per-size pools stay small.
//
// Thread safety: BufferPool is safe for concurrent use.
type BufferPool struct {
	// pools maps a byte size to its *sync.Pool.
	pools sync.Map
}

// NewBufferPool creates an empty buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// Get returns a buffer of exactly size bytes. Its contents are undefined.
// Returns nil if size is not positive.
func (p *BufferPool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	bp := p.getOrCreatePool(size).Get().(*[]byte)
	return (*bp)[:size]
}

// Put returns buf to the pool. Buffers of a size the pool has never handed
// out are left to the GC. If buf is nil, this is a no-op.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	if pool, ok := p.pools.Load(cap(buf)); ok {
		buf = buf[:cap(buf)]
		pool.(*sync.Pool).Put(&buf)
	}
}

// getOrCreatePool gets or creates the sync.Pool for size.
func (p *BufferPool) getOrCreatePool(size int) *sync.Pool {
	if pool, ok := p.pools.Load(size); ok {
		return pool.(*sync.Pool)
	}

	newPool := &sync.Pool{
		New: func() any {
			b := make([]byte, size)
			return &b
		},
	}

	// Try to store; if another goroutine beat us, use theirs
	actual, _ := p.pools.LoadOrStore(size, newPool)
	return actual.(*sync.Pool)
}

// defaultPool is the package-level buffer pool shared by all kernels.
var defaultPool = NewBufferPool()

// GetBuffer retrieves a buffer from the default pool.
func GetBuffer(size int) []byte {
	return defaultPool.Get(size)
}

// PutBuffer returns a buffer to the default pool.
func PutBuffer(buf []byte) {
	defaultPool.Put(buf)
}
