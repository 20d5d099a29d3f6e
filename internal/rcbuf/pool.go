// Package rcbuf provides reference-counted, recyclable byte buffers so that
// cache reads and wire encoding do not copy value bytes.
//
// A Buffer is born with one reference. NewReader bumps the reference count;
// BufferReader.Close drops it. Once the owning Entry calls Release and the
// last reader closes, the backing chunk returns to its size-class pool.
package rcbuf

import (
	"sync"
)

const (
	minPoolSize = 1 << 6
	maxPoolSize = 1 << 20 // Values larger than this come straight from the GC.
)

// DefaultSizeClasses are power-of-two chunk sizes used by the default Pool,
// mirroring the teacher's recycle.DefaultChunkSizes ladder.
var DefaultSizeClasses = func() []int {
	var sizes []int
	for sz := minPoolSize; sz <= maxPoolSize; sz *= 2 {
		sizes = append(sizes, sz)
	}
	return sizes
}()

// Pool hands out []byte chunks sized to the nearest size class and recycles
// them via sync.Pool once every reader of the Buffer wrapping them is done.
type Pool struct {
	sizes []int
	pools []sync.Pool
}

// NewPool builds a Pool with DefaultSizeClasses.
func NewPool() *Pool { return NewPoolWithSizes(DefaultSizeClasses) }

// NewPoolWithSizes builds a Pool with an explicit, ascending set of chunk
// sizes. Panics on unsorted or non-positive sizes, same as the teacher's
// recycle.NewPoolSizes.
func NewPoolWithSizes(sizes []int) *Pool {
	for i, sz := range sizes {
		if sz <= 0 {
			panic("rcbuf: non-positive size class")
		}
		if i > 0 && sizes[i-1] >= sz {
			panic("rcbuf: size classes must be strictly ascending")
		}
	}
	p := &Pool{sizes: sizes, pools: make([]sync.Pool, len(sizes))}
	for i := range sizes {
		sz := sizes[i]
		p.pools[i].New = func() any { return make([]byte, sz) }
	}
	return p
}

// New allocates a Buffer of length n, owned by this pool, with one reference.
func (p *Pool) New(n int) *Buffer {
	return &Buffer{pool: p, chunk: p.get(n)[:n], refs: 1}
}

// NewFromBytes copies src into a pool-owned Buffer. Carbon never aliases
// caller-owned memory into long-lived cache storage, so every PUT path
// should use this (or New+copy) rather than wrapping a foreign slice.
func (p *Pool) NewFromBytes(src []byte) *Buffer {
	b := p.New(len(src))
	copy(b.chunk, src)
	return b
}

func (p *Pool) get(n int) []byte {
	if p.isUnpooled(n) {
		return make([]byte, n)
	}
	for i, sz := range p.sizes {
		if n <= sz {
			return p.pools[i].Get().([]byte)[:n]
		}
	}
	return make([]byte, n)
}

func (p *Pool) put(chunk []byte) {
	cp := cap(chunk)
	if p.isUnpooled(cp) {
		return // Let the GC reclaim it.
	}
	for i, sz := range p.sizes {
		if cp == sz {
			p.pools[i].Put(chunk[:sz])
			return
		}
	}
	// Oversized chunk from an unpooled allocation slipping through; drop it.
}

// isUnpooled reports whether n is small enough that pooling costs more than
// it saves, matching the teacher's minDefChunkSize/2 cutoff.
func (p *Pool) isUnpooled(n int) bool {
	return n <= p.sizes[0]/2
}
