package rcbuf

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Buffer is an immutable, reference-counted byte slice. Readers obtained via
// NewReader keep it alive; Release drops the owning Entry's reference. When
// the reference count reaches zero the backing chunk returns to its Pool.
//
// This mirrors the teacher's recycle.Data/DataReader split: Data never
// exposes its bytes directly so that callers cannot hold a slice past
// recycling, and reads must go through a reader so ownership stays explicit.
type Buffer struct {
	pool     *Pool
	chunk    []byte
	refs     int32 // atomic
	released int32 // atomic, CAS guard against double Release
}

// Len returns the buffer's length without requiring a reader.
func (b *Buffer) Len() int { return len(b.chunk) }

// NewReader returns a reader that keeps the buffer alive until Close.
func (b *Buffer) NewReader() *BufferReader {
	if atomic.LoadInt32(&b.released) == 1 && atomic.LoadInt32(&b.refs) == 0 {
		panic("rcbuf: NewReader on fully recycled Buffer")
	}
	atomic.AddInt32(&b.refs, 1)
	return &BufferReader{buf: b}
}

// Bytes returns a private copy of the buffer's contents, for call sites
// that need an owned []byte rather than a zero-copy writer; internal hot
// paths should prefer NewReader + WriteTo.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, len(b.chunk))
	copy(out, b.chunk)
	return out
}

// Release drops the Entry-held reference. Safe to call exactly once per
// Buffer; a second call panics, matching the teacher's double-Recycle guard
// which exists to catch ownership bugs early rather than silently double-free.
func (b *Buffer) Release() {
	if !atomic.CompareAndSwapInt32(&b.released, 0, 1) {
		panic("rcbuf: Release called twice")
	}
	b.decref()
}

func (b *Buffer) decref() {
	left := atomic.AddInt32(&b.refs, -1)
	if left < 0 {
		panic("rcbuf: reference count went negative")
	}
	if left == 0 {
		b.pool.put(b.chunk)
		b.chunk = nil
		b.pool = nil
	}
}

func (b *Buffer) GoString() string {
	return fmt.Sprintf("rcbuf.Buffer{len:%d, refs:%d}", len(b.chunk), atomic.LoadInt32(&b.refs))
}

// BufferReader is a single-use handle on a Buffer's bytes.
type BufferReader struct {
	buf *Buffer
	off int
}

var _ interface {
	io.ReadCloser
	io.WriterTo
} = (*BufferReader)(nil)

// WriteTo copies the buffer's bytes to w without an intermediate allocation.
func (r *BufferReader) WriteTo(w io.Writer) (int64, error) {
	if r.buf == nil {
		return 0, io.ErrClosedPipe
	}
	n, err := w.Write(r.buf.chunk[r.off:])
	r.off += n
	return int64(n), err
}

// Read implements io.Reader for callers that need the stdlib idiom; prefer
// WriteTo on hot paths to avoid the copy.
func (r *BufferReader) Read(p []byte) (int, error) {
	if r.buf == nil {
		return 0, io.EOF
	}
	if r.off >= len(r.buf.chunk) {
		return 0, io.EOF
	}
	n := copy(p, r.buf.chunk[r.off:])
	r.off += n
	return n, nil
}

// Close releases this reader's reference. Idempotent, matching the teacher's
// tolerance for callers that defer Close after an earlier explicit Close.
func (r *BufferReader) Close() error {
	if r.buf == nil {
		return nil
	}
	r.buf.decref()
	r.buf = nil
	return nil
}
