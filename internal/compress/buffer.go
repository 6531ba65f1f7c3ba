// Package compress implements the multi-codec image compression layer
// (spec.md §4.6): QUIC, LZ, GLZ, JPEG and zlib-over-GLZ encoders behind
// one Encoder interface, plus the fixed-size buffer pool the encoders
// share. The pool shape (fixed-size chunks, per-client free list) is
// ported from api/pkg/moonlight/proxy.go's framed read/write buffer
// handling, generalized from a single reusable buffer to a free-listed
// pool since the display worker runs many concurrent per-client
// encodes.
package compress

import "sync"

// ChunkSize matches the SPICE wire encoder's historical output chunk
// size; encoders append into chunks rather than growing one flat
// buffer so a partially-filled chunk can be reused without copying.
const ChunkSize = 64 * 1024

// BufferList is a per-client pool of fixed-size byte chunks, reused
// across encode calls to keep the per-frame allocation rate flat
// regardless of image size.
type BufferList struct {
	mu   sync.Mutex
	free [][]byte
}

func NewBufferList() *BufferList {
	return &BufferList{}
}

// Get returns a zero-length, ChunkSize-capacity chunk from the free
// list, allocating a new one only if the list is empty. A nil
// *BufferList (as callers that don't care about pooling, e.g. tests,
// may pass) just allocates fresh each time.
func (b *BufferList) Get() []byte {
	if b == nil {
		return make([]byte, 0, ChunkSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.free)
	if n == 0 {
		return make([]byte, 0, ChunkSize)
	}
	chunk := b.free[n-1]
	b.free = b.free[:n-1]
	return chunk[:0]
}

// Put returns a chunk to the free list for reuse. Chunks not of
// ChunkSize capacity are dropped rather than pooled, since they were
// likely a one-off oversized allocation (a single drawable wider than
// one chunk).
func (b *BufferList) Put(chunk []byte) {
	if b == nil || cap(chunk) != ChunkSize {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.free = append(b.free, chunk[:0])
}

// chunkWriter is an io.Writer that accumulates written bytes into
// BufferList chunks instead of growing one flat buffer, so an
// encoder's output lives in the same fixed-size, recyclable chunks the
// rest of the pipe uses (spec.md §4.6's chunked output buffers).
type chunkWriter struct {
	bufs   *BufferList
	chunks [][]byte
	cur    []byte
}

func newChunkWriter(bufs *BufferList) *chunkWriter {
	return &chunkWriter{bufs: bufs}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		if w.cur == nil {
			w.cur = w.bufs.Get()
		}
		space := cap(w.cur) - len(w.cur)
		if space == 0 {
			w.chunks = append(w.chunks, w.cur)
			w.cur = w.bufs.Get()
			space = cap(w.cur) - len(w.cur)
		}
		take := len(p)
		if take > space {
			take = space
		}
		w.cur = append(w.cur, p[:take]...)
		p = p[take:]
	}
	return written, nil
}

// Len reports the total bytes written so far across every chunk.
func (w *chunkWriter) Len() int {
	n := len(w.cur)
	for _, c := range w.chunks {
		n += len(c)
	}
	return n
}

// Bytes copies every chunk into one contiguous slice, for handing to
// the wire layer. The returned slice shares no memory with the chunks,
// so the caller may Release them as soon as Bytes returns.
func (w *chunkWriter) Bytes() []byte {
	if len(w.chunks) == 0 {
		return append([]byte(nil), w.cur...)
	}
	out := make([]byte, 0, w.Len())
	for _, c := range w.chunks {
		out = append(out, c...)
	}
	return append(out, w.cur...)
}

// Release returns every chunk this writer holds to the free list, for
// the case where the encoded output is being discarded (e.g. it didn't
// shrink the image and the caller falls back to CodecRaw).
func (w *chunkWriter) Release() {
	for _, c := range w.chunks {
		w.bufs.Put(c)
	}
	if w.cur != nil {
		w.bufs.Put(w.cur)
	}
	w.chunks = nil
	w.cur = nil
}
