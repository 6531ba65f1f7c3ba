package compress

import (
	"github.com/klauspost/compress/flate"

	"github.com/spicectl/displaycore/internal/canvas"
)

// LZEncoder is the self-contained (non-shared-dictionary) LZ codec:
// each image is compressed independently with no cross-image history,
// unlike GLZEncoder. Uses klauspost/compress throughout for flate/zlib
// framing; LZ here is simply flate at its default compression level
// (spec.md §4.6's "mode: lz").
type LZEncoder struct {
	Level int
}

func NewLZEncoder() *LZEncoder { return &LZEncoder{Level: flate.DefaultCompression} }

func (e *LZEncoder) Codec() Codec { return CodecLZ }

func (e *LZEncoder) Encode(_ uint64, img *canvas.Image, bufs *BufferList) (Result, error) {
	buf := newChunkWriter(bufs)
	w, err := flate.NewWriter(buf, e.Level)
	if err != nil {
		buf.Release()
		return Result{}, err
	}
	if _, err := w.Write(img.Pixels); err != nil {
		buf.Release()
		return Result{}, err
	}
	if err := w.Close(); err != nil {
		buf.Release()
		return Result{}, err
	}
	if buf.Len() >= len(img.Pixels) {
		buf.Release()
		return Result{}, ErrCompressionFailed
	}
	data := buf.Bytes()
	buf.Release() // Bytes() already copied out; the chunks can go back to the pool now
	return Result{Codec: CodecLZ, Data: data, OrigSize: len(img.Pixels)}, nil
}
