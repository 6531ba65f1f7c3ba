package compress

import (
	"github.com/klauspost/compress/zlib"

	"github.com/spicectl/displaycore/internal/canvas"
)

// ZlibGLZEncoder wraps an inner GLZEncoder's output in a further zlib
// pass (spec.md §4.6's "zlib-over-GLZ"): once the GLZ output reaches
// the configured threshold (in bytes) the dictionary match residue still carries
// enough redundancy that a second entropy pass earns back bytes, at
// the cost of the zlib header/footer overhead that makes it not worth
// doing below the threshold. The outer wrap uses
// github.com/klauspost/compress/zlib specifically (not flate) because
// it's the one member of that package family with a single canonical
// header, useful whenever a self-describing stream is wanted instead
// of flate's bare one.
type ZlibGLZEncoder struct {
	Inner     *GLZEncoder
	Threshold int64
	Level     int
}

func NewZlibGLZEncoder(inner *GLZEncoder, thresholdBytes int64) *ZlibGLZEncoder {
	return &ZlibGLZEncoder{Inner: inner, Threshold: thresholdBytes, Level: zlib.DefaultCompression}
}

func (e *ZlibGLZEncoder) Codec() Codec { return CodecZlibGLZ }

func (e *ZlibGLZEncoder) Encode(id uint64, img *canvas.Image, bufs *BufferList) (Result, error) {
	inner, err := e.Inner.Encode(id, img, bufs)
	if err != nil {
		return Result{}, err
	}
	if int64(len(inner.Data)) < e.Threshold {
		return inner, nil
	}

	buf := newChunkWriter(bufs)
	w, err := zlib.NewWriterLevel(buf, e.Level)
	if err != nil {
		buf.Release()
		return Result{}, err
	}
	if _, err := w.Write(inner.Data); err != nil {
		buf.Release()
		return Result{}, err
	}
	if err := w.Close(); err != nil {
		buf.Release()
		return Result{}, err
	}
	if buf.Len() >= len(inner.Data) {
		buf.Release()
		return inner, nil // zlib pass didn't pay for itself, ship the plain GLZ result
	}
	data := buf.Bytes()
	buf.Release()
	return Result{Codec: CodecZlibGLZ, Data: data, OrigSize: inner.OrigSize}, nil
}
