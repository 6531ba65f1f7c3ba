package compress

import (
	"errors"

	"github.com/spicectl/displaycore/internal/canvas"
)

// Codec names one of the compression methods spec.md §4.6 lists for
// image data on the wire.
type Codec int

const (
	CodecInvalid Codec = iota
	CodecQuic
	CodecLZ
	CodecGLZ
	CodecJPEG
	CodecZlibGLZ
	CodecRaw // uncompressed fallback bitmap
)

func (c Codec) String() string {
	switch c {
	case CodecQuic:
		return "quic"
	case CodecLZ:
		return "lz"
	case CodecGLZ:
		return "glz"
	case CodecJPEG:
		return "jpeg"
	case CodecZlibGLZ:
		return "zlib-glz"
	case CodecRaw:
		return "raw"
	default:
		return "invalid"
	}
}

// ErrCompressionFailed signals that an encoder could not usefully
// compress an image (e.g. already-incompressible data produced a
// larger output than the raw bitmap); the caller falls back to
// CodecRaw rather than propagating an error up to the drawable path
// (spec.md §4.6: "failure always degrades to an uncompressed bitmap,
// never drops the frame").
var ErrCompressionFailed = errors.New("compress: would not shrink image")

// Result is what an Encoder produces for one image.
type Result struct {
	Codec    Codec
	Data     []byte
	Lossy    bool // true for a JPEG/quantized encode that lost precision
	OrigSize int
}

// Encoder compresses one canvas.Image. id is a stable per-drawable
// identity used by encoders (GLZ, zlib-GLZ) that consult the shared
// dictionary for cross-image back-references.
type Encoder interface {
	Encode(id uint64, img *canvas.Image, bufs *BufferList) (Result, error)
	Codec() Codec
}
