package compress

import (
	"github.com/klauspost/compress/flate"

	"github.com/spicectl/displaycore/internal/canvas"
)

// QuicEncoder is the lossless predictive codec spec.md §4.6 selects
// for images at or above the QUIC area threshold. The real SPICE QUIC
// codec is a per-pixel adaptive-context arithmetic coder; this
// implementation keeps QUIC's two-stage shape (a spatial predictor
// stage that turns smooth photographic gradients into small residuals,
// then an entropy stage over the residual stream) but uses
// klauspost/compress/flate for the entropy stage rather than a
// bespoke arithmetic coder.
type QuicEncoder struct {
	Level int
}

func NewQuicEncoder() *QuicEncoder { return &QuicEncoder{Level: flate.BestCompression} }

func (e *QuicEncoder) Codec() Codec { return CodecQuic }

func (e *QuicEncoder) Encode(_ uint64, img *canvas.Image, bufs *BufferList) (Result, error) {
	residual := predictFilter(img)

	buf := newChunkWriter(bufs)
	w, err := flate.NewWriter(buf, e.Level)
	if err != nil {
		buf.Release()
		return Result{}, err
	}
	if _, err := w.Write(residual); err != nil {
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
	buf.Release()
	return Result{Codec: CodecQuic, Data: data, OrigSize: len(img.Pixels)}, nil
}

// predictFilter replaces each byte with its difference from the
// left-neighbor pixel's corresponding byte (a MED-less, single-pass
// approximation of QUIC's median predictor), which is what gives
// smooth photographic gradients long runs of near-zero residual bytes
// for the entropy stage to collapse.
func predictFilter(img *canvas.Image) []byte {
	bpp := img.Format.BytesPerPixel()
	out := make([]byte, len(img.Pixels))
	for y := int32(0); y < img.Height; y++ {
		rowStart := y * img.Stride
		for x := int32(0); x < img.Width; x++ {
			off := rowStart + x*int32(bpp)
			for c := 0; c < bpp; c++ {
				cur := img.Pixels[int(off)+c]
				var left byte
				if x > 0 {
					left = img.Pixels[int(off)-bpp+c]
				}
				out[int(off)+c] = cur - left
			}
		}
	}
	return out
}
