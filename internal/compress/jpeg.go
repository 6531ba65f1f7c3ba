package compress

import (
	goimage "image"
	"image/color"
	"image/jpeg"

	"github.com/spicectl/displaycore/internal/canvas"
)

// JPEGEncoder is the lossy codec spec.md §4.6 names for stream frames
// and opportunistic lossy still encodes. It uses the standard library's
// image/jpeg: no library in the retrieval pack offers a JPEG encoder
// (klauspost/compress only does the DEFLATE family; golang.org/x/image
// only decodes JPEG), so this one concern is stdlib by necessity rather
// than by choice — see DESIGN.md.
//
// Images carrying an alpha channel have their alpha plane compressed
// separately with LZEncoder and appended after the JPEG stream, since
// JPEG has no native alpha channel; this mirrors spec.md §4.6's
// "alpha-LZ" side channel for RGBA.
type JPEGEncoder struct {
	Quality int
	alpha   *LZEncoder
}

func NewJPEGEncoder(quality int) *JPEGEncoder {
	return &JPEGEncoder{Quality: quality, alpha: NewLZEncoder()}
}

func (e *JPEGEncoder) Codec() Codec { return CodecJPEG }

func (e *JPEGEncoder) Encode(id uint64, img *canvas.Image, bufs *BufferList) (Result, error) {
	rgba := toRGBA(img)

	buf := newChunkWriter(bufs)
	if err := jpeg.Encode(buf, rgba, &jpeg.Options{Quality: e.Quality}); err != nil {
		buf.Release()
		return Result{}, err
	}

	data := buf.Bytes()
	buf.Release()
	if img.Format == canvas.Format32bppAlpha {
		alphaPlane := extractAlpha(img)
		alphaImg := &canvas.Image{Format: canvas.Format8bpp, Width: img.Width, Height: img.Height, Stride: img.Width, Pixels: alphaPlane}
		alphaResult, err := e.alpha.Encode(id, alphaImg, bufs)
		if err == nil {
			out := make([]byte, 0, len(data)+4+len(alphaResult.Data))
			out = append(out, data...)
			out = append(out, byte(len(alphaResult.Data)), byte(len(alphaResult.Data)>>8), byte(len(alphaResult.Data)>>16), byte(len(alphaResult.Data)>>24))
			out = append(out, alphaResult.Data...)
			data = out
		}
	}

	return Result{Codec: CodecJPEG, Data: data, Lossy: true, OrigSize: len(img.Pixels)}, nil
}

func toRGBA(img *canvas.Image) *goimage.RGBA {
	out := goimage.NewRGBA(goimage.Rect(0, 0, int(img.Width), int(img.Height)))
	for y := int32(0); y < img.Height; y++ {
		for x := int32(0); x < img.Width; x++ {
			r, g, b, _ := pixelRGBA(img, x, y)
			out.SetRGBA(int(x), int(y), color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return out
}

func extractAlpha(img *canvas.Image) []byte {
	out := make([]byte, img.Width*img.Height)
	i := 0
	for y := int32(0); y < img.Height; y++ {
		for x := int32(0); x < img.Width; x++ {
			_, _, _, a := pixelRGBA(img, x, y)
			out[i] = a
			i++
		}
	}
	return out
}

func pixelRGBA(img *canvas.Image, x, y int32) (r, g, b, a byte) {
	bpp := img.Format.BytesPerPixel()
	off := y*img.Stride + x*int32(bpp)
	if off < 0 || int(off)+bpp > len(img.Pixels) {
		return 0, 0, 0, 0xff
	}
	px := img.Pixels[off : off+int32(bpp)]
	switch bpp {
	case 4:
		return px[2], px[1], px[0], px[3]
	case 3:
		return px[2], px[1], px[0], 0xff
	case 2:
		v := uint16(px[0]) | uint16(px[1])<<8
		return byte((v >> 10) & 0x1f << 3), byte((v >> 5) & 0x1f << 3), byte(v & 0x1f << 3), 0xff
	default:
		return px[0], px[0], px[0], 0xff
	}
}
