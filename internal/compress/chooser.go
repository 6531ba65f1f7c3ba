package compress

import (
	"github.com/spicectl/displaycore/internal/cache"
	"github.com/spicectl/displaycore/internal/canvas"
)

// QuicAreaThreshold decides the QUIC-vs-LZ/GLZ split for "auto" modes.
// Open Question (spec.md §9) resolved per SPEC_FULL.md F: the
// threshold compares an image's own pixel area against this constant,
// not some other structure's area — the cross-structure comparison in
// the original distillation looked like a copy/paste slip rather than
// an intended behavior, so we implement the corrected comparison
// rather than preserve it.
const QuicAreaThreshold = 320 * 240

// MinQuicDimension is QUIC's own floor on top of the area threshold
// (spec.md §4.6): an image narrower or shorter than 3 pixels has too
// little spatial context for the predictor stage to earn back its
// overhead.
const MinQuicDimension = 3

// Hints carries the per-drawable inputs spec.md §4.6 uses to pick a
// codec, computed by the caller (the tree/draw-item layer) from the
// drawable being encoded — Pick itself only sees the already-rendered
// Image, which has lost that context.
type Hints struct {
	LossyAllowed   bool        // false for e.g. a drawable under an active clip the client needs exact pixels for
	HighGraduality bool        // true for smooth photographic content, as opposed to sharp synthetic edges
	Palette        bool        // true when the drawable's source is palette/indexed rather than direct RGB
	Rop            canvas.Rop3 // Or/And/Xor never get a lossy encode: a lossy round-trip can't be combined back losslessly
}

// lossyForbidden reports whether spec.md §4.6's "never lossy" rule
// applies regardless of LossyAllowed.
func (h Hints) lossyForbidden() bool {
	return !h.LossyAllowed || h.Rop.IsBitwiseCombine()
}

// Chooser picks an Encoder per image according to the configured
// compression mode (spec.md §4.6: off|auto-glz|auto-lz|quic|glz|lz).
type Chooser struct {
	Mode    string
	Dict    *cache.Dictionary
	Quic    *QuicEncoder
	LZ      *LZEncoder
	GLZ     *GLZEncoder
	ZlibGLZ *ZlibGLZEncoder
	JPEG    *JPEGEncoder
}

func NewChooser(mode string, dict *cache.Dictionary, zlibGlzThreshold int64, jpegQuality int) *Chooser {
	glz := NewGLZEncoder(dict)
	return &Chooser{
		Mode:    mode,
		Dict:    dict,
		Quic:    NewQuicEncoder(),
		LZ:      NewLZEncoder(),
		GLZ:     glz,
		ZlibGLZ: NewZlibGLZEncoder(glz, zlibGlzThreshold),
		JPEG:    NewJPEGEncoder(jpegQuality),
	}
}

// quicEligible reports spec.md §4.6's QUIC precondition: direct RGB
// (not palette) source, at least MinQuicDimension on a side, at or
// above QuicAreaThreshold, and high graduality — QUIC's predictor
// stage only pays for itself against smooth photographic gradients,
// not synthetic or tiny content.
func quicEligible(img *canvas.Image, h Hints) bool {
	if h.Palette || !h.HighGraduality {
		return false
	}
	if img.Width < MinQuicDimension || img.Height < MinQuicDimension {
		return false
	}
	return int64(img.Width)*int64(img.Height) >= QuicAreaThreshold
}

// Pick selects the encoder for one image according to the configured
// compression mode plus the drawable-level hints (spec.md §4.6): JPEG
// is only ever chosen when the drawable allows a lossy encode, and
// QUIC only for a large, high-graduality, non-palette RGB source.
func (c *Chooser) Pick(img *canvas.Image, h Hints) Encoder {
	quic := quicEligible(img, h)
	lossyOK := !h.lossyForbidden()

	switch c.Mode {
	case "off":
		return nil
	case "quic":
		if quic {
			return c.Quic
		}
		return c.LZ
	case "lz":
		if lossyOK && c.jpegEligible(h) {
			return c.JPEG
		}
		return c.LZ
	case "glz":
		return c.GLZ
	case "auto-lz":
		switch {
		case quic:
			return c.Quic
		case lossyOK && c.jpegEligible(h):
			return c.JPEG
		default:
			return c.LZ
		}
	case "auto-glz":
		switch {
		case quic:
			return c.Quic
		case lossyOK && c.jpegEligible(h):
			return c.JPEG
		default:
			return c.ZlibGLZ
		}
	default:
		return c.ZlibGLZ
	}
}

// jpegEligible additionally requires high graduality: JPEG's DCT
// quantization loses exactly the high-frequency detail that sharp
// synthetic content (text, UI chrome) needs, so it's only offered for
// the same photographic-content signal QUIC looks for.
func (c *Chooser) jpegEligible(h Hints) bool {
	return h.HighGraduality && !h.Palette
}

// EncodeBest runs the chosen encoder, falling back to a raw (CodecRaw)
// result whenever the encoder is disabled or declines to shrink the
// image (spec.md §4.6: "failure always degrades to an uncompressed
// bitmap").
func (c *Chooser) EncodeBest(id uint64, img *canvas.Image, h Hints, bufs *BufferList) Result {
	enc := c.Pick(img, h)
	if enc == nil {
		return Result{Codec: CodecRaw, Data: img.Pixels, OrigSize: len(img.Pixels)}
	}
	res, err := enc.Encode(id, img, bufs)
	if err != nil {
		return Result{Codec: CodecRaw, Data: img.Pixels, OrigSize: len(img.Pixels)}
	}
	return res
}
