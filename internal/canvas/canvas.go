// Package canvas implements the small abstract drawing interface
// (spec.md §9) that executes one drawing primitive against pixel
// memory, plus one software backend. Bit-twiddling raster-op and
// pixman-level blitting detail is deliberately thin here (treated as an
// external collaborator, spec.md §1), but the accessor shapes are
// ported from original_source/common/pixman_utils.c's per-depth
// solid/tiled/copy raster-op families.
package canvas

import (
	"fmt"

	"github.com/spicectl/displaycore/internal/region"
)

// Format describes a surface's pixel layout.
type Format int

const (
	Format8bpp Format = iota
	Format16bpp
	Format24bpp
	Format32bpp
	Format32bppAlpha
)

func (f Format) BytesPerPixel() int {
	switch f {
	case Format8bpp:
		return 1
	case Format16bpp:
		return 2
	case Format24bpp:
		return 3
	case Format32bpp, Format32bppAlpha:
		return 4
	default:
		return 4
	}
}

func (f Format) HasAlpha() bool { return f == Format32bppAlpha }

// Rop3 mirrors the ternary raster-op codes carried by DRAW_ROP3
// messages (spec.md §6): an arbitrary boolean combination of
// source/destination/pattern bits. The chooser in internal/compress
// treats Or/And/Xor as never losslessly-reversible via a later resend
// (spec.md §4.6), so those three are named explicitly.
type Rop3 uint8

const (
	Rop3CopyDst Rop3 = iota
	Rop3Copy
	Rop3Or
	Rop3And
	Rop3Xor
	Rop3Invert
)

func (r Rop3) IsBitwiseCombine() bool {
	return r == Rop3Or || r == Rop3And || r == Rop3Xor
}

// Image is an immutable rectangular pixel buffer plus its format,
// the common currency between Canvas calls, the compression engines,
// and cache entries.
type Image struct {
	Format Format
	Width  int32
	Height int32
	Stride int32
	Pixels []byte
	// Palette is set when Format implies an indexed source; the
	// compressors reference it rather than embedding the table twice.
	Palette []uint32
}

func NewImage(format Format, width, height int32) *Image {
	stride := width * int32(format.BytesPerPixel())
	return &Image{
		Format: format,
		Width:  width,
		Height: height,
		Stride: stride,
		Pixels: make([]byte, int(stride)*int(height)),
	}
}

func (img *Image) Area() int64 { return int64(img.Width) * int64(img.Height) }

// Canvas renders one drawing primitive into a pixel surface (spec.md
// §9's dynamic-dispatch interface). Software and optional hardware
// backends both implement it; the draw-item tree and pipeline code
// only ever see this interface.
type Canvas interface {
	DrawFill(rect region.Rect, color uint32, rop Rop3)
	DrawOpaque(rect region.Rect, src *Image, srcRect region.Rect, rop Rop3)
	DrawCopy(dstRect region.Rect, src *Image, srcRect region.Rect, rop Rop3)
	DrawTransparent(dstRect region.Rect, src *Image, srcRect region.Rect, transparentColor uint32)
	DrawAlphaBlend(dstRect region.Rect, src *Image, srcRect region.Rect, alpha uint8)
	CopyBits(dstRect region.Rect, srcRect region.Rect)
	DrawBlend(dstRect region.Rect, src *Image, srcRect region.Rect, rop Rop3)
	DrawBlackness(rect region.Rect)
	DrawWhiteness(rect region.Rect)
	DrawInvers(rect region.Rect)
	DrawRop3(dstRect region.Rect, src *Image, srcRect region.Rect, pattern *Image, rop Rop3)
	DrawStroke(points []Point, width int32, color uint32)
	DrawText(rect region.Rect, glyphs *Image)
	ReadBits(rect region.Rect) *Image
	Destroy()
}

type Point struct{ X, Y int32 }

// ErrOutOfBounds describes a rect that exceeds the backing surface.
// SoftCanvas does not return it: it clamps such a rect to the surface
// bounds and logs a warning instead.
type ErrOutOfBounds struct {
	Rect  region.Rect
	Bound region.Rect
}

func (e ErrOutOfBounds) Error() string {
	return fmt.Sprintf("canvas: rect %s exceeds surface bounds %s", e.Rect, e.Bound)
}
