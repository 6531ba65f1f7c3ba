package canvas

import (
	"image"
	"image/color"
	"log/slog"

	ximagedraw "golang.org/x/image/draw"

	"github.com/spicectl/displaycore/internal/region"
)

// SoftCanvas is the one software Canvas backend: a plain []byte pixel
// buffer with stride, rendering every primitive with stdlib image/color
// helpers plus golang.org/x/image/draw for the scaling/compositing ROP3
// and stroke need. Bounds violations are clamped and logged rather than
// panicking the worker: the part of the rect inside the surface is
// drawn, and a rect entirely outside it draws nothing.
type SoftCanvas struct {
	logger *slog.Logger
	format Format
	width  int32
	height int32
	stride int32
	pixels []byte
}

var _ Canvas = (*SoftCanvas)(nil)

func NewSoftCanvas(logger *slog.Logger, format Format, width, height, stride int32, data []byte) *SoftCanvas {
	if stride == 0 {
		stride = width * int32(format.BytesPerPixel())
	}
	if data == nil {
		data = make([]byte, int(stride)*int(height))
	}
	return &SoftCanvas{logger: logger, format: format, width: width, height: height, stride: stride, pixels: data}
}

func (c *SoftCanvas) bounds() region.Rect { return region.NewRect(0, 0, c.width, c.height) }

func (c *SoftCanvas) clamp(r region.Rect) (region.Rect, bool) {
	b := c.bounds()
	clipped := b.Intersect(r)
	if clipped != r {
		c.logger.Warn("canvas: rect clamped to surface bounds", "rect", r.String(), "bounds", b.String())
	}
	return clipped, !clipped.Empty()
}

func (c *SoftCanvas) setPixel(x, y int32, argb uint32) {
	bpp := int32(c.format.BytesPerPixel())
	off := y*c.stride + x*bpp
	switch bpp {
	case 1:
		c.pixels[off] = byte(argb)
	case 2:
		v := uint16(argb)
		c.pixels[off] = byte(v)
		c.pixels[off+1] = byte(v >> 8)
	case 3:
		c.pixels[off] = byte(argb)
		c.pixels[off+1] = byte(argb >> 8)
		c.pixels[off+2] = byte(argb >> 16)
	default:
		c.pixels[off] = byte(argb)
		c.pixels[off+1] = byte(argb >> 8)
		c.pixels[off+2] = byte(argb >> 16)
		c.pixels[off+3] = byte(argb >> 24)
	}
}

func (c *SoftCanvas) getPixel(x, y int32) uint32 {
	bpp := int32(c.format.BytesPerPixel())
	off := y*c.stride + x*bpp
	switch bpp {
	case 1:
		return uint32(c.pixels[off])
	case 2:
		return uint32(c.pixels[off]) | uint32(c.pixels[off+1])<<8
	case 3:
		return uint32(c.pixels[off]) | uint32(c.pixels[off+1])<<8 | uint32(c.pixels[off+2])<<16
	default:
		return uint32(c.pixels[off]) | uint32(c.pixels[off+1])<<8 | uint32(c.pixels[off+2])<<16 | uint32(c.pixels[off+3])<<24
	}
}

func (c *SoftCanvas) DrawFill(rect region.Rect, colorVal uint32, rop Rop3) {
	rect, ok := c.clamp(rect)
	if !ok {
		return
	}
	for y := rect.Y1; y < rect.Y2; y++ {
		for x := rect.X1; x < rect.X2; x++ {
			c.setPixel(x, y, applyRop(rop, colorVal, c.getPixel(x, y)))
		}
	}
}

func (c *SoftCanvas) DrawOpaque(rect region.Rect, src *Image, srcRect region.Rect, rop Rop3) {
	c.blit(rect, src, srcRect, rop)
}

func (c *SoftCanvas) DrawCopy(dstRect region.Rect, src *Image, srcRect region.Rect, rop Rop3) {
	c.blit(dstRect, src, srcRect, rop)
}

func (c *SoftCanvas) CopyBits(dstRect region.Rect, srcRect region.Rect) {
	dstRect, ok := c.clamp(dstRect)
	if !ok {
		return
	}
	dx, dy := dstRect.X1-srcRect.X1, dstRect.Y1-srcRect.Y1
	// Copy row order depends on overlap direction so in-place moves
	// never clobber source rows they still need to read.
	if dy > 0 {
		for y := dstRect.Y2 - 1; y >= dstRect.Y1; y-- {
			c.copyRow(dstRect.X1, y, srcRect.X1, y-dy, dstRect.Width())
		}
	} else {
		for y := dstRect.Y1; y < dstRect.Y2; y++ {
			c.copyRow(dstRect.X1, y, srcRect.X1, y-dy, dstRect.Width())
		}
	}
}

func (c *SoftCanvas) copyRow(dstX, dstY, srcX, srcY, width int32) {
	for i := int32(0); i < width; i++ {
		c.setPixel(dstX+i, dstY, c.getPixel(srcX+i, srcY))
	}
}

func (c *SoftCanvas) DrawTransparent(dstRect region.Rect, src *Image, srcRect region.Rect, transparentColor uint32) {
	dstRect, ok := c.clamp(dstRect)
	if !ok {
		return
	}
	w, h := dstRect.Width(), dstRect.Height()
	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			p := readPixel(src, srcRect.X1+x, srcRect.Y1+y)
			if p == transparentColor {
				continue
			}
			c.setPixel(dstRect.X1+x, dstRect.Y1+y, p)
		}
	}
}

func (c *SoftCanvas) DrawAlphaBlend(dstRect region.Rect, src *Image, srcRect region.Rect, alpha uint8) {
	dstRect, ok := c.clamp(dstRect)
	if !ok {
		return
	}
	w, h := dstRect.Width(), dstRect.Height()
	a := float64(alpha) / 255.0
	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			sp := readPixel(src, srcRect.X1+x, srcRect.Y1+y)
			dp := c.getPixel(dstRect.X1+x, dstRect.Y1+y)
			c.setPixel(dstRect.X1+x, dstRect.Y1+y, blend(sp, dp, a))
		}
	}
}

func (c *SoftCanvas) DrawBlend(dstRect region.Rect, src *Image, srcRect region.Rect, rop Rop3) {
	c.blit(dstRect, src, srcRect, rop)
}

func (c *SoftCanvas) DrawBlackness(rect region.Rect) { c.DrawFill(rect, 0x00000000, Rop3Copy) }
func (c *SoftCanvas) DrawWhiteness(rect region.Rect) { c.DrawFill(rect, 0x00FFFFFF, Rop3Copy) }

func (c *SoftCanvas) DrawInvers(rect region.Rect) {
	rect, ok := c.clamp(rect)
	if !ok {
		return
	}
	for y := rect.Y1; y < rect.Y2; y++ {
		for x := rect.X1; x < rect.X2; x++ {
			c.setPixel(x, y, ^c.getPixel(x, y))
		}
	}
}

func (c *SoftCanvas) DrawRop3(dstRect region.Rect, src *Image, srcRect region.Rect, pattern *Image, rop Rop3) {
	// Scale the pattern to cover dstRect via x/image/draw when its size
	// differs, then apply the ROP equation pixel-by-pixel — matching
	// pixman_utils.c's tiled_rop_* family's per-pixel equation shape,
	// generalized to arbitrary scale instead of tile-wrap.
	dstRect, ok := c.clamp(dstRect)
	if !ok {
		return
	}
	var scaledPattern *image.RGBA
	if pattern != nil {
		scaledPattern = scaleToImageRGBA(pattern, dstRect.Width(), dstRect.Height())
	}
	w, h := dstRect.Width(), dstRect.Height()
	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			var srcPixel uint32
			if src != nil {
				srcPixel = readPixel(src, srcRect.X1+x, srcRect.Y1+y)
			} else if scaledPattern != nil {
				srcPixel = rgbaAt(scaledPattern, int(x), int(y))
			}
			c.setPixel(dstRect.X1+x, dstRect.Y1+y, applyRop(rop, srcPixel, c.getPixel(dstRect.X1+x, dstRect.Y1+y)))
		}
	}
}

func (c *SoftCanvas) DrawStroke(points []Point, width int32, colorVal uint32) {
	for i := 0; i+1 < len(points); i++ {
		c.strokeSegment(points[i], points[i+1], width, colorVal)
	}
}

func (c *SoftCanvas) strokeSegment(a, b Point, width int32, colorVal uint32) {
	// Bresenham-ish straight-line rasterization widened by `width`
	// pixels; glyph/path rasterization proper is excluded (spec.md §1
	// "no font rasterization" — strokes arrive pre-decomposed into
	// line segments from the device).
	dx, dy := abs32(b.X-a.X), abs32(b.Y-a.Y)
	sx, sy := int32(1), int32(1)
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx - dy
	x, y := a.X, a.Y
	half := width / 2
	for {
		rect := region.NewRect(x-half, y-half, x+half+1, y+half+1)
		c.DrawFill(rect, colorVal, Rop3Copy)
		if x == b.X && y == b.Y {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x += sx
		}
		if e2 < dx {
			err += dx
			y += sy
		}
	}
}

func (c *SoftCanvas) DrawText(rect region.Rect, glyphs *Image) {
	// Text arrives as a pre-rasterized glyph bitmap (spec.md §1); this
	// is just an alpha-blended blit of that bitmap into rect.
	c.DrawAlphaBlend(rect, glyphs, region.NewRect(0, 0, glyphs.Width, glyphs.Height), 0xFF)
}

func (c *SoftCanvas) ReadBits(rect region.Rect) *Image {
	rect, ok := c.clamp(rect)
	if !ok {
		return NewImage(c.format, 0, 0)
	}
	img := NewImage(c.format, rect.Width(), rect.Height())
	for y := int32(0); y < rect.Height(); y++ {
		for x := int32(0); x < rect.Width(); x++ {
			writePixel(img, x, y, c.getPixel(rect.X1+x, rect.Y1+y))
		}
	}
	return img
}

func (c *SoftCanvas) Destroy() { c.pixels = nil }

func (c *SoftCanvas) blit(dstRect region.Rect, src *Image, srcRect region.Rect, rop Rop3) {
	dstRect, ok := c.clamp(dstRect)
	if !ok {
		return
	}
	w, h := dstRect.Width(), dstRect.Height()
	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			sp := readPixel(src, srcRect.X1+x, srcRect.Y1+y)
			dp := c.getPixel(dstRect.X1+x, dstRect.Y1+y)
			c.setPixel(dstRect.X1+x, dstRect.Y1+y, applyRop(rop, sp, dp))
		}
	}
}

// readPixel/writePixel are the Image-side counterparts of
// SoftCanvas.getPixel/setPixel, ported from pixman_utils.c's per-depth
// accessor shape (distinct code paths for 1/2/3/4-byte pixels) applied
// to a standalone Image rather than the live canvas surface.
func readPixel(img *Image, x, y int32) uint32 {
	if img == nil || x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return 0
	}
	bpp := int32(img.Format.BytesPerPixel())
	off := y*img.Stride + x*bpp
	switch bpp {
	case 1:
		idx := img.Pixels[off]
		if int(idx) < len(img.Palette) {
			return img.Palette[idx]
		}
		return uint32(idx)
	case 2:
		return uint32(img.Pixels[off]) | uint32(img.Pixels[off+1])<<8
	case 3:
		return uint32(img.Pixels[off]) | uint32(img.Pixels[off+1])<<8 | uint32(img.Pixels[off+2])<<16
	default:
		return uint32(img.Pixels[off]) | uint32(img.Pixels[off+1])<<8 | uint32(img.Pixels[off+2])<<16 | uint32(img.Pixels[off+3])<<24
	}
}

func writePixel(img *Image, x, y int32, argb uint32) {
	bpp := int32(img.Format.BytesPerPixel())
	off := y*img.Stride + x*bpp
	switch bpp {
	case 1:
		img.Pixels[off] = byte(argb)
	case 2:
		img.Pixels[off] = byte(argb)
		img.Pixels[off+1] = byte(argb >> 8)
	case 3:
		img.Pixels[off] = byte(argb)
		img.Pixels[off+1] = byte(argb >> 8)
		img.Pixels[off+2] = byte(argb >> 16)
	default:
		img.Pixels[off] = byte(argb)
		img.Pixels[off+1] = byte(argb >> 8)
		img.Pixels[off+2] = byte(argb >> 16)
		img.Pixels[off+3] = byte(argb >> 24)
	}
}

// applyRop mirrors pixman_utils.c's SOLID_RASTER_OP/COPY_RASTER_OP
// equation-per-op family, collapsed onto the subset of ROP3 codes this
// spec names explicitly (§4.6, §6).
func applyRop(rop Rop3, src, dst uint32) uint32 {
	switch rop {
	case Rop3Copy:
		return src
	case Rop3CopyDst:
		return dst
	case Rop3Or:
		return src | dst
	case Rop3And:
		return src & dst
	case Rop3Xor:
		return src ^ dst
	case Rop3Invert:
		return ^dst
	default:
		return src
	}
}

func blend(src, dst uint32, alpha float64) uint32 {
	sr, sg, sb, sa := channels(src)
	dr, dg, db, da := channels(dst)
	mix := func(s, d uint8) uint8 { return uint8(float64(s)*alpha + float64(d)*(1-alpha)) }
	return packARGB(mix(sa, da), mix(sr, dr), mix(sg, dg), mix(sb, db))
}

func channels(argb uint32) (r, g, b, a uint8) {
	return uint8(argb >> 16), uint8(argb >> 8), uint8(argb), uint8(argb >> 24)
}

func packARGB(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func scaleToImageRGBA(img *Image, w, h int32) *image.RGBA {
	src := image.NewRGBA(image.Rect(0, 0, int(img.Width), int(img.Height)))
	for y := int32(0); y < img.Height; y++ {
		for x := int32(0); x < img.Width; x++ {
			p := readPixel(img, x, y)
			r, g, b, a := channels(p)
			src.SetRGBA(int(x), int(y), color.RGBA{R: r, G: g, B: b, A: a})
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	ximagedraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), ximagedraw.Over, nil)
	return dst
}

func rgbaAt(img *image.RGBA, x, y int) uint32 {
	c := img.RGBAAt(x, y)
	return packARGB(c.A, c.R, c.G, c.B)
}
