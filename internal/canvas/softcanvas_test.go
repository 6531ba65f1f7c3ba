package canvas

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/region"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFillThenOverlapPixels(t *testing.T) {
	c := NewSoftCanvas(discardLogger(), Format32bpp, 800, 600, 0, nil)
	c.DrawFill(region.NewRect(0, 0, 100, 100), 0x00FF0000, Rop3Copy)
	c.DrawFill(region.NewRect(50, 50, 150, 150), 0x0000FF00, Rop3Copy)

	require.Equal(t, uint32(0x00FF0000), c.getPixel(25, 25))
	require.Equal(t, uint32(0x0000FF00), c.getPixel(75, 75))
	require.Equal(t, uint32(0x0000FF00), c.getPixel(125, 125))
	require.Equal(t, uint32(0), c.getPixel(125, 25))
}

func TestCopyBitsShadowScenario(t *testing.T) {
	// spec.md §8 scenario 2: fill red, copy-bits to a new location,
	// then an overpaint at the source should not show through the copy.
	c := NewSoftCanvas(discardLogger(), Format32bpp, 800, 600, 0, nil)
	red := uint32(0x00FF0000)
	c.DrawFill(region.NewRect(0, 0, 100, 100), red, Rop3Copy)
	c.CopyBits(region.NewRect(100, 0, 200, 100), region.NewRect(0, 0, 100, 100))

	require.Equal(t, red, c.getPixel(150, 75))
	require.Equal(t, red, c.getPixel(50, 75))

	c.DrawFill(region.NewRect(0, 0, 200, 50), 0x000000FF, Rop3Copy)
	require.Equal(t, uint32(0x000000FF), c.getPixel(50, 25))
	require.Equal(t, red, c.getPixel(150, 75))
}

func TestReadBitsRoundTrip(t *testing.T) {
	c := NewSoftCanvas(discardLogger(), Format32bpp, 10, 10, 0, nil)
	c.DrawFill(region.NewRect(0, 0, 10, 10), 0x00112233, Rop3Copy)
	img := c.ReadBits(region.NewRect(2, 2, 6, 6))
	require.Equal(t, int32(4), img.Width)
	require.Equal(t, uint32(0x00112233), readPixel(img, 0, 0))
}

func TestDrawInversAndRops(t *testing.T) {
	c := NewSoftCanvas(discardLogger(), Format32bpp, 4, 4, 0, nil)
	c.DrawFill(region.NewRect(0, 0, 4, 4), 0x00FFFFFF, Rop3Copy)
	c.DrawInvers(region.NewRect(0, 0, 4, 4))
	require.Equal(t, ^uint32(0x00FFFFFF), c.getPixel(0, 0))
}
