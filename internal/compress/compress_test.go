package compress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/cache"
	"github.com/spicectl/displaycore/internal/canvas"
)

func solidImage(w, h int32) *canvas.Image {
	img := canvas.NewImage(canvas.Format32bpp, w, h)
	for i := range img.Pixels {
		img.Pixels[i] = byte(i % 7)
	}
	return img
}

func TestLZEncoderShrinksRepetitiveImage(t *testing.T) {
	img := canvas.NewImage(canvas.Format32bpp, 64, 64) // all-zero, maximally compressible
	enc := NewLZEncoder()
	res, err := enc.Encode(1, img, nil)
	require.NoError(t, err)
	require.Less(t, len(res.Data), len(img.Pixels))
	require.Equal(t, CodecLZ, res.Codec)
}

func TestGLZEncoderReusesDictionary(t *testing.T) {
	dict := cache.NewDictionary(1 << 20)
	enc := NewGLZEncoder(dict)
	img := solidImage(32, 32)

	first, err := enc.Encode(1, img, nil)
	require.NoError(t, err)

	second, err := enc.Encode(2, img, nil)
	require.NoError(t, err)

	require.LessOrEqual(t, len(second.Data), len(first.Data))
}

func TestChooserFallsBackToRawOnIncompressible(t *testing.T) {
	dict := cache.NewDictionary(1 << 20)
	chooser := NewChooser("lz", dict, 100, 80)

	img := canvas.NewImage(canvas.Format32bpp, 2, 2)
	for i := range img.Pixels {
		img.Pixels[i] = byte(i * 97) // tiny, effectively random, won't shrink under flate
	}
	res := chooser.EncodeBest(1, img, Hints{}, NewBufferList())
	require.Equal(t, CodecRaw, res.Codec)
}

func TestChooserAutoGLZSwitchesToQuicAboveThreshold(t *testing.T) {
	dict := cache.NewDictionary(1 << 20)
	chooser := NewChooser("auto-glz", dict, 100, 80)
	gradual := Hints{LossyAllowed: true, HighGraduality: true}

	small := solidImage(16, 16) // below the QUIC area threshold, so lossy-allowed gradual content goes to JPEG
	require.Equal(t, CodecJPEG, chooser.Pick(small, gradual).Codec())

	large := solidImage(640, 480)
	require.Equal(t, CodecQuic, chooser.Pick(large, gradual).Codec())
}

func TestChooserPicksJPEGForLossyAllowedGradualContent(t *testing.T) {
	dict := cache.NewDictionary(1 << 20)
	chooser := NewChooser("auto-glz", dict, 100, 80)

	small := solidImage(16, 16) // below the QUIC area threshold
	require.Equal(t, CodecJPEG, chooser.Pick(small, Hints{LossyAllowed: true, HighGraduality: true}).Codec())
}

func TestChooserNeverPicksLossyWhenForbidden(t *testing.T) {
	dict := cache.NewDictionary(1 << 20)
	chooser := NewChooser("auto-glz", dict, 100, 80)

	img := solidImage(16, 16) // below the QUIC area threshold, so JPEG is the only other candidate for gradual content
	require.Equal(t, CodecZlibGLZ, chooser.Pick(img, Hints{LossyAllowed: true, HighGraduality: true, Rop: canvas.Rop3Xor}).Codec())
	require.Equal(t, CodecZlibGLZ, chooser.Pick(img, Hints{LossyAllowed: false, HighGraduality: true}).Codec())
}

func TestChooserSkipsQuicForPaletteSource(t *testing.T) {
	dict := cache.NewDictionary(1 << 20)
	chooser := NewChooser("auto-glz", dict, 100, 80)

	img := solidImage(640, 480)
	enc := chooser.Pick(img, Hints{LossyAllowed: true, HighGraduality: true, Palette: true})
	require.NotEqual(t, CodecQuic, enc.Codec())
	require.NotEqual(t, CodecJPEG, enc.Codec())
}
