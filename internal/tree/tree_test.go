package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/region"
)

func rect(x1, y1, x2, y2 int32) region.Rect {
	return region.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func opaqueDrawable(r region.Rect) *Drawable {
	return &Drawable{Effect: EffectOpaque, Region: region.FromRect(r), Bbox: r}
}

// TestFillThenOverlap mirrors spec.md §8 scenario 1: the second,
// newer fill should fully occupy its own region and exclude the
// overlapping part of the first.
func TestFillThenOverlap(t *testing.T) {
	tr := New()
	h1 := tr.Add(opaqueDrawable(rect(0, 0, 100, 100)))
	tr.Add(opaqueDrawable(rect(50, 50, 150, 150)))

	d1, ok := tr.Drawable(h1)
	require.True(t, ok)

	want := region.FromRect(rect(0, 0, 100, 100)).Subtract(region.FromRect(rect(50, 50, 150, 150)))
	require.True(t, want.Equal(d1.Region))
}

// TestSiblingDisjointness is spec.md §8's universal invariant: for
// every pair of opaque siblings, regions never overlap.
func TestSiblingDisjointness(t *testing.T) {
	tr := New()
	tr.Add(opaqueDrawable(rect(0, 0, 100, 100)))
	tr.Add(opaqueDrawable(rect(50, 50, 150, 150)))
	tr.Add(opaqueDrawable(rect(20, 20, 60, 60)))

	regions := tr.Regions()
	for i := range regions {
		for j := range regions {
			if i == j {
				continue
			}
			require.True(t, regions[i].Intersect(regions[j]).IsEmpty(), "siblings %d,%d overlap", i, j)
		}
	}
}

// TestNewContainsSiblingAbsorbsIt: a new opaque drawable that fully
// covers an existing sibling removes it outright rather than leaving
// an empty husk.
func TestNewContainsSiblingAbsorbsIt(t *testing.T) {
	tr := New()
	tr.Add(opaqueDrawable(rect(10, 10, 20, 20)))
	require.Equal(t, 1, tr.Len())

	tr.Add(opaqueDrawable(rect(0, 0, 100, 100)))
	require.Equal(t, 1, tr.Len()) // the small sibling was absorbed, not left around empty
}

// TestSiblingContainsNewPromotesContainer: a new drawable fully inside
// an existing opaque sibling causes that sibling to become a Container
// holding both, without changing the root ring's size.
func TestSiblingContainsNewPromotesContainer(t *testing.T) {
	tr := New()
	tr.Add(opaqueDrawable(rect(0, 0, 100, 100)))
	require.Equal(t, 1, tr.Len())

	tr.Add(opaqueDrawable(rect(10, 10, 20, 20)))
	require.Equal(t, 1, tr.Len(), "the root ring should still show one slot: the promoted container")
}

// TestRemoveIdempotentRoundTrip is spec.md §8's idempotence property:
// add_drawable then remove_drawable yields the tree state before the
// add.
func TestRemoveIdempotentRoundTrip(t *testing.T) {
	tr := New()
	tr.Add(opaqueDrawable(rect(0, 0, 100, 100)))
	before := tr.Len()

	h := tr.Add(opaqueDrawable(rect(200, 200, 300, 300)))
	require.Equal(t, before+1, tr.Len())

	tr.Remove(h)
	require.Equal(t, before, tr.Len())
}

// TestCopyBitsCreatesShadow checks spec.md §4.3 step 2: a copy-bits
// drawable with source != destination inserts an extra Shadow node.
func TestCopyBitsCreatesShadow(t *testing.T) {
	tr := New()
	tr.Add(opaqueDrawable(rect(0, 0, 100, 100))) // the red fill

	copyDst := rect(100, 0, 200, 100)
	d := &Drawable{
		Effect:       EffectOpaque,
		Region:       region.FromRect(copyDst),
		Bbox:         copyDst,
		ShadowSource: region.FromRect(rect(0, 0, 100, 100)),
	}
	tr.Add(d)

	require.Equal(t, 3, tr.Len(), "fill + shadow + copy destination")
}

// TestShadowAbsorptionExcludesSource mirrors spec.md §8 scenario 2: an
// opaque overpaint that covers part of a copy-bits shadow's source
// causes that area to be excluded from the original fill beneath it.
func TestShadowAbsorptionExcludesSource(t *testing.T) {
	tr := New()
	fill := tr.Add(opaqueDrawable(rect(0, 0, 100, 100)))

	copyDst := rect(100, 0, 200, 100)
	tr.Add(&Drawable{
		Effect:       EffectOpaque,
		Region:       region.FromRect(copyDst),
		Bbox:         copyDst,
		ShadowSource: region.FromRect(rect(0, 0, 100, 100)),
	})

	// Overpaint the top half of the shadow's source area.
	tr.Add(opaqueDrawable(rect(0, 0, 200, 50)))

	fillDrawable, ok := tr.Drawable(fill)
	require.True(t, ok)
	require.True(t, fillDrawable.Region.Intersect(region.FromRect(rect(0, 0, 100, 50))).IsEmpty(),
		"top half of the fill lies under the opaque overpaint and should have been excluded")
}

func TestNopOnDupDropsNewDrawable(t *testing.T) {
	tr := New()
	pathEq := func(a, b *Drawable) bool { return true }
	brushEq := func(a, b *Drawable) bool { return true }

	r := rect(0, 0, 50, 50)
	d1 := &Drawable{Effect: EffectNopOnDup, Region: region.FromRect(r), Bbox: r}
	d1.PathEqual = func(o *Drawable) bool { return pathEq(d1, o) }
	d1.BrushEqual = func(o *Drawable) bool { return brushEq(d1, o) }
	h1 := tr.Add(d1)

	d2 := &Drawable{Effect: EffectNopOnDup, Region: region.FromRect(r), Bbox: r}
	d2.PathEqual = func(o *Drawable) bool { return pathEq(d2, o) }
	d2.BrushEqual = func(o *Drawable) bool { return brushEq(d2, o) }
	h2 := tr.Add(d2)

	require.Equal(t, h1, h2)
	require.Equal(t, 1, tr.Len())
}
