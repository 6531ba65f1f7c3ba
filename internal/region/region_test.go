package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnionSubtractRoundTrip(t *testing.T) {
	r := FromRect(NewRect(0, 0, 100, 100))
	added := r.Add(NewRect(50, 50, 150, 150))
	back := added.Subtract(FromRect(NewRect(50, 50, 150, 150)))
	require.True(t, r.Subtract(FromRect(NewRect(50, 50, 150, 150))).Equal(back.Intersect(r)))
}

func TestFillThenOverlap(t *testing.T) {
	// spec.md scenario 1: fill(0,0,100,100) then fill(50,50,150,150) on top.
	first := FromRect(NewRect(0, 0, 100, 100))
	second := FromRect(NewRect(50, 50, 150, 150))

	firstAfterExclusion := first.Subtract(second)
	require.True(t, firstAfterExclusion.Equal(FromRect(NewRect(0, 0, 100, 100)).Subtract(FromRect(NewRect(50, 50, 100, 100)))))

	require.True(t, firstAfterExclusion.Contains(NewRect(25, 25, 26, 26)))
	require.False(t, firstAfterExclusion.Contains(NewRect(75, 75, 76, 76)))
	require.True(t, second.Contains(NewRect(75, 75, 76, 76)))
	require.True(t, second.Contains(NewRect(125, 125, 126, 126)))
	require.False(t, firstAfterExclusion.Contains(NewRect(125, 25, 126, 26)))
	require.False(t, second.Contains(NewRect(125, 25, 126, 26)))
}

func TestEqualCanonicalization(t *testing.T) {
	a := Empty().Add(NewRect(0, 0, 10, 10)).Add(NewRect(10, 0, 20, 10))
	b := Empty().Add(NewRect(10, 0, 20, 10)).Add(NewRect(0, 0, 10, 10))
	require.True(t, a.Equal(b), "union order must not affect canonical form")
	require.Equal(t, 1, a.RectCount(), "adjacent same-height bands coalesce into one rect")
}

func TestIntersectsAndContains(t *testing.T) {
	r := FromRect(NewRect(0, 0, 10, 10))
	require.True(t, r.Intersects(FromRect(NewRect(5, 5, 15, 15))))
	require.False(t, r.Intersects(FromRect(NewRect(10, 10, 20, 20))))
	require.True(t, r.Contains(NewRect(2, 2, 8, 8)))
	require.False(t, r.Contains(NewRect(2, 2, 12, 8)))
}

func TestOffset(t *testing.T) {
	r := FromRect(NewRect(0, 0, 10, 10)).Offset(5, 5)
	require.True(t, r.Equal(FromRect(NewRect(5, 5, 15, 15))))
}

func TestSubtractEmptyIsNoop(t *testing.T) {
	r := FromRect(NewRect(0, 0, 10, 10))
	require.True(t, r.Subtract(Empty()).Equal(r))
}

func TestDonutSubtraction(t *testing.T) {
	outer := FromRect(NewRect(0, 0, 30, 30))
	hole := FromRect(NewRect(10, 10, 20, 20))
	donut := outer.Subtract(hole)
	require.False(t, donut.Intersects(hole))
	require.True(t, donut.Union(hole).Equal(outer))
}
