package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/region"
)

func candidateAt(t time.Time, gradual bool) Candidate {
	return Candidate{
		Bbox:              region.Rect{X1: 100, Y1: 100, X2: 420, Y2: 340},
		SourceWidth:       320,
		SourceHeight:      240,
		TopDown:           true,
		HighGraduality:    gradual,
		IsOpaqueBitmapPut: true,
		OnPrimarySurface:  true,
		At:                t,
	}
}

// TestStreamPromotionAt20thFrame mirrors spec.md §8's testable
// property: 20 same-bbox frames with >=4 high-graduality ones (20% of
// 20), 50ms apart, promotes at item 20.
func TestStreamPromotionAt20thFrame(t *testing.T) {
	d := NewDetector()
	base := time.Unix(1000, 0)

	var promoted bool
	d.OnPromote = func(bbox region.Rect, w, h int32) { promoted = true }

	for i := 0; i < 19; i++ {
		gradual := i < 4
		isFrame := d.Observe(candidateAt(base.Add(time.Duration(i)*50*time.Millisecond), gradual))
		require.False(t, isFrame, "frame %d should not yet be a stream frame", i)
	}
	require.False(t, promoted)

	isFrame := d.Observe(candidateAt(base.Add(19*50*time.Millisecond), false))
	require.True(t, isFrame)
	require.True(t, promoted)
}

func TestNonStreamableCandidateNeverPromotes(t *testing.T) {
	d := NewDetector()
	base := time.Unix(1000, 0)
	for i := 0; i < 30; i++ {
		c := candidateAt(base.Add(time.Duration(i)*50*time.Millisecond), true)
		c.IsOpaqueBitmapPut = false
		require.False(t, d.Observe(c))
	}
}

func TestLargeGapRestartsRun(t *testing.T) {
	d := NewDetector()
	base := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		d.Observe(candidateAt(base.Add(time.Duration(i)*50*time.Millisecond), true))
	}
	// A gap far beyond the 200ms no-stream window resets the run, so
	// it takes a fresh 20-frame run from here to promote rather than
	// the 10 accumulated before the gap plus 10 more.
	later := base.Add(10 * time.Second)
	for i := 0; i < 19; i++ {
		require.False(t, d.Observe(candidateAt(later.Add(time.Duration(i)*50*time.Millisecond), true)))
	}
	require.True(t, d.Observe(candidateAt(later.Add(19*50*time.Millisecond), false)))
}

func TestBitrateEstimateNarrowLinkAndClamp(t *testing.T) {
	s := NewStream(region.Rect{X1: 0, Y1: 0, X2: 320, Y2: 240}, 320, 240, false, 0)
	base := s.InitialBitrate(false, 0)
	require.Equal(t, int64(320*240*38), base)

	narrow := s.InitialBitrate(true, 0)
	require.Equal(t, base*4, narrow)

	clamped := s.InitialBitrate(false, 1000)
	require.Equal(t, int64(700), clamped)
}

func TestAgentFPSAdaptation(t *testing.T) {
	s := NewStream(region.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, 10, 10, false, 0)
	a := s.AgentFor(1)
	require.Equal(t, 10, a.FPS())

	for i := 0; i < 10; i++ {
		a.RecordSend(true) // 100% drop ratio
	}
	require.Equal(t, 9, a.FPS())

	for i := 0; i < 10; i++ {
		a.RecordSend(false)
	}
	require.Equal(t, 10, a.FPS())
}
