// Package stream implements the video-stream detector and per-client
// stream agents (spec.md §4.4): repeated same-bbox opaque copies are
// promoted into an MJPEG stream once they look like motion video
// rather than isolated still updates.
//
// The bitrate-estimate/clamp and per-client fps-adaptation shape is
// grounded on api/pkg/moonlight/backend.go's own per-connection
// adaptive-bitrate logic (which tracks a live session's measured link
// quality to size its own stream); the ItemTrace ring and
// frame-counting state machine mirror spec.md §4.4 directly since no
// pack repo implements stream promotion.
package stream

import (
	"time"

	"github.com/spicectl/displaycore/internal/region"
)

const (
	// PromotionFrameCount is the minimum frame run before promotion.
	PromotionFrameCount = 20
	// GradualFraction is the minimum fraction of frames that must be
	// "high graduality" before promotion.
	GradualFraction = 0.2
	// ResetAfterFrames forces a counter reset after this many frames
	// pass without a gradual one.
	ResetAfterFrames = 100

	windowNoStream     = 200 * time.Millisecond
	windowAlreadyStream = 500 * time.Millisecond

	// MinStreamableArea is the bbox-area floor for streamable
	// candidates (96x96). The detector has no unfiltered mode: the
	// floor applies to every candidate.
	MinStreamableArea = 96 * 96

	// StreamTimeout ends a stream after this long without a matching
	// frame (spec.md §4.4's lifetime condition (b)).
	StreamTimeout = time.Second
)

// Candidate is one drawable's streamability inputs, computed by the
// caller (the tree/draw-item layer) before calling the detector.
type Candidate struct {
	Bbox             region.Rect
	SourceWidth      int32
	SourceHeight     int32
	TopDown          bool
	HighGraduality   bool
	IsOpaqueBitmapPut bool // opaque draw-copy, bitmap source, ROP=put
	OnPrimarySurface bool
	At               time.Time
}

func (c Candidate) streamable() bool {
	if !c.IsOpaqueBitmapPut || !c.OnPrimarySurface {
		return false
	}
	area := int64(c.Bbox.Width()) * int64(c.Bbox.Height())
	return area >= MinStreamableArea
}

// traceSlot is one entry of the 8-slot ItemTrace ring (spec.md §4.4):
// a recently-occluded streamable candidate, kept around so a stream
// displaced by one opaque overlay can still be recognized when a
// later frame matches it.
type traceSlot struct {
	valid bool
	cand  Candidate
}

const traceRingSize = 8

// trackedRun is the in-progress frame-counting state for one
// candidate bbox/source-size pair, before it has been promoted.
type trackedRun struct {
	bbox             region.Rect
	sourceW, sourceH int32
	topDown          bool
	lastAt           time.Time
	framesCount      int
	gradualCount     int
	framesSinceGradual int
	promoted         bool
}

// Detector tracks candidate runs per surface and decides promotion.
// One Detector instance covers one surface (spec.md §3: "only [surface
// 0] can be a stream source", so in practice one Detector suffices per
// worker, scoped to the primary surface).
type Detector struct {
	runs  []*trackedRun
	trace [traceRingSize]traceSlot
	traceNext int

	// OnPromote is invoked once a run is promoted; the caller (worker
	// wiring) builds the Stream and enqueues stream-create items.
	OnPromote func(bbox region.Rect, sourceW, sourceH int32)
}

func NewDetector() *Detector { return &Detector{} }

// Observe feeds one drawable's candidate data to the detector. It
// returns true if this frame caused (or continued) an active,
// already-promoted stream — the caller uses this to decide whether to
// encode the drawable as stream-data instead of a normal draw-copy.
func (d *Detector) Observe(c Candidate) (isStreamFrame bool) {
	if !c.streamable() {
		d.recordTraceMiss(c)
		return false
	}

	run := d.findRun(c)
	if run == nil {
		run = d.matchTrace(c)
	}
	if run == nil {
		run = &trackedRun{bbox: c.Bbox, sourceW: c.SourceWidth, sourceH: c.SourceHeight, topDown: c.TopDown}
		d.runs = append(d.runs, run)
	}

	window := windowNoStream
	if run.framesCount >= PromotionFrameCount {
		window = windowAlreadyStream
	}
	if !run.lastAt.IsZero() && c.At.Sub(run.lastAt) > window {
		// Gap too large: this is a fresh run, not a continuation.
		*run = trackedRun{bbox: c.Bbox, sourceW: c.SourceWidth, sourceH: c.SourceHeight, topDown: c.TopDown}
	}

	run.lastAt = c.At
	run.framesCount++
	if c.HighGraduality {
		run.gradualCount++
		run.framesSinceGradual = 0
	} else {
		run.framesSinceGradual++
	}
	if run.framesSinceGradual > ResetAfterFrames {
		run.framesCount = 0
		run.gradualCount = 0
		run.framesSinceGradual = 0
		run.promoted = false
	}

	if run.promoted {
		return true
	}

	if run.framesCount >= PromotionFrameCount &&
		float64(run.gradualCount) >= GradualFraction*float64(run.framesCount) {
		run.promoted = true
		if d.OnPromote != nil {
			d.OnPromote(run.bbox, run.sourceW, run.sourceH)
		}
		return true
	}
	return false
}

func (d *Detector) findRun(c Candidate) *trackedRun {
	for _, r := range d.runs {
		if r.bbox == c.Bbox && r.sourceW == c.SourceWidth && r.sourceH == c.SourceHeight && r.topDown == c.TopDown {
			return r
		}
	}
	return nil
}

// matchTrace looks for a recently-occluded candidate in the ItemTrace
// ring matching this bbox/size, so a stream displaced by a single
// opaque overlay is recognized again (spec.md §4.4). The matched slot
// is consumed and a new run starts with zero frame counts; only the
// occluded frame's time carries over, as the run's last-frame time.
func (d *Detector) matchTrace(c Candidate) *trackedRun {
	for i := range d.trace {
		s := &d.trace[i]
		if !s.valid {
			continue
		}
		if s.cand.Bbox == c.Bbox && s.cand.SourceWidth == c.SourceWidth && s.cand.SourceHeight == c.SourceHeight {
			s.valid = false
			run := &trackedRun{bbox: c.Bbox, sourceW: c.SourceWidth, sourceH: c.SourceHeight, topDown: c.TopDown, lastAt: s.cand.At}
			d.runs = append(d.runs, run)
			return run
		}
	}
	return nil
}

func (d *Detector) recordTraceMiss(c Candidate) {
	if !c.streamable() {
		return
	}
	d.trace[d.traceNext] = traceSlot{valid: true, cand: c}
	d.traceNext = (d.traceNext + 1) % traceRingSize
}

// Occlude records a streamable candidate as occluded (spec.md §4.4's
// ItemTrace ring), called when a non-stream opaque drawable covers it.
func (d *Detector) Occlude(c Candidate) {
	for i, r := range d.runs {
		if r.bbox == c.Bbox {
			d.runs = append(d.runs[:i], d.runs[i+1:]...)
			break
		}
	}
	d.recordTraceMiss(c)
}
