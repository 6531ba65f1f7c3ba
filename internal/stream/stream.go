package stream

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/compress"
	"github.com/spicectl/displaycore/internal/region"
)

// ClientID identifies one connected client for per-client stream
// agent bookkeeping.
type ClientID uint32

// Stream is one inferred motion region and its MJPEG encoder, jointly
// owned by its StreamAgents and by the current drawable feeding it
// (spec.md §3: "lifecycles... ownership").
type Stream struct {
	mu sync.Mutex

	// ID is the wire identifier a MsgStreamCreate carries, so later
	// MsgStreamData/MsgStreamDestroy frames can be matched back to this
	// stream on the client side. A ulid sorts by creation time, which
	// is a convenient property for the admin socket report to list
	// streams oldest-first without a separate timestamp field.
	ID string

	Bbox   region.Rect
	Width  int32
	Height int32

	jpeg *compress.JPEGEncoder

	agents   map[ClientID]*Agent
	lastFrame time.Time
	ended     bool
}

// NewStream builds a stream for a just-promoted region. narrowLink
// lowers the initial bitrate estimate per spec.md §4.4 ("lowered to x4
// for narrow links"). clientBitrate clamps it to 70% of the measured
// client bitrate.
func NewStream(bbox region.Rect, width, height int32, narrowLink bool, clientBitrate int64) *Stream {
	s := &Stream{
		ID:   ulid.Make().String(),
		Bbox: bbox, Width: width, Height: height,
		jpeg:   compress.NewJPEGEncoder(80),
		agents: make(map[ClientID]*Agent),
	}
	_ = s.InitialBitrate(narrowLink, clientBitrate) // computed on demand too; kept for early logging callers
	return s
}

// InitialBitrate computes width*height*38 bps, x4 for narrow links,
// clamped to 70% of the client's measured bitrate (spec.md §4.4).
func (s *Stream) InitialBitrate(narrowLink bool, clientBitrate int64) int64 {
	bps := int64(s.Width) * int64(s.Height) * 38
	if narrowLink {
		bps *= 4
	}
	if cap70 := (clientBitrate * 70) / 100; clientBitrate > 0 && bps > cap70 {
		bps = cap70
	}
	return bps
}

// AgentFor returns (creating if needed) the per-client agent for id.
func (s *Stream) AgentFor(id ClientID) *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		a = &Agent{fps: 10, stream: s}
		s.agents[id] = a
	}
	return a
}

// VisibleRegion is the union of bboxes of stream frames not yet
// occluded on client c (spec.md §8's universal invariant); since every
// frame shares the stream's bbox by construction, this is just the
// stream's bbox while the client's agent is still live.
func (s *Stream) VisibleRegion(id ClientID) region.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return region.Empty()
	}
	return region.FromRect(s.Bbox)
}

// EncodeFrame JPEG-encodes one matching frame for transmission as
// stream-data to every agent whose fps budget currently allows it.
func (s *Stream) EncodeFrame(img *canvas.Image, bufs *compress.BufferList) compress.Result {
	s.mu.Lock()
	s.lastFrame = time.Now()
	s.mu.Unlock()
	res, err := s.jpeg.Encode(0, img, bufs)
	if err != nil {
		return compress.Result{Codec: compress.CodecRaw, Data: img.Pixels}
	}
	return res
}

// TimedOut reports whether StreamTimeout has elapsed since the last
// frame (spec.md §4.4 lifetime condition (b)).
func (s *Stream) TimedOut(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastFrame.IsZero() && now.Sub(s.lastFrame) > StreamTimeout
}

// End marks the stream ended; Upgrade items for clients that haven't
// seen the final frame are the caller's (pipe layer's) responsibility,
// since only it knows each client's pipe cursor.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Agent is one client's per-stream transmission state: its own fps
// target, adapted independently of other clients on the same stream
// (spec.md §4.4).
type Agent struct {
	mu sync.Mutex

	stream *Stream
	fps    int

	framesSinceAdjust int
	dropsSinceAdjust  int
}

const (
	minFPS = 1
	maxFPS = 30
	// adaptWindow is how many frames between fps re-evaluations.
	adaptWindow = 10
	// dropRatioThreshold is spec.md §4.4's 10% drop-ratio decrement trigger.
	dropRatioThreshold = 0.10
)

func (a *Agent) FPS() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fps
}

// RecordSend updates drop-ratio bookkeeping for one transmission
// attempt; dropped is true when the client's ack window forced the
// pipe to skip this frame.
func (a *Agent) RecordSend(dropped bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.framesSinceAdjust++
	if dropped {
		a.dropsSinceAdjust++
	}
	if a.framesSinceAdjust < adaptWindow {
		return
	}
	ratio := float64(a.dropsSinceAdjust) / float64(a.framesSinceAdjust)
	switch {
	case ratio > dropRatioThreshold && a.fps > minFPS:
		a.fps--
	case ratio == 0 && a.fps < maxFPS:
		a.fps++
	}
	a.framesSinceAdjust = 0
	a.dropsSinceAdjust = 0
}
