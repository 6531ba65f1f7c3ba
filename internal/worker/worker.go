// Package worker implements the display worker's single-goroutine
// command loop (spec.md §4.9): it drains incoming drawing commands
// into the per-surface trees, runs the stream-maintenance pass and
// per-client pipe insertion that follow a tree mutation (spec.md §2),
// backs off when any client's pipe is over its high-water mark, and
// runs OOM recovery when memory pressure is signalled.
//
// The back-pressure wait reuses the retry/back-off shape from
// api/pkg/runner/ollama_model_controller.go's
// retry.DoWithData(..., retry.Attempts(3), retry.Delay(...)),
// generalized to the bounded-poll-then-park pattern spec.md §4.9 calls
// for.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/spicectl/displaycore/internal/cache"
	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/compress"
	"github.com/spicectl/displaycore/internal/pipe"
	"github.com/spicectl/displaycore/internal/region"
	"github.com/spicectl/displaycore/internal/stream"
	"github.com/spicectl/displaycore/internal/tree"
	"github.com/spicectl/displaycore/internal/wire"
)

// MaxPipeSize is the per-client pipe high-water mark (spec.md §4.9):
// once any attached client's pipe holds this many items, the command
// loop stops pulling new commands until it drains back down.
const MaxPipeSize = 50

const (
	backpressurePollInterval = 10 * time.Millisecond
	backpressureMaxPolls     = 200
	// commandBatchBudget bounds how long one Run iteration spends
	// draining ready commands before it re-checks pipe back-pressure,
	// so a burst of commands can't starve the back-pressure check.
	commandBatchBudget = 10 * time.Millisecond
	idlePollInterval    = 10 * time.Millisecond
)

var errPipesFull = errors.New("worker: all pipes at capacity")

// Command is one queued drawing or control operation for a surface's
// tree. The worker package does not interpret Drawable/Handle itself
// beyond dispatch bookkeeping: tree mutation logic lives in
// internal/tree.
type Command struct {
	Kind      Kind
	SurfaceID uint32
	Drawable  *tree.Drawable
	Handle    tree.Handle

	// Hints carries the compress.Chooser inputs for Drawable, computed
	// by whoever built this Command from the original drawing request
	// (spec.md §4.6): the tree/pipe layer has already lost the ROP and
	// source-format context by the time a drawable is just a bbox/
	// region, so the caller has to pass it through here.
	Hints compress.Hints

	// StreamCandidate is non-nil when Drawable is eligible to feed the
	// stream detector (spec.md §4.4); nil for anything that can never
	// be a stream frame (fills, non-primary-surface draws, and so on).
	StreamCandidate *stream.Candidate
}

type Kind int

const (
	KindAdd Kind = iota
	KindRemove
)

// CommandSource is polled non-blockingly by the loop: Next returns
// ok=false when nothing is currently queued (not an error — the loop
// will idle-poll), and a non-nil err only once the source is
// permanently closed.
type CommandSource interface {
	Next() (cmd Command, ok bool, err error)
}

// PipeGauge is the narrow view of a client pipe the loop needs for
// back-pressure: just its current queue depth.
type PipeGauge interface {
	Len() int
}

// ClientOutbound is everything the broadcast step needs per connected
// client to carry a tree mutation the rest of the way down spec.md
// §2's pipeline: past the tree into that client's own lossy-resend
// state, compressed, and pushed onto that client's pipe.
type ClientOutbound struct {
	ID          uint32
	Pipe        *pipe.Pipe
	Lossy       *pipe.LossyTracker
	Bufs        *compress.BufferList
	HighLatency bool

	stream *stream.Agent // set once this client has an active promoted stream
}

// Loop is one display worker's command-processing goroutine.
type Loop struct {
	Trees    map[uint32]*tree.Tree
	Canvases map[uint32]canvas.Canvas
	Source   CommandSource
	Pipes    []PipeGauge
	Dict     *cache.Dictionary

	// Chooser picks the codec for each drawable's rendered pixels
	// (spec.md §4.6). Nil disables compression entirely: drawables are
	// broadcast as raw bitmaps.
	Chooser *compress.Chooser

	// Detector runs the primary surface's stream-promotion state
	// machine (spec.md §4.4). Nil disables stream detection: every
	// drawable is sent as a plain draw item.
	Detector *stream.Detector

	// Clients holds one outbound pipeline per connected client. A
	// dispatch that mutates a pipe-tracked drawable (tree.Drawable.ID
	// != 0) fans out to every entry here after updating the tree.
	// Reads/writes go through clientsMu since clients attach/detach
	// from whatever goroutine accepts connections, concurrently with
	// the single-goroutine command loop iterating this slice.
	Clients   []*ClientOutbound
	clientsMu sync.Mutex

	// ActiveStream is the currently promoted video stream, if any
	// (spec.md §3: surface 0 can host at most one at a time). Set by
	// onStreamPromote once Detector signals a promotion.
	ActiveStream *stream.Stream

	// GetImage reads back the rendered pixels of rect on surfaceID,
	// flushing any pending drawables first (spec.md §4.2's GetArea).
	GetImage func(surfaceID uint32, rect region.Rect) (*canvas.Image, error)

	// MaxPipeSize overrides MaxPipeSize for tests; zero means use the
	// package default.
	MaxPipeSize int

	// OnFlushResources is called (up to MaxFlushResourceCalls times)
	// during OOM recovery to ask callers outside this package (the
	// cache layer, typically) to drop anything evictable of their own.
	OnFlushResources func()
}

// BindDetector wires l.Detector's promotion callback back into l, so a
// promotion builds the shared Stream and resets every client's agent
// (spec.md §4.4). Call once after both Loop and Detector are built.
func (l *Loop) BindDetector() {
	if l.Detector != nil {
		l.Detector.OnPromote = l.onStreamPromote
	}
}

// AddClient registers cl as a new connected client's outbound
// pipeline. Safe to call concurrently with Run.
func (l *Loop) AddClient(cl *ClientOutbound) {
	l.clientsMu.Lock()
	l.Clients = append(l.Clients, cl)
	l.clientsMu.Unlock()
}

// RemoveClient drops the outbound pipeline for client id. Safe to call
// concurrently with Run.
func (l *Loop) RemoveClient(id uint32) {
	l.clientsMu.Lock()
	defer l.clientsMu.Unlock()
	for i, cl := range l.Clients {
		if cl.ID == id {
			cl.Pipe.Close()
			l.Clients = append(l.Clients[:i], l.Clients[i+1:]...)
			return
		}
	}
}

func (l *Loop) clientsSnapshot() []*ClientOutbound {
	l.clientsMu.Lock()
	defer l.clientsMu.Unlock()
	out := make([]*ClientOutbound, len(l.Clients))
	copy(out, l.Clients)
	return out
}

func (l *Loop) maxPipeSize() int {
	if l.MaxPipeSize > 0 {
		return l.MaxPipeSize
	}
	return MaxPipeSize
}

// Run drains commands from Source into the per-surface trees until ctx
// is cancelled or Source is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.waitForCapacity(ctx); err != nil {
			return err
		}

		drained, err := l.drainBatch(ctx)
		if err != nil {
			return err
		}
		if !drained {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// drainBatch pulls and dispatches ready commands for up to
// commandBatchBudget, stopping early if a pipe fills up mid-batch.
func (l *Loop) drainBatch(ctx context.Context) (drained bool, err error) {
	deadline := time.Now().Add(commandBatchBudget)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return drained, ctx.Err()
		default:
		}
		cmd, ok, srcErr := l.Source.Next()
		if srcErr != nil {
			return drained, srcErr
		}
		if !ok {
			return drained, nil
		}
		drained = true
		l.dispatch(cmd)
		if l.anyPipeFull() {
			return drained, nil
		}
	}
	return drained, nil
}

func (l *Loop) dispatch(cmd Command) {
	tr, ok := l.Trees[cmd.SurfaceID]
	if !ok {
		return
	}
	switch cmd.Kind {
	case KindAdd:
		if cmd.Drawable == nil {
			return
		}
		tr.Add(cmd.Drawable)
		l.broadcastAdd(cmd.SurfaceID, cmd.Drawable, cmd.Hints, cmd.StreamCandidate)
	case KindRemove:
		// Look up the drawable's wire id before Remove invalidates the
		// handle, so every client pipe can still be told which id to
		// cross-remove (spec.md §4.7's remove_drawable).
		d, found := tr.Drawable(cmd.Handle)
		var id uint64
		if found {
			id = d.ID
		}
		tr.Remove(cmd.Handle)
		if found {
			l.broadcastRemove(id)
		}
	}
}

// broadcastAdd carries a just-added drawable through spec.md §2's
// remaining pipeline steps: stream-maintenance (did this frame
// continue or start a promoted stream?), per-client lossy-resend
// bookkeeping, codec selection/compression, and finally insertion onto
// every connected client's pipe. Drawables that aren't pipe-tracked
// (ID == 0, e.g. a shadow-only node) never reach the wire.
func (l *Loop) broadcastAdd(surfaceID uint32, d *tree.Drawable, hints compress.Hints, cand *stream.Candidate) {
	if d.ID == 0 {
		return
	}
	clients := l.clientsSnapshot()
	if len(clients) == 0 {
		return
	}

	isStreamFrame := false
	if cand != nil && l.Detector != nil {
		isStreamFrame = l.Detector.Observe(*cand)
	}

	var img *canvas.Image
	if l.GetImage != nil {
		fetched, err := l.GetImage(surfaceID, d.Bbox)
		if err == nil {
			img = fetched
		}
	}

	hasSource := !d.ShadowSource.IsEmpty()
	var sourceRect region.Rect
	if hasSource {
		sourceRect = d.ShadowSource.Bounds()
	}

	for _, cl := range clients {
		if hasSource {
			cl.Lossy.ResendBeforeDependent(cl.Pipe, surfaceID, sourceRect)
		}

		if isStreamFrame && l.ActiveStream != nil {
			l.pushStreamFrame(cl, surfaceID, d, img)
			continue
		}

		it := pipe.NewItem(pipe.KindDraw, d.ID)
		it.SurfaceID = surfaceID
		it.Rect = d.Bbox
		it.Bbox = d.Bbox
		if hasSource {
			it.HasSource = true
			it.SourceSurfaceID = surfaceID
			it.SourceRect = sourceRect
		}
		if img != nil {
			res := compress.Result{Codec: compress.CodecRaw, Data: img.Pixels, OrigSize: len(img.Pixels)}
			if l.Chooser != nil {
				res = l.Chooser.EncodeBest(d.ID, img, hints, cl.Bufs)
			}
			if res.Lossy {
				cl.Lossy.MarkLossy(surfaceID, d.Bbox)
			} else {
				cl.Lossy.ClearLossless(surfaceID, d.Bbox)
			}
			it.Payload = &wire.DrawPayload{
				Compressed: res,
				Width:      uint32(img.Width),
				Height:     uint32(img.Height),
				Stride:     uint32(img.Stride),
			}
		}
		cl.Pipe.Push(it)
	}
}

// pushStreamFrame delivers one promoted-stream frame to cl: a
// stream-create item the first time this client sees the stream, then
// a JPEG-encoded stream-data item for every matching frame after
// (spec.md §4.4).
func (l *Loop) pushStreamFrame(cl *ClientOutbound, surfaceID uint32, d *tree.Drawable, img *canvas.Image) {
	if cl.stream == nil {
		cl.stream = l.ActiveStream.AgentFor(stream.ClientID(cl.ID))
		create := pipe.NewItem(pipe.KindStreamCreate, d.ID)
		create.SurfaceID = surfaceID
		create.Rect = l.ActiveStream.Bbox
		cl.Pipe.Push(create)
	}
	if img == nil {
		return
	}
	res := l.ActiveStream.EncodeFrame(img, cl.Bufs)
	cl.stream.RecordSend(false)

	data := pipe.NewItem(pipe.KindStreamData, d.ID)
	data.SurfaceID = surfaceID
	data.Rect = l.ActiveStream.Bbox
	data.Payload = &wire.DrawPayload{
		Compressed: res,
		Width:      uint32(img.Width),
		Height:     uint32(img.Height),
		Stride:     uint32(img.Stride),
	}
	cl.Pipe.Push(data)
}

// broadcastRemove cross-removes every client pipe item still queued
// for drawableID (spec.md §4.7's remove_drawable): items already
// in-flight to a client are left alone, per Pipe.RemoveDrawable.
func (l *Loop) broadcastRemove(drawableID uint64) {
	if drawableID == 0 {
		return
	}
	for _, cl := range l.clientsSnapshot() {
		cl.Pipe.RemoveDrawable(drawableID)
	}
}

// onStreamPromote is wired as Detector.OnPromote: it builds the shared
// Stream for the newly-promoted run and hands every currently
// connected client a fresh Agent, so the next broadcastAdd for this
// run takes the stream-frame path for all of them (spec.md §4.4).
func (l *Loop) onStreamPromote(bbox region.Rect, sourceW, sourceH int32) {
	l.ActiveStream = stream.NewStream(bbox, sourceW, sourceH, false, 0)
	for _, cl := range l.clientsSnapshot() {
		cl.stream = nil
	}
}

func (l *Loop) anyPipeFull() bool {
	for _, p := range l.Pipes {
		if p.Len() >= l.maxPipeSize() {
			return true
		}
	}
	return false
}

// waitForCapacity polls back-pressure up to backpressureMaxPolls times
// at backpressurePollInterval (spec.md §4.9's "poll 200 times at 10ms
// then park"); once that budget is exhausted it parks, blocking until
// capacity frees or ctx is cancelled, rather than busy-polling forever.
func (l *Loop) waitForCapacity(ctx context.Context) error {
	if !l.anyPipeFull() {
		return nil
	}
	err := retry.Do(func() error {
		if l.anyPipeFull() {
			return errPipesFull
		}
		return nil
	},
		retry.Attempts(backpressureMaxPolls),
		retry.Delay(backpressurePollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}

	for l.anyPipeFull() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backpressurePollInterval):
		}
	}
	return nil
}
