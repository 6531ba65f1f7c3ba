package pipe

import (
	"container/list"
	"context"
	"sync"

	"github.com/spicectl/displaycore/internal/region"
)

// Ack-window sizes (spec.md §4.7): low-latency clients get a deeper
// window since their acks come back fast enough that a large window
// doesn't build up visible lag; high-latency clients get a shallower
// one so a slow link doesn't let the queue balloon.
const (
	AckWindowLowLatency  = 40
	AckWindowHighLatency = 20
)

// Sender delivers one item to the wire. Implementations come from the
// internal/wire package; pipe only depends on this narrow interface so
// it stays transport-agnostic, separating connection plumbing from the
// queueing logic that drives it.
type Sender interface {
	Send(ctx context.Context, it *Item) error
}

// Pipe is one client's ordered outbound item queue. Items are held in
// a container/list ring so that a drawable's own pipe-list (tracked
// externally by drawable ID) can splice an element out in O(1) when
// remove_drawable needs to drop every pipe item referencing it
// (spec.md §4.7).
type Pipe struct {
	mu sync.Mutex

	items    *list.List // of *Item
	byHandle map[uint64][]*list.Element // drawableID -> its pipe elements

	highLatency bool
	window      int
	inFlight    int
	notEmpty    chan struct{}

	closed bool
}

func New(highLatency bool) *Pipe {
	window := AckWindowLowLatency
	if highLatency {
		window = AckWindowHighLatency
	}
	return &Pipe{
		items:       list.New(),
		byHandle:    make(map[uint64][]*list.Element),
		highLatency: highLatency,
		window:      window,
		notEmpty:    make(chan struct{}, 1),
	}
}

// Push appends it to the back of the queue (spec.md §4.7's push_item,
// used by push_verb and by ordinary add_drawable enqueuing).
func (p *Pipe) Push(it *Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	el := p.items.PushBack(it)
	if it.DrawableID != 0 {
		p.byHandle[it.DrawableID] = append(p.byHandle[it.DrawableID], el)
	}
	p.signalLocked()
}

// PushFront inserts it ahead of everything currently queued. Used for
// the lossy-resend rule (spec.md §4.8): the lossless area must reach
// the client before the drawable that depends on it, so it jumps the
// normal append order.
func (p *Pipe) PushFront(it *Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	el := p.items.PushFront(it)
	if it.DrawableID != 0 {
		p.byHandle[it.DrawableID] = append(p.byHandle[it.DrawableID], el)
	}
	p.signalLocked()
}

// InsertAfter inserts it immediately after the drawable identified by
// afterDrawableID's most recently queued item, implementing
// add_drawable_after (spec.md §4.7): a drawable that must render
// between two already-pipelined drawables (e.g. a stream-data frame
// that has to land right after its stream-create) needs this instead
// of a plain append.
func (p *Pipe) InsertAfter(it *Item, afterDrawableID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	els := p.byHandle[afterDrawableID]
	if len(els) == 0 {
		p.items.PushBack(it)
	} else {
		anchor := els[len(els)-1]
		el := p.items.InsertAfter(it, anchor)
		if it.DrawableID != 0 {
			p.byHandle[it.DrawableID] = append(p.byHandle[it.DrawableID], el)
		}
		p.signalLocked()
		return true
	}
	if it.DrawableID != 0 {
		p.byHandle[it.DrawableID] = append(p.byHandle[it.DrawableID], p.items.Back())
	}
	p.signalLocked()
	return true
}

// ReplaceDependents rewrites every currently queued (not yet popped)
// item whose recorded source overlaps surfaceID/resent into a plain
// KindImage of its own bbox: its original encode assumed the
// now-stale lossy pixels it read, so once those pixels are resent
// losslessly the dependent item itself has to be replaced rather than
// sent as originally built (spec.md §4.8's intervening-drawable-
// replacement case).
func (p *Pipe) ReplaceDependents(surfaceID uint32, resent region.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.items.Front(); e != nil; e = e.Next() {
		it := e.Value.(*Item)
		if !it.HasSource || it.SourceSurfaceID != surfaceID || it.holdUntilIOComplete {
			continue
		}
		if !it.SourceRect.Intersects(resent) {
			continue
		}
		it.Kind = KindImage
		it.SurfaceID = surfaceID
		it.Rect = it.Bbox
		it.Payload = nil
		it.HasSource = false
	}
}

// RemoveDrawable drops every queued pipe item referencing drawableID,
// per spec.md §4.7's remove_drawable. Items already popped for an
// in-flight write (hold_item) are no longer queued or indexed, so they
// are not affected; releaseItem clears their hold once the send
// completes.
func (p *Pipe) RemoveDrawable(drawableID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.byHandle[drawableID]
	delete(p.byHandle, drawableID)
	for _, el := range els {
		it := el.Value.(*Item)
		if it.holdUntilIOComplete {
			continue
		}
		p.items.Remove(el)
	}
}

// pop removes and returns the front item, or nil if empty or the ack
// window is exhausted.
func (p *Pipe) pop() *Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight >= p.window {
		return nil
	}
	front := p.items.Front()
	if front == nil {
		return nil
	}
	it := front.Value.(*Item)
	it.holdUntilIOComplete = true
	p.items.Remove(front)
	p.removeFromIndexLocked(it, front)
	p.inFlight++
	return it
}

func (p *Pipe) removeFromIndexLocked(it *Item, el *list.Element) {
	if it.DrawableID == 0 {
		return
	}
	els := p.byHandle[it.DrawableID]
	for i, e := range els {
		if e == el {
			p.byHandle[it.DrawableID] = append(els[:i], els[i+1:]...)
			break
		}
	}
	if len(p.byHandle[it.DrawableID]) == 0 {
		delete(p.byHandle, it.DrawableID)
	}
}

// Ack releases one slot of the ack window, called when the client
// acknowledges a prior message (spec.md §4.7 flow control).
func (p *Pipe) Ack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight > 0 {
		p.inFlight--
	}
	p.signalLocked()
}

func (p *Pipe) signalLocked() {
	select {
	case p.notEmpty <- struct{}{}:
	default:
	}
}

// Len reports the number of items currently queued (not counting
// in-flight holds).
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items.Len()
}

// Close marks the pipe closed; Run's writer loop exits once the queue
// drains.
func (p *Pipe) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signalLocked()
}

// Run drives the writer loop for this pipe until ctx is cancelled or
// the pipe is closed and drained. Sends happen one at a time, in pop
// order: spec.md §5 requires FIFO delivery within one client, and a
// single underlying connection (e.g. gorilla/websocket) isn't safe for
// concurrent writes anyway. The ack window (up to AckWindowLowLatency/
// AckWindowHighLatency items) bounds how far the queue can run ahead of
// the client's acks, not how many Sends run at once; pipelining across
// clients belongs to whatever pool the caller runs one Run per client
// under.
func Run(ctx context.Context, p *Pipe, s Sender) error {
	for {
		it := p.pop()
		if it == nil {
			p.mu.Lock()
			done := p.closed && p.items.Len() == 0
			p.mu.Unlock()
			if done {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.notEmpty:
				continue
			}
		}

		sendErr := s.Send(ctx, it)
		p.releaseItem(it)
		if sendErr != nil {
			return sendErr
		}
	}
}

// releaseItem clears the in-flight hold once a write completes,
// implementing spec.md §4.7's release_item counterpart to pop's
// hold_item. It does not itself free an ack-window slot: that only
// happens when the client's own ack for this message arrives and the
// wire layer calls Ack, so a fast local write over a slow link still
// backs off correctly.
func (p *Pipe) releaseItem(it *Item) {
	p.mu.Lock()
	it.holdUntilIOComplete = false
	p.mu.Unlock()
}
