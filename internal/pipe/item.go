// Package pipe implements the per-client ordered outbound message
// queue with ack-window flow control (spec.md §4.7) and per-client,
// per-surface lossy-region tracking (spec.md §4.8).
//
// The FIFO itself is a container/list ring so a drawable's own
// pipe-list can cross-remove its pipe items in O(1), per spec.md
// §4.7's "reference-counted jointly by the pipe and the drawable's own
// pipe-list". Run's writer loop sends one item at a time in pop order
// (spec.md §5's within-client FIFO delivery); running many clients'
// Run loops concurrently is the caller's job, via a
// github.com/sourcegraph/conc pool over per-client pipes.
package pipe

import "github.com/spicectl/displaycore/internal/region"

// Kind names the tagged pipe-item variants spec.md §4.7/§4.8/§4.4 send
// down a client's wire.
type Kind int

const (
	KindDraw Kind = iota
	KindImage // lossless resend of a surface area, ahead of a lossy-dependent draw
	KindStreamCreate
	KindStreamData
	KindUpgrade // still-frame replacement for a gracefully-ended stream
	KindInvalOne
	KindInvalAll
	KindInvalPalette
	KindWaitForChannels
	KindVerb // zero-payload control item
	KindMark
)

// Item is one queued outbound message. DrawableID ties a draw item
// back to the drawable it renders, letting remove_drawable cross-
// iterate and drop every pipe item referencing a given drawable
// (spec.md §4.7).
type Item struct {
	Kind       Kind
	SurfaceID  uint32
	DrawableID uint64
	Rect       region.Rect
	Bbox       region.Rect // the drawable's own bbox, used if this item must be downgraded to a rendered image (spec.md §4.8)
	Payload    any

	// HasSource/SourceSurfaceID/SourceRect mark an item whose content
	// was computed by reading pixels from another surface/area (e.g. a
	// copy-bits shadow-dependent draw), so LossyTracker.ResendBeforeDependent
	// can find and rewrite it if that source area is still lossy by the
	// time the resend catches up to it in the queue (spec.md §4.8).
	HasSource       bool
	SourceSurfaceID uint32
	SourceRect      region.Rect

	refcount int32
	// holdUntilIOComplete is set while a writer goroutine is mid-send
	// from this item, deferring its destruction even if the underlying
	// drawable is concurrently freed (spec.md §4.7's hold_item/
	// release_item).
	holdUntilIOComplete bool
}

func NewItem(kind Kind, drawableID uint64) *Item {
	return &Item{Kind: kind, DrawableID: drawableID, refcount: 1}
}

func (it *Item) retain() { it.refcount++ }

func (it *Item) release() bool {
	it.refcount--
	return it.refcount <= 0
}
