package pipe

import (
	"sync"

	"github.com/spicectl/displaycore/internal/region"
)

// LossyTracker records, per client and per surface, which areas were
// last sent to that client via a lossy codec (spec.md §4.8). Before a
// drawable that depends on pixels in a lossy area is sent (e.g. a
// copy-bits shadow reading from it, or a draw that needs exact
// pixels), the pipe layer must resend that area losslessly first.
type LossyTracker struct {
	mu      sync.Mutex
	regions map[uint32]region.Region // surfaceID -> lossy area on this client
}

func NewLossyTracker() *LossyTracker {
	return &LossyTracker{regions: make(map[uint32]region.Region)}
}

// MarkLossy records that rect on surfaceID was just sent lossy.
func (lt *LossyTracker) MarkLossy(surfaceID uint32, rect region.Rect) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	r := lt.regions[surfaceID]
	r = r.Add(rect)
	lt.regions[surfaceID] = r
}

// ClearLossless records that rect on surfaceID has now been sent
// losslessly (either a fresh lossless draw or a resend), so it no
// longer needs special handling.
func (lt *LossyTracker) ClearLossless(surfaceID uint32, rect region.Rect) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	r, ok := lt.regions[surfaceID]
	if !ok {
		return
	}
	r = r.Subtract(region.FromRect(rect))
	if r.IsEmpty() {
		delete(lt.regions, surfaceID)
	} else {
		lt.regions[surfaceID] = r
	}
}

// LossyIntersection reports the portion of rect on surfaceID that is
// currently lossy on this client, if any.
func (lt *LossyTracker) LossyIntersection(surfaceID uint32, rect region.Rect) (region.Region, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	r, ok := lt.regions[surfaceID]
	if !ok {
		return region.Region{}, false
	}
	hit := r.Intersect(region.FromRect(rect))
	if hit.IsEmpty() {
		return region.Region{}, false
	}
	return hit, true
}

// ResendBeforeDependent is called while queuing a drawable that reads
// pixels from surfaceID/readRect (a copy-bits shadow source, or any
// drawable whose ShadowSource overlaps a lossy area). If any part of
// readRect is currently lossy on this client, it pushes an Image item
// to resend that area losslessly ahead of the dependent drawable,
// rewrites any already-queued item that itself depends on the same
// source area into a rendered image of its own bbox (spec.md §4.8's
// "intervening drawable replacement" case — that item's original
// encode assumed the stale lossy pixels and is no longer valid), and
// clears the lossy mark. A later opaque overpaint of the same area
// queued before the resend simply narrows what still needs resending,
// since ClearLossless already shrank the tracked region down to what's
// still outstanding.
func (lt *LossyTracker) ResendBeforeDependent(p *Pipe, surfaceID uint32, readRect region.Rect) {
	hit, ok := lt.LossyIntersection(surfaceID, readRect)
	if !ok {
		return
	}
	for _, rc := range hit.Rects() {
		p.PushFront(&Item{Kind: KindImage, SurfaceID: surfaceID, Rect: rc, refcount: 1})
	}
	p.ReplaceDependents(surfaceID, readRect)
	lt.ClearLossless(surfaceID, readRect)
}
