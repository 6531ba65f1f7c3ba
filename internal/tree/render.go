package tree

import (
	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/region"
)

// FlushAll renders every live drawable in the tree, oldest-to-newest
// (back of the ring to front), satisfying internal/surface.Tree.
func (t *Tree) FlushAll(c canvas.Canvas) {
	t.mu.Lock()
	order := t.renderOrderLocked(t.ring)
	t.mu.Unlock()
	for _, h := range order {
		t.renderOne(c, h, region.Rect{})
	}
}

// FlushRect renders only drawables whose bbox intersects rect (spec.md
// §4.2's flush: "drive all pending drawables touching rect through the
// Canvas... renders older-to-newer").
func (t *Tree) FlushRect(c canvas.Canvas, rect region.Rect) {
	t.mu.Lock()
	var touching []Handle
	for _, h := range t.ring {
		if n, ok := t.get(h); ok && n.bbox.Intersects(rect) {
			touching = append(touching, h)
		}
	}
	order := t.renderOrderLocked(touching)
	t.mu.Unlock()
	for _, h := range order {
		t.renderOne(c, h, rect)
	}
}

// renderOrderLocked reverses a front-to-back ring slice into
// back-to-front (oldest-first) paint order, descending into
// containers depth-first so a container's children paint before it
// moves on to the next root sibling.
func (t *Tree) renderOrderLocked(handles []Handle) []Handle {
	var out []Handle
	for i := len(handles) - 1; i >= 0; i-- {
		out = append(out, t.expandLocked(handles[i])...)
	}
	return out
}

func (t *Tree) expandLocked(h Handle) []Handle {
	n, ok := t.get(h)
	if !ok {
		return nil
	}
	if n.kind != kindContainer {
		return []Handle{h}
	}
	var out []Handle
	for i := len(n.children) - 1; i >= 0; i-- {
		out = append(out, t.expandLocked(n.children[i])...)
	}
	return out
}

func (t *Tree) renderOne(c canvas.Canvas, h Handle, clip region.Rect) {
	t.mu.Lock()
	n, ok := t.get(h)
	if !ok || n.drawable == nil || n.drawable.Render == nil {
		t.mu.Unlock()
		return
	}
	d := n.drawable
	live := n.region
	t.mu.Unlock()

	if clip != (region.Rect{}) {
		live = live.Intersect(region.FromRect(clip))
		if live.IsEmpty() {
			return
		}
	}
	d.Render(c, live)
}

// Clear empties the tree (spec.md §4.2's destroy path).
func (t *Tree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots = nil
	t.free = nil
	t.ring = nil
}

func (t *Tree) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ring) == 0
}

// EvictOldest renders up to max of the oldest root-level items
// (back of the ring, i.e. the items longest resident) into c and then
// removes them, consolidating their pixels into the canvas itself so
// the tree's memory can be reclaimed without any visible change
// (spec.md §4.9's OOM eviction: "render then free"). It returns the
// number of items evicted.
func (t *Tree) EvictOldest(c canvas.Canvas, max int) int {
	t.mu.Lock()
	n := len(t.ring)
	if n > max {
		n = max
	}
	victims := make([]Handle, n)
	copy(victims, t.ring[len(t.ring)-n:])
	order := t.renderOrderLocked(victims)
	t.mu.Unlock()

	for _, h := range order {
		t.renderOne(c, h, region.Rect{})
	}
	for _, h := range victims {
		t.Remove(h)
	}
	return len(victims)
}
