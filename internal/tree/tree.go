// Package tree implements the per-surface Z-ordered draw-item tree
// (spec.md §4.3): insertion with occlusion/exclusion, copy-bits
// shadows, container promotion, and depth-first removal with
// container flattening.
//
// No scene-graph/occlusion code exists to crib from directly, so the
// implementation instead reuses the arena/generation-tagged-handle
// *shape* that tracked GPU lease objects in the DRM lessee bookkeeping
// this repo's surface registry is grounded on: a slab of slots
// addressed by a (index, generation) handle rather than a pointer, so a
// stale reference from a removed drawable or a pipe item can be
// detected instead of silently aliasing a reused slot. This is also
// the arena pattern spec.md §9's design notes call for directly
// ("model with arena-allocated slabs and integer handles... use strong
// handles for ownership and weak handles for back-references").
package tree

import (
	"sync"

	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/region"
)

// Handle addresses one node in the tree's arena. The zero Handle never
// refers to a live node.
type Handle struct {
	idx uint32
	gen uint32
}

func (h Handle) IsNil() bool { return h.gen == 0 }

// Effect classifies how a drawable composites against what's beneath
// it, driving both the occlusion walk and add-equal rule selection
// (spec.md §4.3).
type Effect int

const (
	EffectOpaque Effect = iota
	EffectOpaqueBrush
	EffectRevertOnDup
	EffectNopOnDup
	EffectBlend // anything else: alpha blend, transparent, rop combine
)

func (e Effect) isOpaqueLike() bool { return e == EffectOpaque || e == EffectOpaqueBrush }

// Drawable is the tree's view of a captured drawing command: its
// caller-computed region/bbox (spec.md §4.3 step 1 — clip intersection
// happens before Add is called) plus enough identity to run the
// add-equal rules.
type Drawable struct {
	Effect Effect
	Region region.Region
	Bbox   region.Rect

	// ID is the wire drawable identity pipe items reference, assigned
	// by whoever builds the worker Command (spec.md §4.7's
	// remove_drawable cross-iterates pipes by this id). Zero means
	// "not pipe-tracked" — consistent with pipe.Item treating
	// DrawableID 0 as untracked.
	ID uint64

	// BrushEqual/PathEqual are the identity tests add-equal needs for
	// opaque-brush / revert-on-dup / nop-on-dup respectively. Equality
	// must be the real structural equality of the drawable's brush and
	// path (spec.md §9's Open Question, resolved in SPEC_FULL.md F: the
	// legacy self-comparison bug is not preserved).
	BrushEqual func(other *Drawable) bool
	PathEqual  func(other *Drawable) bool

	// ShadowSource is non-empty for a copy-bits drawable whose source
	// differs from its destination: the shadow node receives this
	// region (spec.md §4.3 step 2).
	ShadowSource region.Region

	InStream bool // attached to a live stream (for the opaque-in-stream add-equal rule)
	Payload  any

	// Render executes this drawable against a canvas, clipped to its
	// current live region. Shadows carry no Render (they hold source
	// regions only, nothing is painted for them directly).
	Render func(c canvas.Canvas, liveRegion region.Region)
}

type kind int

const (
	kindDraw kind = iota
	kindShadow
	kindContainer
)

type node struct {
	kind     kind
	gen      uint32
	parent   Handle
	drawable *Drawable     // kindDraw / kindShadow
	children []Handle      // kindContainer: ring order, front = index 0 = most recent
	region   region.Region // current live region (shrinks as exclusion/occlusion progresses)
	bbox     region.Rect
}

// Tree is one surface's live draw-item ring plus its node arena.
type Tree struct {
	mu sync.Mutex
	// slots holds one *node per arena slot. Each node lives in its own
	// heap allocation so growing the outer slice (on alloc past
	// capacity) never invalidates a *node a caller is still holding —
	// only the slice header moves, not the node itself.
	slots []*node
	free  []uint32
	ring  []Handle // root-level ring, front = index 0 = most recent

	// OnAfterAdd runs the stream detector / clip updater once insertion
	// and exclusion have settled (spec.md §4.3 step 5); kept as an
	// injected hook so this package has no import-cycle dependency on
	// internal/stream.
	OnAfterAdd func(d *Drawable)

	// OnRelease is invoked once for every drawable actually dropped
	// from the tree (absorbed, excluded to an empty region, replaced in
	// place by an add-equal rule, or explicitly removed), letting the
	// pipe layer drop its references.
	OnRelease func(d *Drawable)
}

func New() *Tree { return &Tree{} }

func (t *Tree) alloc(n node) Handle {
	if len(t.free) > 0 {
		idx := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		n.gen = t.slots[idx].gen + 1
		if n.gen == 0 {
			n.gen = 1
		}
		*t.slots[idx] = n
		return Handle{idx: idx, gen: n.gen}
	}
	n.gen = 1
	t.slots = append(t.slots, &n)
	return Handle{idx: uint32(len(t.slots) - 1), gen: 1}
}

func (t *Tree) get(h Handle) (*node, bool) {
	if h.IsNil() || int(h.idx) >= len(t.slots) {
		return nil, false
	}
	n := t.slots[h.idx]
	if n.gen != h.gen {
		return nil, false
	}
	return n, true
}

func (t *Tree) freeHandle(h Handle) {
	if n, ok := t.get(h); ok {
		if t.OnRelease != nil && n.drawable != nil {
			t.OnRelease(n.drawable)
		}
		*n = node{gen: n.gen}
		t.free = append(t.free, h.idx)
	}
}

// discardUnused frees a node slot without firing OnRelease: used when
// a freshly-allocated standalone node is immediately superseded by an
// in-place swap elsewhere, so its drawable never actually left the
// tree (it just changed which handle addresses it).
func (t *Tree) discardUnused(h Handle) {
	if n, ok := t.get(h); ok {
		*n = node{gen: n.gen}
		t.free = append(t.free, h.idx)
	}
}

// Add inserts d into the tree, running the occlusion walk described in
// spec.md §4.3 steps 2-5.
func (t *Tree) Add(d *Drawable) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !d.ShadowSource.IsEmpty() {
		shadow := t.alloc(node{kind: kindShadow, region: d.ShadowSource, bbox: d.ShadowSource.Bounds()})
		t.ring = append([]Handle{shadow}, t.ring...)
	}

	handle := t.alloc(node{kind: kindDraw, drawable: d, region: d.Region, bbox: d.Bbox})

	var containerHost Handle
	var shadowAbsorb region.Region
	remaining := t.ring[:0:0]
	remaining = append(remaining, t.ring...)
	newRing := make([]Handle, 0, len(remaining)+1)

	for _, sib := range remaining {
		sn, ok := t.get(sib)
		if !ok {
			continue
		}
		if !d.Bbox.Intersects(sn.bbox) {
			newRing = append(newRing, sib)
			continue
		}

		shared := d.Region.Intersect(sn.region)
		emptyIntersect := shared.IsEmpty()
		leftExclusive := !d.Region.Subtract(sn.region).IsEmpty()  // new has pixels outside sibling
		rightExclusive := !sn.region.Subtract(d.Region).IsEmpty() // sibling has pixels outside new

		if emptyIntersect {
			newRing = append(newRing, sib)
			continue
		}

		if sn.kind != kindShadow && !leftExclusive && !rightExclusive {
			if resultHandle, handled := t.tryAddEqual(d, handle, sn, sib); handled {
				// The walk so far (newRing) plus everything left
				// unvisited in remaining is the ring unchanged apart
				// from this one slot, which tryAddEqual already
				// mutated in place (or left untouched, for nop-on-dup).
				return resultHandle
			}
		}

		if !rightExclusive && d.Effect.isOpaqueLike() {
			// new fully contains sibling: absorb it. A shadow's
			// on-hold area folds into this add's exclusion so the
			// shadow's own source drawable gets re-excluded too
			// (spec.md §4.3 step 3's "union the shadow's on-hold into
			// the exclusion region").
			if sn.kind == kindShadow {
				shadowAbsorb = shadowAbsorb.Union(sn.region)
			}
			t.freeHandle(sib)
			continue
		}

		if !leftExclusive && sn.kind == kindDraw && sn.drawable.Effect.isOpaqueLike() {
			containerHost = sib
			newRing = append(newRing, sib)
			continue
		}

		newRing = append(newRing, sib)
	}

	if !containerHost.IsNil() {
		t.nestInto(containerHost, handle)
	} else {
		newRing = append([]Handle{handle}, newRing...)
	}
	t.ring = newRing

	if d.Effect.isOpaqueLike() {
		t.propagateExclusion(d.Region.Union(shadowAbsorb), handle)
	}

	if t.OnAfterAdd != nil {
		t.OnAfterAdd(d)
	}
	return handle
}

// tryAddEqual implements the add-equal rules for identical (shared_only)
// geometry (spec.md §4.3 step 3). On success it returns the handle the
// caller should treat as the live result: the sibling's own handle for
// every in-place-replace rule (the standalone newHandle alloc is freed
// since the sibling's slot now holds the new content), or sib itself
// for nop-on-dup where nothing changes.
func (t *Tree) tryAddEqual(d *Drawable, newHandle Handle, sn *node, sib Handle) (Handle, bool) {
	sd := sn.drawable
	if sd == nil {
		return Handle{}, false
	}
	switch {
	case d.Effect == EffectOpaque && sd.Effect == EffectOpaque && sd.InStream:
		// maintain stream continuity: attach new in place of old.
		if t.OnRelease != nil {
			t.OnRelease(sd)
		}
		gen := sn.gen
		*sn = node{kind: kindDraw, gen: gen, drawable: d, region: d.Region, bbox: d.Bbox}
		t.discardUnused(newHandle) // the standalone alloc is superseded by the in-place swap, d itself lives on
		return sib, true
	case d.Effect == EffectRevertOnDup && sd.Effect == EffectRevertOnDup &&
		d.PathEqual != nil && d.PathEqual(sd) && d.BrushEqual != nil && d.BrushEqual(sd):
		if t.OnRelease != nil {
			t.OnRelease(sd)
		}
		gen := sn.gen
		*sn = node{kind: kindDraw, gen: gen, drawable: d, region: d.Region, bbox: d.Bbox}
		t.discardUnused(newHandle)
		return sib, true
	case d.Effect == EffectOpaqueBrush && sd.Effect == EffectOpaqueBrush:
		if t.OnRelease != nil {
			t.OnRelease(sd)
		}
		gen := sn.gen
		*sn = node{kind: kindDraw, gen: gen, drawable: d, region: d.Region, bbox: d.Bbox}
		t.discardUnused(newHandle)
		return sib, true
	case d.Effect == EffectNopOnDup && sd.Effect == EffectNopOnDup &&
		d.PathEqual != nil && d.PathEqual(sd) && d.BrushEqual != nil && d.BrushEqual(sd):
		t.freeHandle(newHandle) // drop the new drawable entirely, sibling untouched
		return sib, true
	}
	return Handle{}, false
}

// nestInto demotes host (which fully contains newHandle) into a
// Container if it isn't already one, then adds newHandle as its child
// (spec.md §4.3 step 3's "promote the sibling into a new Container").
func (t *Tree) nestInto(host, newHandle Handle) {
	hn, ok := t.get(host)
	if !ok {
		return
	}
	if hn.kind == kindContainer {
		hn.children = append([]Handle{newHandle}, hn.children...)
		if nn, ok := t.get(newHandle); ok {
			nn.parent = host
		}
		return
	}

	// Promote host into a container owning itself (under a freshly
	// allocated handle, since host's own slot becomes the container)
	// and newHandle. host's ring position is unchanged: the container
	// simply replaces it there.
	selfHandle := t.alloc(*hn)
	if nn, ok := t.get(newHandle); ok {
		nn.parent = host
	}
	if sn, ok := t.get(selfHandle); ok {
		sn.parent = host
	}
	*hn = node{kind: kindContainer, gen: hn.gen, region: hn.region, bbox: hn.bbox, children: []Handle{newHandle, selfHandle}}
}

// propagateExclusion subtracts an opaque drawable's region from every
// other root-ring sibling, removing any that become empty (spec.md
// §4.3 step 4).
func (t *Tree) propagateExclusion(exclusion region.Region, skip Handle) {
	kept := t.ring[:0:0]
	for _, h := range t.ring {
		if h == skip {
			kept = append(kept, h)
			continue
		}
		n, ok := t.get(h)
		if !ok {
			continue
		}
		switch n.kind {
		case kindDraw, kindShadow:
			n.region = n.region.Subtract(exclusion)
			if n.region.IsEmpty() {
				t.freeHandle(h)
				continue
			}
			n.bbox = n.region.Bounds()
		}
		kept = append(kept, h)
	}
	t.ring = kept
}

// Remove deletes handle from the tree; a Container whose child count
// drops to one is flattened (the remaining child is lifted to the
// container's own position), and an emptied Container is freed
// (spec.md §4.3's remove(item)).
func (t *Tree) Remove(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(h)
}

func (t *Tree) remove(h Handle) {
	n, ok := t.get(h)
	if !ok {
		return
	}
	parent := n.parent
	t.removeFromRing(h)
	t.freeHandle(h)

	if parent.IsNil() {
		return
	}
	pn, ok := t.get(parent)
	if !ok {
		return
	}
	switch len(pn.children) {
	case 0:
		t.remove(parent) // empty container, free it (recurses to flatten its own parent too)
	case 1:
		lift := pn.children[0]
		if ln, ok := t.get(lift); ok {
			ln.parent = pn.parent
		}
		if pn.parent.IsNil() {
			for i, r := range t.ring {
				if r == parent {
					t.ring[i] = lift
					break
				}
			}
		} else if gp, ok := t.get(pn.parent); ok {
			for i, c := range gp.children {
				if c == parent {
					gp.children[i] = lift
					break
				}
			}
		}
		t.freeHandle(parent)
	}
}

func (t *Tree) removeFromRing(h Handle) {
	n, ok := t.get(h)
	if !ok {
		return
	}
	if n.parent.IsNil() {
		for i, r := range t.ring {
			if r == h {
				t.ring = append(t.ring[:i], t.ring[i+1:]...)
				return
			}
		}
		return
	}
	pn, ok := t.get(n.parent)
	if !ok {
		return
	}
	for i, c := range pn.children {
		if c == h {
			pn.children = append(pn.children[:i], pn.children[i+1:]...)
			return
		}
	}
}

// Drawable returns the live Drawable stored at h, if any.
func (t *Tree) Drawable(h Handle) (*Drawable, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.get(h)
	if !ok || n.drawable == nil {
		return nil, false
	}
	return n.drawable, true
}

// Regions returns the current live region of every root-level draw/
// shadow item, for sibling-disjointness assertions in tests.
func (t *Tree) Regions() []region.Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]region.Region, 0, len(t.ring))
	for _, h := range t.ring {
		if n, ok := t.get(h); ok {
			out = append(out, n.region)
		}
	}
	return out
}

func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ring)
}
