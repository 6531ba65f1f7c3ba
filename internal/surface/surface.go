// Package surface implements the surface registry (spec.md §4.2): a
// bounded set of off-screen pixel buffers, each owning a Canvas, a live
// draw-item tree, a dependency ring of drawables in other surfaces
// waiting on this one, and a dirty region. The registry shape (a
// mutex-guarded map of ids to owned resources, refcounted, destroyed
// only once dependents drain) is grounded on api/pkg/drm/manager.go's
// lessee bookkeeping, generalized from GPU lease objects to display
// surfaces.
package surface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/region"
)

// ID identifies a surface. Surface 0 is always the primary (spec.md
// §3: "invariant: surface 0 is the primary; only it can be a stream
// source").
type ID uint32

const Primary ID = 0

// ErrNotFound is returned by Lookup/Destroy/Flush/GetArea for an
// unknown id.
var ErrNotFound = fmt.Errorf("surface: not found")

// ErrMaxSurfaces is returned by Create once the registry is at its
// configured capacity.
var ErrMaxSurfaces = fmt.Errorf("surface: registry at capacity")

// ErrPrimaryExists is returned creating a second surface 0.
var ErrPrimaryExists = fmt.Errorf("surface: primary already exists")

// Tree is the minimal surface-side view onto the draw-item tree this
// package needs: internal/tree.Tree implements it. Kept narrow here so
// surface has no import-cycle dependency on the tree package's full
// API; surface only ever needs to flush and clear.
type Tree interface {
	FlushAll(c canvas.Canvas)
	FlushRect(c canvas.Canvas, rect region.Rect)
	Clear()
	IsEmpty() bool
}

// Surface is one off-screen pixel buffer and its bookkeeping (spec.md
// §3's Surface type).
type Surface struct {
	ID     ID
	Canvas canvas.Canvas
	Format canvas.Format
	Width  int32
	Height int32
	Stride int32

	mu         sync.Mutex
	refcount   int
	tree       Tree
	dirty      region.Region
	dependents chan struct{} // closed once the dependency ring count reaches zero
	depCount   int
}

func newSurface(id ID, c canvas.Canvas, format canvas.Format, width, height, stride int32, tree Tree) *Surface {
	return &Surface{
		ID:         id,
		Canvas:     c,
		Format:     format,
		Width:      width,
		Height:     height,
		Stride:     stride,
		refcount:   1,
		tree:       tree,
		dependents: make(chan struct{}),
	}
}

func (s *Surface) Retain() {
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
}

func (s *Surface) release() (reachedZero bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refcount--
	return s.refcount <= 0
}

// AddDependent bumps the dependency-ring count: some drawable in
// another surface now depends on this surface flushing before it can
// itself render (spec.md §3/§4.2).
func (s *Surface) AddDependent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depCount++
}

// RemoveDependent drops the dependency-ring count, signalling any
// pending Destroy once it reaches zero.
func (s *Surface) RemoveDependent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depCount--
	if s.depCount <= 0 && s.dependents != nil {
		close(s.dependents)
		s.dependents = nil
	}
}

func (s *Surface) markDirty(r region.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = s.dirty.Union(r)
}

// Registry is the bounded set of live surfaces (spec.md §4.2).
type Registry struct {
	log *slog.Logger

	mu            sync.Mutex
	surfaces      map[ID]*Surface
	max           int
	primaryExists bool

	// NotifyPrimaryCreated is invoked once, synchronously, on
	// successful creation of surface 0 (spec.md §4.2: "emits a mark
	// message to every connected client").
	NotifyPrimaryCreated func()
}

func NewRegistry(log *slog.Logger, maxSurfaces int) *Registry {
	return &Registry{
		log:      log,
		surfaces: make(map[ID]*Surface),
		max:      maxSurfaces,
	}
}

// Create registers a new surface. newTree builds the surface's
// draw-item tree (injected so surface never imports internal/tree
// directly). dataValid signals the device reloaded existing bits that
// must be pushed to clients once they resync (spec.md §4.2).
func (r *Registry) Create(id ID, width, height, stride int32, format canvas.Format, c canvas.Canvas, newTree func() Tree, dataValid bool) (*Surface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == Primary && r.primaryExists {
		return nil, ErrPrimaryExists
	}
	if _, exists := r.surfaces[id]; exists {
		return nil, fmt.Errorf("surface: id %d already exists", id)
	}
	if r.max > 0 && len(r.surfaces) >= r.max {
		return nil, ErrMaxSurfaces
	}

	s := newSurface(id, c, format, width, height, stride, newTree())
	r.surfaces[id] = s
	if id == Primary {
		r.primaryExists = true
	}

	r.log.Info("surface created", "id", id, "width", width, "height", height, "data_valid", dataValid)

	if id == Primary && r.NotifyPrimaryCreated != nil {
		r.NotifyPrimaryCreated()
	}
	return s, nil
}

func (r *Registry) Lookup(id ID) (*Surface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.surfaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Destroy drops one reference. Once the refcount reaches zero it waits
// until the dependency-ring count is back to zero (RemoveDependent) or
// ctx ends, then renders its own tree into the Canvas, clears the tree
// and removes the surface from the registry. It does not flush the
// dependent drawables in other surfaces itself; it waits for their
// RemoveDependent calls.
func (r *Registry) Destroy(ctx context.Context, id ID) error {
	r.mu.Lock()
	s, ok := r.surfaces[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if reachedZero := s.release(); !reachedZero {
		return nil // other owners remain; the id stays live
	}

	s.mu.Lock()
	var waitCh chan struct{}
	if s.depCount > 0 {
		if s.dependents == nil {
			s.dependents = make(chan struct{})
		}
		waitCh = s.dependents
	}
	s.mu.Unlock()
	if waitCh != nil {
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.tree.FlushAll(s.Canvas)
	s.tree.Clear()

	r.mu.Lock()
	delete(r.surfaces, id)
	if id == Primary {
		r.primaryExists = false
	}
	r.mu.Unlock()

	r.log.Info("surface destroyed", "id", id)
	return nil
}

// Flush drives every pending drawable touching rect through the
// Canvas, oldest-to-newest, idempotently against an already-flushed
// area (spec.md §4.2).
func (r *Registry) Flush(id ID, rect region.Rect) error {
	s, err := r.Lookup(id)
	if err != nil {
		return err
	}
	s.tree.FlushRect(s.Canvas, rect)
	s.mu.Lock()
	s.dirty = s.dirty.Subtract(region.FromRect(rect))
	s.mu.Unlock()
	return nil
}

// GetArea flushes rect then reads it back via the Canvas's ReadBits,
// copying the result into dst at the given stride (spec.md §4.2).
func (r *Registry) GetArea(id ID, rect region.Rect, dst []byte, stride int32, update bool) (*canvas.Image, error) {
	s, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	if update {
		s.tree.FlushRect(s.Canvas, rect)
	}
	img := s.Canvas.ReadBits(rect)
	if dst != nil {
		copyRows(dst, stride, img)
	}
	return img, nil
}

func copyRows(dst []byte, dstStride int32, img *canvas.Image) {
	rowBytes := img.Stride
	if dstStride < rowBytes {
		rowBytes = dstStride
	}
	for y := int32(0); y < img.Height; y++ {
		srcOff := y * img.Stride
		dstOff := y * dstStride
		if int(dstOff+rowBytes) > len(dst) || int(srcOff+rowBytes) > len(img.Pixels) {
			break
		}
		copy(dst[dstOff:dstOff+rowBytes], img.Pixels[srcOff:srcOff+rowBytes])
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.surfaces)
}
