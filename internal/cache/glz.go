package cache

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Dictionary is the GLZ shared LZ window (spec.md §4.6): a single
// sliding window of previously-sent pixel data shared by every client
// of a display worker, so a GLZ-compressed image can reference bytes
// sent to satisfy an earlier image rather than only its own history.
// The addressable-entry table sees one lookup/insert per encoded image
// and is the genuine concurrent hot-spot (every client's pipe writer
// goroutine touches it), so it is a github.com/puzpuzpuz/xsync/v3
// MapOf rather than a mutex-guarded map; the window buffer itself is a
// single append-mostly byte slice guarded by a plain RWMutex since
// window growth/truncation is comparatively rare.
type Dictionary struct {
	maxWindow int

	mu     sync.RWMutex
	window []byte
	base   uint64 // window[0] corresponds to this absolute stream offset

	entries *xsync.MapOf[uint64, *glzImage]
}

type glzImage struct {
	offset   uint64 // absolute offset into the dictionary stream
	length   uint32
	refcount int32 // in-flight pipe items referencing this image; atomic
}

func NewDictionary(maxWindowBytes int) *Dictionary {
	return &Dictionary{
		maxWindow: maxWindowBytes,
		entries:   xsync.NewMapOf[uint64, *glzImage](),
	}
}

// Put records a freshly-encoded image's plaintext in the shared window
// so later images can reference it, returning the absolute offset a
// GLZ back-reference would encode. The caller retains one reference
// automatically (the instance currently in flight to at least one
// client); call Release once every client has acked it.
func (d *Dictionary) Put(id uint64, plain []byte) (offset uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	offset = d.base + uint64(len(d.window))
	d.window = append(d.window, plain...)
	d.entries.Store(id, &glzImage{offset: offset, length: uint32(len(plain)), refcount: 1})

	d.evictLocked()
	return offset
}

// Lookup returns the plaintext bytes for a previously-Put image, or
// false if it has since been evicted (the encoder must then fall back
// to a self-contained LZ or raw encoding for that reference).
func (d *Dictionary) Lookup(id uint64) ([]byte, bool) {
	e, ok := d.entries.Load(id)
	if !ok {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rel := e.offset - d.base
	if rel+uint64(e.length) > uint64(len(d.window)) {
		return nil, false // truncated out from under us between Load and RLock
	}
	return d.window[rel : rel+uint64(e.length)], true
}

// Window returns the current raw dictionary bytes, for an encoder to
// search for backward matches against a new image before appending it.
func (d *Dictionary) Window() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]byte, len(d.window))
	copy(out, d.window)
	return out
}

// Retain bumps an image's in-flight reference count, e.g. when a
// second client's pipe also comes to reference it before the first has
// acked.
func (d *Dictionary) Retain(id uint64) {
	if e, ok := d.entries.Load(id); ok {
		atomic.AddInt32(&e.refcount, 1)
	}
}

// Release drops one in-flight reference; once it reaches zero the
// entry is removed from the table, so Lookup no longer finds it (its
// bytes stay in the window, and in Window's output, until window
// eviction drops them).
func (d *Dictionary) Release(id uint64) {
	if e, ok := d.entries.Load(id); ok {
		if atomic.AddInt32(&e.refcount, -1) <= 0 {
			d.entries.Delete(id)
		}
	}
}

// evictLocked drops window bytes older than maxWindow, called with
// d.mu held for writing. Entries whose bytes fall (partly or wholly)
// before the new base are removed from the table; any image still in
// flight past that point is simply forgotten from the dictionary (the
// caller's pipe item already carries its own compressed copy, so this
// is a dictionary-space eviction, not a data-loss event).
func (d *Dictionary) evictLocked() {
	if d.maxWindow <= 0 || len(d.window) <= d.maxWindow {
		return
	}
	drop := len(d.window) - d.maxWindow
	d.window = d.window[drop:]
	d.base += uint64(drop)

	cutoff := d.base
	d.entries.Range(func(id uint64, e *glzImage) bool {
		if e.offset < cutoff {
			d.entries.Delete(id)
		}
		return true
	})
}

func (d *Dictionary) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.window)
}

// ForceFree drops the dictionary down to at most keepBytes immediately,
// ignoring the normal maxWindow budget. Called under OOM pressure
// (spec.md §4.9) where the worker needs bytes back now rather than
// waiting for ordinary window churn to reclaim them.
func (d *Dictionary) ForceFree(keepBytes int) (freed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if keepBytes < 0 {
		keepBytes = 0
	}
	if len(d.window) <= keepBytes {
		return 0
	}
	drop := len(d.window) - keepBytes
	d.window = d.window[drop:]
	d.base += uint64(drop)

	cutoff := d.base
	d.entries.Range(func(id uint64, e *glzImage) bool {
		if e.offset < cutoff {
			d.entries.Delete(id)
		}
		return true
	})
	return drop
}
