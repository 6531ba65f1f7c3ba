// Package stats implements the in-process half of spec.md §6's
// "optional POSIX shared-memory block exposing a tree of named
// counters": this core owns the counter tree itself; the POSIX-shm
// export is an external-collaborator concern (no such syscall binding
// exists anywhere in the retrieval pack, so we do not fabricate one —
// shm export omitted: no POSIX-shm binding in the example pack).
package stats

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Tree is a flat set of named atomic int64 counters, addressed by
// dotted name (e.g. "codec.jpeg.frames", "codec.jpeg.orig_bytes").
type Tree struct {
	mu       sync.RWMutex
	counters map[string]*int64
}

func NewTree() *Tree {
	return &Tree{counters: make(map[string]*int64)}
}

func (t *Tree) counter(name string) *int64 {
	t.mu.RLock()
	c, ok := t.counters[name]
	t.mu.RUnlock()
	if ok {
		return c
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[name]; ok {
		return c
	}
	var v int64
	t.counters[name] = &v
	return &v
}

func (t *Tree) Add(name string, delta int64) {
	atomic.AddInt64(t.counter(name), delta)
}

func (t *Tree) Inc(name string) { t.Add(name, 1) }

func (t *Tree) Get(name string) int64 {
	return atomic.LoadInt64(t.counter(name))
}

// Snapshot returns a point-in-time copy of every counter.
func (t *Tree) Snapshot() map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int64, len(t.counters))
	for k, v := range t.counters {
		out[k] = atomic.LoadInt64(v)
	}
	return out
}

// String renders the snapshot sorted by name with byte-valued counters
// (anything ending in "_bytes") humanized via dustin/go-humanize.
func (t *Tree) String() string {
	snap := t.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)

	out := ""
	for _, name := range names {
		v := snap[name]
		if len(name) > 6 && name[len(name)-6:] == "_bytes" {
			out += name + "=" + humanize.Bytes(uint64(v)) + "\n"
		} else {
			out += name + "=" + humanize.Comma(v) + "\n"
		}
	}
	return out
}

// CodecStats records the per-codec counters named in spec.md §4.6/§6:
// frame counts and orig/comp byte totals per compression method.
type CodecStats struct {
	tree *Tree
	name string
}

func (t *Tree) Codec(name string) CodecStats { return CodecStats{tree: t, name: name} }

func (c CodecStats) RecordFrame(origBytes, compBytes int64) {
	c.tree.Inc(c.name + ".frames")
	c.tree.Add(c.name+".orig_bytes", origBytes)
	c.tree.Add(c.name+".comp_bytes", compBytes)
}

func (c CodecStats) AddCPU(nanos int64) {
	c.tree.Add(c.name+".cpu_ns", nanos)
}
