// Package cache implements the per-end-user pixmap and palette LRU
// caches (spec.md §3, §4.5), grounded directly on
// original_source/server/red_client_shared_cache.h's hit/add/reset/
// freeze/destroy state machine. The intrusive LRU order and the
// per-subclient serial vector are the part of that file with
// synchronous cross-client coherence invariants a general-purpose cache
// library cannot give us, so they stay a hand-rolled ring (ported from
// the .h file's ring_* calls); the actual pixmap byte payloads are
// stored in github.com/dgraph-io/ristretto/v2, a cost-bounded
// concurrent cache, keyed by the same 64-bit id.
package cache

import (
	"container/list"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// ChannelID identifies one subclient sharing this cache (spec.md §3:
// "shared among subclients of the same end-user").
type ChannelID int

// entry is the LRU-ring payload, mirroring NewCacheItem in
// red_client_shared_cache.h: id, size, lossy flag, and per-subclient
// last-observed serial.
type entry struct {
	id    uint64
	size  uint32
	lossy bool
	sync  map[ChannelID]uint64
	owner ChannelID // the subclient whose Add created the entry
}

// WaitForChannels is the SPICE_MSG_WAIT_FOR_CHANNELS payload emitted by
// Reset: every other subclient's last-observed serial, so the resetting
// channel's reader can be held until all of them have caught up
// (spec.md §4.5 "reset bumps the shared generation...").
type WaitForChannels struct {
	Waits []ChannelWait
}

type ChannelWait struct {
	Channel ChannelID
	Serial  uint64
}

// EvictFunc is invoked synchronously while the cache lock is held, once
// per evicted entry, so the caller can enqueue an inval-one pipe item
// on the entry's originating subclient (spec.md §4.5).
type EvictFunc func(channel ChannelID, id uint64)

type Cache struct {
	name    string
	maxSize int64

	mu          sync.Mutex
	hashTable   map[uint64]*list.Element // id -> LRU element
	lru         *list.List               // front = most recently used
	available   int64
	items       int
	generation  uint64
	channelSync map[ChannelID]uint64 // per-subclient last serial touching this cache

	frozen      bool
	frozenFront *list.Element

	store  *ristretto.Cache[uint64, []byte]
	OnEvict EvictFunc
}

// New creates a cache with a byte budget. name is recorded on the
// cache for identification; it is not passed to the backing ristretto
// instance.
func New(name string, maxBytes int64) (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxBytes / 64, // ~1 counter per expected 64B entry, ristretto's own sizing heuristic
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		name:        name,
		maxSize:     maxBytes,
		hashTable:   make(map[uint64]*list.Element),
		lru:         list.New(),
		available:   maxBytes,
		channelSync: make(map[ChannelID]uint64),
		store:       store,
	}, nil
}

// NewPaletteCache builds the smaller, single-subclient palette variant
// (spec.md §4.5: "structurally identical but smaller, single-subclient").
func NewPaletteCache(maxEntries int) (*Cache, error) {
	// Palette entries are tiny; budget by count via an approximate
	// average entry size rather than true bytes.
	const avgEntryBytes = 1024
	return New("palette", int64(maxEntries)*avgEntryBytes)
}

// Hit looks up id for channel, moving it to LRU-front and recording the
// channel's current serial against the entry (and the cache as a
// whole), per FUNC_NAME(hit) in red_client_shared_cache.h.
func (c *Cache) Hit(channel ChannelID, id uint64, serial uint64) (present, lossy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.hashTable[id]
	if !ok {
		return false, false
	}
	c.lru.MoveToFront(el)
	e := el.Value.(*entry)
	e.sync[channel] = serial
	c.channelSync[channel] = serial
	return true, e.lossy
}

func (c *Cache) SetLossy(id uint64, lossy bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.hashTable[id]
	if !ok {
		return false
	}
	el.Value.(*entry).lossy = lossy
	return true
}

// Add inserts a new entry, evicting LRU-tail entries as needed to stay
// within budget. It fails (returns ok=false, needsSync=true) when the
// caller's known generation is stale — the caller must enqueue a
// pixmap-sync wait and retry once it observes the new generation
// (spec.md §4.5). It also fails (ok=false, needsSync=false) when
// evicting the tail would require evicting an entry the calling
// channel has itself read within its current ack window — the cache
// coherence invariant of spec.md §8's scenario 4 and testable
// properties list.
func (c *Cache) Add(channel ChannelID, channelGeneration uint64, id uint64, size uint32, lossy bool, serial uint64, payload []byte) (ok bool, needsSync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if channelGeneration != c.generation {
		return false, true
	}

	need := int64(size)
	for c.available < need {
		if c.frozen {
			// Eviction is suspended while a migration snapshot is in
			// progress (spec.md §4.5): refuse the add rather than
			// touch the frozen LRU tail.
			return false, false
		}
		tailEl := c.lru.Back()
		if tailEl == nil {
			return false, false
		}
		tail := tailEl.Value.(*entry)
		if tail.sync[channel] == serial && serial != 0 {
			// The evicting channel itself has an in-flight read of
			// the tail entry within this ack window: refusing here is
			// what prevents a concurrent-send coherence race.
			return false, false
		}
		c.evictLocked(tailEl)
	}

	e := &entry{id: id, size: size, lossy: lossy, sync: make(map[ChannelID]uint64, 1), owner: channel}
	e.sync[channel] = serial
	c.channelSync[channel] = serial
	el := c.lru.PushFront(e)
	c.hashTable[id] = el
	c.available -= need
	c.items++
	if c.store != nil && payload != nil {
		c.store.Set(id, payload, int64(len(payload)))
	}
	return true, false
}

// Payload returns the cached byte payload for id, or nil if it was
// never stored or has since been evicted from the byte store (which can
// happen independently of the LRU-ring eviction above, since ristretto
// uses its own admission policy for the underlying bytes).
func (c *Cache) Payload(id uint64) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	return c.store.Get(id)
}

func (c *Cache) evictLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.hashTable, e.id)
	c.available += int64(e.size)
	c.items--
	if c.store != nil {
		c.store.Del(e.id)
	}
	if c.OnEvict != nil {
		c.OnEvict(e.owner, e.id) // evict notice targets the entry's owning subclient
	}
}

// Reset clears the cache, bumps the generation, and returns the
// wait-for-channels list naming every other subclient's last-observed
// serial (spec.md §4.5), mirroring FUNC_NAME(reset).
func (c *Cache) Reset(channel ChannelID, serial uint64) WaitForChannels {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()
	c.generation++
	c.channelSync[channel] = serial

	var waits []ChannelWait
	for ch, s := range c.channelSync {
		if ch != channel && s != 0 {
			waits = append(waits, ChannelWait{Channel: ch, Serial: s})
		}
	}
	return WaitForChannels{Waits: waits}
}

func (c *Cache) clearLocked() {
	if c.frozen {
		c.frozen = false
		c.frozenFront = nil
	}
	c.lru.Init()
	c.hashTable = make(map[uint64]*list.Element)
	c.available = c.maxSize
	c.items = 0
}

// Freeze suspends eviction and remembers the current LRU head, used
// during migration (spec.md §4.5 "freeze: suspends eviction... returns
// the frozen head/tail").
func (c *Cache) Freeze() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return false
	}
	c.frozenFront = c.lru.Front()
	c.frozen = true
	return true
}

// FrozenFront returns the id at the front of the LRU as of the most
// recent Freeze call, the migration snapshot's head entry (spec.md
// §4.5). ok is false if the cache isn't currently frozen.
func (c *Cache) FrozenFront() (id uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.frozen || c.frozenFront == nil {
		return 0, false
	}
	return c.frozenFront.Value.(*entry).id, true
}

func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	if c.store != nil {
		c.store.Close()
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}
