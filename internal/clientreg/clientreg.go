// Package clientreg tracks each connected client's live wire.Channel
// and tolerates brief disconnects: a client that drops and reconnects
// within a grace period gets its existing pipe and surfaces back
// instead of the worker tearing them down immediately, since rebuilding
// a client's whole pixmap/palette cache state after every blip would
// be far more expensive than just waiting.
//
// Adapted from api/pkg/connman.ConnectionManager's
// reconnect-grace-period/pending-waiter mechanism for revdial
// connections, generalized here to the display channel's wire.Channel
// instead of a raw net.Conn and its revdial sub-dialer. The dialer
// indirection itself is dropped (a display client's channel is already
// a live, directly-usable connection once Set is called — there's
// nothing equivalent to dial further), while the grace-period
// bookkeeping, pending-waiter wakeup, and cleanup-loop shape are kept.
package clientreg

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spicectl/displaycore/internal/wire"
)

var (
	ErrNoChannel        = errors.New("clientreg: no channel for client")
	ErrReconnectTimeout = errors.New("clientreg: reconnect grace period expired")
)

const (
	DefaultGracePeriod = 30 * time.Second
	CleanupInterval    = 5 * time.Second
)

type waiter struct {
	ready chan struct{}
}

// Registry tracks one wire.Channel per connected client, keyed by
// client ID, tolerating disconnects within GracePeriod.
type Registry struct {
	log *slog.Logger

	mu             sync.RWMutex
	channels       map[uint32]wire.Channel
	disconnectedAt map[uint32]time.Time
	waiters        map[uint32][]*waiter
	gracePeriod    time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}

	// OnConnect is invoked after Set registers id's channel, outside
	// the registry's own lock. The worker entrypoint uses this to spin
	// up that client's outbound pipeline (pipe.Pipe, lossy tracker,
	// buffer pool) the first time it connects.
	OnConnect func(id uint32, ch wire.Channel)

	// OnRemove is invoked after Remove drops id for good (as opposed
	// to OnDisconnect's grace-period pause), so the caller can tear
	// down that client's outbound pipeline.
	OnRemove func(id uint32)
}

func New(log *slog.Logger, gracePeriod time.Duration) *Registry {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	r := &Registry{
		log:            log,
		channels:       make(map[uint32]wire.Channel),
		disconnectedAt: make(map[uint32]time.Time),
		waiters:        make(map[uint32][]*waiter),
		gracePeriod:    gracePeriod,
		stopCh:         make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) cleanupLoop() {
	t := time.NewTicker(CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.cleanupExpired()
		}
	}
}

func (r *Registry) cleanupExpired() {
	r.mu.Lock()
	now := time.Now()
	var expired []uint32
	for id, at := range r.disconnectedAt {
		if now.Sub(at) <= r.gracePeriod {
			continue
		}
		r.log.Info("client grace period expired", "client", id)
		for _, w := range r.waiters[id] {
			close(w.ready)
		}
		delete(r.waiters, id)
		delete(r.disconnectedAt, id)
		expired = append(expired, id)
	}
	r.mu.Unlock()

	if r.OnRemove != nil {
		for _, id := range expired {
			r.OnRemove(id)
		}
	}
}

// Set registers (or re-registers) ch as the live channel for client
// id, waking up anyone blocked in Await for it.
func (r *Registry) Set(id uint32, ch wire.Channel) {
	r.mu.Lock()
	_, wasConnected := r.channels[id]
	_, wasDisconnected := r.disconnectedAt[id]
	if wasDisconnected {
		r.log.Info("client reconnected within grace period", "client", id, "grace_elapsed", time.Since(r.disconnectedAt[id]))
		delete(r.disconnectedAt, id)
	}
	r.channels[id] = ch
	for _, w := range r.waiters[id] {
		close(w.ready)
	}
	delete(r.waiters, id)
	r.mu.Unlock()

	// A brand-new client (never connected, never in its grace period)
	// needs a fresh outbound pipeline; a reconnect within the grace
	// period keeps the one it already had.
	if !wasConnected && !wasDisconnected && r.OnConnect != nil {
		r.OnConnect(id, ch)
	}
}

// OnDisconnect starts id's grace period instead of removing it outright.
func (r *Registry) OnDisconnect(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return
	}
	r.log.Info("client disconnected, starting grace period", "client", id, "grace_period", r.gracePeriod)
	delete(r.channels, id)
	r.disconnectedAt[id] = time.Now()
}

// Remove immediately drops id, waking any pending Await calls, which
// then return ErrReconnectTimeout.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	for _, w := range r.waiters[id] {
		close(w.ready)
	}
	delete(r.waiters, id)
	delete(r.disconnectedAt, id)
	delete(r.channels, id)
	r.mu.Unlock()

	if r.OnRemove != nil {
		r.OnRemove(id)
	}
}

// Channel returns id's current channel, if connected right now.
func (r *Registry) Channel(id uint32) (wire.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Await blocks until id has a live channel, the grace period for a
// disconnected id expires, or ctx is cancelled — letting a pipe writer
// pause rather than discard queued work across a brief reconnect.
func (r *Registry) Await(ctx context.Context, id uint32) (wire.Channel, error) {
	r.mu.RLock()
	if ch, ok := r.channels[id]; ok {
		r.mu.RUnlock()
		return ch, nil
	}
	at, disconnected := r.disconnectedAt[id]
	r.mu.RUnlock()
	if !disconnected || time.Since(at) > r.gracePeriod {
		return nil, ErrNoChannel
	}

	w := &waiter{ready: make(chan struct{})}
	r.mu.Lock()
	if ch, ok := r.channels[id]; ok {
		r.mu.Unlock()
		return ch, nil
	}
	at, disconnected = r.disconnectedAt[id]
	if !disconnected {
		r.mu.Unlock()
		return nil, ErrNoChannel
	}
	if time.Since(at) > r.gracePeriod {
		r.mu.Unlock()
		return nil, ErrReconnectTimeout
	}
	r.waiters[id] = append(r.waiters[id], w)
	r.mu.Unlock()

	select {
	case <-w.ready:
		r.mu.RLock()
		ch, ok := r.channels[id]
		r.mu.RUnlock()
		if !ok {
			return nil, ErrReconnectTimeout
		}
		return ch, nil
	case <-ctx.Done():
		r.removeWaiter(id, w)
		return nil, ctx.Err()
	}
}

func (r *Registry) removeWaiter(id uint32, w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := r.waiters[id]
	for i, x := range ws {
		if x == w {
			r.waiters[id] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(r.waiters[id]) == 0 {
		delete(r.waiters, id)
	}
}

// Stats reports the registry's current bookkeeping, for admin/CLI
// inspection.
type Stats struct {
	ActiveClients      int
	GracePeriodEntries int
	PendingAwaits      int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pending := 0
	for _, ws := range r.waiters {
		pending += len(ws)
	}
	return Stats{
		ActiveClients:      len(r.channels),
		GracePeriodEntries: len(r.disconnectedAt),
		PendingAwaits:      pending,
	}
}
