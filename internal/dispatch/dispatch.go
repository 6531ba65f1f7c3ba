// Package dispatch implements the display worker's outward RPC
// surface: synchronous calls that block for a reply, fire-and-forget
// messages, and cookie-keyed async completions for calls whose reply
// shouldn't block the caller's own goroutine.
//
// Grounded on two sources: the sync/async split itself mirrors
// original_source/server/red_dispatcher.h's
// red_dispatcher_async_complete(dispatcher, cookie) — a uint64 cookie
// ties a later completion back to the call that started it, same
// shape as this package's uuid.UUID cookie. The transport surface
// (Publish/PublishWithHeader/Request) is grounded on
// api/pkg/pubsub.Publisher and PubSub's interfaces, which already split
// fire-and-forget Publish from a blocking, timeout-bounded Request.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CookieHeader is the transport header key an async call's cookie
// travels under, so a reply observed on the wire can be matched back
// to its pending completion.
const CookieHeader = "dispatch-cookie"

// Transport is the narrow messaging surface a Dispatcher needs; an
// adapter over api/pkg/pubsub.PubSub (or any other bus) satisfies it
// directly since the method shapes are copied from that interface.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	PublishWithHeader(ctx context.Context, topic string, header map[string]string, payload []byte) error
	Request(ctx context.Context, subject string, header map[string]string, payload []byte, timeout time.Duration) ([]byte, error)
}

// Interface is what callers depend on, so NoopDispatcher can stand in
// for tests without a real Transport.
type Interface interface {
	Send(ctx context.Context, topic string, payload []byte) error
	Call(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error)
	SendAsync(ctx context.Context, topic string, payload []byte, onComplete func(payload []byte, err error)) (uuid.UUID, error)
	Complete(cookie uuid.UUID, payload []byte, err error)
}

var _ Interface = (*Dispatcher)(nil)

// Dispatcher is the default Transport-backed Interface implementation.
type Dispatcher struct {
	transport Transport

	mu      sync.Mutex
	pending map[uuid.UUID]func(payload []byte, err error)
}

func New(t Transport) *Dispatcher {
	return &Dispatcher{
		transport: t,
		pending:   make(map[uuid.UUID]func(payload []byte, err error)),
	}
}

// Send dispatches a fire-and-forget message with no reply expected
// (e.g. a stream-data frame, an inval, anything the client side
// doesn't need to ack at the dispatch layer).
func (d *Dispatcher) Send(ctx context.Context, topic string, payload []byte) error {
	return d.transport.Publish(ctx, topic, payload)
}

// Call performs a synchronous round trip, blocking the caller for up
// to timeout for the reply (e.g. a client capability query the worker
// genuinely needs an answer to before proceeding).
func (d *Dispatcher) Call(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	return d.transport.Request(ctx, subject, nil, payload, timeout)
}

// SendAsync dispatches payload tagged with a freshly minted cookie and
// registers onComplete to run whenever Complete is later called with
// that cookie, without blocking the caller (spec.md's async dispatcher
// pattern: a call the worker starts but doesn't want to stall its
// command loop waiting on).
func (d *Dispatcher) SendAsync(ctx context.Context, topic string, payload []byte, onComplete func(payload []byte, err error)) (uuid.UUID, error) {
	cookie := uuid.New()

	d.mu.Lock()
	d.pending[cookie] = onComplete
	d.mu.Unlock()

	header := map[string]string{CookieHeader: cookie.String()}
	if err := d.transport.PublishWithHeader(ctx, topic, header, payload); err != nil {
		d.mu.Lock()
		delete(d.pending, cookie)
		d.mu.Unlock()
		return uuid.Nil, fmt.Errorf("dispatch: publish async %s: %w", topic, err)
	}
	return cookie, nil
}

// Complete resolves the pending SendAsync callback keyed by cookie.
// The transport-side subscription handler calls this once it observes
// a reply addressed to that cookie; an unknown or already-resolved
// cookie is a silent no-op, since a reply for a cancelled or
// disconnected call is expected, not an error.
func (d *Dispatcher) Complete(cookie uuid.UUID, payload []byte, err error) {
	d.mu.Lock()
	cb, ok := d.pending[cookie]
	if ok {
		delete(d.pending, cookie)
	}
	d.mu.Unlock()
	if ok && cb != nil {
		cb(payload, err)
	}
}

// Cancel drops a pending async completion without invoking its
// callback, for when the client that started it has disconnected.
func (d *Dispatcher) Cancel(cookie uuid.UUID) {
	d.mu.Lock()
	delete(d.pending, cookie)
	d.mu.Unlock()
}

// Pending reports how many async calls are awaiting completion.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
