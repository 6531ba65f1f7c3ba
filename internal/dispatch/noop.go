package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NoopDispatcher satisfies Interface without any transport, for tests
// that exercise code calling into a Dispatcher without standing up
// NATS (or any bus). SendAsync invokes onComplete immediately with a
// nil payload rather than leaving it pending forever, so callers that
// wait on the callback don't hang in tests that swap in NoopDispatcher.
type NoopDispatcher struct{}

var _ Interface = NoopDispatcher{}

func (NoopDispatcher) Send(context.Context, string, []byte) error { return nil }

func (NoopDispatcher) Call(context.Context, string, []byte, time.Duration) ([]byte, error) {
	return nil, nil
}

func (NoopDispatcher) SendAsync(_ context.Context, _ string, _ []byte, onComplete func([]byte, error)) (uuid.UUID, error) {
	if onComplete != nil {
		onComplete(nil, nil)
	}
	return uuid.New(), nil
}

func (NoopDispatcher) Complete(uuid.UUID, []byte, error) {}
