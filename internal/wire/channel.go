package wire

import "context"

// Channel is the transport-agnostic display-channel connection:
// whatever carries framed Messages to and from one connected client.
// internal/pipe's Sender implementations wrap a Channel to push queued
// items out; internal/dispatch's Transport wraps a Channel's sibling
// control connection for request/reply traffic.
type Channel interface {
	WriteMessage(ctx context.Context, msg Message) error
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}
