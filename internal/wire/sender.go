package wire

import (
	"context"
	"fmt"

	"github.com/spicectl/displaycore/internal/pipe"
)

// PipeSender adapts a Channel into a pipe.Sender, translating a queued
// pipe.Item into the wire Message type its Kind corresponds to. Encode
// builds the actual payload bytes for draw/image/stream-data items
// from the item's Payload (the caller wires this to the compression
// and tree layers; PipeSender itself only owns framing).
type PipeSender struct {
	Channel Channel
	Encode  func(it *pipe.Item) (Message, error)
}

var _ pipe.Sender = (*PipeSender)(nil)

func (s *PipeSender) Send(ctx context.Context, it *pipe.Item) error {
	if s.Encode == nil {
		return fmt.Errorf("wire: PipeSender has no Encode function")
	}
	msg, err := s.Encode(it)
	if err != nil {
		return fmt.Errorf("wire: encode pipe item: %w", err)
	}
	return s.Channel.WriteMessage(ctx, msg)
}
