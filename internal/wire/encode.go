package wire

import (
	"bytes"
	"fmt"

	"github.com/spicectl/displaycore/internal/compress"
	"github.com/spicectl/displaycore/internal/pipe"
)

// DrawPayload is what worker.Loop attaches to a pipe.Item's Payload for
// KindDraw and KindStreamData items (the KindImage resend items that
// pipe.LossyTracker queues carry no payload): the already-compressed
// (or raw-fallback) bytes plus the dimensions the client needs to
// decode them (spec.md §2's "message marshalling" step
// of the per-client send pipeline, run once an item reaches the front
// of its pipe).
type DrawPayload struct {
	Compressed compress.Result
	Width      uint32
	Height     uint32
	Stride     uint32
}

var drawItemMsgType = map[pipe.Kind]MessageType{
	pipe.KindDraw:             MsgDrawCopy,
	pipe.KindImage:            MsgDrawCopy,
	pipe.KindStreamCreate:     MsgStreamCreate,
	pipe.KindStreamData:       MsgStreamData,
	pipe.KindUpgrade:          MsgDrawCopy,
	pipe.KindInvalOne:         MsgInvalOne,
	pipe.KindInvalAll:         MsgInvalAll,
	pipe.KindWaitForChannels:  MsgWaitForChannels,
}

var codecImageFormat = map[compress.Codec]ImageFormat{
	compress.CodecRaw:     ImageFormatBitmap,
	compress.CodecQuic:    ImageFormatQuic,
	compress.CodecLZ:      ImageFormatLZ,
	compress.CodecGLZ:     ImageFormatGLZ,
	compress.CodecZlibGLZ: ImageFormatZlibGLZ,
	compress.CodecJPEG:    ImageFormatJPEG,
}

// EncodeDrawItem builds the wire Message for one pipe item: its Kind
// picks the MessageType, and for anything carrying a *DrawPayload the
// compressed image is framed as an ImageDescriptor keyed by the
// drawable's own id (spec.md §4.6's cache hit/miss addressing). Items
// with no payload whose Kind has a message type (the inval and
// wait-for-channels control items) go out with an empty body; KindVerb,
// KindMark and KindInvalPalette have no message type and return an
// error.
func EncodeDrawItem(it *pipe.Item) (Message, error) {
	msgType, ok := drawItemMsgType[it.Kind]
	if !ok {
		return Message{}, fmt.Errorf("wire: unencodable pipe item kind %d", it.Kind)
	}

	var payload []byte
	if dp, ok := it.Payload.(*DrawPayload); ok {
		format, ok := codecImageFormat[dp.Compressed.Codec]
		if !ok {
			return Message{}, fmt.Errorf("wire: unknown codec %v on pipe item", dp.Compressed.Codec)
		}
		desc := ImageDescriptor{
			ID:      it.DrawableID,
			Format:  format,
			Width:   dp.Width,
			Height:  dp.Height,
			Stride:  dp.Stride,
			Payload: dp.Compressed.Data,
		}
		var buf bytes.Buffer
		if err := EncodeImage(&buf, desc); err != nil {
			return Message{}, fmt.Errorf("wire: encode draw item image: %w", err)
		}
		payload = buf.Bytes()
	}

	return Message{
		Header:  Header{Type: uint16(msgType)},
		Payload: payload,
	}, nil
}
