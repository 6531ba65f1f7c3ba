// Package wire implements the display channel's on-wire message
// framing: a legacy per-message header carrying a serial number and
// sub-message-list offset, a leaner mini-header for channels that
// don't need either, and a transport-agnostic Channel abstraction with
// a github.com/gorilla/websocket implementation.
//
// The header read/write shape (binary.Write/Read against a fixed
// little-endian struct; these headers carry no magic value to check on
// read) is grounded on
// api/pkg/drm/protocol.go's helixMsgHeader framing for the scanout
// export protocol — the same "fixed header struct describes what
// follows" idiom, generalized to the display channel's own fields.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Header is the legacy per-message header (spec.md's wire framing):
// Serial orders messages for ack/resend bookkeeping, SubListOffset
// points past the payload at an optional sub-message list (0 when
// absent).
type Header struct {
	Serial        uint64
	Type          uint16
	Size          uint32
	SubListOffset uint32
}

const HeaderSize = 8 + 2 + 4 + 4 // 18 bytes

func WriteHeader(w io.Writer, h Header) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	return nil
}

func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("wire: read header: %w", err)
	}
	return h, nil
}

// MiniHeader is the reduced header mini (sub-)channels use: no serial,
// no sub-message list, just type and size.
type MiniHeader struct {
	Type uint16
	Size uint32
}

const MiniHeaderSize = 2 + 4 // 6 bytes

func WriteMiniHeader(w io.Writer, h MiniHeader) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("wire: write mini header: %w", err)
	}
	return nil
}

func ReadMiniHeader(r io.Reader) (MiniHeader, error) {
	var h MiniHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return MiniHeader{}, fmt.Errorf("wire: read mini header: %w", err)
	}
	return h, nil
}
