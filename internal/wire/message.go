package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType names a display-channel wire message.
type MessageType uint16

const (
	MsgDrawFill MessageType = iota + 1
	MsgDrawCopy
	MsgDrawBlend
	MsgStreamCreate
	MsgStreamData
	MsgStreamDestroy
	MsgSurfaceCreate
	MsgSurfaceDestroy
	MsgInvalOne
	MsgInvalAll
	MsgWaitForChannels
	MsgAck
	MsgMigrate
)

// Message is one framed wire message: a Header plus its raw payload
// bytes. Payload's structure is determined entirely by Type, mirroring
// the discriminated-union shape of SPICE's SpiceImage on the wire.
type Message struct {
	Header  Header
	Payload []byte
}

// Marshal serializes msg as [Header][Payload], setting Header.Size from
// len(Payload) regardless of whatever the caller had there.
func (m Message) Marshal() ([]byte, error) {
	m.Header.Size = uint32(len(m.Payload))
	var buf bytes.Buffer
	if err := WriteHeader(&buf, m.Header); err != nil {
		return nil, err
	}
	buf.Write(m.Payload)
	return buf.Bytes(), nil
}

// Unmarshal parses a single [Header][Payload] frame from data.
func Unmarshal(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	h, err := ReadHeader(r)
	if err != nil {
		return Message{}, err
	}
	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("wire: short payload (want %d): %w", h.Size, err)
	}
	return Message{Header: h, Payload: payload}, nil
}

// ImageFormat discriminates ImageDescriptor's payload, mirroring
// SpiceImage's descriptor/type split (original_source's image
// encoding headers): which of the format-specific fields apply is
// determined entirely by this tag, not by the presence of the other
// fields.
type ImageFormat uint8

const (
	ImageFormatBitmap ImageFormat = iota
	ImageFormatQuic
	ImageFormatLZ
	ImageFormatGLZ
	ImageFormatZlibGLZ
	ImageFormatJPEG
)

// ImageDescriptor is the wire encoding of one compressed or raw image
// reference, addressable by ID for cache hit/miss negotiation
// (spec.md §4.6).
type ImageDescriptor struct {
	ID     uint64
	Format ImageFormat
	Width  uint32
	Height uint32
	Stride uint32
	// Payload is the format-specific encoded body: raw pixels for
	// ImageFormatBitmap, a compress.Result.Data for everything else.
	Payload []byte
}

const imageDescriptorFixedSize = 8 + 1 + 4 + 4 + 4 + 4 // ID + Format + W + H + Stride + payload length

func EncodeImage(w io.Writer, img ImageDescriptor) error {
	if err := binary.Write(w, binary.LittleEndian, img.ID); err != nil {
		return fmt.Errorf("wire: encode image id: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, img.Format); err != nil {
		return fmt.Errorf("wire: encode image format: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, [3]uint32{img.Width, img.Height, img.Stride}); err != nil {
		return fmt.Errorf("wire: encode image dims: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(img.Payload))); err != nil {
		return fmt.Errorf("wire: encode image payload length: %w", err)
	}
	if _, err := w.Write(img.Payload); err != nil {
		return fmt.Errorf("wire: encode image payload: %w", err)
	}
	return nil
}

func DecodeImage(r io.Reader) (ImageDescriptor, error) {
	var img ImageDescriptor
	if err := binary.Read(r, binary.LittleEndian, &img.ID); err != nil {
		return ImageDescriptor{}, fmt.Errorf("wire: decode image id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &img.Format); err != nil {
		return ImageDescriptor{}, fmt.Errorf("wire: decode image format: %w", err)
	}
	var dims [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return ImageDescriptor{}, fmt.Errorf("wire: decode image dims: %w", err)
	}
	img.Width, img.Height, img.Stride = dims[0], dims[1], dims[2]
	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return ImageDescriptor{}, fmt.Errorf("wire: decode image payload length: %w", err)
	}
	img.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, img.Payload); err != nil {
		return ImageDescriptor{}, fmt.Errorf("wire: decode image payload: %w", err)
	}
	return img, nil
}
