package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrInvalidVersion = errors.New("unsupported protocol version")
	ErrInvalidType    = errors.New("unknown packet type")
	ErrInvalidHeader  = errors.New("invalid header")
)

// Header is the fixed 20-byte prefix every packet carries
type Header struct {
	Version   uint8     // Protocol version
	Type      uint8     // Packet type
	Flags     uint8     // Feature flags
	Reserved  uint8     // Reserved for future use
	Timestamp uint64    // Send time, Unix milliseconds
	MsgID     MessageID // Unique packet ID
}

// NewHeader creates a header for the given packet type with a fresh
// message ID and the current timestamp
func NewHeader(pktType uint8) *Header {
	return &Header{
		Version:   ProtocolVersion,
		Type:      pktType,
		Timestamp: uint64(NowUnixMilli()),
		MsgID:     NewMessageID(),
	}
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	buf[0] = h.Version
	buf[1] = h.Type
	buf[2] = h.Flags
	buf[3] = h.Reserved
	binary.BigEndian.PutUint64(buf[4:12], h.Timestamp)
	copy(buf[12:20], h.MsgID[:])

	return buf
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Version = buf[0]
	h.Type = buf[1]
	h.Flags = buf[2]
	h.Reserved = buf[3]
	h.Timestamp = binary.BigEndian.Uint64(buf[4:12])
	copy(h.MsgID[:], buf[12:20])

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}

	if !KnownType(h.Type) {
		return ErrInvalidType
	}

	return nil
}

// HasFlag checks if a flag is set
func (h *Header) HasFlag(flag uint8) bool {
	return (h.Flags & flag) != 0
}

// SetFlag sets a flag
func (h *Header) SetFlag(flag uint8) {
	h.Flags |= flag
}

// ClearFlag clears a flag
func (h *Header) ClearFlag(flag uint8) {
	h.Flags &^= flag
}

// ReadHeader reads and validates a header from an io.Reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	header := &Header{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}

	if err := header.Validate(); err != nil {
		return nil, err
	}

	return header, nil
}

// WriteHeader writes a header to an io.Writer
func WriteHeader(w io.Writer, h *Header) error {
	buf := h.Encode()
	_, err := w.Write(buf)
	return err
}
