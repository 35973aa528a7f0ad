package protocol

import (
	"encoding/binary"
	"fmt"
)

// Packet is a complete wire unit: header plus type-specific body
type Packet struct {
	Header *Header
	Body   []byte
}

// NewPacket creates a packet of the given type around an encoded body
func NewPacket(pktType uint8, body []byte) *Packet {
	return &Packet{
		Header: NewHeader(pktType),
		Body:   body,
	}
}

// Encode serializes header and body into one buffer
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Body))
	copy(buf, p.Header.Encode())
	copy(buf[HeaderSize:], p.Body)
	return buf
}

// DecodePacket splits a raw buffer into a validated header and its body
func DecodePacket(buf []byte) (*Packet, error) {
	header := &Header{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}

	if err := header.Validate(); err != nil {
		return nil, err
	}

	return &Packet{
		Header: header,
		Body:   buf[HeaderSize:],
	}, nil
}

// ===== TEXT =====

// TextPacket carries a chat text, optionally replying to a prior message
type TextPacket struct {
	Text     string    // UTF-8 text
	HasReply bool      // Whether ReplyTo is set
	ReplyTo  MessageID // Message being replied to
}

// Encode encodes the text packet body
func (t *TextPacket) Encode() []byte {
	size := 2 + len(t.Text) + 1
	if t.HasReply {
		size += 8
	}
	buf := make([]byte, size)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(t.Text)))
	offset += 2

	copy(buf[offset:], t.Text)
	offset += len(t.Text)

	if t.HasReply {
		buf[offset] = 1
		offset++
		copy(buf[offset:], t.ReplyTo[:])
	} else {
		buf[offset] = 0
	}

	return buf
}

// Decode decodes the text packet body
func (t *TextPacket) Decode(buf []byte) error {
	if len(buf) < 3 {
		return fmt.Errorf("buffer too short for text packet")
	}

	offset := 0

	textLen := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	if len(buf) < offset+int(textLen)+1 {
		return fmt.Errorf("buffer too short for text content")
	}

	t.Text = string(buf[offset : offset+int(textLen)])
	offset += int(textLen)

	t.HasReply = buf[offset] == 1
	offset++

	if t.HasReply {
		if len(buf) < offset+8 {
			return fmt.Errorf("buffer too short for reply id")
		}
		copy(t.ReplyTo[:], buf[offset:offset+8])
	}

	return nil
}

// ===== ACK =====

// AckPacket acknowledges delivery or read of a prior message
type AckPacket struct {
	AckMsgID MessageID // Message being acknowledged
	Status   uint8     // AckDelivered or AckRead
}

// Encode encodes the ack packet body
func (a *AckPacket) Encode() []byte {
	buf := make([]byte, 8+1)
	copy(buf[0:8], a.AckMsgID[:])
	buf[8] = a.Status
	return buf
}

// Decode decodes the ack packet body
func (a *AckPacket) Decode(buf []byte) error {
	if len(buf) < 9 {
		return fmt.Errorf("buffer too short for ack packet")
	}

	copy(a.AckMsgID[:], buf[0:8])
	a.Status = buf[8]

	return nil
}

// ===== TYPING =====

// TypingPacket signals typing started or stopped
type TypingPacket struct {
	IsTyping bool
}

// Encode encodes the typing packet body
func (t *TypingPacket) Encode() []byte {
	buf := make([]byte, 1)
	if t.IsTyping {
		buf[0] = 1
	}
	return buf
}

// Decode decodes the typing packet body
func (t *TypingPacket) Decode(buf []byte) error {
	if len(buf) < 1 {
		return fmt.Errorf("buffer too short for typing packet")
	}

	t.IsTyping = buf[0] == 1

	return nil
}

// ===== REACTION =====

// ReactionPacket adds or removes a reaction on a prior message
type ReactionPacket struct {
	TargetID MessageID // Message being reacted to
	Remove   bool      // True removes the reaction
	Reaction string    // Short UTF-8 reaction (emoji)
}

// Encode encodes the reaction packet body
func (r *ReactionPacket) Encode() []byte {
	buf := make([]byte, 8+1+1+len(r.Reaction))
	offset := 0

	copy(buf[offset:], r.TargetID[:])
	offset += 8

	if r.Remove {
		buf[offset] = 1
	}
	offset++

	buf[offset] = uint8(len(r.Reaction))
	offset++

	copy(buf[offset:], r.Reaction)

	return buf
}

// Decode decodes the reaction packet body
func (r *ReactionPacket) Decode(buf []byte) error {
	if len(buf) < 10 {
		return fmt.Errorf("buffer too short for reaction packet")
	}

	offset := 0

	copy(r.TargetID[:], buf[offset:offset+8])
	offset += 8

	r.Remove = buf[offset] == 1
	offset++

	reactionLen := int(buf[offset])
	offset++

	if len(buf) < offset+reactionLen {
		return fmt.Errorf("buffer too short for reaction content")
	}

	r.Reaction = string(buf[offset : offset+reactionLen])

	return nil
}

// ===== DELETE =====

// DeletePacket requests deletion of a prior message
type DeletePacket struct {
	TargetID MessageID // Message to delete
}

// Encode encodes the delete packet body
func (d *DeletePacket) Encode() []byte {
	buf := make([]byte, 8)
	copy(buf, d.TargetID[:])
	return buf
}

// Decode decodes the delete packet body
func (d *DeletePacket) Decode(buf []byte) error {
	if len(buf) < 8 {
		return fmt.Errorf("buffer too short for delete packet")
	}

	copy(d.TargetID[:], buf[0:8])

	return nil
}

// ===== EDIT =====

// EditPacket replaces the text of a prior message
type EditPacket struct {
	TargetID MessageID // Message to edit
	NewText  string    // Replacement UTF-8 text
}

// Encode encodes the edit packet body
func (e *EditPacket) Encode() []byte {
	buf := make([]byte, 8+2+len(e.NewText))
	offset := 0

	copy(buf[offset:], e.TargetID[:])
	offset += 8

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(e.NewText)))
	offset += 2

	copy(buf[offset:], e.NewText)

	return buf
}

// Decode decodes the edit packet body
func (e *EditPacket) Decode(buf []byte) error {
	if len(buf) < 10 {
		return fmt.Errorf("buffer too short for edit packet")
	}

	offset := 0

	copy(e.TargetID[:], buf[offset:offset+8])
	offset += 8

	textLen := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	if len(buf) < offset+int(textLen) {
		return fmt.Errorf("buffer too short for edit text")
	}

	e.NewText = string(buf[offset : offset+int(textLen)])

	return nil
}
