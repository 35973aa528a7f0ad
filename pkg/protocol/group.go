package protocol

import (
	"encoding/binary"
	"fmt"
)

// ===== GROUP INVITE =====

// GroupInvitePacket invites a peer into a group. The current master
// secret travels sealed to the invitee's public key so membership and
// key material arrive together.
type GroupInvitePacket struct {
	GroupID      GroupID
	Inviter      NodeID
	KeyVersion   uint32
	Name         string // Group display name
	SealedSecret []byte // Master secret sealed to the invitee's key
}

// Encode encodes the group invite body
func (g *GroupInvitePacket) Encode() []byte {
	size := 8 + 20 + 4 + 1 + len(g.Name) + 2 + len(g.SealedSecret)
	buf := make([]byte, size)
	offset := 0

	copy(buf[offset:], g.GroupID[:])
	offset += 8

	copy(buf[offset:], g.Inviter[:])
	offset += 20

	binary.BigEndian.PutUint32(buf[offset:], g.KeyVersion)
	offset += 4

	buf[offset] = uint8(len(g.Name))
	offset++

	copy(buf[offset:], g.Name)
	offset += len(g.Name)

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(g.SealedSecret)))
	offset += 2

	copy(buf[offset:], g.SealedSecret)

	return buf
}

// Decode decodes the group invite body
func (g *GroupInvitePacket) Decode(buf []byte) error {
	if len(buf) < 35 {
		return fmt.Errorf("buffer too short for group invite")
	}

	offset := 0

	copy(g.GroupID[:], buf[offset:offset+8])
	offset += 8

	copy(g.Inviter[:], buf[offset:offset+20])
	offset += 20

	g.KeyVersion = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	nameLen := int(buf[offset])
	offset++

	if len(buf) < offset+nameLen+2 {
		return fmt.Errorf("buffer too short for group name")
	}

	g.Name = string(buf[offset : offset+nameLen])
	offset += nameLen

	sealedLen := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	if len(buf) < offset+int(sealedLen) {
		return fmt.Errorf("buffer too short for sealed secret")
	}

	g.SealedSecret = make([]byte, sealedLen)
	copy(g.SealedSecret, buf[offset:offset+int(sealedLen)])

	return nil
}

// ===== GROUP INVITE ACCEPT =====

// GroupInviteAcceptPacket confirms an invite. It carries the accepting
// member's public key so the inviter can seal future rotations to it.
type GroupInviteAcceptPacket struct {
	GroupID GroupID
	Member  NodeID
	PubKey  [32]byte // Member's X25519 public key
}

// Encode encodes the invite accept body
func (g *GroupInviteAcceptPacket) Encode() []byte {
	buf := make([]byte, 8+20+32)
	offset := 0

	copy(buf[offset:], g.GroupID[:])
	offset += 8

	copy(buf[offset:], g.Member[:])
	offset += 20

	copy(buf[offset:], g.PubKey[:])

	return buf
}

// Decode decodes the invite accept body
func (g *GroupInviteAcceptPacket) Decode(buf []byte) error {
	if len(buf) < 60 {
		return fmt.Errorf("buffer too short for invite accept")
	}

	offset := 0

	copy(g.GroupID[:], buf[offset:offset+8])
	offset += 8

	copy(g.Member[:], buf[offset:offset+20])
	offset += 20

	copy(g.PubKey[:], buf[offset:offset+32])

	return nil
}

// ===== GROUP KEY UPDATE =====

// GroupKeyUpdatePacket distributes a rotated master secret to one
// member, sealed to that member's public key
type GroupKeyUpdatePacket struct {
	GroupID      GroupID
	KeyVersion   uint32
	SealedSecret []byte
}

// Encode encodes the key update body
func (g *GroupKeyUpdatePacket) Encode() []byte {
	buf := make([]byte, 8+4+2+len(g.SealedSecret))
	offset := 0

	copy(buf[offset:], g.GroupID[:])
	offset += 8

	binary.BigEndian.PutUint32(buf[offset:], g.KeyVersion)
	offset += 4

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(g.SealedSecret)))
	offset += 2

	copy(buf[offset:], g.SealedSecret)

	return buf
}

// Decode decodes the key update body
func (g *GroupKeyUpdatePacket) Decode(buf []byte) error {
	if len(buf) < 14 {
		return fmt.Errorf("buffer too short for key update")
	}

	offset := 0

	copy(g.GroupID[:], buf[offset:offset+8])
	offset += 8

	g.KeyVersion = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	sealedLen := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	if len(buf) < offset+int(sealedLen) {
		return fmt.Errorf("buffer too short for sealed secret")
	}

	g.SealedSecret = make([]byte, sealedLen)
	copy(g.SealedSecret, buf[offset:offset+int(sealedLen)])

	return nil
}

// ===== GROUP TEXT =====

// GroupTextPacket carries group chat text encrypted under the
// version-bound group key. Ciphertext includes the GCM nonce prefix.
type GroupTextPacket struct {
	GroupID    GroupID
	Sender     NodeID
	KeyVersion uint32
	Ciphertext []byte // nonce || ciphertext
}

// Encode encodes the group text body
func (g *GroupTextPacket) Encode() []byte {
	buf := make([]byte, 8+20+4+2+len(g.Ciphertext))
	offset := 0

	copy(buf[offset:], g.GroupID[:])
	offset += 8

	copy(buf[offset:], g.Sender[:])
	offset += 20

	binary.BigEndian.PutUint32(buf[offset:], g.KeyVersion)
	offset += 4

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(g.Ciphertext)))
	offset += 2

	copy(buf[offset:], g.Ciphertext)

	return buf
}

// Decode decodes the group text body
func (g *GroupTextPacket) Decode(buf []byte) error {
	if len(buf) < 34 {
		return fmt.Errorf("buffer too short for group text")
	}

	offset := 0

	copy(g.GroupID[:], buf[offset:offset+8])
	offset += 8

	copy(g.Sender[:], buf[offset:offset+20])
	offset += 20

	g.KeyVersion = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	cipherLen := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	if len(buf) < offset+int(cipherLen) {
		return fmt.Errorf("buffer too short for ciphertext")
	}

	g.Ciphertext = make([]byte, cipherLen)
	copy(g.Ciphertext, buf[offset:offset+int(cipherLen)])

	return nil
}

// ===== GROUP UPDATE =====

// GroupUpdatePacket announces a membership change to the group.
// Key material travels separately in GroupKeyUpdate packets.
type GroupUpdatePacket struct {
	GroupID    GroupID
	UpdateType uint8  // GroupMemberAdded, GroupMemberRemoved, ...
	Subject    NodeID // Member the update is about
	KeyVersion uint32 // Version in force after this change
}

// Encode encodes the group update body
func (g *GroupUpdatePacket) Encode() []byte {
	buf := make([]byte, 8+1+20+4)
	offset := 0

	copy(buf[offset:], g.GroupID[:])
	offset += 8

	buf[offset] = g.UpdateType
	offset++

	copy(buf[offset:], g.Subject[:])
	offset += 20

	binary.BigEndian.PutUint32(buf[offset:], g.KeyVersion)

	return buf
}

// Decode decodes the group update body
func (g *GroupUpdatePacket) Decode(buf []byte) error {
	if len(buf) < 33 {
		return fmt.Errorf("buffer too short for group update")
	}

	offset := 0

	copy(g.GroupID[:], buf[offset:offset+8])
	offset += 8

	g.UpdateType = buf[offset]
	offset++

	copy(g.Subject[:], buf[offset:offset+20])
	offset += 20

	g.KeyVersion = binary.BigEndian.Uint32(buf[offset:])

	return nil
}
