package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

// Protocol constants
const (
	// Protocol version
	ProtocolVersion uint8 = 0x01

	// Header size
	HeaderSize = 20
)

// Packet types
const (
	// Messaging (0x0x)
	TypeText     uint8 = 0x01
	TypeAck      uint8 = 0x02
	TypeTyping   uint8 = 0x03
	TypeReaction uint8 = 0x04
	TypeDelete   uint8 = 0x05
	TypeEdit     uint8 = 0x06

	// Groups (0x1x)
	TypeGroupInvite       uint8 = 0x10
	TypeGroupInviteAccept uint8 = 0x11
	TypeGroupKeyUpdate    uint8 = 0x12
	TypeGroupText         uint8 = 0x13
	TypeGroupUpdate       uint8 = 0x14

	// File transfer (0x2x)
	TypeFileMeta     uint8 = 0x20
	TypeFileChunk    uint8 = 0x21
	TypeFileChunkAck uint8 = 0x22
	TypeFileResume   uint8 = 0x23
	TypeFileCancel   uint8 = 0x24
	TypeFileDone     uint8 = 0x25
)

// Flags
const (
	FlagEncrypted   uint8 = 0x01 // Payload is encrypted
	FlagRequiresAck uint8 = 0x02 // Requires acknowledgment
	FlagPadded      uint8 = 0x04 // Payload has padding (traffic analysis resistance)
	FlagBroadcast   uint8 = 0x08 // Part of a group fan-out
)

// Ack statuses
const (
	AckDelivered uint8 = 0
	AckRead      uint8 = 1
)

// Group update types
const (
	GroupMemberAdded   uint8 = 0x01
	GroupMemberRemoved uint8 = 0x02
	GroupMemberLeft    uint8 = 0x03
	GroupAdminPromoted uint8 = 0x04
	GroupAdminDemoted  uint8 = 0x05
)

// File done statuses
const (
	FileDoneOK           uint8 = 0
	FileDoneHashMismatch uint8 = 1
)

var ErrInvalidID = errors.New("invalid identifier")

// MessageID identifies a message across its lifecycle and retransmissions (8 bytes)
type MessageID [8]byte

// NodeID identifies a peer; assigned by the host/transport layer (20 bytes)
type NodeID [20]byte

// GroupID identifies a group (8 bytes)
type GroupID [8]byte

// FileID identifies a file transfer (8 bytes)
type FileID [8]byte

// Hash represents a BLAKE2b-256 digest (32 bytes)
type Hash [32]byte

// ===== ID HELPERS =====

// NewMessageID generates a random message ID
func NewMessageID() MessageID {
	var id MessageID
	fillRandom(id[:])
	return id
}

// NewGroupID generates a random group ID
func NewGroupID() GroupID {
	var id GroupID
	fillRandom(id[:])
	return id
}

// NewFileID generates a random file ID
func NewFileID() FileID {
	var id FileID
	fillRandom(id[:])
	return id
}

// fillRandom fills buf from crypto/rand with a timestamp-based fallback.
// Leaving zeros would collide; the fallback is still effectively unique.
func fillRandom(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		ts := uint64(time.Now().UnixNano())
		for i := 0; i < len(buf); i += 8 {
			end := i + 8
			if end > len(buf) {
				end = len(buf)
			}
			var chunk [8]byte
			binary.BigEndian.PutUint64(chunk[:], ts^(0xDEADBEEF+uint64(i)))
			copy(buf[i:end], chunk[:end-i])
		}
	}
}

func (id MessageID) String() string { return hex.EncodeToString(id[:]) }
func (id NodeID) String() string    { return hex.EncodeToString(id[:]) }
func (id GroupID) String() string   { return hex.EncodeToString(id[:]) }
func (id FileID) String() string    { return hex.EncodeToString(id[:]) }
func (h Hash) String() string       { return hex.EncodeToString(h[:]) }

// ParseMessageID parses a hex-encoded message ID
func ParseMessageID(s string) (MessageID, error) {
	var id MessageID
	if err := parseHexID(s, id[:]); err != nil {
		return MessageID{}, err
	}
	return id, nil
}

// ParseNodeID parses a hex-encoded node ID
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	if err := parseHexID(s, id[:]); err != nil {
		return NodeID{}, err
	}
	return id, nil
}

// ParseFileID parses a hex-encoded file ID
func ParseFileID(s string) (FileID, error) {
	var id FileID
	if err := parseHexID(s, id[:]); err != nil {
		return FileID{}, err
	}
	return id, nil
}

// ParseGroupID parses a hex-encoded group ID
func ParseGroupID(s string) (GroupID, error) {
	var id GroupID
	if err := parseHexID(s, id[:]); err != nil {
		return GroupID{}, err
	}
	return id, nil
}

func parseHexID(s string, dst []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(dst) {
		return ErrInvalidID
	}
	copy(dst, raw)
	return nil
}

// IsZeroNodeID checks if a node ID is zero
func IsZeroNodeID(id NodeID) bool {
	zero := NodeID{}
	return id == zero
}

// KnownType reports whether t is a packet type this protocol version defines
func KnownType(t uint8) bool {
	switch t {
	case TypeText, TypeAck, TypeTyping, TypeReaction, TypeDelete, TypeEdit,
		TypeGroupInvite, TypeGroupInviteAccept, TypeGroupKeyUpdate, TypeGroupText, TypeGroupUpdate,
		TypeFileMeta, TypeFileChunk, TypeFileChunkAck, TypeFileResume, TypeFileCancel, TypeFileDone:
		return true
	}
	return false
}

// NowUnixMilli returns current time in Unix milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
