package protocol

import (
	"testing"
)

func TestNewIDsNonZero(t *testing.T) {
	if NewMessageID() == (MessageID{}) {
		t.Error("NewMessageID() produced zero ID")
	}
	if NewGroupID() == (GroupID{}) {
		t.Error("NewGroupID() produced zero ID")
	}
	if NewFileID() == (FileID{}) {
		t.Error("NewFileID() produced zero ID")
	}
}

func TestIDStringLength(t *testing.T) {
	if got := len(NewMessageID().String()); got != 16 {
		t.Errorf("MessageID hex length = %d, want 16", got)
	}
	if got := len(NewFileID().String()); got != 16 {
		t.Errorf("FileID hex length = %d, want 16", got)
	}
	if got := len(testNodeID(1).String()); got != 40 {
		t.Errorf("NodeID hex length = %d, want 40", got)
	}
}

func TestIsZeroNodeID(t *testing.T) {
	if !IsZeroNodeID(NodeID{}) {
		t.Error("IsZeroNodeID(zero) = false")
	}
	if IsZeroNodeID(testNodeID(0x01)) {
		t.Error("IsZeroNodeID(nonzero) = true")
	}
}

func TestKnownType(t *testing.T) {
	known := []uint8{
		TypeText, TypeAck, TypeTyping, TypeReaction, TypeDelete, TypeEdit,
		TypeGroupInvite, TypeGroupInviteAccept, TypeGroupKeyUpdate, TypeGroupText, TypeGroupUpdate,
		TypeFileMeta, TypeFileChunk, TypeFileChunkAck, TypeFileResume, TypeFileCancel, TypeFileDone,
	}
	for _, pt := range known {
		if !KnownType(pt) {
			t.Errorf("KnownType(0x%02x) = false, want true", pt)
		}
	}

	unknown := []uint8{0x00, 0x07, 0x0F, 0x15, 0x26, 0x80, 0xFF}
	for _, pt := range unknown {
		if KnownType(pt) {
			t.Errorf("KnownType(0x%02x) = true, want false", pt)
		}
	}
}

func TestNowUnixMilli(t *testing.T) {
	ms := NowUnixMilli()

	// Sanity: after 2020, before 2100
	if ms < 1577836800000 || ms > 4102444800000 {
		t.Errorf("NowUnixMilli() = %d, outside plausible range", ms)
	}
}
