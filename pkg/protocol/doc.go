// Package protocol implements the cyxchat wire protocol.
//
// The protocol package defines the packet header, identifier types,
// and the binary encoding/decoding of every packet the messaging core
// exchanges with peers. It has no I/O and no state; framing, retries
// and dispatch live in pkg/engine.
//
// # Packet Types
//
// Messaging (0x0x):
//   - Text: chat text with optional reply reference
//   - Ack: delivery/read confirmation for a prior message
//   - Typing: typing indicator on/off
//   - Reaction: add/remove an emoji reaction
//   - Delete: retract a prior message
//   - Edit: replace the text of a prior message
//
// Groups (0x1x):
//   - GroupInvite: membership offer with the sealed master secret
//   - GroupInviteAccept: invite confirmation with the member's key
//   - GroupKeyUpdate: rotated master secret, sealed per member
//   - GroupText: group chat text under the version-bound group key
//   - GroupUpdate: membership change announcement
//
// File transfer (0x2x):
//   - FileMeta: transfer opening (size, chunking, parity, hash)
//   - FileChunk / FileChunkAck: individually acknowledged chunks
//   - FileResume: receiver-held bitset for partial restart
//   - FileCancel / FileDone: terminal control
//
// # Header Format
//
// Every packet starts with a 20-byte header:
//   - Version (1 byte): protocol version (0x01)
//   - Type (1 byte): packet type
//   - Flags (1 byte): encrypted, requires-ack, padded, broadcast
//   - Reserved (1 byte)
//   - Timestamp (8 bytes): send time, Unix milliseconds
//   - MsgID (8 bytes): random packet identifier
//
// # Encoding
//
// Binary encoding, big-endian byte order. Fixed-size fields encode
// directly; variable-length fields carry a 1- or 2-byte length prefix.
// Identifiers are fixed-size byte arrays (MessageID/GroupID/FileID
// 8 bytes, NodeID 20 bytes) with hex string forms for logs and storage.
//
// Decode methods guard every read against short buffers; the dispatch
// layer drops packets whose decode fails rather than surfacing errors,
// so malformed input cannot be used to probe the engine.
//
// # Padding
//
// Text-bearing bodies can be padded to fixed bucket sizes (256 B to
// 16 KiB) before transmission, marked with FlagPadded. Control packets
// have fixed shapes and are never padded.
package protocol
