package protocol

import (
	"encoding/binary"
	"fmt"
)

// ===== CHUNK BITSET =====

// Bitset tracks which chunk indices a receiver holds. Its raw bytes
// are the wire form carried by FileResume and the form persisted for
// resume across restarts.
type Bitset []byte

// NewBitset creates a bitset sized for n chunks
func NewBitset(n int) Bitset {
	return make(Bitset, (n+7)/8)
}

// Set marks index i as held
func (b Bitset) Set(i int) {
	if i < 0 || i/8 >= len(b) {
		return
	}
	b[i/8] |= 1 << uint(i%8)
}

// Has reports whether index i is held
func (b Bitset) Has(i int) bool {
	if i < 0 || i/8 >= len(b) {
		return false
	}
	return b[i/8]&(1<<uint(i%8)) != 0
}

// Count returns how many of the first n indices are held
func (b Bitset) Count(n int) int {
	count := 0
	for i := 0; i < n; i++ {
		if b.Has(i) {
			count++
		}
	}
	return count
}

// Clone returns an independent copy
func (b Bitset) Clone() Bitset {
	c := make(Bitset, len(b))
	copy(c, b)
	return c
}

// ===== FILE META =====

// FileMetaPacket opens a transfer: sizing, chunking, parity and the
// content hash the reassembled bytes must match
type FileMetaPacket struct {
	FileID      FileID
	TotalSize   uint64 // File size in bytes
	ChunkSize   uint32 // Bytes per data chunk
	ChunkCount  uint32 // Number of data chunks
	ParityCount uint32 // Number of parity chunks (0 = no FEC)
	FileHash    Hash   // BLAKE2b-256 of the whole file
	Name        string // Original filename, basename only
}

// Encode encodes the file meta body
func (f *FileMetaPacket) Encode() []byte {
	buf := make([]byte, 8+8+4+4+4+32+1+len(f.Name))
	offset := 0

	copy(buf[offset:], f.FileID[:])
	offset += 8

	binary.BigEndian.PutUint64(buf[offset:], f.TotalSize)
	offset += 8

	binary.BigEndian.PutUint32(buf[offset:], f.ChunkSize)
	offset += 4

	binary.BigEndian.PutUint32(buf[offset:], f.ChunkCount)
	offset += 4

	binary.BigEndian.PutUint32(buf[offset:], f.ParityCount)
	offset += 4

	copy(buf[offset:], f.FileHash[:])
	offset += 32

	buf[offset] = uint8(len(f.Name))
	offset++

	copy(buf[offset:], f.Name)

	return buf
}

// Decode decodes the file meta body
func (f *FileMetaPacket) Decode(buf []byte) error {
	if len(buf) < 61 {
		return fmt.Errorf("buffer too short for file meta")
	}

	offset := 0

	copy(f.FileID[:], buf[offset:offset+8])
	offset += 8

	f.TotalSize = binary.BigEndian.Uint64(buf[offset:])
	offset += 8

	f.ChunkSize = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	f.ChunkCount = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	f.ParityCount = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	copy(f.FileHash[:], buf[offset:offset+32])
	offset += 32

	nameLen := int(buf[offset])
	offset++

	if len(buf) < offset+nameLen {
		return fmt.Errorf("buffer too short for filename")
	}

	f.Name = string(buf[offset : offset+nameLen])

	return nil
}

// ===== FILE CHUNK =====

// FileChunkPacket carries one chunk. Indices past ChunkCount-1 are
// parity chunks.
type FileChunkPacket struct {
	FileID FileID
	Index  uint32
	Data   []byte
}

// Encode encodes the file chunk body
func (f *FileChunkPacket) Encode() []byte {
	buf := make([]byte, 8+4+2+len(f.Data))
	offset := 0

	copy(buf[offset:], f.FileID[:])
	offset += 8

	binary.BigEndian.PutUint32(buf[offset:], f.Index)
	offset += 4

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(f.Data)))
	offset += 2

	copy(buf[offset:], f.Data)

	return buf
}

// Decode decodes the file chunk body
func (f *FileChunkPacket) Decode(buf []byte) error {
	if len(buf) < 14 {
		return fmt.Errorf("buffer too short for file chunk")
	}

	offset := 0

	copy(f.FileID[:], buf[offset:offset+8])
	offset += 8

	f.Index = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	dataLen := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	if len(buf) < offset+int(dataLen) {
		return fmt.Errorf("buffer too short for chunk data")
	}

	f.Data = make([]byte, dataLen)
	copy(f.Data, buf[offset:offset+int(dataLen)])

	return nil
}

// ===== FILE CHUNK ACK =====

// FileChunkAckPacket acknowledges one chunk index
type FileChunkAckPacket struct {
	FileID FileID
	Index  uint32
}

// Encode encodes the chunk ack body
func (f *FileChunkAckPacket) Encode() []byte {
	buf := make([]byte, 8+4)
	copy(buf[0:8], f.FileID[:])
	binary.BigEndian.PutUint32(buf[8:12], f.Index)
	return buf
}

// Decode decodes the chunk ack body
func (f *FileChunkAckPacket) Decode(buf []byte) error {
	if len(buf) < 12 {
		return fmt.Errorf("buffer too short for chunk ack")
	}

	copy(f.FileID[:], buf[0:8])
	f.Index = binary.BigEndian.Uint32(buf[8:12])

	return nil
}

// ===== FILE RESUME =====

// FileResumePacket asks the sender to restart a transfer, carrying the
// receiver's chunk bitset so only missing indices are resent
type FileResumePacket struct {
	FileID FileID
	Have   Bitset
}

// Encode encodes the resume body
func (f *FileResumePacket) Encode() []byte {
	buf := make([]byte, 8+2+len(f.Have))
	offset := 0

	copy(buf[offset:], f.FileID[:])
	offset += 8

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(f.Have)))
	offset += 2

	copy(buf[offset:], f.Have)

	return buf
}

// Decode decodes the resume body
func (f *FileResumePacket) Decode(buf []byte) error {
	if len(buf) < 10 {
		return fmt.Errorf("buffer too short for file resume")
	}

	offset := 0

	copy(f.FileID[:], buf[offset:offset+8])
	offset += 8

	bitsetLen := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	if len(buf) < offset+int(bitsetLen) {
		return fmt.Errorf("buffer too short for bitset")
	}

	f.Have = make(Bitset, bitsetLen)
	copy(f.Have, buf[offset:offset+int(bitsetLen)])

	return nil
}

// ===== FILE CANCEL =====

// FileCancelPacket aborts a transfer on both ends
type FileCancelPacket struct {
	FileID FileID
}

// Encode encodes the cancel body
func (f *FileCancelPacket) Encode() []byte {
	buf := make([]byte, 8)
	copy(buf, f.FileID[:])
	return buf
}

// Decode decodes the cancel body
func (f *FileCancelPacket) Decode(buf []byte) error {
	if len(buf) < 8 {
		return fmt.Errorf("buffer too short for file cancel")
	}

	copy(f.FileID[:], buf[0:8])

	return nil
}

// ===== FILE DONE =====

// FileDonePacket reports terminal transfer state from the receiver
type FileDonePacket struct {
	FileID FileID
	Status uint8 // FileDoneOK or FileDoneHashMismatch
}

// Encode encodes the done body
func (f *FileDonePacket) Encode() []byte {
	buf := make([]byte, 8+1)
	copy(buf[0:8], f.FileID[:])
	buf[8] = f.Status
	return buf
}

// Decode decodes the done body
func (f *FileDonePacket) Decode(buf []byte) error {
	if len(buf) < 9 {
		return fmt.Errorf("buffer too short for file done")
	}

	copy(f.FileID[:], buf[0:8])
	f.Status = buf[8]

	return nil
}
