package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/code3hr/cyxchat-sub000/pkg/crypto"
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

// writeTestFile drops deterministic but non-repeating content into a
// temp file
func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}

	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path, data
}

// metaFor builds the FileMeta wire bytes a sender would emit for data
func metaFor(fileID protocol.FileID, data []byte, chunkSize, parity int, hash protocol.Hash) []byte {
	chunks := (len(data) + chunkSize - 1) / chunkSize
	body := (&protocol.FileMetaPacket{
		FileID:      fileID,
		TotalSize:   uint64(len(data)),
		ChunkSize:   uint32(chunkSize),
		ChunkCount:  uint32(chunks),
		ParityCount: uint32(parity),
		FileHash:    hash,
		Name:        "payload.bin",
	}).Encode()
	pkt := protocol.NewPacket(protocol.TypeFileMeta, body)
	pkt.Header.SetFlag(protocol.FlagRequiresAck)
	return pkt.Encode()
}

func chunkFor(fileID protocol.FileID, idx int, data []byte) []byte {
	body := (&protocol.FileChunkPacket{FileID: fileID, Index: uint32(idx), Data: data}).Encode()
	return protocol.NewPacket(protocol.TypeFileChunk, body).Encode()
}

func TestSendFileValidation(t *testing.T) {
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.MaxFileSize = 64
	e, _ := newTestEngine(t, cfg, tr)
	peer := somePeer()

	if _, err := e.SendFile(protocol.NodeID{}, "whatever"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("SendFile(zero peer) error = %v, want ErrInvalidParameter", err)
	}

	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SendFile(peer, empty); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("SendFile(empty) error = %v, want ErrInvalidParameter", err)
	}

	big, _ := writeTestFile(t, 65)
	if _, err := e.SendFile(peer, big); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("SendFile(oversized) error = %v, want ErrInvalidParameter", err)
	}
}

// TestFileRoundTrip pushes a three-chunk file between two engines and
// expects both sides to finish clean.
func TestFileRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSize = 1024
	engines, _, _ := newTestNet(t, cfg, 2)
	a, b := engines[0], engines[1]

	path, want := writeTestFile(t, 2500) // 3 chunks, short tail

	var received []byte
	var offered bool
	b.OnFileOffered = func(_ protocol.FileID, peer protocol.NodeID, name string, size uint64) {
		offered = peer == a.Self() && name == "payload.bin" && size == 2500
	}
	b.OnFileCompleted = func(_ protocol.FileID, _ string, data []byte) { received = data }

	var senderDone bool
	a.OnFileCompleted = func(_ protocol.FileID, name string, _ []byte) { senderDone = name == "payload.bin" }

	if _, err := a.SendFile(b.Self(), path); err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}

	if !offered {
		t.Error("receiver never saw the offer")
	}
	if !bytes.Equal(received, want) {
		t.Fatalf("received %d bytes, want the original %d", len(received), len(want))
	}
	if !senderDone {
		t.Error("sender never saw the completion verdict")
	}

	// Both sides released their state
	if len(a.transfers) != 0 || len(b.transfers) != 0 {
		t.Errorf("transfer state leaked: sender=%d receiver=%d", len(a.transfers), len(b.transfers))
	}
}

// TestChunksAnyOrderWithDuplicates reorders and duplicates every chunk
// on the way in; the reassembled bytes must still match.
func TestChunksAnyOrderWithDuplicates(t *testing.T) {
	tr := &fakeTransport{}
	e, _ := newTestEngine(t, DefaultConfig(), tr)
	sender := somePeer()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	const chunkSize = 16 // 7 chunks, 4-byte tail
	fileID := protocol.NewFileID()
	hash := protocol.Hash(crypto.Sum256(data))

	var received []byte
	e.OnFileCompleted = func(_ protocol.FileID, _ string, got []byte) { received = got }

	e.HandleInbound(sender, metaFor(fileID, data, chunkSize, 0, hash))

	chunks := splitChunks(data, chunkSize)
	order := []int{6, 2, 2, 4, 0, 6, 1, 3, 1, 5}
	for _, idx := range order {
		e.HandleInbound(sender, chunkFor(fileID, idx, chunks[idx]))
	}

	if !bytes.Equal(received, data) {
		t.Fatalf("reassembly mismatch: got %d bytes, want %d", len(received), len(data))
	}

	// One ack per arrival, duplicates included, so the sender never
	// waits on a lost ack
	if acks := tr.byType(t, protocol.TypeFileChunkAck); len(acks) != len(order) {
		t.Errorf("chunk acks = %d, want %d", len(acks), len(order))
	}

	// A straggler after completion finds no state and gets nothing
	e.HandleInbound(sender, chunkFor(fileID, 0, chunks[0]))
	if acks := tr.byType(t, protocol.TypeFileChunkAck); len(acks) != len(order) {
		t.Errorf("straggler chunk was acked: %d acks", len(acks))
	}
	if dones := tr.byType(t, protocol.TypeFileDone); len(dones) != 1 {
		t.Errorf("done packets = %d, want 1", len(dones))
	}
}

func TestHashMismatchFailsHard(t *testing.T) {
	tr := &fakeTransport{}
	e, _ := newTestEngine(t, DefaultConfig(), tr)
	sender := somePeer()

	data := []byte("the real content")
	fileID := protocol.NewFileID()
	var wrongHash protocol.Hash
	wrongHash[0] = 0xbd

	var failure error
	e.OnFileFailed = func(_ protocol.FileID, err error) { failure = err }

	e.HandleInbound(sender, metaFor(fileID, data, 64, 0, wrongHash))
	e.HandleInbound(sender, chunkFor(fileID, 0, data))

	if !errors.Is(failure, ErrHashMismatch) {
		t.Errorf("failure = %v, want ErrHashMismatch", failure)
	}
	if len(e.transfers) != 0 {
		t.Error("failed transfer still tracked")
	}

	dones := tr.byType(t, protocol.TypeFileDone)
	if len(dones) != 1 {
		t.Fatalf("done packets = %d, want 1", len(dones))
	}
	done := &protocol.FileDonePacket{}
	if err := done.Decode(dones[0].Body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if done.Status != protocol.FileDoneHashMismatch {
		t.Errorf("done status = %d, want hash mismatch", done.Status)
	}
}

// TestChunkRetryExhaustionFailsTransfer sends into the void: each
// chunk gets its initial send plus ChunkRetries resends, then the
// whole transfer fails rather than silently dropping data.
func TestChunkRetryExhaustionFailsTransfer(t *testing.T) {
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.ChunkSize = 1024
	e, mock := newTestEngine(t, cfg, tr)

	path, _ := writeTestFile(t, 512) // single chunk

	var failure error
	e.OnFileFailed = func(_ protocol.FileID, err error) { failure = err }

	if _, err := e.SendFile(somePeer(), path); err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}

	for i := 0; i < cfg.ChunkRetries; i++ {
		mock.Add(cfg.ChunkTimeout)
		e.Poll()
		if failure != nil {
			t.Fatalf("transfer failed after %d resends, want %d first", i, cfg.ChunkRetries)
		}
	}

	mock.Add(cfg.ChunkTimeout)
	e.Poll()

	if !errors.Is(failure, ErrTimeout) {
		t.Errorf("failure = %v, want ErrTimeout", failure)
	}
	if got := len(tr.byType(t, protocol.TypeFileChunk)); got != 1+cfg.ChunkRetries {
		t.Errorf("chunk sends = %d, want %d (initial + %d resends)", got, 1+cfg.ChunkRetries, cfg.ChunkRetries)
	}
	if got := len(tr.byType(t, protocol.TypeFileCancel)); got != 1 {
		t.Errorf("cancel packets = %d, want 1", got)
	}
	if len(e.transfers) != 0 {
		t.Error("failed transfer still tracked")
	}
}

// TestParityReconstruction loses two data chunks entirely; the
// receiver completes from the remaining data plus parity shards.
func TestParityReconstruction(t *testing.T) {
	tr := &fakeTransport{}
	e, _ := newTestEngine(t, DefaultConfig(), tr)
	sender := somePeer()

	data := make([]byte, 36) // 5 chunks of 8 with a 4-byte tail
	for i := range data {
		data[i] = byte(i * 3)
	}
	const chunkSize = 8
	const parity = 2

	chunks := splitChunks(data, chunkSize)
	parityChunks, err := buildParityShards(chunks, chunkSize, parity)
	if err != nil {
		t.Fatalf("buildParityShards() error = %v", err)
	}

	fileID := protocol.NewFileID()
	hash := protocol.Hash(crypto.Sum256(data))

	var received []byte
	e.OnFileCompleted = func(_ protocol.FileID, _ string, got []byte) { received = got }

	e.HandleInbound(sender, metaFor(fileID, data, chunkSize, parity, hash))

	// Data chunks 1 and 3 never arrive; both parity chunks do
	for _, idx := range []int{0, 2, 4} {
		e.HandleInbound(sender, chunkFor(fileID, idx, chunks[idx]))
	}
	e.HandleInbound(sender, chunkFor(fileID, 5, parityChunks[0]))
	e.HandleInbound(sender, chunkFor(fileID, 6, parityChunks[1]))

	if !bytes.Equal(received, data) {
		t.Fatalf("reconstruction mismatch: got %v, want %v", received, data)
	}
}

// TestFileRoundTripWithLossAndParity drops two specific data chunks on
// the wire; the receiver finishes from parity without any resend.
func TestFileRoundTripWithLossAndParity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSize = 1024
	cfg.ParityChunks = 2
	engines, links, _ := newTestNet(t, cfg, 2)
	a, b := engines[0], engines[1]

	path, want := writeTestFile(t, 5*1024) // 5 data + 2 parity chunks

	dropped := map[uint32]bool{1: true, 3: true}
	links[0].drop = func(data []byte) bool {
		pkt, err := protocol.DecodePacket(data)
		if err != nil || pkt.Header.Type != protocol.TypeFileChunk {
			return false
		}
		chunk := &protocol.FileChunkPacket{}
		if chunk.Decode(pkt.Body) != nil {
			return false
		}
		if dropped[chunk.Index] {
			delete(dropped, chunk.Index) // lose only the first copy
			return true
		}
		return false
	}

	var received []byte
	b.OnFileCompleted = func(_ protocol.FileID, _ string, data []byte) { received = data }

	if _, err := a.SendFile(b.Self(), path); err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}

	if !bytes.Equal(received, want) {
		t.Fatalf("received %d bytes, want the original %d", len(received), len(want))
	}
}

// TestReceiverResumeAfterRestart restarts the receiving engine mid
// transfer and expects it to ask for exactly the missing chunks.
func TestReceiverResumeAfterRestart(t *testing.T) {
	dataDir := t.TempDir()
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	sender := somePeer()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i ^ 0x5a)
	}
	const chunkSize = 16 // 7 chunks
	fileID := protocol.NewFileID()
	hash := protocol.Hash(crypto.Sum256(data))
	chunks := splitChunks(data, chunkSize)

	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	tr1 := &fakeTransport{}
	r1, err := New(cfg, keys, tr1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r1.clock = clock.NewMock()

	r1.HandleInbound(sender, metaFor(fileID, data, chunkSize, 0, hash))
	for _, idx := range []int{0, 1, 4} {
		r1.HandleInbound(sender, chunkFor(fileID, idx, chunks[idx]))
	}
	if err := r1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Same identity, same data directory: a process restart
	tr2 := &fakeTransport{}
	r2, err := New(cfg, keys, tr2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { r2.Close() })
	r2.clock = clock.NewMock()

	var received []byte
	r2.OnFileCompleted = func(_ protocol.FileID, _ string, got []byte) { received = got }

	if err := r2.ResumeTransfers(); err != nil {
		t.Fatalf("ResumeTransfers() error = %v", err)
	}

	resumes := tr2.byType(t, protocol.TypeFileResume)
	if len(resumes) != 1 {
		t.Fatalf("resume packets = %d, want 1", len(resumes))
	}
	resume := &protocol.FileResumePacket{}
	if err := resume.Decode(resumes[0].Body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	for i := 0; i < 7; i++ {
		held := i == 0 || i == 1 || i == 4
		if resume.Have.Has(i) != held {
			t.Errorf("resume bitset chunk %d = %v, want %v", i, resume.Have.Has(i), held)
		}
	}

	// The sender streams the holes; the transfer finishes
	for _, idx := range []int{2, 3, 5, 6} {
		r2.HandleInbound(sender, chunkFor(fileID, idx, chunks[idx]))
	}
	if !bytes.Equal(received, data) {
		t.Fatalf("resumed reassembly mismatch: got %d bytes, want %d", len(received), len(data))
	}
}

// TestSenderResumeAfterRestart rebuilds a sending transfer from the
// ledger and the source file when a resume request arrives after a
// restart.
func TestSenderResumeAfterRestart(t *testing.T) {
	dataDir := t.TempDir()
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	peer := somePeer()

	cfg := DefaultConfig()
	cfg.ChunkSize = 1024
	cfg.DataDir = dataDir

	path, _ := writeTestFile(t, 3000) // 3 chunks

	tr1 := &fakeTransport{}
	s1, err := New(cfg, keys, tr1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s1.clock = clock.NewMock()

	fileID, err := s1.SendFile(peer, path)
	if err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	tr2 := &fakeTransport{}
	s2, err := New(cfg, keys, tr2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s2.Close() })
	s2.clock = clock.NewMock()

	// The receiver already holds chunk 0 and asks for the rest
	have := protocol.NewBitset(3)
	have.Set(0)
	body := (&protocol.FileResumePacket{FileID: fileID, Have: have}).Encode()
	s2.HandleInbound(peer, protocol.NewPacket(protocol.TypeFileResume, body).Encode())

	var indices []uint32
	for _, pkt := range tr2.byType(t, protocol.TypeFileChunk) {
		chunk := &protocol.FileChunkPacket{}
		if err := chunk.Decode(pkt.Body); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		indices = append(indices, chunk.Index)
	}
	if len(indices) != 2 || indices[0] == 0 || indices[1] == 0 {
		t.Errorf("resent chunk indices = %v, want only the missing 1 and 2", indices)
	}
}

func TestCancelTransferIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.ChunkSize = 1024
	e, _ := newTestEngine(t, cfg, tr)

	path, _ := writeTestFile(t, 512)
	fileID, err := e.SendFile(somePeer(), path)
	if err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}

	if err := e.CancelTransfer(fileID); err != nil {
		t.Fatalf("CancelTransfer() error = %v", err)
	}
	if err := e.CancelTransfer(fileID); err != nil {
		t.Fatalf("second CancelTransfer() error = %v", err)
	}
	if err := e.CancelTransfer(protocol.NewFileID()); err != nil {
		t.Fatalf("CancelTransfer(unknown) error = %v", err)
	}

	if got := len(tr.byType(t, protocol.TypeFileCancel)); got != 1 {
		t.Errorf("cancel packets = %d, want 1 (repeats are no-ops)", got)
	}
}

func TestPeerCancelDropsTransfer(t *testing.T) {
	tr := &fakeTransport{}
	e, _ := newTestEngine(t, DefaultConfig(), tr)
	sender := somePeer()

	data := []byte("short-lived")
	fileID := protocol.NewFileID()
	hash := protocol.Hash(crypto.Sum256(data))

	var failed bool
	e.OnFileFailed = func(id protocol.FileID, _ error) { failed = id == fileID }

	e.HandleInbound(sender, metaFor(fileID, data, 64, 0, hash))
	if len(e.transfers) != 1 {
		t.Fatal("transfer not set up")
	}

	body := (&protocol.FileCancelPacket{FileID: fileID}).Encode()
	e.HandleInbound(sender, protocol.NewPacket(protocol.TypeFileCancel, body).Encode())

	if !failed {
		t.Error("peer cancel fired no failure event")
	}
	if len(e.transfers) != 0 {
		t.Error("cancelled transfer still tracked")
	}
}

func TestBuildAndReconstructParity(t *testing.T) {
	const chunkSize = 32
	data := make([]byte, 5*chunkSize-7)
	for i := range data {
		data[i] = byte(i * 11)
	}
	chunks := splitChunks(data, chunkSize)

	parity, err := buildParityShards(chunks, chunkSize, 3)
	if err != nil {
		t.Fatalf("buildParityShards() error = %v", err)
	}
	if len(parity) != 3 {
		t.Fatalf("parity shards = %d, want 3", len(parity))
	}

	// Lose three shards (the tolerance limit), nil-ing them out the
	// way the assembler presents holes
	shards := make([][]byte, 0, 8)
	for _, c := range chunks {
		padded := make([]byte, chunkSize)
		copy(padded, c)
		shards = append(shards, padded)
	}
	shards = append(shards, parity...)
	shards[1], shards[3], shards[6] = nil, nil, nil

	if err := reconstructData(shards, 5, 3); err != nil {
		t.Fatalf("reconstructData() error = %v", err)
	}

	rebuilt := make([]byte, 0, len(data))
	for i := 0; i < 5; i++ {
		rebuilt = append(rebuilt, shards[i]...)
	}
	if !bytes.Equal(rebuilt[:len(data)], data) {
		t.Error("reconstructed data does not match the original")
	}

	// Losing one more shard than parity covers must fail
	shards[0], shards[2], shards[4], shards[5] = nil, nil, nil, nil
	if err := reconstructData(shards, 5, 3); err == nil {
		t.Error("reconstructData() succeeded with too few shards")
	}
}

func TestChunkTimeoutUsesPerChunkClock(t *testing.T) {
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.ChunkSize = 1024
	cfg.ChunkWindow = 1
	e, mock := newTestEngine(t, cfg, tr)
	peer := somePeer()

	path, _ := writeTestFile(t, 2048) // 2 chunks, window of 1
	fileID, err := e.SendFile(peer, path)
	if err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}

	if got := len(tr.byType(t, protocol.TypeFileChunk)); got != 1 {
		t.Fatalf("initial chunk sends = %d, want 1 (window)", got)
	}

	// Ack chunk 0; the window advances to chunk 1
	body := (&protocol.FileChunkAckPacket{FileID: fileID, Index: 0}).Encode()
	e.HandleInbound(peer, protocol.NewPacket(protocol.TypeFileChunkAck, body).Encode())

	if got := len(tr.byType(t, protocol.TypeFileChunk)); got != 2 {
		t.Fatalf("chunk sends after ack = %d, want 2", got)
	}

	// Chunk 1 went out just now; no resend before its own timeout
	mock.Add(cfg.ChunkTimeout / 2)
	e.Poll()
	if got := len(tr.byType(t, protocol.TypeFileChunk)); got != 2 {
		t.Errorf("chunk resent before its timeout: %d sends", got)
	}

	mock.Add(cfg.ChunkTimeout)
	e.Poll()
	if got := len(tr.byType(t, protocol.TypeFileChunk)); got != 3 {
		t.Errorf("chunk sends after timeout = %d, want 3", got)
	}
}
