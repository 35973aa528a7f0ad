package engine

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/code3hr/cyxchat-sub000/pkg/crypto"
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
	"github.com/code3hr/cyxchat-sub000/pkg/storage"
)

// Transfer states as persisted in the ledger
const (
	transferActive   = "active"
	transferComplete = "complete"
	transferFailed   = "failed"
)

// chunkAttempt tracks one in-flight chunk awaiting its ack
type chunkAttempt struct {
	SentAt  int64
	Retries int // Resends, not counting the first transmission
}

// FileTransfer is the in-memory state of one transfer. Chunk indices
// run over data chunks first, then parity chunks.
type FileTransfer struct {
	FileID    protocol.FileID
	Peer      protocol.NodeID
	Direction string
	Name      string // Basename carried on the wire
	Path      string // Send side: source path for resume
	TotalSize int64
	ChunkSize int
	Chunks    int // Data chunks
	Parity    int // Parity chunks
	Hash      protocol.Hash
	State     string

	// Send side
	chunks     [][]byte
	nextIdx    int
	inFlight   map[uint32]*chunkAttempt
	acked      protocol.Bitset
	ackedCount int

	// Receive side
	have      protocol.Bitset
	haveData  int
	haveTotal int
	spool     *os.File
}

// total returns the number of chunks including parity
func (ft *FileTransfer) total() int {
	return ft.Chunks + ft.Parity
}

// chunkLen returns the wire length of a chunk. Only the last data
// chunk may run short; parity chunks are always full size.
func (ft *FileTransfer) chunkLen(idx int) int {
	if idx == ft.Chunks-1 {
		return int(ft.TotalSize - int64(ft.Chunks-1)*int64(ft.ChunkSize))
	}
	return ft.ChunkSize
}

// nextUnsent returns the lowest chunk index never sent and not acked
func (ft *FileTransfer) nextUnsent() (int, bool) {
	for ; ft.nextIdx < len(ft.chunks); ft.nextIdx++ {
		idx := ft.nextIdx
		if ft.acked.Has(idx) {
			continue
		}
		if _, inFlight := ft.inFlight[uint32(idx)]; inFlight {
			continue
		}
		ft.nextIdx++
		return idx, true
	}
	return 0, false
}

// splitChunks cuts data into chunkSize pieces; the last may be short
func splitChunks(data []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// ===== SEND SIDE =====

// SendFile starts sending a file. Chunks flow inside a fixed window;
// each chunk is acked individually and resent on timeout. The
// transfer completes when the receiver reports the reassembled hash
// matched.
func (e *Engine) SendFile(peer protocol.NodeID, path string) (protocol.FileID, error) {
	if protocol.IsZeroNodeID(peer) {
		return protocol.FileID{}, fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.FileID{}, fmt.Errorf("failed to read file: %v", err)
	}
	if len(data) == 0 {
		return protocol.FileID{}, fmt.Errorf("%w: empty file", ErrInvalidParameter)
	}
	if int64(len(data)) > e.cfg.MaxFileSize {
		return protocol.FileID{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidParameter, e.cfg.MaxFileSize)
	}

	name := filepath.Base(path)
	if len(name) > e.cfg.MaxFilenameLen {
		return protocol.FileID{}, fmt.Errorf("%w: filename too long", ErrInvalidParameter)
	}

	chunks := splitChunks(data, e.cfg.ChunkSize)
	parity := e.cfg.ParityChunks
	var parityChunks [][]byte
	if parity > 0 {
		if len(chunks)+parity > maxShards {
			log.Printf("⚠️ %d chunks exceeds the parity shard limit, sending %s without FEC", len(chunks), name)
			parity = 0
		} else {
			parityChunks, err = buildParityShards(chunks, e.cfg.ChunkSize, parity)
			if err != nil {
				return protocol.FileID{}, err
			}
		}
	}

	ft := &FileTransfer{
		FileID:    protocol.NewFileID(),
		Peer:      peer,
		Direction: storage.DirectionSend,
		Name:      name,
		Path:      path,
		TotalSize: int64(len(data)),
		ChunkSize: e.cfg.ChunkSize,
		Chunks:    len(chunks),
		Parity:    parity,
		Hash:      crypto.Sum256(data),
		State:     transferActive,
		chunks:    append(chunks, parityChunks...),
		inFlight:  make(map[uint32]*chunkAttempt),
		acked:     protocol.NewBitset(len(chunks) + parity),
	}
	e.transfers[ft.FileID] = ft
	e.saveTransferRecord(ft)

	meta := &protocol.FileMetaPacket{
		FileID:      ft.FileID,
		TotalSize:   uint64(ft.TotalSize),
		ChunkSize:   uint32(ft.ChunkSize),
		ChunkCount:  uint32(ft.Chunks),
		ParityCount: uint32(ft.Parity),
		FileHash:    ft.Hash,
		Name:        name,
	}
	pkt, err := e.newPacket(protocol.TypeFileMeta, meta.Encode())
	if err != nil {
		return protocol.FileID{}, err
	}
	e.sendTracked(peer, pkt)

	e.pumpChunks(ft)

	log.Printf("📤 Sending %s (%d bytes, %d+%d chunks) to %s", name, ft.TotalSize, ft.Chunks, ft.Parity, shortNode(peer))
	return ft.FileID, nil
}

// CancelTransfer aborts a transfer on both ends. Cancelling a
// finished or unknown transfer is a no-op.
func (e *Engine) CancelTransfer(fileID protocol.FileID) error {
	ft, ok := e.transfers[fileID]
	if !ok {
		return nil
	}

	e.sendFileCancel(ft.Peer, fileID)
	log.Printf("🗑️ Cancelled transfer %s", ft.Name)
	e.dropTransfer(ft, transferFailed)
	return nil
}

// pumpChunks keeps the in-flight window full
func (e *Engine) pumpChunks(ft *FileTransfer) {
	for len(ft.inFlight) < e.cfg.ChunkWindow {
		idx, ok := ft.nextUnsent()
		if !ok {
			return
		}
		e.sendChunk(ft, idx)
	}
}

// sendChunk transmits one chunk and marks it in flight. A transport
// refusal still counts as the attempt; the timeout path retries it.
func (e *Engine) sendChunk(ft *FileTransfer, idx int) {
	body := (&protocol.FileChunkPacket{
		FileID: ft.FileID,
		Index:  uint32(idx),
		Data:   ft.chunks[idx],
	}).Encode()

	pkt, err := e.newPacket(protocol.TypeFileChunk, body)
	if err != nil {
		return
	}
	if err := e.sendRaw(ft.Peer, pkt.Encode()); err != nil {
		log.Printf("⚠️ Chunk %d of %s failed to send: %v", idx, shortFile(ft.FileID), err)
	}

	if att, ok := ft.inFlight[uint32(idx)]; ok {
		att.SentAt = e.now()
		att.Retries++
	} else {
		ft.inFlight[uint32(idx)] = &chunkAttempt{SentAt: e.now()}
	}
}

// sendFileCancel tells a peer to drop a transfer, best effort
func (e *Engine) sendFileCancel(peer protocol.NodeID, fileID protocol.FileID) {
	body := (&protocol.FileCancelPacket{FileID: fileID}).Encode()
	pkt, err := e.newPacket(protocol.TypeFileCancel, body)
	if err != nil {
		return
	}
	if err := e.sendRaw(peer, pkt.Encode()); err != nil {
		log.Printf("⚠️ Cancel for %s failed to send: %v", shortFile(fileID), err)
	}
}

// ===== RESUME =====

// ResumeTransfers reloads interrupted transfers from the ledger after
// a restart. Receive sides reopen their spool and send the sender a
// bitmap of held chunks; send sides are rebuilt lazily when that
// request arrives. Call once after startup.
func (e *Engine) ResumeTransfers() error {
	recs, err := e.transferStore.ListTransfers()
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if rec.State != transferActive || rec.Direction != storage.DirectionRecv {
			continue
		}

		fileID, err := protocol.ParseFileID(rec.FileID)
		if err != nil {
			continue
		}
		if _, ok := e.transfers[fileID]; ok {
			continue
		}
		peer, err := protocol.ParseNodeID(rec.Peer)
		if err != nil {
			continue
		}

		ft, err := e.reopenRecvTransfer(fileID, peer, rec)
		if err != nil {
			log.Printf("⚠️ Cannot resume %s: %v", shortFile(fileID), err)
			e.transferStore.DeleteTransfer(rec.FileID)
			continue
		}
		e.transfers[fileID] = ft

		body := (&protocol.FileResumePacket{FileID: fileID, Have: ft.have}).Encode()
		pkt, err := e.newPacket(protocol.TypeFileResume, body)
		if err != nil {
			continue
		}
		if err := e.sendRaw(peer, pkt.Encode()); err != nil {
			log.Printf("⚠️ Resume request for %s failed: %v", shortFile(fileID), err)
		}

		log.Printf("📁 Resuming %s (%d/%d chunks held)", rec.Filename, ft.haveTotal, ft.total())
	}
	return nil
}

// reopenRecvTransfer rebuilds receive-side state from a ledger row
// and the spool file
func (e *Engine) reopenRecvTransfer(fileID protocol.FileID, peer protocol.NodeID, rec *storage.TransferRecord) (*FileTransfer, error) {
	spool, err := os.OpenFile(e.spoolPath(fileID), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool: %v", err)
	}

	total := rec.ChunkCount + rec.ParityCount
	have := protocol.NewBitset(total)
	copy(have, rec.Bitset)

	ft := &FileTransfer{
		FileID:    fileID,
		Peer:      peer,
		Direction: storage.DirectionRecv,
		Name:      rec.Filename,
		TotalSize: rec.TotalSize,
		ChunkSize: rec.ChunkSize,
		Chunks:    rec.ChunkCount,
		Parity:    rec.ParityCount,
		State:     transferActive,
		have:      have,
		spool:     spool,
	}
	copy(ft.Hash[:], rec.Hash)

	for i := 0; i < total; i++ {
		if !have.Has(i) {
			continue
		}
		ft.haveTotal++
		if i < ft.Chunks {
			ft.haveData++
		}
	}
	return ft, nil
}

// reloadSendTransfer rebuilds send-side state from the ledger and the
// original source file, for resume requests arriving after a restart
func (e *Engine) reloadSendTransfer(fileID protocol.FileID, peer protocol.NodeID) (*FileTransfer, error) {
	rec, err := e.transferStore.LoadTransfer(fileID.String())
	if err != nil || rec == nil {
		return nil, fmt.Errorf("no transfer record")
	}
	if rec.Direction != storage.DirectionSend || rec.Peer != peer.String() {
		return nil, fmt.Errorf("record does not match peer")
	}

	data, err := os.ReadFile(rec.Filename)
	if err != nil {
		return nil, fmt.Errorf("source file gone: %v", err)
	}
	if int64(len(data)) != rec.TotalSize {
		return nil, fmt.Errorf("source file changed size")
	}
	sum := crypto.Sum256(data)
	if !bytes.Equal(sum[:], rec.Hash) {
		return nil, fmt.Errorf("source file changed content")
	}

	chunks := splitChunks(data, rec.ChunkSize)
	var parityChunks [][]byte
	if rec.ParityCount > 0 {
		parityChunks, err = buildParityShards(chunks, rec.ChunkSize, rec.ParityCount)
		if err != nil {
			return nil, err
		}
	}

	total := rec.ChunkCount + rec.ParityCount
	acked := protocol.NewBitset(total)
	copy(acked, rec.Bitset)

	ft := &FileTransfer{
		FileID:    fileID,
		Peer:      peer,
		Direction: storage.DirectionSend,
		Name:      filepath.Base(rec.Filename),
		Path:      rec.Filename,
		TotalSize: rec.TotalSize,
		ChunkSize: rec.ChunkSize,
		Chunks:    rec.ChunkCount,
		Parity:    rec.ParityCount,
		State:     transferActive,
		chunks:    append(chunks, parityChunks...),
		inFlight:  make(map[uint32]*chunkAttempt),
		acked:     acked,
	}
	copy(ft.Hash[:], rec.Hash)

	for i := 0; i < total; i++ {
		if acked.Has(i) {
			ft.ackedCount++
		}
	}

	e.transfers[fileID] = ft
	return ft, nil
}

// ===== PERSISTENCE =====

func (e *Engine) spoolPath(fileID protocol.FileID) string {
	return filepath.Join(e.spoolDir, fileID.String()+".part")
}

// saveTransferRecord writes the transfer's ledger row. Send sides
// store the source path so a resume can re-read the file.
func (e *Engine) saveTransferRecord(ft *FileTransfer) {
	filename := ft.Name
	bitset := ft.have
	if ft.Direction == storage.DirectionSend {
		filename = ft.Path
		bitset = ft.acked
	}

	rec := &storage.TransferRecord{
		FileID:      ft.FileID.String(),
		Peer:        ft.Peer.String(),
		Direction:   ft.Direction,
		Filename:    filename,
		TotalSize:   ft.TotalSize,
		ChunkSize:   ft.ChunkSize,
		ChunkCount:  ft.Chunks,
		ParityCount: ft.Parity,
		Hash:        ft.Hash[:],
		Bitset:      bitset,
		State:       ft.State,
		UpdatedAt:   e.now(),
	}
	if err := e.transferStore.SaveTransfer(rec); err != nil {
		log.Printf("⚠️ Failed to persist transfer %s: %v", shortFile(ft.FileID), err)
	}
}

// dropTransfer releases all transfer state: spool file, ledger row
// and the in-memory entry
func (e *Engine) dropTransfer(ft *FileTransfer, state string) {
	ft.State = state
	if ft.spool != nil {
		ft.spool.Close()
		ft.spool = nil
		os.Remove(e.spoolPath(ft.FileID))
	}
	if err := e.transferStore.DeleteTransfer(ft.FileID.String()); err != nil {
		log.Printf("⚠️ Failed to drop transfer record: %v", err)
	}
	delete(e.transfers, ft.FileID)
}

// ===== INBOUND FILE HANDLERS =====

// handleFileMeta sets up receive-side state for an announced transfer
func (e *Engine) handleFileMeta(peer protocol.NodeID, body []byte) bool {
	meta := &protocol.FileMetaPacket{}
	if err := meta.Decode(body); err != nil {
		return false
	}

	if _, ok := e.transfers[meta.FileID]; ok {
		return true // transfer already set up
	}

	if meta.ChunkSize == 0 || meta.ChunkSize > 65535 || meta.ChunkCount == 0 || meta.TotalSize == 0 {
		return false
	}
	if meta.TotalSize > uint64(e.cfg.MaxFileSize) {
		return false
	}
	if meta.ParityCount > meta.ChunkCount {
		return false
	}
	if len(meta.Name) == 0 || len(meta.Name) > e.cfg.MaxFilenameLen || strings.ContainsAny(meta.Name, "/\\") {
		return false
	}
	expectChunks := (meta.TotalSize + uint64(meta.ChunkSize) - 1) / uint64(meta.ChunkSize)
	if uint64(meta.ChunkCount) != expectChunks {
		return false
	}

	spool, err := os.OpenFile(e.spoolPath(meta.FileID), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		log.Printf("⚠️ Failed to open spool for %s: %v", shortFile(meta.FileID), err)
		return false
	}

	ft := &FileTransfer{
		FileID:    meta.FileID,
		Peer:      peer,
		Direction: storage.DirectionRecv,
		Name:      meta.Name,
		TotalSize: int64(meta.TotalSize),
		ChunkSize: int(meta.ChunkSize),
		Chunks:    int(meta.ChunkCount),
		Parity:    int(meta.ParityCount),
		Hash:      meta.FileHash,
		State:     transferActive,
		have:      protocol.NewBitset(int(meta.ChunkCount + meta.ParityCount)),
		spool:     spool,
	}
	e.transfers[meta.FileID] = ft
	e.saveTransferRecord(ft)

	log.Printf("📁 Incoming file %s (%d bytes, %d+%d chunks) from %s", meta.Name, meta.TotalSize, meta.ChunkCount, meta.ParityCount, shortNode(peer))

	if e.OnFileOffered != nil {
		e.OnFileOffered(meta.FileID, peer, meta.Name, meta.TotalSize)
	}
	return true
}

// handleFileChunk spools one chunk and acks it. Chunks arriving out
// of order land at their offset; duplicates only refresh the ack.
// The transfer completes as soon as enough chunks are held.
func (e *Engine) handleFileChunk(peer protocol.NodeID, body []byte) bool {
	chunk := &protocol.FileChunkPacket{}
	if err := chunk.Decode(body); err != nil {
		return false
	}

	ft, ok := e.transfers[chunk.FileID]
	if !ok || ft.Direction != storage.DirectionRecv || ft.Peer != peer {
		return false // no state yet, the meta retry will set it up
	}
	if ft.State != transferActive {
		return false
	}

	idx := int(chunk.Index)
	if idx >= ft.total() {
		return false
	}
	if len(chunk.Data) != ft.chunkLen(idx) {
		return false
	}

	if ft.have.Has(idx) {
		e.ackChunk(ft, chunk.Index) // our earlier ack was lost
		return true
	}

	offset := int64(idx) * int64(ft.ChunkSize)
	if _, err := ft.spool.WriteAt(chunk.Data, offset); err != nil {
		log.Printf("⚠️ Spool write for %s failed: %v", shortFile(ft.FileID), err)
		return false
	}

	ft.have.Set(idx)
	ft.haveTotal++
	if idx < ft.Chunks {
		ft.haveData++
	}

	if err := e.transferStore.MarkChunk(ft.FileID.String(), ft.have, e.now()); err != nil {
		log.Printf("⚠️ Failed to persist chunk bitmap: %v", err)
	}

	e.ackChunk(ft, chunk.Index)

	if e.OnFileProgress != nil {
		e.OnFileProgress(ft.FileID, ft.haveTotal, ft.total())
	}

	if ft.haveData == ft.Chunks || ft.haveTotal >= ft.Chunks {
		e.completeTransfer(ft)
	}
	return true
}

// handleFileChunkAck clears an in-flight chunk and tops up the window
func (e *Engine) handleFileChunkAck(peer protocol.NodeID, body []byte) bool {
	ack := &protocol.FileChunkAckPacket{}
	if err := ack.Decode(body); err != nil {
		return false
	}

	ft, ok := e.transfers[ack.FileID]
	if !ok || ft.Direction != storage.DirectionSend || ft.Peer != peer {
		return true // ack for a finished transfer
	}

	idx := int(ack.Index)
	if idx >= len(ft.chunks) {
		return false
	}

	delete(ft.inFlight, ack.Index)
	if !ft.acked.Has(idx) {
		ft.acked.Set(idx)
		ft.ackedCount++

		if err := e.transferStore.MarkChunk(ft.FileID.String(), ft.acked, e.now()); err != nil {
			log.Printf("⚠️ Failed to persist ack bitmap: %v", err)
		}
		if e.OnFileProgress != nil {
			e.OnFileProgress(ft.FileID, ft.ackedCount, len(ft.chunks))
		}
	}

	e.pumpChunks(ft)
	return true
}

// handleFileResume replays the receiver's bitmap into ours and
// restarts the window. After a restart the transfer is rebuilt from
// the ledger and the source file.
func (e *Engine) handleFileResume(peer protocol.NodeID, body []byte) bool {
	resume := &protocol.FileResumePacket{}
	if err := resume.Decode(body); err != nil {
		return false
	}

	ft, ok := e.transfers[resume.FileID]
	if !ok {
		var err error
		ft, err = e.reloadSendTransfer(resume.FileID, peer)
		if err != nil {
			log.Printf("⚠️ Cannot resume %s: %v", shortFile(resume.FileID), err)
			e.sendFileCancel(peer, resume.FileID)
			return true
		}
	}
	if ft.Direction != storage.DirectionSend || ft.Peer != peer {
		return true
	}

	for i := 0; i < len(ft.chunks); i++ {
		if resume.Have.Has(i) && !ft.acked.Has(i) {
			ft.acked.Set(i)
			ft.ackedCount++
			delete(ft.inFlight, uint32(i))
		}
	}
	ft.nextIdx = 0 // rescan for holes
	e.pumpChunks(ft)

	log.Printf("📤 Resuming %s for %s (%d/%d chunks there)", ft.Name, shortNode(peer), ft.ackedCount, len(ft.chunks))
	return true
}

// handleFileCancel drops a transfer the peer aborted
func (e *Engine) handleFileCancel(peer protocol.NodeID, body []byte) bool {
	cancel := &protocol.FileCancelPacket{}
	if err := cancel.Decode(body); err != nil {
		return false
	}

	ft, ok := e.transfers[cancel.FileID]
	if !ok || ft.Peer != peer {
		return true
	}

	log.Printf("🗑️ Transfer %s cancelled by peer", ft.Name)
	e.dropTransfer(ft, transferFailed)

	if e.OnFileFailed != nil {
		e.OnFileFailed(cancel.FileID, fmt.Errorf("cancelled by peer"))
	}
	return true
}

// handleFileDone finishes the send side on the receiver's verdict
func (e *Engine) handleFileDone(peer protocol.NodeID, body []byte) bool {
	done := &protocol.FileDonePacket{}
	if err := done.Decode(body); err != nil {
		return false
	}

	ft, ok := e.transfers[done.FileID]
	if !ok || ft.Direction != storage.DirectionSend || ft.Peer != peer {
		return true // already settled; the ack silences the retry
	}

	if done.Status == protocol.FileDoneOK {
		log.Printf("✅ Peer confirmed %s complete", ft.Name)
		e.dropTransfer(ft, transferComplete)
		if e.OnFileCompleted != nil {
			e.OnFileCompleted(done.FileID, ft.Name, nil)
		}
	} else {
		log.Printf("⚠️ Peer reports a hash mismatch for %s", ft.Name)
		e.dropTransfer(ft, transferFailed)
		if e.OnFileFailed != nil {
			e.OnFileFailed(done.FileID, ErrHashMismatch)
		}
	}
	return true
}

// ===== RECEIVE-SIDE COMPLETION =====

// ackChunk acknowledges one received chunk
func (e *Engine) ackChunk(ft *FileTransfer, index uint32) {
	body := (&protocol.FileChunkAckPacket{FileID: ft.FileID, Index: index}).Encode()
	pkt, err := e.newPacket(protocol.TypeFileChunkAck, body)
	if err != nil {
		return
	}
	if err := e.sendRaw(ft.Peer, pkt.Encode()); err != nil {
		log.Printf("⚠️ Chunk ack %d for %s failed: %v", index, shortFile(ft.FileID), err)
	}
}

// completeTransfer reassembles the file, checks the hash and reports
// the verdict. A mismatch is terminal: state is dropped on both ends
// and nothing retries.
func (e *Engine) completeTransfer(ft *FileTransfer) {
	data, err := e.assembleFile(ft)
	if err != nil {
		if ft.haveData < ft.Chunks {
			// Parity reconstruction fell short; keep collecting real
			// data chunks
			log.Printf("⚠️ Reconstruction of %s failed, waiting for more chunks: %v", ft.Name, err)
			return
		}
		log.Printf("⚠️ Failed to assemble %s: %v", ft.Name, err)
		e.sendFileDone(ft, protocol.FileDoneHashMismatch)
		e.dropTransfer(ft, transferFailed)
		if e.OnFileFailed != nil {
			e.OnFileFailed(ft.FileID, ErrHashMismatch)
		}
		return
	}

	sum := crypto.Sum256(data)
	if protocol.Hash(sum) != ft.Hash {
		log.Printf("⚠️ Hash mismatch for %s", ft.Name)
		e.sendFileDone(ft, protocol.FileDoneHashMismatch)
		e.dropTransfer(ft, transferFailed)
		if e.OnFileFailed != nil {
			e.OnFileFailed(ft.FileID, ErrHashMismatch)
		}
		return
	}

	log.Printf("✅ File %s complete (%d bytes)", ft.Name, len(data))
	e.sendFileDone(ft, protocol.FileDoneOK)

	fileID, name := ft.FileID, ft.Name
	e.dropTransfer(ft, transferComplete)

	if e.OnFileCompleted != nil {
		e.OnFileCompleted(fileID, name, data)
	}
}

// sendFileDone reports the terminal verdict to the sender, with
// retries until acked
func (e *Engine) sendFileDone(ft *FileTransfer, status uint8) {
	body := (&protocol.FileDonePacket{FileID: ft.FileID, Status: status}).Encode()
	pkt, err := e.newPacket(protocol.TypeFileDone, body)
	if err != nil {
		return
	}
	e.sendTracked(ft.Peer, pkt)
}

// assembleFile reads held chunks out of the spool in order,
// reconstructing missing data chunks from parity when needed
func (e *Engine) assembleFile(ft *FileTransfer) ([]byte, error) {
	if ft.haveData == ft.Chunks {
		data := make([]byte, 0, ft.TotalSize)
		for i := 0; i < ft.Chunks; i++ {
			buf, err := e.readSpoolChunk(ft, i)
			if err != nil {
				return nil, err
			}
			data = append(data, buf[:ft.chunkLen(i)]...)
		}
		return data, nil
	}

	if ft.Parity == 0 || ft.total() > maxShards {
		return nil, fmt.Errorf("missing chunks and no usable parity")
	}

	shards := make([][]byte, ft.total())
	for i := 0; i < ft.total(); i++ {
		if !ft.have.Has(i) {
			continue
		}
		buf, err := e.readSpoolChunk(ft, i)
		if err != nil {
			return nil, err
		}
		shards[i] = buf
	}

	if err := reconstructData(shards, ft.Chunks, ft.Parity); err != nil {
		return nil, err
	}

	data := make([]byte, 0, ft.TotalSize)
	for i := 0; i < ft.Chunks; i++ {
		data = append(data, shards[i][:ft.chunkLen(i)]...)
	}
	return data, nil
}

// readSpoolChunk reads one chunk slot as a full zero-padded block,
// matching the padding parity was computed over
func (e *Engine) readSpoolChunk(ft *FileTransfer, idx int) ([]byte, error) {
	buf := make([]byte, ft.ChunkSize)
	offset := int64(idx) * int64(ft.ChunkSize)
	if _, err := ft.spool.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read spool: %v", err)
	}
	return buf, nil
}

func shortFile(id protocol.FileID) string {
	return id.String()[:8]
}
