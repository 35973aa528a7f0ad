package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Transfer directions
const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

// TransferRecord is the durable slice of a file transfer: enough to
// resume a receive after restart. The bitset records which chunk
// indices are already held.
type TransferRecord struct {
	FileID      string // Hex-encoded file ID
	Peer        string // Hex-encoded node ID
	Direction   string // "send" or "recv"
	Filename    string
	TotalSize   int64
	ChunkSize   int
	ChunkCount  int
	ParityCount int
	Hash        []byte // BLAKE2b-256 of the full content
	Bitset      []byte // Received-chunk bitmap
	State       string
	UpdatedAt   int64 // Unix millis
}

// TransferStore persists transfer state. Like OfflineQueue it holds
// no timers; the engine writes through it as chunks arrive.
type TransferStore struct {
	db *sql.DB
}

// NewTransferStore opens (or creates) the transfer database
func NewTransferStore(dbPath string) (*TransferStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open transfer database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %v", err)
	}

	store := &TransferStore{db: db}

	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates the database schema
func (s *TransferStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transfers (
		file_id TEXT PRIMARY KEY,
		peer TEXT NOT NULL,
		direction TEXT NOT NULL,
		filename TEXT NOT NULL,
		total_size INTEGER NOT NULL,
		chunk_size INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		parity_count INTEGER NOT NULL DEFAULT 0,
		hash BLOB NOT NULL,
		bitset BLOB NOT NULL,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Index for per-peer listings
	CREATE INDEX IF NOT EXISTS idx_transfers_peer ON transfers(peer);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// SaveTransfer inserts or replaces a transfer record
func (s *TransferStore) SaveTransfer(rec *TransferRecord) error {
	query := `
		INSERT OR REPLACE INTO transfers (file_id, peer, direction, filename, total_size, chunk_size, chunk_count, parity_count, hash, bitset, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, rec.FileID, rec.Peer, rec.Direction, rec.Filename,
		rec.TotalSize, rec.ChunkSize, rec.ChunkCount, rec.ParityCount,
		rec.Hash, rec.Bitset, rec.State, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save transfer: %v", err)
	}

	return nil
}

// MarkChunk persists the updated received-chunk bitmap
func (s *TransferStore) MarkChunk(fileID string, bitset []byte, now int64) error {
	query := `UPDATE transfers SET bitset = ?, updated_at = ? WHERE file_id = ?`
	_, err := s.db.Exec(query, bitset, now, fileID)
	if err != nil {
		return fmt.Errorf("failed to mark chunk: %v", err)
	}
	return nil
}

// SetState updates a transfer's lifecycle state
func (s *TransferStore) SetState(fileID, state string, now int64) error {
	query := `UPDATE transfers SET state = ?, updated_at = ? WHERE file_id = ?`
	_, err := s.db.Exec(query, state, now, fileID)
	if err != nil {
		return fmt.Errorf("failed to set state: %v", err)
	}
	return nil
}

// LoadTransfer returns a transfer record, or nil if none exists
func (s *TransferStore) LoadTransfer(fileID string) (*TransferRecord, error) {
	query := `
		SELECT file_id, peer, direction, filename, total_size, chunk_size, chunk_count, parity_count, hash, bitset, state, updated_at
		FROM transfers
		WHERE file_id = ?
	`

	rec := &TransferRecord{}
	err := s.db.QueryRow(query, fileID).Scan(&rec.FileID, &rec.Peer, &rec.Direction,
		&rec.Filename, &rec.TotalSize, &rec.ChunkSize, &rec.ChunkCount,
		&rec.ParityCount, &rec.Hash, &rec.Bitset, &rec.State, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer: %v", err)
	}

	return rec, nil
}

// DeleteTransfer removes a transfer record
func (s *TransferStore) DeleteTransfer(fileID string) error {
	query := `DELETE FROM transfers WHERE file_id = ?`
	_, err := s.db.Exec(query, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %v", err)
	}
	return nil
}

// ListTransfers returns all stored transfer records
func (s *TransferStore) ListTransfers() ([]*TransferRecord, error) {
	query := `
		SELECT file_id, peer, direction, filename, total_size, chunk_size, chunk_count, parity_count, hash, bitset, state, updated_at
		FROM transfers
		ORDER BY updated_at DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %v", err)
	}
	defer rows.Close()

	var records []*TransferRecord
	for rows.Next() {
		rec := &TransferRecord{}
		if err := rows.Scan(&rec.FileID, &rec.Peer, &rec.Direction, &rec.Filename,
			&rec.TotalSize, &rec.ChunkSize, &rec.ChunkCount, &rec.ParityCount,
			&rec.Hash, &rec.Bitset, &rec.State, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %v", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the database connection
func (s *TransferStore) Close() error {
	return s.db.Close()
}
