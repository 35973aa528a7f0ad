package storage

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// OfflineEntry represents a packet waiting for redelivery
type OfflineEntry struct {
	ID          int64
	Recipient   string // Hex-encoded node ID
	MessageID   string // Hex-encoded message ID
	Payload     []byte // Full encoded packet
	Attempts    int    // Redelivery attempts so far
	MaxAttempts int    // Drop after this many attempts
	NextRetryAt int64  // Unix millis of the next delivery attempt
	ExpiresAt   int64  // Unix millis after which the entry is dropped
	QueuedAt    int64  // Unix millis when the entry was queued
}

// OfflineQueue is the durable retry ledger for packets whose direct
// delivery was exhausted. It holds no timers and runs no goroutines:
// the owning engine calls Due and SweepExpired from its poll loop and
// passes its own clock in, so all timing stays on the engine's thread.
type OfflineQueue struct {
	db *sql.DB
}

// NewOfflineQueue opens (or creates) the queue database
func NewOfflineQueue(dbPath string) (*OfflineQueue, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %v", err)
	}

	queue := &OfflineQueue{db: db}

	if err := queue.initSchema(); err != nil {
		return nil, err
	}

	return queue, nil
}

// initSchema creates the database schema
func (q *OfflineQueue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS offline_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient TEXT NOT NULL,
		message_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		next_retry_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		queued_at INTEGER NOT NULL,
		UNIQUE(recipient, message_id)
	);

	-- Index for the due-entry scan on every poll
	CREATE INDEX IF NOT EXISTS idx_queue_due ON offline_queue(next_retry_at);

	-- Index for per-recipient counts
	CREATE INDEX IF NOT EXISTS idx_queue_recipient ON offline_queue(recipient);

	-- Index for expiry sweeps
	CREATE INDEX IF NOT EXISTS idx_queue_expires ON offline_queue(expires_at);
	`

	if _, err := q.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// Enqueue adds a packet to the queue. The entry becomes due
// immediately (next_retry_at = now) and starts at zero attempts,
// independent of whatever direct retries preceded it. Group fan-out
// reuses one message ID across recipients, so uniqueness is per
// (recipient, message) pair; re-queueing a queued pair is a no-op.
func (q *OfflineQueue) Enqueue(recipient, messageID string, payload []byte, maxAttempts int, now, expiresAt int64) error {
	query := `
		INSERT OR IGNORE INTO offline_queue (recipient, message_id, payload, max_attempts, next_retry_at, expires_at, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := q.db.Exec(query, recipient, messageID, payload, maxAttempts, now, expiresAt, now)
	if err != nil {
		return fmt.Errorf("failed to queue packet: %v", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		log.Printf("📬 Queued packet %s for offline peer %s", short(messageID), short(recipient))
	}
	return nil
}

// Due returns up to limit entries whose next retry time has passed,
// oldest first. Expired entries are excluded; SweepExpired collects
// those.
func (q *OfflineQueue) Due(now int64, limit int) ([]*OfflineEntry, error) {
	query := `
		SELECT id, recipient, message_id, payload, attempts, max_attempts, next_retry_at, expires_at, queued_at
		FROM offline_queue
		WHERE next_retry_at <= ? AND expires_at > ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`

	rows, err := q.db.Query(query, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due entries: %v", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Delete removes an entry after successful delivery or terminal failure
func (q *OfflineQueue) Delete(id int64) error {
	query := `DELETE FROM offline_queue WHERE id = ?`
	_, err := q.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %v", err)
	}
	return nil
}

// Bump records a failed delivery attempt and schedules the next one
func (q *OfflineQueue) Bump(id int64, attempts int, nextRetryAt int64) error {
	query := `UPDATE offline_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	_, err := q.db.Exec(query, attempts, nextRetryAt, id)
	return err
}

// SweepExpired removes all entries past their expiry and returns
// them, so the caller can fire a terminal failure event per entry
// exactly once.
func (q *OfflineQueue) SweepExpired(now int64) ([]*OfflineEntry, error) {
	query := `
		SELECT id, recipient, message_id, payload, attempts, max_attempts, next_retry_at, expires_at, queued_at
		FROM offline_queue
		WHERE expires_at <= ?
	`

	rows, err := q.db.Query(query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired entries: %v", err)
	}
	expired, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := q.db.Exec(`DELETE FROM offline_queue WHERE expires_at <= ?`, now); err != nil {
		return nil, fmt.Errorf("failed to sweep expired entries: %v", err)
	}

	log.Printf("🧹 Swept %d expired queue entries", len(expired))
	return expired, nil
}

// CountForRecipient returns the number of queued packets for a peer
func (q *OfflineQueue) CountForRecipient(recipient string) (int, error) {
	query := `SELECT COUNT(*) FROM offline_queue WHERE recipient = ?`

	var count int
	err := q.db.QueryRow(query, recipient).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get recipient count: %v", err)
	}

	return count, nil
}

// Len returns the total number of queued entries
func (q *OfflineQueue) Len() (int, error) {
	var count int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM offline_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %v", err)
	}

	return count, nil
}

// Stats returns statistics about the queue
func (q *OfflineQueue) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	total, err := q.Len()
	if err != nil {
		return nil, err
	}
	stats["total_entries"] = total

	// Entries by recipient
	query := `
		SELECT recipient, COUNT(*) as count
		FROM offline_queue
		GROUP BY recipient
	`

	rows, err := q.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipientCounts := make(map[string]int)
	for rows.Next() {
		var recipient string
		var count int
		if err := rows.Scan(&recipient, &count); err != nil {
			return nil, err
		}
		recipientCounts[recipient] = count
	}
	stats["by_recipient"] = recipientCounts

	return stats, nil
}

// Close closes the database connection
func (q *OfflineQueue) Close() error {
	return q.db.Close()
}

func scanEntries(rows *sql.Rows) ([]*OfflineEntry, error) {
	var entries []*OfflineEntry
	for rows.Next() {
		e := &OfflineEntry{}
		if err := rows.Scan(&e.ID, &e.Recipient, &e.MessageID, &e.Payload, &e.Attempts, &e.MaxAttempts, &e.NextRetryAt, &e.ExpiresAt, &e.QueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %v", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// short trims a hex ID for log lines
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
