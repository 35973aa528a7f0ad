package engine

import "time"

// Config holds all engine tunables. DefaultConfig returns the values
// the protocol was designed around; hosts override per deployment.
type Config struct {
	// Message retry
	AckTimeout   time.Duration   // Give up waiting after the last send
	MaxAttempts  int             // Total sends per message, counting the first
	RetryBackoff []time.Duration // Wait before each retransmission

	// Offline queue
	QueueBackoff     []time.Duration // Wait between queue delivery attempts
	QueueMaxAttempts int             // Queue tries before terminal drop
	QueueTTL         time.Duration   // Entry lifetime
	QueueBatch       int             // Max due entries retried per poll

	// Inbound handling
	DedupWindow int           // Recently seen message IDs kept per peer
	TypingTTL   time.Duration // Inbound typing indicator lifetime

	// Validation limits
	MaxTextLen      int   // UTF-8 bytes per text or edit
	MaxReactionLen  int   // UTF-8 bytes per reaction
	MaxGroupMembers int   // Including admins and owner
	MaxGroupAdmins  int   // Including the owner
	MaxFilenameLen  int   // UTF-8 bytes per transfer filename
	MaxFileSize     int64 // Bytes per file transfer

	// File transfer
	ChunkSize    int           // Payload bytes per chunk
	ChunkWindow  int           // Max unacked chunks in flight
	ChunkRetries int           // Resends per chunk before the transfer fails
	ChunkTimeout time.Duration // Wait before a chunk resend
	ParityChunks int           // Reed-Solomon parity shards per transfer, 0 disables

	// Privacy
	PadMessages bool // Pad text bodies to fixed size buckets

	// Durable state: queue database, transfer database, and chunk
	// spool all live under this directory
	DataDir string
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		AckTimeout:   10 * time.Second,
		MaxAttempts:  4,
		RetryBackoff: []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second},

		QueueBackoff:     []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second},
		QueueMaxAttempts: 4,
		QueueTTL:         7 * 24 * time.Hour,
		QueueBatch:       32,

		DedupWindow: 512,
		TypingTTL:   5 * time.Second,

		MaxTextLen:      4096,
		MaxReactionLen:  64,
		MaxGroupMembers: 256,
		MaxGroupAdmins:  16,
		MaxFilenameLen:  255,
		MaxFileSize:     256 << 20,

		ChunkSize:    16 * 1024,
		ChunkWindow:  8,
		ChunkRetries: 3,
		ChunkTimeout: 10 * time.Second,
		ParityChunks: 0,

		PadMessages: false,

		DataDir: "data",
	}
}

// retryBackoffAt returns the wait before retransmission number n
// (n = 1 is the first resend). Past the table it repeats the last
// entry.
func (c Config) retryBackoffAt(n int) time.Duration {
	if len(c.RetryBackoff) == 0 {
		return c.AckTimeout
	}
	if n > len(c.RetryBackoff) {
		n = len(c.RetryBackoff)
	}
	if n < 1 {
		n = 1
	}
	return c.RetryBackoff[n-1]
}

// queueBackoffAt returns the wait after queue delivery attempt n
func (c Config) queueBackoffAt(n int) time.Duration {
	if len(c.QueueBackoff) == 0 {
		return time.Minute
	}
	if n > len(c.QueueBackoff) {
		n = len(c.QueueBackoff)
	}
	if n < 1 {
		n = 1
	}
	return c.QueueBackoff[n-1]
}
