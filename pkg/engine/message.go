package engine

import (
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

// Status tracks a sent message through its delivery lifecycle
type Status uint8

const (
	StatusPending   Status = iota // Created, not yet on the wire
	StatusSending                 // Handed to the transport
	StatusSent                    // Transport accepted it
	StatusDelivered               // Recipient acked receipt
	StatusRead                    // Recipient acked read
	StatusFailed                  // Gave up, terminal
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are allowed
func (s Status) terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// Message is the engine's record of one outbound message
type Message struct {
	ID        protocol.MessageID
	Peer      protocol.NodeID // Recipient, or zero for group sends
	GroupID   protocol.GroupID
	Text      string
	Status    Status
	CreatedAt int64
	UpdatedAt int64
}

// pendingKey identifies one ack-awaited copy of a message. Group
// sends reuse a single message ID across every member, so the peer
// is part of the key.
type pendingKey struct {
	msgID protocol.MessageID
	peer  protocol.NodeID
}

// PendingAck tracks one unacked wire packet for retransmission
type PendingAck struct {
	MsgID    protocol.MessageID
	Peer     protocol.NodeID
	Payload  []byte // Full encoded packet, resent verbatim
	SentAt   int64  // Unix millis of the most recent send
	Attempts int    // Sends so far, counting the first
}

// dedupWindow remembers the most recent message IDs seen from one
// peer. When full, the oldest entry is evicted.
type dedupWindow struct {
	seen  map[protocol.MessageID]bool
	order []protocol.MessageID
	next  int
	cap   int
}

func newDedupWindow(capacity int) *dedupWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupWindow{
		seen:  make(map[protocol.MessageID]bool),
		order: make([]protocol.MessageID, 0, capacity),
		cap:   capacity,
	}
}

// known reports whether an ID was remembered without recording it
func (w *dedupWindow) known(id protocol.MessageID) bool {
	return w.seen[id]
}

// remember records an ID and reports whether it was already known
func (w *dedupWindow) remember(id protocol.MessageID) bool {
	if w.seen[id] {
		return true
	}
	if len(w.order) < w.cap {
		w.order = append(w.order, id)
	} else {
		delete(w.seen, w.order[w.next])
		w.order[w.next] = id
		w.next = (w.next + 1) % w.cap
	}
	w.seen[id] = true
	return false
}
