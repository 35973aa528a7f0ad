package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"

	"github.com/code3hr/cyxchat-sub000/pkg/crypto"
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
	"github.com/code3hr/cyxchat-sub000/pkg/storage"
)

// Transport delivers encoded packets to peers. Implementations come
// from the host: TCP, an overlay mesh, an in-process pipe in tests.
// A nil error means the transport accepted the bytes, not that the
// peer received them; receipt comes back as Ack packets.
type Transport interface {
	Send(peer protocol.NodeID, data []byte) error
}

// Engine is the protocol core: message lifecycle, groups, file
// transfer and the offline queue behind one poll-driven surface.
//
// The engine runs no goroutines and takes no locks. The host owns the
// thread: it calls HandleInbound for every received packet, Poll every
// 50-100ms, and the send methods from the same goroutine. Callbacks
// fire synchronously on that thread and may be left nil.
type Engine struct {
	cfg       Config
	transport Transport
	clock     clock.Clock
	self      protocol.NodeID
	keys      *crypto.KeyPair
	spoolDir  string

	// Messaging state
	messages map[protocol.MessageID]*Message
	pending  map[pendingKey]*PendingAck
	dedup    map[protocol.NodeID]*dedupWindow
	typing   map[protocol.NodeID]int64 // peer -> expiry, unix millis

	// Group state
	groups  map[protocol.GroupID]*Group
	invites map[protocol.GroupID]*Invite

	// File transfer state
	transfers map[protocol.FileID]*FileTransfer

	// Durable state
	queue         *storage.OfflineQueue
	transferStore *storage.TransferStore

	// Event callbacks, all optional
	OnMessageReceived      func(peer protocol.NodeID, msgID protocol.MessageID, text *protocol.TextPacket)
	OnStatusChanged        func(msgID protocol.MessageID, status Status)
	OnTypingReceived       func(peer protocol.NodeID, isTyping bool)
	OnReactionReceived     func(peer protocol.NodeID, target protocol.MessageID, reaction string, removed bool)
	OnMessageDeleted       func(peer protocol.NodeID, target protocol.MessageID)
	OnMessageEdited        func(peer protocol.NodeID, target protocol.MessageID, newText string)
	OnGroupInviteReceived  func(groupID protocol.GroupID, inviter protocol.NodeID, name string)
	OnGroupMessageReceived func(groupID protocol.GroupID, sender protocol.NodeID, text string)
	OnMembershipChanged    func(groupID protocol.GroupID, updateType uint8, subject protocol.NodeID)
	OnFileOffered          func(fileID protocol.FileID, peer protocol.NodeID, name string, size uint64)
	OnFileProgress         func(fileID protocol.FileID, done, total int)
	OnFileCompleted        func(fileID protocol.FileID, name string, data []byte)
	OnFileFailed           func(fileID protocol.FileID, err error)
	OnDeliveryFailed       func(recipient protocol.NodeID, msgID protocol.MessageID)
}

// New creates an engine. The node ID is derived from the key pair, and
// durable state (queue, transfer ledger, chunk spool) lives under
// cfg.DataDir.
func New(cfg Config, keys *crypto.KeyPair, transport Transport) (*Engine, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrInvalidParameter)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}

	spoolDir := filepath.Join(cfg.DataDir, "spool")
	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	queue, err := storage.NewOfflineQueue(filepath.Join(cfg.DataDir, "queue.db"))
	if err != nil {
		return nil, err
	}

	transferStore, err := storage.NewTransferStore(filepath.Join(cfg.DataDir, "transfers.db"))
	if err != nil {
		queue.Close()
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		transport:     transport,
		clock:         clock.New(),
		self:          crypto.DeriveNodeID(keys.Public),
		keys:          keys,
		spoolDir:      spoolDir,
		messages:      make(map[protocol.MessageID]*Message),
		pending:       make(map[pendingKey]*PendingAck),
		dedup:         make(map[protocol.NodeID]*dedupWindow),
		typing:        make(map[protocol.NodeID]int64),
		groups:        make(map[protocol.GroupID]*Group),
		invites:       make(map[protocol.GroupID]*Invite),
		transfers:     make(map[protocol.FileID]*FileTransfer),
		queue:         queue,
		transferStore: transferStore,
	}

	log.Printf("💬 Engine ready: node %s", shortNode(e.self))
	return e, nil
}

// Close releases the databases and any open spool files
func (e *Engine) Close() error {
	for _, ft := range e.transfers {
		if ft.spool != nil {
			ft.spool.Close()
		}
	}

	err := e.queue.Close()
	if cerr := e.transferStore.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Self returns the node ID derived from this engine's public key
func (e *Engine) Self() protocol.NodeID {
	return e.self
}

// PublicKey returns this engine's X25519 public key
func (e *Engine) PublicKey() [crypto.KeySize]byte {
	return e.keys.Public
}

// now returns the engine clock in unix milliseconds. All timing runs
// off the injected clock so tests can drive it.
func (e *Engine) now() int64 {
	return e.clock.Now().UnixMilli()
}

// dedupFor returns the dedup window for a peer, creating it on first
// contact
func (e *Engine) dedupFor(peer protocol.NodeID) *dedupWindow {
	w, ok := e.dedup[peer]
	if !ok {
		w = newDedupWindow(e.cfg.DedupWindow)
		e.dedup[peer] = w
	}
	return w
}

// ===== DIAGNOSTIC VIEWS =====

// Stats is a point-in-time snapshot of engine state
type Stats struct {
	Node            string `json:"node"`
	Messages        int    `json:"messages"`
	PendingAcks     int    `json:"pending_acks"`
	QueueDepth      int    `json:"queue_depth"`
	Groups          int    `json:"groups"`
	ActiveTransfers int    `json:"active_transfers"`
	TypingPeers     int    `json:"typing_peers"`
}

// Stats returns a snapshot of the engine's working state
func (e *Engine) Stats() Stats {
	depth, err := e.queue.Len()
	if err != nil {
		depth = -1
	}

	return Stats{
		Node:            e.self.String(),
		Messages:        len(e.messages),
		PendingAcks:     len(e.pending),
		QueueDepth:      depth,
		Groups:          len(e.groups),
		ActiveTransfers: len(e.transfers),
		TypingPeers:     len(e.typing),
	}
}

// MessageInfo is a read-only view of one tracked message
type MessageInfo struct {
	ID        string `json:"id"`
	Peer      string `json:"peer,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	Text      string `json:"text"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// MessageByID looks up a tracked outbound message
func (e *Engine) MessageByID(id protocol.MessageID) (MessageInfo, bool) {
	msg, ok := e.messages[id]
	if !ok {
		return MessageInfo{}, false
	}

	info := MessageInfo{
		ID:        msg.ID.String(),
		Text:      msg.Text,
		Status:    msg.Status.String(),
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
	if !protocol.IsZeroNodeID(msg.Peer) {
		info.Peer = msg.Peer.String()
	}
	if msg.GroupID != (protocol.GroupID{}) {
		info.GroupID = msg.GroupID.String()
	}
	return info, true
}

// GroupInfo is a read-only view of one group
type GroupInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	KeyVersion uint32   `json:"key_version"`
	Owner      string   `json:"owner,omitempty"`
	Admins     []string `json:"admins"`
	Members    []string `json:"members"`
}

// GroupInfos returns a snapshot of all joined groups
func (e *Engine) GroupInfos() []GroupInfo {
	infos := make([]GroupInfo, 0, len(e.groups))
	for _, g := range e.groups {
		info := GroupInfo{
			ID:         g.ID.String(),
			Name:       g.Name,
			KeyVersion: g.KeyVersion,
			Admins:     []string{},
			Members:    []string{},
		}
		for _, m := range g.Members {
			info.Members = append(info.Members, m.NodeID.String())
			switch m.Role {
			case RoleOwner:
				info.Owner = m.NodeID.String()
			case RoleAdmin:
				info.Admins = append(info.Admins, m.NodeID.String())
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// TransferInfo is a read-only view of one active transfer
type TransferInfo struct {
	FileID    string `json:"file_id"`
	Peer      string `json:"peer"`
	Direction string `json:"direction"`
	Name      string `json:"name"`
	TotalSize int64  `json:"total_size"`
	Chunks    int    `json:"chunks"`
	Done      int    `json:"done"`
	State     string `json:"state"`
}

// TransferInfos returns a snapshot of all active transfers
func (e *Engine) TransferInfos() []TransferInfo {
	infos := make([]TransferInfo, 0, len(e.transfers))
	for _, ft := range e.transfers {
		done := ft.ackedCount
		if ft.Direction == storage.DirectionRecv {
			done = ft.haveTotal
		}
		infos = append(infos, TransferInfo{
			FileID:    ft.FileID.String(),
			Peer:      ft.Peer.String(),
			Direction: ft.Direction,
			Name:      ft.Name,
			TotalSize: ft.TotalSize,
			Chunks:    ft.Chunks + ft.Parity,
			Done:      done,
			State:     ft.State,
		})
	}
	return infos
}

// QueueStats returns offline queue statistics
func (e *Engine) QueueStats() (map[string]interface{}, error) {
	return e.queue.Stats()
}

// ===== LOG HELPERS =====

func shortNode(id protocol.NodeID) string {
	return id.String()[:8]
}

func shortMsg(id protocol.MessageID) string {
	return id.String()[:8]
}
