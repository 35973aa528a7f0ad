package engine

import (
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

// SendText sends a text message to a peer. The returned ID follows the
// message through OnStatusChanged: Sent on transport handoff, then
// Delivered and Read as acks arrive, or Failed when retries run out.
// If the transport is down the message goes straight to the offline
// queue and stays Pending until a later poll delivers it.
func (e *Engine) SendText(peer protocol.NodeID, text string) (protocol.MessageID, error) {
	if protocol.IsZeroNodeID(peer) {
		return protocol.MessageID{}, fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}
	if err := e.checkText(text); err != nil {
		return protocol.MessageID{}, err
	}

	body := (&protocol.TextPacket{Text: text}).Encode()
	pkt, err := e.newPacket(protocol.TypeText, body)
	if err != nil {
		return protocol.MessageID{}, err
	}

	now := e.now()
	msg := &Message{
		ID:        pkt.Header.MsgID,
		Peer:      peer,
		Text:      text,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.messages[msg.ID] = msg

	if e.sendTracked(peer, pkt) {
		e.setStatus(msg, StatusSending)
		e.setStatus(msg, StatusSent)
		log.Printf("📤 Sent message %s to %s", shortMsg(msg.ID), shortNode(peer))
	}

	return msg.ID, nil
}

// ReplyText sends a text message referencing an earlier message
func (e *Engine) ReplyText(peer protocol.NodeID, text string, replyTo protocol.MessageID) (protocol.MessageID, error) {
	if protocol.IsZeroNodeID(peer) {
		return protocol.MessageID{}, fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}
	if err := e.checkText(text); err != nil {
		return protocol.MessageID{}, err
	}

	body := (&protocol.TextPacket{Text: text, HasReply: true, ReplyTo: replyTo}).Encode()
	pkt, err := e.newPacket(protocol.TypeText, body)
	if err != nil {
		return protocol.MessageID{}, err
	}

	now := e.now()
	msg := &Message{
		ID:        pkt.Header.MsgID,
		Peer:      peer,
		Text:      text,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.messages[msg.ID] = msg

	if e.sendTracked(peer, pkt) {
		e.setStatus(msg, StatusSending)
		e.setStatus(msg, StatusSent)
	}

	return msg.ID, nil
}

// SendTyping signals typing started or stopped. Fire and forget:
// typing is stale within seconds, so there is no retry and no queue.
func (e *Engine) SendTyping(peer protocol.NodeID, isTyping bool) error {
	if protocol.IsZeroNodeID(peer) {
		return fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}

	body := (&protocol.TypingPacket{IsTyping: isTyping}).Encode()
	pkt, err := e.newPacket(protocol.TypeTyping, body)
	if err != nil {
		return err
	}

	return e.sendRaw(peer, pkt.Encode())
}

// SendReaction adds or removes a reaction on a message the peer sent
func (e *Engine) SendReaction(peer protocol.NodeID, target protocol.MessageID, reaction string, remove bool) error {
	if protocol.IsZeroNodeID(peer) {
		return fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}
	if len(reaction) == 0 || len(reaction) > e.cfg.MaxReactionLen || !utf8.ValidString(reaction) {
		return fmt.Errorf("%w: bad reaction", ErrInvalidParameter)
	}

	body := (&protocol.ReactionPacket{TargetID: target, Remove: remove, Reaction: reaction}).Encode()
	pkt, err := e.newPacket(protocol.TypeReaction, body)
	if err != nil {
		return err
	}

	return e.sendRaw(peer, pkt.Encode())
}

// DeleteMessage asks the peer to remove an earlier message and drops
// the local record
func (e *Engine) DeleteMessage(peer protocol.NodeID, target protocol.MessageID) error {
	if protocol.IsZeroNodeID(peer) {
		return fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}

	body := (&protocol.DeletePacket{TargetID: target}).Encode()
	pkt, err := e.newPacket(protocol.TypeDelete, body)
	if err != nil {
		return err
	}

	if err := e.sendRaw(peer, pkt.Encode()); err != nil {
		return err
	}

	delete(e.messages, target)
	return nil
}

// EditMessage replaces the text of an earlier message on both sides
func (e *Engine) EditMessage(peer protocol.NodeID, target protocol.MessageID, newText string) error {
	if protocol.IsZeroNodeID(peer) {
		return fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}
	if err := e.checkText(newText); err != nil {
		return err
	}

	body := (&protocol.EditPacket{TargetID: target, NewText: newText}).Encode()
	pkt, err := e.newPacket(protocol.TypeEdit, body)
	if err != nil {
		return err
	}

	if err := e.sendRaw(peer, pkt.Encode()); err != nil {
		return err
	}

	if msg, ok := e.messages[target]; ok {
		msg.Text = newText
		msg.UpdatedAt = e.now()
	}
	return nil
}

// MarkRead tells the sender a received message has been read
func (e *Engine) MarkRead(peer protocol.NodeID, msgID protocol.MessageID) error {
	if protocol.IsZeroNodeID(peer) {
		return fmt.Errorf("%w: zero peer", ErrInvalidParameter)
	}
	return e.sendAck(peer, msgID, protocol.AckRead)
}

// ===== SEND PLUMBING =====

// checkText validates user text against the configured limit
func (e *Engine) checkText(text string) error {
	if len(text) == 0 || len(text) > e.cfg.MaxTextLen || !utf8.ValidString(text) {
		return fmt.Errorf("%w: bad text length %d", ErrInvalidParameter, len(text))
	}
	return nil
}

// newPacket builds a packet of the given type, stamped by the engine
// clock, with padding applied where it applies
func (e *Engine) newPacket(pktType uint8, body []byte) (*protocol.Packet, error) {
	padded := e.cfg.PadMessages && protocol.ShouldPad(pktType)
	if padded {
		var err error
		if body, err = protocol.PadBody(body); err != nil {
			return nil, fmt.Errorf("failed to pad body: %v", err)
		}
	}

	pkt := protocol.NewPacket(pktType, body)
	pkt.Header.Timestamp = uint64(e.now())
	if padded {
		pkt.Header.SetFlag(protocol.FlagPadded)
	}
	return pkt, nil
}

// sendRaw pushes encoded bytes at the transport, mapping failure to
// ErrNetworkUnreachable
func (e *Engine) sendRaw(peer protocol.NodeID, data []byte) error {
	if err := e.transport.Send(peer, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	return nil
}

// sendTracked transmits a packet with RequiresAck set and registers it
// for retransmission until the peer acks it. When the transport
// refuses the packet it goes to the offline queue instead; the return
// value reports which path it took.
func (e *Engine) sendTracked(peer protocol.NodeID, pkt *protocol.Packet) bool {
	pkt.Header.SetFlag(protocol.FlagRequiresAck)
	data := pkt.Encode()
	now := e.now()

	if err := e.transport.Send(peer, data); err != nil {
		log.Printf("⚠️ Send %s to %s failed, queueing: %v", shortMsg(pkt.Header.MsgID), shortNode(peer), err)
		e.enqueueOffline(peer, pkt.Header.MsgID, data, now)
		return false
	}

	e.pending[pendingKey{msgID: pkt.Header.MsgID, peer: peer}] = &PendingAck{
		MsgID:    pkt.Header.MsgID,
		Peer:     peer,
		Payload:  data,
		SentAt:   now,
		Attempts: 1,
	}
	return true
}

// sendAck acknowledges a received message
func (e *Engine) sendAck(peer protocol.NodeID, msgID protocol.MessageID, status uint8) error {
	body := (&protocol.AckPacket{AckMsgID: msgID, Status: status}).Encode()
	pkt, err := e.newPacket(protocol.TypeAck, body)
	if err != nil {
		return err
	}
	return e.sendRaw(peer, pkt.Encode())
}

// enqueueOffline hands a packet to the durable queue for later
// delivery attempts with a fresh attempt counter
func (e *Engine) enqueueOffline(peer protocol.NodeID, msgID protocol.MessageID, data []byte, now int64) {
	expiresAt := now + e.cfg.QueueTTL.Milliseconds()
	if err := e.queue.Enqueue(peer.String(), msgID.String(), data, e.cfg.QueueMaxAttempts, now, expiresAt); err != nil {
		log.Printf("⚠️ Failed to queue %s for %s: %v", shortMsg(msgID), shortNode(peer), err)
	}
}

// setStatus advances a message's delivery status. Transitions only
// move forward, so stale or duplicate acks cannot regress a status,
// and nothing moves a terminal status again.
func (e *Engine) setStatus(msg *Message, s Status) {
	if msg.Status.terminal() || s <= msg.Status {
		return
	}

	msg.Status = s
	msg.UpdatedAt = e.now()

	if e.OnStatusChanged != nil {
		e.OnStatusChanged(msg.ID, s)
	}
}
