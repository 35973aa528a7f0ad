package engine

import (
	"log"
	"unicode/utf8"

	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

// HandleInbound processes one raw packet from the transport. Malformed
// packets are dropped without a response, so probing peers learn
// nothing. Packets that require an ack are deduplicated per peer: a
// retransmission of something already handled gets its ack resent and
// nothing else, so lost acks never surface duplicate events.
func (e *Engine) HandleInbound(peer protocol.NodeID, data []byte) {
	if protocol.IsZeroNodeID(peer) {
		return
	}

	pkt, err := protocol.DecodePacket(data)
	if err != nil {
		log.Printf("⚠️ Dropping malformed packet from %s: %v", shortNode(peer), err)
		return
	}

	body := pkt.Body
	if pkt.Header.HasFlag(protocol.FlagPadded) {
		if body, err = protocol.UnpadBody(body); err != nil {
			log.Printf("⚠️ Dropping packet with bad padding from %s", shortNode(peer))
			return
		}
	}

	requiresAck := pkt.Header.HasFlag(protocol.FlagRequiresAck) && pkt.Header.Type != protocol.TypeAck
	if requiresAck && e.dedupFor(peer).known(pkt.Header.MsgID) {
		// Already handled; the ack must have been lost
		if err := e.sendAck(peer, pkt.Header.MsgID, protocol.AckDelivered); err != nil {
			log.Printf("⚠️ Failed to re-ack %s: %v", shortMsg(pkt.Header.MsgID), err)
		}
		return
	}

	var ok bool
	switch pkt.Header.Type {
	case protocol.TypeText:
		ok = e.handleText(peer, pkt.Header, body)
	case protocol.TypeAck:
		ok = e.handleAck(peer, body)
	case protocol.TypeTyping:
		ok = e.handleTyping(peer, body)
	case protocol.TypeReaction:
		ok = e.handleReaction(peer, body)
	case protocol.TypeDelete:
		ok = e.handleDelete(peer, body)
	case protocol.TypeEdit:
		ok = e.handleEdit(peer, body)
	case protocol.TypeGroupInvite:
		ok = e.handleGroupInvite(peer, body)
	case protocol.TypeGroupInviteAccept:
		ok = e.handleGroupInviteAccept(peer, body)
	case protocol.TypeGroupKeyUpdate:
		ok = e.handleGroupKeyUpdate(peer, body)
	case protocol.TypeGroupText:
		ok = e.handleGroupText(peer, body)
	case protocol.TypeGroupUpdate:
		ok = e.handleGroupUpdate(peer, body)
	case protocol.TypeFileMeta:
		ok = e.handleFileMeta(peer, body)
	case protocol.TypeFileChunk:
		ok = e.handleFileChunk(peer, body)
	case protocol.TypeFileChunkAck:
		ok = e.handleFileChunkAck(peer, body)
	case protocol.TypeFileResume:
		ok = e.handleFileResume(peer, body)
	case protocol.TypeFileCancel:
		ok = e.handleFileCancel(peer, body)
	case protocol.TypeFileDone:
		ok = e.handleFileDone(peer, body)
	default:
		log.Printf("⚠️ Unknown packet type 0x%02x from %s", pkt.Header.Type, shortNode(peer))
		return
	}

	if ok && requiresAck {
		// Only a handled packet counts as seen; a packet the engine
		// could not process yet (say a group text ahead of its key
		// update) must be reprocessed when the sender retries it
		e.dedupFor(peer).remember(pkt.Header.MsgID)
		if err := e.sendAck(peer, pkt.Header.MsgID, protocol.AckDelivered); err != nil {
			log.Printf("⚠️ Failed to ack %s: %v", shortMsg(pkt.Header.MsgID), err)
		}
	}
}

// handleText delivers an incoming text message
func (e *Engine) handleText(peer protocol.NodeID, h *protocol.Header, body []byte) bool {
	text := &protocol.TextPacket{}
	if err := text.Decode(body); err != nil {
		return false
	}
	if len(text.Text) == 0 || len(text.Text) > e.cfg.MaxTextLen || !utf8.ValidString(text.Text) {
		return false
	}

	log.Printf("📨 Message %s from %s (%d bytes)", shortMsg(h.MsgID), shortNode(peer), len(text.Text))

	if e.OnMessageReceived != nil {
		e.OnMessageReceived(peer, h.MsgID, text)
	}
	return true
}

// handleAck resolves a pending retransmission and advances the
// message status. Acks for unknown messages are ignored: the message
// may have failed out or been deleted already.
func (e *Engine) handleAck(peer protocol.NodeID, body []byte) bool {
	ack := &protocol.AckPacket{}
	if err := ack.Decode(body); err != nil {
		return false
	}

	delete(e.pending, pendingKey{msgID: ack.AckMsgID, peer: peer})

	msg, ok := e.messages[ack.AckMsgID]
	if !ok {
		return true
	}

	switch ack.Status {
	case protocol.AckRead:
		log.Printf("✓✓ Message %s read by %s", shortMsg(ack.AckMsgID), shortNode(peer))
		e.setStatus(msg, StatusRead)
	default:
		log.Printf("✓ Message %s delivered to %s", shortMsg(ack.AckMsgID), shortNode(peer))
		e.setStatus(msg, StatusDelivered)
	}
	return true
}

// handleTyping records the peer's typing state. A started indicator
// expires on its own after TypingTTL if no stop follows.
func (e *Engine) handleTyping(peer protocol.NodeID, body []byte) bool {
	typing := &protocol.TypingPacket{}
	if err := typing.Decode(body); err != nil {
		return false
	}

	if typing.IsTyping {
		e.typing[peer] = e.now() + e.cfg.TypingTTL.Milliseconds()
	} else {
		delete(e.typing, peer)
	}

	if e.OnTypingReceived != nil {
		e.OnTypingReceived(peer, typing.IsTyping)
	}
	return true
}

// handleReaction delivers a reaction on an earlier message
func (e *Engine) handleReaction(peer protocol.NodeID, body []byte) bool {
	reaction := &protocol.ReactionPacket{}
	if err := reaction.Decode(body); err != nil {
		return false
	}
	if len(reaction.Reaction) == 0 || len(reaction.Reaction) > e.cfg.MaxReactionLen {
		return false
	}

	if e.OnReactionReceived != nil {
		e.OnReactionReceived(peer, reaction.TargetID, reaction.Reaction, reaction.Remove)
	}
	return true
}

// handleDelete delivers a deletion request for an earlier message
func (e *Engine) handleDelete(peer protocol.NodeID, body []byte) bool {
	del := &protocol.DeletePacket{}
	if err := del.Decode(body); err != nil {
		return false
	}

	log.Printf("🗑️ Peer %s deleted message %s", shortNode(peer), shortMsg(del.TargetID))

	if e.OnMessageDeleted != nil {
		e.OnMessageDeleted(peer, del.TargetID)
	}
	return true
}

// handleEdit delivers an edit of an earlier message
func (e *Engine) handleEdit(peer protocol.NodeID, body []byte) bool {
	edit := &protocol.EditPacket{}
	if err := edit.Decode(body); err != nil {
		return false
	}
	if len(edit.NewText) == 0 || len(edit.NewText) > e.cfg.MaxTextLen || !utf8.ValidString(edit.NewText) {
		return false
	}

	if e.OnMessageEdited != nil {
		e.OnMessageEdited(peer, edit.TargetID, edit.NewText)
	}
	return true
}
