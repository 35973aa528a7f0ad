package engine

import (
	"log"

	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
	"github.com/code3hr/cyxchat-sub000/pkg/storage"
)

// Poll runs one synchronous maintenance pass: retransmit or expire
// pending acks, retry or fail timed-out chunks, expire stale typing
// indicators, and work the offline queue. The host calls this every
// 50-100ms from the same goroutine as every other entry point. Each
// pass is bounded; nothing in it blocks or waits.
func (e *Engine) Poll() {
	now := e.now()
	e.pollPendingAcks(now)
	e.pollChunks(now)
	e.pollTyping(now)
	e.pollOfflineQueue(now)
}

// pollPendingAcks walks the pending table. An entry whose backoff has
// elapsed is resent; an entry that used its last send and still got no
// ack within AckTimeout moves to the offline queue with a fresh
// attempt counter.
func (e *Engine) pollPendingAcks(now int64) {
	for key, pa := range e.pending {
		age := now - pa.SentAt

		if pa.Attempts < e.cfg.MaxAttempts {
			if age < e.cfg.retryBackoffAt(pa.Attempts).Milliseconds() {
				continue
			}

			pa.Attempts++
			pa.SentAt = now
			if err := e.transport.Send(pa.Peer, pa.Payload); err != nil {
				log.Printf("⚠️ Resend %d of %s to %s failed: %v", pa.Attempts, shortMsg(pa.MsgID), shortNode(pa.Peer), err)
			} else {
				log.Printf("🔄 Resend %d of %s to %s", pa.Attempts, shortMsg(pa.MsgID), shortNode(pa.Peer))
			}
			continue
		}

		if age < e.cfg.AckTimeout.Milliseconds() {
			continue
		}

		// Out of direct sends. The queue takes over with its own policy.
		delete(e.pending, key)
		log.Printf("📬 Message %s to %s unacked after %d sends, queueing", shortMsg(pa.MsgID), shortNode(pa.Peer), pa.Attempts)
		e.enqueueOffline(pa.Peer, pa.MsgID, pa.Payload, now)
		e.failIfLastCopy(pa.MsgID)
	}
}

// failIfLastCopy marks a message Failed once no pending copy of it
// remains. Group fan-outs share one message ID across members, so the
// status only flips when the last outstanding copy gives up.
func (e *Engine) failIfLastCopy(msgID protocol.MessageID) {
	msg, ok := e.messages[msgID]
	if !ok {
		return
	}
	for key := range e.pending {
		if key.msgID == msgID {
			return
		}
	}
	e.setStatus(msg, StatusFailed)
}

// pollChunks retries timed-out chunks on sending transfers. A chunk
// that burned all its resends fails the whole transfer: silently
// losing part of a file is worse than failing loudly.
func (e *Engine) pollChunks(now int64) {
	for _, ft := range e.transfers {
		if ft.Direction != storage.DirectionSend || ft.State != transferActive {
			continue
		}

		exhausted := false
		for idx, att := range ft.inFlight {
			if now-att.SentAt < e.cfg.ChunkTimeout.Milliseconds() {
				continue
			}
			if att.Retries >= e.cfg.ChunkRetries {
				exhausted = true
				break
			}
			e.sendChunk(ft, int(idx))
		}

		if exhausted {
			log.Printf("⚠️ Transfer %s failed: chunk unacked after %d resends", ft.Name, e.cfg.ChunkRetries)
			fileID := ft.FileID
			e.sendFileCancel(ft.Peer, fileID)
			e.dropTransfer(ft, transferFailed)
			if e.OnFileFailed != nil {
				e.OnFileFailed(fileID, ErrTimeout)
			}
		}
	}
}

// pollTyping retires typing indicators whose TTL passed, so a lost
// stop packet cannot leave a peer typing forever
func (e *Engine) pollTyping(now int64) {
	for peer, expiry := range e.typing {
		if expiry > now {
			continue
		}
		delete(e.typing, peer)
		if e.OnTypingReceived != nil {
			e.OnTypingReceived(peer, false)
		}
	}
}

// pollOfflineQueue drops expired entries, then retries due ones.
// Delivery success removes the entry; failure schedules the next
// attempt until the queue's own budget runs out, at which point the
// failure becomes final and user-visible exactly once.
func (e *Engine) pollOfflineQueue(now int64) {
	expired, err := e.queue.SweepExpired(now)
	if err != nil {
		log.Printf("⚠️ Queue sweep failed: %v", err)
	}
	for _, entry := range expired {
		e.finalDeliveryFailure(entry)
	}

	due, err := e.queue.Due(now, e.cfg.QueueBatch)
	if err != nil {
		log.Printf("⚠️ Queue scan failed: %v", err)
		return
	}

	for _, entry := range due {
		peer, err := protocol.ParseNodeID(entry.Recipient)
		if err != nil {
			e.queue.Delete(entry.ID)
			continue
		}

		if err := e.transport.Send(peer, entry.Payload); err == nil {
			log.Printf("✅ Delivered queued packet %s to %s", short(entry.MessageID), short(entry.Recipient))
			e.queue.Delete(entry.ID)
			continue
		}

		entry.Attempts++
		if entry.Attempts >= entry.MaxAttempts {
			e.queue.Delete(entry.ID)
			e.finalDeliveryFailure(entry)
			continue
		}

		next := now + e.cfg.queueBackoffAt(entry.Attempts).Milliseconds()
		if err := e.queue.Bump(entry.ID, entry.Attempts, next); err != nil {
			log.Printf("⚠️ Failed to reschedule queue entry: %v", err)
		}
	}
}

// finalDeliveryFailure surfaces a terminal queue drop
func (e *Engine) finalDeliveryFailure(entry *storage.OfflineEntry) {
	log.Printf("⚠️ Giving up on packet %s for %s", short(entry.MessageID), short(entry.Recipient))

	msgID, err := protocol.ParseMessageID(entry.MessageID)
	if err != nil {
		return
	}
	if msg, ok := e.messages[msgID]; ok {
		e.setStatus(msg, StatusFailed)
	}

	recipient, err := protocol.ParseNodeID(entry.Recipient)
	if err != nil {
		return
	}
	if e.OnDeliveryFailed != nil {
		e.OnDeliveryFailed(recipient, msgID)
	}
}

// short trims a hex ID for log lines
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
