package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestQueue(t *testing.T) *OfflineQueue {
	t.Helper()

	queue, err := NewOfflineQueue(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("NewOfflineQueue() error = %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	return queue
}

func TestEnqueueAndDue(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	if err := queue.Enqueue("peer-a", "msg-1", []byte("payload-1"), 4, now, now+60000); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := queue.Enqueue("peer-b", "msg-2", []byte("payload-2"), 4, now+10, now+60000); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	due, err := queue.Due(now+10, 100)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}

	if len(due) != 2 {
		t.Fatalf("Due() returned %d entries, want 2", len(due))
	}

	// Oldest first
	if due[0].MessageID != "msg-1" || due[1].MessageID != "msg-2" {
		t.Errorf("Due() order = [%s, %s], want [msg-1, msg-2]", due[0].MessageID, due[1].MessageID)
	}

	if !bytes.Equal(due[0].Payload, []byte("payload-1")) {
		t.Errorf("Due() payload = %q, want payload-1", due[0].Payload)
	}
	if due[0].Attempts != 0 {
		t.Errorf("Due() fresh entry attempts = %d, want 0", due[0].Attempts)
	}
	if due[0].MaxAttempts != 4 {
		t.Errorf("Due() max attempts = %d, want 4", due[0].MaxAttempts)
	}
}

func TestEnqueueDuplicateIsNoOp(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	queue.Enqueue("peer-a", "msg-1", []byte("original"), 4, now, now+60000)

	// Bump it so a second enqueue would be visible as a reset
	due, _ := queue.Due(now, 1)
	if len(due) != 1 {
		t.Fatalf("Due() returned %d entries, want 1", len(due))
	}
	queue.Bump(due[0].ID, 2, now+5000)

	if err := queue.Enqueue("peer-a", "msg-1", []byte("replaced"), 4, now, now+60000); err != nil {
		t.Fatalf("Enqueue() duplicate error = %v", err)
	}

	total, _ := queue.Len()
	if total != 1 {
		t.Errorf("Len() = %d after duplicate enqueue, want 1", total)
	}

	due, _ = queue.Due(now+5000, 100)
	if len(due) != 1 {
		t.Fatalf("Due() returned %d entries, want 1", len(due))
	}
	if due[0].Attempts != 2 {
		t.Errorf("duplicate enqueue reset attempts to %d, want 2", due[0].Attempts)
	}
	if !bytes.Equal(due[0].Payload, []byte("original")) {
		t.Error("duplicate enqueue replaced the payload")
	}

	t.Logf("✅ Duplicate enqueue left the original entry untouched")
}

func TestEnqueueSameMessageTwoRecipients(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	// Group fan-out queues one message ID for several offline members
	queue.Enqueue("peer-a", "msg-1", []byte("p"), 4, now, now+60000)
	queue.Enqueue("peer-b", "msg-1", []byte("p"), 4, now, now+60000)

	total, _ := queue.Len()
	if total != 2 {
		t.Fatalf("Len() = %d, want one entry per recipient", total)
	}

	countA, _ := queue.CountForRecipient("peer-a")
	countB, _ := queue.CountForRecipient("peer-b")
	if countA != 1 || countB != 1 {
		t.Errorf("per-recipient counts = %d/%d, want 1/1", countA, countB)
	}
}

func TestBumpReschedules(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	queue.Enqueue("peer-a", "msg-1", []byte("payload"), 4, now, now+600000)

	due, _ := queue.Due(now, 1)
	if len(due) != 1 {
		t.Fatalf("Due() returned %d entries, want 1", len(due))
	}
	if err := queue.Bump(due[0].ID, 1, now+5000); err != nil {
		t.Fatalf("Bump() error = %v", err)
	}

	// Not due before the rescheduled time
	due, _ = queue.Due(now+4999, 100)
	if len(due) != 0 {
		t.Errorf("Due() before retry time returned %d entries, want 0", len(due))
	}

	// Due once it passes
	due, _ = queue.Due(now+5000, 100)
	if len(due) != 1 {
		t.Fatalf("Due() at retry time returned %d entries, want 1", len(due))
	}
	if due[0].Attempts != 1 {
		t.Errorf("Due() attempts = %d, want 1", due[0].Attempts)
	}
}

func TestDelete(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	queue.Enqueue("peer-a", "msg-1", []byte("payload"), 4, now, now+60000)

	due, _ := queue.Due(now, 1)
	if len(due) != 1 {
		t.Fatalf("Due() returned %d entries, want 1", len(due))
	}
	if err := queue.Delete(due[0].ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	total, _ := queue.Len()
	if total != 0 {
		t.Errorf("Len() = %d after delete, want 0", total)
	}

	// Deleting again is harmless
	if err := queue.Delete(due[0].ID); err != nil {
		t.Errorf("Delete() second call error = %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	queue.Enqueue("peer-a", "msg-old", []byte("stale"), 4, now, now+1000)
	queue.Enqueue("peer-b", "msg-new", []byte("fresh"), 4, now, now+100000)

	expired, err := queue.SweepExpired(now + 1000)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}

	if len(expired) != 1 {
		t.Fatalf("SweepExpired() returned %d entries, want 1", len(expired))
	}
	if expired[0].MessageID != "msg-old" {
		t.Errorf("SweepExpired() dropped %s, want msg-old", expired[0].MessageID)
	}
	if expired[0].Recipient != "peer-a" {
		t.Errorf("SweepExpired() recipient = %s, want peer-a", expired[0].Recipient)
	}

	total, _ := queue.Len()
	if total != 1 {
		t.Errorf("Len() = %d after sweep, want 1", total)
	}

	// A second sweep finds nothing: the drop is reported exactly once
	expired, err = queue.SweepExpired(now + 1000)
	if err != nil {
		t.Fatalf("SweepExpired() second call error = %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("SweepExpired() second call returned %d entries, want 0", len(expired))
	}

	t.Logf("✅ Expired entry dropped and reported exactly once")
}

func TestDueExcludesExpired(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	queue.Enqueue("peer-a", "msg-1", []byte("payload"), 4, now, now+1000)

	// Past expiry: due by retry time but excluded
	due, _ := queue.Due(now+2000, 100)
	if len(due) != 0 {
		t.Errorf("Due() returned %d expired entries, want 0", len(due))
	}
}

func TestDueLimit(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	for i := 0; i < 5; i++ {
		queue.Enqueue("peer-a", "msg-"+string(rune('a'+i)), []byte("p"), 4, now+int64(i), now+60000)
	}

	due, err := queue.Due(now+10, 3)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 3 {
		t.Errorf("Due() with limit 3 returned %d entries", len(due))
	}
}

func TestCountForRecipient(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	queue.Enqueue("peer-a", "msg-1", []byte("p"), 4, now, now+60000)
	queue.Enqueue("peer-a", "msg-2", []byte("p"), 4, now, now+60000)
	queue.Enqueue("peer-b", "msg-3", []byte("p"), 4, now, now+60000)

	count, err := queue.CountForRecipient("peer-a")
	if err != nil {
		t.Fatalf("CountForRecipient() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountForRecipient(peer-a) = %d, want 2", count)
	}

	count, _ = queue.CountForRecipient("peer-c")
	if count != 0 {
		t.Errorf("CountForRecipient(peer-c) = %d, want 0", count)
	}
}

func TestQueueStats(t *testing.T) {
	queue := newTestQueue(t)
	now := int64(1700000000000)

	queue.Enqueue("peer-a", "msg-1", []byte("p"), 4, now, now+60000)
	queue.Enqueue("peer-a", "msg-2", []byte("p"), 4, now, now+60000)
	queue.Enqueue("peer-b", "msg-3", []byte("p"), 4, now, now+60000)

	stats, err := queue.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats["total_entries"] != 3 {
		t.Errorf("Stats() total_entries = %v, want 3", stats["total_entries"])
	}

	byRecipient := stats["by_recipient"].(map[string]int)
	if byRecipient["peer-a"] != 2 || byRecipient["peer-b"] != 1 {
		t.Errorf("Stats() by_recipient = %v", byRecipient)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	now := int64(1700000000000)

	queue, err := NewOfflineQueue(dbPath)
	if err != nil {
		t.Fatalf("NewOfflineQueue() error = %v", err)
	}
	queue.Enqueue("peer-a", "msg-1", []byte("durable"), 4, now, now+60000)
	entries, _ := queue.Due(now, 1)
	if len(entries) != 1 {
		t.Fatalf("Due() returned %d entries, want 1", len(entries))
	}
	queue.Bump(entries[0].ID, 2, now+5000)
	queue.Close()

	reopened, err := NewOfflineQueue(dbPath)
	if err != nil {
		t.Fatalf("NewOfflineQueue() reopen error = %v", err)
	}
	defer reopened.Close()

	due, err := reopened.Due(now+5000, 100)
	if err != nil {
		t.Fatalf("Due() after reopen error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Due() after reopen returned %d entries, want 1", len(due))
	}
	if due[0].Attempts != 2 {
		t.Errorf("attempts after reopen = %d, want 2", due[0].Attempts)
	}
	if !bytes.Equal(due[0].Payload, []byte("durable")) {
		t.Error("payload corrupted across reopen")
	}

	t.Logf("✅ Queue state survived close and reopen")
}
