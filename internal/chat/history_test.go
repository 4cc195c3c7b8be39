package chat

import "testing"

func msgs(ids ...int64) []*Message {
	out := make([]*Message, len(ids))
	for i, id := range ids {
		out[i] = &Message{ID: id}
	}
	return out
}

func TestEnqueueDedupesAgainstMailboxOnly(t *testing.T) {
	b := newHistoryBuffer(10)

	if added := b.enqueue(msgs(1, 2, 3)); added != 3 {
		t.Fatalf("added = %d, want 3", added)
	}
	if added := b.enqueue(msgs(2, 4)); added != 1 {
		t.Fatalf("mailbox dedupe failed, added = %d", added)
	}

	// Drain everything into history.
	for i := 0; i < 4; i++ {
		if _, ok := b.pop(); !ok {
			t.Fatalf("pop %d failed", i)
		}
	}

	// A message already delivered to history is NOT deduped; the feed
	// re-sends on re-init and the duplicate is intentional.
	if added := b.enqueue(msgs(1)); added != 1 {
		t.Fatalf("history must not dedupe, added = %d", added)
	}
}

func TestPopIsFIFOAndFeedsHistory(t *testing.T) {
	b := newHistoryBuffer(10)
	b.enqueue(msgs(1, 2, 3))

	for _, want := range []int64{1, 2, 3} {
		m, ok := b.pop()
		if !ok || m.ID != want {
			t.Fatalf("pop = %v,%v want id %d", m, ok, want)
		}
		hist := b.snapshot()
		if hist[len(hist)-1].ID != want {
			t.Fatalf("popped message must be newest history entry")
		}
	}

	if _, ok := b.pop(); ok {
		t.Fatalf("empty mailbox must not pop")
	}
}

func TestHistoryTrimsToLimit(t *testing.T) {
	b := newHistoryBuffer(3)
	b.enqueue(msgs(1, 2, 3, 4, 5))
	for {
		if _, ok := b.pop(); !ok {
			break
		}
	}

	hist := b.snapshot()
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	for i, want := range []int64{3, 4, 5} {
		if hist[i].ID != want {
			t.Fatalf("history[%d] = %d, want %d", i, hist[i].ID, want)
		}
	}
}

func TestMarkDeletedScansHistoryOnly(t *testing.T) {
	b := newHistoryBuffer(10)
	b.enqueue(msgs(1, 2))
	b.pop() // 1 into history, 2 still in mailbox

	if flagged := b.markDeleted([]int64{1, 2}); flagged != 1 {
		t.Fatalf("flagged = %d, want 1 (mailbox is not scanned)", flagged)
	}

	hist := b.snapshot()
	if !hist[0].Deleted() {
		t.Fatalf("history message not flagged")
	}

	// Message 2 reaches history unflagged; the deletion is not re-run.
	m, _ := b.pop()
	if m.Deleted() {
		t.Fatalf("mailbox message must not have been flagged")
	}
}

func TestClearMailbox(t *testing.T) {
	b := newHistoryBuffer(10)
	b.enqueue(msgs(1, 2))
	b.clearMailbox()
	if b.mailboxLen() != 0 {
		t.Fatalf("mailbox not cleared")
	}
	if _, ok := b.pop(); ok {
		t.Fatalf("cleared mailbox must not pop")
	}
}
