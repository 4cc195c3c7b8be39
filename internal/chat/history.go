package chat

// historyBuffer holds the undelivered mailbox queue and the bounded history
// of delivered messages. Not safe for concurrent use; one consumer drains
// one session.
type historyBuffer struct {
	mailbox []*Message
	history []*Message
	limit   int
}

func newHistoryBuffer(limit int) *historyBuffer {
	return &historyBuffer{limit: limit}
}

// enqueue adds messages not already waiting in the mailbox. Dedup is by ID
// against the mailbox only: a message already delivered into history and
// re-sent upstream (a re-triggered init does this) is enqueued again and
// will appear twice. That mirrors the upstream feed on purpose.
func (b *historyBuffer) enqueue(msgs []*Message) int {
	added := 0
	for _, m := range msgs {
		if b.inMailbox(m.ID) {
			continue
		}
		b.mailbox = append(b.mailbox, m)
		added++
	}
	return added
}

func (b *historyBuffer) inMailbox(id int64) bool {
	for _, m := range b.mailbox {
		if m.ID == id {
			return true
		}
	}
	return false
}

// pop removes the oldest mailbox entry, moves it into history, and trims
// history to the retention window.
func (b *historyBuffer) pop() (*Message, bool) {
	if len(b.mailbox) == 0 {
		return nil, false
	}
	m := b.mailbox[0]
	b.mailbox = b.mailbox[1:]

	b.history = append(b.history, m)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = append([]*Message(nil), b.history[over:]...)
	}
	return m, true
}

// markDeleted flags matching messages already in history. Messages still
// waiting in the mailbox are not checked; a deletion event only scans the
// history that exists when it arrives. Documented limitation, kept.
func (b *historyBuffer) markDeleted(messageIDs []int64) int {
	flagged := 0
	for _, m := range b.history {
		for _, id := range messageIDs {
			if m.ID == id {
				m.markDeleted()
				flagged++
				break
			}
		}
	}
	return flagged
}

// snapshot is a read-only copy of history, oldest first.
func (b *historyBuffer) snapshot() []*Message {
	return append([]*Message(nil), b.history...)
}

func (b *historyBuffer) clearMailbox() { b.mailbox = nil }

func (b *historyBuffer) mailboxLen() int { return len(b.mailbox) }
