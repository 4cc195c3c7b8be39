package sink

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you/rumblechat/internal/core"
	"github.com/you/rumblechat/internal/ingesttrace"
)

type captureWriter struct {
	mu   sync.Mutex
	recs []core.ChatRecord
	err  error
}

func (c *captureWriter) Write(rec core.ChatRecord, _ *ingesttrace.MessageTrace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func rec(id int64) core.ChatRecord {
	return core.ChatRecord{ID: id, Ts: time.Unix(id, 0).UTC(), UserID: 1, Username: "a", Text: "x"}
}

func TestBufferedFlushesAtBatchSize(t *testing.T) {
	base := &captureWriter{}
	b := NewBufferedWriter(base, BufferedOptions{BatchSize: 3})

	if err := b.Write(rec(1), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := b.Write(rec(2), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if base.count() != 0 {
		t.Fatalf("flushed before batch full: %d", base.count())
	}
	if err := b.Write(rec(3), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if base.count() != 3 {
		t.Fatalf("expected flush of 3, got %d", base.count())
	}
}

func TestBufferedFlushesOnTimer(t *testing.T) {
	base := &captureWriter{}
	b := NewBufferedWriter(base, BufferedOptions{BatchSize: 100, FlushInterval: 20 * time.Millisecond})

	if err := b.Write(rec(1), nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for base.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if base.count() != 1 {
		t.Fatalf("timer flush did not happen, count=%d", base.count())
	}
}

func TestBufferedCloseFlushesRemainder(t *testing.T) {
	base := &captureWriter{}
	b := NewBufferedWriter(base, BufferedOptions{BatchSize: 10})

	for i := int64(1); i <= 4; i++ {
		if err := b.Write(rec(i), nil); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if base.count() != 4 {
		t.Fatalf("close should flush the remainder, got %d", base.count())
	}

	if err := b.Write(rec(5), nil); err == nil {
		t.Fatalf("write after close must fail")
	}
}

func TestBufferedSurfacesTimerErrorOnNextWrite(t *testing.T) {
	base := &captureWriter{err: errors.New("disk full")}
	b := NewBufferedWriter(base, BufferedOptions{BatchSize: 100, FlushInterval: 10 * time.Millisecond})

	if err := b.Write(rec(1), nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var got error
	for time.Now().Before(deadline) {
		time.Sleep(15 * time.Millisecond)
		if err := b.Write(rec(2), nil); err != nil {
			got = err
			break
		}
	}
	if got == nil {
		t.Fatalf("timer flush error never surfaced")
	}
}
