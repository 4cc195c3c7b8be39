package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/you/rumblechat/internal/core"
	"github.com/you/rumblechat/internal/ingesttrace"
)

func TestStdoutWriterEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewStdoutWriter(&buf)

	recs := []core.ChatRecord{
		{ID: 1, Ts: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), UserID: 10, Username: "alice", Text: "hello"},
		{ID: 2, Ts: time.Date(2026, 4, 1, 12, 0, 5, 0, time.UTC), UserID: 11, Username: "bob", Text: "hi", RantCents: 500},
	}
	for _, rec := range recs {
		if err := w.Write(rec, nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var got core.ChatRecord
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("line 2 is not JSON: %v", err)
	}
	if got.ID != 2 || got.Username != "bob" || got.RantCents != 500 {
		t.Fatalf("decoded record = %+v", got)
	}
}

type errWriter struct{ err error }

func (w errWriter) Write(core.ChatRecord, *ingesttrace.MessageTrace) error { return w.err }

func TestMultiWriterRunsAllAndReturnsFirstError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	m := NewMultiWriter(errWriter{err: boom}, NewStdoutWriter(&buf))

	err := m.Write(core.ChatRecord{ID: 7, Text: "still delivered"}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !strings.Contains(buf.String(), "still delivered") {
		t.Fatalf("second writer skipped; output = %q", buf.String())
	}
}
