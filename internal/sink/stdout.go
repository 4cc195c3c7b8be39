package sink

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/you/rumblechat/internal/core"
	"github.com/you/rumblechat/internal/ingesttrace"
)

// StdoutWriter prints one JSON line per message, for piping into jq or a
// log shipper.
type StdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewStdoutWriter(out io.Writer) *StdoutWriter {
	if out == nil {
		out = os.Stdout
	}
	return &StdoutWriter{out: out}
}

func (w *StdoutWriter) Write(rec core.ChatRecord, trace *ingesttrace.MessageTrace) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(line, '\n')); err != nil {
		return err
	}
	if trace != nil {
		trace.IncCounter(ingesttrace.StageWrittenToDB)
	}
	return nil
}

// MultiWriter fans one record out to every writer; the first error wins
// but later writers still run.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(rec core.ChatRecord, trace *ingesttrace.MessageTrace) error {
	var first error
	for _, w := range m.writers {
		if err := w.Write(rec, trace); err != nil && first == nil {
			first = err
		}
	}
	return first
}
