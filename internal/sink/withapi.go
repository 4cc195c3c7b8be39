package sink

import (
	"github.com/you/rumblechat/internal/core"
	"github.com/you/rumblechat/internal/ingesttrace"
)

type broadcaster interface {
	Broadcast(core.ChatRecord)
}

// WithBroadcast writes to SQLite and then fans the record out to live API
// clients. Broadcast only happens for rows that actually persisted.
type WithBroadcast struct {
	*SQLiteSink
	api broadcaster
}

func WithAPI(base *SQLiteSink, api broadcaster) *WithBroadcast {
	return &WithBroadcast{SQLiteSink: base, api: api}
}

func (w *WithBroadcast) Write(rec core.ChatRecord, trace *ingesttrace.MessageTrace) error {
	if err := w.SQLiteSink.Write(rec, trace); err != nil {
		return err
	}
	if w.api != nil {
		w.api.Broadcast(rec)
	}
	return nil
}
