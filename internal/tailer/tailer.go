// Package tailer drains a live chat session into the configured sink,
// tracking which rows it wrote so later deletion events can be reflected
// in the database.
package tailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/you/rumblechat/internal/auth"
	"github.com/you/rumblechat/internal/chat"
	"github.com/you/rumblechat/internal/core"
	"github.com/you/rumblechat/internal/httpapi"
	"github.com/you/rumblechat/internal/ingesttrace"
	"github.com/you/rumblechat/internal/sink"
)

// Feed is the live session the tailer drains. *chat.Session satisfies it.
type Feed interface {
	NextMessage(ctx context.Context) (*chat.Message, error)
	Author(m *chat.Message) *chat.User
	History() []*chat.Message
	SetAuth(a chat.Authenticator)
}

// Deleter flags already-persisted rows as deleted.
type Deleter interface {
	MarkDeleted(ctx context.Context, ids []int64) error
}

// Options configures a Tailer beyond its feed and writer.
type Options struct {
	// Stream labels traces and logs, usually the base-36 stream ID.
	Stream string

	// Deleter receives IDs of persisted messages the feed later deletes.
	// Nil disables the deletion sweep.
	Deleter Deleter

	// Metrics is optional; a nil receiver is a no-op.
	Metrics *httpapi.Metrics

	// TokenFile and Auth enable ReloadAuth. Auth's SessionToken is
	// replaced with the file contents on every reload.
	TokenFile string
	Auth      auth.Config

	Logger *slog.Logger
}

type Tailer struct {
	feed   Feed
	writer sink.Writer
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	written map[int64]bool // id -> deletion already persisted
}

func New(feed Feed, writer sink.Writer, opts Options) *Tailer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{
		feed:    feed,
		writer:  writer,
		opts:    opts,
		logger:  logger,
		written: make(map[int64]bool),
	}
}

// Run drains the feed until the stream closes or ctx is cancelled. A
// closed stream is a clean exit; anything else is returned.
func (t *Tailer) Run(ctx context.Context) error {
	for {
		m, err := t.feed.NextMessage(ctx)
		if err != nil {
			t.sweepDeletions(context.WithoutCancel(ctx))
			if errors.Is(err, chat.ErrChatClosed) {
				t.logger.Info("tailer: stream closed", "stream", t.opts.Stream)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tailer: feed: %w", err)
		}
		t.record(m)
		t.sweepDeletions(ctx)
	}
}

func (t *Tailer) record(m *chat.Message) {
	rec := core.ChatRecord{
		ID:        m.ID,
		Ts:        m.Time,
		UserID:    m.UserID,
		ChannelID: m.ChannelID,
		Text:      m.Text,
		Deleted:   m.Deleted(),
	}
	if m.Rant != nil {
		rec.RantCents = m.Rant.PriceCents
	}
	if u := t.feed.Author(m); u != nil {
		rec.Username = u.Username()
	}
	if raw, err := json.Marshal(rec); err == nil {
		rec.RawJSON = string(raw)
	}

	trace := ingesttrace.NewTraceFromFeedMessage(t.opts.Stream, rec.Username, snippet(m.Text))
	trace.IncCounter(ingesttrace.StageRecordedOK)
	t.opts.Metrics.IncFeedMessages()

	if err := t.writer.Write(rec, trace); err != nil {
		trace.IncCounter(ingesttrace.StageDropped("db_write"))
		t.opts.Metrics.IncDBWriteErrors()
		t.logger.Error("tailer: write message", "id", rec.ID, "err", err)
		return
	}

	t.mu.Lock()
	if _, ok := t.written[rec.ID]; !ok {
		t.written[rec.ID] = rec.Deleted
	}
	t.mu.Unlock()
}

// sweepDeletions scans the session history for messages deleted after we
// persisted them and pushes the flag down to the sink.
func (t *Tailer) sweepDeletions(ctx context.Context) {
	if t.opts.Deleter == nil {
		return
	}

	var pending []int64
	t.mu.Lock()
	for _, m := range t.feed.History() {
		if !m.Deleted() {
			continue
		}
		marked, ok := t.written[m.ID]
		if !ok || marked {
			continue
		}
		pending = append(pending, m.ID)
	}
	t.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	if err := t.opts.Deleter.MarkDeleted(ctx, pending); err != nil {
		t.opts.Metrics.IncDBWriteErrors()
		t.logger.Error("tailer: mark deleted", "ids", pending, "err", err)
		return
	}

	t.mu.Lock()
	for _, id := range pending {
		t.written[id] = true
	}
	t.mu.Unlock()
	for range pending {
		t.opts.Metrics.IncFeedDeletions()
	}
	t.logger.Info("tailer: deletions persisted", "ids", pending)
}

// ReloadAuth re-reads the session token file and swaps a fresh
// authenticator into the feed without reconnecting it.
func (t *Tailer) ReloadAuth() error {
	path := strings.TrimSpace(t.opts.TokenFile)
	if path == "" {
		return errors.New("tailer: session token file not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tailer: read session token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return errors.New("tailer: session token file is empty")
	}

	cfg := t.opts.Auth
	cfg.SessionToken = token
	client, err := auth.New(cfg)
	if err != nil {
		return fmt.Errorf("tailer: rebuild auth: %w", err)
	}
	t.feed.SetAuth(client)
	t.logger.Info("tailer: session token reloaded", "stream", t.opts.Stream)
	return nil
}

func snippet(text string) string {
	const max = 48
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
