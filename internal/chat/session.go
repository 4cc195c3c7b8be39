// Package chat implements the SSE chat client: one session per stream,
// reconstructing users, channels, badges, and messages from the feed's
// partial JSON deltas and exposing a blocking pull API over them.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/you/rumblechat/internal/ids"
	"github.com/you/rumblechat/internal/sse"
	"github.com/you/rumblechat/internal/static"
)

var (
	// ErrChatClosed is returned by NextMessage once the stream has ended.
	// A closed session never reopens; the error is sticky.
	ErrChatClosed = errors.New("chat: stream closed")

	// ErrNotLoggedIn rejects mutation calls on sessions built without an
	// authenticator. No network call is made.
	ErrNotLoggedIn = errors.New("chat: not logged in")

	// ErrAlreadyDeleted rejects a second explicit delete of a message.
	ErrAlreadyDeleted = errors.New("chat: message already deleted")

	// ErrMessageTooLong rejects a send exceeding the configured maximum.
	ErrMessageTooLong = errors.New("chat: message exceeds maximum length")

	// ErrSendCooldown rejects a send before the cooldown has elapsed.
	ErrSendCooldown = errors.New("chat: sending messages too fast")
)

// Authenticator is the external session/auth collaborator the chat core
// delegates side-effecting operations to. The core never acquires
// credentials itself.
type Authenticator interface {
	SendMessage(ctx context.Context, stream ids.StreamID, text string, channelID int64) (int64, json.RawMessage, error)
	DeleteMessage(ctx context.Context, stream ids.StreamID, messageID int64) error
	PinMessage(ctx context.Context, stream ids.StreamID, messageID int64, unpin bool) error
	MuteUser(ctx context.Context, username string, isChannel bool, video int64, durationSecs int, total bool) error
	MutedRecordID(ctx context.Context, username string) (int64, error)
	UnmuteUser(ctx context.Context, recordID int64) error
}

// Transport yields successive feed events. Next blocks until an event
// arrives and returns io.EOF once the stream has ended for good.
type Transport interface {
	Next(ctx context.Context) (sse.Event, error)
	Close() error
}

// Options configures a session. The zero value works for read-only use.
type Options struct {
	// Auth enables Send/Delete/Pin/Mute. Nil means read-only.
	Auth Authenticator

	// HistoryLen bounds the delivered-message history. Default 1000.
	HistoryLen int

	// HTTPClient is used for the SSE connection. Must have no timeout;
	// nil gets a fresh timeout-free client.
	HTTPClient *http.Client

	// StreamURL overrides the SSE endpoint, for tests and dev servers.
	StreamURL string
}

const defaultHistoryLen = 1000

// Session is one live chat stream. One goroutine drains NextMessage;
// mutation calls are independent short-lived requests and may run
// alongside it.
type Session struct {
	stream ids.StreamID
	conn   Transport

	authMu sync.RWMutex
	auth   Authenticator

	reg *Registry
	buf *historyBuffer

	// stateMu guards the config/pin state the consumer loop refreshes
	// on mid-session init and pin events while mutation calls read it.
	stateMu       sync.RWMutex
	pinned        *Message
	rantsEnabled  bool
	maxMessageLen int

	// sendMu serializes sends; lastSend is the wall clock of the last
	// send that reached upstream.
	sendMu   sync.Mutex
	lastSend time.Time

	closed atomic.Bool
}

// Open connects to the stream's SSE feed and consumes events until the
// first decodable one, which the protocol requires to be init. Anything
// else aborts construction.
func Open(ctx context.Context, stream ids.StreamID, opts Options) (*Session, error) {
	url := opts.StreamURL
	if url == "" {
		url = fmt.Sprintf(static.SSEStream, stream.B10())
	}

	conn, err := sse.NewClient(opts.HTTPClient, static.UserAgent).Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chat: connect stream %s: %w", stream.B36(), err)
	}

	s, err := Attach(ctx, stream, conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Attach builds a session over an already-open transport. The next event
// the transport yields must be init.
func Attach(ctx context.Context, stream ids.StreamID, conn Transport, opts Options) (*Session, error) {
	historyLen := opts.HistoryLen
	if historyLen <= 0 {
		historyLen = defaultHistoryLen
	}

	s := &Session{
		stream:        stream,
		conn:          conn,
		auth:          opts.Auth,
		reg:           NewRegistry(),
		buf:           newHistoryBuffer(historyLen),
		maxMessageLen: static.MaxMessageLen,
	}

	ev, err := s.nextEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: stream ended before init: %w", err)
	}
	init, ok := ev.(*InitEvent)
	if !ok {
		return nil, fmt.Errorf("chat: first event is %T, want init", ev)
	}
	s.applyInit(init)
	return s, nil
}

// nextEvent pulls the next decodable event, skipping blank keep-alives and
// malformed payloads. This is an explicit loop: long runs of skippable
// events must not grow the stack.
func (s *Session) nextEvent(ctx context.Context) (Event, error) {
	for {
		raw, err := s.conn.Next(ctx)
		if err != nil {
			return nil, err
		}
		if raw.Data == "" {
			continue // keep-alive
		}
		ev, err := DecodeEvent([]byte(raw.Data))
		if err != nil {
			log.Printf("chat: skipping event: %v", err)
			continue
		}
		return ev, nil
	}
}

// NextMessage returns the next chat message, blocking until one arrives.
// Once the stream closes it returns ErrChatClosed, on this and every later
// call. Context cancellation abandons the pending read without closing the
// session.
func (s *Session) NextMessage(ctx context.Context) (*Message, error) {
	for {
		if s.closed.Load() {
			return nil, ErrChatClosed
		}
		if m, ok := s.buf.pop(); ok {
			return m, nil
		}

		ev, err := s.nextEvent(ctx)
		if errors.Is(err, io.EOF) {
			s.closed.Store(true)
			return nil, ErrChatClosed
		}
		if err != nil {
			return nil, err
		}
		s.apply(ev)
	}
}

func (s *Session) apply(ev Event) {
	switch e := ev.(type) {
	case *InitEvent:
		// Mid-session init: a full refresh through the ordinary upsert
		// path. History stays.
		s.applyInit(e)
	case *MessageBatchEvent:
		s.ingest(e.Users, e.Channels, e.Messages)
	case *DeletionEvent:
		s.buf.markDeleted(e.MessageIDs)
	case *PinEvent:
		s.reg.ObserveMessage(e.Message)
		s.stateMu.Lock()
		s.pinned = newMessage(e.Message)
		s.stateMu.Unlock()
	case *UnknownEvent:
		log.Printf("chat: unhandled event type %q", e.Type)
	}
}

func (s *Session) applyInit(e *InitEvent) {
	s.ingest(e.Users, e.Channels, e.Messages)
	s.reg.LoadBadges(e.Badges)
	s.stateMu.Lock()
	s.rantsEnabled = e.RantsEnabled
	if e.MessageLengthMax > 0 {
		s.maxMessageLen = e.MessageLengthMax
	}
	s.stateMu.Unlock()
}

// ingest applies one batch: users first, then channels (owner resolution
// scans users), then messages.
func (s *Session) ingest(users []UserData, channels []ChannelData, messages []MessageData) {
	for _, d := range users {
		s.reg.UpsertUser(d)
	}
	for _, d := range channels {
		s.reg.UpsertChannel(d)
	}
	msgs := make([]*Message, 0, len(messages))
	for _, d := range messages {
		s.reg.ObserveMessage(d)
		msgs = append(msgs, newMessage(d))
	}
	s.buf.enqueue(msgs)
}

// Send posts a message, optionally under a channel identity (0 for none).
// It returns the new message ID and the caller's refreshed user record.
// Length and cooldown violations are rejected locally.
func (s *Session) Send(ctx context.Context, text string, channelID int64) (int64, *User, error) {
	auth := s.authenticator()
	if auth == nil {
		return 0, nil, ErrNotLoggedIn
	}
	if utf8.RuneCountInString(text) > s.MaxMessageLen() {
		return 0, nil, ErrMessageTooLong
	}

	// The cooldown counts from the last send that reached upstream; a
	// failed send does not start it.
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.lastSend.IsZero() && time.Since(s.lastSend) < static.SendCooldown {
		return 0, nil, ErrSendCooldown
	}

	id, rawUser, err := auth.SendMessage(ctx, s.stream, text, channelID)
	if err != nil {
		return 0, nil, err
	}
	s.lastSend = time.Now()

	var u *User
	if len(rawUser) > 0 {
		var d UserData
		if err := json.Unmarshal(rawUser, &d); err == nil {
			u = s.reg.UpsertUser(d)
		}
	}
	return id, u, nil
}

// Delete removes a message upstream and flags the local copy on success.
func (s *Session) Delete(ctx context.Context, m *Message) error {
	if m.Deleted() {
		return ErrAlreadyDeleted
	}
	auth := s.authenticator()
	if auth == nil {
		return ErrNotLoggedIn
	}
	if err := auth.DeleteMessage(ctx, s.stream, m.ID); err != nil {
		return err
	}
	m.markDeleted()
	return nil
}

// Pin pins a message. The pinned-message state updates when the feed echoes
// the pin event back, not here.
func (s *Session) Pin(ctx context.Context, m *Message) error {
	auth := s.authenticator()
	if auth == nil {
		return ErrNotLoggedIn
	}
	return auth.PinMessage(ctx, s.stream, m.ID, false)
}

// Unpin unpins m, or the currently pinned message when m is nil.
func (s *Session) Unpin(ctx context.Context, m *Message) error {
	auth := s.authenticator()
	if auth == nil {
		return ErrNotLoggedIn
	}
	if m == nil {
		m = s.PinnedMessage()
	}
	if m == nil {
		return errors.New("chat: no pinned message to unpin")
	}
	return auth.PinMessage(ctx, s.stream, m.ID, true)
}

// Mute mutes a username on this stream, or everywhere when total is set.
// durationSecs of 0 means indefinitely.
func (s *Session) Mute(ctx context.Context, username string, durationSecs int, total bool) error {
	auth := s.authenticator()
	if auth == nil {
		return ErrNotLoggedIn
	}
	return auth.MuteUser(ctx, username, false, s.stream.B10(), durationSecs, total)
}

// Unmute looks up the username's mute record and removes it.
func (s *Session) Unmute(ctx context.Context, username string) error {
	auth := s.authenticator()
	if auth == nil {
		return ErrNotLoggedIn
	}
	recordID, err := auth.MutedRecordID(ctx, username)
	if err != nil {
		return err
	}
	if recordID == 0 {
		return fmt.Errorf("chat: %s has no mute record", username)
	}
	return auth.UnmuteUser(ctx, recordID)
}

// SetAuth swaps the authenticator, for session-token rotation without
// reconnecting the feed. Nil makes the session read-only.
func (s *Session) SetAuth(a Authenticator) {
	s.authMu.Lock()
	s.auth = a
	s.authMu.Unlock()
}

func (s *Session) authenticator() Authenticator {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	return s.auth
}

// Close ends the session. NextMessage returns ErrChatClosed from now on.
func (s *Session) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

// History is the delivered messages still inside the retention window,
// oldest first.
func (s *Session) History() []*Message { return s.buf.snapshot() }

// ClearMailbox discards messages decoded but not yet delivered, typically
// the backlog visible before connecting.
func (s *Session) ClearMailbox() { s.buf.clearMailbox() }

// PinnedMessage is the last pin event's message, nil if none arrived.
func (s *Session) PinnedMessage() *Message {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.pinned
}

func (s *Session) StreamID() ids.StreamID { return s.stream }

func (s *Session) RantsEnabled() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.rantsEnabled
}

func (s *Session) MaxMessageLen() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.maxMessageLen
}

func (s *Session) Closed() bool { return s.closed.Load() }

// Registry exposes the identity arena for author/channel/badge lookups.
func (s *Session) Registry() *Registry { return s.reg }

// Author resolves the message's author, nil when the feed never sent the
// user record.
func (s *Session) Author(m *Message) *User { return s.reg.User(m.UserID) }

// ChannelOf resolves the channel identity the message was posted under,
// nil when the author posted as themselves.
func (s *Session) ChannelOf(m *Message) *Channel {
	if m.ChannelID == NoChannel {
		return nil
	}
	return s.reg.Channel(m.ChannelID)
}
