// Package sse implements the server-sent-events transport the chat feed
// rides on: one long-lived GET whose body is a line-oriented stream of
// events.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

const (
	// maxLineSize bounds a single SSE line. Longer lines end the
	// connection rather than growing memory without limit.
	maxLineSize = 256 * 1024

	// maxEventSize bounds the accumulated data of one event. Oversized
	// events are discarded, not fatal.
	maxEventSize = 1024 * 1024
)

// Event is one server-sent event. Data may be empty: the upstream emits
// blank keep-alive events on quiet chats, and callers are expected to skip
// them.
type Event struct {
	Type string
	Data string
	ID   string
}

// StatusError is returned when the stream endpoint answers with a non-2xx
// status before any events flow.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sse: status %d: %s", e.Status, e.Body)
}

// Client dials SSE endpoints. The zero value is not usable; use NewClient.
type Client struct {
	hc        *http.Client
	userAgent string
}

// NewClient builds a client around hc. The http.Client must not have a
// timeout set; stream connections are long-lived and a quiet chat can go
// minutes between events. A nil hc gets a fresh timeout-free client.
func NewClient(hc *http.Client, userAgent string) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{hc: hc, userAgent: userAgent}
}

// Conn is one live event stream. Next is the only blocking read; closing
// the context passed to Connect, or calling Close, abandons the pending
// read and ends the stream.
type Conn struct {
	events <-chan Event
	cancel context.CancelFunc
}

// Connect opens the stream and starts the reader. The returned connection
// stays open until the server closes it, the context is cancelled, or Close
// is called.
func (c *Client) Connect(ctx context.Context, url string) (*Conn, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse: connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	events := make(chan Event, 64)
	go readEvents(ctx, resp.Body, events)

	return &Conn{events: events, cancel: cancel}, nil
}

// Next blocks until the next event arrives. It returns io.EOF once the
// stream has ended; every later call returns io.EOF as well. There is no
// read timeout: long silent periods are normal on low-traffic chats, and
// callers needing liveness wrap Next with their own context deadline.
func (c *Conn) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.cancel()
	return nil
}

func readEvents(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer func() { _ = body.Close() }()

	go func() {
		// Unblock the scanner when the context ends mid-read.
		<-ctx.Done()
		_ = body.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	var (
		ev        Event
		dataLines []string
		size      int
		oversized bool
		sawField  bool
	)

	reset := func() {
		ev = Event{}
		dataLines = nil
		size = 0
		oversized = false
		sawField = false
	}

	for scanner.Scan() {
		line := scanner.Text()

		// Blank line terminates the event. Field-bearing events are
		// delivered even with empty data: the blank keep-alives matter
		// to the consumer's closed-vs-quiet distinction.
		if line == "" {
			if sawField && !oversized {
				ev.Data = strings.Join(dataLines, "\n")
				if ev.Type == "" {
					ev.Type = "message"
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
			reset()
			continue
		}

		// Comment line, used by some servers as a heartbeat.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Type = value
			sawField = true
		case "data":
			size += len(value)
			if size > maxEventSize {
				if !oversized {
					log.Printf("sse: discarding oversized event (> %d bytes)", maxEventSize)
				}
				oversized = true
				sawField = true
				continue
			}
			dataLines = append(dataLines, value)
			sawField = true
		case "id":
			ev.ID = value
			sawField = true
		case "retry":
			// Reconnection advice; this client never reconnects.
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Printf("sse: stream read ended: %v", err)
	}
}

func splitField(line string) (field, value string) {
	field = line
	if i := strings.IndexByte(line, ':'); i >= 0 {
		field = line[:i]
		value = line[i+1:]
		value = strings.TrimPrefix(value, " ")
	}
	return field, value
}
