package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func streamHandler(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	}
}

func TestConnectParsesEvents(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		"event: init\ndata: {\"a\":1}\n\n",
		": heartbeat comment\n",
		"data: line1\ndata: line2\n\n",
	))
	defer srv.Close()

	conn, err := NewClient(srv.Client(), "test-agent").Connect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := conn.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type != "init" || ev.Data != `{"a":1}` {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ev, err = conn.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type != "message" || ev.Data != "line1\nline2" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// Server closed the stream after two events.
	if _, err := conn.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF at end of stream, got %v", err)
	}
	if _, err := conn.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("EOF should be sticky, got %v", err)
	}
}

func TestConnectDeliversBlankKeepAlive(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		"data: \n\n",
		"event: messages\ndata: {}\n\n",
	))
	defer srv.Close()

	conn, err := NewClient(srv.Client(), "").Connect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := conn.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Data != "" {
		t.Fatalf("expected blank keep-alive first, got %+v", ev)
	}

	ev, err = conn.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type != "messages" {
		t.Fatalf("expected messages event after keep-alive, got %+v", ev)
	}
}

func TestConnectNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such chat", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), "").Connect(context.Background(), srv.URL)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", statusErr.Status)
	}
}

func TestNextHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	conn, err := NewClient(srv.Client(), "").Connect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := conn.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
