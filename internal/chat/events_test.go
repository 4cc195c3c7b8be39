package chat

import (
	"testing"
)

func TestDecodeEventInit(t *testing.T) {
	raw := `{
		"type": "init",
		"data": {
			"users": [{"id": "100", "username": "alice", "color": "ff0000", "badges": ["admin"]}],
			"channels": [{"id": 7, "username": "alicecast"}],
			"messages": [{"id": 5, "user_id": "100", "text": "hello", "time": "2024-03-01T12:00:00+00:00"}],
			"config": {
				"badges": {"admin": {"label": {"en": "Admin"}, "icons": {"48": "/i/admin48.png"}}},
				"rants": {"enable": true},
				"message_length_max": 200
			}
		}
	}`

	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	init, ok := ev.(*InitEvent)
	if !ok {
		t.Fatalf("expected InitEvent, got %T", ev)
	}
	if len(init.Users) != 1 || init.Users[0].Username != "alice" {
		t.Fatalf("unexpected users: %+v", init.Users)
	}
	if len(init.Channels) != 1 || init.Channels[0].ID.Int64() != 7 {
		t.Fatalf("unexpected channels: %+v", init.Channels)
	}
	if len(init.Messages) != 1 || init.Messages[0].Text != "hello" {
		t.Fatalf("unexpected messages: %+v", init.Messages)
	}
	if !init.RantsEnabled || init.MessageLengthMax != 200 {
		t.Fatalf("unexpected config: rants=%v maxlen=%d", init.RantsEnabled, init.MessageLengthMax)
	}
	if _, ok := init.Badges["admin"]; !ok {
		t.Fatalf("missing admin badge: %+v", init.Badges)
	}
}

func TestDecodeEventMessageBatch(t *testing.T) {
	raw := `{"type": "messages", "data": {"messages": [{"id": 9, "user_id": 1, "text": "hi", "time": "2024-03-01T12:00:05+00:00"}]}}`
	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	batch, ok := ev.(*MessageBatchEvent)
	if !ok {
		t.Fatalf("expected MessageBatchEvent, got %T", ev)
	}
	if len(batch.Users) != 0 || len(batch.Channels) != 0 {
		t.Fatalf("expected empty users/channels, got %+v", batch)
	}
	if len(batch.Messages) != 1 || batch.Messages[0].ID.Int64() != 9 {
		t.Fatalf("unexpected messages: %+v", batch.Messages)
	}
}

func TestDecodeEventDeletionVariants(t *testing.T) {
	for _, typ := range []string{"delete_messages", "delete_non_rant_messages"} {
		raw := `{"type": "` + typ + `", "data": {"message_ids": [5, "6"]}}`
		ev, err := DecodeEvent([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		del, ok := ev.(*DeletionEvent)
		if !ok {
			t.Fatalf("expected DeletionEvent for %s, got %T", typ, ev)
		}
		if len(del.MessageIDs) != 2 || del.MessageIDs[0] != 5 || del.MessageIDs[1] != 6 {
			t.Fatalf("unexpected ids: %v", del.MessageIDs)
		}
	}
}

func TestDecodeEventPin(t *testing.T) {
	raw := `{"type": "pin_message", "data": {"message": {"id": 42, "user_id": 1, "text": "pinned", "time": "2024-03-01T12:00:00+00:00"}}}`
	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	pin, ok := ev.(*PinEvent)
	if !ok {
		t.Fatalf("expected PinEvent, got %T", ev)
	}
	if pin.Message.ID.Int64() != 42 {
		t.Fatalf("unexpected pin: %+v", pin.Message)
	}
}

func TestDecodeEventUnknown(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type": "mystery", "data": {"x": 1}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	unk, ok := ev.(*UnknownEvent)
	if !ok {
		t.Fatalf("expected UnknownEvent, got %T", ev)
	}
	if unk.Type != "mystery" {
		t.Fatalf("unexpected type: %q", unk.Type)
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"data": {}}`,
		`{"type": "init", "data": "nope"}`,
		`{"type": "delete_messages", "data": {"message_ids": "nope"}}`,
		`{"type": "pin_message", "data": {}}`,
	}
	for _, raw := range cases {
		if _, err := DecodeEvent([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	ts := parseTimestamp("2023-10-05T16:31:40-04:00")
	if ts.IsZero() {
		t.Fatalf("offset timestamp did not parse")
	}
	if got := ts.Hour(); got != 20 {
		t.Fatalf("expected UTC hour 20, got %d", got)
	}

	if parseTimestamp("2023-10-05T16:31:40").IsZero() {
		t.Fatalf("offset-less timestamp did not parse")
	}
	if !parseTimestamp("garbage").IsZero() {
		t.Fatalf("garbage should parse to zero time")
	}
}
