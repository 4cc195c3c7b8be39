package chat

import (
	"encoding/json"
	"fmt"

	"github.com/you/rumblechat/internal/ids"
)

// Event is one decoded feed event. The concrete types form a closed set;
// consumers type-switch over them.
type Event interface {
	isEvent()
}

// InitEvent is the full-state snapshot sent on connect and, occasionally,
// mid-session. A mid-session init refreshes state through the ordinary
// upsert path; it does not reset anything.
type InitEvent struct {
	Users            []UserData
	Channels         []ChannelData
	Messages         []MessageData
	Badges           map[string]BadgeData
	RantsEnabled     bool
	MessageLengthMax int
}

// MessageBatchEvent carries new messages plus any user/channel records
// referenced by them. Any subset may be empty.
type MessageBatchEvent struct {
	Users    []UserData
	Channels []ChannelData
	Messages []MessageData
}

// DeletionEvent lists messages removed upstream.
type DeletionEvent struct {
	MessageIDs []int64
}

// PinEvent replaces the stream's pinned message wholesale.
type PinEvent struct {
	Message MessageData
}

// UnknownEvent is any event type this client does not recognize. It is
// surfaced for logging and otherwise skipped; unknown types are never fatal.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (*InitEvent) isEvent()         {}
func (*MessageBatchEvent) isEvent() {}
func (*DeletionEvent) isEvent()     {}
func (*PinEvent) isEvent()          {}
func (*UnknownEvent) isEvent()      {}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type batchPayload struct {
	Users    []UserData    `json:"users"`
	Channels []ChannelData `json:"channels"`
	Messages []MessageData `json:"messages"`
}

type initPayload struct {
	batchPayload
	Config struct {
		Badges map[string]BadgeData `json:"badges"`
		Rants  struct {
			Enable bool `json:"enable"`
		} `json:"rants"`
		MessageLengthMax int `json:"message_length_max"`
	} `json:"config"`
}

type deletionPayload struct {
	MessageIDs []ids.ID `json:"message_ids"`
}

type pinPayload struct {
	Message *MessageData `json:"message"`
}

// DecodeEvent turns one raw SSE payload into a typed event. Payloads that
// are not `{"type": ..., "data": ...}` shaped, or whose data does not match
// the declared type, return an error; callers log and skip those.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("chat: malformed event: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("chat: event without type")
	}

	switch env.Type {
	case "init":
		var p initPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("chat: malformed init payload: %w", err)
		}
		return &InitEvent{
			Users:            p.Users,
			Channels:         p.Channels,
			Messages:         p.Messages,
			Badges:           p.Config.Badges,
			RantsEnabled:     p.Config.Rants.Enable,
			MessageLengthMax: p.Config.MessageLengthMax,
		}, nil

	case "messages":
		var p batchPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("chat: malformed message batch: %w", err)
		}
		return &MessageBatchEvent{Users: p.Users, Channels: p.Channels, Messages: p.Messages}, nil

	case "delete_messages", "delete_non_rant_messages":
		var p deletionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("chat: malformed deletion payload: %w", err)
		}
		out := make([]int64, len(p.MessageIDs))
		for i, id := range p.MessageIDs {
			out[i] = id.Int64()
		}
		return &DeletionEvent{MessageIDs: out}, nil

	case "pin_message":
		var p pinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("chat: malformed pin payload: %w", err)
		}
		if p.Message == nil {
			return nil, fmt.Errorf("chat: pin event without message")
		}
		return &PinEvent{Message: *p.Message}, nil

	default:
		return &UnknownEvent{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
