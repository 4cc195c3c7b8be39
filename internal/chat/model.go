package chat

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/you/rumblechat/internal/ids"
	"github.com/you/rumblechat/internal/static"
)

// UserData is the raw attribute block the feed sends for a user. The
// registry stores it wholesale and replaces it on every upsert.
type UserData struct {
	ID         ids.ID   `json:"id"`
	Username   string   `json:"username"`
	Link       string   `json:"link"`
	IsFollower bool     `json:"is_follower"`
	Color      string   `json:"color"`
	Badges     []string `json:"badges"`
	ChannelID  *ids.ID  `json:"channel_id"`
	ImageURL   string   `json:"image.1"`
}

// ChannelData is the raw attribute block for a channel identity.
type ChannelData struct {
	ID       ids.ID `json:"id"`
	Username string `json:"username"`
	Link     string `json:"link"`
	ImageURL string `json:"image.1"`
}

// BadgeData describes one badge from the init config.
type BadgeData struct {
	Label map[string]string `json:"label"`
	Icons map[string]string `json:"icons"`
}

// RantData carries the paid-message metadata attached to rant messages.
type RantData struct {
	PriceCents int    `json:"price_cents"`
	Duration   int    `json:"duration"`
	ExpiresOn  string `json:"expires_on"`
}

// GiftPurchaseData is the payload of a gifted-subscriptions notification.
type GiftPurchaseData struct {
	TotalGifts       int    `json:"total_gifts"`
	GiftType         string `json:"gift_type"`
	CreatorUserID    ids.ID `json:"creator_user_id"`
	CreatorChannelID ids.ID `json:"creator_channel_id"`
}

// MessageData is the wire form of one chat message.
type MessageData struct {
	ID                       ids.ID            `json:"id"`
	Time                     string            `json:"time"`
	UserID                   ids.ID            `json:"user_id"`
	ChannelID                *ids.ID           `json:"channel_id"`
	Text                     string            `json:"text"`
	Rant                     *RantData         `json:"rant"`
	RaidNotification         json.RawMessage   `json:"raid_notification"`
	GiftPurchaseNotification *GiftPurchaseData `json:"gift_purchase_notification"`
}

// Rant is the parsed paid-message metadata.
type Rant struct {
	PriceCents int
	Duration   time.Duration
	ExpiresOn  time.Time
}

// GiftPurchase is a parsed gifted-subscriptions notification.
type GiftPurchase struct {
	TotalGifts       int
	GiftType         string
	CreatorUserID    int64
	CreatorChannelID int64
}

// Message is one chat message. It is immutable once constructed except for
// the deleted flag, which a deletion event sets exactly once. The flag is
// atomic so the mutation path can flip it while the consumer loop reads it.
type Message struct {
	ID        int64
	Time      time.Time
	UserID    int64
	ChannelID int64 // 0 when the author posted as themselves
	Text      string

	Rant         *Rant
	Raid         json.RawMessage
	GiftPurchase *GiftPurchase

	deleted atomic.Bool
}

func newMessage(d MessageData) *Message {
	m := &Message{
		ID:     d.ID.Int64(),
		Time:   parseTimestamp(d.Time),
		UserID: d.UserID.Int64(),
		Text:   d.Text,
		Raid:   d.RaidNotification,
	}
	if d.ChannelID != nil {
		m.ChannelID = d.ChannelID.Int64()
	}
	if d.Rant != nil {
		m.Rant = &Rant{
			PriceCents: d.Rant.PriceCents,
			Duration:   time.Duration(d.Rant.Duration) * time.Second,
			ExpiresOn:  parseTimestamp(d.Rant.ExpiresOn),
		}
	}
	if d.GiftPurchaseNotification != nil {
		g := d.GiftPurchaseNotification
		m.GiftPurchase = &GiftPurchase{
			TotalGifts:       g.TotalGifts,
			GiftType:         g.GiftType,
			CreatorUserID:    g.CreatorUserID.Int64(),
			CreatorChannelID: g.CreatorChannelID.Int64(),
		}
	}
	return m
}

// Deleted reports whether a deletion event (or a successful Delete call)
// has flagged this message.
func (m *Message) Deleted() bool { return m.deleted.Load() }

// IsRant reports whether this message carries paid-rant metadata.
func (m *Message) IsRant() bool { return m.Rant != nil }

// IsRaid reports whether this message is a raid notification.
func (m *Message) IsRaid() bool { return len(m.Raid) > 0 }

func (m *Message) markDeleted() { m.deleted.Store(true) }

// parseTimestamp handles the feed's RFC3339-with-offset timestamps. A few
// payloads truncate the offset; those parse as UTC.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(static.TimestampLayout, s); err == nil {
		return t.UTC()
	}
	if len(s) >= 19 {
		if t, err := time.Parse("2006-01-02T15:04:05", s[:19]); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
