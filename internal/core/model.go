package core

import "time"

// ChatRecord is the flattened form of a chat message as written to SQLite
// and served over the HTTP API.
type ChatRecord struct {
	ID        int64     `json:"id"`
	Ts        time.Time `json:"ts"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ChannelID int64     `json:"channel_id,omitempty"` // 0 when posted as the user
	Text      string    `json:"text"`
	RantCents int       `json:"rant_cents,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	RawJSON   string    `json:"-"` // original wire payload, kept for exports
}
