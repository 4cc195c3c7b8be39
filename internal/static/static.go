// Package static holds the protocol tables for Rumble's unofficial web
// surfaces: endpoint URLs, request headers, and tuning constants. If any of
// these change, they change globally.
package static

import "time"

// Base URL of Rumble's website, for URLs that are relative to it.
const RumbleBase = "https://rumble.com"

// Chat API endpoints, relative to the chat host rather than rumble.com.
// Format ChatBase with the base-10 stream ID.
const (
	ChatBase   = "https://web7.rumble.com/chat/api/chat/%d"
	SSEStream  = ChatBase + "/stream"
	MessageAPI = ChatBase + "/message"
)

// ServicePHP is the form-submission API behind authenticated actions.
const ServicePHP = RumbleBase + "/service.php"

// MutesPage lists the logged-in account's mutes. Format with a page number.
const MutesPage = RumbleBase + "/account/moderation/muting?pg=%d"

// UserAgent fakes a browser; Rumble rejects obviously non-browser clients.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/51.0.2704.103 Safari/537.36"

// SessionCookieName is the cookie key carrying the session token.
const SessionCookieName = "u_s"

const (
	// MaxMessageLen is the upstream maximum chat message length. The init
	// event carries the live value; this is the fallback.
	MaxMessageLen = 200

	// SendCooldown is how long to wait between sent messages.
	SendCooldown = 3 * time.Second

	// RequestTimeout bounds the short-lived API calls. The SSE stream
	// read deliberately has no timeout.
	RequestTimeout = 20 * time.Second
)

// BadgeIconSize selects the badge icon variant; "48" has long been the only
// valid value.
const BadgeIconSize = "48"

// TimestampLayout is the wire timestamp format including the UTC offset,
// e.g. "2023-10-05T16:31:40-04:00".
const TimestampLayout = "2006-01-02T15:04:05-07:00"
