package chat

import (
	"strconv"

	"github.com/you/rumblechat/internal/static"
)

// NoChannel is the appearance-history sentinel for a user posting as
// themselves rather than under a channel identity.
const NoChannel int64 = 0

// User is a mutable identity record. The same *User is returned for the
// lifetime of a session; upserts replace its attribute block in place so
// references held by callers stay valid.
type User struct {
	id   int64
	data UserData

	// channel ID last assigned by an observed message; NoChannel when
	// the last observed message had none.
	messageChannelID int64

	// every observed channel-identity transition, most recent last,
	// including transitions to NoChannel. Appended only on change.
	appearances []int64
}

func (u *User) refresh(d UserData) { u.data = d }

func (u *User) ID() int64 { return u.id }
func (u *User) Username() string { return u.data.Username }
func (u *User) Link() string { return u.data.Link }
func (u *User) IsFollower() bool { return u.data.IsFollower }
func (u *User) BadgeSlugs() []string {
	return append([]string(nil), u.data.Badges...)
}

// ProfileImageURL is the user's avatar, empty when they have none.
func (u *User) ProfileImageURL() string { return u.data.ImageURL }

// Color decodes the 6-hex-digit display color. ok is false when the record
// has no parseable color.
func (u *User) Color() (r, g, b uint8, ok bool) {
	s := u.data.Color
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(n >> 16), uint8(n >> 8), uint8(n), true
}

// ChannelID resolves the channel identity the user is currently posting
// under, NoChannel when none. An explicit channel_id on the user's own
// record wins; otherwise the most recent observed message decides. Each
// resolution is recorded in the appearance history when it differs from the
// last recorded entry.
func (u *User) ChannelID() int64 {
	cur := u.messageChannelID
	if u.data.ChannelID != nil {
		cur = u.data.ChannelID.Int64()
	}
	if n := len(u.appearances); n == 0 || u.appearances[n-1] != cur {
		u.appearances = append(u.appearances, cur)
	}
	return cur
}

// Appearances is the ordered channel-identity history, most recent last.
func (u *User) Appearances() []int64 {
	return append([]int64(nil), u.appearances...)
}

func (u *User) appearedAs(channelID int64) bool {
	if u.ChannelID() == channelID {
		return true
	}
	for _, id := range u.appearances {
		if id == channelID {
			return true
		}
	}
	return false
}

// Channel is a channel identity observed in the chat. Its owning user is
// resolved once, at construction, by scanning the registry; it is not
// re-resolved later, so long-lived holders should re-resolve through the
// registry rather than cache.
type Channel struct {
	id      int64
	data    ChannelData
	ownerID int64 // 0 when no known user has appeared as this channel
}

func (c *Channel) refresh(d ChannelData) { c.data = d }

func (c *Channel) ID() int64 { return c.id }
func (c *Channel) Name() string { return c.data.Username }
func (c *Channel) Link() string { return c.data.Link }
func (c *Channel) OwnerID() int64 { return c.ownerID }

// Badge is one badge definition from the init config.
type Badge struct {
	Slug string
	data BadgeData
}

// Label returns the badge label for a language tag, falling back to "en",
// then to any label at all.
func (b *Badge) Label(lang string) string {
	if s, ok := b.data.Label[lang]; ok {
		return s
	}
	if s, ok := b.data.Label["en"]; ok {
		return s
	}
	for _, s := range b.data.Label {
		return s
	}
	return ""
}

// IconURL is the absolute URL of the badge icon.
func (b *Badge) IconURL() string {
	path, ok := b.data.Icons[static.BadgeIconSize]
	if !ok {
		for _, p := range b.data.Icons {
			path = p
			break
		}
	}
	if path == "" {
		return ""
	}
	return static.RumbleBase + path
}

// Registry is the arena of identity records for one session: users,
// channels, and badges by ID. Records are never removed during a session.
// Cross-references (channel owner, message author) are resolved by ID lookup
// into the arena rather than stored pointers.
type Registry struct {
	users    map[int64]*User
	channels map[int64]*Channel
	badges   map[string]*Badge
}

func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[int64]*User),
		channels: make(map[int64]*Channel),
		badges:   make(map[string]*Badge),
	}
}

// UpsertUser creates or refreshes the record for the user in data. Existing
// records keep their identity and appearance history; only the attribute
// block is replaced.
func (r *Registry) UpsertUser(d UserData) *User {
	id := d.ID.Int64()
	if u, ok := r.users[id]; ok {
		u.refresh(d)
		return u
	}
	u := &User{id: id, data: d}
	r.users[id] = u
	return u
}

// UpsertChannel creates or refreshes the record for the channel in data.
// The owner is resolved at creation only.
func (r *Registry) UpsertChannel(d ChannelData) *Channel {
	id := d.ID.Int64()
	if c, ok := r.channels[id]; ok {
		c.refresh(d)
		return c
	}
	c := &Channel{id: id, data: d}
	if owner := r.ResolveOwner(id); owner != nil {
		c.ownerID = owner.ID()
	}
	r.channels[id] = c
	return c
}

// ResolveOwner finds a user whose current channel identity or appearance
// history contains channelID. First match wins; the scan order over users
// is unspecified, which only matters in the never-expected case of two
// users sharing a channel ID.
func (r *Registry) ResolveOwner(channelID int64) *User {
	for _, u := range r.users {
		if u.appearedAs(channelID) {
			return u
		}
	}
	return nil
}

// IsAppearing reports whether the channel's owner is still posting under
// this channel identity. False when the channel has no resolved owner.
func (r *Registry) IsAppearing(c *Channel) bool {
	if c == nil || c.ownerID == 0 {
		return false
	}
	u, ok := r.users[c.ownerID]
	if !ok {
		return false
	}
	return u.ChannelID() == c.id
}

// ObserveMessage records the channel identity a message asserts for its
// author, including the absence of one.
func (r *Registry) ObserveMessage(d MessageData) {
	u, ok := r.users[d.UserID.Int64()]
	if !ok {
		return
	}
	if d.ChannelID != nil {
		u.messageChannelID = d.ChannelID.Int64()
	} else {
		u.messageChannelID = NoChannel
	}
	u.ChannelID() // record the transition
}

// LoadBadges replaces the badge table. Only init events carry badges.
func (r *Registry) LoadBadges(data map[string]BadgeData) {
	r.badges = make(map[string]*Badge, len(data))
	for slug, d := range data {
		r.badges[slug] = &Badge{Slug: slug, data: d}
	}
}

func (r *Registry) User(id int64) *User { return r.users[id] }
func (r *Registry) Channel(id int64) *Channel { return r.channels[id] }
func (r *Registry) Badge(slug string) *Badge { return r.badges[slug] }

// BadgesOf resolves a user's badge slugs against the loaded badge table,
// dropping slugs the table does not know.
func (r *Registry) BadgesOf(u *User) []*Badge {
	var out []*Badge
	for _, slug := range u.BadgeSlugs() {
		if b, ok := r.badges[slug]; ok {
			out = append(out, b)
		}
	}
	return out
}
