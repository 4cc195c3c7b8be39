package httpapi

import (
	"net/url"
	"testing"
	"time"

	"github.com/you/rumblechat/internal/core"
)

func TestParseFiltersDefaults(t *testing.T) {
	f, err := ParseFilters(url.Values{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != defaultLimit || f.Order != OrderDesc {
		t.Fatalf("defaults: %+v", f)
	}
	if f.Since != nil || f.Deleted != nil || len(f.Usernames) != 0 || len(f.Channels) != 0 {
		t.Fatalf("unexpected defaults: %+v", f)
	}
}

func TestParseFiltersValues(t *testing.T) {
	v := url.Values{}
	v.Set("limit", "5000")
	v.Set("order", "asc")
	v.Set("deleted", "true")
	v.Add("username", "Alice, bob")
	v.Add("username", "alice")
	v.Add("channel", "7,8")

	f, err := ParseFilters(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != maxLimit {
		t.Fatalf("limit should clamp to %d, got %d", maxLimit, f.Limit)
	}
	if f.Order != OrderAsc {
		t.Fatalf("order = %s", f.Order)
	}
	if f.Deleted == nil || !*f.Deleted {
		t.Fatalf("deleted not parsed: %+v", f.Deleted)
	}
	if len(f.Usernames) != 2 || f.Usernames[0] != "alice" || f.Usernames[1] != "bob" {
		t.Fatalf("usernames: %v", f.Usernames)
	}
	if len(f.Channels) != 2 || f.Channels[0] != 7 || f.Channels[1] != 8 {
		t.Fatalf("channels: %v", f.Channels)
	}
}

func TestParseFiltersSinceForms(t *testing.T) {
	for _, raw := range []string{"2024-03-01T12:00:00Z", "1709294400", "15m"} {
		v := url.Values{}
		v.Set("since", raw)
		f, err := ParseFilters(v)
		if err != nil {
			t.Fatalf("since %q: %v", raw, err)
		}
		if f.Since == nil {
			t.Fatalf("since %q not parsed", raw)
		}
	}
}

func TestParseFiltersRejectsGarbage(t *testing.T) {
	cases := []url.Values{
		{"limit": []string{"-1"}},
		{"limit": []string{"x"}},
		{"order": []string{"sideways"}},
		{"since": []string{"not-a-time"}},
		{"deleted": []string{"maybe"}},
		{"channel": []string{"abc"}},
	}
	for _, v := range cases {
		if _, err := ParseFilters(v); err == nil {
			t.Errorf("expected error for %v", v)
		}
	}
}

func TestFiltersMatches(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := core.ChatRecord{ID: 1, Ts: base, Username: "RumbleFan", ChannelID: 7, Text: "hi"}

	if !(Filters{}).Matches(rec) {
		t.Fatalf("empty filters must match everything")
	}
	if !(Filters{Usernames: []string{"fan"}}).Matches(rec) {
		t.Fatalf("case-insensitive substring match failed")
	}
	if (Filters{Usernames: []string{"other"}}).Matches(rec) {
		t.Fatalf("username mismatch should not match")
	}
	if !(Filters{Channels: []int64{7}}).Matches(rec) {
		t.Fatalf("channel match failed")
	}
	if (Filters{Channels: []int64{8}}).Matches(rec) {
		t.Fatalf("channel mismatch should not match")
	}

	deleted := true
	if (Filters{Deleted: &deleted}).Matches(rec) {
		t.Fatalf("deleted filter should exclude live message")
	}

	later := base.Add(time.Minute)
	if (Filters{Since: &later}).Matches(rec) {
		t.Fatalf("since filter should exclude older message")
	}
}
