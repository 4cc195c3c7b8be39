// Package scrape pulls data off Rumble HTML pages that no API exposes.
// It extracts by marker rather than parsing the full document; the pages
// are machine generated and the markers have been stable for years.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/you/rumblechat/internal/static"
)

const maxPageSize = 2 << 20

// MutesPager walks the account's moderation listing page by page. Each
// muted user shows up as an unmute button carrying the username and the
// mute record ID as data attributes.
type MutesPager struct {
	hc      *http.Client
	token   string
	pageURL string // format with a page number
}

func NewMutesPager(hc *http.Client, sessionToken, pageURL string) *MutesPager {
	if hc == nil {
		hc = &http.Client{Timeout: static.RequestTimeout}
	}
	if pageURL == "" {
		pageURL = static.MutesPage
	}
	return &MutesPager{hc: hc, token: sessionToken, pageURL: pageURL}
}

// Records returns every username:recordID pair across all pages.
func (p *MutesPager) Records(ctx context.Context) (map[string]int64, error) {
	records := make(map[string]int64)
	err := p.walk(ctx, func(username string, recordID int64) bool {
		records[username] = recordID
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RecordID finds the mute record for one username, stopping at the first
// page that has it. Zero means the user has no mute record.
func (p *MutesPager) RecordID(ctx context.Context, username string) (int64, error) {
	var found int64
	err := p.walk(ctx, func(name string, recordID int64) bool {
		if name == username {
			found = recordID
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return found, nil
}

// walk visits mute records page by page until visit returns false, the
// pages run out, or an error occurs. A page with no unmute buttons is the
// end of the listing.
func (p *MutesPager) walk(ctx context.Context, visit func(username string, recordID int64) bool) error {
	for page := 1; ; page++ {
		body, err := p.fetch(ctx, fmt.Sprintf(p.pageURL, page))
		if err != nil {
			return err
		}

		buttons := unmuteButtons(body)
		if len(buttons) == 0 {
			return nil
		}
		for _, tag := range buttons {
			username := extractAttr(tag, "data-username")
			rawID := extractAttr(tag, "data-record-id")
			if username == "" || rawID == "" {
				continue
			}
			recordID, err := strconv.ParseInt(rawID, 10, 64)
			if err != nil {
				continue
			}
			if !visit(username, recordID) {
				return nil
			}
		}
	}
}

func (p *MutesPager) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.AddCookie(&http.Cookie{Name: static.SessionCookieName, Value: p.token})
	req.Header.Set("User-Agent", static.UserAgent)

	resp, err := p.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scrape: fetch %s: status %s", target, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// unmuteButtons returns the opening tag of every unmute button on the page.
func unmuteButtons(page string) []string {
	var tags []string
	rest := page
	for {
		idx := strings.Index(rest, "<button")
		if idx == -1 {
			return tags
		}
		rest = rest[idx:]
		end := strings.IndexByte(rest, '>')
		if end == -1 {
			return tags
		}
		tag := rest[:end+1]
		if strings.Contains(tag, "unmute_action") {
			tags = append(tags, tag)
		}
		rest = rest[end+1:]
	}
}

func extractAttr(tag, name string) string {
	marker := name + `="`
	idx := strings.Index(tag, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	end := strings.IndexByte(tag[start:], '"')
	if end == -1 {
		return ""
	}
	return tag[start : start+end]
}
