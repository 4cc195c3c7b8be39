// Package auth is the authenticated side of the chat client: sending and
// deleting messages over the chat message API, and pin/mute moderation
// through the service.php form endpoint. All calls ride on a session
// cookie; acquiring that cookie is up to the caller.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/you/rumblechat/internal/ids"
	"github.com/you/rumblechat/internal/scrape"
	"github.com/you/rumblechat/internal/static"
)

// UpstreamError is a non-200 response from Rumble, with whatever body it
// sent, truncated.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("auth: upstream status %d: %s", e.Status, e.Body)
}

// Config for New. Only SessionToken is required; the URL fields exist so
// tests can point the client at a local server.
type Config struct {
	SessionToken string
	HTTPClient   *http.Client

	ChatBase   string // format with the base-10 stream ID
	ServiceURL string
	MutesURL   string // format with a page number
}

// Client performs authenticated calls against Rumble's web surfaces.
// It is safe for concurrent use.
type Client struct {
	hc      *http.Client
	token   string
	chat    string
	service string
	mutes   *scrape.MutesPager
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SessionToken) == "" {
		return nil, errors.New("auth: session token is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: static.RequestTimeout}
	}
	chat := cfg.ChatBase
	if chat == "" {
		chat = static.ChatBase
	}
	service := cfg.ServiceURL
	if service == "" {
		service = static.ServicePHP
	}
	mutesURL := cfg.MutesURL
	if mutesURL == "" {
		mutesURL = static.MutesPage
	}
	return &Client{
		hc:      hc,
		token:   cfg.SessionToken,
		chat:    chat,
		service: service,
		mutes:   scrape.NewMutesPager(hc, cfg.SessionToken, mutesURL),
	}, nil
}

func (c *Client) messageURL(stream ids.StreamID) string {
	return fmt.Sprintf(c.chat, stream.B10()) + "/message"
}

func (c *Client) decorate(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: static.SessionCookieName, Value: c.token})
	req.Header.Set("User-Agent", static.UserAgent)
}

// preflight mirrors the browser's CORS OPTIONS request. Rumble rejects
// message posts that skip it.
func (c *Client) preflight(ctx context.Context, target, method string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, target, nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	req.Header.Set("Access-Control-Request-Method", method)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("auth: preflight for %s %s refused: %w", method, target, upstreamErr(resp))
	}
	return nil
}

type sendRequest struct {
	Data sendData `json:"data"`
}

type sendData struct {
	RequestID string          `json:"request_id"`
	Message   sendMessageBody `json:"message"`
	Rant      json.RawMessage `json:"rant"`
	ChannelID *int64          `json:"channel_id"`
}

type sendMessageBody struct {
	Text string `json:"text"`
}

// SendMessage posts text to the stream's chat, as the channel when
// channelID is nonzero. It returns the new message's ID and the raw user
// record Rumble sends back.
func (c *Client) SendMessage(ctx context.Context, stream ids.StreamID, text string, channelID int64) (int64, json.RawMessage, error) {
	target := c.messageURL(stream)
	if err := c.preflight(ctx, target, http.MethodPost); err != nil {
		return 0, nil, err
	}

	payload := sendRequest{Data: sendData{
		RequestID: uuid.NewString(),
		Message:   sendMessageBody{Text: text},
		Rant:      json.RawMessage("null"),
	}}
	if channelID != 0 {
		payload.Data.ChannelID = &channelID
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, nil, upstreamErr(resp)
	}

	var body struct {
		Data struct {
			ID   ids.ID          `json:"id"`
			User json.RawMessage `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, nil, fmt.Errorf("auth: decode send response: %w", err)
	}
	return int64(body.Data.ID), body.Data.User, nil
}

// DeleteMessage removes a message from the stream's chat.
func (c *Client) DeleteMessage(ctx context.Context, stream ids.StreamID, messageID int64) error {
	target := c.messageURL(stream) + "/" + strconv.FormatInt(messageID, 10)
	if err := c.preflight(ctx, target, http.MethodDelete); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	c.decorate(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return upstreamErr(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// PinMessage pins, or with unpin set unpins, a message in the stream's chat.
func (c *Client) PinMessage(ctx context.Context, stream ids.StreamID, messageID int64, unpin bool) error {
	name := "chat.message.pin"
	if unpin {
		name = "chat.message.unpin"
	}
	form := url.Values{}
	form.Set("video_id", strconv.FormatInt(stream.B10(), 10))
	form.Set("message_id", strconv.FormatInt(messageID, 10))
	_, err := c.servicePHP(ctx, name, form)
	return err
}

// MuteUser mutes a username. video scopes the mute to one stream unless
// total is set; durationSecs of 0 means indefinitely.
func (c *Client) MuteUser(ctx context.Context, username string, isChannel bool, video int64, durationSecs int, total bool) error {
	form := url.Values{}
	form.Set("user_to_mute", username)
	if isChannel {
		form.Set("entity_type", "channel")
	} else {
		form.Set("entity_type", "user")
	}
	form.Set("video", strconv.FormatInt(video, 10))
	if durationSecs > 0 {
		form.Set("duration", strconv.Itoa(durationSecs))
	}
	if total {
		form.Set("type", "total")
	} else {
		form.Set("type", "video")
	}
	_, err := c.servicePHP(ctx, "moderation.mute", form)
	return err
}

// MutedRecordID finds the mute record for username by paging through the
// account's moderation listing. Zero means no record exists.
func (c *Client) MutedRecordID(ctx context.Context, username string) (int64, error) {
	return c.mutes.RecordID(ctx, username)
}

// UnmuteUser removes a mute record.
func (c *Client) UnmuteUser(ctx context.Context, recordID int64) error {
	form := url.Values{}
	form.Set("record_id", strconv.FormatInt(recordID, 10))
	_, err := c.servicePHP(ctx, "moderation.unmute", form)
	return err
}

// servicePHP posts a form to the named service.php endpoint and returns
// the response's data field. A data object carrying success=false is an
// error even under HTTP 200.
func (c *Client) servicePHP(ctx context.Context, name string, form url.Values) (json.RawMessage, error) {
	target := c.service + "?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: %s: %w", name, upstreamErr(resp))
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("auth: decode %s response: %w", name, err)
	}

	var status struct {
		Success *bool `json:"success"`
	}
	if json.Unmarshal(body.Data, &status) == nil && status.Success != nil && !*status.Success {
		return nil, fmt.Errorf("auth: %s reported failure: %s", name, trimForError(body.Data))
	}
	return body.Data, nil
}

func upstreamErr(resp *http.Response) *UpstreamError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
	return &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

func trimForError(raw json.RawMessage) string {
	const max = 256
	s := string(raw)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
