package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/you/rumblechat/internal/core"
)

type fakeStore struct {
	records []core.ChatRecord
	fail    bool
}

func (f *fakeStore) CountMessages(_ context.Context, filters Filters) (int64, error) {
	if f.fail {
		return 0, context.DeadlineExceeded
	}
	var n int64
	for _, r := range f.records {
		if filters.Matches(r) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListMessages(_ context.Context, filters Filters) ([]core.ChatRecord, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	var out []core.ChatRecord
	for _, r := range f.records {
		if filters.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func testServer(t *testing.T, store Store, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(store, opts)
	ts := httptest.NewServer(s.Mux())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthz(t *testing.T) {
	_, ts := testServer(t, &fakeStore{}, Options{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInfoReportsServiceAndStream(t *testing.T) {
	built := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, ts := testServer(t, &fakeStore{}, Options{
		Stream: "v1abcd",
		Build:  BuildInfo{Version: "1.2.3", Revision: "deadbeef", BuiltAt: built},
	})

	resp, err := http.Get(ts.URL + "/info")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var info struct {
		Service  string `json:"service"`
		Stream   string `json:"stream"`
		Version  string `json:"version"`
		Revision string `json:"rev"`
		BuiltAt  string `json:"built_at"`
		Go       string `json:"go"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Service != "chattail" || info.Stream != "v1abcd" {
		t.Fatalf("identity = %q/%q", info.Service, info.Stream)
	}
	if info.Version != "1.2.3" || info.Revision != "deadbeef" {
		t.Fatalf("build = %+v", info)
	}
	if info.BuiltAt != "2024-03-01T12:00:00Z" {
		t.Fatalf("built_at = %q", info.BuiltAt)
	}
	if info.Go == "" {
		t.Fatalf("go version missing")
	}
}

func TestCountAndMessages(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []core.ChatRecord{
		{ID: 1, Ts: base, Username: "alice", Text: "one"},
		{ID: 2, Ts: base.Add(time.Minute), Username: "bob", Text: "two", Deleted: true},
	}}
	_, ts := testServer(t, store, Options{})

	resp, err := http.Get(ts.URL + "/count?deleted=true")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	defer resp.Body.Close()
	var count struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("count = %d, want 1", count.Count)
	}

	resp2, err := http.Get(ts.URL + "/messages?username=alice")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	defer resp2.Body.Close()
	var rows []core.ChatRecord
	if err := json.NewDecoder(resp2.Body).Decode(&rows); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 1 {
		t.Fatalf("rows = %+v", rows)
	}

	resp3, err := http.Get(ts.URL + "/messages?limit=bogus")
	if err != nil {
		t.Fatalf("bad filter request: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d", resp3.StatusCode)
	}
}

func TestStoreErrorMapsTo500(t *testing.T) {
	_, ts := testServer(t, &fakeStore{fail: true}, Options{})
	resp, err := http.Get(ts.URL + "/count")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStreamBroadcast(t *testing.T) {
	s, ts := testServer(t, &fakeStore{}, Options{})

	resp, err := http.Get(ts.URL + "/stream?username=alice")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// First frame is the :ok comment.
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ":ok") {
		t.Fatalf("greeting = %q, %v", line, err)
	}

	// Wait for the subscription to register before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Broadcast(core.ChatRecord{ID: 1, Username: "bob", Text: "filtered out"})
	s.Broadcast(core.ChatRecord{ID: 2, Username: "alice", Text: "hello"})

	var dataLine string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}
	var rec core.ChatRecord
	if err := json.Unmarshal([]byte(dataLine), &rec); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if rec.ID != 2 || rec.Username != "alice" {
		t.Fatalf("stream delivered wrong record: %+v", rec)
	}
}

func TestRateLimiting(t *testing.T) {
	_, ts := testServer(t, &fakeStore{}, Options{RateLimitRPS: 1, RateLimitBurst: 2, EnableMetrics: true})

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("rate limiter never rejected")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := testServer(t, &fakeStore{}, Options{EnableMetrics: true})

	// Generate a request so a counter exists.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := bufio.NewReader(resp.Body).WriteTo(buf); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "rumblechat_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}
