package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Stream StreamConfig `yaml:"stream"`
	Auth   AuthConfig   `yaml:"auth"`
	Sinks  []string     `yaml:"sinks"`
	Sink   SinkConfig   `yaml:"sink"`
	API    APIConfig    `yaml:"api"`
}

type StreamConfig struct {
	// ID is the base-36 stream ID, as it appears in the video URL.
	ID         string `yaml:"id"`
	HistoryLen int    `yaml:"history_len"`
}

type AuthConfig struct {
	SessionToken     string `yaml:"session_token"`
	SessionTokenFile string `yaml:"session_token_file"`
}

type SinkConfig struct {
	SQLite     SQLiteConfig `yaml:"sqlite"`
	BatchSize  int          `yaml:"batch_size"`
	FlushMaxMS int          `yaml:"flush_max_ms"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	Addr      string  `yaml:"addr"`
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

const (
	defaultSQLitePath = "chat.db"
	defaultBatchSize  = 1
	defaultFlushMS    = 0
	defaultHistoryLen = 1000
	defaultRateRPS    = 10
	defaultRateBurst  = 20
)

// Load builds the configuration: YAML file first when RUMBLE_CONFIG names
// one, then RUMBLE_* environment variables on top. Env always wins.
func Load() (Config, error) {
	cfg := Config{}

	if path := strings.TrimSpace(os.Getenv("RUMBLE_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("RUMBLE_STREAM_ID")); v != "" {
		c.Stream.ID = v
	}
	if v := readInt("RUMBLE_HISTORY_LEN", 0); v > 0 {
		c.Stream.HistoryLen = v
	}
	if v := strings.TrimSpace(os.Getenv("RUMBLE_SESSION_TOKEN")); v != "" {
		c.Auth.SessionToken = v
	}
	if v := strings.TrimSpace(os.Getenv("RUMBLE_SESSION_TOKEN_FILE")); v != "" {
		c.Auth.SessionTokenFile = v
	}
	if v := splitList(os.Getenv("RUMBLE_SINKS")); len(v) > 0 {
		c.Sinks = v
	}
	if v := strings.TrimSpace(os.Getenv("RUMBLE_SINK_SQLITE_PATH")); v != "" {
		c.Sink.SQLite.Path = v
	}
	if v := readInt("RUMBLE_SINK_BATCH_SIZE", 0); v > 0 {
		c.Sink.BatchSize = v
	}
	if v := readInt("RUMBLE_SINK_FLUSH_MAX_MS", 0); v > 0 {
		c.Sink.FlushMaxMS = v
	}
	if v := strings.TrimSpace(os.Getenv("RUMBLE_API_ADDR")); v != "" {
		c.API.Addr = v
	}
	if v := readFloat("RUMBLE_API_RATE_RPS", 0); v > 0 {
		c.API.RateRPS = v
	}
	if v := readInt("RUMBLE_API_RATE_BURST", 0); v > 0 {
		c.API.RateBurst = v
	}
}

func (c *Config) applyDefaults() {
	if len(c.Sinks) == 0 {
		c.Sinks = []string{"sqlite"}
	}
	c.Sinks = dedupe(c.Sinks)
	if c.Sink.SQLite.Path == "" {
		c.Sink.SQLite.Path = defaultSQLitePath
	}
	if c.Sink.BatchSize <= 0 {
		c.Sink.BatchSize = defaultBatchSize
	}
	if c.Sink.FlushMaxMS < 0 {
		c.Sink.FlushMaxMS = defaultFlushMS
	}
	if c.Stream.HistoryLen <= 0 {
		c.Stream.HistoryLen = defaultHistoryLen
	}
	if c.API.RateRPS <= 0 {
		c.API.RateRPS = defaultRateRPS
	}
	if c.API.RateBurst <= 0 {
		c.API.RateBurst = defaultRateBurst
	}
}

// SessionToken resolves the session token, preferring the literal value
// over the token file.
func (c Config) SessionToken() (string, error) {
	if tok := strings.TrimSpace(c.Auth.SessionToken); tok != "" {
		return tok, nil
	}
	if c.Auth.SessionTokenFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(c.Auth.SessionTokenFile)
	if err != nil {
		return "", fmt.Errorf("config: read session token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	if f <= 0 {
		return def
	}
	return f
}

func (c Config) Summary() Summary {
	token, _ := c.SessionToken()
	return Summary{
		StreamID:   c.Stream.ID,
		HistoryLen: c.Stream.HistoryLen,
		LoggedIn:   token != "",
		Sinks:      append([]string(nil), c.Sinks...),
		SQLitePath: c.Sink.SQLite.Path,
		BatchSize:  c.Sink.BatchSize,
		FlushMaxMS: c.Sink.FlushMaxMS,
		APIAddr:    c.API.Addr,
	}
}

type Summary struct {
	StreamID   string   `json:"stream_id"`
	HistoryLen int      `json:"history_len"`
	LoggedIn   bool     `json:"logged_in"`
	Sinks      []string `json:"sinks"`
	SQLitePath string   `json:"sqlite_path"`
	BatchSize  int      `json:"batch"`
	FlushMaxMS int      `json:"flush_ms"`
	APIAddr    string   `json:"api_addr,omitempty"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"stream": map[string]any{
			"id":          c.Stream.ID,
			"history_len": c.Stream.HistoryLen,
		},
		"auth": map[string]any{
			"session_token":      redactString(c.Auth.SessionToken),
			"session_token_file": c.Auth.SessionTokenFile,
		},
		"sinks": append([]string(nil), c.Sinks...),
		"sink": map[string]any{
			"sqlite_path": c.Sink.SQLite.Path,
			"batch_size":  c.Sink.BatchSize,
			"flush_ms":    c.Sink.FlushMaxMS,
		},
		"api": map[string]any{
			"addr":       c.API.Addr,
			"rate_rps":   c.API.RateRPS,
			"rate_burst": c.API.RateBurst,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) HasSink(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range c.Sinks {
		if strings.ToLower(strings.TrimSpace(s)) == name {
			return true
		}
	}
	return false
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Sink.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Sink.BatchSize
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
