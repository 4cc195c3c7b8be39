package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/rumblechat/internal/auth"
	"github.com/you/rumblechat/internal/chat"
	"github.com/you/rumblechat/internal/config"
	"github.com/you/rumblechat/internal/core"
	httpadmin "github.com/you/rumblechat/internal/http"
	"github.com/you/rumblechat/internal/httpapi"
	"github.com/you/rumblechat/internal/ids"
	"github.com/you/rumblechat/internal/ingesttrace"
	"github.com/you/rumblechat/internal/sink"
	"github.com/you/rumblechat/internal/tailer"
	"github.com/you/rumblechat/internal/version"
)

type noopWriter struct{}

func (noopWriter) Write(core.ChatRecord, *ingesttrace.MessageTrace) error {
	return errors.New("no sink configured")
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var (
		versionFlag      bool
		configPath       string
		streamID         string
		historyLen       int
		dbPath           string
		sessionToken     string
		sessionTokenFile string
		httpAddr         string
		httpRateRPS      float64
		httpRateBurst    int
		httpMetrics      bool
		httpAccessLog    bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&streamID, "stream", "", "Base-36 stream ID, as it appears in the video URL")
	flag.IntVar(&historyLen, "history-len", 0, "Bound on the delivered-message history")
	flag.StringVar(&dbPath, "sqlite", "chat.db", "Path to SQLite database file")
	flag.StringVar(&sessionToken, "session-token", "", "Rumble session token (u_s cookie value)")
	flag.StringVar(&sessionTokenFile, "session-token-file", "", "Path to file containing the session token")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status/stream address (e.g., :8765)")
	flag.Float64Var(&httpRateRPS, "http-rate-rps", 10, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 20, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"chattail version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	if path := strings.TrimSpace(configPath); path != "" {
		os.Setenv("RUMBLE_CONFIG", path)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("chattail: config: %v", err)
	}

	addSink := func(name string) {
		if !cfg.HasSink(name) {
			cfg.Sinks = append(cfg.Sinks, name)
		}
	}

	if overrides["stream"] {
		cfg.Stream.ID = strings.TrimSpace(streamID)
	}
	if overrides["history-len"] && historyLen > 0 {
		cfg.Stream.HistoryLen = historyLen
	}
	if overrides["sqlite"] {
		cfg.Sink.SQLite.Path = strings.TrimSpace(dbPath)
		addSink("sqlite")
	}
	if overrides["session-token"] {
		cfg.Auth.SessionToken = strings.TrimSpace(sessionToken)
	}
	if overrides["session-token-file"] {
		cfg.Auth.SessionTokenFile = strings.TrimSpace(sessionTokenFile)
	}
	if overrides["http-addr"] {
		cfg.API.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-rate-rps"] && httpRateRPS > 0 {
		cfg.API.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] && httpRateBurst > 0 {
		cfg.API.RateBurst = httpRateBurst
	}

	if strings.TrimSpace(cfg.Stream.ID) == "" {
		log.Fatal("chattail: stream ID is required (-stream or RUMBLE_STREAM_ID)")
	}
	stream, err := ids.Parse(cfg.Stream.ID)
	if err != nil {
		log.Fatalf("chattail: stream ID: %v", err)
	}

	configSnapshot := cfg.Redacted()
	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("chattail: received %s, shutting down", sig)
		cancel()
	}()

	var (
		sinkDB   *sink.SQLiteSink
		api      *httpapi.Server
		writer   sink.Writer = noopWriter{}
		buffered *sink.BufferedWriter
	)

	if cfg.HasSink("sqlite") {
		db, err := sink.OpenSQLite(cfg.Sink.SQLite.Path)
		if err != nil {
			log.Fatalf("chattail: open sqlite: %v", err)
		}
		sinkDB = db
		if err := sinkDB.Ping(); err != nil {
			log.Fatalf("chattail: ping sqlite: %v", err)
		}
		if err := migrateSQLite(ctx, sinkDB.RawDB()); err != nil {
			log.Fatalf("chattail: sqlite migrate: %v", err)
		}
		writer = sinkDB
	} else {
		log.Printf("chattail: sqlite sink disabled (configured sinks=%v)", cfg.Sinks)
	}

	if sinkDB != nil {
		defer func() {
			if err := sinkDB.Close(); err != nil {
				log.Printf("chattail: closing sink: %v", err)
			}
		}()
	}

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	if cfg.API.Addr != "" {
		if sinkDB == nil {
			log.Printf("chattail: http api requested but sqlite sink is disabled; skipping listener")
		} else {
			api = httpapi.New(sinkDB, httpapi.Options{
				Addr:            cfg.API.Addr,
				RateLimitRPS:    cfg.API.RateRPS,
				RateLimitBurst:  cfg.API.RateBurst,
				EnableMetrics:   httpMetrics,
				EnableAccessLog: httpAccessLog,
				Stream:          stream.B36(),
				Build:           build,
				ConfigSnapshot:  configSnapshot,
			})
			go func() {
				if err := api.Start(); err != nil {
					log.Fatalf("chattail: http api: %v", err)
				}
			}()
			writer = sink.WithAPI(sinkDB, api)
			log.Printf("chattail: http api ready on %s", cfg.API.Addr)
		}
	}

	if cfg.HasSink("stdout") {
		stdout := sink.NewStdoutWriter(nil)
		if sinkDB == nil {
			writer = stdout
		} else {
			writer = sink.NewMultiWriter(writer, stdout)
		}
	}

	if sinkDB != nil && (cfg.Batch() > 1 || cfg.FlushInterval() > 0) {
		buffered = sink.NewBufferedWriter(writer, sink.BufferedOptions{
			BatchSize:     cfg.Batch(),
			FlushInterval: cfg.FlushInterval(),
		})
		writer = buffered
	}

	if buffered != nil {
		defer func() {
			if err := buffered.Close(); err != nil {
				log.Printf("chattail: flush buffered sink: %v", err)
			}
		}()
	}

	token, err := cfg.SessionToken()
	if err != nil {
		log.Fatalf("chattail: session token: %v", err)
	}
	var authenticator chat.Authenticator
	if token != "" {
		client, err := auth.New(auth.Config{SessionToken: token})
		if err != nil {
			log.Fatalf("chattail: auth: %v", err)
		}
		authenticator = client
	} else {
		log.Printf("chattail: no session token; running read-only")
	}

	session, err := chat.Open(ctx, stream, chat.Options{
		Auth:       authenticator,
		HistoryLen: cfg.Stream.HistoryLen,
	})
	if err != nil {
		log.Fatalf("chattail: open chat: %v", err)
	}
	defer session.Close()
	log.Printf(
		"chattail: connected to stream %s (rants=%t max_message_len=%d)",
		stream.B36(),
		session.RantsEnabled(),
		session.MaxMessageLen(),
	)

	tailOpts := tailer.Options{
		Stream:    stream.B36(),
		TokenFile: cfg.Auth.SessionTokenFile,
		Auth:      auth.Config{},
	}
	if sinkDB != nil {
		tailOpts.Deleter = sinkDB
	}
	if api != nil {
		tailOpts.Metrics = api.Metrics()
	}
	tl := tailer.New(session, writer, tailOpts)

	if api != nil {
		admin := httpadmin.New(tl)
		admin.Register(api.Mux())
	}
	if cfg.Auth.SessionTokenFile != "" {
		if err := tl.WatchTokenFile(cfg.Auth.SessionTokenFile); err != nil {
			slog.Error("chattail: watch token file", "err", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- tl.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("chattail: tail: %v", err)
		}
		cancel()
	}

	if api != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("chattail: http api shutdown: %v", err)
		}
		cancelShutdown()
	}

	// allow the tail goroutine to finish cleanly
	time.Sleep(100 * time.Millisecond)
	log.Printf("chattail: shutdown complete")
}
