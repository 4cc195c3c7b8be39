package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/you/rumblechat/internal/core"
)

// Store is the read side the API serves from.
type Store interface {
	CountMessages(ctx context.Context, filters Filters) (int64, error)
	ListMessages(ctx context.Context, filters Filters) ([]core.ChatRecord, error)
}

// Options configures the HTTP API server.
type Options struct {
	Addr            string
	RateLimitRPS    float64
	RateLimitBurst  int
	EnableMetrics   bool
	EnableAccessLog bool
	// Stream is the base 36 id of the stream being tailed, echoed on /info.
	Stream string
	Build  BuildInfo
	ConfigSnapshot  map[string]any
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	store      Store
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter

	mu      sync.Mutex
	clients map[chan core.ChatRecord]struct{}
	closed  bool
}

func New(store Store, opts Options) *Server {
	srv := &Server{
		store:   store,
		opts:    opts,
		clients: make(map[chan core.ChatRecord]struct{}),
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}
	if opts.EnableMetrics {
		srv.metrics = newMetrics()
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.Handle("/info", srv.wrap("/info", srv.handleInfo))
	mux.Handle("/config", srv.wrap("/config", srv.handleConfig))
	mux.Handle("/count", srv.wrap("/count", srv.handleCount))
	mux.Handle("/messages", srv.wrap("/messages", srv.handleMessages))
	mux.Handle("/stream", srv.wrap("/stream", srv.handleStream))
	if srv.metrics != nil {
		mux.Handle("/metrics", srv.metrics.Handler())
	}
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the underlying mux so extra handlers (admin) can register.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Metrics exposes the collector bundle, nil when metrics are disabled.
func (s *Server) Metrics() *Metrics { return s.metrics }

// wrap applies rate limiting and request metrics around a handler.
func (s *Server) wrap(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		rec := newResponseRecorder(w)
		start := time.Now()
		h(rec, r)
		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur)
		if s.opts.EnableAccessLog {
			log.Printf("httpapi: %s %s %d %dB %s ip=%s",
				r.Method, r.URL.Path, rec.Status(), rec.bytes, dur.Round(time.Millisecond), remoteIP(r))
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	if s.opts.ConfigSnapshot == nil {
		http.Error(w, "config snapshot unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(s.opts.ConfigSnapshot)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.store.CountMessages(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": count})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.ListMessages(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []core.ChatRecord{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(rows)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters = filters.CloneForStream()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan core.ChatRecord, 256)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.clients[clientCh] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncSSEClients(1)

	defer func() {
		s.mu.Lock()
		delete(s.clients, clientCh)
		s.mu.Unlock()
		s.metrics.IncSSEClients(-1)
	}()

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case rec, ok := <-clientCh:
			if !ok {
				return
			}
			if !filters.Matches(rec) {
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncMessagesSent()
		}
	}
}

// Broadcast fans a record out to all connected SSE clients. Slow clients
// drop rather than block the writer.
func (s *Server) Broadcast(rec core.ChatRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- rec:
		default:
			s.metrics.IncBroadcastDrops()
		}
	}
}

// ReportDBWriteError bumps the write error counter for dashboards.
func (s *Server) ReportDBWriteError() {
	s.metrics.IncDBWriteErrors()
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
