// devchat is a local stand-in for the live chat endpoints: it serves the
// SSE feed plus the send/delete message routes, so the client can be run
// end to end without a real stream. POST /emit injects chat lines.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

type wireUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type wireMessage struct {
	ID        int64           `json:"id"`
	Time      string          `json:"time"`
	UserID    int64           `json:"user_id"`
	ChannelID *int64          `json:"channel_id"`
	Text      string          `json:"text"`
	Rant      json.RawMessage `json:"rant,omitempty"`
}

type hub struct {
	mu      sync.Mutex
	nextMsg int64
	nextUsr int64
	users   map[string]int64 // username -> id
	clients map[chan string]struct{}
}

func newHub() *hub {
	return &hub{
		nextMsg: 1,
		nextUsr: 1,
		users:   make(map[string]int64),
		clients: make(map[chan string]struct{}),
	}
}

func (h *hub) subscribe() chan string {
	ch := make(chan string, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan string) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *hub) broadcast(payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *hub) userID(username string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.users[username]; ok {
		return id
	}
	id := h.nextUsr
	h.nextUsr++
	h.users[username] = id
	return id
}

func (h *hub) messageID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextMsg
	h.nextMsg++
	return id
}

func (h *hub) emit(username, text string, rantCents int) int64 {
	userID := h.userID(username)
	msgID := h.messageID()

	msg := wireMessage{
		ID:     msgID,
		Time:   time.Now().UTC().Format("2006-01-02T15:04:05-07:00"),
		UserID: userID,
		Text:   text,
	}
	if rantCents > 0 {
		msg.Rant, _ = json.Marshal(map[string]any{
			"price_cents": rantCents,
			"duration":    120,
		})
	}

	event := map[string]any{
		"type": "messages",
		"data": map[string]any{
			"users":    []wireUser{{ID: userID, Username: username}},
			"messages": []wireMessage{msg},
		},
	}
	raw, _ := json.Marshal(event)
	h.broadcast(string(raw))
	return msgID
}

const initEvent = `{"type":"init","data":{"users":[],"channels":[],"messages":[],` +
	`"config":{"badges":{},"rants":{"enable":true},"message_length_max":200}}}`

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8600", "HTTP listen address")
	flag.Parse()

	h := newHub()
	log.Printf("devchat listening on %s", addr)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /chat/api/chat/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		fmt.Fprintf(w, "data: %s\n\n", initEvent)
		flusher.Flush()

		ch := h.subscribe()
		defer h.unsubscribe(ch)
		for {
			select {
			case <-r.Context().Done():
				return
			case payload := <-ch:
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	})

	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE")
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("OPTIONS /chat/api/chat/{id}/message", preflight)
	mux.HandleFunc("OPTIONS /chat/api/chat/{id}/message/{msg}", preflight)

	mux.HandleFunc("POST /chat/api/chat/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Data struct {
				Message struct {
					Text string `json:"text"`
				} `json:"message"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Data.Message.Text == "" {
			http.Error(w, "text required", http.StatusBadRequest)
			return
		}

		msgID := h.emit("devuser", req.Data.Message.Text, 0)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id":   msgID,
				"user": wireUser{ID: h.userID("devuser"), Username: "devuser"},
			},
		})
	})

	mux.HandleFunc("DELETE /chat/api/chat/{id}/message/{msg}", func(w http.ResponseWriter, r *http.Request) {
		msgID := r.PathValue("msg")
		raw, _ := json.Marshal(map[string]any{
			"type": "delete_messages",
			"data": map[string]any{"message_ids": []string{msgID}},
		})
		h.broadcast(string(raw))
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /emit", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Username  string `json:"username"`
			Text      string `json:"text"`
			RantCents int    `json:"rant_cents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Text == "" {
			http.Error(w, "username, text required", http.StatusBadRequest)
			return
		}

		id := h.emit(req.Username, req.Text, req.RantCents)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": id})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
