package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/threatscope/console/internal/auth"
	"github.com/threatscope/console/internal/scan"
	"github.com/threatscope/console/internal/sse"
)

const keepaliveInterval = 30 * time.Second

// StreamHandler serves SSE streams of session and login changes.
type StreamHandler struct {
	hub     *sse.Hub
	session *scan.Session
	auth    *auth.Store
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *sse.Hub, session *scan.Session, store *auth.Store) *StreamHandler {
	return &StreamHandler{hub: hub, session: session, auth: store}
}

// HandleSSE handles GET /api/stream/events
// It sends the current session state and login status, then streams live
// state, storage and history events with periodic keepalives.
func (sh *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before hydrating so no change falls between the two.
	ch, cancel := sh.hub.Subscribe(sse.TopicState, sse.TopicStorage, sse.TopicHistory)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for _, ev := range Hydrate(r, sh.session, sh.auth) {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// Hydrate returns the events a new subscriber starts from: the session
// snapshot and the login status.
func Hydrate(r *http.Request, session *scan.Session, store *auth.Store) []sse.Event {
	var out []sse.Event
	if ev, err := sse.NewEvent(sse.TopicState, session.Snapshot()); err == nil {
		out = append(out, ev)
	}
	_, err := store.User(r.Context())
	if ev, err := sse.NewEvent(sse.TopicStorage, auth.Event{Key: auth.KeyAccessToken, LoggedIn: err == nil}); err == nil {
		out = append(out, ev)
	}
	return out
}
