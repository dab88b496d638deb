package handlers

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

// Pinger is a dependency checked by the readiness probe, normally *db.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// readyHandler handles GET /ready. Without a database the console is ready
// as soon as it serves.
func readyHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			defer cancel()
			if err := p.PingContext(ctx); err != nil {
				jsonError(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
