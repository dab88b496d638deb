package sse

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threatscope/console/internal/db"
)

// PGListener subscribes to PostgreSQL NOTIFY and fans out scan-history
// notifications to the SSE hub, so every console instance sharing a
// database sees new scans.
type PGListener struct {
	pool   *pgxpool.Pool
	hub    *Hub
	logger *slog.Logger
}

// NewPGListener creates a new PGListener that bridges PostgreSQL notifications to SSE.
func NewPGListener(pool *pgxpool.Pool, hub *Hub, logger *slog.Logger) *PGListener {
	return &PGListener{pool: pool, hub: hub, logger: logger}
}

// Listen blocks until ctx is cancelled or the connection fails.
// It should be run inside RunWithRecovery so it auto-restarts on failure.
func (pl *PGListener) Listen(ctx context.Context) {
	conn, err := pl.pool.Acquire(ctx)
	if err != nil {
		pl.logger.Error("pg-listen: acquire connection failed", "err", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+db.HistoryChannel); err != nil {
		pl.logger.Error("pg-listen: LISTEN failed", "channel", db.HistoryChannel, "err", err)
		return
	}
	pl.logger.Info("pg-listen: subscribed", "channel", db.HistoryChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // graceful shutdown
			}
			pl.logger.Error("pg-listen: notification error", "err", err)
			return // RunWithRecovery will reconnect
		}
		pl.hub.Publish(Event{Type: TopicHistory, Data: []byte(notification.Payload)})
	}
}
