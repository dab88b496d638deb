package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/threatscope/console/internal/app"
	"github.com/threatscope/console/internal/auth"
	"github.com/threatscope/console/internal/handlers"
	"github.com/threatscope/console/internal/ratelimit"
	"github.com/threatscope/console/internal/scan"
	"github.com/threatscope/console/internal/server"
	"github.com/threatscope/console/internal/sse"
	"github.com/threatscope/console/internal/tls"
	"github.com/threatscope/console/internal/ws"
)

const sweepInterval = 5 * time.Minute

func newServeCmd(c *cli) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for the web front end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				c.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port (overrides server.port)")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	logger := c.logger
	hub := sse.NewHub(logger)

	var a *app.App
	wsManager := ws.NewManager(func() []any {
		out := []any{map[string]any{"type": sse.TopicState, "data": a.Session.Snapshot()}}
		_, err := a.Auth.User(context.Background())
		return append(out, map[string]any{"type": sse.TopicStorage, "data": auth.Event{Key: auth.KeyAccessToken, LoggedIn: err == nil}})
	}, logger)
	publish := func(topic string, v any) {
		hub.PublishJSON(topic, v)
		wsManager.Broadcast(topic, v)
	}

	a, err := c.open(ctx, scan.WithObserver(func(s scan.Snapshot) { publish(sse.TopicState, s) }))
	if err != nil {
		return err
	}
	a.Auth.Subscribe(func(ev auth.Event) { publish(sse.TopicStorage, ev) })

	limiter := ratelimit.New(map[string]ratelimit.Bucket{
		"scan": {MaxRequests: c.cfg.RateLimit.ScanPerMinute, Window: time.Minute},
	})

	deps := handlers.Deps{
		Logger:    logger,
		Session:   a.Session,
		Auth:      a.Auth,
		ML:        a.ML,
		Explainer: a.Explainer,
		Metrics:   a.Metrics,
		Limiter:   limiter,
		Hub:       hub,
		WS:        wsManager,
		MaxBytes:  c.cfg.Upload.MaxBytes,
	}
	if a.DB != nil {
		deps.History = a.DB
		deps.DB = a.DB
	}
	router := handlers.NewRouter(deps)

	g, ctx := errgroup.WithContext(ctx)
	if a.Pool != nil {
		listener := sse.NewPGListener(a.Pool, hub, logger)
		g.Go(func() error {
			server.RunWithRecovery(ctx, logger, "pg-listener", listener.Listen)
			return nil
		})
	}
	g.Go(func() error {
		server.RunWithRecovery(ctx, logger, "ratelimit-sweep", func(ctx context.Context) {
			t := time.NewTicker(sweepInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if n := limiter.Sweep(); n > 0 {
						logger.Debug("rate limiter swept", "keys", n)
					}
				}
			}
		})
		return nil
	})

	if domain := c.cfg.Server.TLSDomain; domain != "" {
		cm := tls.NewCertManager(domain, c.cfg.Server.ACMEEmail, c.cfg.Server.Production, logger)
		g.Go(func() error { return cm.ListenAndServe(ctx, router) })
		return g.Wait()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE + WebSocket need unlimited write time
		IdleTimeout:       60 * time.Second,
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("server starting", "port", c.cfg.Server.Port, "backend", a.ML.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	err = g.Wait()
	logger.Info("server stopped")
	return err
}
