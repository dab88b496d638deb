package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threatscope/console/internal/auth"
	"github.com/threatscope/console/internal/explain"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/ratelimit"
	"github.com/threatscope/console/internal/report"
	"github.com/threatscope/console/internal/scan"
	"github.com/threatscope/console/internal/sse"
	"github.com/threatscope/console/internal/telemetry"
	"github.com/threatscope/console/internal/ws"
)

// Deps are the components the HTTP surface is built from. Explainer and
// History may be nil.
type Deps struct {
	Logger    *slog.Logger
	Session   *scan.Session
	Auth      *auth.Store
	ML        *mlclient.Client
	Explainer *explain.Explainer
	History   HistoryStore
	DB        Pinger
	Metrics   *telemetry.Metrics
	Limiter   *ratelimit.Limiter
	Hub       *sse.Hub
	WS        *ws.Manager
	MaxBytes  int64
}

// NewRouter builds the console's HTTP API.
func NewRouter(d Deps) http.Handler {
	scanHandler := NewScanHandler(d.Session, d.Metrics, d.Explainer, d.MaxBytes, d.Logger)
	authHandler := NewAuthHandler(d.ML, d.Auth, d.Logger)
	streamHandler := NewStreamHandler(d.Hub, d.Session, d.Auth)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(d.Metrics.Middleware)
	r.Use(corsMiddleware)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Get("/ready", readyHandler(d.DB))
	r.Handle("/metrics", d.Metrics.Handler())
	r.Get("/ws", d.WS.HandleWS)

	r.Route("/api", func(api chi.Router) {
		api.Use(d.Limiter.Middleware("api"))

		api.With(d.Limiter.Middleware("scan")).Post("/scan", scanHandler.Scan)
		api.Get("/state", scanHandler.State)

		api.Get("/results", scanHandler.Results)
		api.Delete("/results", scanHandler.ClearResults)
		for _, f := range []report.Format{report.FormatPDF, report.FormatJSON, report.FormatYAML} {
			api.Get("/results/export."+string(f), scanHandler.Export(f))
		}
		api.Get("/results/{rowIndex}", scanHandler.Row)
		api.With(d.Limiter.Middleware("explain")).Post("/results/{rowIndex}/explain", scanHandler.Explain)

		api.With(d.Limiter.Middleware("metrics")).Get("/metrics/{label}", scanHandler.Metrics)

		api.Route("/auth", func(ar chi.Router) {
			ar.With(d.Limiter.Middleware("auth")).Post("/login", authHandler.Login)
			ar.With(d.Limiter.Middleware("auth")).Post("/register", authHandler.Register)
			ar.Post("/logout", authHandler.Logout)
			ar.With(auth.RequireLogin(d.Auth)).Get("/me", authHandler.Me)
			ar.With(auth.RequireLogin(d.Auth)).Get("/users", authHandler.Users)
		})

		api.Group(func(hr chi.Router) {
			hr.Use(auth.RequireLogin(d.Auth))
			if d.History == nil {
				hr.Get("/history", historyUnavailable)
				hr.Get("/history/{id}", historyUnavailable)
				hr.Get("/dashboard/stats", historyUnavailable)
				return
			}
			dashHandler := NewDashboardHandler(d.History, d.Logger)
			hr.Get("/history", dashHandler.ListHistory)
			hr.Get("/history/{id}", dashHandler.GetHistoryScan)
			hr.Get("/dashboard/stats", dashHandler.GetStats)
		})

		api.Get("/stream/events", streamHandler.HandleSSE)
	})
	return r
}

// corsMiddleware lets a separately served front end call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
