package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/threatscope/console/internal/auth"
	"github.com/threatscope/console/internal/classify"
	"github.com/threatscope/console/internal/db"
	"github.com/threatscope/console/internal/scan"
)

// HistoryStore is the scan history backend, normally *db.DB.
type HistoryStore interface {
	ListScans(ctx context.Context, userID string, limit int) ([]db.ScanSummary, error)
	GetScanResponse(ctx context.Context, id, userID string) (*classify.ScanResponse, error)
	DashboardStats(ctx context.Context, userID string) (*db.DashboardStats, error)
}

// DashboardHandler serves scan history and analytics. Admins see every
// user's scans; everyone else sees their own.
type DashboardHandler struct {
	store  HistoryStore
	logger *slog.Logger
}

func NewDashboardHandler(store HistoryStore, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{store: store, logger: logger}
}

func scopeUserID(r *http.Request) string {
	u := auth.GetUserFromCtx(r.Context())
	if u == nil || u.IsAdmin {
		return ""
	}
	return u.ID
}

// ListHistory handles GET /api/history?limit=N
func (dh *DashboardHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	scans, err := dh.store.ListScans(r.Context(), scopeUserID(r), limit)
	if err != nil {
		dh.logger.Error("list scans", "err", err)
		jsonError(w, "failed to fetch history", http.StatusInternalServerError)
		return
	}
	if scans == nil {
		scans = []db.ScanSummary{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// GetHistoryScan handles GET /api/history/{id}
func (dh *DashboardHandler) GetHistoryScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		jsonError(w, "scan not found", http.StatusNotFound)
		return
	}
	resp, err := dh.store.GetScanResponse(r.Context(), id, scopeUserID(r))
	if errors.Is(err, db.ErrNotFound) {
		jsonError(w, "scan not found", http.StatusNotFound)
		return
	}
	if err != nil {
		dh.logger.Error("get scan", "id", id, "err", err)
		jsonError(w, "failed to fetch scan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scan.NewView(id, *resp))
}

// GetStats handles GET /api/dashboard/stats
func (dh *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := dh.store.DashboardStats(r.Context(), scopeUserID(r))
	if err != nil {
		dh.logger.Error("dashboard stats", "err", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// historyUnavailable answers history routes when no database is configured.
func historyUnavailable(w http.ResponseWriter, _ *http.Request) {
	jsonError(w, "scan history requires database.url", http.StatusServiceUnavailable)
}
