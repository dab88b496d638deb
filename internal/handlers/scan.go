package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threatscope/console/internal/explain"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/report"
	"github.com/threatscope/console/internal/scan"
	"github.com/threatscope/console/internal/telemetry"
)

// multipartSlack covers the form boundaries and headers around the file.
const multipartSlack = 64 << 10

// ScanHandler serves the upload/scan flow, cached results and metrics panels.
type ScanHandler struct {
	session   *scan.Session
	metrics   *telemetry.Metrics
	explainer *explain.Explainer
	maxBytes  int64
	logger    *slog.Logger
}

// NewScanHandler creates a ScanHandler. explainer may be nil.
func NewScanHandler(session *scan.Session, metrics *telemetry.Metrics, explainer *explain.Explainer, maxBytes int64, logger *slog.Logger) *ScanHandler {
	if maxBytes <= 0 {
		maxBytes = scan.DefaultMaxBytes
	}
	return &ScanHandler{session: session, metrics: metrics, explainer: explainer, maxBytes: maxBytes, logger: logger}
}

// Scan handles POST /api/scan (multipart field "file").
func (sh *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, sh.maxBytes+multipartSlack)
	if err := r.ParseMultipartForm(sh.maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonError(w, scan.MsgTooLarge, http.StatusBadRequest)
			return
		}
		jsonError(w, scan.MsgNoFile, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		jsonError(w, scan.MsgNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	ct := hdr.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = scan.ContentTypeFor(hdr.Filename)
	}
	u := scan.Upload{Name: hdr.Filename, ContentType: ct, Size: hdr.Size}
	if u.Size <= sh.maxBytes {
		u.Data, err = io.ReadAll(file)
		if err != nil {
			jsonError(w, "failed to read upload", http.StatusBadRequest)
			return
		}
	}
	if err := sh.session.Select(u); err != nil {
		sh.writeScanError(w, err)
		return
	}

	start := time.Now()
	view, err := sh.session.Scan(r.Context())
	sh.metrics.ObserveScan(view, err, time.Since(start))
	if err != nil {
		sh.writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (sh *ScanHandler) writeScanError(w http.ResponseWriter, err error) {
	var ve *scan.ValidationError
	var te *mlclient.TransportError
	switch {
	case errors.As(err, &ve):
		jsonError(w, ve.Message, http.StatusBadRequest)
	case errors.As(err, &te):
		jsonError(w, te.Error(), http.StatusBadGateway)
	case errors.Is(err, scan.ErrSuperseded):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		sh.logger.Error("scan failed", "err", err)
		jsonError(w, "scan failed", http.StatusInternalServerError)
	}
}

// Results handles GET /api/results.
func (sh *ScanHandler) Results(w http.ResponseWriter, r *http.Request) {
	view, err := sh.session.Results(r.Context())
	if err != nil {
		sh.logger.Error("load results", "err", err)
		jsonError(w, "failed to load results", http.StatusInternalServerError)
		return
	}
	if view == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ClearResults handles DELETE /api/results.
func (sh *ScanHandler) ClearResults(w http.ResponseWriter, r *http.Request) {
	if err := sh.session.Clear(r.Context()); err != nil {
		sh.logger.Error("clear results", "err", err)
		jsonError(w, "failed to clear results", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Row handles GET /api/results/{rowIndex}.
func (sh *ScanHandler) Row(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "rowIndex"))
	if err != nil {
		jsonError(w, "invalid row index", http.StatusBadRequest)
		return
	}
	detail, ok, err := sh.session.Row(r.Context(), index)
	if err != nil {
		jsonError(w, "failed to load results", http.StatusInternalServerError)
		return
	}
	if !ok {
		jsonError(w, "row not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Explain handles POST /api/results/{rowIndex}/explain.
func (sh *ScanHandler) Explain(w http.ResponseWriter, r *http.Request) {
	if sh.explainer == nil {
		jsonError(w, "explanations are not configured", http.StatusServiceUnavailable)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "rowIndex"))
	if err != nil {
		jsonError(w, "invalid row index", http.StatusBadRequest)
		return
	}
	detail, ok, err := sh.session.Row(r.Context(), index)
	if err != nil {
		jsonError(w, "failed to load results", http.StatusInternalServerError)
		return
	}
	if !ok {
		jsonError(w, "row not found", http.StatusNotFound)
		return
	}
	out, err := sh.explainer.Explain(r.Context(), detail)
	if err != nil {
		jsonError(w, "explanation failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Export returns a handler for GET /api/results/export.{pdf,json,yaml}.
func (sh *ScanHandler) Export(format report.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := sh.session.Results(r.Context())
		if err != nil {
			jsonError(w, "failed to load results", http.StatusInternalServerError)
			return
		}
		if view == nil {
			jsonError(w, "no scan results to export", http.StatusNotFound)
			return
		}
		meta := report.Meta{Filename: sh.session.Snapshot().File, GeneratedAt: time.Now().UTC()}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="scan-report.%s"`, format))
		if err := report.Write(w, format, view, meta); err != nil {
			sh.logger.Error("export results", "format", format, "err", err)
		}
	}
}

// Metrics handles GET /api/metrics/{label}.
func (sh *ScanHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	label, err := url.PathUnescape(chi.URLParam(r, "label"))
	if err != nil || label == "" {
		jsonError(w, "invalid label", http.StatusBadRequest)
		return
	}
	mv, err := sh.session.Metrics(r.Context(), label)
	if err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	if mv.ModelType.HasMetrics() {
		sh.metrics.ObserveMetricsFetch(mv.ModelType)
	}
	writeJSON(w, http.StatusOK, mv)
}

// State handles GET /api/state.
func (sh *ScanHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sh.session.Snapshot())
}
