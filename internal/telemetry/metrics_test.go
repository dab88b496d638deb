package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/threatscope/console/internal/classify"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/scan"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "validation", Outcome(&scan.ValidationError{Message: "x"}))
	assert.Equal(t, "transport", Outcome(fmt.Errorf("wrapped: %w", &mlclient.TransportError{Op: "process", Err: errors.New("x")})))
	assert.Equal(t, "superseded", Outcome(scan.ErrSuperseded))
	assert.Equal(t, "error", Outcome(errors.New("other")))
}

func TestObserveScan(t *testing.T) {
	m := New()
	dc := classify.NewDetectionCounts()
	dc.AddCount("phishing", 3)
	dc.AddCount("ham", 1)
	m.ObserveScan(&scan.View{Counts: dc, Malformed: 2}, nil, time.Second)
	m.ObserveScan(nil, &scan.ValidationError{Message: "x"}, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scansTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scansTotal.WithLabelValues("validation")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rowsTotal.WithLabelValues("phishing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.malformedTotal))
}

func TestSetState(t *testing.T) {
	m := New()
	m.SetState(scan.Scanning)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionState.WithLabelValues("scanning")))
	m.SetState(scan.ResultsReady)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionState.WithLabelValues("scanning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionState.WithLabelValues("results_ready")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/results/{rowIndex}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/results/7", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/results/{rowIndex}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "threatscope_http_requests_total")
}
