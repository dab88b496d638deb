// Package telemetry exposes the console's Prometheus metrics.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threatscope/console/internal/classify"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/scan"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal     *prometheus.CounterVec
	rowsTotal      *prometheus.CounterVec
	malformedTotal prometheus.Counter
	scanDuration   prometheus.Histogram
	metricsFetches *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	sessionState   *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threatscope_scans_total",
			Help: "Scans by outcome (success, validation, transport, superseded).",
		}, []string{"outcome"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threatscope_rows_total",
			Help: "Classified rows by detection bucket.",
		}, []string{"bucket"}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threatscope_malformed_records_total",
			Help: "Backend records with neither prediction nor classification.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threatscope_scan_duration_seconds",
			Help:    "Backend round trip of a scan.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		metricsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threatscope_metrics_fetches_total",
			Help: "Metrics panel fetches by model type.",
		}, []string{"model_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threatscope_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threatscope_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "threatscope_session_state",
			Help: "1 for the current scan session state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.scansTotal, m.rowsTotal, m.malformedTotal, m.scanDuration,
		m.metricsFetches, m.httpRequests, m.httpDuration, m.sessionState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan records the outcome of one scan.
func (m *Metrics) ObserveScan(view *scan.View, err error, took time.Duration) {
	m.scansTotal.WithLabelValues(Outcome(err)).Inc()
	if err != nil {
		return
	}
	m.scanDuration.Observe(took.Seconds())
	for bucket, n := range view.Counts.Counts {
		if n > 0 {
			m.rowsTotal.WithLabelValues(bucket).Add(float64(n))
		}
	}
	if view.Malformed > 0 {
		m.malformedTotal.Add(float64(view.Malformed))
	}
}

// ObserveMetricsFetch counts a metrics panel request.
func (m *Metrics) ObserveMetricsFetch(mt classify.ModelType) {
	m.metricsFetches.WithLabelValues(string(mt)).Inc()
}

// SetState marks s as the current session state.
func (m *Metrics) SetState(s scan.State) {
	for _, st := range []scan.State{scan.Idle, scan.FileSelected, scan.Scanning, scan.ResultsReady, scan.ScanFailed} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.sessionState.WithLabelValues(string(st)).Set(v)
	}
}

// Outcome classifies a scan error for the outcome label.
func Outcome(err error) string {
	var ve *scan.ValidationError
	var te *mlclient.TransportError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, scan.ErrSuperseded):
		return "superseded"
	}
	return "error"
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
