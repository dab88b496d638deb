// Package scan drives the upload and scan flow: file selection, the backend
// round trip, persistence of the result, and on-demand metrics per attack
// group. Every scan and metrics fetch is numbered; a response that is no
// longer the latest issued is dropped.
package scan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/threatscope/console/internal/cache"
	"github.com/threatscope/console/internal/classify"
)

// State of the upload/scan flow.
type State string

const (
	Idle         State = "idle"
	FileSelected State = "file_selected"
	Scanning     State = "scanning"
	ResultsReady State = "results_ready"
	ScanFailed   State = "scan_failed"
)

// ErrSuperseded is returned for a response that arrived after a newer request
// of the same kind was issued. Its result has been discarded.
var ErrSuperseded = errors.New("scan: superseded by a newer request")

// primaryKey is the metrics sequence slot of the post-scan fetch.
const primaryKey = "\x00primary"

// Backend is the part of the ML client a session uses.
type Backend interface {
	Process(ctx context.Context, filename string, file io.Reader) (*classify.ScanResponse, error)
	Metrics(ctx context.Context, mt classify.ModelType) (map[string]any, error)
}

// Snapshot is a point-in-time copy of the session for display.
type Snapshot struct {
	State          State        `json:"state"`
	File           string       `json:"file,omitempty"`
	Error          string       `json:"error,omitempty"`
	ScanID         string       `json:"scan_id,omitempty"`
	PrimaryMetrics *MetricsView `json:"primary_metrics,omitempty"`
}

// ResultHook is called after every successful scan, outside the session lock.
type ResultHook func(ctx context.Context, id, filename string, resp classify.ScanResponse)

// Option configures a Session.
type Option func(*Session)

// WithMaxBytes overrides the upload size limit.
func WithMaxBytes(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithObserver registers fn to receive a snapshot after every state change.
// fn runs without the session lock held.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// WithResultHook registers fn to receive every successful scan response.
func WithResultHook(fn ResultHook) Option {
	return func(s *Session) { s.hooks = append(s.hooks, fn) }
}

// WithPrimaryMetrics controls whether a successful scan also fetches the
// metrics of the first result's model. Enabled by default.
func WithPrimaryMetrics(enabled bool) Option {
	return func(s *Session) { s.primaryMetrics = enabled }
}

// Session is one user's upload/scan flow. It is safe for concurrent use.
type Session struct {
	backend        Backend
	store          *cache.ResultStore
	logger         *slog.Logger
	maxBytes       int64
	primaryMetrics bool
	observers      []func(Snapshot)
	hooks          []ResultHook

	mu         sync.Mutex
	state      State
	file       *Upload
	err        error
	view       *View
	primary    *MetricsView
	scanSeq    uint64
	metricsSeq map[string]uint64
}

// NewSession creates an idle session.
func NewSession(backend Backend, store *cache.ResultStore, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		backend:        backend,
		store:          store,
		logger:         logger,
		maxBytes:       DefaultMaxBytes,
		primaryMetrics: true,
		state:          Idle,
		metricsSeq:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state, PrimaryMetrics: s.primary}
	if s.file != nil {
		snap.File = s.file.Name
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if s.view != nil {
		snap.ScanID = s.view.ID
	}
	return snap
}

func (s *Session) notify(snap Snapshot) {
	for _, fn := range s.observers {
		fn(snap)
	}
}

// Select validates and picks a file. An invalid pick leaves the state and
// the previously selected file as they were and records the error.
func (s *Session) Select(u Upload) error {
	s.mu.Lock()
	if err := validate(u, s.maxBytes); err != nil {
		s.err = err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
		return err
	}
	s.file = &u
	s.err = nil
	s.state = FileSelected
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return nil
}

// Scan sends the selected file to the backend. On success the response is
// persisted and the grouped view returned. On failure the session moves to
// ScanFailed and the cached result is left untouched.
func (s *Session) Scan(ctx context.Context) (*View, error) {
	s.mu.Lock()
	if s.file == nil {
		s.err = &ValidationError{Message: MsgNoFile}
		err := s.err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
		return nil, err
	}
	s.scanSeq++
	seq := s.scanSeq
	file := *s.file
	s.state = Scanning
	s.err = nil
	s.view = nil
	s.primary = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	resp, err := s.backend.Process(ctx, file.Name, bytes.NewReader(file.Data))

	s.mu.Lock()
	if seq != s.scanSeq {
		s.mu.Unlock()
		s.logger.Info("discarding stale scan response", "file", file.Name)
		return nil, ErrSuperseded
	}
	if err != nil {
		s.state = ScanFailed
		s.err = err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Warn("scan failed", "file", file.Name, "err", err)
		s.notify(snap)
		return nil, err
	}
	if err := s.store.Save(ctx, *resp); err != nil {
		// The result is still shown; it just won't survive a restart.
		s.logger.Error("persist scan result", "err", err)
	}
	view := NewView(uuid.NewString(), *resp)
	s.view = view
	s.state = ResultsReady
	snap = s.snapshotLocked()
	s.mu.Unlock()

	if view.Malformed > 0 {
		s.logger.Warn("scan contains malformed records", "count", view.Malformed)
	}
	s.logger.Info("scan complete", "id", view.ID, "file", file.Name, "rows", view.Total, "groups", len(view.Groups))
	s.notify(snap)
	for _, fn := range s.hooks {
		fn(ctx, view.ID, file.Name, *resp)
	}

	if s.primaryMetrics && len(resp.Results) > 0 {
		s.fetchPrimary(ctx, seq, resp.Results[0].ModelName)
	}
	return view, nil
}

// fetchPrimary loads the metrics of the scan's main model. Failures clear
// the panels; they never fail the scan.
func (s *Session) fetchPrimary(ctx context.Context, scanSeq uint64, modelName string) {
	mt := classify.ResolveModelType(modelName)
	if !mt.HasMetrics() {
		return
	}
	seq := s.nextMetricsSeq(primaryKey)
	raw, err := s.backend.Metrics(ctx, mt)

	s.mu.Lock()
	if seq != s.metricsSeq[primaryKey] || scanSeq != s.scanSeq {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.primary = nil
		s.mu.Unlock()
		s.logger.Warn("fetch primary metrics", "model", modelName, "err", err)
		return
	}
	s.primary = &MetricsView{Label: modelName, ModelType: mt, Panels: classify.Panels(raw)}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) nextMetricsSeq(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsSeq[key]++
	return s.metricsSeq[key]
}

// Metrics fetches the metric panels of an attack group. Labels without a
// metrics model and failed fetches yield explanatory message panels rather
// than an error; only ErrSuperseded is returned.
func (s *Session) Metrics(ctx context.Context, label string) (*MetricsView, error) {
	mt := classify.ResolveModelType(label)
	mv := &MetricsView{Label: label, ModelType: mt}
	if !mt.HasMetrics() {
		mv.Panels = classify.UnavailablePanels(&classify.MetricsUnavailableError{
			Label: label, Reason: classify.MsgNoMetricsForAttack,
		})
		return mv, nil
	}

	seq := s.nextMetricsSeq(label)
	raw, err := s.backend.Metrics(ctx, mt)

	s.mu.Lock()
	stale := seq != s.metricsSeq[label]
	s.mu.Unlock()
	if stale {
		return nil, ErrSuperseded
	}
	if err != nil {
		s.logger.Warn("fetch metrics", "label", label, "model_type", mt, "err", err)
		mv.Panels = classify.UnavailablePanels(&classify.MetricsUnavailableError{
			Label: label, Reason: classify.MsgMetricsFetchFailed,
		})
		return mv, nil
	}
	mv.Panels = classify.Panels(raw)
	return mv, nil
}

// Results returns the current view. After a restart, or while a new scan is
// running or has failed, it falls back to the persisted response. It returns
// nil when nothing has been scanned.
func (s *Session) Results(ctx context.Context) (*View, error) {
	s.mu.Lock()
	v := s.view
	s.mu.Unlock()
	if v != nil {
		return v, nil
	}
	resp, err := s.store.Load(ctx)
	if err != nil || resp == nil {
		return nil, err
	}
	return NewView("", *resp), nil
}

// Row looks up a row of the persisted response by its backend row index.
func (s *Session) Row(ctx context.Context, index int) (classify.Detail, bool, error) {
	resp, err := s.store.Load(ctx)
	if err != nil || resp == nil {
		return classify.Detail{}, false, err
	}
	rec, ok := classify.FindRecord(resp.Results, index)
	if !ok {
		return classify.Detail{}, false, nil
	}
	return classify.NewDetail(rec), true, nil
}

// Clear resets the session to Idle and removes the persisted result. Any
// scan or metrics fetch still in flight is discarded when it returns.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.scanSeq++
	for k := range s.metricsSeq {
		s.metricsSeq[k]++
	}
	s.state = Idle
	s.file = nil
	s.err = nil
	s.view = nil
	s.primary = nil
	snap := s.snapshotLocked()
	err := s.store.Clear(ctx)
	s.mu.Unlock()
	s.notify(snap)
	return err
}
