package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/threatscope/console/internal/classify"
)

// ResultKey is the fixed key the last scan response is stored under.
const ResultKey = "scanResults"

// lazy runs a backend's schema setup on first use. A failed setup is retried
// on the next call.
type lazy struct {
	Backend
	mu    sync.Mutex
	ready bool
}

// Lazy wraps b so that its Init (if any) runs before the first operation.
func Lazy(b Backend) Backend {
	if l, ok := b.(*lazy); ok {
		return l
	}
	return &lazy{Backend: b}
}

func (l *lazy) ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}
	if in, ok := l.Backend.(initializer); ok {
		if err := in.Init(ctx); err != nil {
			return err
		}
	}
	l.ready = true
	return nil
}

func (l *lazy) Get(ctx context.Context, key string) ([]byte, error) {
	if err := l.ensure(ctx); err != nil {
		return nil, err
	}
	return l.Backend.Get(ctx, key)
}

func (l *lazy) Put(ctx context.Context, key string, value []byte) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}
	return l.Backend.Put(ctx, key, value)
}

func (l *lazy) Delete(ctx context.Context, key string) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}
	return l.Backend.Delete(ctx, key)
}

// ResultStore persists the last full scan response.
type ResultStore struct {
	backend Backend
	logger  *slog.Logger
}

// NewResultStore creates a store over b. Backend setup is deferred until the
// first read or write.
func NewResultStore(b Backend, logger *slog.Logger) *ResultStore {
	return &ResultStore{backend: Lazy(b), logger: logger}
}

// Save stores resp, replacing any previous response.
func (s *ResultStore) Save(ctx context.Context, resp classify.ScanResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode scan response: %w", err)
	}
	return s.backend.Put(ctx, ResultKey, data)
}

// Load returns the last saved response. A missing or unparsable value yields
// (nil, nil) so a first render is never blocked; only backend failures are
// returned as errors.
func (s *ResultStore) Load(ctx context.Context) (*classify.ScanResponse, error) {
	data, err := s.backend.Get(ctx, ResultKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp classify.ScanResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Warn("discarding unparsable cached scan", "err", err)
		return nil, nil
	}
	return &resp, nil
}

// Clear removes the cached response.
func (s *ResultStore) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx, ResultKey)
}
