// Package app builds the console's components from configuration. The CLI
// and the HTTP server share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threatscope/console/internal/auth"
	"github.com/threatscope/console/internal/cache"
	"github.com/threatscope/console/internal/classify"
	"github.com/threatscope/console/internal/config"
	"github.com/threatscope/console/internal/db"
	"github.com/threatscope/console/internal/explain"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/scan"
	"github.com/threatscope/console/internal/telemetry"
)

// App holds the wired components. DB, Pool and Explainer are nil when not
// configured.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Cache     cache.Backend
	Results   *cache.ResultStore
	Auth      *auth.Store
	ML        *mlclient.Client
	Session   *scan.Session
	Explainer *explain.Explainer
	DB        *db.DB
	Pool      *pgxpool.Pool
	Metrics   *telemetry.Metrics

	closers []io.Closer
}

// New connects the configured stores and builds the scan session. extra
// options are appended to the session's own.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...scan.Option) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: telemetry.New()}

	if cfg.Database.URL != "" {
		pool, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))
		a.DB = db.New(pool, logger)
		if err := a.DB.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
	}

	backend, err := a.openCache()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = backend
	a.Results = cache.NewResultStore(backend, logger)

	enc, err := auth.NewTokenEncryptor(cfg.Auth.EncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if enc == nil {
		logger.Debug("token encryption not configured; tokens stored in plain text")
	}
	a.Auth = auth.NewStore(backend, enc, logger)

	a.ML = mlclient.New(cfg.Backend.URL,
		mlclient.WithTimeout(cfg.Backend.Timeout),
		mlclient.WithTokenSource(a.Auth),
	)

	if ex, err := explain.New(cfg.Explain.APIKey, cfg.Explain.Model, logger); err == nil {
		a.Explainer = ex
	} else if !errors.Is(err, explain.ErrNotConfigured) {
		a.Close()
		return nil, err
	}

	opts := []scan.Option{
		scan.WithMaxBytes(cfg.Upload.MaxBytes),
		scan.WithObserver(func(s scan.Snapshot) { a.Metrics.SetState(s.State) }),
	}
	if a.DB != nil {
		opts = append(opts, scan.WithResultHook(a.recordHistory))
	}
	a.Session = scan.NewSession(a.ML, a.Results, logger, append(opts, extra...)...)
	return a, nil
}

func (a *App) openCache() (cache.Backend, error) {
	switch a.Config.Cache.Driver {
	case config.CacheMemory:
		return cache.NewMemory(), nil
	case config.CachePostgres:
		if a.Pool == nil {
			return nil, errors.New("cache: postgres driver needs database.url")
		}
		return cache.NewPostgres(a.Pool), nil
	default:
		s, err := cache.OpenSQLite(a.Config.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	}
}

// recordHistory writes a finished scan to PostgreSQL under the logged-in
// user. History is best-effort; a failed write is only logged.
func (a *App) recordHistory(ctx context.Context, id, filename string, resp classify.ScanResponse) {
	var userID string
	if u, err := a.Auth.User(ctx); err == nil {
		userID = u.ID
	}
	scanID, err := uuid.Parse(id)
	if err != nil {
		scanID = uuid.New()
	}
	rec := db.ScanRecord{ID: scanID, UserID: userID, Filename: filename, Response: resp}
	if err := a.DB.RecordScan(context.WithoutCancel(ctx), rec); err != nil {
		a.Logger.Error("record scan history", "id", id, "err", err)
	}
}

// Close releases the cache and database connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
