package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatscope/console/internal/config"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/scan"
)

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{URL: backendURL, Timeout: 5 * time.Second},
		Upload:  config.UploadConfig{MaxBytes: 5 << 20},
		Cache:   config.CacheConfig{Driver: config.CacheMemory},
	}
}

func TestNew_ScanThroughBackend(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"results":[{"model_name":"SQL INJECTION DETECTION","prediction":{"input":{"query":"' OR 1=1 --"},"predicted_label":"sqli","prediction":"malicious","probabilities":{"malicious":0.97,"safe":0.03}},"row_index":1}]}`))
	}))
	defer srv.Close()

	a, err := New(context.Background(), testConfig(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)),
		scan.WithPrimaryMetrics(false))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Explainer)
	assert.Nil(t, a.DB)

	ctx := context.Background()
	require.NoError(t, a.Auth.Save(ctx, mlclient.Session{AccessToken: "tok", User: mlclient.User{ID: "u1", Username: "ana"}}))

	require.NoError(t, a.Session.Select(scan.Upload{Name: "q.csv", ContentType: "text/csv", Size: 3, Data: []byte("a,b")}))
	view, err := a.Session.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Total)
	assert.Equal(t, "Bearer tok", auth)

	cached, err := a.Results.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)

	n, err := testutil.GatherAndCount(a.Metrics.Registry(), "threatscope_session_state")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestNew_SQLiteCache(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Cache = config.CacheConfig{Driver: config.CacheSQLite, Path: filepath.Join(t.TempDir(), "nested", "cache.db")}

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, a.Cache.Put(context.Background(), "k", []byte("v")))
	require.NoError(t, a.Close())
}

func TestNew_BadEncryptionKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Auth.EncryptionKey = "zz"
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
