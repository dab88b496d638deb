package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatscope/console/internal/classify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResponse() classify.ScanResponse {
	idx := 66
	return classify.ScanResponse{
		Results: []classify.RawRecord{{
			ModelName: "PHISHING/SMS SCAM DETECTION",
			RowIndex:  &idx,
			Prediction: &classify.Prediction{
				Input:          map[string]any{"attack_type": "Spam", "text": "Free iPhone!"},
				PredictedLabel: "phishing",
				Prediction:     "🚨 Malicious Message",
				Probabilities:  map[string]float64{"malicious": 0.94, "safe": 0.06},
			},
		}},
		OutputFile: "/tmp/detection_results.csv",
	}
}

func TestResultStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewResultStore(NewMemory(), discardLogger())

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty store loads as absent")

	want := sampleResponse()
	require.NoError(t, s.Save(ctx, want))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResultStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewResultStore(NewMemory(), discardLogger())

	require.NoError(t, s.Save(ctx, sampleResponse()))
	require.NoError(t, s.Save(ctx, classify.ScanResponse{Results: []classify.RawRecord{}}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Results)
}

func TestResultStore_UnparsableIsAbsent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.Put(ctx, ResultKey, []byte("{not json")))

	got, err := NewResultStore(mem, discardLogger()).Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

type failingBackend struct {
	*Memory
	initCalls int
	initErr   error
}

func (f *failingBackend) Init(context.Context) error {
	f.initCalls++
	return f.initErr
}

func TestResultStore_LazyInit(t *testing.T) {
	ctx := context.Background()
	fb := &failingBackend{Memory: NewMemory(), initErr: errors.New("db down")}
	s := NewResultStore(fb, discardLogger())
	assert.Equal(t, 0, fb.initCalls, "setup is deferred to first use")

	_, err := s.Load(ctx)
	require.Error(t, err)

	fb.initErr = nil
	_, err = s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleResponse()))
	assert.Equal(t, 2, fb.initCalls, "a failed setup is retried, a successful one is not repeated")
}

func TestLazy_DoesNotDoubleWrap(t *testing.T) {
	l := Lazy(NewMemory())
	assert.Same(t, l, Lazy(l))
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", v))
	v[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	store := NewResultStore(first, discardLogger())
	require.NoError(t, store.Save(ctx, sampleResponse()))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := NewResultStore(second, discardLogger()).Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleResponse(), *got)

	require.NoError(t, second.Delete(ctx, ResultKey))
	_, err = second.Get(ctx, ResultKey)
	assert.ErrorIs(t, err, ErrNotFound)
}
