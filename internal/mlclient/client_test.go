package mlclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/threatscope/console/internal/classify"
)

const processBody = `{"results":[{"model_name":"PHISHING/SMS SCAM DETECTION","prediction":{"input":{"attack_type":"Spam","text":"Free iPhone!"},"predicted_label":"phishing","prediction":"🚨 Malicious Message","probabilities":{"malicious":0.94,"safe":0.06}},"row_index":66}],"output_file":"/tmp/out.csv"}`

func TestProcess_UploadsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ml/process", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "sample.csv", hdr.Filename)
		assert.Equal(t, "text/csv", hdr.Header.Get("Content-Type"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, "text\nFree iPhone!\n", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(processBody))
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Process(context.Background(), "sample.csv", strings.NewReader("text\nFree iPhone!\n"))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 66, resp.Results[0].Index())
	assert.Equal(t, "/tmp/out.csv", resp.OutputFile)
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"non-2xx with message", http.StatusBadRequest, `{"error":"No file provided"}`, 400, "No file provided"},
		{"non-2xx plain", http.StatusInternalServerError, `boom`, 500, "500 Internal Server Error"},
		{"unparsable body", http.StatusOK, `<html>`, 200, "decode response"},
		{"error payload with 200", http.StatusOK, `{"error":"Unsupported file type"}`, 200, "Unsupported file type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Process(context.Background(), "a.csv", strings.NewReader("x"))
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "process", te.Op)
			assert.Equal(t, tt.wantStatus, te.StatusCode)
			assert.Contains(t, te.Error(), tt.wantMsg)
		})
	}
}

func TestProcess_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Process(context.Background(), "a.csv", strings.NewReader("x"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestProcess_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, WithTimeout(50*time.Millisecond)).Process(context.Background(), "a.csv", strings.NewReader("x"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ml/metrics/ddos", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"confusion_matrix": "iVBORw0KGgoAAAA",
			"roc_curve":        "Error generating ROC curve",
		})
	}))
	defer srv.Close()

	m, err := New(srv.URL).Metrics(context.Background(), classify.ModelTypeDDoS)
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.True(t, classify.IsPNGBase64(m["confusion_matrix"]))
}

func TestMetrics_NullSentinelSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := New(srv.URL).Metrics(context.Background(), classify.ModelTypeNull)
	var mu *classify.MetricsUnavailableError
	require.ErrorAs(t, err, &mu)
	assert.Equal(t, classify.MsgNoMetricsForAttack, mu.Reason)
	assert.False(t, called)
}

func TestBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc", TokenType: "Bearer"})
	_, err := New(srv.URL, WithTokenSource(ts)).Metrics(context.Background(), classify.ModelTypeSMS)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got)
}

type noToken struct{}

func (noToken) Token() (*oauth2.Token, error) { return nil, errors.New("not logged in") }

func TestBearerToken_MissingTokenStillSends(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithTokenSource(noToken{})).Metrics(context.Background(), classify.ModelTypeSQLi)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoginAndUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			var creds Credentials
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			if creds.Password != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","user":{"id":"u1","username":"ana","email":"ana@example.com","is_admin":true}}`))
		case "/api/auth/userList":
			_, _ = w.Write([]byte(`{"users":[{"id":"u1","username":"ana","email":"ana@example.com","totalScan":3}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL + "/")

	s, err := c.Login(context.Background(), Credentials{Email: "ana@example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "at", s.AccessToken)
	assert.Equal(t, "rt", s.RefreshToken)
	assert.True(t, s.User.IsAdmin)

	_, err = c.Login(context.Background(), Credentials{Email: "ana@example.com", Password: "nope"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Contains(t, err.Error(), "Invalid credentials")

	users, err := c.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 3, users[0].TotalScan)
}
