package explain

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatscope/console/internal/classify"
)

func ptr[T any](v T) *T { return &v }

func sampleDetail() classify.Detail {
	return classify.NewDetail(classify.RawRecord{
		ModelName: "PHISHING/SMS SCAM DETECTION",
		RowIndex:  ptr(66),
		Prediction: &classify.Prediction{
			Input:          map[string]any{"attack_type": "Spam", "text": "Free iPhone! Click http://x.co"},
			PredictedLabel: "phishing",
			Prediction:     "🚨 Malicious Message",
			Probabilities:  map[string]float64{"malicious": 0.94, "safe": 0.06},
		},
	})
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("", "", slog.Default())
	assert.ErrorIs(t, err, ErrNotConfigured)

	var e *Explainer
	_, err = e.Explain(context.Background(), sampleDetail())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPrompt(t *testing.T) {
	p := Prompt(sampleDetail())
	assert.Contains(t, p, "Free iPhone!")
	assert.Contains(t, p, "Verdict: 🚨 Malicious Message")
	assert.Contains(t, p, "94.00%")
	assert.Contains(t, p, "High Risk")
	assert.NotContains(t, p, "Network flow fields")
}

func TestExplain(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"  The message promises a prize and links to a short URL.  "}],"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":9}}`))
	}))
	defer srv.Close()

	e, err := New("test-key", "claude-test", slog.New(slog.NewTextHandler(io.Discard, nil)),
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	out, err := e.Explain(context.Background(), sampleDetail())
	require.NoError(t, err)
	assert.Equal(t, 66, out.RowIndex)
	assert.Equal(t, "claude-test", out.Model)
	assert.Equal(t, "The message promises a prize and links to a short URL.", out.Text)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, maxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	require.NotEmpty(t, got.Messages[0].Content)
	assert.Contains(t, got.Messages[0].Content[0].Text, "Free iPhone!")
}

func TestExplain_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	e, err := New("bad", "", slog.New(slog.NewTextHandler(io.Discard, nil)),
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = e.Explain(context.Background(), sampleDetail())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explain")
}
