// Package mlclient is a thin HTTP client for the external ML inference and
// account backend. It performs no retries: a failed call is reported once and
// the caller decides what to do next.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/threatscope/console/internal/classify"
)

const (
	DefaultBaseURL = "http://127.0.0.1:5001"
	defaultTimeout = 60 * time.Second
	maxResponseLen = 64 << 20 // metrics responses carry several base64 PNGs
	maxErrorLen    = 1 << 10
)

// Client talks to the ML backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource attaches the stored access token as a bearer token. A
// source that has no token yields unauthenticated requests.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens != nil {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc := *c.http
		hc.Transport = &bearerTransport{source: c.tokens, base: base}
		c.http = &hc
	}
	return c
}

// BaseURL returns the backend root the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// bearerTransport is oauth2.Transport without the hard failure when no token
// is stored.
type bearerTransport struct {
	source oauth2.TokenSource
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil || tok == nil || tok.AccessToken == "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	tok.SetAuthHeader(r)
	return t.base.RoundTrip(r)
}

// Process uploads a CSV file and returns the backend's classification of
// every row.
func (c *Client) Process(ctx context.Context, filename string, file io.Reader) (*classify.ScanResponse, error) {
	const op = "process"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "text/csv")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("read upload: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ml/process", &body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		classify.ScanResponse
		Error string `json:"error"`
	}
	if err := c.do(req, op, &out); err != nil {
		return nil, err
	}
	// The backend answers 200 {"error": ...} when the file cannot be read.
	if out.Results == nil && out.Error != "" {
		return nil, &TransportError{Op: op, StatusCode: http.StatusOK, Err: errors.New(out.Error)}
	}
	return &out.ScanResponse, nil
}

// Metrics fetches the evaluation charts of one model. Requesting the null
// sentinel never reaches the network.
func (c *Client) Metrics(ctx context.Context, mt classify.ModelType) (map[string]any, error) {
	if !mt.HasMetrics() {
		return nil, &classify.MetricsUnavailableError{Reason: classify.MsgNoMetricsForAttack}
	}
	const op = "metrics"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ml/metrics/"+string(mt), nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	var out map[string]any
	if err := c.do(req, op, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorLen))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(errorMessage(raw, resp.Status))}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseLen)).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts the backend's {"message"} or {"error"} text,
// falling back to the HTTP status line.
func errorMessage(raw []byte, status string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return status
}
