// Package explain asks Claude for a short analyst-style explanation of why a
// row was classified the way it was.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/threatscope/console/internal/classify"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("explain: no API key configured")

const (
	defaultModel   = "claude-sonnet-4-5"
	maxTokens      = 400
	maxFieldsShown = 25
	maxTextLen     = 2000
)

const systemPrompt = `You are a security analyst reviewing the output of machine-learning detectors for phishing/SMS scams, SQL injection and DDoS network flows.
Given one classified sample, explain in at most five sentences what in the content most likely drove the verdict, whether the verdict looks plausible, and what a defender should do next.
Do not invent data that is not in the sample. Plain text only.`

// Explanation is Claude's answer for one row.
type Explanation struct {
	RowIndex  int    `json:"row_index"`
	Model     string `json:"model"`
	Text      string `json:"text"`
	LatencyMs int64  `json:"latency_ms"`
}

// Explainer wraps an Anthropic client.
type Explainer struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// New creates an Explainer. It returns ErrNotConfigured when apiKey is empty.
func New(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) (*Explainer, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = defaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Explainer{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger,
	}, nil
}

// Explain describes the classification of d.
func (e *Explainer) Explain(ctx context.Context, d classify.Detail) (*Explanation, error) {
	if e == nil {
		return nil, ErrNotConfigured
	}
	start := time.Now()
	message, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(Prompt(d))),
		},
	})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		e.logger.Warn("explain request failed", "row", d.Row.Index, "err", err)
		return nil, fmt.Errorf("explain: %w", err)
	}

	var parts []string
	for _, block := range message.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("explain: empty response")
	}
	return &Explanation{
		RowIndex:  d.Row.Index,
		Model:     string(message.Model),
		Text:      strings.TrimSpace(strings.Join(parts, "\n")),
		LatencyMs: elapsed,
	}, nil
}

// Prompt renders a detail view as the user message.
func Prompt(d classify.Detail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attack group: %s (raw label %q)\n", d.DisplayLabel, d.Label)
	if d.Row.ModelName != "" {
		fmt.Fprintf(&b, "Model: %s\n", d.Row.ModelName)
	}
	if d.Row.Prediction != nil {
		fmt.Fprintf(&b, "Verdict: %s\n", *d.Row.Prediction)
	}
	if d.Row.Malicious != nil {
		fmt.Fprintf(&b, "Malicious probability: %s (%s)\n", classify.Percent(*d.Row.Malicious), d.Severity.Label)
	}
	if d.Row.Confidence != nil {
		fmt.Fprintf(&b, "Confidence: %s\n", *d.Row.Confidence)
	}
	for _, p := range d.Probabilities {
		fmt.Fprintf(&b, "P(%s) = %s\n", p.Class, p.Percent)
	}
	if d.Row.Text != nil {
		text := *d.Row.Text
		if len(text) > maxTextLen {
			text = text[:maxTextLen] + "…"
		}
		fmt.Fprintf(&b, "Content:\n%s\n", text)
	}
	if n := len(d.NetworkFields); n > 0 {
		b.WriteString("Network flow fields:\n")
		for i, f := range d.NetworkFields {
			if i == maxFieldsShown {
				fmt.Fprintf(&b, "(%d more fields omitted)\n", n-maxFieldsShown)
				break
			}
			fmt.Fprintf(&b, "  %s: %s\n", f.Name, f.Value)
		}
	}
	if d.Row.Error != "" {
		fmt.Fprintf(&b, "Backend error: %s\n", d.Row.Error)
	}
	return b.String()
}
