// Package report exports a scan view as a PDF report or as a JSON/YAML
// document.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/threatscope/console/internal/scan"
)

// Format is an export format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts pdf, json, yaml and yml in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return FormatPDF, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("report: unknown format %q (want pdf, json or yaml)", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatYAML:
		return "application/yaml"
	}
	return "application/json"
}

// Meta describes where a view came from.
type Meta struct {
	Filename    string    `json:"filename,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

type document struct {
	Meta
	Scan *scan.View `json:"scan"`
}

// Write renders v to w in format f.
func Write(w io.Writer, f Format, v *scan.View, meta Meta) error {
	if v == nil {
		return fmt.Errorf("report: nothing to export")
	}
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now().UTC()
	}
	switch f {
	case FormatPDF:
		return WritePDF(w, v, meta)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document{Meta: meta, Scan: v})
	case FormatYAML:
		return writeYAML(w, document{Meta: meta, Scan: v})
	}
	return fmt.Errorf("report: unknown format %q", f)
}

// writeYAML goes through JSON so the YAML keys match the JSON field names
// and keep their order.
func writeYAML(w io.Writer, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	var node yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(raw)).Decode(&node); err != nil {
		return fmt.Errorf("report: convert to yaml: %w", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("report: write yaml: %w", err)
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
