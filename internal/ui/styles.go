// Package ui renders scan results, row details and metric panels for the
// terminal.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/threatscope/console/internal/classify"
)

// Empty is shown for a field the row does not have.
const Empty = "—"

var (
	primary = lipgloss.Color("#7D56F4")
	muted   = lipgloss.Color("#6B7280")
	light   = lipgloss.Color("#FAFAFA")

	severityColor = map[classify.Severity]lipgloss.Color{
		classify.SeverityHigh:   lipgloss.Color("#FF3838"),
		classify.SeverityMedium: lipgloss.Color("#FFD93D"),
		classify.SeverityLow:    lipgloss.Color("#6BCB77"),
	}
	errorColor = lipgloss.Color("#FF3838")
)

type styles struct {
	title    lipgloss.Style
	section  lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	subtle   lipgloss.Style
	header   lipgloss.Style
	cell     lipgloss.Style
	border   lipgloss.Style
	errorMsg lipgloss.Style
	renderer *lipgloss.Renderer
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:    r.NewStyle().Bold(true).Foreground(light).Background(primary).Padding(0, 1),
		section:  r.NewStyle().Bold(true).Foreground(primary).MarginTop(1),
		label:    r.NewStyle().Foreground(muted).Width(18),
		value:    r.NewStyle(),
		subtle:   r.NewStyle().Foreground(muted).Italic(true),
		header:   r.NewStyle().Bold(true).Foreground(primary).Padding(0, 1),
		cell:     r.NewStyle().Padding(0, 1),
		border:   r.NewStyle().Foreground(muted),
		errorMsg: r.NewStyle().Bold(true).Foreground(errorColor),
		renderer: r,
	}
}

func (s styles) severity(sev classify.Severity) lipgloss.Style {
	st := s.renderer.NewStyle().Bold(true)
	if c, ok := severityColor[sev]; ok {
		st = st.Foreground(c)
	}
	return st
}

// Printer writes styled output to w. Colors are dropped automatically when
// w is not a terminal.
type Printer struct {
	w  io.Writer
	st styles
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, st: newStyles(lipgloss.NewRenderer(w))}
}
