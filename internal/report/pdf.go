package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/threatscope/console/internal/classify"
	"github.com/threatscope/console/internal/scan"
)

const (
	fontFamily  = "Helvetica"
	maxTextChar = 70
	emptyCell   = "-"
)

var (
	headerFill = []int{30, 41, 59}
	mutedText  = []int{100, 100, 100}
	bodyText   = []int{40, 40, 40}
)

var severityColors = map[classify.Severity][]int{
	classify.SeverityHigh:   {220, 38, 38},
	classify.SeverityMedium: {217, 119, 6},
	classify.SeverityLow:    {22, 163, 74},
}

// row table columns: index, verdict, malicious, severity, content
var columnWidths = []float64{14, 44, 22, 24, 86}

type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// WritePDF renders an A4 report of v: a summary page with detection counts
// followed by one table per attack group.
func WritePDF(w io.Writer, v *scan.View, meta Meta) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("ThreatScope scan report", true)
	pdf.SetCreator("threatscope", true)
	pdf.SetMargins(12, 15, 12)
	pdf.SetAutoPageBreak(true, 15)
	pw := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(mutedText[0], mutedText[1], mutedText[2])
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pw.addSummary(v, meta)
	for _, g := range v.Groups {
		pw.addGroup(g)
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("report: render pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("report: write pdf: %w", err)
	}
	return nil
}

func (pw *pdfWriter) text(s string) string {
	return pw.tr(latin1(s))
}

func (pw *pdfWriter) addSummary(v *scan.View, meta Meta) {
	pdf := pw.pdf
	pdf.SetFont(fontFamily, "B", 18)
	pdf.SetTextColor(headerFill[0], headerFill[1], headerFill[2])
	pdf.CellFormat(0, 10, "Scan Report", "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(mutedText[0], mutedText[1], mutedText[2])
	lines := [][2]string{
		{"File", meta.Filename},
		{"Scan ID", v.ID},
		{"Generated", meta.GeneratedAt.Format("2006-01-02 15:04 MST")},
		{"Rows", fmt.Sprintf("%d", v.Total)},
		{"Malformed rows", fmt.Sprintf("%d", v.Malformed)},
		{"Backend output", v.OutputFile},
	}
	for _, l := range lines {
		if l[1] == "" {
			continue
		}
		pdf.SetFont(fontFamily, "B", 10)
		pdf.CellFormat(35, 6, l[0], "", 0, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 10)
		pdf.CellFormat(0, 6, pw.text(l[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pw.sectionHeader("Detections")
	pw.tableHeader([]string{"Bucket", "Count", "Share"}, []float64{50, 30, 30})
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(bodyText[0], bodyText[1], bodyText[2])
	for _, key := range []string{string(classify.FamilyPhishing), string(classify.FamilySQLi), string(classify.FamilyDDoS), classify.HamKey} {
		pdf.CellFormat(50, 7, bucketTitle(key), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", v.Counts.Counts[key]), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%.1f%%", v.Counts.Percentages[key]), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	pw.sectionHeader("Attack groups")
	pw.tableHeader([]string{"Group", "Model", "Rows"}, []float64{70, 30, 30})
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(bodyText[0], bodyText[1], bodyText[2])
	for _, g := range v.Groups {
		pdf.CellFormat(70, 7, pw.text(g.DisplayLabel), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, string(g.ModelType), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", len(g.Rows)), "1", 1, "R", false, 0, "")
	}
}

func (pw *pdfWriter) addGroup(g classify.AttackGroup) {
	pdf := pw.pdf
	pdf.AddPage()
	pw.sectionHeader(fmt.Sprintf("%s (%d rows)", pw.text(g.DisplayLabel), len(g.Rows)))
	pw.tableHeader([]string{"Row", "Verdict", "Malicious", "Severity", "Content"}, columnWidths)

	pdf.SetFont(fontFamily, "", 9)
	for _, row := range g.Rows {
		sev := classify.SeverityUnknown
		mal := emptyCell
		if row.Malicious != nil {
			sev = classify.SeverityFor(*row.Malicious)
			mal = classify.Percent(*row.Malicious)
		}
		pdf.SetTextColor(bodyText[0], bodyText[1], bodyText[2])
		pdf.CellFormat(columnWidths[0], 6, fmt.Sprintf("%d", row.Index), "1", 0, "R", false, 0, "")
		pdf.CellFormat(columnWidths[1], 6, pw.text(truncate(deref(row.Prediction), 28)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(columnWidths[2], 6, mal, "1", 0, "R", false, 0, "")
		if c, ok := severityColors[sev]; ok {
			pdf.SetTextColor(c[0], c[1], c[2])
		}
		pdf.CellFormat(columnWidths[3], 6, sev.Describe().Label, "1", 0, "L", false, 0, "")
		pdf.SetTextColor(bodyText[0], bodyText[1], bodyText[2])
		pdf.CellFormat(columnWidths[4], 6, pw.text(truncate(content(row), maxTextChar)), "1", 1, "L", false, 0, "")
	}
}

func (pw *pdfWriter) sectionHeader(title string) {
	pdf := pw.pdf
	pdf.SetFont(fontFamily, "B", 13)
	pdf.SetTextColor(headerFill[0], headerFill[1], headerFill[2])
	pdf.CellFormat(0, 9, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func (pw *pdfWriter) tableHeader(cols []string, widths []float64) {
	pdf := pw.pdf
	pdf.SetFont(fontFamily, "B", 9)
	pdf.SetFillColor(headerFill[0], headerFill[1], headerFill[2])
	pdf.SetTextColor(255, 255, 255)
	for i, c := range cols {
		pdf.CellFormat(widths[i], 7, c, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

func content(row classify.Row) string {
	if row.Error != "" {
		return "error: " + row.Error
	}
	if row.Text != nil {
		return strings.Join(strings.Fields(*row.Text), " ")
	}
	if row.Family == classify.FamilyDDoS && len(row.RawPredictionInput) > 0 {
		return fmt.Sprintf("network flow (%d fields)", len(row.RawPredictionInput))
	}
	return emptyCell
}

func bucketTitle(key string) string {
	switch key {
	case string(classify.FamilyPhishing):
		return "Phishing"
	case string(classify.FamilySQLi):
		return "SQL Injection"
	case string(classify.FamilyDDoS):
		return "DDoS"
	case classify.HamKey:
		return "Ham"
	}
	return key
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return emptyCell
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// latin1 drops runes the core PDF fonts cannot show, such as emoji.
func latin1(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r > 0xFF {
			return -1
		}
		return r
	}, s))
}
