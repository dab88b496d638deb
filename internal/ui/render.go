package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/threatscope/console/internal/classify"
	"github.com/threatscope/console/internal/db"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/scan"
)

const maxContent = 60

func (p *Printer) println(s string) {
	fmt.Fprintln(p.w, s)
}

func (p *Printer) table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.st.border).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.st.header
			}
			return p.st.cell
		}).
		Headers(headers...).
		Rows(rows...).
		Render()
}

func (p *Printer) field(label, value string) {
	if value == "" {
		value = Empty
	}
	p.println(p.st.label.Render(label) + p.st.value.Render(value))
}

// Error prints an error banner.
func (p *Printer) Error(err error) {
	p.println(p.st.errorMsg.Render("✗ " + err.Error()))
}

// Message prints a muted one-line note.
func (p *Printer) Message(msg string) {
	p.println(p.st.subtle.Render(msg))
}

// Results prints one table per attack group.
func (p *Printer) Results(v *scan.View) {
	if v == nil {
		p.Message("No scan results. Run `threatscope scan <file.csv>` first.")
		return
	}
	p.println(p.st.title.Render("Scan results"))
	if v.ID != "" {
		p.field("Scan", v.ID)
	}
	p.field("Rows", fmt.Sprintf("%d", v.Total))
	if v.Malformed > 0 {
		p.field("Malformed", fmt.Sprintf("%d", v.Malformed))
	}
	for _, g := range v.Groups {
		p.println(p.st.section.Render(fmt.Sprintf("%s · %d rows · metrics: %s", g.DisplayLabel, len(g.Rows), g.ModelType)))
		rows := make([][]string, 0, len(g.Rows))
		for _, r := range g.Rows {
			rows = append(rows, []string{
				fmt.Sprintf("%d", r.Index),
				str(r.Prediction),
				pct(r.Malicious),
				pct(r.Safe),
				truncate(content(r), maxContent),
			})
		}
		p.println(p.table([]string{"Row", "Verdict", "Malicious", "Safe", "Content"}, rows))
	}
	p.Counts(v.Counts)
}

// Counts prints the per-bucket detection tally.
func (p *Printer) Counts(dc classify.DetectionCounts) {
	p.println(p.st.section.Render("Detections"))
	keys := []string{string(classify.FamilyPhishing), string(classify.FamilySQLi), string(classify.FamilyDDoS), classify.HamKey}
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprintf("%d", dc.Counts[k]), fmt.Sprintf("%.1f%%", dc.Percentages[k])})
	}
	p.println(p.table([]string{"Bucket", "Count", "Share"}, rows))
}

// Detail prints the detail view of one row.
func (p *Printer) Detail(d classify.Detail) {
	p.println(p.st.title.Render(fmt.Sprintf("Row %d", d.Row.Index)))
	p.field("Attack group", d.DisplayLabel)
	p.field("Model", d.Row.ModelName)
	p.field("Metrics", string(d.ModelType))
	p.field("Predicted label", str(d.Row.PredictedLabel))
	p.field("Verdict", str(d.Row.Prediction))
	p.field("Confidence", str(d.Row.Confidence))
	p.println(p.st.label.Render("Severity") + p.st.severity(d.Severity.Level).Render(d.Severity.Label))
	p.println(p.st.label.Render("") + p.st.subtle.Render(d.Severity.Description))
	if d.Row.Error != "" {
		p.field("Error", d.Row.Error)
	}
	if d.Row.Text != nil {
		p.println(p.st.section.Render("Content"))
		p.println(*d.Row.Text)
	}
	if len(d.Probabilities) > 0 {
		p.println(p.st.section.Render("Probabilities"))
		rows := make([][]string, 0, len(d.Probabilities))
		for _, pr := range d.Probabilities {
			rows = append(rows, []string{pr.Class, pr.Percent})
		}
		p.println(p.table([]string{"Class", "Probability"}, rows))
	}
	if len(d.NetworkFields) > 0 {
		p.println(p.st.section.Render("Network traffic"))
		rows := make([][]string, 0, len(d.NetworkFields))
		for _, f := range d.NetworkFields {
			rows = append(rows, []string{f.Name, f.Value})
		}
		p.println(p.table([]string{"Parameter", "Value"}, rows))
	}
}

// Metrics prints the panels of mv. saved maps panel names to files the
// images were written to.
func (p *Printer) Metrics(mv *scan.MetricsView, saved map[string]string) {
	p.println(p.st.title.Render(fmt.Sprintf("Metrics · %s", mv.Label)))
	p.field("Model type", string(mv.ModelType))
	for _, panel := range mv.Panels {
		switch {
		case panel.Message != "":
			p.field(panel.Name, panel.Message)
		case saved[panel.Name] != "":
			p.field(panel.Name, "saved to "+saved[panel.Name])
		default:
			p.field(panel.Name, fmt.Sprintf("PNG image, %d bytes base64", len(panel.Image)))
		}
	}
}

// State prints a session snapshot.
func (p *Printer) State(s scan.Snapshot) {
	p.field("State", string(s.State))
	p.field("File", s.File)
	if s.Error != "" {
		p.println(p.st.label.Render("Error") + p.st.errorMsg.Render(s.Error))
	}
}

// User prints an account.
func (p *Printer) User(u *mlclient.User) {
	if u == nil {
		p.Message("Not logged in.")
		return
	}
	p.field("Username", u.Username)
	p.field("Email", u.Email)
	p.field("Admin", fmt.Sprintf("%t", u.IsAdmin))
}

// Users prints the backend's user list.
func (p *Printer) Users(users []mlclient.User) {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{u.Username, u.Email, fmt.Sprintf("%t", u.IsAdmin), fmt.Sprintf("%d", u.TotalScan)})
	}
	p.println(p.table([]string{"Username", "Email", "Admin", "Scans"}, rows))
}

// History prints past scans and the dashboard summary.
func (p *Printer) History(scans []db.ScanSummary, stats *db.DashboardStats) {
	rows := make([][]string, 0, len(scans))
	for _, s := range scans {
		rows = append(rows, []string{
			s.CreatedAt.Local().Format(time.DateTime),
			s.Filename,
			fmt.Sprintf("%d", s.TotalRows),
			fmt.Sprintf("%d", s.Detections),
			s.ID,
		})
	}
	p.println(p.table([]string{"When", "File", "Rows", "Detections", "ID"}, rows))
	if stats == nil {
		return
	}
	p.field("Total scans", fmt.Sprintf("%d", stats.TotalScans))
	p.println(p.st.section.Render("Last 7 days"))
	for _, d := range stats.UsageByDay {
		p.println(fmt.Sprintf("%s %s %d", d.Date, strings.Repeat("▇", min(d.Count, 40)), d.Count))
	}
	p.Counts(stats.DetectionCounts)
}

// Writer exposes the underlying writer for raw output.
func (p *Printer) Writer() io.Writer { return p.w }

func str(s *string) string {
	if s == nil || *s == "" {
		return Empty
	}
	return *s
}

func pct(f *float64) string {
	if f == nil {
		return Empty
	}
	return classify.Percent(*f)
}

func content(r classify.Row) string {
	if r.Error != "" {
		return "error: " + r.Error
	}
	if r.Text != nil && *r.Text != "" {
		return strings.Join(strings.Fields(*r.Text), " ")
	}
	if len(r.RawPredictionInput) > 0 && r.Family == classify.FamilyDDoS {
		return fmt.Sprintf("network flow (%d fields)", len(r.RawPredictionInput))
	}
	return Empty
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
