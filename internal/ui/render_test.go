package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/threatscope/console/internal/classify"
	"github.com/threatscope/console/internal/db"
	"github.com/threatscope/console/internal/mlclient"
	"github.com/threatscope/console/internal/scan"
)

func ptr[T any](v T) *T { return &v }

var phishing = classify.RawRecord{
	ModelName: "PHISHING/SMS SCAM DETECTION",
	RowIndex:  ptr(66),
	Prediction: &classify.Prediction{
		Input:          map[string]any{"attack_type": "Spam", "text": "Free iPhone!"},
		PredictedLabel: "phishing",
		Prediction:     "🚨 Malicious Message",
		Probabilities:  map[string]float64{"malicious": 0.94, "safe": 0.06},
	},
}

func TestResults(t *testing.T) {
	var buf bytes.Buffer
	v := scan.NewView("scan-1", classify.ScanResponse{Results: []classify.RawRecord{phishing, {ModelName: "X", RowIndex: ptr(5)}}})
	NewPrinter(&buf).Results(v)
	out := buf.String()

	assert.Contains(t, out, "Phishing")
	assert.Contains(t, out, "Free iPhone!")
	assert.Contains(t, out, "94.00%")
	assert.Contains(t, out, "Malformed")
	assert.Contains(t, out, Empty)
	assert.NotContains(t, out, "\x1b[", "no ANSI codes when writing to a buffer")
}

func TestResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Results(nil)
	assert.Contains(t, buf.String(), "No scan results")
}

func TestDetail(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Detail(classify.NewDetail(phishing))
	out := buf.String()
	assert.Contains(t, out, "Row 66")
	assert.Contains(t, out, "High Risk")
	assert.Contains(t, out, "malicious")
	assert.NotContains(t, out, "Network traffic")
}

func TestMetrics(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Metrics(&scan.MetricsView{
		Label:     "Phishing",
		ModelType: classify.ModelTypeSMS,
		Panels: []classify.MetricPanel{
			{Name: "confusion_matrix", Image: "iVBORw0KGgoAAAA"},
			{Name: "roc_curve", Message: "Error generating ROC curve"},
		},
	}, map[string]string{"confusion_matrix": "/tmp/cm.png"})
	out := buf.String()
	assert.Contains(t, out, "saved to /tmp/cm.png")
	assert.Contains(t, out, "Error generating ROC curve")
}

func TestUsersAndHistory(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Users([]mlclient.User{{Username: "ana", Email: "ana@example.com", TotalScan: 3}})
	p.History([]db.ScanSummary{{ID: "s1", Filename: "a.csv", TotalRows: 3, Detections: 2, CreatedAt: time.Now()}},
		&db.DashboardStats{TotalScans: 2, UsageByDay: []db.DayUsage{{Date: "2026-03-10", Count: 2}}, DetectionCounts: classify.NewDetectionCounts()})
	p.Error(errors.New("boom"))
	out := buf.String()
	assert.Contains(t, out, "ana@example.com")
	assert.Contains(t, out, "a.csv")
	assert.Contains(t, out, "2026-03-10")
	assert.Contains(t, out, "boom")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc…", truncate("abcdefg", 4))
	assert.Equal(t, "abc", truncate("abc", 4))
	assert.Equal(t, Empty, str(ptr("")))
	assert.Equal(t, Empty, pct(nil))
}
