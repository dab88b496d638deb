package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityFor(0.81))
	assert.Equal(t, SeverityMedium, SeverityFor(0.8))
	assert.Equal(t, SeverityMedium, SeverityFor(0.41))
	assert.Equal(t, SeverityLow, SeverityFor(0.4))
	assert.Equal(t, SeverityLow, SeverityFor(0))
	assert.Equal(t, "High Risk", SeverityHigh.Describe().Label)
	assert.Equal(t, SeverityUnknown, Severity("bogus").Describe().Level)
}

func TestNewDetail_DDoS(t *testing.T) {
	d := NewDetail(decode(t, ddosJSON))

	assert.Equal(t, "DDoS", d.Label)
	assert.Equal(t, "DDOS", d.DisplayLabel)
	assert.Equal(t, ModelTypeDDoS, d.ModelType)
	assert.Equal(t, SeverityHigh, d.Severity.Level)
	require.Len(t, d.NetworkFields, 3)
	assert.Equal(t, " Destination Port", d.NetworkFields[0].Name)
	assert.Equal(t, "Flow ID", d.NetworkFields[2].Name)
	require.Len(t, d.Probabilities, 3)
	assert.Equal(t, "Ddos", d.Probabilities[0].Class)
	assert.Equal(t, "88.00%", d.Probabilities[0].Percent)
}

func TestNewDetail_MalformedHasUnknownSeverity(t *testing.T) {
	d := NewDetail(decode(t, `{"model_name":"X","row_index":5}`))
	assert.Equal(t, SeverityUnknown, d.Severity.Level)
	assert.Equal(t, UnknownLabel, d.Label)
	assert.Equal(t, ModelTypeNull, d.ModelType)
	assert.Empty(t, d.NetworkFields)
}

func TestPanels(t *testing.T) {
	png := pngBase64Prefix + "AAAA"
	panels := Panels(map[string]any{
		"roc_curve":           png,
		"confusion_matrix":    "image missing",
		"error":               pngBase64Prefix,
		"performance_metrics": 42.0,
	})

	require.Len(t, panels, 4)
	assert.Equal(t, "confusion_matrix", panels[0].Name)
	assert.Equal(t, "image missing", panels[0].Message)
	assert.Equal(t, "error", panels[1].Name)
	assert.False(t, panels[1].IsImage(), "the error key is never an image")
	assert.Equal(t, MsgNoMetricsForModel, panels[2].Message)
	assert.True(t, panels[3].IsImage())
	assert.Equal(t, png, panels[3].Image)
}

func TestPanels_Empty(t *testing.T) {
	panels := Panels(nil)
	require.Len(t, panels, 1)
	assert.Equal(t, MsgNoMetricsForModel, panels[0].Message)
}

func TestTally(t *testing.T) {
	low := 0.2
	rows := []Row{
		{Family: FamilyPhishing, Malicious: ptr(0.94)},
		{Family: FamilySQLi, Malicious: ptr(0.99)},
		{Family: FamilyDDoS, Malicious: &low},
		{Family: FamilyDDoS},
		{Family: FamilyOther, Malicious: ptr(0.9)},
	}
	dc := Tally(rows)

	assert.Equal(t, 4, dc.Total)
	assert.Equal(t, 1, dc.Counts["phishing"])
	assert.Equal(t, 1, dc.Counts["sqli"])
	assert.Equal(t, 0, dc.Counts["ddos"])
	assert.Equal(t, 2, dc.Counts[HamKey])
	assert.Equal(t, 50.0, dc.Percentages[HamKey])
	assert.Equal(t, 25.0, dc.Percentages["sqli"])
}

func TestTally_EmptyHasZeroBuckets(t *testing.T) {
	dc := Tally(nil)
	assert.Equal(t, 0, dc.Total)
	assert.Len(t, dc.Counts, 4)
	assert.Equal(t, 0.0, dc.Percentages["ddos"])
}

func ptr(v float64) *float64 { return &v }
