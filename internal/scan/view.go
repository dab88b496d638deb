package scan

import (
	"github.com/threatscope/console/internal/classify"
)

// View is the grouped, display-ready form of a scan response.
type View struct {
	ID         string                   `json:"id,omitempty"`
	OutputFile string                   `json:"output_file,omitempty"`
	Total      int                      `json:"total"`
	Malformed  int                      `json:"malformed"`
	Groups     []classify.AttackGroup   `json:"groups"`
	Counts     classify.DetectionCounts `json:"detection_counts"`
}

// NewView normalizes and groups resp.
func NewView(id string, resp classify.ScanResponse) *View {
	v := &View{
		ID:         id,
		OutputFile: resp.OutputFile,
		Total:      len(resp.Results),
		Groups:     classify.GroupByLabel(resp.Results),
	}
	if v.Groups == nil {
		v.Groups = []classify.AttackGroup{}
	}
	wellFormed := make([]classify.Row, 0, v.Total)
	for _, row := range v.Rows() {
		if row.Malformed {
			v.Malformed++
			continue
		}
		wellFormed = append(wellFormed, row)
	}
	v.Counts = classify.Tally(wellFormed)
	return v
}

// Rows returns every row of the view in group order.
func (v *View) Rows() []classify.Row {
	rows := make([]classify.Row, 0, v.Total)
	for _, g := range v.Groups {
		rows = append(rows, g.Rows...)
	}
	return rows
}

// MetricsView is the set of metric panels for one attack label.
type MetricsView struct {
	Label     string                 `json:"label"`
	ModelType classify.ModelType     `json:"model_type"`
	Panels    []classify.MetricPanel `json:"panels"`
}
