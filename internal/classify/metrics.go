package classify

import (
	"sort"
	"strings"
)

// pngBase64Prefix is the base64 encoding of the PNG file signature.
const pngBase64Prefix = "iVBORw0KGgo"

// Messages shown in place of metric charts.
const (
	MsgNoMetricsForAttack = "No metrics available for this attack type."
	MsgNoMetricsForModel  = "No metrics available for this model type."
	MsgMetricsFetchFailed = "Failed to fetch metrics."
)

// MetricPanel is one entry of a metrics response: either an image or a
// message explaining why there is none.
type MetricPanel struct {
	Name    string `json:"name"`
	Image   string `json:"image,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsImage reports whether the panel carries a PNG image.
func (p MetricPanel) IsImage() bool { return p.Image != "" }

// IsPNGBase64 reports whether v is a base64-encoded PNG string.
func IsPNGBase64(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, pngBase64Prefix)
}

// Panels classifies every entry of a metrics response. The "error" key and
// any value that is not a base64 PNG become message panels. Panels are sorted
// by name.
func Panels(raw map[string]any) []MetricPanel {
	if len(raw) == 0 {
		return []MetricPanel{{Name: "error", Message: MsgNoMetricsForModel}}
	}
	panels := make([]MetricPanel, 0, len(raw))
	for name, v := range raw {
		if name != "error" && IsPNGBase64(v) {
			panels = append(panels, MetricPanel{Name: name, Image: v.(string)})
			continue
		}
		msg, ok := v.(string)
		if !ok || msg == "" {
			msg = MsgNoMetricsForModel
		}
		panels = append(panels, MetricPanel{Name: name, Message: msg})
	}
	sort.Slice(panels, func(i, j int) bool { return panels[i].Name < panels[j].Name })
	return panels
}

// UnavailablePanels renders a MetricsUnavailableError as a single message panel.
func UnavailablePanels(err *MetricsUnavailableError) []MetricPanel {
	return []MetricPanel{{Name: "error", Message: err.Reason}}
}
