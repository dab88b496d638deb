package classify

import (
	"fmt"
	"sort"
)

// Severity is the risk bucket of a row's malicious probability.
type Severity string

const (
	SeverityHigh    Severity = "high"
	SeverityMedium  Severity = "medium"
	SeverityLow     Severity = "low"
	SeverityUnknown Severity = "unknown"
)

// SeverityInfo is the user-facing description of a severity bucket.
type SeverityInfo struct {
	Level       Severity `json:"level"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
}

var severityInfo = map[Severity]SeverityInfo{
	SeverityHigh:    {SeverityHigh, "High Risk", "This content is likely to be malicious attack."},
	SeverityMedium:  {SeverityMedium, "Medium Risk", "This content may be suspicious."},
	SeverityLow:     {SeverityLow, "Low Risk", "This content is likely to be classified as ham."},
	SeverityUnknown: {SeverityUnknown, "Unknown Risk", "No probability was reported for this content."},
}

// SeverityFor buckets a malicious probability: above 0.8 is high, above 0.4
// is medium, anything else low.
func SeverityFor(p float64) Severity {
	switch {
	case p > 0.8:
		return SeverityHigh
	case p > 0.4:
		return SeverityMedium
	}
	return SeverityLow
}

// Describe returns the label and description of s.
func (s Severity) Describe() SeverityInfo {
	if info, ok := severityInfo[s]; ok {
		return info
	}
	return severityInfo[SeverityUnknown]
}

// Probability is one entry of a rendered probability breakdown.
type Probability struct {
	Class   string  `json:"class"`
	Value   float64 `json:"value"`
	Percent string  `json:"percent"`
}

// Field is one parameter of the network-traffic table of a DDoS row.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Detail is everything the per-row detail view shows.
type Detail struct {
	Row           Row           `json:"row"`
	Label         string        `json:"label"`
	DisplayLabel  string        `json:"display_label"`
	ModelType     ModelType     `json:"model_type"`
	Severity      SeverityInfo  `json:"severity"`
	Probabilities []Probability `json:"probabilities,omitempty"`
	NetworkFields []Field       `json:"network_fields,omitempty"`
}

// NewDetail builds the detail view of one record.
func NewDetail(rec RawRecord) Detail {
	row, _ := Normalize(rec)
	label := GroupLabel(rec)
	d := Detail{
		Row:           row,
		Label:         label,
		DisplayLabel:  DisplayLabel(label),
		ModelType:     ResolveModelType(rec.ModelName),
		Severity:      SeverityUnknown.Describe(),
		Probabilities: Breakdown(row.Probabilities),
	}
	if d.ModelType == ModelTypeNull {
		d.ModelType = ResolveModelType(label)
	}
	if row.Malicious != nil {
		d.Severity = SeverityFor(*row.Malicious).Describe()
	}
	if len(row.RawPredictionInput) > 0 {
		d.NetworkFields = make([]Field, 0, len(row.RawPredictionInput))
		for k, v := range row.RawPredictionInput {
			d.NetworkFields = append(d.NetworkFields, Field{Name: k, Value: fmt.Sprint(v)})
		}
		sort.Slice(d.NetworkFields, func(i, j int) bool {
			return d.NetworkFields[i].Name < d.NetworkFields[j].Name
		})
	}
	return d
}

// Breakdown renders a probability distribution sorted by class name.
func Breakdown(probs map[string]float64) []Probability {
	if len(probs) == 0 {
		return nil
	}
	out := make([]Probability, 0, len(probs))
	for k, v := range probs {
		out = append(out, Probability{Class: k, Value: v, Percent: Percent(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

// Percent formats a probability in [0,1] as a percentage with two decimals.
func Percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}
