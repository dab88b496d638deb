package classify

import (
	"sort"
	"strings"
)

// ScanResponse is the full payload returned by the ML backend for one CSV upload.
type ScanResponse struct {
	Results    []RawRecord `json:"results"`
	OutputFile string      `json:"output_file,omitempty"`
}

// RawRecord is one backend-classified CSV row. Its shape depends on the model
// family that handled it; there is no explicit type tag.
type RawRecord struct {
	Classification *Classification `json:"classification,omitempty"`
	Prediction     *Prediction     `json:"prediction,omitempty"`
	ModelName      string          `json:"model_name"`
	RowIndex       *int            `json:"row_index,omitempty"`
}

// Classification is the output of the backend's first-stage attack classifier.
type Classification struct {
	Confidence    string             `json:"confidence,omitempty"`
	Prediction    string             `json:"prediction,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

// Prediction is the output of the family-specific model.
type Prediction struct {
	Input          map[string]any     `json:"input,omitempty"`
	PredictedLabel string             `json:"predicted_label,omitempty"`
	Prediction     string             `json:"prediction,omitempty"`
	Probabilities  map[string]float64 `json:"probabilities,omitempty"`
	Text           string             `json:"text,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Index returns the backend row index, or -1 when the record carries none.
func (r RawRecord) Index() int {
	if r.RowIndex == nil {
		return -1
	}
	return *r.RowIndex
}

// AttackType returns the raw attack_type column of the submitted input, if any.
func (r RawRecord) AttackType() (string, bool) {
	if r.Prediction == nil {
		return "", false
	}
	return inputString(r.Prediction.Input, "attack_type")
}

// Family is the schema variant a record belongs to.
type Family string

const (
	FamilyPhishing Family = "phishing"
	FamilySQLi     Family = "sqli"
	FamilyDDoS     Family = "ddos"
	FamilyOther    Family = "other"
)

// probabilityKey is the classifier distribution key matching the family.
func (f Family) probabilityKey() string {
	switch f {
	case FamilyPhishing:
		return "phishing"
	case FamilySQLi:
		return "sqli"
	case FamilyDDoS:
		return "ddos"
	}
	return ""
}

// Row is the canonical, render-ready form of a RawRecord. Nil pointer fields
// could not be resolved and render as empty.
type Row struct {
	Index              int                `json:"index"`
	ModelName          string             `json:"model_name,omitempty"`
	Family             Family             `json:"family"`
	Text               *string            `json:"text,omitempty"`
	PredictedLabel     *string            `json:"predicted_label,omitempty"`
	Prediction         *string            `json:"prediction,omitempty"`
	Malicious          *float64           `json:"malicious,omitempty"`
	Safe               *float64           `json:"safe,omitempty"`
	Probabilities      map[string]float64 `json:"probabilities,omitempty"`
	Confidence         *string            `json:"confidence,omitempty"`
	RawPredictionInput map[string]any     `json:"raw_prediction_input,omitempty"`
	Error              string             `json:"error,omitempty"`
	Malformed          bool               `json:"malformed,omitempty"`
}

// AttackGroup is one label-partitioned bucket of rows.
type AttackGroup struct {
	Label        string    `json:"label"`
	DisplayLabel string    `json:"display_label"`
	ModelType    ModelType `json:"model_type"`
	Rows         []Row     `json:"rows"`
}

// lookupFold finds key in m ignoring case. An exact match wins, otherwise the
// lexically first case-insensitive match is used so the result is stable.
func lookupFold(m map[string]float64, key string) (float64, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.EqualFold(k, key) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0, false
	}
	sort.Strings(keys)
	return m[keys[0]], true
}
