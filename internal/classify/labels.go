package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// UnknownLabel groups records that carry neither an attack_type nor a
// classifier prediction.
const UnknownLabel = "Unknown"

// ModelType is the backend's metrics endpoint key.
type ModelType string

const (
	ModelTypeSMS  ModelType = "sms"
	ModelTypeDDoS ModelType = "ddos"
	ModelTypeSQLi ModelType = "sqli"
	// ModelTypeNull is a value, not an absence marker: metrics must never be
	// requested for it.
	ModelTypeNull ModelType = "null"
)

// HasMetrics reports whether the backend serves metrics for m.
func (m ModelType) HasMetrics() bool {
	return m == ModelTypeSMS || m == ModelTypeDDoS || m == ModelTypeSQLi
}

// ResolveModelType maps a model name or attack label to a metrics key. The
// checks run in a fixed order and the first match wins, so "DDOS-SPAM-TEST"
// resolves to sms.
func ResolveModelType(nameOrLabel string) ModelType {
	if nameOrLabel == "" {
		return ModelTypeNull
	}
	name := strings.ToLower(nameOrLabel)
	switch {
	case strings.Contains(name, "phishing"), strings.Contains(name, "smish"), strings.Contains(name, "spam"):
		return ModelTypeSMS
	case strings.Contains(name, "ddos"):
		return ModelTypeDDoS
	case strings.Contains(name, "sql"):
		return ModelTypeSQLi
	}
	return ModelTypeNull
}

// DisplayLabel maps a raw attack label to its user-facing name. It is
// cosmetic only; grouping always uses the raw label.
func DisplayLabel(label string) string {
	switch strings.ToLower(label) {
	case "spam", "phishing", "smishing":
		return "Phishing"
	case "sqli":
		return "SQLi"
	case "ddos":
		return "DDOS"
	}
	r, size := utf8.DecodeRuneInString(label)
	if r == utf8.RuneError {
		return label
	}
	return string(unicode.ToUpper(r)) + label[size:]
}

// GroupLabel returns the raw partition key of a record: the input's
// attack_type, else the classifier prediction, else UnknownLabel.
func GroupLabel(rec RawRecord) string {
	if at, ok := rec.AttackType(); ok {
		return at
	}
	if c := rec.Classification; c != nil && c.Prediction != "" {
		return c.Prediction
	}
	return UnknownLabel
}

// GroupByLabel normalizes records and partitions them by raw label. Groups
// appear in first-seen order; every record lands in exactly one group,
// malformed ones included.
func GroupByLabel(records []RawRecord) []AttackGroup {
	// Malformed rows are kept with empty fields; the error is already
	// reflected on the row itself.
	rows, _ := NormalizeAll(records)
	var groups []AttackGroup
	pos := make(map[string]int)
	for j, rec := range records {
		label := GroupLabel(rec)
		i, ok := pos[label]
		if !ok {
			i = len(groups)
			pos[label] = i
			groups = append(groups, AttackGroup{
				Label:        label,
				DisplayLabel: DisplayLabel(label),
				ModelType:    ResolveModelType(label),
			})
		}
		groups[i].Rows = append(groups[i].Rows, rows[j])
	}
	return groups
}

// FindRecord returns the record whose backend row index matches index.
func FindRecord(records []RawRecord, index int) (RawRecord, bool) {
	for _, rec := range records {
		if rec.Index() == index {
			return rec, true
		}
	}
	return RawRecord{}, false
}
