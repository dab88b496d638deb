package classify

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// flowInputMinFields is the input width above which a record without an
// attack_type column is treated as a network-flow (DDoS) sample.
const flowInputMinFields = 20

const flowIDKey = "Flow ID"

// Normalize flattens a backend record into a Row.
//
// A record with neither prediction nor classification still yields a Row
// (index set, everything else empty) together with a *MalformedRecordError,
// so callers can render it instead of dropping it.
func Normalize(rec RawRecord) (Row, error) {
	row := Row{
		Index:     rec.Index(),
		ModelName: rec.ModelName,
		Family:    FamilyOther,
	}
	if rec.Prediction == nil && rec.Classification == nil {
		row.Malformed = true
		row.Error = "record has no prediction or classification"
		return row, &MalformedRecordError{RowIndex: row.Index}
	}

	row.Family = familyOf(rec)

	if p := rec.Prediction; p != nil {
		row.Text = resolveText(p, row.Family)
		row.PredictedLabel = nonEmpty(p.PredictedLabel)
		row.Prediction = nonEmpty(p.Prediction)
		row.Error = p.Error
		if row.Family == FamilyDDoS && len(p.Input) > 0 {
			row.RawPredictionInput = maps.Clone(p.Input)
		}
	}
	if c := rec.Classification; c != nil {
		row.Confidence = nonEmpty(c.Confidence)
		if row.PredictedLabel == nil {
			row.PredictedLabel = nonEmpty(c.Prediction)
		}
	}

	row.Malicious, row.Safe = mergeProbabilities(rec, row.Family)
	row.Probabilities = distribution(rec)
	return row, nil
}

// NormalizeAll normalizes every record. Rows are returned for all records,
// malformed ones included; their errors are joined.
func NormalizeAll(records []RawRecord) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	var errs []error
	for _, rec := range records {
		row, err := Normalize(rec)
		if err != nil {
			errs = append(errs, err)
		}
		rows = append(rows, row)
	}
	return rows, errors.Join(errs...)
}

func familyOf(rec RawRecord) Family {
	if at, ok := rec.AttackType(); ok {
		if f := familyFromLabel(at); f != FamilyOther {
			return f
		}
	} else if p := rec.Prediction; p != nil && isFlowInput(p.Input) {
		return FamilyDDoS
	}
	if p := rec.Prediction; p != nil {
		if f := familyFromLabel(p.PredictedLabel); f != FamilyOther {
			return f
		}
	}
	if c := rec.Classification; c != nil {
		return familyFromLabel(c.Prediction)
	}
	return FamilyOther
}

func familyFromLabel(label string) Family {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "spam", "phishing", "smishing":
		return FamilyPhishing
	case "sqli":
		return FamilySQLi
	case "ddos":
		return FamilyDDoS
	}
	return FamilyOther
}

func isFlowInput(input map[string]any) bool {
	if _, ok := inputString(input, flowIDKey); ok {
		return true
	}
	return len(input) >= flowInputMinFields
}

// resolveText picks the human-viewable content: flow ID for DDoS rows, then
// sentence, then the free-text column, then the prediction's own text.
func resolveText(p *Prediction, fam Family) *string {
	if fam == FamilyDDoS {
		if v, ok := inputString(p.Input, flowIDKey); ok {
			s := "Flow ID: " + v
			return &s
		}
	}
	if v, ok := inputString(p.Input, "sentence"); ok {
		return &v
	}
	if v, ok := inputString(p.Input, "text"); ok {
		return &v
	}
	return nonEmpty(p.Text)
}

// mergeProbabilities prefers the family model's malicious/safe pair and falls
// back to the classifier distribution for the family key. A missing side is
// filled with the complement of the other.
func mergeProbabilities(rec RawRecord, fam Family) (malicious, safe *float64) {
	if p := rec.Prediction; p != nil && len(p.Probabilities) > 0 {
		if v, ok := lookupFold(p.Probabilities, "malicious"); ok {
			malicious = &v
		}
		if v, ok := lookupFold(p.Probabilities, "safe"); ok {
			safe = &v
		}
	}
	if malicious == nil && safe == nil {
		if c := rec.Classification; c != nil && len(c.Probabilities) > 0 {
			if v, ok := lookupFold(c.Probabilities, "malicious"); ok {
				malicious = &v
			} else if key := fam.probabilityKey(); key != "" {
				if v, ok := lookupFold(c.Probabilities, key); ok {
					malicious = &v
				}
			}
			if v, ok := lookupFold(c.Probabilities, "safe"); ok {
				safe = &v
			}
		}
	}
	if malicious != nil && safe == nil {
		s := 1 - *malicious
		safe = &s
	}
	if safe != nil && malicious == nil {
		m := 1 - *safe
		malicious = &m
	}
	return malicious, safe
}

func distribution(rec RawRecord) map[string]float64 {
	if c := rec.Classification; c != nil && len(c.Probabilities) > 0 {
		return maps.Clone(c.Probabilities)
	}
	if p := rec.Prediction; p != nil && len(p.Probabilities) > 0 {
		return maps.Clone(p.Probabilities)
	}
	return nil
}

// inputString returns the string form of a non-empty input column. CSV
// headers often carry stray spaces, so a trimmed key match is accepted when
// the exact key is missing.
func inputString(input map[string]any, key string) (string, bool) {
	if len(input) == 0 {
		return "", false
	}
	v, ok := input[key]
	if !ok {
		var candidates []string
		for k := range input {
			if strings.TrimSpace(k) == key {
				candidates = append(candidates, k)
			}
		}
		if len(candidates) == 0 {
			return "", false
		}
		sort.Strings(candidates)
		v = input[candidates[0]]
	}
	if v == nil {
		return "", false
	}
	s, isString := v.(string)
	if !isString {
		s = fmt.Sprint(v)
	}
	if s == "" {
		return "", false
	}
	return s, true
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
