package classify

import "math"

// HamKey counts rows whose family model judged them safe.
const HamKey = "ham"

// maliciousThreshold is the probability above which a row counts as a detection.
const maliciousThreshold = 0.5

// DetectionCounts summarizes a set of rows per detection bucket.
type DetectionCounts struct {
	Counts      map[string]int     `json:"counts"`
	Percentages map[string]float64 `json:"percentages"`
	Total       int                `json:"total"`
}

// NewDetectionCounts returns zeroed counts for every bucket.
func NewDetectionCounts() DetectionCounts {
	dc := DetectionCounts{
		Counts:      make(map[string]int),
		Percentages: make(map[string]float64),
	}
	for _, k := range []string{string(FamilyDDoS), string(FamilyPhishing), string(FamilySQLi), HamKey} {
		dc.Counts[k] = 0
		dc.Percentages[k] = 0
	}
	return dc
}

// Add tallies one row. Rows outside the three model families are ignored;
// a missing malicious probability counts as zero.
func (dc *DetectionCounts) Add(row Row) {
	if key := Bucket(row); key != "" {
		dc.AddCount(key, 1)
	}
}

// AddCount adds n detections to bucket key directly.
func (dc *DetectionCounts) AddCount(key string, n int) {
	dc.Counts[key] += n
	dc.Total += n
	dc.recompute()
}

func (dc *DetectionCounts) recompute() {
	for k, v := range dc.Counts {
		if dc.Total == 0 {
			dc.Percentages[k] = 0
			continue
		}
		dc.Percentages[k] = math.Round(float64(v)/float64(dc.Total)*1000) / 10
	}
}

// Tally counts every row.
func Tally(rows []Row) DetectionCounts {
	dc := NewDetectionCounts()
	for _, r := range rows {
		dc.Add(r)
	}
	return dc
}

// Bucket returns the detection bucket a row falls into, or "" when the row
// is outside the model families.
func Bucket(row Row) string {
	switch row.Family {
	case FamilyDDoS, FamilyPhishing, FamilySQLi:
		if row.Malicious != nil && *row.Malicious > maliciousThreshold {
			return string(row.Family)
		}
		return HamKey
	}
	return ""
}
