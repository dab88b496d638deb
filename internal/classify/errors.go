package classify

import "fmt"

// MalformedRecordError reports a record that carries neither a prediction nor
// a classification. RowIndex is -1 when the record has no row_index either.
type MalformedRecordError struct {
	RowIndex int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at row %d: no prediction or classification", e.RowIndex)
}

// MetricsUnavailableError explains why no metric charts can be shown for a group.
type MetricsUnavailableError struct {
	Label  string
	Reason string
}

func (e *MetricsUnavailableError) Error() string {
	if e.Label == "" {
		return "metrics unavailable: " + e.Reason
	}
	return fmt.Sprintf("metrics unavailable for %s: %s", e.Label, e.Reason)
}
