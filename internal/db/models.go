package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/threatscope/console/internal/classify"
)

// ScanRecord is a completed scan to be written to history.
type ScanRecord struct {
	ID        uuid.UUID
	UserID    string
	Filename  string
	Response  classify.ScanResponse
	CreatedAt time.Time
}

// ScanSummary is one row of the scan history list.
type ScanSummary struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Filename      string    `json:"filename"`
	TotalRows     int       `json:"total_rows"`
	MalformedRows int       `json:"malformed_rows"`
	Detections    int       `json:"detections"`
	OutputFile    string    `json:"output_file,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DayUsage is the number of classified rows on one calendar day.
type DayUsage struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// DashboardStats is the analytics summary of one user, or of everyone.
type DashboardStats struct {
	TotalScans      int                      `json:"total_scans"`
	UsageByDay      []DayUsage               `json:"usage_by_day"`
	DetectionCounts classify.DetectionCounts `json:"detection_counts"`
}
