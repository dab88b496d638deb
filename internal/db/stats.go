package db

import (
	"context"
	"fmt"
	"time"

	"github.com/threatscope/console/internal/classify"
)

// usageDays is the width of the usage-by-day window, today included.
const usageDays = 7

const (
	sqlUsageByDay = `SELECT (created_at AT TIME ZONE 'UTC')::date AS day, COUNT(*)
		 FROM detections
		 WHERE ($1 = '' OR user_id = $1) AND bucket <> '' AND created_at >= $2
		 GROUP BY day`
	sqlDetectionCounts = `SELECT bucket, COUNT(*)
		 FROM detections
		 WHERE ($1 = '' OR user_id = $1) AND bucket <> ''
		 GROUP BY bucket`
)

// DashboardStats summarizes the classified rows of userID, or of everyone
// when userID is empty. Usage covers the last seven UTC days, oldest first,
// with zero-count days included.
func (db *DB) DashboardStats(ctx context.Context, userID string) (*DashboardStats, error) {
	counts, err := db.detectionCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	usage, err := db.usageByDay(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &DashboardStats{
		TotalScans:      counts.Total,
		UsageByDay:      usage,
		DetectionCounts: counts,
	}, nil
}

func (db *DB) detectionCounts(ctx context.Context, userID string) (classify.DetectionCounts, error) {
	dc := classify.NewDetectionCounts()
	rows, err := db.pool.Query(ctx, sqlDetectionCounts, userID)
	if err != nil {
		return dc, fmt.Errorf("detection counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return dc, fmt.Errorf("scan detection count: %w", err)
		}
		dc.AddCount(bucket, n)
	}
	return dc, rows.Err()
}

func (db *DB) usageByDay(ctx context.Context, userID string) ([]DayUsage, error) {
	today := db.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(usageDays - 1))

	rows, err := db.pool.Query(ctx, sqlUsageByDay, userID, start)
	if err != nil {
		return nil, fmt.Errorf("usage by day: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]int)
	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		byDay[day.Format(time.DateOnly)] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	usage := make([]DayUsage, 0, usageDays)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		usage = append(usage, DayUsage{Date: key, Count: byDay[key]})
	}
	return usage, nil
}
