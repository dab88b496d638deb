package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/threatscope/console/internal/classify"
)

// HistoryChannel is the NOTIFY channel new scans are announced on.
const HistoryChannel = "scan_stream"

const (
	sqlInsertScan = `INSERT INTO scan_history (id, user_id, filename, total_rows, malformed_rows, output_file, response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	sqlNotifyScan = `SELECT pg_notify($1, $2)`
	sqlListScans  = `SELECT s.id::text, s.user_id, s.filename, s.total_rows, s.malformed_rows, s.output_file, s.created_at,
		    (SELECT COUNT(*) FROM detections d WHERE d.scan_id = s.id AND d.bucket NOT IN ('', 'ham'))
		 FROM scan_history s
		 WHERE ($1 = '' OR s.user_id = $1)
		 ORDER BY s.created_at DESC LIMIT $2`
	sqlGetScan = `SELECT response FROM scan_history WHERE id = $1 AND ($2 = '' OR user_id = $2)`
)

var detectionColumns = []string{
	"scan_id", "user_id", "row_index", "family", "label",
	"predicted_label", "prediction", "malicious", "bucket", "created_at",
}

// RecordScan writes a scan and one detection row per record in a single
// transaction, then announces it on HistoryChannel.
func (db *DB) RecordScan(ctx context.Context, rec ScanRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = db.now().UTC()
	}
	response, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	rows := make([][]any, 0, len(rec.Response.Results))
	malformed := 0
	for _, raw := range rec.Response.Results {
		row, err := classify.Normalize(raw)
		if err != nil {
			malformed++
		}
		rows = append(rows, []any{
			rec.ID, rec.UserID, row.Index, string(row.Family), classify.GroupLabel(raw),
			row.PredictedLabel, row.Prediction, row.Malicious, classify.Bucket(row), rec.CreatedAt,
		})
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			db.logger.Error("rollback scan insert", "err", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertScan,
		rec.ID, rec.UserID, rec.Filename, len(rec.Response.Results), malformed,
		rec.Response.OutputFile, response, rec.CreatedAt); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"detections"}, detectionColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy detections: %w", err)
		}
	}
	payload, _ := json.Marshal(map[string]any{
		"id": rec.ID.String(), "user_id": rec.UserID, "filename": rec.Filename, "total_rows": len(rows),
	})
	if _, err := tx.Exec(ctx, sqlNotifyScan, HistoryChannel, string(payload)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	db.logger.Info("scan recorded", "id", rec.ID, "user_id", rec.UserID, "rows", len(rows), "malformed", malformed)
	return nil
}

// ListScans returns the most recent scans, newest first. An empty userID
// lists every user's scans.
func (db *DB) ListScans(ctx context.Context, userID string, limit int) ([]ScanSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, sqlListScans, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []ScanSummary
	for rows.Next() {
		var s ScanSummary
		if err := rows.Scan(&s.ID, &s.UserID, &s.Filename, &s.TotalRows, &s.MalformedRows,
			&s.OutputFile, &s.CreatedAt, &s.Detections); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetScanResponse returns the raw backend response stored with a scan. A
// non-empty userID restricts the lookup to that user's scans; a scan owned by
// someone else is reported as ErrNotFound.
func (db *DB) GetScanResponse(ctx context.Context, id, userID string) (*classify.ScanResponse, error) {
	var data []byte
	err := db.pool.QueryRow(ctx, sqlGetScan, id, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}
	var resp classify.ScanResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode scan %s: %w", id, err)
	}
	return &resp, nil
}
