package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ListUnembedded returns up to limit tasks that have a summary but no
// embedding, oldest write first. A limit <= 0 means no limit.
func (r *SQLiteRepository) ListUnembedded(ctx context.Context, limit int) ([]SummaryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, video_id, summary FROM analysis_tasks
        WHERE summary IS NOT NULL AND summary_embedding IS NULL
        ORDER BY updated_at
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SummaryRecord
	for rows.Next() {
		var rec SummaryRecord
		if err := rows.Scan(&rec.TaskID, &rec.VideoID, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetEmbedding stores vector for the task as long as its summary is still
// the one that was embedded. It reports whether the row was updated.
func (r *SQLiteRepository) SetEmbedding(ctx context.Context, taskID, summary string, vector []float64) (bool, error) {
	data, err := json.Marshal(vector)
	if err != nil {
		return false, fmt.Errorf("marshal embedding: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE analysis_tasks SET summary_embedding = ?, updated_at = ?
        WHERE id = ? AND summary = ?
    `, string(data), time.Now().UTC(), taskID, summary)
	if err != nil {
		return false, fmt.Errorf("store embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListEmbedded returns every task whose current summary has an embedding.
func (r *SQLiteRepository) ListEmbedded(ctx context.Context) ([]SummaryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, video_id, summary, summary_embedding FROM analysis_tasks
        WHERE summary IS NOT NULL AND summary_embedding IS NOT NULL
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SummaryRecord
	for rows.Next() {
		var (
			rec  SummaryRecord
			data string
		)
		if err := rows.Scan(&rec.TaskID, &rec.VideoID, &rec.Summary, &data); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &rec.Embedding); err != nil {
			slog.Warn("skip corrupt embedding", "task_id", rec.TaskID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
