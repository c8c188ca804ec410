package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"video-analysis/internal/domain"
	"video-analysis/internal/metrics"
	"video-analysis/internal/summary"
	"video-analysis/internal/types"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const taskColumns = `id, batch_id, video_id, prompt_id, status, result, summary, error,
        summary_embedding IS NOT NULL, created_at, updated_at`

// deriveSummary computes the stored summary for payload. It runs inside the
// transaction of the write that supplies payload.
func deriveSummary(taskID string, payload json.RawMessage) *string {
	if payload == nil {
		return nil
	}
	res := summary.Extract(payload)
	metrics.SummaryExtractions.WithLabelValues(res.Shape.String(), res.Reason.String()).Inc()
	if !res.OK() {
		slog.Debug("summary unavailable", "task_id", taskID, "shape", res.Shape, "reason", res.Reason)
	}
	return res.Ptr()
}

func validatePayload(payload json.RawMessage) error {
	if payload != nil && !gjson.ValidBytes(payload) {
		return types.NewValidationError("result", "payload is not valid JSON")
	}
	return nil
}

func (r *SQLiteRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	if task.BatchID == "" {
		return types.NewValidationError("batch_id", "is required")
	}
	if task.Status == "" {
		task.Status = domain.TaskPending
	}
	if !task.Status.Valid() {
		return types.NewValidationError("status", "unknown status %q", task.Status)
	}
	task.Result = domain.NormalizePayload(task.Result)
	if err := validatePayload(task.Result); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.HasEmbedding = false

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := r.getBatchTx(ctx, tx, task.BatchID); err != nil {
		return err
	}

	task.Summary = deriveSummary(task.ID, task.Result)
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO analysis_tasks (id, batch_id, video_id, prompt_id, status, result, summary, error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, task.ID, task.BatchID, task.VideoID, task.PromptID, string(task.Status),
		nullText(task.Result), task.Summary, task.Error, task.CreatedAt, task.UpdatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE analysis_batches SET total_tasks = total_tasks + 1 WHERE id = ?
    `, task.BatchID); err != nil {
		return fmt.Errorf("bump batch total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	metrics.TaskWrites.WithLabelValues("insert", summaryLabel(task.Result != nil)).Inc()
	return nil
}

func (r *SQLiteRepository) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (*domain.Task, error) {
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, types.NewValidationError("status", "unknown status %q", *upd.Status)
	}
	var payload json.RawMessage
	if upd.Result != nil {
		payload = domain.NormalizePayload(*upd.Result)
		if err := validatePayload(payload); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM analysis_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	if upd.Status != nil {
		task.Status = *upd.Status
	}
	if upd.Error != nil {
		if *upd.Error == "" {
			task.Error = nil
		} else {
			e := *upd.Error
			task.Error = &e
		}
	}
	task.UpdatedAt = time.Now().UTC()

	payloadChanged := upd.Result != nil && !bytes.Equal(payload, task.Result)
	if payloadChanged {
		prev := task.Summary
		task.Result = payload
		task.Summary = deriveSummary(task.ID, payload)
		clearEmbedding := !sameText(prev, task.Summary)
		if clearEmbedding {
			task.HasEmbedding = false
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE analysis_tasks
            SET status = ?, result = ?, summary = ?, error = ?, updated_at = ?,
                summary_embedding = CASE WHEN ? THEN NULL ELSE summary_embedding END
            WHERE id = ?
        `, string(task.Status), nullText(task.Result), task.Summary, task.Error, task.UpdatedAt, clearEmbedding, id)
	} else {
		_, err = tx.ExecContext(ctx, `
            UPDATE analysis_tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?
        `, string(task.Status), task.Error, task.UpdatedAt, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	metrics.TaskWrites.WithLabelValues("update", summaryLabel(payloadChanged)).Inc()
	return task, nil
}

func (r *SQLiteRepository) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM analysis_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	return task, err
}

func (r *SQLiteRepository) ListTasksByBatch(ctx context.Context, batchID string, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE batch_id = ?`
	args := []any{batchID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			if !s.Valid() {
				return nil, types.NewValidationError("status", "unknown status %q", s)
			}
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, video_id, prompt_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// RederiveSummaries recomputes the summary of every stored task from its
// payload and returns the number of rows whose summary changed. Rows written
// before summaries were derived on write are repaired this way.
func (r *SQLiteRepository) RederiveSummaries(ctx context.Context) (int, error) {
	type row struct {
		id      string
		result  json.RawMessage
		summary *string
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, result, summary FROM analysis_tasks`)
	if err != nil {
		return 0, err
	}
	var all []row
	for rows.Next() {
		var (
			rw     row
			result sql.NullString
		)
		if err := rows.Scan(&rw.id, &result, &rw.summary); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan task: %w", err)
		}
		if result.Valid {
			rw.result = json.RawMessage(result.String)
		}
		all = append(all, rw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	changed := 0
	now := time.Now().UTC()
	for _, rw := range all {
		next := deriveSummary(rw.id, rw.result)
		if sameText(rw.summary, next) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
            UPDATE analysis_tasks SET summary = ?, summary_embedding = NULL, updated_at = ? WHERE id = ?
        `, next, now, rw.id); err != nil {
			return 0, fmt.Errorf("update summary: %w", err)
		}
		changed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	metrics.TaskWrites.WithLabelValues("rederive", "derived").Add(float64(changed))
	return changed, nil
}

func (r *SQLiteRepository) getBatchTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Batch, error) {
	batch, err := scanBatch(tx.QueryRowContext(ctx, `
        SELECT id, model, status, created_by, total_tasks, created_at
        FROM analysis_batches WHERE id = ?
    `, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	return batch, err
}

func scanTask(s Scanner) (*domain.Task, error) {
	var (
		t      domain.Task
		status string
		result sql.NullString
	)
	if err := s.Scan(&t.ID, &t.BatchID, &t.VideoID, &t.PromptID, &status, &result,
		&t.Summary, &t.Error, &t.HasEmbedding, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	return &t, nil
}

func nullText(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func sameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func summaryLabel(derived bool) string {
	if derived {
		return "derived"
	}
	return "unchanged"
}
