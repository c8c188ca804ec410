package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"video-analysis/internal/domain"
	"video-analysis/internal/types"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go driver, CGO-free, compatible with CGO_ENABLED=0
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	// SQLite has a single writer; one connection keeps transactions from
	// failing with SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS analysis_batches (
        id          TEXT PRIMARY KEY,
        model       TEXT NOT NULL,
        status      TEXT NOT NULL,
        created_by  TEXT NOT NULL,
        total_tasks INTEGER NOT NULL DEFAULT 0,
        created_at  DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_batches_owner ON analysis_batches(created_by, created_at);

    CREATE TABLE IF NOT EXISTS analysis_tasks (
        id                TEXT PRIMARY KEY,
        batch_id          TEXT NOT NULL REFERENCES analysis_batches(id),
        video_id          TEXT NOT NULL,
        prompt_id         TEXT NOT NULL,
        status            TEXT NOT NULL,
        result            TEXT,
        summary           TEXT,
        summary_embedding TEXT,
        error             TEXT,
        created_at        DATETIME NOT NULL,
        updated_at        DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_tasks_batch ON analysis_tasks(batch_id, status);
    CREATE INDEX IF NOT EXISTS idx_tasks_unembedded ON analysis_tasks(updated_at)
        WHERE summary IS NOT NULL AND summary_embedding IS NULL;
    `
	_, err := db.Exec(schema)
	return err
}

func (r *SQLiteRepository) CreateBatch(ctx context.Context, batch *domain.Batch, videoIDs, promptIDs []string) ([]*domain.Task, error) {
	if batch.Model == "" {
		return nil, types.NewValidationError("model", "is required")
	}
	if batch.CreatedBy == "" {
		return nil, types.NewValidationError("created_by", "is required")
	}
	if len(videoIDs) == 0 {
		return nil, types.NewValidationError("video_ids", "at least one video is required")
	}
	if len(promptIDs) == 0 {
		return nil, types.NewValidationError("prompt_ids", "at least one prompt is required")
	}

	now := time.Now().UTC()
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = string(domain.TaskPending)
	}
	batch.CreatedAt = now
	batch.TotalTasks = len(videoIDs) * len(promptIDs)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO analysis_batches (id, model, status, created_by, total_tasks, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `, batch.ID, batch.Model, batch.Status, batch.CreatedBy, batch.TotalTasks, batch.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO analysis_tasks (id, batch_id, video_id, prompt_id, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return nil, fmt.Errorf("prepare task insert: %w", err)
	}
	defer stmt.Close()

	tasks := make([]*domain.Task, 0, batch.TotalTasks)
	for _, videoID := range videoIDs {
		for _, promptID := range promptIDs {
			task := &domain.Task{
				ID:        uuid.NewString(),
				BatchID:   batch.ID,
				VideoID:   videoID,
				PromptID:  promptID,
				Status:    domain.TaskPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, err := stmt.ExecContext(ctx, task.ID, task.BatchID, task.VideoID, task.PromptID,
				string(task.Status), task.CreatedAt, task.UpdatedAt); err != nil {
				return nil, fmt.Errorf("insert task: %w", err)
			}
			tasks = append(tasks, task)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return tasks, nil
}

func (r *SQLiteRepository) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT id, model, status, created_by, total_tasks, created_at
        FROM analysis_batches WHERE id = ?
    `, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	return batch, err
}

func (r *SQLiteRepository) ListBatches(ctx context.Context, createdBy string) ([]*domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, model, status, created_by, total_tasks, created_at
        FROM analysis_batches
        WHERE created_by = ?
        ORDER BY created_at DESC
    `, createdBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			slog.Warn("scan batch failed", "error", err)
			continue
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func (r *SQLiteRepository) BatchStats(ctx context.Context, batchID string) (*domain.BatchStats, error) {
	if _, err := r.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM analysis_tasks
        WHERE batch_id = ?
        GROUP BY status
    `, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.BatchStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch domain.TaskStatus(status) {
		case domain.TaskPending:
			stats.Pending = count
		case domain.TaskProcessing:
			stats.Processing = count
		case domain.TaskCompleted:
			stats.Completed = count
		case domain.TaskFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Scanner interface to support both Row and Rows
type Scanner interface {
	Scan(dest ...any) error
}

func scanBatch(s Scanner) (*domain.Batch, error) {
	var b domain.Batch
	if err := s.Scan(&b.ID, &b.Model, &b.Status, &b.CreatedBy, &b.TotalTasks, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
