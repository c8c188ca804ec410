package storage

import (
	"context"

	"video-analysis/internal/domain"
)

// SummaryRecord is a task's derived summary, optionally with its embedding.
type SummaryRecord struct {
	TaskID    string
	VideoID   string
	Summary   string
	Embedding []float64
}

// Repository Storage interface
//
// Task writes go through CreateTask and UpdateTask only; both keep the derived
// summary consistent with the stored result inside the same transaction.
type Repository interface {
	CreateBatch(ctx context.Context, batch *domain.Batch, videoIDs, promptIDs []string) ([]*domain.Task, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListBatches(ctx context.Context, createdBy string) ([]*domain.Batch, error)
	BatchStats(ctx context.Context, batchID string) (*domain.BatchStats, error)

	CreateTask(ctx context.Context, task *domain.Task) error
	UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasksByBatch(ctx context.Context, batchID string, statuses ...domain.TaskStatus) ([]*domain.Task, error)
	RederiveSummaries(ctx context.Context) (int, error)

	ListUnembedded(ctx context.Context, limit int) ([]SummaryRecord, error)
	SetEmbedding(ctx context.Context, taskID, summary string, vector []float64) (bool, error)
	ListEmbedded(ctx context.Context) ([]SummaryRecord, error)

	Ping(ctx context.Context) error
	Close() error
}
