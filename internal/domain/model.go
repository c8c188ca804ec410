package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of an analysis task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Batch groups the tasks created for one model run over a set of videos and prompts.
type Batch struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Status     string    `json:"status"`
	CreatedBy  string    `json:"created_by"`
	TotalTasks int       `json:"total_tasks"`
	CreatedAt  time.Time `json:"created_at"`
}

// Task is one (video, prompt) analysis. Result holds the raw payload written by
// the analysis producer; Summary is derived from it on every write and is
// never set on its own.
type Task struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id"`
	VideoID      string          `json:"video_id"`
	PromptID     string          `json:"prompt_id"`
	Status       TaskStatus      `json:"status"`
	Result       json.RawMessage `json:"result"`
	Summary      *string         `json:"summary"`
	Error        *string         `json:"error,omitempty"`
	HasEmbedding bool            `json:"has_embedding"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TaskUpdate is a partial update of a task. Nil fields are left untouched; a
// Result pointing at JSON null (or an empty message) clears the payload.
type TaskUpdate struct {
	Status *TaskStatus
	Result *json.RawMessage
	Error  *string
}

// NormalizePayload maps an empty or JSON null payload to nil, the stored form
// of "no result".
func NormalizePayload(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return raw
}

// BatchStats counts a batch's tasks by status.
type BatchStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Progress is the completed fraction of the batch, 0 for an empty batch.
func (s BatchStats) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}
