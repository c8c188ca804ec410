package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"video-analysis/internal/domain"
	"video-analysis/internal/resultview"
	"video-analysis/internal/types"
)

type createBatchRequest struct {
	Model     string   `json:"model"`
	CreatedBy string   `json:"created_by"`
	VideoIDs  []string `json:"video_ids"`
	PromptIDs []string `json:"prompt_ids"`
}

type createBatchResponse struct {
	Batch *domain.Batch   `json:"batch"`
	Tasks []*domain.Task `json:"tasks"`
}

// updateTaskRequest keeps Result raw so an explicit null can be told apart
// from an absent key.
type updateTaskRequest struct {
	Status *domain.TaskStatus `json:"status"`
	Result json.RawMessage    `json:"result"`
	Error  *string            `json:"error"`
}

type statsResponse struct {
	domain.BatchStats
	Progress float64 `json:"progress"`
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	batch := &domain.Batch{Model: req.Model, CreatedBy: req.CreatedBy}
	tasks, err := h.store.CreateBatch(ctx, batch, req.VideoIDs, req.PromptIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBatchResponse{Batch: batch, Tasks: tasks})
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("created_by")
	if owner == "" {
		writeError(w, types.NewValidationError("created_by", "is required"))
		return
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	batches, err := h.store.ListBatches(ctx, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if batches == nil {
		batches = []*domain.Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storageContext(r)
	defer cancel()

	batch, err := h.store.GetBatch(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) batchStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storageContext(r)
	defer cancel()

	stats, err := h.store.BatchStats(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{BatchStats: *stats, Progress: stats.Progress()})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.TaskStatus
	if s := r.URL.Query().Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, domain.TaskStatus(part))
			}
		}
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	batchID := r.PathValue("id")
	if _, err := h.store.GetBatch(ctx, batchID); err != nil {
		writeError(w, err)
		return
	}
	tasks, err := h.store.ListTasksByBatch(ctx, batchID, statuses...)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storageContext(r)
	defer cancel()

	task, err := h.store.GetTask(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Status == nil && req.Result == nil && req.Error == nil {
		writeError(w, types.NewValidationError("body", "nothing to update"))
		return
	}

	upd := domain.TaskUpdate{Status: req.Status, Error: req.Error}
	if req.Result != nil {
		upd.Result = &req.Result
	}

	ctx, cancel := h.storageContext(r)
	defer cancel()

	task, err := h.store.UpdateTask(ctx, r.PathValue("id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	if upd.Result != nil && task.Summary != nil && !task.HasEmbedding && h.opts.AutoIndex && h.opts.Backfill != nil {
		h.opts.Backfill.Schedule()
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) viewTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storageContext(r)
	defer cancel()

	task, err := h.store.GetTask(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := resultview.Render(task.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(view)
}

// decode reads a JSON body limited to the configured payload size.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if h.opts.MaxPayloadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxPayloadBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return types.NewValidationError("body", "read failed: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return types.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}
