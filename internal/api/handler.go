// Package api exposes batches, tasks, result views and summary search over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"video-analysis/internal/embedding"
	"video-analysis/internal/metrics"
	"video-analysis/internal/resultview"
	"video-analysis/internal/storage"
	"video-analysis/internal/types"
	"video-analysis/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const rederiveKey = "rederive-summaries"

// Searcher answers similarity queries over summaries.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]embedding.Match, error)
}

// Backfill queues embedding backfills.
type Backfill interface {
	Trigger() error
	Schedule()
}

// Options configures a Handler. Searcher and Backfill are nil when
// embeddings are disabled.
type Options struct {
	MaxPayloadBytes int64
	StorageTimeout  time.Duration
	AutoIndex       bool
	Searcher        Searcher
	Backfill        Backfill
}

// Handler serves the HTTP API
type Handler struct {
	store storage.Repository
	locks *worker.KeyLock
	opts  Options
}

func NewHandler(store storage.Repository, locks *worker.KeyLock, opts Options) *Handler {
	if locks == nil {
		locks = worker.NewKeyLock()
	}
	return &Handler{store: store, locks: locks, opts: opts}
}

// Routes returns the API mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, fn))
	}

	handle("POST /batches", h.createBatch)
	handle("GET /batches", h.listBatches)
	handle("GET /batches/{id}", h.getBatch)
	handle("GET /batches/{id}/stats", h.batchStats)
	handle("GET /batches/{id}/tasks", h.listTasks)

	handle("GET /tasks/{id}", h.getTask)
	handle("PATCH /tasks/{id}", h.updateTask)
	handle("GET /tasks/{id}/view", h.viewTask)

	handle("POST /admin/rederive", h.rederive)
	handle("POST /admin/embed", h.embed)
	handle("GET /search", h.search)

	// Liveness probe (Kubernetes: startup/liveness)
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness probe (Kubernetes: readiness)
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := h.storageContext(r)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			slog.Warn("storage unhealthy", "error", err)
			http.Error(w, "Storage Unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	// Prometheus Metrics Endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (h *Handler) storageContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.opts.StorageTimeout > 0 {
		return context.WithTimeout(r.Context(), h.opts.StorageTimeout)
	}
	return context.WithCancel(r.Context())
}

func (h *Handler) rederive(w http.ResponseWriter, r *http.Request) {
	if !h.locks.TryLock(rederiveKey) {
		writeJSONError(w, http.StatusConflict, "rederive already running")
		return
	}
	defer h.locks.Unlock(rederiveKey)

	n, err := h.store.RederiveSummaries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("summaries rederived", "updated", n)
	if n > 0 && h.opts.AutoIndex && h.opts.Backfill != nil {
		h.opts.Backfill.Schedule()
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) embed(w http.ResponseWriter, r *http.Request) {
	if h.opts.Backfill == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "embeddings are disabled")
		return
	}
	switch err := h.opts.Backfill.Trigger(); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, worker.ErrRunning):
		writeJSONError(w, http.StatusConflict, "backfill already running")
	case errors.Is(err, worker.ErrQueueFull):
		writeJSONError(w, http.StatusTooManyRequests, "server busy, please retry later")
	case errors.Is(err, worker.ErrStopped):
		writeJSONError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		writeError(w, err)
	}
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	if h.opts.Searcher == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "embeddings are disabled")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, types.NewValidationError("q", "is required"))
		return
	}
	k := embedding.DefaultTopK
	if s := r.URL.Query().Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, types.NewValidationError("k", "must be a positive integer"))
			return
		}
		k = n
	}

	matches, err := h.opts.Searcher.Search(r.Context(), q, k)
	if err != nil {
		writeError(w, err)
		return
	}
	if matches == nil {
		matches = []embedding.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps err onto a status code.
func writeError(w http.ResponseWriter, err error) {
	var (
		vErr     *types.ValidationError
		maxBytes *http.MaxBytesError
	)
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.As(err, &vErr):
		writeJSONError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &maxBytes):
		writeJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
	case errors.Is(err, resultview.ErrNoAnalysis):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, resultview.ErrInvalidAnalysis):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case types.IsRetryable(err):
		slog.Warn("upstream unavailable", "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "upstream unavailable, please retry later")
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout")
	default:
		slog.Error("request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		slog.Debug("request handled", "route", route, "status", rec.status, "duration", time.Since(start))
	})
}
