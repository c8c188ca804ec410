package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SummaryExtractions counts derived-summary computations on the write path.
	SummaryExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_extractions_total",
		Help: "The total number of summary extractions, by payload shape and outcome",
	}, []string{"shape", "outcome"}) // shape: direct, nested, unknown; outcome: ok, shape_mismatch, ...

	// TaskWrites counts task writes, labeled by whether the summary was recomputed.
	TaskWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_writes_total",
		Help: "The total number of analysis task writes",
	}, []string{"op", "summary"}) // op: insert, update, rederive; summary: derived, unchanged

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "The total number of handled API requests",
	}, []string{"route", "status"})

	// EmbeddingBatches counts summary embedding batches.
	EmbeddingBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embedding_batches_total",
		Help: "The total number of summary embedding batches",
	}, []string{"status"}) // status: success, error

	// EmbeddingDuration measures one embedding backfill run.
	EmbeddingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "embedding_duration_seconds",
		Help:    "Time taken to embed pending summaries",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"}) // result: success, error
)
