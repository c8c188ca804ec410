package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"video-analysis/internal/metrics"
	"video-analysis/internal/storage"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize = 96
	DefaultParallel  = 2
	DefaultTopK      = 10
)

// Store is the part of the repository the indexer needs.
type Store interface {
	ListUnembedded(ctx context.Context, limit int) ([]storage.SummaryRecord, error)
	SetEmbedding(ctx context.Context, taskID, summary string, vector []float64) (bool, error)
	ListEmbedded(ctx context.Context) ([]storage.SummaryRecord, error)
}

// Match is one search hit.
type Match struct {
	TaskID  string  `json:"task_id"`
	VideoID string  `json:"video_id"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// Indexer keeps summary embeddings up to date.
type Indexer struct {
	store     Store
	embedder  Embedder
	batchSize int
	parallel  int
}

func NewIndexer(store Store, embedder Embedder, batchSize, parallel int) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Indexer{store: store, embedder: embedder, batchSize: batchSize, parallel: parallel}
}

// Backfill embeds every stored summary that has no embedding yet and returns
// how many embeddings were written. Tasks without a summary are never sent.
func (ix *Indexer) Backfill(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := ix.backfill(ctx)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.EmbeddingDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	slog.Info("embedding backfill finished", "embedded", n, "duration", time.Since(start), "error", err)
	return n, err
}

func (ix *Indexer) backfill(ctx context.Context) (int, error) {
	var written atomic.Int64
	round := ix.batchSize * ix.parallel

	for {
		records, err := ix.store.ListUnembedded(ctx, round)
		if err != nil {
			return int(written.Load()), fmt.Errorf("list unembedded: %w", err)
		}
		if len(records) == 0 {
			return int(written.Load()), nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.parallel)
		for chunk := range slices.Chunk(records, ix.batchSize) {
			g.Go(func() error {
				n, err := ix.embedBatch(gctx, chunk)
				written.Add(int64(n))
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return int(written.Load()), err
		}

		if len(records) < round {
			return int(written.Load()), nil
		}
	}
}

func (ix *Indexer) embedBatch(ctx context.Context, records []storage.SummaryRecord) (int, error) {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Summary
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		metrics.EmbeddingBatches.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(records) {
		metrics.EmbeddingBatches.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("embed batch: got %d vectors for %d summaries", len(vectors), len(records))
	}
	metrics.EmbeddingBatches.WithLabelValues("success").Inc()

	n := 0
	for i, rec := range records {
		ok, err := ix.store.SetEmbedding(ctx, rec.TaskID, rec.Summary, vectors[i])
		if err != nil {
			return n, err
		}
		if !ok {
			// Summary changed since it was listed; the next run picks up the new text.
			slog.Debug("skip stale embedding", "task_id", rec.TaskID)
			continue
		}
		n++
	}
	return n, nil
}

// Search ranks embedded summaries by cosine similarity to query and returns
// at most k matches, best first.
func (ix *Indexer) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	q := vectors[0]

	records, err := ix.store.ListEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("list embedded: %w", err)
	}

	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) != len(q) {
			slog.Warn("skip embedding with mismatched dimension", "task_id", rec.TaskID, "dim", len(rec.Embedding), "want", len(q))
			continue
		}
		matches = append(matches, Match{
			TaskID:  rec.TaskID,
			VideoID: rec.VideoID,
			Summary: rec.Summary,
			Score:   cosine(q, rec.Embedding),
		})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
