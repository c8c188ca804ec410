//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"video-analysis/internal/api"
	"video-analysis/internal/embedding"
	"video-analysis/internal/storage"
	"video-analysis/internal/worker"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

// fakeEmbeddings serves /embeddings with one axis per keyword.
func fakeEmbeddings(t *testing.T) *httptest.Server {
	keywords := []string{"cat", "dog", "piano", "ball"}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode embeddings request: %v", err)
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			v := make([]float64, len(keywords))
			for j, k := range keywords {
				if strings.Contains(strings.ToLower(text), k) {
					v[j] = 1
				}
			}
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": v}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "fake"})
	}))
}

func call(t *testing.T, method, url string, body any) gjson.Result {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, url, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		t.Fatalf("%s %s: status %d: %s", method, url, resp.StatusCode, data)
	}
	return gjson.ParseBytes(data)
}

func TestE2E_AnalysisLifecycle(t *testing.T) {
	// Optional real endpoint via .env (EMBEDDING_API_KEY, EMBEDDING_ENDPOINT)
	if err := godotenv.Load(filepath.Join("../../", ".env")); err != nil {
		t.Logf(".env not loaded: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	endpoint, apiKey, model := os.Getenv("EMBEDDING_ENDPOINT"), os.Getenv("EMBEDDING_API_KEY"), "text-embedding-3-small"
	if apiKey == "" {
		fake := fakeEmbeddings(t)
		defer fake.Close()
		endpoint, apiKey, model = fake.URL, "test-key", "fake"
	}

	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("init storage: %v", err)
	}
	defer store.Close()

	pool := worker.NewPool(2, 8)
	pool.Start()
	locks := worker.NewKeyLock()

	client := openai.NewClient(option.WithBaseURL(endpoint), option.WithAPIKey(apiKey))
	indexer := embedding.NewIndexer(store, embedding.NewOpenAIEmbedder(&client, model, 30*time.Second), 96, 2)
	backfiller := worker.NewBackfiller(pool, locks, indexer, 50*time.Millisecond, time.Minute)
	defer backfiller.Stop()

	ts := httptest.NewServer(api.NewHandler(store, locks, api.Options{
		MaxPayloadBytes: 1 << 20,
		StorageTimeout:  5 * time.Second,
		AutoIndex:       true,
		Searcher:        indexer,
		Backfill:        backfiller,
	}).Routes())
	defer ts.Close()

	created := call(t, http.MethodPost, ts.URL+"/batches", map[string]any{
		"model": "gemini-2.0-flash", "created_by": "e2e",
		"video_ids": []string{"cat.mp4", "dog.mp4", "broken.mp4"}, "prompt_ids": []string{"describe"},
	})
	ids := created.Get("tasks.#.id").Array()
	if len(ids) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(ids))
	}

	payloads := []json.RawMessage{
		json.RawMessage(`{"summary":"\"A cat plays the piano\"","toxicity":{"isAcceptable":true,"level":"none","reason":""}}`),
		json.RawMessage(`{"analysis":"` + "```json\\n{\\\"summary\\\":\\\"A dog\\\\\\\\nchases a ball\\\"}\\n```" + `"}`),
		json.RawMessage(`{"analysis":"` + "```json\\n{oops\\n```" + `"}`),
	}
	for i, p := range payloads {
		call(t, http.MethodPatch, ts.URL+"/tasks/"+ids[i].String(), map[string]any{"status": "completed", "result": p})
	}

	if got := call(t, http.MethodGet, ts.URL+"/tasks/"+ids[1].String(), nil).Get("summary").String(); got != "A dog chases a ball" {
		t.Errorf("nested summary = %q", got)
	}
	if s := call(t, http.MethodGet, ts.URL+"/tasks/"+ids[2].String(), nil).Get("summary"); s.Type != gjson.Null {
		t.Errorf("broken payload summary = %s, want null", s.Raw)
	}

	stats := call(t, http.MethodGet, ts.URL+"/batches/"+created.Get("batch.id").String()+"/stats", nil)
	if stats.Get("progress").Float() != 1 {
		t.Errorf("expected full progress: %s", stats.Raw)
	}

	// Wait for the debounced backfill to embed both summaries.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		embedded, err := store.ListEmbedded(ctx)
		if err != nil {
			t.Fatalf("ListEmbedded: %v", err)
		}
		if len(embedded) == 2 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("backfill incomplete: %d embedded", len(embedded))
		case <-time.After(100 * time.Millisecond):
		}
	}

	hits := call(t, http.MethodGet, ts.URL+"/search?q=cat+piano&k=1", nil).Array()
	if len(hits) != 1 || hits[0].Get("video_id").String() != "cat.mp4" {
		t.Errorf("unexpected search result: %v", hits)
	}

	if err := pool.Stop(ctx); err != nil {
		t.Errorf("pool stop: %v", err)
	}
}
