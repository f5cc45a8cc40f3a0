package swarmapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/opencoder/swarm/internal/config"
	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/internal/store"
)

func writeSSE(w http.ResponseWriter, chunks []string) {
	flusher := w.(http.Flusher)
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Model: "m", BaseURL: baseURL},
		RateLimit: config.RateLimitConfig{MaxConcurrent: 4, MaxCallsPerHour: 1000},
		Orchestrator: config.OrchestratorConfig{
			MaxWorkers: 1, MaxOrchIter: 10, MaxAttempts: 3, MaxContextTokens: 20000, MaxToolLoops: 5,
		},
	}
}

// TestStartRunsAHappyPathBuildToCompletion exercises Engine.Start end to
// end against a scripted single-worker build, including the run-history
// store's start/finish bookkeeping.
func TestStartRunsAHappyPathBuildToCompletion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			writeSSE(w, []string{
				`{"choices":[{"delta":{"content":"[{\"title\":\"Write main.go\",\"description\":\"create the entrypoint\",\"dependencies\":[]}]"},"finish_reason":"stop"}]}`,
			})
		case 2:
			writeSSE(w, []string{
				`{"choices":[{"delta":{"content":"wrote main.go"},"finish_reason":"stop"}]}`,
			})
		case 3: // the worker's self-critique pass, non-streaming
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Score: 95\nIssues:\nStatus: LGTM"}}]}`)
		case 4:
			writeSSE(w, []string{`{"choices":[{"delta":{"content":"[]"},"finish_reason":"stop"}]}`})
		case 5:
			writeSSE(w, []string{
				`{"choices":[{"delta":{"content":"{\"status\":\"done\",\"summary\":\"built it\"}"},"finish_reason":"stop"}]}`,
			})
		default:
			writeSSE(w, []string{`{"choices":[{"delta":{"content":"{}"},"finish_reason":"stop"}]}`})
		}
	}))
	t.Cleanup(srv.Close)

	dbPath := t.TempDir() + "/runs.db"
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := New(testConfig(srv.URL), db)

	var gotDone bool
	engine.Subscribe(eventbus.TopicProjectDone, func(eventbus.Event) { gotDone = true })

	rootDir := t.TempDir()
	result, err := engine.Start(context.Background(), rootDir, "Build a tiny Go program that prints hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "done" {
		t.Fatalf("expected status done, got %+v", result)
	}
	if !gotDone {
		t.Fatal("expected a project:done event to be emitted")
	}
}

func TestResumeErrorsWithNoCheckpoint(t *testing.T) {
	engine := New(testConfig("http://unused"), nil)
	_, err := engine.Resume(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("expected an error when no checkpoint exists")
	}
}

func TestStatusSummaryErrorsWithNoCheckpoint(t *testing.T) {
	_, err := StatusSummary(t.TempDir())
	if err == nil {
		t.Fatal("expected an error when no checkpoint exists")
	}
}
