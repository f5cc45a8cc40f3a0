package store

import (
	"path/filepath"
	"testing"

	"github.com/opencoder/swarm/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartAndGetRun(t *testing.T) {
	db := openTestDB(t)

	if err := db.StartRun("run-1", "/tmp/proj", "build a thing"); err != nil {
		t.Fatalf("start run: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run to be found")
	}
	if got.Status != RunStatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
	if got.FinishedAt != nil {
		t.Fatal("expected no finished_at yet")
	}
}

func TestFinishRunRecordsTokensAndStatus(t *testing.T) {
	db := openTestDB(t)
	db.StartRun("run-1", "/tmp/proj", "build a thing")

	if err := db.FinishRun("run-1", RunStatusDone, 1000, 500); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != RunStatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
	if got.PromptTokens != 1000 || got.CompletionTokens != 500 {
		t.Fatalf("unexpected token totals: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}
}

func TestGetRunReturnsNilForUnknownID(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetRun("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown run, got %+v", got)
	}
}

func TestRecordSubtaskEventIsAppendOnly(t *testing.T) {
	db := openTestDB(t)
	db.StartRun("run-1", "/tmp/proj", "build a thing")

	worker := 3
	t1 := &models.Subtask{ID: "sub-1", Title: "setup", Status: models.StatusInProgress, Attempts: 1, AssignedWorker: &worker}
	if err := db.RecordSubtaskEvent("run-1", t1); err != nil {
		t.Fatalf("record event 1: %v", err)
	}

	t1.Status = models.StatusCompleted
	if err := db.RecordSubtaskEvent("run-1", t1); err != nil {
		t.Fatalf("record event 2: %v", err)
	}

	count, err := db.SubtaskEventCount("run-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 append-only events, got %d", count)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	db1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db1.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("second open should not fail re-running migrations: %v", err)
	}
	defer db2.Close()
}
