package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/opencoder/swarm/pkg/models"
)

// RunStatus mirrors the lifecycle of one build recorded in the store.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// StartRun records a new run row and returns nothing further; the caller
// already knows the id it generated.
func (db *DB) StartRun(id, rootDir, taskDescription string) error {
	_, err := db.Exec(
		`INSERT INTO runs (id, root_dir, task_description, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, rootDir, taskDescription, string(RunStatusRunning), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal and records its final token totals.
func (db *DB) FinishRun(id string, status RunStatus, promptTokens, completionTokens int64) error {
	_, err := db.Exec(
		`UPDATE runs SET status = ?, prompt_tokens = ?, completion_tokens = ?, finished_at = ? WHERE id = ?`,
		string(status), promptTokens, completionTokens, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordSubtaskEvent appends one audit row for a subtask's state change.
// The events table is append-only, the same as a subtask's own artifact
// list: nothing here is ever updated or deleted, only inserted.
func (db *DB) RecordSubtaskEvent(runID string, t *models.Subtask) error {
	var workerID sql.NullInt64
	if t.AssignedWorker != nil {
		workerID = sql.NullInt64{Int64: int64(*t.AssignedWorker), Valid: true}
	}

	_, err := db.Exec(
		`INSERT INTO subtask_events (run_id, subtask_id, title, status, attempt, worker_id, feedback, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, t.ID, t.Title, string(t.Status), t.Attempts, workerID, t.Feedback, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record subtask event: %w", err)
	}
	return nil
}

// RunRecord is a row from the runs table.
type RunRecord struct {
	ID               string
	RootDir          string
	TaskDescription  string
	Status           RunStatus
	PromptTokens     int64
	CompletionTokens int64
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// GetRun fetches one run by id.
func (db *DB) GetRun(id string) (*RunRecord, error) {
	row := db.QueryRow(
		`SELECT id, root_dir, task_description, status, prompt_tokens, completion_tokens, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	)

	var r RunRecord
	var status string
	var startedAt string
	var finishedAt sql.NullString

	if err := row.Scan(&r.ID, &r.RootDir, &r.TaskDescription, &status, &r.PromptTokens, &r.CompletionTokens, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.Status = RunStatus(status)
	started, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = started

	if finishedAt.Valid {
		finished, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		r.FinishedAt = &finished
	}

	return &r, nil
}

// SubtaskEventCount returns how many audit rows exist for runID, mainly
// for tests asserting append-only behavior.
func (db *DB) SubtaskEventCount(runID string) (int, error) {
	row := db.QueryRow(`SELECT COUNT(*) FROM subtask_events WHERE run_id = ?`, runID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count subtask events: %w", err)
	}
	return n, nil
}
