// Package models defines the data types shared across the swarm engine:
// subtasks, the project context that owns them, and the results workers and
// reviewers produce.
package models

import "time"

// SubtaskStatus represents the current state of a subtask.
type SubtaskStatus string

const (
	// StatusPending indicates the subtask has not started.
	StatusPending SubtaskStatus = "pending"
	// StatusInProgress indicates a worker is currently executing the subtask.
	StatusInProgress SubtaskStatus = "in_progress"
	// StatusCompleted indicates the subtask finished successfully.
	StatusCompleted SubtaskStatus = "completed"
	// StatusFailed indicates the subtask failed permanently (attempts exhausted).
	StatusFailed SubtaskStatus = "failed"
)

// Valid reports whether s is a known status value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// MaxResultChars bounds the length of a stored subtask result summary.
const MaxResultChars = 2000

// Subtask is the central unit of work planned by the orchestrator and
// executed by a single worker.
type Subtask struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Dependencies []string     `json:"dependencies,omitempty"`
	AssignedWorker *int       `json:"assigned_worker,omitempty"`
	Status      SubtaskStatus `json:"status"`
	Result      string        `json:"result,omitempty"`
	Artifacts   []string      `json:"artifacts,omitempty"`
	Attempts    int           `json:"attempts"`
	Feedback    string        `json:"feedback,omitempty"`
}

// TruncateResult applies the storage-time length cap on a subtask's result.
func TruncateResult(s string) string {
	if len(s) <= MaxResultChars {
		return s
	}
	return s[:MaxResultChars]
}

// AppendArtifacts appends new artifact paths, preserving append-only order.
// Duplicates are not filtered; callers that care do their own
// deduplication before writing.
func (t *Subtask) AppendArtifacts(paths ...string) {
	t.Artifacts = append(t.Artifacts, paths...)
}

// PlannedSubtask is the shape the orchestrator LLM emits during planning,
// before dependency tokens are resolved to ids.
type PlannedSubtask struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// WorkerResult is what a worker loop returns for one subtask attempt.
type WorkerResult struct {
	SubtaskID string   `json:"subtask_id"`
	Status    SubtaskStatus `json:"status"` // StatusCompleted or StatusFailed
	Summary   string   `json:"summary"`
	Artifacts []string `json:"artifacts,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ReviewVerdict is the reviewer's decision for one subtask in a batch.
type ReviewVerdict string

const (
	VerdictAccept   ReviewVerdict = "accept"
	VerdictRevise   ReviewVerdict = "revise"
	VerdictReassign ReviewVerdict = "reassign"
)

// ReviewDecision is one entry of the orchestrator review phase's parsed
// output.
type ReviewDecision struct {
	SubtaskID string        `json:"subtask_id"`
	Verdict   ReviewVerdict `json:"verdict"`
	Feedback  string        `json:"feedback,omitempty"`
}

// ProjectContext owns the subtask collection and the orchestrator's running
// conversation for one build.
type ProjectContext struct {
	ID              string
	RootDir         string
	TaskDescription string

	// order preserves insertion order; subtasks indexes by id. Both are
	// mutated only by the task manager.
	order    []string
	subtasks map[string]*Subtask

	OrchestratorMessages []Message

	ProjectFileTree string
	PlanningContext string

	CreatedAt time.Time
}

// NewProjectContext creates an empty context for a new build.
func NewProjectContext(id, rootDir, taskDescription string) *ProjectContext {
	return &ProjectContext{
		ID:              id,
		RootDir:         rootDir,
		TaskDescription: taskDescription,
		subtasks:        make(map[string]*Subtask),
		CreatedAt:       time.Now(),
	}
}

// Add registers a new subtask, preserving insertion order. It is the only
// way subtasks enter the context; they are never removed.
func (c *ProjectContext) Add(t *Subtask) {
	if _, exists := c.subtasks[t.ID]; exists {
		return
	}
	c.order = append(c.order, t.ID)
	c.subtasks[t.ID] = t
}

// Get returns the subtask for id, or nil if unknown.
func (c *ProjectContext) Get(id string) *Subtask {
	return c.subtasks[id]
}

// All returns subtasks in insertion order. The returned slice shares no
// backing array with the internal order slice beyond this call's snapshot.
func (c *ProjectContext) All() []*Subtask {
	out := make([]*Subtask, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.subtasks[id])
	}
	return out
}

// Len returns the number of subtasks registered so far.
func (c *ProjectContext) Len() int {
	return len(c.order)
}

// ByTitle returns the first subtask with an exact title match, or nil.
func (c *ProjectContext) ByTitle(title string) *Subtask {
	for _, id := range c.order {
		if c.subtasks[id].Title == title {
			return c.subtasks[id]
		}
	}
	return nil
}

// AllCompleted reports whether every registered subtask is completed.
// An empty context is vacuously not "all completed" — a
// build with zero subtasks never reaches this state because planning
// aborts on an empty plan.
func (c *ProjectContext) AllCompleted() bool {
	if len(c.order) == 0 {
		return false
	}
	for _, id := range c.order {
		if c.subtasks[id].Status != StatusCompleted {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any subtask has permanently failed (invariant
// 6): status failed and attempts at or beyond the cap. The cap is passed
// in rather than imported, since models has no config dependency.
func (c *ProjectContext) AnyFailed(maxAttempts int) bool {
	for _, id := range c.order {
		st := c.subtasks[id]
		if st.Status == StatusFailed && st.Attempts >= maxAttempts {
			return true
		}
	}
	return false
}
