package task

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/pkg/models"
)

// Manager owns a ProjectContext's subtasks and the Graph that tracks their
// dependency readiness, applying the mutation rules for planning, dispatch
// results, and review decisions.
type Manager struct {
	ctx         *models.ProjectContext
	graph       *Graph
	maxAttempts int
	bus         *eventbus.Bus
}

// New creates a Manager over an existing project context. bus may be nil.
func New(ctx *models.ProjectContext, maxAttempts int, bus *eventbus.Bus) *Manager {
	return &Manager{
		ctx:         ctx,
		graph:       NewGraph(),
		maxAttempts: maxAttempts,
		bus:         bus,
	}
}

// AddSubtasksFromPlan resolves a planner's dependency tokens to concrete
// subtask ids and registers the new subtasks. Each dependency token is
// resolved in order: (1) the exact id of a subtask already in the context,
// (2) an exact title match within this same plan call, (3) an exact title
// match against subtasks already in the context, (4) a 0-based index into
// the subtasks created by this same plan call. A token
// that matches none of these is dropped rather than rejected, so a model
// that names a dependency loosely (or gets an ordinal slightly wrong) still
// gets a runnable plan instead of an aborted one. Subtasks are registered
// as graph nodes before any dependency edges are wired, so an early
// subtask may depend on one declared later in the same plan.
func (m *Manager) AddSubtasksFromPlan(planned []models.PlannedSubtask) ([]*models.Subtask, error) {
	created := make([]*models.Subtask, len(planned))
	for i, p := range planned {
		created[i] = &models.Subtask{
			ID:          uuid.NewString(),
			Title:       p.Title,
			Description: p.Description,
			Status:      models.StatusPending,
		}
	}

	for i, p := range planned {
		for _, token := range p.Dependencies {
			depID, ok := m.resolveDependencyToken(token, created)
			if !ok {
				continue
			}
			created[i].Dependencies = append(created[i].Dependencies, depID)
		}
	}

	for _, t := range created {
		m.ctx.Add(t)
		m.graph.AddNode(t)
	}
	for _, t := range created {
		if err := m.graph.AddEdges(t.ID, t.Dependencies); err != nil {
			return nil, err
		}
	}

	return created, nil
}

// resolveDependencyToken implements the resolution order described on
// AddSubtasksFromPlan. The bool return is false when token matches
// nothing, telling the caller to drop it.
func (m *Manager) resolveDependencyToken(token string, batch []*models.Subtask) (string, bool) {
	// An exact existing subtask id is checked first: ids are
	// system-generated UUIDs, so this tier can never shadow a title or
	// ordinal a model actually meant.
	if existing := m.ctx.Get(token); existing != nil {
		return existing.ID, true
	}

	for _, t := range batch {
		if t.Title == token {
			return t.ID, true
		}
	}
	if existing := m.ctx.ByTitle(token); existing != nil {
		return existing.ID, true
	}

	var idx int
	if n, err := fmt.Sscanf(token, "%d", &idx); err == nil && n == 1 && idx >= 0 && idx < len(batch) {
		return batch[idx].ID, true
	}

	return "", false
}

// GetReadySubtasks returns subtasks whose dependencies are all satisfied
// and which have not started (or need re-dispatch after a revise verdict).
func (m *Manager) GetReadySubtasks() []*models.Subtask {
	ids := m.graph.GetReady()
	out := make([]*models.Subtask, 0, len(ids))
	for _, id := range ids {
		if t := m.ctx.Get(id); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// MarkDispatched transitions a subtask to in_progress and increments its
// attempt counter. Attempts is monotonic non-decreasing for the life of the
// subtask.
func (m *Manager) MarkDispatched(id string, workerID int) {
	t := m.ctx.Get(id)
	if t == nil {
		return
	}
	t.Status = models.StatusInProgress
	t.Attempts++
	w := workerID
	t.AssignedWorker = &w

	if m.bus != nil {
		m.bus.Emit(eventbus.TopicSubtaskAssigned, eventbus.Event{SubtaskID: id, WorkerID: workerID})
	}
}

// ApplyWorkerResult folds a worker's outcome back into its subtask. A
// failed result that has not yet exhausted the configured attempt cap is returned to
// pending so it re-enters GetReadySubtasks; once attempts reach the cap the
// subtask is pinned to failed regardless of further retries.
func (m *Manager) ApplyWorkerResult(r models.WorkerResult) {
	t := m.ctx.Get(r.SubtaskID)
	if t == nil {
		return
	}

	t.Result = models.TruncateResult(r.Summary)
	t.AppendArtifacts(r.Artifacts...)

	switch r.Status {
	case models.StatusCompleted:
		t.Status = models.StatusCompleted
		t.Feedback = ""
		m.graph.MarkComplete(t.ID)
		if m.bus != nil {
			m.bus.Emit(eventbus.TopicSubtaskCompleted, eventbus.Event{SubtaskID: t.ID})
		}
	default:
		t.Feedback = r.Error
		if t.Attempts >= m.maxAttempts {
			t.Status = models.StatusFailed
		} else {
			t.Status = models.StatusPending
		}
	}
}

// ApplyReviewDecisions folds the orchestrator review phase's verdicts back
// into the affected subtasks. Accept marks the subtask completed (even if
// the worker itself reported success already, this is idempotent);
// revise returns it to pending carrying the reviewer's feedback for the
// next attempt; reassign clears AssignedWorker and also returns the
// subtask to pending, after which dispatch assigns a worker by the
// subtask's position in its ready batch (possibly the same worker again).
func (m *Manager) ApplyReviewDecisions(decisions []models.ReviewDecision) {
	for _, d := range decisions {
		t := m.ctx.Get(d.SubtaskID)
		if t == nil {
			continue
		}

		switch d.Verdict {
		case models.VerdictAccept:
			t.Status = models.StatusCompleted
			t.Feedback = ""
			m.graph.MarkComplete(t.ID)
			if m.bus != nil {
				m.bus.Emit(eventbus.TopicSubtaskCompleted, eventbus.Event{SubtaskID: t.ID})
			}
		case models.VerdictRevise:
			t.Feedback = d.Feedback
			t.Attempts++
			if t.Attempts >= m.maxAttempts {
				t.Status = models.StatusFailed
			} else {
				t.Status = models.StatusPending
			}
		case models.VerdictReassign:
			t.Feedback = d.Feedback
			t.AssignedWorker = nil
			if t.Attempts >= m.maxAttempts {
				t.Status = models.StatusFailed
			} else {
				t.Status = models.StatusPending
			}
		}

		if t.Status != models.StatusCompleted {
			// Drop any completion the graph recorded from the worker's
			// result, so a revised or reassigned subtask becomes ready again.
			m.graph.mu.Lock()
			delete(m.graph.completed, t.ID)
			m.graph.mu.Unlock()
		}
	}
}

// StatusSummary is a point-in-time tally of subtasks by status.
type StatusSummary struct {
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Total      int
}

// GetStatusSummary tallies every subtask in the context by status.
func (m *Manager) GetStatusSummary() StatusSummary {
	var s StatusSummary
	for _, t := range m.ctx.All() {
		s.Total++
		switch t.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusInProgress:
			s.InProgress++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Graph exposes the underlying dependency graph, mainly for diagnostics and
// tests that want to assert on readiness directly.
func (m *Manager) Graph() *Graph {
	return m.graph
}
