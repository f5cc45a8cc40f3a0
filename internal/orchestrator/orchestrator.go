// Package orchestrator drives one build end to end: it plans subtasks,
// dispatches ready ones to a fixed pool of workers, reviews their output,
// verifies the result, and decides when the project is done, iterating
// over this module's subtask DAG (internal/task) until nothing is left
// to dispatch.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/opencoder/swarm/internal/checkpoint"
	"github.com/opencoder/swarm/internal/contextmgr"
	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/internal/llm"
	"github.com/opencoder/swarm/internal/salvage"
	"github.com/opencoder/swarm/internal/store"
	"github.com/opencoder/swarm/internal/task"
	"github.com/opencoder/swarm/internal/verify"
	"github.com/opencoder/swarm/internal/worker"
	"github.com/opencoder/swarm/pkg/models"
)

// askRetries is the number of extra attempts askOrchestrator makes when
// the reply is empty or not parseable as JSON.
const askRetries = 2

// Config bounds one Orchestrator's run.
type Config struct {
	// MaxWorkers caps how many ready subtasks are dispatched in one batch.
	MaxWorkers int
	// MaxOrchIter caps the main loop before it gives up and leaves a
	// resumable checkpoint on disk.
	MaxOrchIter int
	// MaxAttempts is the per-subtask retry cap handed to internal/task.
	MaxAttempts int
	// MaxContextTokens sizes the orchestrator conversation's character
	// budget (contextmgr.New) and the point at which a 50%-of-budget
	// warning is surfaced.
	MaxContextTokens int
}

// DefaultConfig returns the bounds a build uses when Config is left zero.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:       3,
		MaxOrchIter:      50,
		MaxAttempts:      3,
		MaxContextTokens: 20000,
	}
}

// Result is what Run/Continue return on a terminal, non-error outcome.
type Result struct {
	// Status is "done" or "max_iterations".
	Status  string
	Summary string
}

// Orchestrator owns one build's project context, dependency graph, worker
// pool, and LLM conversation.
type Orchestrator struct {
	pc      *models.ProjectContext
	manager *task.Manager

	client *llm.Client
	call   llm.CallConfig

	bus      *eventbus.Bus
	ctxmgr   *contextmgr.Manager
	verifier *verify.Verifier
	store    *store.DB

	workers  []*worker.Worker
	fileTree string

	cfg Config
}

// New creates an Orchestrator. workers must have at least one entry to make
// progress; each batch's subtasks are dispatched to workers by index
// modulo len(workers), against a fixed pool rather than spawning a new
// worker per batch. store may be nil to disable the run-history audit
// trail.
func New(pc *models.ProjectContext, client *llm.Client, call llm.CallConfig, bus *eventbus.Bus, verifier *verify.Verifier, st *store.DB, workers []*worker.Worker, cfg Config) *Orchestrator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.MaxOrchIter <= 0 {
		cfg.MaxOrchIter = DefaultConfig().MaxOrchIter
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultConfig().MaxContextTokens
	}

	return &Orchestrator{
		pc:       pc,
		manager:  task.New(pc, cfg.MaxAttempts, bus),
		client:   client,
		call:     call,
		bus:      bus,
		ctxmgr:   contextmgr.New(cfg.MaxContextTokens, client),
		verifier: verifier,
		store:    st,
		workers:  workers,
		cfg:      cfg,
	}
}

// SetFileTree supplies the project-analyzer output (internal/verify.Tree,
// rendered) that gets injected into the planning prompt. Callers that
// skip analysis (or are resuming) leave this unset.
func (o *Orchestrator) SetFileTree(tree string) {
	o.fileTree = tree
}

// Run starts or resumes a build. If pc already carries subtasks (loaded
// from a checkpoint), planning is skipped and a resumed-from-checkpoint
// message seeds the conversation instead.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if o.pc.Len() > 0 {
		o.pc.OrchestratorMessages = append(o.pc.OrchestratorMessages, models.User(o.resumedMessage()))
	} else {
		o.pc.OrchestratorMessages = []models.Message{models.System(o.systemPrompt())}
		if err := o.plan(ctx, o.planningPrompt()); err != nil {
			return nil, err
		}
	}
	return o.mainLoop(ctx)
}

// Continue re-enters planning with a change request: a fresh
// orchestrator system prompt, a "[CONTINUATION]" message carrying the
// change request and current status, then a new planning pass whose
// subtasks run alongside whatever is already completed.
func (o *Orchestrator) Continue(ctx context.Context, changeRequest string) (*Result, error) {
	o.pc.OrchestratorMessages = []models.Message{models.System(o.systemPrompt())}
	if err := o.plan(ctx, o.continuationPrompt(changeRequest)); err != nil {
		return nil, err
	}
	return o.mainLoop(ctx)
}

// plan sends prompt via askOrchestrator, extracts a subtask list with the
// JSON salvager, and registers it. Used by both Run's initial planning and
// Continue's re-planning. If extraction fails or produces zero subtasks,
// it aborts with an error.
func (o *Orchestrator) plan(ctx context.Context, prompt string) error {
	reply, err := o.askOrchestrator(ctx, prompt)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}

	var planned []models.PlannedSubtask
	if !salvage.ExtractInto(reply, &planned) || len(planned) == 0 {
		return fmt.Errorf("planning: could not extract a non-empty subtask plan from the orchestrator's reply")
	}

	if _, err := o.manager.AddSubtasksFromPlan(planned); err != nil {
		return fmt.Errorf("planning: %w", err)
	}

	if o.bus != nil {
		o.bus.Emit(eventbus.TopicOrchestratorPlan, eventbus.Event{Message: fmt.Sprintf("planned %d subtasks", len(planned))})
	}
	return nil
}

// mainLoop runs the build to completion: dispatch ready subtasks, review, verify, repeat.
func (o *Orchestrator) mainLoop(ctx context.Context) (*Result, error) {
	for iter := 0; iter < o.cfg.MaxOrchIter; iter++ {
		if o.bus != nil {
			o.bus.Emit(eventbus.TopicIteration, eventbus.Event{Iteration: iter})
		}

		ready := o.manager.GetReadySubtasks()
		switch {
		case len(ready) > 0:
			if err := o.dispatchAndReview(ctx, ready); err != nil {
				return nil, err
			}

		case o.pc.AllCompleted():
			result, err := o.verifyAndFinalize(ctx)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
			// result == nil means the verifier or final review added more
			// subtasks; fall through to the next iteration.

		case o.pc.AnyFailed(o.cfg.MaxAttempts):
			return nil, fmt.Errorf("build terminated: a subtask exhausted its %d-attempt retry budget", o.cfg.MaxAttempts)

		default:
			return nil, fmt.Errorf("build deadlocked: no subtask is ready, none have failed, and the project is not complete")
		}

		if o.overHalfContextBudget() && o.bus != nil {
			o.bus.Emit(eventbus.TopicOrchestratorPhase, eventbus.Event{Message: "orchestrator conversation over 50% of its context budget"})
		}
	}

	if o.bus != nil {
		o.bus.Emit(eventbus.TopicOrchestratorPhase, eventbus.Event{Message: "max orchestrator iterations reached"})
	}
	return &Result{Status: "max_iterations"}, nil
}

// dispatchAndReview runs one batch: mark up to MaxWorkers ready subtasks
// in_progress, run their workers concurrently, apply every result, then
// send the batch through the orchestrator's review pass.
func (o *Orchestrator) dispatchAndReview(ctx context.Context, ready []*models.Subtask) error {
	batch := ready
	if len(batch) > o.cfg.MaxWorkers {
		batch = batch[:o.cfg.MaxWorkers]
	}

	results := o.dispatch(ctx, batch)
	for _, r := range results {
		o.manager.ApplyWorkerResult(r)
		o.checkpointAndRecord(o.pc.Get(r.SubtaskID))
	}

	return o.review(ctx, batch)
}

// dispatch launches one worker goroutine per subtask in batch and waits
// for all of them to settle, collecting every result regardless of order
// (workers run concurrently; results are not order-dependent).
func (o *Orchestrator) dispatch(ctx context.Context, batch []*models.Subtask) []models.WorkerResult {
	results := make([]models.WorkerResult, len(batch))

	var wg sync.WaitGroup
	for i, t := range batch {
		workerIdx := 0
		if len(o.workers) > 0 {
			workerIdx = i % len(o.workers)
		}
		o.manager.MarkDispatched(t.ID, workerIdx)

		wg.Add(1)
		go func(i int, t *models.Subtask, workerIdx int) {
			defer wg.Done()
			defer func() {
				// A worker that panics instead of returning is folded into
				// a failed WorkerResult rather than crashing the whole
				// batch.
				if rec := recover(); rec != nil {
					results[i] = models.WorkerResult{SubtaskID: t.ID, Status: models.StatusFailed, Error: fmt.Sprintf("worker panic: %v", rec)}
				}
			}()

			in := worker.Input{
				SubtaskID:   t.ID,
				Title:       t.Title,
				Description: t.Description,
				Feedback:    t.Feedback,
				FileTree:    o.fileTree,
				Siblings:    o.siblingSummaries(t.ID),
			}
			results[i] = o.workers[workerIdx].Run(ctx, in)
		}(i, t, workerIdx)
	}
	wg.Wait()

	return results
}

// siblingSummaries collects every already-completed subtask other than
// excludeID, compressed to the shape a worker's prompt needs: a title, a
// summary, and the artifacts it produced.
func (o *Orchestrator) siblingSummaries(excludeID string) []worker.Sibling {
	var out []worker.Sibling
	for _, t := range o.pc.All() {
		if t.ID == excludeID || t.Status != models.StatusCompleted {
			continue
		}
		out = append(out, worker.Sibling{Title: t.Title, Summary: t.Result, Artifacts: t.Artifacts})
	}
	return out
}

// review sends the orchestrator LLM a review prompt for batch, applies its
// decisions, and checkpoints again.
func (o *Orchestrator) review(ctx context.Context, batch []*models.Subtask) error {
	current := make([]*models.Subtask, len(batch))
	for i, t := range batch {
		current[i] = o.pc.Get(t.ID)
	}

	reply, err := o.askOrchestrator(ctx, o.reviewPrompt(current))
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}

	var decisions []models.ReviewDecision
	if !salvage.ExtractInto(reply, &decisions) {
		// Worker results are already applied; an unparseable review reply
		// just means no overrides happen this round, not a fatal error.
		return nil
	}

	o.manager.ApplyReviewDecisions(decisions)
	if o.bus != nil {
		o.bus.Emit(eventbus.TopicOrchestratorReview, eventbus.Event{Message: fmt.Sprintf("%d review decisions applied", len(decisions))})
	}

	for _, t := range current {
		o.checkpointAndRecord(o.pc.Get(t.ID))
	}
	return nil
}

// verifyAndFinalize runs the external verifier and, if it passes, the
// final-review prompt. It returns a non-nil Result when the build should
// stop (done), nil with no error when more subtasks were added and the
// main loop should continue, or an error on an unrecoverable failure.
func (o *Orchestrator) verifyAndFinalize(ctx context.Context) (*Result, error) {
	vr, err := o.verifier.Verify(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("verification: %w", err)
	}

	if !vr.Passed {
		reply, err := o.askOrchestrator(ctx, o.fixUpPrompt(vr.Tier.String(), vr.Feedback))
		if err != nil {
			return nil, fmt.Errorf("verification fix-up: %w", err)
		}

		var planned []models.PlannedSubtask
		if !salvage.ExtractInto(reply, &planned) || len(planned) == 0 {
			return nil, fmt.Errorf("verification failed at the %s tier and no fix-up plan could be extracted: %s", vr.Tier, vr.Feedback)
		}
		if _, err := o.manager.AddSubtasksFromPlan(planned); err != nil {
			return nil, fmt.Errorf("verification fix-up: %w", err)
		}
		return nil, nil
	}

	reply, err := o.askOrchestrator(ctx, o.finalReviewPrompt(vr.Feedback))
	if err != nil {
		return nil, fmt.Errorf("final review: %w", err)
	}

	var final struct {
		Status             string                   `json:"status"`
		Summary            string                   `json:"summary"`
		AdditionalSubtasks []models.PlannedSubtask `json:"additional_subtasks,omitempty"`
	}
	if !salvage.ExtractInto(reply, &final) {
		return nil, fmt.Errorf("final review: could not parse the orchestrator's reply")
	}

	if final.Status == "needs_more" {
		if len(final.AdditionalSubtasks) == 0 {
			return nil, fmt.Errorf("final review reported needs_more but proposed no additional subtasks")
		}
		if _, err := o.manager.AddSubtasksFromPlan(final.AdditionalSubtasks); err != nil {
			return nil, fmt.Errorf("final review: %w", err)
		}
		return nil, nil
	}

	if o.bus != nil {
		o.bus.Emit(eventbus.TopicProjectDone, eventbus.Event{Message: final.Summary})
	}
	return &Result{Status: "done", Summary: final.Summary}, nil
}

// askOrchestrator appends the new user message, compacts the conversation
// if it has grown too large, calls the LLM, retries with a reminder if
// the reply is empty or unparseable, and always appends the final
// assistant reply before returning.
func (o *Orchestrator) askOrchestrator(ctx context.Context, userMessage string) (string, error) {
	o.pc.OrchestratorMessages = append(o.pc.OrchestratorMessages, models.User(userMessage))
	o.pc.OrchestratorMessages = o.ctxmgr.Compact(ctx, o.pc.OrchestratorMessages)

	var reply string
	for attempt := 0; ; attempt++ {
		result, err := o.client.CompleteStream(ctx, o.call, o.pc.OrchestratorMessages, nil, nil)
		if err != nil {
			return "", err
		}
		reply = result.Message.Content

		if isParseableJSON(reply) {
			break
		}
		if attempt >= askRetries {
			break
		}
		if o.bus != nil {
			o.bus.Emit(eventbus.TopicLLMRetry, eventbus.Event{Message: "orchestrator reply was not valid JSON, reminding and retrying"})
		}
		o.pc.OrchestratorMessages = append(o.pc.OrchestratorMessages, models.User("Your response was not valid JSON. Respond with ONLY valid JSON."))
	}

	o.pc.OrchestratorMessages = append(o.pc.OrchestratorMessages, models.Assistant(reply))
	return reply, nil
}

func isParseableJSON(reply string) bool {
	return reply != "" && salvage.Extract(reply) != salvage.Nothing
}

// checkpointAndRecord saves the project checkpoint and, if a store is
// configured, appends one audit row for t. Called side by side after
// every subtask mutation (worker result application and review decision
// application) rather than threading the store call through
// internal/checkpoint, keeping that package store-independent.
func (o *Orchestrator) checkpointAndRecord(t *models.Subtask) {
	if err := checkpoint.Save(o.pc); err != nil && o.bus != nil {
		o.bus.Emit(eventbus.TopicProjectError, eventbus.Event{Message: fmt.Sprintf("checkpoint save failed: %v", err)})
	}
	if o.store != nil && t != nil {
		if err := o.store.RecordSubtaskEvent(o.pc.ID, t); err != nil && o.bus != nil {
			o.bus.Emit(eventbus.TopicProjectError, eventbus.Event{Message: fmt.Sprintf("record subtask event failed: %v", err)})
		}
	}
}

// formatStatusSummary renders a task.StatusSummary for inclusion in a
// prompt, used by prompts.go's resumed/continuation/review/final-review
// messages.
func formatStatusSummary(s task.StatusSummary) string {
	return fmt.Sprintf("%d total, %d pending, %d in progress, %d completed, %d failed",
		s.Total, s.Pending, s.InProgress, s.Completed, s.Failed)
}

// overHalfContextBudget reports whether the orchestrator's own
// conversation exceeds half of its configured character budget, in which
// case the caller should surface a warning before continuing.
func (o *Orchestrator) overHalfContextBudget() bool {
	budgetChars := o.cfg.MaxContextTokens * contextmgr.CharsPerToken
	used := 0
	for _, m := range o.pc.OrchestratorMessages {
		used += len(m.Content)
	}
	return used > budgetChars/2
}
