// Package swarmapi is the facade a CLI or any other caller drives builds
// through: it owns the wiring (credentials, rate limiters, the worker
// pool, the store) that internal/orchestrator deliberately stays ignorant
// of, and exposes Start/Resume/Continue plus a Subscribe hook for
// progress events. Grounded on the analogous
// internal/orchestrator/pool.go's OrchestratorPool: the same
// submit-and-track-by-id shape and per-submission construction of the
// pieces a single orchestrator run needs, generalized from a fixed
// Claude-runner-factory to this module's llm.Client/ratelimit.Limiter
// construction per worker slot.
package swarmapi

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/opencoder/swarm/internal/checkpoint"
	"github.com/opencoder/swarm/internal/config"
	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/internal/llm"
	"github.com/opencoder/swarm/internal/orchestrator"
	"github.com/opencoder/swarm/internal/ratelimit"
	"github.com/opencoder/swarm/internal/store"
	"github.com/opencoder/swarm/internal/tokens"
	"github.com/opencoder/swarm/internal/tools"
	"github.com/opencoder/swarm/internal/verify"
	"github.com/opencoder/swarm/internal/worker"
	"github.com/opencoder/swarm/pkg/models"
)

// Engine owns the shared infrastructure (token accountant, event bus,
// optional run-history store) behind every build it runs.
type Engine struct {
	cfg *config.Config
	bus *eventbus.Bus

	accountant *tokens.Accountant
	store      *store.DB
}

// New creates an Engine. st may be nil to disable the run-history audit
// trail entirely.
func New(cfg *config.Config, st *store.DB) *Engine {
	return &Engine{
		cfg:        cfg,
		bus:        eventbus.New(),
		accountant: tokens.New(nil),
		store:      st,
	}
}

// Subscribe registers handler for topic across every build this Engine
// runs.
func (e *Engine) Subscribe(topic eventbus.Topic, handler eventbus.Handler) {
	e.bus.Subscribe(topic, handler)
}

// Start begins a new build rooted at rootDir for the given task
// description and blocks until it reaches a terminal state.
func (e *Engine) Start(ctx context.Context, rootDir, taskDescription string) (*orchestrator.Result, error) {
	runID := uuid.NewString()
	pc := models.NewProjectContext(runID, rootDir, taskDescription)
	return e.run(ctx, pc, "")
}

// Resume loads rootDir's checkpoint, if any, and continues the build from
// wherever it left off. Returns an error if no checkpoint exists.
func (e *Engine) Resume(ctx context.Context, rootDir string) (*orchestrator.Result, error) {
	pc, ok, err := checkpoint.Load(rootDir)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no checkpoint found at %s", rootDir)
	}
	return e.run(ctx, pc, "")
}

// Continue loads rootDir's checkpoint and re-enters planning with
// changeRequest as the new work to plan.
func (e *Engine) Continue(ctx context.Context, rootDir, changeRequest string) (*orchestrator.Result, error) {
	pc, ok, err := checkpoint.Load(rootDir)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no checkpoint found at %s", rootDir)
	}
	return e.run(ctx, pc, changeRequest)
}

// run wires one orchestrator's client, verifier, worker pool, and store
// registration, then drives it to completion. changeRequest being
// non-empty selects continuation mode over a fresh/resumed Run.
func (e *Engine) run(ctx context.Context, pc *models.ProjectContext, changeRequest string) (*orchestrator.Result, error) {
	call := e.callConfig()

	orchLimiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent:   e.cfg.RateLimit.MaxConcurrent,
		MaxCallsPerHour: e.cfg.RateLimit.MaxCallsPerHour,
	}, e.bus, "orchestrator")
	orchClient := llm.New(orchLimiter, e.accountant, e.bus, call)

	verifier := verify.NewVerifier(orchClient, call, pc.RootDir)

	workers := make([]*worker.Worker, e.cfg.Orchestrator.MaxWorkers)
	for i := range workers {
		label := fmt.Sprintf("worker-%d", i)
		limiter := ratelimit.New(ratelimit.Config{
			MaxConcurrent:   e.cfg.RateLimit.MaxConcurrent,
			MaxCallsPerHour: e.cfg.RateLimit.MaxCallsPerHour,
		}, e.bus, label)
		client := llm.New(limiter, e.accountant, e.bus, call)
		registry := tools.DefaultRegistry(pc.RootDir)
		workerVerifier := verify.NewVerifier(client, call, pc.RootDir)
		workers[i] = worker.New(client, call, registry, e.bus, workerVerifier, worker.Config{
			Index:        i,
			ProjectRoot:  pc.RootDir,
			MaxToolLoops: e.cfg.Orchestrator.MaxToolLoops,
		})
	}

	orch := orchestrator.New(pc, orchClient, call, e.bus, verifier, e.store, workers, orchestrator.Config{
		MaxWorkers:       e.cfg.Orchestrator.MaxWorkers,
		MaxOrchIter:      e.cfg.Orchestrator.MaxOrchIter,
		MaxAttempts:      e.cfg.Orchestrator.MaxAttempts,
		MaxContextTokens: e.cfg.Orchestrator.MaxContextTokens,
	})

	if tree, scanErr := verify.NewAnalyzer(pc.RootDir).Scan(); scanErr == nil {
		orch.SetFileTree(tree.Render())
	} else {
		e.bus.Emit(eventbus.TopicProjectError, eventbus.Event{Message: fmt.Sprintf("project scan failed, planning without a file tree: %v", scanErr)})
	}

	if e.store != nil {
		if err := e.store.StartRun(pc.ID, pc.RootDir, pc.TaskDescription); err != nil {
			e.bus.Emit(eventbus.TopicProjectError, eventbus.Event{Message: fmt.Sprintf("start run record failed: %v", err)})
		}
	}

	var result *orchestrator.Result
	var err error
	if changeRequest != "" {
		result, err = orch.Continue(ctx, changeRequest)
	} else {
		result, err = orch.Run(ctx)
	}

	if e.store != nil {
		status := store.RunStatusDone
		if err != nil {
			status = store.RunStatusFailed
		}
		usage := e.accountant.Usage()
		if finishErr := e.store.FinishRun(pc.ID, status, usage.PromptTokens, usage.CompletionTokens); finishErr != nil {
			e.bus.Emit(eventbus.TopicProjectError, eventbus.Event{Message: fmt.Sprintf("finish run record failed: %v", finishErr)})
		}
	}

	if err == nil && result != nil && result.Status == "done" {
		if rmErr := checkpoint.Remove(pc.RootDir); rmErr != nil {
			e.bus.Emit(eventbus.TopicProjectError, eventbus.Event{Message: fmt.Sprintf("checkpoint cleanup failed: %v", rmErr)})
		}
	}

	return result, err
}

// callConfig resolves the LLM transport configuration for this Engine,
// preferring an AWS-derived bearer credential source when configured.
func (e *Engine) callConfig() llm.CallConfig {
	call := llm.CallConfig{Model: e.cfg.LLM.Model, BaseURL: e.cfg.LLM.BaseURL}
	if e.cfg.LLM.AWSRegion != "" || e.cfg.LLM.AWSProfile != "" {
		call.Credential = llm.NewAWSCredentialSource(e.cfg.LLM.AWSRegion, e.cfg.LLM.AWSProfile)
	} else if key, err := config.ResolveAPIKey(e.cfg); err == nil {
		call.Credential = llm.NewStaticCredentialSource(key)
	}
	return call
}

// StatusSummary returns a build's checkpointed subtask tally without
// running anything, for the CLI's status command.
func StatusSummary(rootDir string) (*checkpoint.Snapshot, error) {
	pc, ok, err := checkpoint.Load(rootDir)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no checkpoint found at %s", rootDir)
	}
	return &checkpoint.Snapshot{
		ProjectID:       pc.ID,
		RootDir:         pc.RootDir,
		TaskDescription: pc.TaskDescription,
		Subtasks:        pc.All(),
	}, nil
}
