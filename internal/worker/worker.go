// Package worker drives one subtask to completion through a bounded
// tool-calling loop against the LLM. It is grounded in the analogous
// AgentLoop.Run (internal/api/loop.go): the "no tool calls means the turn
// is done" check, the per-iteration tool dispatch and tool-result
// message append, and the iteration cap — adapted from the Anthropic
// message-block shape to the tagged internal/llm.Client/models.Message
// transport the rest of this module speaks.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/internal/llm"
	"github.com/opencoder/swarm/internal/tools"
	"github.com/opencoder/swarm/internal/verify"
	"github.com/opencoder/swarm/pkg/models"
)

// DefaultMaxToolLoops is the worker loop budget: up to this many
// tool-calling iterations before a subtask is failed as max_iterations.
const DefaultMaxToolLoops = 20

// artifactProducingTools names the tool calls whose "path" argument is
// recorded as an artifact when the call succeeds, since artifacts are
// derived from what a tool actually touched rather than self-reported by
// the model.
var artifactProducingTools = map[string]bool{
	"write_file": true,
	"patch_file": true,
}

// Config configures one Worker. Every worker runs against its own
// llm.Client, constructed with its own ratelimit.Limiter so concurrent
// workers do not starve each other, but sharing the orchestrator's token
// accountant and event bus.
type Config struct {
	Index        int
	ProjectRoot  string
	MaxToolLoops int
	Limitations  string
}

// Worker runs the tool-calling loop for one subtask at a time.
type Worker struct {
	client   *llm.Client
	call     llm.CallConfig
	registry *tools.Registry
	bus      *eventbus.Bus
	verifier *verify.Verifier
	cfg      Config
}

// New creates a Worker. registry should be rooted at cfg.ProjectRoot
// (internal/tools.DefaultRegistry) and is reused across every subtask this
// worker runs. verifier may be nil, in which case a worker's final answer is
// taken at face value with no self-critique pass.
func New(client *llm.Client, call llm.CallConfig, registry *tools.Registry, bus *eventbus.Bus, verifier *verify.Verifier, cfg Config) *Worker {
	if cfg.MaxToolLoops <= 0 {
		cfg.MaxToolLoops = DefaultMaxToolLoops
	}
	return &Worker{client: client, call: call, registry: registry, bus: bus, verifier: verifier, cfg: cfg}
}

// Sibling summarizes an already-completed subtask for inclusion in a
// later worker's prompt: a compressed title, summary, and artifact list.
type Sibling struct {
	Title     string
	Summary   string
	Artifacts []string
}

// Input bundles the per-run context a Worker needs to build its initial
// messages, kept separate from models.Subtask so this package never
// reaches into internal/task.Manager directly.
type Input struct {
	SubtaskID   string
	Title       string
	Description string
	Feedback    string
	FileTree    string
	Siblings    []Sibling
}

// Run drives in.SubtaskID to completion or failure. It never returns a Go
// error; every outcome, including loop exhaustion and transport failure,
// is folded into the returned WorkerResult.
func (w *Worker) Run(ctx context.Context, in Input) models.WorkerResult {
	messages := []models.Message{
		models.System(w.systemPrompt()),
		models.User(w.userPrompt(in)),
	}

	var artifacts []string
	catalog := w.registry.Catalog()

	for iter := 0; iter < w.cfg.MaxToolLoops; iter++ {
		result, err := w.client.CompleteStream(ctx, w.call, messages, catalog, func(chunk string) {
			w.emit(eventbus.TopicWorkerToken, in.SubtaskID, chunk)
		})
		if err != nil {
			return models.WorkerResult{SubtaskID: in.SubtaskID, Status: models.StatusFailed, Artifacts: artifacts, Error: err.Error()}
		}

		if len(result.Message.ToolCalls) == 0 {
			if w.verifier != nil && iter < w.cfg.MaxToolLoops-1 {
				critique, err := w.verifier.Critique(ctx, in.Description, result.Message.Content)
				if err == nil && !critique.Done {
					w.emit(eventbus.TopicSubtaskProgress, in.SubtaskID, "self-critique: needs more work")
					messages = append(messages, result.Message)
					messages = append(messages, models.User(fmt.Sprintf(
						"A self-critique pass found issues with this work; address them before finishing.\n\n%s",
						critique.Issues,
					)))
					continue
				}
			}
			return models.WorkerResult{
				SubtaskID: in.SubtaskID,
				Status:    models.StatusCompleted,
				Summary:   result.Message.Content,
				Artifacts: artifacts,
			}
		}

		messages = append(messages, result.Message)

		for _, call := range result.Message.ToolCalls {
			w.emit(eventbus.TopicSubtaskProgress, in.SubtaskID, "tool: "+call.Name)

			text, isError := w.registry.Dispatch(ctx, call)
			if isError {
				// Retry once transparently; if the retry also fails, the
				// second error text becomes the tool result so the model
				// can recover on its own.
				text, isError = w.registry.Dispatch(ctx, call)
			}
			if !isError && artifactProducingTools[call.Name] {
				if path := argPath(call.Arguments); path != "" {
					artifacts = append(artifacts, path)
					w.emit(eventbus.TopicFileWritten, in.SubtaskID, path)
				}
			}

			messages = append(messages, models.Tool(call.ID, text))
		}
	}

	return models.WorkerResult{
		SubtaskID: in.SubtaskID,
		Status:    models.StatusFailed,
		Artifacts: artifacts,
		Error:     "max_iterations",
	}
}

func (w *Worker) emit(topic eventbus.Topic, subtaskID, message string) {
	if w.bus == nil {
		return
	}
	w.bus.Emit(topic, eventbus.Event{SubtaskID: subtaskID, WorkerID: w.cfg.Index, Message: message})
}

func argPath(raw json.RawMessage) string {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return ""
	}
	return args.Path
}

func (w *Worker) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are worker %d in a multi-agent build. Project root: %s\n\n", w.cfg.Index, w.cfg.ProjectRoot)
	b.WriteString("Use the available tools to read and modify files, run allow-listed commands, and query the project's scratch database as needed. ")
	b.WriteString("Make every file path relative to the project root. Stop calling tools and reply with plain text once the subtask is done; ")
	b.WriteString("that final text becomes your summary of what you did.\n")
	if w.cfg.Limitations != "" {
		b.WriteString("\nKnown limitations from earlier attempts:\n")
		b.WriteString(w.cfg.Limitations)
		b.WriteString("\n")
	}
	return b.String()
}

func (w *Worker) userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Subtask: %s\n\n%s\n", in.Title, in.Description)

	if in.Feedback != "" {
		fmt.Fprintf(&b, "\n## Reviewer feedback from a previous attempt\n%s\n", in.Feedback)
	}

	if in.FileTree != "" {
		fmt.Fprintf(&b, "\n## Project file tree\n%s\n", in.FileTree)
	}

	if len(in.Siblings) > 0 {
		b.WriteString("\n## Already-completed related subtasks\n")
		for _, s := range in.Siblings {
			fmt.Fprintf(&b, "- %s: %s", s.Title, s.Summary)
			if len(s.Artifacts) > 0 {
				fmt.Fprintf(&b, " (artifacts: %s)", strings.Join(s.Artifacts, ", "))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
