package orchestrator

import (
	"fmt"
	"strings"

	"github.com/opencoder/swarm/pkg/models"
)

// planFormatInstructions is appended to the initial planning prompt and to
// the continuation/fix-up prompts that also ask for a plan, using the same
// format-and-guidelines structure in all three.
const planFormatInstructions = `Return ONLY a JSON array of subtasks with this exact structure (no other text):
[
  {
    "title": "Short subtask title",
    "description": "Detailed description of what to build",
    "dependencies": ["title of a dependency, or its 0-based index in this array"]
  }
]

Guidelines:
- Subtasks should be as independent as possible to allow parallel execution.
- Only add a dependency when one subtask's output is truly required by another.
- Each subtask should be completable by a single worker in one session.
- Use an empty array for dependencies if there are none.`

const reviewFormatInstructions = `Return ONLY a JSON array of decisions with this exact structure (no other text):
[
  {
    "subtask_id": "the subtask's id",
    "verdict": "accept" | "revise" | "reassign",
    "feedback": "required for revise and reassign, explaining what needs to change"
  }
]

Use "accept" when the work satisfies the subtask. Use "revise" when the same worker should try
again with your feedback. Use "reassign" when the work should move to a different worker without
counting against the subtask's retry budget.`

const finalReviewFormatInstructions = `Return ONLY JSON with this exact structure (no other text):
{
  "status": "done" | "needs_more",
  "summary": "a short summary of what was built",
  "additional_subtasks": [
    {"title": "...", "description": "...", "dependencies": []}
  ]
}

Use "done" only if the project fully satisfies the original task. Use "needs_more" and list the
missing work as additional_subtasks otherwise; additional_subtasks may be omitted when status is
"done".`

func (o *Orchestrator) planningPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break this task into parallelizable subtasks.\n\nTask:\n%s\n", o.pc.TaskDescription)
	if o.fileTree != "" {
		fmt.Fprintf(&b, "\nExisting project layout:\n%s\n", o.fileTree)
	}
	b.WriteString("\n")
	b.WriteString(planFormatInstructions)
	return b.String()
}

func (o *Orchestrator) continuationPrompt(changeRequest string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[CONTINUATION]\nChange request:\n%s\n\nCurrent project status:\n%s\n",
		changeRequest, formatStatusSummary(o.manager.GetStatusSummary()))
	if o.fileTree != "" {
		fmt.Fprintf(&b, "\nExisting project layout:\n%s\n", o.fileTree)
	}
	b.WriteString("\nBreak the change request into parallelizable subtasks.\n\n")
	b.WriteString(planFormatInstructions)
	return b.String()
}

func (o *Orchestrator) resumedMessage() string {
	return fmt.Sprintf("[RESUMED FROM CHECKPOINT]\nCurrent project status:\n%s", formatStatusSummary(o.manager.GetStatusSummary()))
}

func (o *Orchestrator) reviewPrompt(batch []*models.Subtask) string {
	var b strings.Builder
	b.WriteString("Review these subtask results from the latest batch:\n\n")
	for _, t := range batch {
		fmt.Fprintf(&b, "- id=%s %q (status: %s): %s\n", t.ID, t.Title, t.Status, truncate(t.Result, 1500))
		if len(t.Artifacts) > 0 {
			fmt.Fprintf(&b, "  artifacts: %s\n", strings.Join(t.Artifacts, ", "))
		}
	}
	b.WriteString("\nOverall status:\n")
	b.WriteString(formatStatusSummary(o.manager.GetStatusSummary()))
	b.WriteString("\n\n")
	b.WriteString(reviewFormatInstructions)
	return b.String()
}

func (o *Orchestrator) fixUpPrompt(tier, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verification failed at the %s tier:\n%s\n\nPropose subtasks to fix these errors.\n\n", tier, feedback)
	b.WriteString(planFormatInstructions)
	return b.String()
}

func (o *Orchestrator) finalReviewPrompt(verifierReport string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "All subtasks are complete.\n\nProject status:\n%s\n\nVerifier report:\n%s\n\n",
		formatStatusSummary(o.manager.GetStatusSummary()), verifierReport)
	b.WriteString(finalReviewFormatInstructions)
	return b.String()
}

func (o *Orchestrator) systemPrompt() string {
	return fmt.Sprintf(
		"You are the orchestrator coordinating a team of workers building the following project.\n\nTask:\n%s\n\nProject root: %s\n\nYou plan subtasks, review worker output, and decide when the project is done. Respond to every request with ONLY the JSON the prompt asks for.",
		o.pc.TaskDescription, o.pc.RootDir,
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
