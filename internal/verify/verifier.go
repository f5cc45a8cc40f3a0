package verify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/opencoder/swarm/internal/llm"
	"github.com/opencoder/swarm/pkg/models"
)

// Tier identifies which stage of the verification pipeline produced a
// Result.
type Tier int

const (
	TierBuild        Tier = 0
	TierArchitecture Tier = 1
	TierJudge        Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierBuild:
		return "build"
	case TierArchitecture:
		return "architecture"
	case TierJudge:
		return "judge"
	default:
		return "unknown"
	}
}

// buildTimeout bounds each individual build-tier command.
const buildTimeout = 2 * time.Minute

// maxDiffChars truncates large diffs before they're sent to the judge, to
// keep the review prompt within a reasonable budget.
const maxDiffChars = 50000

// Result is the outcome of one verification tier.
type Result struct {
	Passed   bool
	Tier     Tier
	Feedback string
}

// Verifier runs the build/architecture/judge verification pipeline against
// one project checkout. Grounded on the analogous api.Verifier, generalized
// from a fixed Anthropic call to the swarm's llm.Client and from a fixed
// Go-only build tier to buildCommandsFor's per-project-type command list.
type Verifier struct {
	client  *llm.Client
	cfg     llm.CallConfig
	workDir string
}

// NewVerifier creates a Verifier for workDir, using cfg to resolve the
// model/endpoint/credentials for its LLM-backed tiers.
func NewVerifier(client *llm.Client, cfg llm.CallConfig, workDir string) *Verifier {
	return &Verifier{client: client, cfg: cfg, workDir: workDir}
}

// Verify runs the full pipeline: build, then (if archDocs is non-empty)
// architecture compliance, then an LLM judge pass. Each tier short-circuits
// the pipeline on failure.
func (v *Verifier) Verify(ctx context.Context, archDocs string) (*Result, error) {
	if result := v.VerifyBuildOnly(ctx); !result.Passed {
		return result, nil
	}

	if archDocs != "" {
		result, err := v.verifyArchitecture(ctx, archDocs)
		if err != nil {
			return nil, err
		}
		if !result.Passed {
			return result, nil
		}
	}

	return v.verifyWithJudge(ctx)
}

// VerifyBuildOnly runs just the build tier, for callers that want a fast
// pass/fail without spending LLM calls.
func (v *Verifier) VerifyBuildOnly(ctx context.Context) *Result {
	commands := buildCommandsFor(v.workDir)
	if len(commands) == 0 {
		return &Result{Passed: true, Tier: TierBuild, Feedback: "no build commands detected for this project type"}
	}

	for _, c := range commands {
		cmdCtx, cancel := context.WithTimeout(ctx, buildTimeout)
		cmd := exec.CommandContext(cmdCtx, "bash", "-c", c.shell)
		cmd.Dir = v.workDir
		output, err := cmd.CombinedOutput()
		cancel()

		if err != nil {
			return &Result{
				Passed:   false,
				Tier:     TierBuild,
				Feedback: fmt.Sprintf("%s failed:\n%s", c.label, string(output)),
			}
		}
	}

	return &Result{Passed: true, Tier: TierBuild}
}

func (v *Verifier) verifyArchitecture(ctx context.Context, archDocs string) (*Result, error) {
	diff, ok := v.gitDiff(ctx)
	if !ok || diff == "" {
		return &Result{Passed: true, Tier: TierArchitecture}, nil
	}

	prompt := fmt.Sprintf(`You are reviewing code changes against architecture documentation.

## Architecture Documentation
%s

## Code Diff
%s

Check if the changes violate any architectural patterns or constraints documented above.

Respond with EXACTLY one of:
- PASS: Changes are consistent with architecture
- FAIL: [specific violations found]

Be strict but fair. Only flag actual violations, not style preferences.`, archDocs, diff)

	response, err := v.ask(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("architecture check: %w", err)
	}

	if strings.HasPrefix(response, "PASS") {
		return &Result{Passed: true, Tier: TierArchitecture}, nil
	}
	return &Result{Passed: false, Tier: TierArchitecture, Feedback: response}, nil
}

func (v *Verifier) verifyWithJudge(ctx context.Context) (*Result, error) {
	diff, ok := v.gitDiff(ctx)
	if !ok || diff == "" {
		return &Result{Passed: true, Tier: TierJudge}, nil
	}

	judgePrompt := fmt.Sprintf(`You are a Senior Staff Engineer and Principal Architect conducting a rigorous code review.

Your job is to be HYPER-CRITICAL. You are the last line of defense before code ships.
Find issues. Don't rubber-stamp changes.

## Review Criteria (ALL must pass)

1. Correctness: Does this actually solve the stated problem? Are there logic errors?
2. Edge Cases: What happens with nil, empty, zero, negative, very large values?
3. Error Handling: Are errors checked? Are they handled appropriately?
4. Security: injection, path traversal, data exposure?
5. Concurrency: race conditions, deadlocks, misused mutexes?
6. Performance: quadratic loops, unnecessary allocations?
7. Maintainability: readable, understandable in six months?
8. Testing: is this testable, are edge cases covered?

## Response Format

Respond with EXACTLY one of:
- APPROVED: [1-2 sentence summary of why it's acceptable]
- REJECTED: [numbered list of specific issues that MUST be fixed]

If you find ANY issue that could cause bugs, security problems, or significant maintenance burden, REJECT.

## Diff to Review

%s`, truncateDiff(diff))

	response, err := v.ask(ctx, judgePrompt)
	if err != nil {
		return nil, fmt.Errorf("judge review: %w", err)
	}

	if strings.HasPrefix(response, "APPROVED") {
		return &Result{Passed: true, Tier: TierJudge, Feedback: response}, nil
	}
	return &Result{Passed: false, Tier: TierJudge, Feedback: response}, nil
}

// CritiqueResult is one ralph-loop-style self-critique pass, used by the
// worker loop to decide whether to keep iterating on a subtask before
// handing it back to the orchestrator for review.
type CritiqueResult struct {
	Score    int
	Issues   string
	Done     bool
	Feedback string
}

// Critique asks the judge model to score the current working-tree diff
// against taskDescription and the worker's own prior summary of its
// progress.
func (v *Verifier) Critique(ctx context.Context, taskDescription, previousOutput string) (*CritiqueResult, error) {
	diff, _ := v.gitDiffAgainst(ctx, "HEAD")
	diffStr := truncateTo(diff, 30000)

	prompt := fmt.Sprintf(`You are a Senior Staff Engineer reviewing work on this task:

## Task
%s

## Previous Agent Output
%s

## Current Changes
%s

## Your Job

Review the implementation critically. Look for:
1. Does it actually accomplish the task?
2. Are there bugs or edge cases missed?
3. Is the code clean and maintainable?
4. Any security or performance issues?

## Response Format

Score: [0-100]
Issues:
- [Issue 1]
- [Issue 2]
Status: [NEEDS_WORK | LGTM]

If LGTM, the score should be 90+. Be honest but fair.`, taskDescription, previousOutput, diffStr)

	text, err := v.ask(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result := &CritiqueResult{
		Feedback: text,
		Done:     strings.Contains(text, "LGTM"),
	}
	if idx := strings.Index(text, "Score:"); idx >= 0 {
		fmt.Sscanf(text[idx:], "Score: %d", &result.Score)
	}
	if idx := strings.Index(text, "Issues:"); idx >= 0 {
		rest := text[idx+len("Issues:"):]
		if endIdx := strings.Index(rest, "Status:"); endIdx >= 0 {
			result.Issues = strings.TrimSpace(rest[:endIdx])
		} else {
			result.Issues = strings.TrimSpace(rest)
		}
	}
	return result, nil
}

// ask sends a single user-role prompt through the verifier's client and
// returns the assistant's text reply.
func (v *Verifier) ask(ctx context.Context, prompt string) (string, error) {
	result, err := v.client.Complete(ctx, v.cfg, []models.Message{models.User(prompt)}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Message.Content), nil
}

func (v *Verifier) gitDiff(ctx context.Context) (string, bool) {
	return v.gitDiffAgainst(ctx, "HEAD")
}

func (v *Verifier) gitDiffAgainst(ctx context.Context, ref string) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", "diff", ref, "--", ".")
	cmd.Dir = v.workDir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

func truncateDiff(diff string) string {
	return truncateTo(diff, maxDiffChars)
}

func truncateTo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
