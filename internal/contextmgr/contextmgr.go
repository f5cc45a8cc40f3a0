// Package contextmgr keeps an orchestrator or worker conversation within an
// approximate character budget, summarizing the middle of the transcript via
// the LLM when it grows too large. A worker's tool loop is bounded by its
// own iteration cap alone, so this package follows the truncation
// conventions common to long-running chat clients (keep the system message,
// truncate at a fixed character count) generalized into a budgeted,
// summarize-then-fallback-to-truncate strategy.
package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencoder/swarm/pkg/models"
)

// CharsPerToken is the rough ratio used to convert a token budget into a
// character budget (approximating 1 token ≈ 4 chars).
const CharsPerToken = 4

// KeepRecent is the number of most recent messages preserved verbatim,
// alongside the system message, when the transcript is compacted.
const KeepRecent = 6

// MaxTranscriptChars caps the rendered middle transcript handed to the
// summarizer, so a runaway conversation doesn't itself blow the token
// budget the summary call is supposed to protect.
const MaxTranscriptChars = 40000

// SummaryTag prefixes the message that replaces a compacted middle
// section, marking it for both the model and any transcript viewer as a
// synthetic recap rather than something a participant actually said.
const SummaryTag = "[CONTEXT SUMMARY]"

// Summarizer produces a condensed summary of a rendered transcript. It is
// satisfied by *llm.Client in production and by a fake in tests, keeping
// this package decoupled from the transport's retry/streaming concerns.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// renderTranscript flattens messages into "[role]: content" lines and caps
// the result at MaxTranscriptChars, keeping the tail (the most recent
// context) when the rendering overflows the cap.
func renderTranscript(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s]: %s\n", msg.Role, msg.Content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "[%s tool call]: %s(%s)\n", msg.Role, tc.Name, tc.Arguments)
		}
	}
	rendered := b.String()
	if len(rendered) > MaxTranscriptChars {
		rendered = rendered[len(rendered)-MaxTranscriptChars:]
	}
	return rendered
}

// Manager enforces a character budget over a conversation.
type Manager struct {
	budgetChars int
	summarizer  Summarizer
}

// New creates a Manager with a budget of maxTokens*CharsPerToken characters.
func New(maxTokens int, summarizer Summarizer) *Manager {
	return &Manager{
		budgetChars: maxTokens * CharsPerToken,
		summarizer:  summarizer,
	}
}

// Compact returns messages unchanged if they fit the budget. Otherwise it
// preserves the leading system message (if any) and the last KeepRecent
// messages verbatim, replacing everything in between with a single
// summary message produced by the Summarizer. If summarization fails, it
// falls back to silently dropping the middle messages instead.
func (m *Manager) Compact(ctx context.Context, messages []models.Message) []models.Message {
	if m.charCount(messages) <= m.budgetChars {
		return messages
	}

	systemIdx := -1
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		systemIdx = 0
	}

	keepFrom := len(messages) - KeepRecent
	if keepFrom < systemIdx+1 {
		keepFrom = systemIdx + 1
	}
	if keepFrom >= len(messages) {
		// Nothing to compact away; the budget overrun is entirely inside
		// the preserved tail.
		return messages
	}

	middleStart := systemIdx + 1
	middle := messages[middleStart:keepFrom]
	if len(middle) == 0 {
		return messages
	}

	var out []models.Message
	if systemIdx == 0 {
		out = append(out, messages[0])
	}

	summary, err := m.summarizer.Summarize(ctx, renderTranscript(middle))
	if err != nil || strings.TrimSpace(summary) == "" {
		// Silent truncation: drop the middle without a replacement.
		out = append(out, messages[keepFrom:]...)
		return out
	}

	out = append(out, models.User(SummaryTag+"\n"+summary))
	out = append(out, messages[keepFrom:]...)
	return out
}

// charCount sums the character length of every message's content and
// serialized tool calls, used as the cheap proxy for token count.
func (m *Manager) charCount(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) + len(tc.Arguments)
		}
	}
	return total
}
