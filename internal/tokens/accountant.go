// Package tokens tracks prompt/completion token usage across an entire
// build: a running total plus a tokens:update event on every call
// recorded.
package tokens

import (
	"sync"

	"github.com/opencoder/swarm/internal/eventbus"
)

// modelPricing gives one model's per-million-token USD rate.
type modelPricing struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// pricingTable covers the models this module's default configuration
// points at. An unlisted model falls back to defaultPricing rather than
// silently reporting zero cost.
var pricingTable = map[string]modelPricing{
	"gpt-4o":            {PromptPerMillion: 2.50, CompletionPerMillion: 10.00},
	"gpt-4o-mini":       {PromptPerMillion: 0.15, CompletionPerMillion: 0.60},
	"claude-3-5-sonnet": {PromptPerMillion: 3.00, CompletionPerMillion: 15.00},
	"claude-3-5-haiku":  {PromptPerMillion: 0.80, CompletionPerMillion: 4.00},
	"claude-3-opus":     {PromptPerMillion: 15.00, CompletionPerMillion: 75.00},
}

// defaultPricing is used for a model absent from pricingTable, priced at
// the middle-tier rate so an unrecognized model's cost estimate is in the
// right order of magnitude rather than zero.
var defaultPricing = modelPricing{PromptPerMillion: 3.00, CompletionPerMillion: 15.00}

// Usage is a snapshot of accumulated token counts, call count, and
// estimated USD cost.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	CallCount        int64
	CostUSD          float64
}

// Total returns the sum of prompt and completion tokens.
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Accountant aggregates token usage across every LLM call in a build and
// broadcasts each update on the event bus.
type Accountant struct {
	mu    sync.Mutex
	usage Usage
	bus   *eventbus.Bus
}

// New creates an Accountant. bus may be nil to disable event emission.
func New(bus *eventbus.Bus) *Accountant {
	return &Accountant{bus: bus}
}

// Record adds one call's token counts to the running total, increments the
// call count, accrues an estimated cost for model, and emits tokens:update
// with the new cumulative totals.
func (a *Accountant) Record(model string, promptTokens, completionTokens int64) {
	pricing, ok := pricingTable[model]
	if !ok {
		pricing = defaultPricing
	}
	cost := float64(promptTokens)*pricing.PromptPerMillion/1_000_000 +
		float64(completionTokens)*pricing.CompletionPerMillion/1_000_000

	a.mu.Lock()
	a.usage.PromptTokens += promptTokens
	a.usage.CompletionTokens += completionTokens
	a.usage.CallCount++
	a.usage.CostUSD += cost
	snapshot := a.usage
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Emit(eventbus.TopicTokensUpdate, eventbus.Event{
			PromptTokens:     snapshot.PromptTokens,
			CompletionTokens: snapshot.CompletionTokens,
			CostUSD:          snapshot.CostUSD,
		})
	}
}

// Usage returns the current cumulative totals.
func (a *Accountant) Usage() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Cost returns the current cumulative estimated USD cost across every
// model this Accountant has recorded calls for. It is an estimate for the
// status summary and progress events, not a billing-accurate figure.
func (a *Accountant) Cost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage.CostUSD
}

// Reset zeroes the running totals, for reuse across independent builds
// within the same process.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = Usage{}
}
