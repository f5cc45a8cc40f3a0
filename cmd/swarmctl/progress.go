package main

import (
	"fmt"

	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/pkg/swarmapi"
)

// subscribeProgress prints a one-line trace of the build's major phases to
// stdout, in the bracket-tagged style the rest of this module's packages
// log with.
func subscribeProgress(engine *swarmapi.Engine) {
	engine.Subscribe(eventbus.TopicOrchestratorPhase, func(e eventbus.Event) {
		fmt.Printf("[orchestrator] %s\n", e.Message)
	})
	engine.Subscribe(eventbus.TopicOrchestratorPlan, func(e eventbus.Event) {
		fmt.Printf("[orchestrator] %s\n", e.Message)
	})
	engine.Subscribe(eventbus.TopicSubtaskAssigned, func(e eventbus.Event) {
		fmt.Printf("[subtask %s] assigned to worker %d\n", e.SubtaskID, e.WorkerID)
	})
	engine.Subscribe(eventbus.TopicSubtaskCompleted, func(e eventbus.Event) {
		fmt.Printf("[subtask %s] completed\n", e.SubtaskID)
	})
	engine.Subscribe(eventbus.TopicRateLimitWait, func(e eventbus.Event) {
		fmt.Printf("[rate-limit] %s\n", e.Message)
	})
	engine.Subscribe(eventbus.TopicProjectError, func(e eventbus.Event) {
		fmt.Printf("[error] %s\n", e.Message)
	})
	engine.Subscribe(eventbus.TopicTokensUpdate, func(e eventbus.Event) {
		fmt.Printf("[tokens] %d prompt + %d completion (est. $%.4f so far)\n",
			e.PromptTokens, e.CompletionTokens, e.CostUSD)
	})
}
