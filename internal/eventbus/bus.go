// Package eventbus provides a process-wide, topic-keyed publish/subscribe
// primitive for progress events. Delivery to each subscriber happens
// synchronously, in subscription order, inside the Emit call: every
// subscriber has seen the event before Emit returns.
package eventbus

import (
	"sync"
	"time"
)

// Topic identifies the kind of event. The set is open — new topics can be
// emitted without registration — but the well-known ones used by this
// module are enumerated below.
type Topic string

const (
	TopicOrchestratorPhase  Topic = "orchestrator:phase"
	TopicOrchestratorPlan   Topic = "orchestrator:plan"
	TopicOrchestratorReview Topic = "orchestrator:review"
	TopicIteration          Topic = "orchestrator:iteration"
	TopicSubtaskAssigned    Topic = "subtask:assigned"
	TopicSubtaskProgress    Topic = "subtask:progress"
	TopicSubtaskCompleted   Topic = "subtask:completed"
	TopicWorkerToken        Topic = "worker:token"
	TopicFileWritten        Topic = "file:written"
	TopicProjectDone        Topic = "project:done"
	TopicProjectError       Topic = "project:error"
	TopicRateLimitWait      Topic = "rate-limit:wait"
	TopicLLMRetry           Topic = "llm:retry"
	TopicTokensUpdate       Topic = "tokens:update"
)

// Event is the payload delivered to subscribers. Fields are a superset
// across all topics; a given topic only populates the fields relevant to
// it.
type Event struct {
	Topic     Topic
	SubtaskID string
	WorkerID  int
	Message   string
	Err       error
	Timestamp time.Time

	// Numeric payloads, populated by the topics that need them.
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	Iteration        int
	WaitMS           int64
}

// Handler receives events for topics it subscribed to. Handlers are
// expected to be cheap (UI forwarders); a slow handler blocks the
// publisher and its sibling subscribers for that one Emit call.
type Handler func(Event)

// Bus is a process-wide pub/sub primitive. There are no delivery
// guarantees across a process crash; all state is in-memory.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]Handler
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]Handler)}
}

// Subscribe registers fn to receive every future Emit for topic. Returns an
// unsubscribe function.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], fn)
	idx := len(b.subs[topic]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[topic]
		if idx < 0 || idx >= len(handlers) {
			return
		}
		// Mark as removed rather than reslicing, so indices recorded by
		// other concurrently-registered unsubscribe closures stay valid.
		handlers[idx] = nil
	}
}

// Emit delivers ev (with Topic and Timestamp filled in) to every current
// subscriber of topic, in subscription order, before returning.
func (b *Bus) Emit(topic Topic, ev Event) {
	ev.Topic = topic
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}

// SubscriberCount returns how many live subscribers topic currently has,
// for tests and diagnostics.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, h := range b.subs[topic] {
		if h != nil {
			n++
		}
	}
	return n
}
