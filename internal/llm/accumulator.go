package llm

import "strings"

// toolCallAccumulator buffers the partial tool-call fragments of a
// streaming response, keyed by the delta's Index field. A single streamed
// turn can interleave fragments for several tool calls; grouping by index is what
// lets them be reassembled independently.
type toolCallAccumulator struct {
	order []int
	ids   map[int]string
	names map[int]string
	args  map[int]*strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		ids:   make(map[int]string),
		names: make(map[int]string),
		args:  make(map[int]*strings.Builder),
	}
}

// Add folds one streamed tool-call delta into the accumulator.
func (a *toolCallAccumulator) Add(d streamToolCallDelta) {
	if _, seen := a.args[d.Index]; !seen {
		a.order = append(a.order, d.Index)
		a.args[d.Index] = &strings.Builder{}
	}
	if d.ID != "" {
		a.ids[d.Index] = d.ID
	}
	if d.Function.Name != "" {
		a.names[d.Index] = d.Function.Name
	}
	if d.Function.Arguments != "" {
		a.args[d.Index].WriteString(d.Function.Arguments)
	}
}

// ToolCalls returns the accumulated tool calls in the order their indices
// first appeared.
func (a *toolCallAccumulator) ToolCalls() []wireToolCall {
	out := make([]wireToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, wireToolCall{
			ID:   a.ids[idx],
			Type: "function",
			Function: wireFunctionCall{
				Name:      a.names[idx],
				Arguments: a.args[idx].String(),
			},
		})
	}
	return out
}

// Empty reports whether no tool-call fragments were ever added.
func (a *toolCallAccumulator) Empty() bool {
	return len(a.order) == 0
}
