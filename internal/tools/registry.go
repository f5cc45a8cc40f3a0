// Package tools implements the catalog of tools a worker's LLM can call:
// filesystem access, an allow-listed shell runner, a per-project SQLite
// sandbox, and stubbed web search/reader tools. Each tool is expressed as
// an mcp.Tool definition plus an MCP-shaped handler; a Registry bridges
// that MCP shape to the internal/llm.ToolCatalog/models.ToolCall
// shape the chat-completions transport actually speaks.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/opencoder/swarm/internal/llm"
	"github.com/opencoder/swarm/pkg/models"
)

// Tool is one entry in the catalog: an MCP schema plus a handler that
// executes it.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Registry holds the tools available to one worker and dispatches model
// tool calls to them.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry under its definition's name. Re-
// registering the same name replaces the previous tool but keeps its
// original catalog position.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Catalog returns every registered tool's schema in the shape
// internal/llm.Complete/CompleteStream take, in registration order.
func (r *Registry) Catalog() []llm.ToolCatalog {
	out := make([]llm.ToolCatalog, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].Definition()
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			schema = json.RawMessage("{}")
		}
		out = append(out, llm.ToolCatalog{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	return out
}

// Dispatch runs the tool named by call.Name with call.Arguments and
// returns the text to feed back into the conversation as a tool-role
// message, along with whether the call failed.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) (text string, isError bool) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return fmt.Sprintf("unknown tool: %s", call.Name), true
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err), true
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = args

	result, err := tool.Handle(ctx, req)
	if err != nil {
		return fmt.Sprintf("tool execution error: %v", err), true
	}
	return resultText(result), result != nil && result.IsError
}

// resultText extracts the first text content block from an MCP tool
// result, the same extraction a comparable tests use.
func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
