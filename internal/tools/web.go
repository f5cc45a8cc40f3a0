package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// webTimeout bounds how long a web tool call may take before it gives up,
// even though these two tools have no backend wired yet: live web access
// is out of scope for this build.
const webTimeout = 20 * time.Second

// WebSearchTool is a stub: it satisfies the tool catalog's interface so a
// worker can see and call a search tool without the build depending on any
// particular search provider.
type WebSearchTool struct{}

func (t *WebSearchTool) Definition() mcp.Tool {
	return mcp.NewTool("web_search",
		mcp.WithDescription("Search the web. Not configured in this build."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
	)
}

func (t *WebSearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, cancel := context.WithTimeout(ctx, webTimeout)
	defer cancel()
	return mcp.NewToolResultText("web_search is not configured in this build"), nil
}

// WebReaderTool is a stub counterpart to WebSearchTool for fetching a
// specific URL's content.
type WebReaderTool struct{}

func (t *WebReaderTool) Definition() mcp.Tool {
	return mcp.NewTool("web_reader",
		mcp.WithDescription("Fetch and extract the text content of a URL. Not configured in this build."),
		mcp.WithString("url", mcp.Required(), mcp.Description("URL to fetch")),
	)
}

func (t *WebReaderTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, cancel := context.WithTimeout(ctx, webTimeout)
	defer cancel()
	return mcp.NewToolResultText("web_reader is not configured in this build"), nil
}
