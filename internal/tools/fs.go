package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// maxReadBytes caps how much of a file's content a single Read call
// returns, the same truncate-long-output convention a comparable executor
// uses for Bash/Grep output.
const maxReadBytes = 200_000

// resolveInRoot joins rel onto root and rejects any path that escapes
// root, the containment guarantee every filesystem tool needs: absolute
// paths are rejected rather than let through unchecked.
func resolveInRoot(root, rel string) (string, error) {
	var joined string
	if filepath.IsAbs(rel) {
		joined = filepath.Clean(rel)
	} else {
		joined = filepath.Join(root, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if absJoined != absRoot && !strings.HasPrefix(absJoined, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return absJoined, nil
}

// ReadFileTool reads a file's contents, optionally a line range.
type ReadFileTool struct{ Root string }

func (t *ReadFileTool) Definition() mcp.Tool {
	return mcp.NewTool("read_file",
		mcp.WithDescription("Read a file from the project. Returns its contents with line numbers."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file, relative to the project root")),
		mcp.WithNumber("offset", mcp.Description("Line number to start reading from (1-indexed, optional)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of lines to read (optional)")),
	)
}

func (t *ReadFileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("'path' is required"), nil
	}
	offset := int(req.GetFloat("offset", 0))
	limit := int(req.GetFloat("limit", 0))

	full, err := resolveInRoot(t.Root, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read file: %v", err)), nil
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
		if start >= len(lines) {
			return mcp.NewToolResultError("offset beyond end of file"), nil
		}
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var out strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&out, "%6d\t%s\n", i+1, lines[i])
	}
	return mcp.NewToolResultText(out.String()), nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{ Root string }

func (t *WriteFileTool) Definition() mcp.Tool {
	return mcp.NewTool("write_file",
		mcp.WithDescription("Write content to a file, creating parent directories as needed. Overwrites any existing content."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file, relative to the project root")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to write")),
	)
}

func (t *WriteFileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	content := req.GetString("content", "")
	if path == "" {
		return mcp.NewToolResultError("'path' is required"), nil
	}

	full, err := resolveInRoot(t.Root, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create parent directory: %v", err)), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("write file: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// PatchFileTool replaces an exact text span within a file, the same
// unique-match-or-replace_all contract as a comparable Edit tool.
type PatchFileTool struct{ Root string }

func (t *PatchFileTool) Definition() mcp.Tool {
	return mcp.NewTool("patch_file",
		mcp.WithDescription("Edit a file by replacing an exact span of text. old_text must be unique within the file unless replace_all is set."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file, relative to the project root")),
		mcp.WithString("old_text", mcp.Required(), mcp.Description("The exact text to find and replace")),
		mcp.WithString("new_text", mcp.Required(), mcp.Description("The text to replace it with")),
		mcp.WithBoolean("replace_all", mcp.Description("If true, replace every occurrence (default: false)")),
	)
}

func (t *PatchFileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	oldText := req.GetString("old_text", "")
	newText := req.GetString("new_text", "")
	replaceAll, _ := req.GetArguments()["replace_all"].(bool)

	if path == "" || oldText == "" {
		return mcp.NewToolResultError("'path' and 'old_text' are required"), nil
	}

	full, err := resolveInRoot(t.Root, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)

	count := strings.Count(content, oldText)
	if count == 0 {
		return mcp.NewToolResultError("old_text not found in file"), nil
	}
	if !replaceAll && count > 1 {
		return mcp.NewToolResultError(fmt.Sprintf("old_text found %d times; must be unique or set replace_all", count)), nil
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldText, newText)
	} else {
		updated = strings.Replace(content, oldText, newText, 1)
	}
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("write file: %v", err)), nil
	}
	if replaceAll {
		return mcp.NewToolResultText(fmt.Sprintf("replaced %d occurrences", count)), nil
	}
	return mcp.NewToolResultText("patch applied"), nil
}

// ListDirectoryTool lists a directory's immediate entries.
type ListDirectoryTool struct{ Root string }

func (t *ListDirectoryTool) Definition() mcp.Tool {
	return mcp.NewTool("list_directory",
		mcp.WithDescription("List the immediate contents of a directory within the project."),
		mcp.WithString("path", mcp.Description("Directory path, relative to the project root (optional, defaults to the root)")),
	)
}

func (t *ListDirectoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	full, err := resolveInRoot(t.Root, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read directory: %v", err)), nil
	}

	var out strings.Builder
	for _, e := range entries {
		info, _ := e.Info()
		if e.IsDir() {
			fmt.Fprintf(&out, "d %s/\n", e.Name())
		} else if info != nil {
			fmt.Fprintf(&out, "- %s (%d bytes)\n", e.Name(), info.Size())
		} else {
			fmt.Fprintf(&out, "? %s\n", e.Name())
		}
	}
	return mcp.NewToolResultText(out.String()), nil
}

// GlobFilesTool finds files under the project matching a shell glob
// pattern, walking recursively since filepath.Glob alone has no "**"
// support, same as the analogous execGlob.
type GlobFilesTool struct{ Root string }

func (t *GlobFilesTool) Definition() mcp.Tool {
	return mcp.NewTool("glob_files",
		mcp.WithDescription("Find files under the project matching a glob pattern, e.g. '*.go'."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern to match against file names")),
		mcp.WithString("path", mcp.Description("Directory to search under, relative to the project root (optional)")),
	)
}

func (t *GlobFilesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := req.GetString("pattern", "")
	if pattern == "" {
		return mcp.NewToolResultError("'pattern' is required"), nil
	}
	searchPath, err := resolveInRoot(t.Root, req.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var matches []string
	err = filepath.WalkDir(searchPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if matched, _ := filepath.Match(pattern, d.Name()); matched {
			if rel, relErr := filepath.Rel(searchPath, path); relErr == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("glob: %v", err)), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("no files matched the pattern"), nil
	}
	return mcp.NewToolResultText(strings.Join(matches, "\n")), nil
}

// SearchFilesTool searches file contents for a regular expression,
// shelling out to ripgrep the same way a comparable execGrep does.
type SearchFilesTool struct{ Root string }

func (t *SearchFilesTool) Definition() mcp.Tool {
	return mcp.NewTool("search_files",
		mcp.WithDescription("Search file contents using a regular expression, via ripgrep."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Regular expression to search for")),
		mcp.WithString("path", mcp.Description("File or directory to search in, relative to the project root (optional)")),
		mcp.WithString("glob", mcp.Description("Glob to filter which files are searched, e.g. '*.go' (optional)")),
	)
}

func (t *SearchFilesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := req.GetString("pattern", "")
	if pattern == "" {
		return mcp.NewToolResultError("'pattern' is required"), nil
	}
	searchPath, err := resolveInRoot(t.Root, req.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := []string{"--color=never", "-n"}
	if glob := req.GetString("glob", ""); glob != "" {
		args = append(args, "--glob", glob)
	}
	args = append(args, pattern, searchPath)

	result, isError := runAllowed(ctx, t.Root, 30, "rg", args...)
	if isError && result == "" {
		return mcp.NewToolResultText("no matches found"), nil
	}
	return mcp.NewToolResultText(result), nil
}
