package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/opencoder/swarm/pkg/models"
)

func TestDefaultRegistryCatalogIncludesEveryTool(t *testing.T) {
	dir := t.TempDir()
	r := DefaultRegistry(dir)

	catalog := r.Catalog()
	names := make(map[string]bool, len(catalog))
	for _, c := range catalog {
		names[c.Name] = true
	}

	for _, want := range []string{
		"read_file", "write_file", "patch_file", "list_directory",
		"glob_files", "search_files", "execute_command",
		"init_database", "execute_sql", "list_tables",
		"web_search", "web_reader",
	} {
		if !names[want] {
			t.Fatalf("expected catalog to include %q, got %v", want, names)
		}
	}
}

func TestDispatchRoutesToRegisteredTool(t *testing.T) {
	dir := t.TempDir()
	r := DefaultRegistry(dir)

	args, _ := json.Marshal(map[string]any{"path": "out.txt", "content": "hi"})
	text, isError := r.Dispatch(context.Background(), models.ToolCall{
		ID: "call-1", Name: "write_file", Arguments: args,
	})
	if isError {
		t.Fatalf("unexpected error result: %s", text)
	}
	if !strings.Contains(text, "out.txt") {
		t.Fatalf("unexpected dispatch result: %q", text)
	}
}

func TestDispatchReportsUnknownTool(t *testing.T) {
	r := NewRegistry()
	text, isError := r.Dispatch(context.Background(), models.ToolCall{Name: "does_not_exist"})
	if !isError {
		t.Fatal("expected unknown tool name to be an error")
	}
	if !strings.Contains(text, "does_not_exist") {
		t.Fatalf("expected error to name the tool, got %q", text)
	}
}

func TestDispatchReportsInvalidArguments(t *testing.T) {
	dir := t.TempDir()
	r := DefaultRegistry(dir)

	text, isError := r.Dispatch(context.Background(), models.ToolCall{
		Name:      "write_file",
		Arguments: json.RawMessage(`{not valid json`),
	})
	if !isError {
		t.Fatal("expected invalid JSON arguments to be an error")
	}
	if text == "" {
		t.Fatal("expected a non-empty error message")
	}
}
