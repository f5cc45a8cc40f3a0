package tools

import (
	"context"
	"strings"
	"testing"
)

func TestInitDatabaseToolCreatesSandboxFile(t *testing.T) {
	dir := t.TempDir()
	sandbox := &SQLSandbox{Root: dir}
	tool := &InitDatabaseTool{Sandbox: sandbox}

	result, err := tool.Handle(context.Background(), newReq(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}
}

func TestExecuteSQLToolCreatesAndQueriesTable(t *testing.T) {
	dir := t.TempDir()
	sandbox := &SQLSandbox{Root: dir}
	exec := &ExecuteSQLTool{Sandbox: sandbox}

	create, err := exec.Handle(context.Background(), newReq(map[string]any{
		"query": "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)",
	}))
	if err != nil || create.IsError {
		t.Fatalf("create table failed: err=%v result=%v", err, create)
	}

	insert, err := exec.Handle(context.Background(), newReq(map[string]any{
		"query": "INSERT INTO notes (body) VALUES ('hello')",
	}))
	if err != nil || insert.IsError {
		t.Fatalf("insert failed: err=%v result=%v", err, insert)
	}

	selectResult, err := exec.Handle(context.Background(), newReq(map[string]any{
		"query": "SELECT body FROM notes",
	}))
	if err != nil || selectResult.IsError {
		t.Fatalf("select failed: err=%v result=%v", err, selectResult)
	}
	if !strings.Contains(resultText(selectResult), "hello") {
		t.Fatalf("expected select to return inserted row, got %q", resultText(selectResult))
	}
}

func TestExecuteSQLToolRejectsDisallowedVerb(t *testing.T) {
	dir := t.TempDir()
	sandbox := &SQLSandbox{Root: dir}
	exec := &ExecuteSQLTool{Sandbox: sandbox}

	result, err := exec.Handle(context.Background(), newReq(map[string]any{"query": "ATTACH DATABASE 'x' AS y"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected ATTACH to be rejected")
	}
}

func TestListTablesToolReflectsCreatedTables(t *testing.T) {
	dir := t.TempDir()
	sandbox := &SQLSandbox{Root: dir}
	exec := &ExecuteSQLTool{Sandbox: sandbox}
	list := &ListTablesTool{Sandbox: sandbox}

	exec.Handle(context.Background(), newReq(map[string]any{"query": "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"}))

	result, err := list.Handle(context.Background(), newReq(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(result), "widgets") {
		t.Fatalf("expected widgets table to be listed, got %q", resultText(result))
	}
}
