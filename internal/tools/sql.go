package tools

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	_ "modernc.org/sqlite"
)

// allowedSQLVerbs bounds what execute_sql may run, the same allow-list
// idea execute_command applies to binaries.
var allowedSQLVerbs = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"CREATE": true, "ALTER": true, "DROP": true, "PRAGMA": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true,
}

// SQLSandbox owns one per-project SQLite database, lazily opened the first
// time a tool needs it. Grounded on internal/store.DB's
// WAL+foreign_keys-on-Open pattern, scoped to a worker-writable sandbox
// path instead of the run-history store's own database.
type SQLSandbox struct {
	Root string

	mu   sync.Mutex
	db   *sql.DB
	path string
}

// dbPath returns the sandbox database file for name, defaulting to
// "project" when name is empty.
func (s *SQLSandbox) dbPath(name string) string {
	if name == "" {
		name = "project"
	}
	return filepath.Join(s.Root, ".swarm", "data", name+".db")
}

func (s *SQLSandbox) open(name string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.dbPath(name)
	if s.db != nil && s.path == path {
		return s.db, nil
	}
	if s.db != nil {
		s.db.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sandbox database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s.db, s.path = db, path
	return db, nil
}

// InitDatabaseTool opens (creating if necessary) a named sandbox database.
type InitDatabaseTool struct{ Sandbox *SQLSandbox }

func (t *InitDatabaseTool) Definition() mcp.Tool {
	return mcp.NewTool("init_database",
		mcp.WithDescription("Create or open a project-local SQLite database for the worker to use as scratch storage."),
		mcp.WithString("name", mcp.Description("Database name (optional, defaults to 'project')")),
	)
}

func (t *InitDatabaseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if _, err := t.Sandbox.open(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("database %q ready at %s", name, t.Sandbox.dbPath(name))), nil
}

// ExecuteSQLTool runs one SQL statement against a sandbox database.
type ExecuteSQLTool struct{ Sandbox *SQLSandbox }

func (t *ExecuteSQLTool) Definition() mcp.Tool {
	return mcp.NewTool("execute_sql",
		mcp.WithDescription("Run one SQL statement against a project-local sandbox database. SELECT statements return rows; others return the affected row count."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The SQL statement to run")),
		mcp.WithString("name", mcp.Description("Database name (optional, defaults to 'project')")),
	)
}

func (t *ExecuteSQLTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	verb := strings.ToUpper(strings.Fields(query)[0])
	if !allowedSQLVerbs[verb] {
		return mcp.NewToolResultError(fmt.Sprintf("%q statements are not allowed", verb)), nil
	}

	db, err := t.Sandbox.open(req.GetString("name", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if verb == "SELECT" || verb == "PRAGMA" {
		return t.execQuery(ctx, db, query)
	}
	return t.execStatement(ctx, db, query)
}

func (t *ExecuteSQLTool) execQuery(ctx context.Context, db *sql.DB, query string) (*mcp.CallToolResult, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read columns: %v", err)), nil
	}

	var out strings.Builder
	out.WriteString(strings.Join(cols, "\t") + "\n")

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	rowCount := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan row: %v", err)), nil
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = fmt.Sprintf("%v", v)
		}
		out.WriteString(strings.Join(cells, "\t") + "\n")
		rowCount++
	}
	if rowCount == 0 {
		return mcp.NewToolResultText("no rows returned"), nil
	}
	return mcp.NewToolResultText(out.String()), nil
}

func (t *ExecuteSQLTool) execStatement(ctx context.Context, db *sql.DB, query string) (*mcp.CallToolResult, error) {
	result, err := db.ExecContext(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("statement failed: %v", err)), nil
	}
	affected, _ := result.RowsAffected()
	return mcp.NewToolResultText(fmt.Sprintf("ok, %d row(s) affected", affected)), nil
}

// ListTablesTool lists the tables defined in a sandbox database.
type ListTablesTool struct{ Sandbox *SQLSandbox }

func (t *ListTablesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_tables",
		mcp.WithDescription("List the tables in a project-local sandbox database."),
		mcp.WithString("name", mcp.Description("Database name (optional, defaults to 'project')")),
	)
}

func (t *ListTablesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	db, err := t.Sandbox.open(req.GetString("name", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list tables: %v", err)), nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan table name: %v", err)), nil
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return mcp.NewToolResultText("no tables defined"), nil
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}
