package tools

// DefaultRegistry builds the full worker tool catalog for a project rooted
// at root: every filesystem tool, the allow-listed command runner, the
// SQLite sandbox tools sharing one SQLSandbox, and the stubbed web tools.
func DefaultRegistry(root string) *Registry {
	sandbox := &SQLSandbox{Root: root}

	r := NewRegistry()
	r.Register(&ReadFileTool{Root: root})
	r.Register(&WriteFileTool{Root: root})
	r.Register(&PatchFileTool{Root: root})
	r.Register(&ListDirectoryTool{Root: root})
	r.Register(&GlobFilesTool{Root: root})
	r.Register(&SearchFilesTool{Root: root})
	r.Register(&ExecuteCommandTool{Root: root})
	r.Register(&InitDatabaseTool{Sandbox: sandbox})
	r.Register(&ExecuteSQLTool{Sandbox: sandbox})
	r.Register(&ListTablesTool{Sandbox: sandbox})
	r.Register(&WebSearchTool{})
	r.Register(&WebReaderTool{})
	return r
}
