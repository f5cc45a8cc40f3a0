package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/mark3labs/mcp-go/mcp"
)

// maxCommandOutput bounds how much combined stdout/stderr a single
// execute_command call returns.
const maxCommandOutput = 1 << 20

// commandTimeout bounds how long a single execute_command call may run.
const commandTimeout = 30 * time.Second

// allowedBinaries is the set of executables execute_command may invoke.
// Grounded on the project-type command tables in internal/verify's
// buildCommandsFor: a worker only ever needs to drive the same toolchains
// the build tier already shells out to, plus git and the read-only search
// tools the filesystem tools also use.
var allowedBinaries = map[string]bool{
	"go": true, "git": true, "npm": true, "npx": true, "node": true,
	"yarn": true, "pnpm": true, "cargo": true, "python": true, "python3": true,
	"pip": true, "pytest": true, "rg": true, "grep": true, "find": true,
	"ls": true, "cat": true, "mkdir": true, "test": true, "echo": true,
}

// runAllowed runs name with args under workDir, bounding both wall time
// and output size, the same shape as the analogous ExecRunner.Run plus
// execBash's output-truncation convention.
func runAllowed(ctx context.Context, workDir string, timeoutSeconds int, name string, args ...string) (string, bool) {
	if !allowedBinaries[name] {
		return fmt.Sprintf("%q is not on the allowed command list", name), true
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = commandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Dir = workDir

	output, err := cmd.CombinedOutput()
	text := truncateOutput(output)

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return fmt.Sprintf("command timed out after %s:\n%s", timeout, text), true
		}
		return fmt.Sprintf("%s\nerror: %v", text, err), true
	}
	return text, false
}

func truncateOutput(b []byte) string {
	if len(b) > maxCommandOutput {
		return string(b[:maxCommandOutput]) + "\n... (output truncated)"
	}
	return string(b)
}

// shellMetacharacters names the characters that would let a quoted or
// unquoted argument escape into a second command if it were ever handed
// to a shell. execute_command never invokes a shell, but arguments
// containing any of these are rejected anyway rather than passed through
// to the target binary.
const shellMetacharacters = ";&|$()<>`"

// tokenizeCommand splits command the way a shell would, honoring single
// and double quotes so an argument can contain spaces, but performs no
// substitution, globbing, or redirection of its own.
func tokenizeCommand(command string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	var quote rune
	inField := false

	flush := func() {
		if inField {
			fields = append(fields, cur.String())
			cur.Reset()
			inField = false
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inField = true
		case unicode.IsSpace(r):
			flush()
		default:
			inField = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return fields, nil
}

// validateArgs rejects any token containing a shell metacharacter, a
// newline, or a ".." path-traversal segment, so a smuggled command or an
// escape out of the project root can't ride along inside an otherwise
// allowed invocation.
func validateArgs(fields []string) error {
	for _, f := range fields {
		if strings.ContainsAny(f, shellMetacharacters) {
			return fmt.Errorf("argument %q contains a disallowed shell metacharacter", f)
		}
		if strings.ContainsRune(f, '\n') {
			return fmt.Errorf("argument %q contains a newline", f)
		}
		if strings.Contains(f, "..") {
			return fmt.Errorf("argument %q contains a path-traversal sequence", f)
		}
	}
	return nil
}

// ExecuteCommandTool runs an allow-listed binary directly (no shell)
// inside the project root, bounded by commandTimeout and maxCommandOutput
// and restricted to a fixed binary allow-list.
type ExecuteCommandTool struct{ Root string }

func (t *ExecuteCommandTool) Definition() mcp.Tool {
	return mcp.NewTool("execute_command",
		mcp.WithDescription(
			"Run a command inside the project root. Only a fixed set of "+
				"development tools (go, git, npm, cargo, python, rg, ...) may be "+
				"invoked, the command is never passed through a shell, and shell "+
				"metacharacters (;&|$()<>`) and '..' segments in any argument are "+
				"rejected; commands are capped at 30 seconds and 1MiB of output.",
		),
		mcp.WithString("command", mcp.Required(), mcp.Description("The command to run, e.g. 'go test ./...'. Quote arguments containing spaces with single or double quotes.")),
	)
}

func (t *ExecuteCommandTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := req.GetString("command", "")
	if command == "" {
		return mcp.NewToolResultError("'command' is required"), nil
	}

	fields, err := tokenizeCommand(command)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(fields) == 0 {
		return mcp.NewToolResultError("empty command"), nil
	}
	if !allowedBinaries[fields[0]] {
		return mcp.NewToolResultError(fmt.Sprintf("%q is not on the allowed command list", fields[0])), nil
	}
	if err := validateArgs(fields); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, fields[0], fields[1:]...)
	cmd.Dir = t.Root

	output, err := cmd.CombinedOutput()
	text := truncateOutput(output)

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return mcp.NewToolResultError(fmt.Sprintf("command timed out after %s:\n%s", commandTimeout, text)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("%s\nerror: %v", text, err)), nil
	}
	return mcp.NewToolResultText(text), nil
}
