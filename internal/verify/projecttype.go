package verify

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectType is the detected primary language/build system of a project,
// used to pick the build-tier command list. Adapted from a comparable
// orchestrator.DetectProjectType/GetProjectTypeInfo, generalized from a
// validation-only helper into the build tier's command source.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// DetectProjectType inspects repoPath's marker files in order of
// specificity and returns the matching project type.
func DetectProjectType(repoPath string) ProjectType {
	switch {
	case fileExists(filepath.Join(repoPath, "go.mod")):
		return ProjectTypeGo
	case fileExists(filepath.Join(repoPath, "Cargo.toml")):
		return ProjectTypeRust
	case fileExists(filepath.Join(repoPath, "pyproject.toml")),
		fileExists(filepath.Join(repoPath, "setup.py")),
		fileExists(filepath.Join(repoPath, "requirements.txt")):
		return ProjectTypePython
	case fileExists(filepath.Join(repoPath, "package.json")):
		return ProjectTypeNode
	default:
		return ProjectTypeUnknown
	}
}

// buildCommand is one shell command in the build tier's checklist, paired
// with a human label used in failure feedback.
type buildCommand struct {
	label string
	shell string
}

// buildCommandsFor returns the ordered list of commands the build tier
// runs for repoPath's detected project type.
func buildCommandsFor(repoPath string) []buildCommand {
	switch DetectProjectType(repoPath) {
	case ProjectTypeGo:
		return []buildCommand{
			{"go vet", "go vet ./..."},
			{"go build", "go build ./..."},
			{"go test", "go test -short ./..."},
		}
	case ProjectTypeNode:
		cmds := []buildCommand{}
		if hasNodeScript(repoPath, "build") {
			cmds = append(cmds, buildCommand{"npm run build", "npm run build"})
		} else if fileExists(filepath.Join(repoPath, "tsconfig.json")) {
			cmds = append(cmds, buildCommand{"tsc --noEmit", "npx tsc --noEmit"})
		}
		if hasNodeScript(repoPath, "test") {
			cmds = append(cmds, buildCommand{"npm test", "npm test"})
		}
		return cmds
	case ProjectTypeRust:
		return []buildCommand{
			{"cargo build", "cargo build"},
			{"cargo test", "cargo test"},
		}
	case ProjectTypePython:
		cmds := []buildCommand{}
		if fileExists(filepath.Join(repoPath, "pyproject.toml")) {
			cmds = append(cmds, buildCommand{"py_compile", "python -m py_compile **/*.py"})
		}
		if dirExists(filepath.Join(repoPath, "tests")) {
			cmds = append(cmds, buildCommand{"pytest", "python -m pytest"})
		}
		return cmds
	default:
		return nil
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// hasNodeScript checks package.json for a named script without a full
// JSON parse, same heuristic a comparable implementation uses.
func hasNodeScript(repoPath, scriptName string) bool {
	data, err := os.ReadFile(filepath.Join(repoPath, "package.json"))
	if err != nil {
		return false
	}
	content := string(data)
	scriptsIdx := strings.Index(content, `"scripts"`)
	if scriptsIdx == -1 {
		return false
	}
	return strings.Contains(content[scriptsIdx:], `"`+scriptName+`"`)
}
