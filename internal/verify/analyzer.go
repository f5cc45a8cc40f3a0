// Package verify supplies the orchestrator's project analyzer and the
// worker/orchestrator output verifier: a file-tree scan that feeds the
// planning prompt, and a tiered build/judge verification pass over a
// completed project.
package verify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CacheFileName is where a build's file-tree scan is cached.
const CacheFileName = ".swarm/structure_cache.json"

// CacheMaxAge bounds how long a cached scan is trusted before a fresh one
// is taken, same as the analogous analyzer.
const CacheMaxAge = 24 * time.Hour

// DirectorySummary describes the files grouped under one directory, the
// unit the planning prompt is built from.
type DirectorySummary struct {
	Directory   string   `json:"directory"`
	Description string   `json:"description"`
	Extension   string   `json:"extension"`
	Examples    []string `json:"examples"`
	FileCount   int      `json:"file_count"`
}

// Tree is the cached result of one repository scan.
type Tree struct {
	Directories []DirectorySummary `json:"directories"`
	ScannedAt   time.Time          `json:"scanned_at"`
}

var codeExtensions = map[string]bool{
	".go": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".py": true, ".rb": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rs": true, ".php": true, ".swift": true,
	".kt": true, ".sql": true, ".sh": true,
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".swarm": true,
}

// Analyzer scans a project's directory layout to build the planning
// prompt's file-tree context, caching the result for CacheMaxAge.
type Analyzer struct {
	rootDir string
}

// NewAnalyzer creates an Analyzer rooted at rootDir.
func NewAnalyzer(rootDir string) *Analyzer {
	return &Analyzer{rootDir: rootDir}
}

// Scan returns a cached tree if one is fresh enough, otherwise walks the
// repository and caches the result.
func (a *Analyzer) Scan() (*Tree, error) {
	if tree := a.loadCache(); tree != nil {
		return tree, nil
	}

	tree, err := a.walk()
	if err != nil {
		return nil, err
	}
	a.saveCache(tree) // caching is best-effort; a failed write never fails the scan
	return tree, nil
}

// Render formats a Tree as the compact text block the planning prompt
// embeds, one line per directory.
func (t *Tree) Render() string {
	var b strings.Builder
	for _, d := range t.Directories {
		b.WriteString(d.Directory)
		if d.Directory == "" {
			b.WriteString("(root)")
		}
		b.WriteString(": ")
		b.WriteString(d.Description)
		b.WriteString(" (")
		b.WriteString(strings.Join(d.Examples, ", "))
		b.WriteString(")\n")
	}
	return b.String()
}

func (a *Analyzer) loadCache() *Tree {
	cachePath := filepath.Join(a.rootDir, CacheFileName)

	info, err := os.Stat(cachePath)
	if err != nil {
		return nil
	}
	if time.Since(info.ModTime()) > CacheMaxAge {
		return nil
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil
	}

	var tree Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil
	}
	return &tree
}

func (a *Analyzer) saveCache(tree *Tree) {
	cachePath := filepath.Join(a.rootDir, CacheFileName)
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return
	}
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(cachePath, data, 0o644)
}

func (a *Analyzer) walk() (*Tree, error) {
	dirFiles := make(map[string][]string)

	err := filepath.Walk(a.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !codeExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(a.rootDir, path)
		if err != nil {
			return nil
		}
		dir := filepath.Dir(rel)
		if dir == "." {
			dir = ""
		}
		dirFiles[dir] = append(dirFiles[dir], rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	tree := &Tree{ScannedAt: time.Now()}
	dirs := make([]string, 0, len(dirFiles))
	for dir := range dirFiles {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		files := dirFiles[dir]
		sort.Strings(files)

		ext := commonExtension(files)
		examples := files
		if len(examples) > 3 {
			examples = examples[:3]
		}

		tree.Directories = append(tree.Directories, DirectorySummary{
			Directory:   dir,
			Description: describeDirectory(dir),
			Extension:   ext,
			Examples:    examples,
			FileCount:   len(files),
		})
	}
	return tree, nil
}

func commonExtension(files []string) string {
	counts := make(map[string]int)
	for _, f := range files {
		counts[filepath.Ext(f)]++
	}
	best, bestCount := "", 0
	exts := make([]string, 0, len(counts))
	for ext := range counts {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		if counts[ext] > bestCount {
			best, bestCount = ext, counts[ext]
		}
	}
	return best
}

func describeDirectory(dir string) string {
	if dir == "" {
		return "repository root"
	}
	parts := strings.Split(dir, string(filepath.Separator))
	return parts[len(parts)-1] + " files"
}
