package agentfix

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	maxToolOutput   = 16 * 1024
	maxSearchHits   = 50
	maxListedFiles  = 200
	maxScannedFiles = 2000
)

// skipDirs are never traversed by search_code or list_files.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	".angular":     true,
	".ngmend":      true,
}

// Toolbox executes the investigation tools available to an agent session.
// Every file tool is confined to the project root.
type Toolbox struct {
	root         string
	shellTimeout time.Duration
}

func NewToolbox(root string, shellTimeout time.Duration) *Toolbox {
	if shellTimeout <= 0 {
		shellTimeout = 30 * time.Second
	}
	return &Toolbox{root: root, shellTimeout: shellTimeout}
}

// ToolExecutionResult is the outcome of one tool call. Failures are data, not
// errors: they go back to the model so it can try something else.
type ToolExecutionResult struct {
	Name   string
	Output string
	Err    string
}

func (r ToolExecutionResult) Failed() bool { return r.Err != "" }

// ExecuteAll runs a batch of tool calls concurrently and returns results in
// call order. One failing tool never aborts its siblings.
func (t *Toolbox) ExecuteAll(ctx context.Context, calls []ToolCall) []ToolExecutionResult {
	results := make([]ToolExecutionResult, len(calls))
	g, ctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = t.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (t *Toolbox) Execute(ctx context.Context, call ToolCall) ToolExecutionResult {
	log.Debug().Str("tool", call.Name).Msg("executing tool")
	out, err := t.dispatch(ctx, call)
	res := ToolExecutionResult{Name: call.Name, Output: truncate(out, maxToolOutput)}
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

func (t *Toolbox) dispatch(ctx context.Context, call ToolCall) (string, error) {
	switch call.Name {
	case "read_file":
		return t.readFile(call.Args)
	case "search_code":
		return t.searchCode(call.Args)
	case "list_files":
		return t.listFiles(call.Args)
	case "run_command":
		return t.runCommand(ctx, call.Args)
	case "check_package":
		return t.checkPackage(call.Args)
	case "analyze_runtime_error":
		return analyzeRuntimeError(call.Args)
	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

// resolve joins a model-supplied path under the project root and rejects
// anything that escapes it.
func (t *Toolbox) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return t.root, nil
	}
	abs := filepath.Join(t.root, filepath.FromSlash(rel))
	rootAbs, err := filepath.Abs(t.root)
	if err != nil {
		return "", err
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if absClean != rootAbs && !strings.HasPrefix(absClean, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return absClean, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (t *Toolbox) readFile(args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		return "", fmt.Errorf("read_file requires path")
	}
	abs, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")
	start := intArg(args, "start")
	end := intArg(args, "end")
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return "", fmt.Errorf("start line %d past end of %s (%d lines)", start, path, len(lines))
	}
	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, lines[i-1])
	}
	return b.String(), nil
}

func (t *Toolbox) searchCode(args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("search_code requires pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	glob := stringArg(args, "glob")

	var b strings.Builder
	hits := 0
	err = t.walkSource(func(rel, abs string) error {
		if glob != "" {
			if ok, _ := filepath.Match(glob, filepath.Base(rel)); !ok {
				return nil
			}
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil
		}
		for n, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d: %s\n", rel, n+1, strings.TrimSpace(line))
				hits++
				if hits >= maxSearchHits {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if hits == 0 {
		return "no matches", nil
	}
	return b.String(), nil
}

func (t *Toolbox) listFiles(args map[string]any) (string, error) {
	dir := stringArg(args, "dir")
	abs, err := t.resolve(dir)
	if err != nil {
		return "", err
	}
	glob := stringArg(args, "glob")

	var names []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if glob != "" {
			if ok, _ := filepath.Match(glob, filepath.Base(rel)); !ok {
				return nil
			}
		}
		names = append(names, rel)
		if len(names) >= maxListedFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "no files", nil
	}
	return strings.Join(names, "\n"), nil
}

func (t *Toolbox) runCommand(ctx context.Context, args map[string]any) (string, error) {
	command := stringArg(args, "command")
	if command == "" {
		return "", fmt.Errorf("run_command requires command")
	}
	ctx, cancel := context.WithTimeout(ctx, t.shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.root
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("command timed out after %s", t.shellTimeout)
	}
	if err != nil {
		return "", fmt.Errorf("command failed: %w\n%s", err, truncate(string(out), maxToolOutput))
	}
	return string(out), nil
}

func (t *Toolbox) checkPackage(args map[string]any) (string, error) {
	name := stringArg(args, "name")
	if name == "" {
		return "", fmt.Errorf("check_package requires name")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "package: %s\n", name)

	declared := "not declared"
	if data, err := os.ReadFile(filepath.Join(t.root, "package.json")); err == nil {
		var manifest struct {
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
		}
		if json.Unmarshal(data, &manifest) == nil {
			if v, ok := manifest.Dependencies[name]; ok {
				declared = "dependencies " + v
			} else if v, ok := manifest.DevDependencies[name]; ok {
				declared = "devDependencies " + v
			}
		}
	}
	fmt.Fprintf(&b, "declared: %s\n", declared)

	installedPath := filepath.Join(t.root, "node_modules", filepath.FromSlash(name), "package.json")
	if data, err := os.ReadFile(installedPath); err == nil {
		var meta struct {
			Version string `json:"version"`
			Main    string `json:"main"`
			Module  string `json:"module"`
		}
		if json.Unmarshal(data, &meta) == nil {
			fmt.Fprintf(&b, "installed: %s\n", meta.Version)
			if meta.Module == "" && strings.Contains(meta.Main, "node") {
				b.WriteString("warning: main entry looks Node-only, may not run in the browser\n")
			}
		}
	} else {
		b.WriteString("installed: no (missing from node_modules)\n")
	}

	if note, ok := incompatiblePackages[name]; ok {
		fmt.Fprintf(&b, "compatibility: known problem package (%s)\n", note)
	}
	return b.String(), nil
}

// analyzeRuntimeError maps common browser runtime failures to their usual
// upgrade-time causes.
func analyzeRuntimeError(args map[string]any) (string, error) {
	message := stringArg(args, "message")
	if message == "" {
		return "", fmt.Errorf("analyze_runtime_error requires message")
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "cannot convert undefined or null to object"):
		return "a library is iterating an object that no longer exists; usually a dependency that is incompatible with the new framework version or missing its expected configuration", nil
	case strings.Contains(lower, "is not a function"):
		return "a call target was removed or renamed; check whether the providing package changed its public API across the major version", nil
	case strings.Contains(lower, "cannot read properties of undefined"),
		strings.Contains(lower, "cannot read property"):
		return "a value expected at startup is undefined; commonly caused by stricter injection or lifecycle timing changes in the new version", nil
	case strings.Contains(lower, "no provider for"):
		return "a service is no longer provided; standalone components must list providers explicitly or the service needs providedIn: 'root'", nil
	default:
		return "no known signature matched; inspect the stack trace for the originating package", nil
	}
}

// walkSource visits regular source files under the project root, skipping
// dependency and output directories, with a hard scan cap.
func (t *Toolbox) walkSource(fn func(rel, abs string) error) error {
	scanned := 0
	return filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		scanned++
		if scanned > maxScannedFiles {
			return fs.SkipAll
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return nil
		}
		return fn(filepath.ToSlash(rel), path)
	})
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
