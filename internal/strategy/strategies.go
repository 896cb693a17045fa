package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ngmend/ngmend/internal/model"
)

// compilationNoticeStrategy handles compilation-mode notices. These are
// informational; the build fails for another reason.
type compilationNoticeStrategy struct{}

func (s *compilationNoticeStrategy) Name() string             { return "compilation-notice" }
func (s *compilationNoticeStrategy) Category() model.Category { return model.CategoryCompilation }

func (s *compilationNoticeStrategy) CanHandle(err model.BuildError) bool {
	return err.Category == model.CategoryCompilation && err.Severity == model.SeverityInfo
}

func (s *compilationNoticeStrategy) Apply(_ context.Context, _ model.BuildError, _ Context) model.FixResult {
	return model.FixResult{
		Success:   true,
		Reasoning: "no action taken, informational compiler notice",
	}
}

// dependencyStrategy handles package-resolution failures. It never edits the
// manifest itself; it reports what to install or upgrade.
type dependencyStrategy struct{}

func (s *dependencyStrategy) Name() string             { return "dependency" }
func (s *dependencyStrategy) Category() model.Category { return model.CategoryDependency }

func (s *dependencyStrategy) CanHandle(err model.BuildError) bool {
	return err.Category == model.CategoryDependency
}

var moduleNameRe = regexp.MustCompile(`(?:[Cc]annot find module|[Cc]ould not resolve(?: dependency)?|peer dep(?:endency)?:?)\s+'?([@a-zA-Z0-9._/-]+)'?`)

func (s *dependencyStrategy) Apply(_ context.Context, err model.BuildError, sctx Context) model.FixResult {
	name := extractModuleName(err.Message)
	if name == "" {
		return model.FixResult{
			Success:        false,
			RequiresManual: true,
			Suggestion:     "dependency resolution failed but no package name could be extracted; inspect the build output",
		}
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "/") {
		return model.FixResult{
			Success:        false,
			RequiresManual: true,
			Suggestion:     fmt.Sprintf("'%s' is a project-relative path, not a package; fix the import path manually", name),
		}
	}
	return model.FixResult{
		Success:    true,
		Reasoning:  fmt.Sprintf("package %s cannot be resolved", name),
		Suggestion: fmt.Sprintf("run: npm install %s@latest --save (or align its version with Angular %s)", name, sctx.TargetVersion),
	}
}

func extractModuleName(message string) string {
	if m := moduleNameRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

// importStrategy inserts a minimal import after the last existing import in
// the offending file. When the heuristic does not apply the driver escalates
// the error to the generic fix chain.
type importStrategy struct{}

func (s *importStrategy) Name() string             { return "import" }
func (s *importStrategy) Category() model.Category { return model.CategoryImport }

func (s *importStrategy) CanHandle(err model.BuildError) bool {
	return err.Category == model.CategoryImport
}

var cannotFindModuleRe = regexp.MustCompile(`[Cc]annot find module '([^']+)'`)

func (s *importStrategy) Apply(_ context.Context, err model.BuildError, sctx Context) model.FixResult {
	if err.File == "" {
		return manualResult("import error without a file location; inspect the build output")
	}
	data, readErr := os.ReadFile(filepath.Join(sctx.ProjectRoot, err.File))
	if readErr != nil {
		return manualResult(fmt.Sprintf("cannot read %s: %v", err.File, readErr))
	}
	content := string(data)

	m := cannotFindModuleRe.FindStringSubmatch(err.Message)
	if m != nil {
		if line, ok := lastImportLine(content); ok {
			insertion := fmt.Sprintf("%s\nimport '%s';", line, m[1])
			return model.FixResult{
				Success:   true,
				Reasoning: fmt.Sprintf("inserted side-effect import for '%s' after the last import in %s", m[1], err.File),
				Changes: []model.FileChange{{
					Path:         err.File,
					Kind:         model.ChangeModify,
					Replacements: []model.ReplacePair{{Search: line, Replace: insertion}},
				}},
			}
		}
	}

	return manualResult("could not synthesize an import; add the missing import manually")
}

// lastImportLine returns the final top-level import statement line.
func lastImportLine(content string) (string, bool) {
	var last string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "import'") {
			last = line
		}
	}
	return last, last != ""
}

// standaloneStrategy adds a missing imports array to a standalone component
// declaration.
type standaloneStrategy struct{}

func (s *standaloneStrategy) Name() string             { return "standalone" }
func (s *standaloneStrategy) Category() model.Category { return model.CategoryStandalone }

func (s *standaloneStrategy) CanHandle(err model.BuildError) bool {
	return err.Category == model.CategoryStandalone
}

var componentDecoratorRe = regexp.MustCompile(`@Component\(\{`)

func (s *standaloneStrategy) Apply(_ context.Context, err model.BuildError, sctx Context) model.FixResult {
	if err.File == "" {
		return manualResult("standalone component error without a file location")
	}
	data, readErr := os.ReadFile(filepath.Join(sctx.ProjectRoot, err.File))
	if readErr != nil {
		return manualResult(fmt.Sprintf("cannot read %s: %v", err.File, readErr))
	}
	content := string(data)

	loc := componentDecoratorRe.FindStringIndex(content)
	if loc == nil {
		return manualResult("no @Component decorator found; fix the component manually")
	}
	if strings.Contains(content, "imports:") {
		return manualResult("component already declares imports; the missing entry must be added manually")
	}

	anchor := content[loc[0]:loc[1]]
	return model.FixResult{
		Success:   true,
		Reasoning: fmt.Sprintf("added empty imports array to the component declaration in %s", err.File),
		Changes: []model.FileChange{{
			Path: err.File,
			Kind: model.ChangeModify,
			Replacements: []model.ReplacePair{{
				Search:  anchor,
				Replace: anchor + "\n  imports: [],",
			}},
		}},
	}
}

// nullabilityStrategy rewrites a flagged line to optional-chaining member
// access. Low risk: it touches exactly one line.
type nullabilityStrategy struct{}

func (s *nullabilityStrategy) Name() string             { return "nullability" }
func (s *nullabilityStrategy) Category() model.Category { return model.CategoryTypescript }

var nullabilityCodes = regexp.MustCompile(`\bTS(2531|2532|2533|18047|18048)\b`)

func (s *nullabilityStrategy) CanHandle(err model.BuildError) bool {
	return err.Category == model.CategoryTypescript && nullabilityCodes.MatchString(err.Message)
}

var memberAccessRe = regexp.MustCompile(`([A-Za-z_$][\w$]*)\.([A-Za-z_$])`)

func (s *nullabilityStrategy) Apply(_ context.Context, err model.BuildError, sctx Context) model.FixResult {
	if err.File == "" || err.Line == 0 {
		return manualResult("nullability error without a usable location")
	}
	data, readErr := os.ReadFile(filepath.Join(sctx.ProjectRoot, err.File))
	if readErr != nil {
		return manualResult(fmt.Sprintf("cannot read %s: %v", err.File, readErr))
	}
	lines := strings.Split(string(data), "\n")
	if err.Line > len(lines) {
		return manualResult("reported line is outside the file")
	}

	original := lines[err.Line-1]
	rewritten := optionalChain(original)
	if rewritten == original {
		return manualResult("flagged line has no member access to guard; fix manually")
	}
	return model.FixResult{
		Success:   true,
		Reasoning: fmt.Sprintf("guarded member access with optional chaining on %s:%d", err.File, err.Line),
		Changes: []model.FileChange{{
			Path:         err.File,
			Kind:         model.ChangeModify,
			Replacements: []model.ReplacePair{{Search: original, Replace: rewritten}},
		}},
	}
}

func optionalChain(line string) string {
	prev := ""
	for prev != line {
		prev = line
		line = memberAccessRe.ReplaceAllString(line, "$1?.$2")
	}
	return line
}

// unknownStrategy is the catch-all: a generic AI code fix over a window of
// lines around the reported position.
type unknownStrategy struct{}

func (s *unknownStrategy) Name() string             { return "unknown" }
func (s *unknownStrategy) Category() model.Category { return model.CategoryUnknown }

func (s *unknownStrategy) CanHandle(_ model.BuildError) bool { return true }

const contextWindow = 10

func (s *unknownStrategy) Apply(ctx context.Context, err model.BuildError, sctx Context) model.FixResult {
	if sctx.Fixer == nil {
		return manualResult("no reasoning backend configured for unclassified errors")
	}

	window := ""
	if err.File != "" {
		if data, readErr := os.ReadFile(filepath.Join(sctx.ProjectRoot, err.File)); readErr == nil {
			window = lineWindow(string(data), err.Line, contextWindow)
		}
	}

	res, fixErr := sctx.Fixer.FixCode(ctx, err, window)
	if fixErr != nil {
		return manualResult(fmt.Sprintf("code fix request failed: %v", fixErr))
	}
	if !res.Success {
		if res.RequiresManual {
			return res
		}
		return manualResult("reasoning backend returned no applicable changes")
	}
	return res
}

func lineWindow(content string, line, radius int) string {
	lines := strings.Split(content, "\n")
	if line <= 0 || line > len(lines) {
		return content
	}
	start := max(0, line-1-radius)
	end := min(len(lines), line+radius)
	return strings.Join(lines[start:end], "\n")
}

func manualResult(suggestion string) model.FixResult {
	return model.FixResult{
		Success:        false,
		RequiresManual: true,
		Suggestion:     suggestion,
	}
}
