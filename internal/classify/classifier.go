// Package classify turns raw build output into typed, deduplicated build
// errors. The rule table is ordered: more specific categories are matched
// before generic ones, and anything unmatched falls back to unknown.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ngmend/ngmend/internal/model"
)

// location is an optional file position supplied by a rule's extractor.
type location struct {
	file   string
	line   int
	column int
}

type rule struct {
	category model.Category
	re       *regexp.Regexp
	extract  func(m []string) location
}

// Rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		// ivy/aot mode notices are informational, never actionable edits
		category: model.CategoryCompilation,
		re:       regexp.MustCompile(`(?i)(JIT compilation|ivy compilation|compilation mode|AOT compilation) (is |has been |)(disabled|deprecated|required|changed)`),
	},
	{
		category: model.CategoryImport,
		re:       regexp.MustCompile(`[Cc]annot find module '([^']+)'`),
	},
	{
		category: model.CategoryDependency,
		re:       regexp.MustCompile(`(npm ERR!|ERESOLVE|peer dep(endency)? |Could not resolve dependency|Conflicting peer dependency)`),
	},
	{
		category: model.CategoryTemplate,
		re:       regexp.MustCompile(`\bNG[0-9]{4}\b|[Tt]emplate parse error|error in template`),
	},
	{
		category: model.CategoryRouter,
		re:       regexp.MustCompile(`(RouterModule|loadChildren|ActivatedRoute|Cannot match any routes)`),
	},
	{
		category: model.CategoryRxjs,
		re:       regexp.MustCompile(`(rxjs(/operators)?|Observable|toPromise\b|\.pipe\(|lettable operator)`),
	},
	{
		category: model.CategoryStandalone,
		re:       regexp.MustCompile(`(standalone component|is standalone|'imports' (array|property)|bootstrapApplication)`),
	},
	{
		category: model.CategorySSR,
		re:       regexp.MustCompile(`(window is not defined|document is not defined|ReferenceError: (window|document|localStorage)|server-side rendering|hydration)`),
	},
	{
		category: model.CategoryTypescript,
		re:       regexp.MustCompile(`\bTS([0-9]{4,5})\b`),
	},
	{
		category: model.CategoryCompilation,
		re:       regexp.MustCompile(`Error: (.+) at ([^\s:]+\.(?:ts|html|scss|css)):(\d+):(\d+)`),
		extract: func(m []string) location {
			line, _ := strconv.Atoi(m[3])
			col, _ := strconv.Atoi(m[4])
			return location{file: m[2], line: line, column: col}
		},
	},
}

var (
	fileContextPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Error in ([^\s:]+\.(?:ts|html|scss|css|js|mjs))`),
		regexp.MustCompile(`^\s*([^\s:]+\.(?:ts|html|scss|css|js|mjs)):(\d+):(\d+)`),
		regexp.MustCompile(`\bat ([^\s(]+\.(?:ts|js|mjs))\(`),
	}
	positionRe = regexp.MustCompile(`([^\s:]+\.(?:ts|html|scss|css|js|mjs)):(\d+):(\d+)`)
	tsCodeRe   = regexp.MustCompile(`\bTS[0-9]{4,5}\b`)
	ngCodeRe   = regexp.MustCompile(`\bNG[0-9]{4}\b`)
)

const maxPathLen = 260

// Classify parses one build attempt's combined output. Unparseable lines are
// skipped; the function never fails on malformed input.
func Classify(output string) []model.BuildError {
	var (
		out         []model.BuildError
		seen        = map[string]struct{}{}
		currentFile string
	)

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, "\r")
		if file, ok := fileContext(line); ok {
			currentFile = file
		}
		if !isErrorLine(line) {
			continue
		}

		err := classifyLine(line, currentFile)
		key := string(err.Category) + "|" + err.File + "|" + strconv.Itoa(err.Line) + "|" + err.Message
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, err)
	}
	return out
}

// GroupByCategory partitions errors by category, preserving order within
// each group.
func GroupByCategory(errs []model.BuildError) map[model.Category][]model.BuildError {
	groups := make(map[model.Category][]model.BuildError)
	for _, e := range errs {
		groups[e.Category] = append(groups[e.Category], e)
	}
	return groups
}

func classifyLine(line, currentFile string) model.BuildError {
	msg := strings.TrimSpace(line)
	for _, r := range rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		err := model.BuildError{
			Category: r.category,
			Message:  msg,
			File:     currentFile,
			Severity: model.SeverityError,
		}
		if r.category == model.CategoryCompilation && r.extract == nil {
			err.Severity = model.SeverityInfo
		}
		if r.extract != nil {
			loc := r.extract(m)
			if loc.file != "" {
				err.File = loc.file
			}
			err.Line = loc.line
			err.Column = loc.column
		}
		if err.Line == 0 {
			if pm := positionRe.FindStringSubmatch(line); pm != nil {
				err.File = pm[1]
				err.Line, _ = strconv.Atoi(pm[2])
				err.Column, _ = strconv.Atoi(pm[3])
			}
		}
		return err
	}
	return model.BuildError{
		Category: model.CategoryUnknown,
		Message:  msg,
		File:     currentFile,
		Severity: model.SeverityError,
	}
}

func isErrorLine(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	switch {
	case strings.Contains(line, "Error:"),
		strings.Contains(line, "ERROR"),
		strings.Contains(line, "✖"),
		tsCodeRe.MatchString(line),
		ngCodeRe.MatchString(line),
		strings.Contains(line, "npm ERR!"):
		return true
	case strings.Contains(line, "    at ") && strings.Contains(line, ".ts"):
		// stack frame pointing into project sources
		return true
	}
	return false
}

// fileContext extracts a plausible source path used as the running "current
// file" for error lines that carry no position of their own.
func fileContext(line string) (string, bool) {
	for _, re := range fileContextPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		candidate := m[1]
		if !plausiblePath(candidate) {
			continue
		}
		return candidate, true
	}
	return "", false
}

func plausiblePath(p string) bool {
	if len(p) == 0 || len(p) > maxPathLen {
		return false
	}
	// embedded error text masquerading as a path
	if strings.ContainsAny(p, " \t") || strings.Contains(p, "Error") {
		return false
	}
	return true
}
