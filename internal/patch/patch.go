// Package patch applies FileChange edits to the project tree. It is the only
// component allowed to write project files; strategies and the agent engine
// always return changes as data.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ngmend/ngmend/internal/model"
	"github.com/rs/zerolog/log"
)

// Applier applies proposed changes and records which files were modified.
type Applier struct {
	projectRoot string
	modified    map[string]struct{}
}

// NewApplier creates an applier rooted at the project directory.
func NewApplier(projectRoot string) *Applier {
	return &Applier{
		projectRoot: projectRoot,
		modified:    make(map[string]struct{}),
	}
}

// ModifiedFiles returns the project-relative paths written so far.
func (a *Applier) ModifiedFiles() []string {
	out := make([]string, 0, len(a.modified))
	for p := range a.modified {
		out = append(out, p)
	}
	return out
}

// Apply applies all changes in order. It returns the number of changes that
// actually modified the tree; a change whose replacements all miss and that
// carries no content is a no-op, not an error.
func (a *Applier) Apply(changes []model.FileChange) (int, error) {
	applied := 0
	for _, change := range changes {
		ok, err := a.applyOne(change)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func (a *Applier) applyOne(change model.FileChange) (bool, error) {
	path := filepath.Join(a.projectRoot, change.Path)

	switch change.Kind {
	case model.ChangeDelete:
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("delete %s: %w", change.Path, err)
		}
		a.modified[change.Path] = struct{}{}
		return true, nil

	case model.ChangeCreate:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return false, fmt.Errorf("create dir for %s: %w", change.Path, err)
		}
		if err := os.WriteFile(path, []byte(change.Content), 0o644); err != nil {
			return false, fmt.Errorf("create %s: %w", change.Path, err)
		}
		a.modified[change.Path] = struct{}{}
		return true, nil

	case model.ChangeModify:
		return a.modify(change, path)

	default:
		return false, fmt.Errorf("unknown change kind %q for %s", change.Kind, change.Path)
	}
}

func (a *Applier) modify(change model.FileChange, path string) (bool, error) {
	// search/replace pairs take precedence over full content
	if len(change.Replacements) > 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return false, fmt.Errorf("read %s: %w", change.Path, err)
		}
		content := string(data)
		replaced := 0
		for _, pair := range change.Replacements {
			next, ok := replaceOne(content, pair)
			if ok {
				content = next
				replaced++
			} else {
				log.Warn().
					Str("file", change.Path).
					Str("search", truncate(pair.Search, 80)).
					Msg("search text not found, replacement skipped")
			}
		}
		if replaced == 0 {
			return false, nil
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return false, fmt.Errorf("write %s: %w", change.Path, err)
		}
		a.modified[change.Path] = struct{}{}
		return true, nil
	}

	if change.Content == "" {
		return false, nil
	}
	if !change.FullReplace {
		log.Warn().
			Str("file", change.Path).
			Msg("applying full-content replacement without explicit marker; this is unsafe")
	}
	if err := os.WriteFile(path, []byte(change.Content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", change.Path, err)
	}
	a.modified[change.Path] = struct{}{}
	return true, nil
}

var lineNumberPrefix = regexp.MustCompile(`(?m)^\s*\d+[:|]\s?`)

// replaceOne performs one search/replace against content: exact substring
// first, then a whitespace-normalized match that preserves the original
// block's indentation.
func replaceOne(content string, pair model.ReplacePair) (string, bool) {
	search := stripLineNumbers(pair.Search)
	replace := stripLineNumbers(pair.Replace)

	if strings.Contains(content, search) {
		return strings.Replace(content, search, replace, 1), true
	}
	return fuzzyReplace(content, search, replace)
}

// stripLineNumbers removes "12: " style prefixes the reasoning backend
// sometimes embeds in quoted code.
func stripLineNumbers(s string) string {
	return lineNumberPrefix.ReplaceAllString(s, "")
}

var hspace = regexp.MustCompile(`[ \t]+`)

func normalizeLine(s string) string {
	return strings.TrimSpace(hspace.ReplaceAllString(s, " "))
}

// fuzzyReplace locates the search block by trimmed-line comparison and
// substitutes it, keeping the indentation of the first original line.
func fuzzyReplace(content, search, replace string) (string, bool) {
	searchLines := splitLines(search)
	if len(searchLines) == 0 {
		return content, false
	}
	contentLines := splitLines(content)

	want := make([]string, len(searchLines))
	for i, l := range searchLines {
		want[i] = normalizeLine(l)
	}

	for start := 0; start+len(want) <= len(contentLines); start++ {
		match := true
		for i := range want {
			if normalizeLine(contentLines[start+i]) != want[i] {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		indent := leadingWhitespace(contentLines[start])
		replLines := splitLines(replace)
		for i, l := range replLines {
			replLines[i] = indent + strings.TrimLeft(l, " \t")
		}

		out := make([]string, 0, len(contentLines)-len(want)+len(replLines))
		out = append(out, contentLines[:start]...)
		out = append(out, replLines...)
		out = append(out, contentLines[start+len(want):]...)
		return strings.Join(out, "\n"), true
	}
	return content, false
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
