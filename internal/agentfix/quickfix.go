package agentfix

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ngmend/ngmend/internal/model"
)

// incompatiblePackages lists packages with a history of breaking Angular
// major-version upgrades, with the reason they break.
var incompatiblePackages = map[string]string{
	"protractor":         "end-of-life, removed from Angular CLI workspaces",
	"tslint":             "end-of-life, replaced by eslint",
	"codelyzer":          "tslint plugin, dead with tslint",
	"node-sass":          "superseded by sass, fails on modern toolchains",
	"phantomjs-prebuilt": "abandoned headless browser, breaks test runs",
	"@angular/flex-layout": "discontinued, incompatible past v15",
}

// quickFix is the outcome of the pre-reasoning signature scan.
type quickFix struct {
	Package    string
	Confidence float64
	Note       string
}

// scanQuickFix checks the error against known failure signatures before any
// reasoning happens. A null-to-object conversion failure mentioning a known
// problem package is near-certain to be that package.
func scanQuickFix(buildErr model.BuildError) (quickFix, bool) {
	lower := strings.ToLower(buildErr.Message)
	pkg := mentionedIncompatiblePackage(lower)
	if pkg == "" {
		return quickFix{}, false
	}
	if strings.Contains(lower, "cannot convert undefined or null to object") {
		return quickFix{
			Package:    pkg,
			Confidence: 0.95,
			Note:       fmt.Sprintf("%s is %s", pkg, incompatiblePackages[pkg]),
		}, true
	}
	return quickFix{
		Package:    pkg,
		Confidence: 0.75,
		Note:       fmt.Sprintf("error mentions %s, which is %s", pkg, incompatiblePackages[pkg]),
	}, true
}

func mentionedIncompatiblePackage(message string) string {
	for pkg := range incompatiblePackages {
		if strings.Contains(message, pkg) {
			return pkg
		}
	}
	return ""
}

// synthesizeRemoval builds the fix for a confirmed incompatible package:
// drop its imports from source files and its entry from package.json. This
// is the one path allowed to touch the manifest, since removing the package
// is the fix.
func synthesizeRemoval(root, pkg string, qf quickFix, tb *Toolbox) (model.FixResult, error) {
	var changes []model.FileChange

	if pair, ok := manifestRemoval(root, pkg); ok {
		changes = append(changes, model.FileChange{
			Path:         "package.json",
			Kind:         model.ChangeModify,
			Replacements: []model.ReplacePair{pair},
		})
	}

	importRe := regexp.MustCompile(`(?m)^\s*import\s[^;]*['"]` + regexp.QuoteMeta(pkg) + `(/[^'"]*)?['"];?\s*\r?\n`)
	err := tb.walkSource(func(rel, abs string) error {
		if !strings.HasSuffix(rel, ".ts") {
			return nil
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil
		}
		var pairs []model.ReplacePair
		for _, line := range importRe.FindAllString(string(data), -1) {
			pairs = append(pairs, model.ReplacePair{Search: line, Replace: ""})
		}
		if len(pairs) > 0 {
			changes = append(changes, model.FileChange{Path: rel, Kind: model.ChangeModify, Replacements: pairs})
		}
		return nil
	})
	if err != nil {
		return model.FixResult{}, fmt.Errorf("scan imports of %s: %w", pkg, err)
	}

	if len(changes) == 0 {
		return model.FixResult{}, fmt.Errorf("package %s not referenced anywhere", pkg)
	}

	log.Info().Str("package", pkg).Int("changes", len(changes)).Msg("quick fix: removing incompatible package")
	return model.FixResult{
		Success:    true,
		Changes:    changes,
		Reasoning:  qf.Note,
		Confidence: qf.Confidence,
		Suggestion: fmt.Sprintf("run npm install after this change to prune %s", pkg),
	}, nil
}

// manifestRemoval produces the replacement that deletes the package's line
// from package.json, taking the line text verbatim from the file.
func manifestRemoval(root, pkg string) (model.ReplacePair, bool) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return model.ReplacePair{}, false
	}
	text := string(data)
	lineRe := regexp.MustCompile(`(?m)^\s*"` + regexp.QuoteMeta(pkg) + `"\s*:\s*"[^"]*",?\r?\n`)
	loc := lineRe.FindStringIndex(text)
	if loc == nil {
		return model.ReplacePair{}, false
	}
	line := text[loc[0]:loc[1]]
	if strings.Contains(line, ",") {
		return model.ReplacePair{Search: line}, true
	}
	// Last entry in its block: absorb the comma that terminated the previous
	// entry so the manifest stays valid JSON.
	if idx := strings.LastIndex(text[:loc[0]], ","); idx != -1 {
		return model.ReplacePair{Search: text[idx:loc[1]], Replace: "\n"}, true
	}
	return model.ReplacePair{Search: line}, true
}
