// Package report renders the per-run change log as markdown.
package report

import (
	"fmt"
	"strings"

	"github.com/ngmend/ngmend/internal/db"
)

// Input is everything a run report needs.
type Input struct {
	Run   db.RunSummary
	Fixes []db.FixRecord
}

// Markdown renders the full run report.
func Markdown(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Upgrade run %s\n\n", in.Run.RunID)
	fmt.Fprintf(&b, "- Target version: Angular %s\n", in.Run.TargetVersion)
	fmt.Fprintf(&b, "- Started: %s\n", in.Run.CreatedAt)
	fmt.Fprintf(&b, "- Status: %s\n", in.Run.Status)
	fmt.Fprintf(&b, "- Build attempts: %d\n", in.Run.Attempts)
	if in.Run.RolledBack {
		b.WriteString("- **All changes were rolled back** after repeated regressions\n")
	}
	b.WriteString("\n")

	applied, manual := split(in.Fixes)

	if len(applied) == 0 && len(manual) == 0 {
		b.WriteString("No fixes were attempted.\n")
		return b.String()
	}

	if len(applied) > 0 {
		b.WriteString("## Applied fixes\n\n")
		b.WriteString("| Attempt | Category | Location | Fixed by | Confidence |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, f := range applied {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				f.Attempt, f.Category, location(f), f.FixedBy, confidence(f.Confidence))
		}
		b.WriteString("\n")
	}

	if len(manual) > 0 {
		b.WriteString("## Manual follow-ups\n\n")
		for _, f := range manual {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", location(f), f.Category, followUp(f))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func split(fixes []db.FixRecord) (applied, manual []db.FixRecord) {
	for _, f := range fixes {
		if f.Success {
			applied = append(applied, f)
			continue
		}
		if f.RequiresManual || f.Suggestion != "" {
			manual = append(manual, f)
		}
	}
	return applied, manual
}

func location(f db.FixRecord) string {
	if f.File == "" {
		return "(no file)"
	}
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return f.File
}

func confidence(c float64) string {
	if c <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", c*100)
}

func followUp(f db.FixRecord) string {
	if f.Suggestion != "" {
		return f.Suggestion
	}
	return truncate(f.Message, 120)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
