package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ngmend/ngmend/internal/db"
)

func sampleRun() db.RunSummary {
	return db.RunSummary{
		RunID:         "20260825-101500-ab12cd",
		CreatedAt:     "2026-08-25T10:15:00Z",
		TargetVersion: "20",
		Status:        "succeeded",
		Attempts:      3,
	}
}

func TestMarkdownFullReport(t *testing.T) {
	out := Markdown(Input{
		Run: sampleRun(),
		Fixes: []db.FixRecord{
			{Attempt: 1, Category: "typescript", File: "src/a.ts", Line: 12, FixedBy: "nullability", Success: true, Confidence: 0.9},
			{Attempt: 2, Category: "import", File: "src/b.ts", FixedBy: "import", Success: true},
			{Attempt: 2, Category: "dependency", Message: "npm ERR! peer dep", Suggestion: "run: npm install x@latest", RequiresManual: true},
		},
	})

	assert.Contains(t, out, "# Upgrade run 20260825-101500-ab12cd")
	assert.Contains(t, out, "Target version: Angular 20")
	assert.Contains(t, out, "## Applied fixes")
	assert.Contains(t, out, "| 1 | typescript | src/a.ts:12 | nullability | 90% |")
	assert.Contains(t, out, "| 2 | import | src/b.ts | import | - |")
	assert.Contains(t, out, "## Manual follow-ups")
	assert.Contains(t, out, "run: npm install x@latest")
	assert.NotContains(t, out, "rolled back")
}

func TestMarkdownRolledBack(t *testing.T) {
	run := sampleRun()
	run.Status = "rolled_back"
	run.RolledBack = true

	out := Markdown(Input{Run: run})
	assert.Contains(t, out, "rolled back")
	assert.Contains(t, out, "No fixes were attempted.")
}
