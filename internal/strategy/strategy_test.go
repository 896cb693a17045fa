package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ngmend/ngmend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFixer struct {
	result model.FixResult
	err    error
	calls  int
}

func (f *fakeFixer) FixCode(_ context.Context, _ model.BuildError, _ string) (model.FixResult, error) {
	f.calls++
	return f.result, f.err
}

func testContext(t *testing.T, fixer CodeFixer) Context {
	t.Helper()
	return Context{
		ProjectRoot:   t.TempDir(),
		TargetVersion: "20",
		Fixer:         fixer,
	}
}

func writeProjectFile(t *testing.T, sctx Context, name, content string) {
	t.Helper()
	path := filepath.Join(sctx.ProjectRoot, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRegistryFirstMatchWins(t *testing.T) {
	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryCompilation,
		Message:  "JIT compilation is disabled",
		Severity: model.SeverityInfo,
	}
	res := reg.ApplyFix(context.Background(), err, testContext(t, nil))
	assert.True(t, res.Success)
	assert.Equal(t, "compilation-notice", res.FixedBy)
	assert.Empty(t, res.Changes)
}

func TestDependencySuggestsInstall(t *testing.T) {
	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryDependency,
		Message:  "npm ERR! Could not resolve dependency '@angular/material'",
		Severity: model.SeverityError,
	}
	res := reg.ApplyFix(context.Background(), err, testContext(t, nil))
	assert.True(t, res.Success)
	assert.Empty(t, res.Changes, "dependency strategy must not edit the manifest")
	assert.Contains(t, res.Suggestion, "@angular/material")
}

func TestDependencyRelativePathIsManual(t *testing.T) {
	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryDependency,
		Message:  "Could not resolve dependency './shared/util'",
		Severity: model.SeverityError,
	}
	res := reg.ApplyFix(context.Background(), err, testContext(t, nil))
	assert.False(t, res.Success)
	assert.True(t, res.RequiresManual)
}

func TestImportInsertsAfterLastImport(t *testing.T) {
	sctx := testContext(t, nil)
	writeProjectFile(t, sctx, "src/app/app.component.ts",
		"import { Component } from '@angular/core';\nimport { map } from 'rxjs';\n\nexport class AppComponent {}\n")

	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryImport,
		Message:  "Cannot find module 'rxjs/operators'",
		File:     "src/app/app.component.ts",
		Severity: model.SeverityError,
	}
	res := reg.ApplyFix(context.Background(), err, sctx)
	require.True(t, res.Success)
	require.Len(t, res.Changes, 1)
	require.Len(t, res.Changes[0].Replacements, 1)
	pair := res.Changes[0].Replacements[0]
	assert.Equal(t, "import { map } from 'rxjs';", pair.Search)
	assert.Contains(t, pair.Replace, "import 'rxjs/operators';")
}

func TestImportWithoutImportLinesIsManual(t *testing.T) {
	sctx := testContext(t, nil)
	writeProjectFile(t, sctx, "src/x.ts", "export const x = 1;\n")

	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryImport,
		Message:  "Cannot find module 'zone.js'",
		File:     "src/x.ts",
		Severity: model.SeverityError,
	}
	res := reg.ApplyFix(context.Background(), err, sctx)
	assert.False(t, res.Success)
	assert.True(t, res.RequiresManual)
	assert.Equal(t, "import", res.FixedBy, "the driver uses the strategy name to decide on escalation")
}

func TestStandaloneAddsImportsArray(t *testing.T) {
	sctx := testContext(t, nil)
	writeProjectFile(t, sctx, "src/app/hello.component.ts",
		"@Component({\n  selector: 'app-hello',\n  standalone: true,\n})\nexport class HelloComponent {}\n")

	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryStandalone,
		Message:  "component is standalone but has no 'imports' array",
		File:     "src/app/hello.component.ts",
		Severity: model.SeverityError,
	}
	res := reg.ApplyFix(context.Background(), err, sctx)
	require.True(t, res.Success)
	require.Len(t, res.Changes, 1)
	assert.Contains(t, res.Changes[0].Replacements[0].Replace, "imports: [],")
}

func TestNullabilityRewritesFlaggedLine(t *testing.T) {
	sctx := testContext(t, nil)
	writeProjectFile(t, sctx, "src/svc.ts", "const a = 1;\nconst name = user.profile.name;\n")

	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryTypescript,
		Message:  "error TS2532: Object is possibly 'undefined'.",
		File:     "src/svc.ts",
		Line:     2,
		Severity: model.SeverityError,
	}
	res := reg.ApplyFix(context.Background(), err, sctx)
	require.True(t, res.Success)
	require.Len(t, res.Changes, 1)
	pair := res.Changes[0].Replacements[0]
	assert.Equal(t, "const name = user.profile.name;", pair.Search)
	assert.Equal(t, "const name = user?.profile?.name;", pair.Replace)
}

func TestUnknownDelegatesToFixer(t *testing.T) {
	fixer := &fakeFixer{result: model.FixResult{
		Success: true,
		Changes: []model.FileChange{{
			Path:         "src/main.ts",
			Kind:         model.ChangeModify,
			Replacements: []model.ReplacePair{{Search: "a", Replace: "b"}},
		}},
	}}
	sctx := testContext(t, fixer)

	reg := NewRegistry()
	err := model.BuildError{
		Category: model.CategoryUnknown,
		Message:  "something novel broke",
		Severity: model.SeverityError,
	}
	res := reg.ApplyFix(context.Background(), err, sctx)
	assert.True(t, res.Success)
	assert.Equal(t, 1, fixer.calls)
}

func TestUnknownWithoutFixerIsManual(t *testing.T) {
	reg := NewRegistry()
	err := model.BuildError{Category: model.CategoryUnknown, Message: "x", Severity: model.SeverityError}
	res := reg.ApplyFix(context.Background(), err, testContext(t, nil))
	assert.False(t, res.Success)
	assert.True(t, res.RequiresManual)
}

func TestRouterFallsThroughToUnknown(t *testing.T) {
	// no dedicated router strategy: the catch-all owns it
	fixer := &fakeFixer{result: model.FixResult{Success: false}}
	reg := NewRegistry()
	err := model.BuildError{Category: model.CategoryRouter, Message: "Cannot match any routes", Severity: model.SeverityError}
	res := reg.ApplyFix(context.Background(), err, testContext(t, fixer))
	assert.False(t, res.Success)
	assert.Equal(t, "unknown", res.FixedBy)
}
