package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ngmend/ngmend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyExactReplace(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "svc.ts", "const x = foo.bar();\n")

	a := NewApplier(dir)
	applied, err := a.Apply([]model.FileChange{{
		Path: "svc.ts",
		Kind: model.ChangeModify,
		Replacements: []model.ReplacePair{
			{Search: "foo.bar()", Replace: "foo?.bar()"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	data, err := os.ReadFile(filepath.Join(dir, "svc.ts"))
	require.NoError(t, err)
	assert.Equal(t, "const x = foo?.bar();\n", string(data))
	assert.Equal(t, []string{"svc.ts"}, a.ModifiedFiles())
}

func TestApplyFuzzyReplacePreservesIndent(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "svc.ts", "export class A {\n    const x = foo.bar();\n}\n")

	a := NewApplier(dir)
	applied, err := a.Apply([]model.FileChange{{
		Path: "svc.ts",
		Kind: model.ChangeModify,
		Replacements: []model.ReplacePair{
			// extra interior spaces force the fuzzy path
			{Search: "const  x =  foo.bar();", Replace: "const x = foo?.bar();"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	data, err := os.ReadFile(filepath.Join(dir, "svc.ts"))
	require.NoError(t, err)
	assert.Equal(t, "export class A {\n    const x = foo?.bar();\n}\n", string(data))
}

func TestApplyStripsLineNumberPrefixes(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.ts", "value.method();\n")

	a := NewApplier(dir)
	applied, err := a.Apply([]model.FileChange{{
		Path: "a.ts",
		Kind: model.ChangeModify,
		Replacements: []model.ReplacePair{
			{Search: "12: value.method();", Replace: "12: value?.method();"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	data, _ := os.ReadFile(filepath.Join(dir, "a.ts"))
	assert.Equal(t, "value?.method();\n", string(data))
}

func TestApplyMissedReplacementIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.ts", "unrelated();\n")

	a := NewApplier(dir)
	applied, err := a.Apply([]model.FileChange{{
		Path: "a.ts",
		Kind: model.ChangeModify,
		Replacements: []model.ReplacePair{
			{Search: "does not exist", Replace: "whatever"},
		},
	}})
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Empty(t, a.ModifiedFiles())

	data, _ := os.ReadFile(filepath.Join(dir, "a.ts"))
	assert.Equal(t, "unrelated();\n", string(data))
}

func TestApplyEmptyModifyIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.ts", "keep\n")

	a := NewApplier(dir)
	applied, err := a.Apply([]model.FileChange{{Path: "a.ts", Kind: model.ChangeModify}})
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestApplyFullReplace(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.ts", "old\n")

	a := NewApplier(dir)
	applied, err := a.Apply([]model.FileChange{{
		Path:        "a.ts",
		Kind:        model.ChangeModify,
		Content:     "new\n",
		FullReplace: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	data, _ := os.ReadFile(filepath.Join(dir, "a.ts"))
	assert.Equal(t, "new\n", string(data))
}

func TestApplyCreateAndDelete(t *testing.T) {
	dir := t.TempDir()
	a := NewApplier(dir)

	applied, err := a.Apply([]model.FileChange{{
		Path:    "src/new.ts",
		Kind:    model.ChangeCreate,
		Content: "export const created = true;\n",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.FileExists(t, filepath.Join(dir, "src", "new.ts"))

	applied, err = a.Apply([]model.FileChange{{Path: "src/new.ts", Kind: model.ChangeDelete}})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoFileExists(t, filepath.Join(dir, "src", "new.ts"))
}

func TestApplyReplacementsPrecedeContent(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.ts", "foo.bar();\n")

	a := NewApplier(dir)
	_, err := a.Apply([]model.FileChange{{
		Path:         "a.ts",
		Kind:         model.ChangeModify,
		Content:      "FULL CONTENT MUST NOT WIN\n",
		Replacements: []model.ReplacePair{{Search: "foo.bar()", Replace: "foo?.bar()"}},
	}})
	require.NoError(t, err)

	data, _ := os.ReadFile(filepath.Join(dir, "a.ts"))
	assert.Equal(t, "foo?.bar();\n", string(data))
}
