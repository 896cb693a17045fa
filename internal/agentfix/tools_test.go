package agentfix

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestReadFileRange(t *testing.T) {
	root := writeProject(t, map[string]string{
		"src/a.ts": "one\ntwo\nthree\nfour\n",
	})
	tb := NewToolbox(root, time.Second)

	out, err := tb.readFile(map[string]any{"path": "src/a.ts", "start": float64(2), "end": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "2: two\n3: three\n", out)
}

func TestReadFileRejectsEscape(t *testing.T) {
	tb := NewToolbox(t.TempDir(), time.Second)
	_, err := tb.readFile(map[string]any{"path": "../../etc/passwd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes project root")
}

func TestSearchCodeSkipsNodeModules(t *testing.T) {
	root := writeProject(t, map[string]string{
		"src/a.ts":                "observable.toPromise();\n",
		"node_modules/rxjs/x.ts":  "toPromise\n",
		"dist/bundle.js":          "toPromise\n",
	})
	tb := NewToolbox(root, time.Second)

	out, err := tb.searchCode(map[string]any{"pattern": "toPromise"})
	require.NoError(t, err)
	assert.Contains(t, out, "src/a.ts:1:")
	assert.NotContains(t, out, "node_modules")
	assert.NotContains(t, out, "dist")
}

func TestListFilesGlob(t *testing.T) {
	root := writeProject(t, map[string]string{
		"src/a.ts":   "",
		"src/a.html": "",
		"src/b.ts":   "",
	})
	tb := NewToolbox(root, time.Second)

	out, err := tb.listFiles(map[string]any{"dir": "src", "glob": "*.ts"})
	require.NoError(t, err)
	assert.Equal(t, "src/a.ts\nsrc/b.ts", out)
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	tb := NewToolbox(t.TempDir(), time.Second)

	out, err := tb.runCommand(context.Background(), map[string]any{"command": "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRunCommandTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	tb := NewToolbox(t.TempDir(), 50*time.Millisecond)

	_, err := tb.runCommand(context.Background(), map[string]any{"command": "sleep 5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCheckPackage(t *testing.T) {
	root := writeProject(t, map[string]string{
		"package.json": `{"dependencies": {"rxjs": "^7.8.0"}}`,
	})
	tb := NewToolbox(root, time.Second)

	out, err := tb.checkPackage(map[string]any{"name": "rxjs"})
	require.NoError(t, err)
	assert.Contains(t, out, "declared: dependencies ^7.8.0")
	assert.Contains(t, out, "installed: no")

	out, err = tb.checkPackage(map[string]any{"name": "protractor"})
	require.NoError(t, err)
	assert.Contains(t, out, "declared: not declared")
	assert.Contains(t, out, "known problem package")
}

func TestAnalyzeRuntimeError(t *testing.T) {
	out, err := analyzeRuntimeError(map[string]any{"message": "TypeError: Cannot convert undefined or null to object"})
	require.NoError(t, err)
	assert.Contains(t, out, "incompatible")

	out, err = analyzeRuntimeError(map[string]any{"message": "something completely novel"})
	require.NoError(t, err)
	assert.Contains(t, out, "no known signature")
}

func TestExecuteAllIsolatesFailures(t *testing.T) {
	root := writeProject(t, map[string]string{"src/a.ts": "x\n"})
	tb := NewToolbox(root, time.Second)

	results := tb.ExecuteAll(context.Background(), []ToolCall{
		{Name: "read_file", Args: map[string]any{"path": "src/a.ts"}},
		{Name: "read_file", Args: map[string]any{"path": "missing.ts"}},
		{Name: "list_files", Args: map[string]any{"dir": "src"}},
	})
	require.Len(t, results, 3)
	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.False(t, results[2].Failed())
	assert.Equal(t, "src/a.ts", results[2].Output)
}
