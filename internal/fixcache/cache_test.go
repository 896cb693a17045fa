package fixcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ngmend/ngmend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleError(line int) model.BuildError {
	return model.BuildError{
		Category: model.CategoryTypescript,
		Message:  "src/app/a.ts:42:13 - error TS2532: Object is possibly 'undefined'.",
		File:     "src/app/a.ts",
		Line:     line,
		Severity: model.SeverityError,
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c, err := New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	buildErr := sampleError(42)
	result := model.FixResult{Success: true, Reasoning: "cached fix"}
	key := Key(buildErr, "ctx")
	c.Put(key, buildErr, "ctx", result)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, result, got)
	assert.Equal(t, model.CacheStats{Hits: 1}, c.Stats())
}

func TestKeyMasksPositionsInMessage(t *testing.T) {
	a := sampleError(42)
	b := sampleError(42)
	b.Message = "src/app/a.ts:57:2 - error TS2532: Object is possibly 'undefined'."
	assert.Equal(t, Key(a, "ctx"), Key(b, "ctx"))
}

func TestKeyDistinguishesCategoryFileLine(t *testing.T) {
	a := sampleError(42)
	b := sampleError(43)
	assert.NotEqual(t, Key(a, "ctx"), Key(b, "ctx"))

	c := sampleError(42)
	c.File = "src/app/b.ts"
	assert.NotEqual(t, Key(a, "ctx"), Key(c, "ctx"))
}

func TestCacheExpiry(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)

	buildErr := sampleError(1)
	key := Key(buildErr, "")
	c.Put(key, buildErr, "", model.FixResult{Success: true})

	// backdate the entry past the max age
	path := filepath.Join(dir, key+entryExt)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var e entry
	require.NoError(t, json.Unmarshal(data, &e))
	e.CachedAt = time.Now().Add(-time.Hour)
	stale, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, stale, 0o644))

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.NoFileExists(t, path, "expired entry must be removed on read")
	assert.Equal(t, 1, c.Stats().Misses)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour)
	require.NoError(t, err)

	key := Key(sampleError(1), "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+entryExt), []byte("{not json"), 0o644))

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestCacheWritesGitignoreMarker(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir, time.Hour)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ".gitignore"))
}

func TestCacheClearAndSize(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		e := sampleError(i)
		c.Put(Key(e, ""), e, "", model.FixResult{Success: true})
	}
	n, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	removed, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	n, err = c.Size()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.FileExists(t, filepath.Join(dir, ".gitignore"))
}
