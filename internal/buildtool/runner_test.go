package buildtool

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestBuildSuccess(t *testing.T) {
	skipWithoutSh(t)
	r, err := NewRunner(t.TempDir(), Config{
		BuildCmd: []string{"sh", "-c", "echo compiled; exit 0"},
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	res, err := r.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "compiled")
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestBuildFailureCapturesOutput(t *testing.T) {
	skipWithoutSh(t)
	r, err := NewRunner(t.TempDir(), Config{
		BuildCmd: []string{"sh", "-c", "echo 'error TS2322: boom' >&2; exit 1"},
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	res, err := r.Build(context.Background())
	require.NoError(t, err, "build failures are results, not errors")
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "error TS2322")
}

func TestBuildTimeout(t *testing.T) {
	skipWithoutSh(t)
	r, err := NewRunner(t.TempDir(), Config{
		BuildCmd: []string{"sh", "-c", "sleep 5"},
		Timeout:  50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = r.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestTestCommandOptional(t *testing.T) {
	r, err := NewRunner(t.TempDir(), Config{BuildCmd: []string{"true"}, Timeout: time.Second})
	require.NoError(t, err)

	res, err := r.Test(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRunnerRequiresBuildCmd(t *testing.T) {
	_, err := NewRunner(t.TempDir(), Config{})
	assert.Error(t, err)
}
