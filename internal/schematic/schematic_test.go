package schematic

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngmend/ngmend/internal/model"
)

func TestMatchControlFlow(t *testing.T) {
	s, ok := Match(model.BuildError{
		Category: model.CategoryTemplate,
		Message:  "NG8103: The `*ngIf` directive was used in a template, but neither the NgIf directive nor the CommonModule was imported.",
	})
	require.True(t, ok)
	assert.Equal(t, "control-flow", s.Name)
	assert.Equal(t, "@angular/core:control-flow", s.generator())
}

func TestMatchStandalone(t *testing.T) {
	s, ok := Match(model.BuildError{
		Category: model.CategoryStandalone,
		Message:  "Component AppComponent is not standalone and cannot be imported directly.",
	})
	require.True(t, ok)
	assert.Equal(t, "standalone-migration", s.Name)
}

func TestMatchRouteLazyLoading(t *testing.T) {
	s, ok := Match(model.BuildError{
		Category: model.CategoryRouter,
		Message:  "loadChildren string syntax is no longer supported",
	})
	require.True(t, ok)
	assert.Equal(t, "route-lazy-loading", s.Name)
}

func TestMatchNothingForTypescript(t *testing.T) {
	_, ok := Match(model.BuildError{
		Category: model.CategoryTypescript,
		Message:  "error TS2322: Type 'string' is not assignable to type 'number'.",
	})
	assert.False(t, ok)
}

func TestRunOncePerSession(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	r := NewRunner(t.TempDir(), time.Second)
	r.ngCmd = []string{"sh", "-c", "exit 0", "--"}

	s, ok := byName("control-flow")
	require.True(t, ok)
	assert.False(t, r.Used(s))

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "schematic:control-flow", res.FixedBy)
	assert.True(t, r.Used(s))

	_, err = r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already ran")
}

func TestRunSurfacesFailureOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	r := NewRunner(t.TempDir(), time.Second)
	r.ngCmd = []string{"sh", "-c", "echo schematic exploded; exit 1", "--"}

	s, _ := byName("signals")
	_, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schematic exploded")
}
