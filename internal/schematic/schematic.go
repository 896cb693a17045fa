// Package schematic maps build errors to the official Angular migration
// schematics and runs them through ng generate. Only allow-listed schematics
// run, and each one runs at most once per session: a schematic that did not
// clear an error the first time will not clear it the second time either.
package schematic

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ngmend/ngmend/internal/model"
)

// Schematic is one allow-listed ng generate invocation.
type Schematic struct {
	Name       string
	Collection string
	Args       []string
}

func (s Schematic) generator() string {
	return s.Collection + ":" + s.Name
}

// allowed are the official migrations this tool may run unattended. Anything
// else goes to the agent instead.
var allowed = []Schematic{
	{Name: "control-flow", Collection: "@angular/core", Args: []string{"--defaults"}},
	{Name: "inject-migration", Collection: "@angular/core", Args: []string{"--defaults"}},
	{Name: "route-lazy-loading", Collection: "@angular/core", Args: []string{"--defaults"}},
	{Name: "standalone-migration", Collection: "@angular/core", Args: []string{"--defaults", "--mode=convert-to-standalone"}},
	{Name: "signals", Collection: "@angular/core", Args: []string{"--defaults"}},
}

func byName(name string) (Schematic, bool) {
	for _, s := range allowed {
		if s.Name == name {
			return s, true
		}
	}
	return Schematic{}, false
}

// Match picks the schematic that addresses this error, if any.
func Match(buildErr model.BuildError) (Schematic, bool) {
	msg := strings.ToLower(buildErr.Message)
	switch {
	case strings.Contains(msg, "*ngif"), strings.Contains(msg, "*ngfor"),
		strings.Contains(msg, "ngswitch"), strings.Contains(msg, "structural directive"):
		return byName("control-flow")
	case buildErr.Category == model.CategoryStandalone,
		strings.Contains(msg, "ngmodule"), strings.Contains(msg, "is not standalone"):
		return byName("standalone-migration")
	case strings.Contains(msg, "constructor injection"), strings.Contains(msg, "parameter decorators"):
		return byName("inject-migration")
	case buildErr.Category == model.CategoryRouter && strings.Contains(msg, "loadchildren"):
		return byName("route-lazy-loading")
	default:
		return Schematic{}, false
	}
}

// Runner executes schematics and tracks which already ran this session.
type Runner struct {
	root    string
	timeout time.Duration
	ngCmd   []string
	used    map[string]bool
}

func NewRunner(projectRoot string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{
		root:    projectRoot,
		timeout: timeout,
		ngCmd:   []string{"npx", "ng"},
		used:    map[string]bool{},
	}
}

// Used reports whether the schematic already ran this session.
func (r *Runner) Used(s Schematic) bool {
	return r.used[s.generator()]
}

// Run executes one schematic. The schematic edits the workspace itself, so
// the result carries no file changes; the caller rebuilds to see the effect.
func (r *Runner) Run(ctx context.Context, s Schematic) (model.FixResult, error) {
	gen := s.generator()
	if r.used[gen] {
		return model.FixResult{}, fmt.Errorf("schematic %s already ran this session", gen)
	}
	r.used[gen] = true

	argv := append(append(append([]string{}, r.ngCmd...), "generate", gen), s.Args...)
	log.Info().Str("schematic", gen).Msg("running migration schematic")

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return model.FixResult{}, fmt.Errorf("schematic %s timed out after %s", gen, r.timeout)
	}
	if err != nil {
		return model.FixResult{}, fmt.Errorf("schematic %s: %w\n%s", gen, err, strings.TrimSpace(string(out)))
	}

	return model.FixResult{
		Success:   true,
		Reasoning: fmt.Sprintf("ran official migration %s", gen),
		FixedBy:   "schematic:" + s.Name,
	}, nil
}
