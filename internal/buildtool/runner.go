// Package buildtool shells out to the project's build and test commands and
// captures their combined output for classification.
package buildtool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Config names the commands to run, argv style.
type Config struct {
	BuildCmd []string      `json:"build_cmd" mapstructure:"build_cmd"`
	TestCmd  []string      `json:"test_cmd,omitempty" mapstructure:"test_cmd"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		BuildCmd: []string{"npx", "ng", "build"},
		Timeout:  10 * time.Minute,
	}
}

// Result is one finished build or test invocation.
type Result struct {
	Success  bool
	Output   string
	Duration time.Duration
}

// Runner executes the configured commands inside the project root.
type Runner struct {
	root string
	cfg  Config
}

func NewRunner(projectRoot string, cfg Config) (*Runner, error) {
	if len(cfg.BuildCmd) == 0 {
		return nil, fmt.Errorf("build command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Runner{root: projectRoot, cfg: cfg}, nil
}

// Build runs the build command. A non-zero exit is not an error: the caller
// classifies the output either way.
func (r *Runner) Build(ctx context.Context) (Result, error) {
	return r.run(ctx, r.cfg.BuildCmd)
}

// Test runs the optional test command. Absent configuration is a successful
// no-op.
func (r *Runner) Test(ctx context.Context) (Result, error) {
	if len(r.cfg.TestCmd) == 0 {
		return Result{Success: true}, nil
	}
	return r.run(ctx, r.cfg.TestCmd)
}

func (r *Runner) run(ctx context.Context, argv []string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	log.Info().Strs("cmd", argv).Msg("running build tool")
	start := time.Now()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := Result{
		Success:  err == nil,
		Output:   out.String(),
		Duration: time.Since(start),
	}
	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s timed out after %s", argv[0], r.cfg.Timeout)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("start %s: %w", argv[0], err)
	}

	log.Info().Bool("success", res.Success).Dur("duration", res.Duration).Msg("build tool finished")
	return res, nil
}
