package llm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/metalagman/ainvoke"
)

// execClient shells out to a local CLI coding agent (claude, codex, gemini
// CLI, ...) through ainvoke. It exists for setups without direct API access.
type execClient struct {
	runner ainvoke.Runner
}

func newExecClient(cfg Config) (*execClient, error) {
	if len(cfg.Cmd) == 0 {
		return nil, fmt.Errorf("exec provider requires cmd")
	}
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{
		Cmd: cfg.Cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("init exec agent: %w", err)
	}
	return &execClient{runner: runner}, nil
}

func (c *execClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	runDir, err := os.MkdirTemp("", "ngmend-exec-*")
	if err != nil {
		return "", fmt.Errorf("create exec run dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	var input strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&input, "[%s]\n%s\n\n", m.Role, m.Content)
	}

	inv := ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: system,
		Input:        input.String(),
	}
	stdout, stderr, exitCode, err := c.runner.Run(ctx, inv,
		ainvoke.WithStdout(io.Discard),
		ainvoke.WithStderr(io.Discard),
	)
	if err != nil {
		return "", fmt.Errorf("exec agent: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("exec agent exited with code %d: %s", exitCode, strings.TrimSpace(string(stderr)))
	}
	text := strings.TrimSpace(string(stdout))
	if text == "" {
		return "", fmt.Errorf("exec agent produced no output")
	}
	return text, nil
}
