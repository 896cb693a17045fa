package loop

import (
	"context"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// GitAvailable checks if the given directory is inside a git work tree.
func GitAvailable(ctx context.Context, projectRoot string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = projectRoot
	return cmd.Run() == nil
}

// GitDirty reports whether the work tree has uncommitted changes. Sessions
// refuse to start on a dirty tree so the user can always diff or revert what
// the tool did.
func GitDirty(ctx context.Context, projectRoot string) bool {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		log.Warn().Err(err).Str("dir", projectRoot).Msg("git status failed")
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}
