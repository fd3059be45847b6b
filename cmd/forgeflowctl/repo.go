package main

import (
	"context"
	"os/exec"
)

// requireGitRepo verifies dir sits inside a git worktree, matching
// spec.md §6's "1 on validation error or not-in-repo" exit code. Uses
// the same argv-exec idiom as internal/vcs.Repo.run: arguments passed as
// a discrete slice, never through a shell.
func requireGitRepo(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		return newValidationError("not inside a git repository", err)
	}
	return nil
}
