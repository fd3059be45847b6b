// Package vcs implements batch-scoped git snapshot/revert semantics
// (spec.md §4.7), grounded on
// original_source/tests/unit/test_git_utils.py and the exec.Command
// idiom in kadirpekel-hector/dev/git_manager.go: every git invocation
// passes arguments as a discrete argv slice, never through a shell, so
// filenames containing shell metacharacters cannot be interpreted as
// commands.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// Repo wraps git operations scoped to a single worktree.
type Repo struct {
	Path string
}

// New returns a Repo rooted at path.
func New(path string) *Repo {
	return &Repo{Path: path}
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// Snapshot captures the current HEAD commit and the set of dirty
// (modified or untracked) files, without creating a stash — matching
// take_git_snapshot's "just track, don't stash" contract.
func (r *Repo) Snapshot(ctx context.Context) (domain.GitSnapshot, error) {
	head, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return domain.GitSnapshot{}, fmt.Errorf("capture HEAD: %w", err)
	}

	status, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return domain.GitSnapshot{}, fmt.Errorf("capture dirty files: %w", err)
	}

	return domain.GitSnapshot{
		HeadCommit: strings.TrimSpace(head),
		DirtyFiles: parsePorcelainPaths(status),
	}, nil
}

// ChangedSince returns the files changed (modified, added, or deleted,
// tracked and newly-staged) since snap was taken, via `git diff --name-only`
// against the snapshot's HEAD commit.
func (r *Repo) ChangedSince(ctx context.Context, snap domain.GitSnapshot) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", snap.HeadCommit)
	if err != nil {
		return nil, fmt.Errorf("diff since snapshot: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Revert restores every tracked file changed since snap back to the
// content it had at snap.HeadCommit, preserving any file that was
// already dirty before the batch ran (those are never touched) and
// never deleting untracked files the batch created.
//
// Each changed path is passed as its own argv element to `git
// checkout`, never concatenated into a shell string, so a filename
// like "test; rm -rf /" is inert.
func (r *Repo) Revert(ctx context.Context, snap domain.GitSnapshot) error {
	changed, err := r.ChangedSince(ctx, snap)
	if err != nil {
		return err
	}

	dirtyBefore := make(map[string]bool, len(snap.DirtyFiles))
	for _, f := range snap.DirtyFiles {
		dirtyBefore[f] = true
	}

	var toRestore []string
	for _, f := range changed {
		if dirtyBefore[f] {
			continue
		}
		toRestore = append(toRestore, f)
	}
	if len(toRestore) == 0 {
		return nil
	}

	args := append([]string{"checkout", snap.HeadCommit, "--"}, toRestore...)
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("revert to snapshot: %w", err)
	}
	return nil
}

// parsePorcelainPaths extracts bare filenames from `git status
// --porcelain` output, stripping the 2-character status prefix. Rename
// entries ("R  old -> new") keep the new path.
func parsePorcelainPaths(porcelain string) []string {
	var paths []string
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}
