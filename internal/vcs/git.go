package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fyrsmithlabs/phased/pkg/git"
)

// CLIExecutor executes commands with os/exec.
type CLIExecutor struct{}

func (CLIExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Git implements VCS with git CLI commands.
type Git struct {
	dir      string
	executor Executor
}

// NewGit creates a Git over the repository at dir.
func NewGit(dir string) *Git {
	return &Git{dir: dir, executor: CLIExecutor{}}
}

// NewGitWithExecutor creates a Git with a custom executor, primarily
// for testing.
func NewGitWithExecutor(dir string, executor Executor) *Git {
	return &Git{dir: dir, executor: executor}
}

func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.executor.Run(ctx, g.dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err == nil {
		return strings.TrimSpace(string(out)), nil
	}
	// The git binary may be absent from minimal environments; fall back to
	// reading .git/HEAD directly.
	if branch, ferr := git.DetectBranch(g.dir); ferr == nil {
		return branch, nil
	}
	return "", fmt.Errorf("detect current branch: %w: %s", err, strings.TrimSpace(string(out)))
}

func (g *Git) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := g.executor.Run(ctx, g.dir, "git", "diff", "--name-only", "--cached")
	if err != nil {
		return nil, fmt.Errorf("list staged files: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return splitLines(out), nil
}

func (g *Git) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := g.executor.Run(ctx, g.dir, "git", "diff", "--name-only", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("list changed files: %w: %s", err, strings.TrimSpace(string(out)))
	}
	files := splitLines(out)

	out, err = g.executor.Run(ctx, g.dir, "git", "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("list untracked files: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return append(files, splitLines(out)...), nil
}

func (g *Git) Commit(ctx context.Context, message string) error {
	out, err := g.executor.Run(ctx, g.dir, "git", "commit", "-m", message)
	if err != nil {
		return fmt.Errorf("commit: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g *Git) Merge(ctx context.Context, source string) error {
	out, err := g.executor.Run(ctx, g.dir, "git", "merge", "--no-ff", source)
	if err != nil {
		return fmt.Errorf("merge %q: %w: %s", source, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func splitLines(out []byte) []string {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
