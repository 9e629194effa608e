// Package git provides lightweight repository introspection that does not
// shell out to the git binary. It is used as a fallback for branch detection
// when the git CLI is unavailable in the execution environment.
package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const branchRefPrefix = "ref: refs/heads/"

var (
	// ErrNotGitRepo indicates the path has no .git directory or gitfile.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrHeadNotFound indicates the repository has no readable HEAD.
	ErrHeadNotFound = errors.New("HEAD not found")
)

// DetectBranch reads the current branch name from .git/HEAD without invoking
// git. A detached HEAD (raw commit hash instead of a symbolic ref) returns
// "detached". Worktrees and submodules, where .git is a file pointing at the
// real git directory, are followed one level.
func DetectBranch(repoPath string) (string, error) {
	gitDir, err := resolveGitDir(repoPath)
	if err != nil {
		return "", err
	}

	headPath := filepath.Join(gitDir, "HEAD")
	data, err := os.ReadFile(headPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrHeadNotFound, headPath)
		}
		return "", fmt.Errorf("reading HEAD: %w", err)
	}

	head := strings.TrimSpace(string(data))
	if branch, ok := strings.CutPrefix(head, branchRefPrefix); ok {
		return branch, nil
	}
	return "detached", nil
}

// resolveGitDir locates the git directory for repoPath, following a gitfile
// ("gitdir: <path>") as written by worktrees and submodules.
func resolveGitDir(repoPath string) (string, error) {
	gitPath := filepath.Join(repoPath, ".git")

	info, err := os.Stat(gitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, repoPath)
		}
		return "", fmt.Errorf("stat .git: %w", err)
	}
	if info.IsDir() {
		return gitPath, nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("reading gitfile: %w", err)
	}
	target, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir: ")
	if !ok {
		return "", fmt.Errorf("%w: malformed gitfile %s", ErrNotGitRepo, gitPath)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(repoPath, target)
	}
	return target, nil
}
