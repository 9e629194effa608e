// Package vcs wraps the git CLI behind a small interface so the
// choke-point adapters can inspect and mutate the working tree without
// knowing about process execution, and tests can substitute a fake.
package vcs

import "context"

// VCS is the version-control surface the adapters depend on.
type VCS interface {
	// CurrentBranch returns the checked-out branch name.
	CurrentBranch(ctx context.Context) (string, error)

	// StagedFiles lists paths staged for the next commit, relative to
	// the repository root.
	StagedFiles(ctx context.Context) ([]string, error)

	// ChangedFiles lists paths modified relative to HEAD, staged or
	// not, including untracked files.
	ChangedFiles(ctx context.Context) ([]string, error)

	// Commit records the staged changes with the given message.
	Commit(ctx context.Context, message string) error

	// Merge merges source into the current branch with a merge commit.
	Merge(ctx context.Context, source string) error
}

// Executor runs a command in a directory and returns combined output.
// It exists so tests can intercept git invocations.
type Executor interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}
