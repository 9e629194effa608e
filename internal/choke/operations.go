package choke

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/phased/internal/phase"
	"github.com/fyrsmithlabs/phased/internal/policy"
)

// CommitRequest describes a gated commit.
type CommitRequest struct {
	// Branch defaults to the currently checked-out branch.
	Branch   string
	Subphase phase.Subphase
	Message  string

	// Files, when set, overrides the changed-file list detected from
	// the working tree.
	Files []string
}

// Commit gates and performs a commit. Gates required by the decision
// are run here with a bounded timeout and their evidence recorded;
// a timed-out or unparsable gate denies.
func (a *Adapters) Commit(ctx context.Context, req CommitRequest) (*Outcome, error) {
	branch, err := a.resolveBranch(ctx, req.Branch)
	if err != nil {
		return nil, err
	}

	files := req.Files
	if files == nil {
		files, err = a.vcs.ChangedFiles(ctx)
		if err != nil {
			return nil, err
		}
	}
	staged, err := a.vcs.StagedFiles(ctx)
	if err != nil {
		return nil, err
	}

	state := a.phases.GetState(branch)
	pctx := &policy.Context{
		Operation:        policy.OpCommit,
		Branch:           branch,
		Phase:            state,
		ChangedFiles:     files,
		StagedFiles:      staged,
		DeclaredSubphase: req.Subphase,
		WorkItemID:       state.LinkedWorkItem,
	}

	decision, ran := a.decide(ctx, pctx)
	if !decision.Allow {
		return deny(decision, ran), nil
	}

	if err := a.vcs.Commit(ctx, req.Message); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &Outcome{Allowed: true, Gates: ran, Warnings: decision.Warnings}, nil
}

// TransitionRequest describes a gated phase transition.
type TransitionRequest struct {
	Branch      string
	ToPhase     phase.Phase
	ToSubphase  phase.Subphase
	PassThrough bool
}

// TransitionPhase gates and applies a phase transition, then syncs the
// phase label on the linked work item. Label sync failures are logged
// and reported as warnings, never rolled back; drift detection catches
// what they leave behind.
func (a *Adapters) TransitionPhase(ctx context.Context, req TransitionRequest) (*Outcome, error) {
	branch, err := a.resolveBranch(ctx, req.Branch)
	if err != nil {
		return nil, err
	}

	state := a.phases.GetState(branch)
	pctx := &policy.Context{
		Operation:      policy.OpTransitionPhase,
		Branch:         branch,
		Phase:          state,
		TargetPhase:    req.ToPhase,
		TargetSubphase: req.ToSubphase,
		PassThrough:    req.PassThrough,
		WorkItemID:     state.LinkedWorkItem,
	}

	decision, ran := a.decide(ctx, pctx)
	if !decision.Allow {
		return deny(decision, ran), nil
	}

	if _, err := a.phases.Transition(branch, req.ToPhase, req.ToSubphase, req.PassThrough); err != nil {
		return nil, err
	}

	outcome := &Outcome{Allowed: true, Gates: ran, Warnings: decision.Warnings}
	if warning := a.syncPhaseLabel(ctx, state.LinkedWorkItem, req.ToPhase); warning != "" {
		outcome.Warnings = append(outcome.Warnings, warning)
	}
	return outcome, nil
}

// ChangeRequestRequest describes a gated change-request creation.
type ChangeRequestRequest struct {
	Branch string
	Target string
}

// CreateChangeRequest gates opening a change request from a feature
// branch. The request itself is created by the caller's tooling; this
// adapter only decides whether the branch has earned one.
func (a *Adapters) CreateChangeRequest(ctx context.Context, req ChangeRequestRequest) (*Outcome, error) {
	branch, err := a.resolveBranch(ctx, req.Branch)
	if err != nil {
		return nil, err
	}

	state := a.phases.GetState(branch)
	pctx := &policy.Context{
		Operation:  policy.OpCreateChangeRequest,
		Branch:     branch,
		Phase:      state,
		WorkItemID: state.LinkedWorkItem,
	}

	decision, ran := a.decide(ctx, pctx)
	if !decision.Allow {
		return deny(decision, ran), nil
	}
	return &Outcome{Allowed: true, Gates: ran, Warnings: decision.Warnings}, nil
}

// MergeRequest describes a gated merge.
type MergeRequest struct {
	// Source is the branch being merged; its phase state governs the
	// decision.
	Source string

	// Target is the branch merged into, checked against protected
	// patterns.
	Target string
}

// Merge gates and performs a merge of source into target.
func (a *Adapters) Merge(ctx context.Context, req MergeRequest) (*Outcome, error) {
	state := a.phases.GetState(req.Source)
	pctx := &policy.Context{
		Operation:  policy.OpMerge,
		Branch:     req.Target,
		Phase:      state,
		WorkItemID: state.LinkedWorkItem,
	}

	decision, ran := a.decide(ctx, pctx)
	if !decision.Allow {
		return deny(decision, ran), nil
	}

	if err := a.vcs.Merge(ctx, req.Source); err != nil {
		return nil, err
	}
	return &Outcome{Allowed: true, Gates: ran, Warnings: decision.Warnings}, nil
}

// CloseRequest describes a gated work-item close.
type CloseRequest struct {
	Branch     string
	WorkItemID string
}

// CloseItem gates and performs closing the linked work item.
func (a *Adapters) CloseItem(ctx context.Context, req CloseRequest) (*Outcome, error) {
	branch, err := a.resolveBranch(ctx, req.Branch)
	if err != nil {
		return nil, err
	}

	state := a.phases.GetState(branch)
	workItemID := req.WorkItemID
	if workItemID == "" {
		workItemID = state.LinkedWorkItem
	}

	pctx := &policy.Context{
		Operation:  policy.OpCloseItem,
		Branch:     branch,
		Phase:      state,
		WorkItemID: workItemID,
	}

	decision, ran := a.decide(ctx, pctx)
	if !decision.Allow {
		return deny(decision, ran), nil
	}

	if a.tracker != nil && workItemID != "" {
		if number, err := strconv.Atoi(workItemID); err == nil {
			if err := a.tracker.CloseItem(ctx, number); err != nil {
				return nil, fmt.Errorf("close work item: %w", err)
			}
		}
	}
	return &Outcome{Allowed: true, Gates: ran, Warnings: decision.Warnings}, nil
}

// CreateFileRequest describes a gated file creation.
type CreateFileRequest struct {
	Branch  string
	Path    string
	Content []byte
}

// CreateFile gates and performs writing a new file under the
// workspace.
func (a *Adapters) CreateFile(ctx context.Context, workspace string, req CreateFileRequest) (*Outcome, error) {
	branch, err := a.resolveBranch(ctx, req.Branch)
	if err != nil {
		return nil, err
	}

	// A path that resolves outside the workspace would also slip past
	// the scaffold-pattern globs, so it is refused before any policy
	// evaluation.
	cleaned := filepath.Clean(req.Path)
	if filepath.IsAbs(req.Path) || !filepath.IsLocal(cleaned) {
		return &Outcome{
			Allowed:     false,
			Reasons:     []string{fmt.Sprintf("path %q resolves outside the workspace", req.Path)},
			Remediation: []string{"use a workspace-relative path"},
		}, nil
	}

	state := a.phases.GetState(branch)
	pctx := &policy.Context{
		Operation:  policy.OpCreateFile,
		Branch:     branch,
		Phase:      state,
		FilePath:   cleaned,
		WorkItemID: state.LinkedWorkItem,
	}

	decision, ran := a.decide(ctx, pctx)
	if !decision.Allow {
		return deny(decision, ran), nil
	}

	target := filepath.Join(workspace, cleaned)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(target, req.Content, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return &Outcome{Allowed: true, Gates: ran, Warnings: decision.Warnings}, nil
}

// RecordToolUsage bumps the scaffold-tool counter for the branch; the
// tool-compliance check consumes it as proof of invocation.
func (a *Adapters) RecordToolUsage(ctx context.Context, branch, tool string) error {
	branch, err := a.resolveBranch(ctx, branch)
	if err != nil {
		return err
	}
	_, err = a.phases.IncrementToolUsage(branch, tool)
	return err
}

// CurrentBranch reports the checked-out branch.
func (a *Adapters) CurrentBranch(ctx context.Context) (string, error) {
	return a.resolveBranch(ctx, "")
}

func (a *Adapters) resolveBranch(ctx context.Context, branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	detected, err := a.vcs.CurrentBranch(ctx)
	if err != nil {
		return "", fmt.Errorf("detect branch: %w", err)
	}
	return detected, nil
}

func (a *Adapters) syncPhaseLabel(ctx context.Context, workItemID string, to phase.Phase) string {
	if a.tracker == nil || workItemID == "" {
		return ""
	}
	number, err := strconv.Atoi(workItemID)
	if err != nil {
		return ""
	}
	if err := a.tracker.SetPhaseLabel(ctx, number, int(to)); err != nil {
		a.logger.Warn("phase label not synced",
			zap.String("work_item", workItemID),
			zap.Int("phase", int(to)),
			zap.Error(err))
		return fmt.Sprintf("phase label not synced on #%d: %v", number, err)
	}
	return ""
}
