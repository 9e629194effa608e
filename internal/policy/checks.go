package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fyrsmithlabs/phased/internal/artifact"
	"github.com/fyrsmithlabs/phased/internal/phase"
)

// ArtifactValidator is the deliverable checker the artifact-presence
// check delegates to.
type ArtifactValidator interface {
	ValidatePhaseArtifacts(workItemID string, target phase.Phase, branch string) *artifact.Result
	ValidateCompletion(workItemID, branch string) *artifact.Result
}

// DependencyChecker reports unfinished upstream work items.
type DependencyChecker interface {
	// OpenDependencies returns the ids of depends_on items not yet
	// completed in the tracking system. tracked is false when the work
	// item is not part of an initialized project, in which case the
	// check does not apply.
	OpenDependencies(ctx context.Context, workItemID string) (open []string, tracked bool, err error)
}

// ProtectedBranchCheck denies commit and merge on protected branches,
// regardless of any other fact.
type ProtectedBranchCheck struct {
	Patterns []string
}

func (c *ProtectedBranchCheck) Name() string { return "protected-branch" }

func (c *ProtectedBranchCheck) Check(_ context.Context, pctx *Context) (CheckResult, error) {
	if pctx.Operation != OpCommit && pctx.Operation != OpMerge {
		return CheckResult{}, nil
	}
	for _, pattern := range c.Patterns {
		ok, err := doublestar.Match(pattern, pctx.Branch)
		if err != nil {
			return CheckResult{}, fmt.Errorf("invalid protected-branch pattern %q: %w", pattern, err)
		}
		if ok {
			return CheckResult{Reasons: []string{fmt.Sprintf(
				"branch %q is protected (pattern %q); work on a feature branch and open a change request",
				pctx.Branch, pattern)}}, nil
		}
	}
	return CheckResult{}, nil
}

// TransitionLegalityCheck validates phase-transition requests against
// the lifecycle order, and requires the documentation phase before an
// item may close.
type TransitionLegalityCheck struct{}

func (c *TransitionLegalityCheck) Name() string { return "transition-legality" }

func (c *TransitionLegalityCheck) Check(_ context.Context, pctx *Context) (CheckResult, error) {
	switch pctx.Operation {
	case OpTransitionPhase:
		if pctx.Phase == nil {
			return CheckResult{}, fmt.Errorf("no phase state in context")
		}
		ok, reason := phase.CanTransition(pctx.Phase, pctx.TargetPhase, pctx.TargetSubphase, pctx.PassThrough)
		if !ok {
			return CheckResult{Reasons: []string{reason}}, nil
		}
	case OpCloseItem:
		if pctx.Phase == nil {
			return CheckResult{}, fmt.Errorf("no phase state in context")
		}
		if pctx.Phase.CurrentPhase < phase.PhaseDocumentation {
			return CheckResult{Reasons: []string{fmt.Sprintf(
				"documentation phase incomplete: branch %q is at %s (phase %d of %d)",
				pctx.Branch, pctx.Phase.CurrentPhase, pctx.Phase.CurrentPhase, phase.PhaseDocumentation)}}, nil
		}
	}
	return CheckResult{}, nil
}

// ArtifactPresenceCheck requires phase deliverables to exist before a
// transition, change request, or close.
type ArtifactPresenceCheck struct {
	Validator ArtifactValidator
}

func (c *ArtifactPresenceCheck) Name() string { return "artifact-presence" }

func (c *ArtifactPresenceCheck) Check(_ context.Context, pctx *Context) (CheckResult, error) {
	var result *artifact.Result
	switch pctx.Operation {
	case OpTransitionPhase:
		if pctx.WorkItemID == "" {
			return CheckResult{}, fmt.Errorf("no work item linked to branch %q", pctx.Branch)
		}
		result = c.Validator.ValidatePhaseArtifacts(pctx.WorkItemID, pctx.TargetPhase, pctx.Branch)
	case OpCreateChangeRequest:
		// A change request needs the design docs and passing
		// implementation evidence; documentation may still be open.
		if pctx.WorkItemID == "" {
			return CheckResult{}, fmt.Errorf("no work item linked to branch %q", pctx.Branch)
		}
		result = c.Validator.ValidatePhaseArtifacts(pctx.WorkItemID, phase.PhaseIntegration, pctx.Branch)
	case OpCloseItem:
		if pctx.WorkItemID == "" {
			return CheckResult{}, fmt.Errorf("no work item linked to branch %q", pctx.Branch)
		}
		result = c.Validator.ValidateCompletion(pctx.WorkItemID, pctx.Branch)
	default:
		return CheckResult{}, nil
	}

	if result.Valid {
		return CheckResult{}, nil
	}
	out := CheckResult{}
	for _, missing := range result.Missing {
		out.Reasons = append(out.Reasons, fmt.Sprintf("missing artifact: %s", missing))
	}
	for _, problem := range result.Invalid {
		out.Reasons = append(out.Reasons, fmt.Sprintf("invalid artifact %s: %s", problem.Path, problem.Reason))
	}
	return out, nil
}

// CommitKindCheck enforces the red/green/refactor correspondence for
// commits made during the implementation phase.
type CommitKindCheck struct {
	TestFilePatterns []string
}

func (c *CommitKindCheck) Name() string { return "commit-kind" }

func (c *CommitKindCheck) Check(_ context.Context, pctx *Context) (CheckResult, error) {
	if pctx.Operation != OpCommit {
		return CheckResult{}, nil
	}
	if pctx.Phase == nil {
		return CheckResult{}, fmt.Errorf("no phase state in context")
	}

	inImplement := pctx.Phase.CurrentPhase == phase.PhaseImplement
	if !inImplement {
		if pctx.DeclaredSubphase != phase.SubphaseNone && pctx.DeclaredSubphase != "" {
			return CheckResult{Reasons: []string{fmt.Sprintf(
				"commit declares sub-phase %q but branch %q is in %s, not implementation",
				pctx.DeclaredSubphase, pctx.Branch, pctx.Phase.CurrentPhase)}}, nil
		}
		return CheckResult{}, nil
	}

	declared := pctx.DeclaredSubphase
	if declared == "" {
		declared = phase.SubphaseNone
	}
	if declared != pctx.Phase.TDDSubphase {
		return CheckResult{Reasons: []string{fmt.Sprintf(
			"commit declares sub-phase %q but branch %q is in %q",
			declared, pctx.Branch, pctx.Phase.TDDSubphase)}}, nil
	}

	switch declared {
	case phase.SubphaseRed:
		hasTest, err := containsTestFile(c.TestFilePatterns, pctx.ChangedFiles)
		if err != nil {
			return CheckResult{}, err
		}
		if !hasTest {
			return CheckResult{Reasons: []string{
				"red commit must change at least one test file; none of the changed files match the test patterns"}}, nil
		}
		return CheckResult{}, nil

	case phase.SubphaseGreen:
		return c.requireGates(pctx, "tests")

	case phase.SubphaseRefactor:
		return c.requireGates(pctx, "tests", "quality")
	}
	return CheckResult{}, nil
}

// requireGates denies on a supplied failing result and defers to the
// caller when a result is absent.
func (c *CommitKindCheck) requireGates(pctx *Context, gates ...string) (CheckResult, error) {
	out := CheckResult{}
	for _, name := range gates {
		outcome, supplied := pctx.GateResults[name]
		if !supplied {
			out.RequiredGates = append(out.RequiredGates, name)
			continue
		}
		if !outcome.Passed {
			reason := fmt.Sprintf("%s gate failing", name)
			if outcome.Summary != "" {
				reason += ": " + outcome.Summary
			}
			out.Reasons = append(out.Reasons, reason)
		}
	}
	return out, nil
}

func containsTestFile(patterns, files []string) (bool, error) {
	for _, file := range files {
		normalized := strings.TrimPrefix(file, "./")
		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, normalized)
			if err != nil {
				return false, fmt.Errorf("invalid test-file pattern %q: %w", pattern, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// DependencyCompletionCheck blocks work on items whose upstream
// dependencies are still open in the tracking system.
type DependencyCompletionCheck struct {
	Deps DependencyChecker
}

func (c *DependencyCompletionCheck) Name() string { return "dependency-completion" }

func (c *DependencyCompletionCheck) Check(ctx context.Context, pctx *Context) (CheckResult, error) {
	if pctx.Operation != OpTransitionPhase && pctx.Operation != OpCommit {
		return CheckResult{}, nil
	}
	if pctx.WorkItemID == "" {
		return CheckResult{}, nil
	}

	open, tracked, err := c.Deps.OpenDependencies(ctx, pctx.WorkItemID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("dependency lookup for item %q: %w", pctx.WorkItemID, err)
	}
	if !tracked || len(open) == 0 {
		return CheckResult{}, nil
	}
	return CheckResult{Reasons: []string{fmt.Sprintf(
		"work item %q is blocked by open dependencies: %s",
		pctx.WorkItemID, strings.Join(open, ", "))}}, nil
}

// ToolComplianceCheck denies direct writes to paths that must be
// produced by the scaffold tool.
type ToolComplianceCheck struct {
	ScaffoldPatterns []string
	ScaffoldTool     string
}

func (c *ToolComplianceCheck) Name() string { return "tool-compliance" }

func (c *ToolComplianceCheck) Check(_ context.Context, pctx *Context) (CheckResult, error) {
	if pctx.Operation != OpCreateFile {
		return CheckResult{}, nil
	}
	matched := ""
	normalized := strings.TrimPrefix(pctx.FilePath, "./")
	for _, pattern := range c.ScaffoldPatterns {
		ok, err := doublestar.Match(pattern, normalized)
		if err != nil {
			return CheckResult{}, fmt.Errorf("invalid scaffold pattern %q: %w", pattern, err)
		}
		if ok {
			matched = pattern
			break
		}
	}
	if matched == "" {
		return CheckResult{}, nil
	}
	if pctx.Phase != nil && pctx.Phase.ToolUsage[c.ScaffoldTool] > 0 {
		return CheckResult{}, nil
	}
	return CheckResult{Reasons: []string{fmt.Sprintf(
		"path %q matches scaffold pattern %q but tool %q was never invoked on branch %q; generate it with the scaffold tool",
		pctx.FilePath, matched, c.ScaffoldTool, pctx.Branch)}}, nil
}

// DefaultChecks returns the standard six-check pipeline in its
// canonical declaration order.
func DefaultChecks(
	protectedBranches []string,
	testFilePatterns []string,
	scaffoldPatterns []string,
	scaffoldTool string,
	validator ArtifactValidator,
	deps DependencyChecker,
) []Check {
	return []Check{
		&ProtectedBranchCheck{Patterns: protectedBranches},
		&TransitionLegalityCheck{},
		&ArtifactPresenceCheck{Validator: validator},
		&CommitKindCheck{TestFilePatterns: testFilePatterns},
		&DependencyCompletionCheck{Deps: deps},
		&ToolComplianceCheck{ScaffoldPatterns: scaffoldPatterns, ScaffoldTool: scaffoldTool},
	}
}
