package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/phased/internal/artifact"
	"github.com/fyrsmithlabs/phased/internal/phase"
)

// fakeValidator implements ArtifactValidator with canned results.
type fakeValidator struct {
	result *artifact.Result
}

func (f *fakeValidator) ValidatePhaseArtifacts(string, phase.Phase, string) *artifact.Result {
	return f.result
}

func (f *fakeValidator) ValidateCompletion(string, string) *artifact.Result {
	return f.result
}

// fakeDeps implements DependencyChecker with canned results.
type fakeDeps struct {
	open    []string
	tracked bool
	err     error
}

func (f *fakeDeps) OpenDependencies(context.Context, string) ([]string, bool, error) {
	return f.open, f.tracked, f.err
}

func validResult() *artifact.Result { return &artifact.Result{Valid: true} }

func newTestEngine(validator ArtifactValidator, deps DependencyChecker) *Engine {
	if validator == nil {
		validator = &fakeValidator{result: validResult()}
	}
	if deps == nil {
		deps = &fakeDeps{}
	}
	checks := DefaultChecks(
		[]string{"main", "master", "release/*"},
		[]string{"**/*_test.go", "tests/**"},
		[]string{"docs/items/**"},
		"scaffold",
		validator,
		deps,
	)
	return NewEngine(nil, checks...)
}

func implementState(sub phase.Subphase) *phase.PhaseState {
	state := phase.NewPhaseState("feature/x")
	state.CurrentPhase = phase.PhaseImplement
	state.TDDSubphase = sub
	return state
}

func TestDecide_CommitOnProtectedBranchDenied(t *testing.T) {
	e := newTestEngine(nil, nil)

	// Denied regardless of phase or gate results.
	decision := e.Decide(context.Background(), &Context{
		Operation: OpCommit,
		Branch:    "main",
		Phase:     phase.NewPhaseState("main"),
		GateResults: map[string]GateOutcome{
			"tests": {Passed: true}, "quality": {Passed: true},
		},
	})
	assert.False(t, decision.Allow)
	require.NotEmpty(t, decision.Reasons)
	assert.Contains(t, decision.Reasons[0], "protected")
}

func TestDecide_MergeToReleaseBranchDenied(t *testing.T) {
	e := newTestEngine(nil, nil)
	decision := e.Decide(context.Background(), &Context{
		Operation: OpMerge,
		Branch:    "release/2.4",
		Phase:     phase.NewPhaseState("release/2.4"),
	})
	assert.False(t, decision.Allow)
}

func TestDecide_CommitOnFeatureBranchOutsideImplementAllowed(t *testing.T) {
	e := newTestEngine(nil, nil)
	state := phase.NewPhaseState("feature/x")
	state.CurrentPhase = phase.PhasePlanning

	decision := e.Decide(context.Background(), &Context{
		Operation:    OpCommit,
		Branch:       "feature/x",
		Phase:        state,
		ChangedFiles: []string{"docs/notes.md"},
	})
	assert.True(t, decision.Allow)
	assert.Empty(t, decision.Reasons)
}

func TestDecide_RedCommitRequiresTestFile(t *testing.T) {
	e := newTestEngine(nil, nil)

	pctx := &Context{
		Operation:        OpCommit,
		Branch:           "feature/x",
		Phase:            implementState(phase.SubphaseRed),
		DeclaredSubphase: phase.SubphaseRed,
		ChangedFiles:     []string{"internal/widget/widget.go"},
	}
	decision := e.Decide(context.Background(), pctx)
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "test file")

	pctx.ChangedFiles = append(pctx.ChangedFiles, "internal/widget/widget_test.go")
	decision = e.Decide(context.Background(), pctx)
	assert.True(t, decision.Allow)
}

func TestDecide_GreenCommitGateResultSupplied(t *testing.T) {
	e := newTestEngine(nil, nil)

	pctx := &Context{
		Operation:        OpCommit,
		Branch:           "feature/x",
		Phase:            implementState(phase.SubphaseGreen),
		DeclaredSubphase: phase.SubphaseGreen,
		ChangedFiles:     []string{"internal/widget/widget.go"},
		GateResults:      map[string]GateOutcome{"tests": {Passed: false, Summary: "2 failed"}},
	}
	decision := e.Decide(context.Background(), pctx)
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "tests gate failing")
	assert.Contains(t, decision.Reasons[0], "2 failed")

	pctx.GateResults["tests"] = GateOutcome{Passed: true}
	decision = e.Decide(context.Background(), pctx)
	assert.True(t, decision.Allow)
	assert.Empty(t, decision.RequiredGates)
}

func TestDecide_GreenCommitWithoutGateResultDefersToCaller(t *testing.T) {
	e := newTestEngine(nil, nil)

	decision := e.Decide(context.Background(), &Context{
		Operation:        OpCommit,
		Branch:           "feature/x",
		Phase:            implementState(phase.SubphaseGreen),
		DeclaredSubphase: phase.SubphaseGreen,
	})
	// Absence of a gate result is not a denial; the caller must run it.
	assert.True(t, decision.Allow)
	assert.Equal(t, []string{"tests"}, decision.RequiredGates)
}

func TestDecide_RefactorCommitRequiresBothGates(t *testing.T) {
	e := newTestEngine(nil, nil)

	decision := e.Decide(context.Background(), &Context{
		Operation:        OpCommit,
		Branch:           "feature/x",
		Phase:            implementState(phase.SubphaseRefactor),
		DeclaredSubphase: phase.SubphaseRefactor,
		GateResults:      map[string]GateOutcome{"tests": {Passed: true}},
	})
	assert.True(t, decision.Allow)
	assert.Equal(t, []string{"quality"}, decision.RequiredGates)
}

func TestDecide_DeclaredSubphaseMismatch(t *testing.T) {
	e := newTestEngine(nil, nil)

	decision := e.Decide(context.Background(), &Context{
		Operation:        OpCommit,
		Branch:           "feature/x",
		Phase:            implementState(phase.SubphaseRed),
		DeclaredSubphase: phase.SubphaseGreen,
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], `declares sub-phase "green"`)
}

func TestDecide_TransitionDeniedOnMissingArtifact(t *testing.T) {
	missing := &artifact.Result{Valid: false, Missing: []string{"docs/items/7/design.md"}}
	e := newTestEngine(&fakeValidator{result: missing}, nil)

	state := phase.NewPhaseState("feature/x")
	state.CurrentPhase = phase.PhaseDesign

	decision := e.Decide(context.Background(), &Context{
		Operation:   OpTransitionPhase,
		Branch:      "feature/x",
		Phase:       state,
		TargetPhase: phase.PhaseImplement,
		WorkItemID:  "7",
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "docs/items/7/design.md")
}

func TestDecide_TransitionAllowedWhenArtifactsPresent(t *testing.T) {
	e := newTestEngine(nil, nil)

	state := phase.NewPhaseState("feature/x")
	state.CurrentPhase = phase.PhaseDesign

	decision := e.Decide(context.Background(), &Context{
		Operation:   OpTransitionPhase,
		Branch:      "feature/x",
		Phase:       state,
		TargetPhase: phase.PhaseImplement,
		WorkItemID:  "7",
	})
	assert.True(t, decision.Allow)
}

func TestDecide_IllegalSkipDenied(t *testing.T) {
	e := newTestEngine(nil, nil)

	decision := e.Decide(context.Background(), &Context{
		Operation:   OpTransitionPhase,
		Branch:      "feature/x",
		Phase:       phase.NewPhaseState("feature/x"),
		TargetPhase: phase.PhaseArchitecture,
		WorkItemID:  "7",
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "pass-through")

	decision = e.Decide(context.Background(), &Context{
		Operation:   OpTransitionPhase,
		Branch:      "feature/x",
		Phase:       phase.NewPhaseState("feature/x"),
		TargetPhase: phase.PhaseArchitecture,
		PassThrough: true,
		WorkItemID:  "7",
	})
	assert.True(t, decision.Allow)
}

func TestDecide_CloseItemBeforeDocumentationDenied(t *testing.T) {
	e := newTestEngine(nil, nil)

	state := phase.NewPhaseState("feature/x")
	state.CurrentPhase = phase.PhaseIntegration

	decision := e.Decide(context.Background(), &Context{
		Operation:  OpCloseItem,
		Branch:     "feature/x",
		Phase:      state,
		WorkItemID: "7",
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "documentation phase incomplete")
}

func TestDecide_OpenDependenciesBlockTransition(t *testing.T) {
	deps := &fakeDeps{open: []string{"#12", "#15"}, tracked: true}
	e := newTestEngine(nil, deps)

	decision := e.Decide(context.Background(), &Context{
		Operation:   OpTransitionPhase,
		Branch:      "feature/x",
		Phase:       phase.NewPhaseState("feature/x"),
		TargetPhase: phase.PhasePlanning,
		WorkItemID:  "7",
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "#12, #15")
}

func TestDecide_DependencyLookupErrorFailsClosed(t *testing.T) {
	deps := &fakeDeps{err: errors.New("tracker unreachable")}
	e := newTestEngine(nil, deps)

	decision := e.Decide(context.Background(), &Context{
		Operation:   OpTransitionPhase,
		Branch:      "feature/x",
		Phase:       phase.NewPhaseState("feature/x"),
		TargetPhase: phase.PhasePlanning,
		WorkItemID:  "7",
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "could not evaluate")
}

func TestDecide_InvalidScaffoldPatternFailsClosed(t *testing.T) {
	e := NewEngine(nil, &ToolComplianceCheck{
		ScaffoldPatterns: []string{"[oops"},
		ScaffoldTool:     "scaffold",
	})

	decision := e.Decide(context.Background(), &Context{
		Operation: OpCreateFile,
		Branch:    "feature/x",
		Phase:     phase.NewPhaseState("feature/x"),
		FilePath:  "docs/items/7/research.md",
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "could not evaluate")
	assert.Contains(t, decision.Reasons[0], "[oops")
}

func TestDecide_InvalidTestFilePatternFailsClosed(t *testing.T) {
	e := NewEngine(nil, &CommitKindCheck{TestFilePatterns: []string{"[oops"}})

	decision := e.Decide(context.Background(), &Context{
		Operation:        OpCommit,
		Branch:           "feature/x",
		Phase:            implementState(phase.SubphaseRed),
		DeclaredSubphase: phase.SubphaseRed,
		ChangedFiles:     []string{"parser_test.go"},
	})
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "could not evaluate")
}

func TestDecide_CreateFileScaffoldEnforcement(t *testing.T) {
	e := newTestEngine(nil, nil)

	state := phase.NewPhaseState("feature/x")
	pctx := &Context{
		Operation: OpCreateFile,
		Branch:    "feature/x",
		Phase:     state,
		FilePath:  "docs/items/7/design.md",
	}
	decision := e.Decide(context.Background(), pctx)
	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reasons[0], "scaffold")

	state.ToolUsage["scaffold"] = 1
	decision = e.Decide(context.Background(), pctx)
	assert.True(t, decision.Allow)

	// Paths outside the scaffold patterns are unrestricted.
	decision = e.Decide(context.Background(), &Context{
		Operation: OpCreateFile,
		Branch:    "feature/x",
		Phase:     phase.NewPhaseState("feature/x"),
		FilePath:  "internal/widget/widget.go",
	})
	assert.True(t, decision.Allow)
}

func TestDecide_Deterministic(t *testing.T) {
	e := newTestEngine(nil, nil)

	pctx := &Context{
		Operation:        OpCommit,
		Branch:           "main",
		Phase:            implementState(phase.SubphaseGreen),
		DeclaredSubphase: phase.SubphaseRefactor,
	}
	first := e.Decide(context.Background(), pctx)
	second := e.Decide(context.Background(), pctx)
	assert.Equal(t, first, second)
}

func TestDecide_ReasonsFollowDeclarationOrder(t *testing.T) {
	missing := &artifact.Result{Valid: false, Missing: []string{"docs/items/7/plan.md"}}
	deps := &fakeDeps{open: []string{"#3"}, tracked: true}
	e := newTestEngine(&fakeValidator{result: missing}, deps)

	decision := e.Decide(context.Background(), &Context{
		Operation:   OpTransitionPhase,
		Branch:      "feature/x",
		Phase:       phase.NewPhaseState("feature/x"),
		TargetPhase: phase.PhaseDesign, // illegal skip too
		WorkItemID:  "7",
	})
	require.False(t, decision.Allow)
	require.Len(t, decision.Reasons, 3)
	assert.Contains(t, decision.Reasons[0], "pass-through")         // transition legality
	assert.Contains(t, decision.Reasons[1], "missing artifact")    // artifact presence
	assert.Contains(t, decision.Reasons[2], "blocked by open")     // dependency completion
}
