package choke

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/phased/internal/artifact"
	"github.com/fyrsmithlabs/phased/internal/gate"
	"github.com/fyrsmithlabs/phased/internal/phase"
	"github.com/fyrsmithlabs/phased/internal/policy"
)

// fakeVCS is an in-memory vcs.VCS.
type fakeVCS struct {
	branch  string
	changed []string
	staged  []string
	commits []string
	merges  []string
}

func (f *fakeVCS) CurrentBranch(context.Context) (string, error)  { return f.branch, nil }
func (f *fakeVCS) StagedFiles(context.Context) ([]string, error)  { return f.staged, nil }
func (f *fakeVCS) ChangedFiles(context.Context) ([]string, error) { return f.changed, nil }

func (f *fakeVCS) Commit(_ context.Context, message string) error {
	f.commits = append(f.commits, message)
	return nil
}

func (f *fakeVCS) Merge(_ context.Context, source string) error {
	f.merges = append(f.merges, source)
	return nil
}

// allValid accepts every artifact question.
type allValid struct{}

func (allValid) ValidatePhaseArtifacts(string, phase.Phase, string) *artifact.Result {
	return &artifact.Result{Valid: true}
}

func (allValid) ValidateCompletion(string, string) *artifact.Result {
	return &artifact.Result{Valid: true}
}

// noDeps reports every item as untracked.
type noDeps struct{}

func (noDeps) OpenDependencies(context.Context, string) ([]string, bool, error) {
	return nil, false, nil
}

type fixture struct {
	adapters *Adapters
	vcs      *fakeVCS
	phases   *phase.Engine
	stateDir string
}

// newFixture wires adapters with a real phase engine and gate runner
// whose commands are stand-ins that emit the wire format.
func newFixture(t *testing.T, gateCommands map[string]string) *fixture {
	t.Helper()
	stateDir := t.TempDir()

	phases := phase.NewEngine(phase.NewStore(stateDir, nil), nil)
	evidence := gate.NewEvidenceStore(stateDir)
	runner := gate.NewRunner(t.TempDir(), gateCommands, 5*time.Second, nil)

	checks := policy.DefaultChecks(
		[]string{"main"},
		[]string{"**/*_test.go"},
		[]string{"docs/items/**"},
		"scaffold",
		allValid{},
		noDeps{},
	)
	engine := policy.NewEngine(nil, checks...)

	v := &fakeVCS{branch: "feature/x"}
	return &fixture{
		adapters: New(engine, phases, runner, evidence, v, nil, nil),
		vcs:      v,
		phases:   phases,
		stateDir: stateDir,
	}
}

// advanceTo walks the branch forward to the given position.
func advanceTo(t *testing.T, phases *phase.Engine, branch string, p phase.Phase, s phase.Subphase) {
	t.Helper()
	_, err := phases.Transition(branch, p, s, true)
	require.NoError(t, err)
}

func TestCommit_DeniedOnProtectedBranch(t *testing.T) {
	fx := newFixture(t, nil)
	fx.vcs.branch = "main"

	outcome, err := fx.adapters.Commit(context.Background(), CommitRequest{Message: "x"})
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Contains(t, outcome.Reasons[0], "protected")
	assert.Contains(t, outcome.Remediation, "switch to a feature branch")
	assert.Empty(t, fx.vcs.commits)
}

func TestCommit_AllowedExecutes(t *testing.T) {
	fx := newFixture(t, nil)
	fx.vcs.changed = []string{"docs/notes.md"}

	outcome, err := fx.adapters.Commit(context.Background(), CommitRequest{Message: "notes"})
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
	assert.Equal(t, []string{"notes"}, fx.vcs.commits)
}

func TestCommit_RedWithoutTestFileDenied(t *testing.T) {
	fx := newFixture(t, nil)
	advanceTo(t, fx.phases, "feature/x", phase.PhaseImplement, phase.SubphaseRed)
	fx.vcs.changed = []string{"internal/widget/widget.go"}

	outcome, err := fx.adapters.Commit(context.Background(), CommitRequest{
		Subphase: phase.SubphaseRed,
		Message:  "red: widget parse fails on empty input",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Contains(t, outcome.Remediation, "add or change a test before committing red")
	assert.Empty(t, fx.vcs.commits)
}

func TestCommit_GreenRunsGateAndRecordsEvidence(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"tests": `echo {"passed":true,"summary":"ok"}`,
	})
	advanceTo(t, fx.phases, "feature/x", phase.PhaseImplement, phase.SubphaseGreen)
	fx.vcs.changed = []string{"internal/widget/widget.go"}

	outcome, err := fx.adapters.Commit(context.Background(), CommitRequest{
		Subphase: phase.SubphaseGreen,
		Message:  "green: widget parses empty input",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
	require.Contains(t, outcome.Gates, "tests")
	assert.True(t, outcome.Gates["tests"].Passed)
	assert.Len(t, fx.vcs.commits, 1)

	evidence := gate.NewEvidenceStore(fx.stateDir)
	recorded, err := evidence.Lookup("feature/x", "tests")
	require.NoError(t, err)
	assert.True(t, recorded.Passed)
}

func TestCommit_GreenFailingGateDenies(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"tests": `echo {"passed":false,"summary":"2failed"}`,
	})
	advanceTo(t, fx.phases, "feature/x", phase.PhaseImplement, phase.SubphaseGreen)

	outcome, err := fx.adapters.Commit(context.Background(), CommitRequest{
		Subphase: phase.SubphaseGreen,
		Message:  "green: attempt",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Contains(t, outcome.Reasons[0], "tests gate failing")
	assert.Contains(t, outcome.Remediation, "fix the failures and rerun the gate")
	assert.Empty(t, fx.vcs.commits)
}

func TestTransitionPhase_AppliesOnAllow(t *testing.T) {
	fx := newFixture(t, nil)

	outcome, err := fx.adapters.TransitionPhase(context.Background(), TransitionRequest{
		ToPhase: phase.PhasePlanning,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
	assert.Equal(t, phase.PhasePlanning, fx.phases.GetState("feature/x").CurrentPhase)
}

func TestTransitionPhase_DeniedLeavesStateAlone(t *testing.T) {
	fx := newFixture(t, nil)

	outcome, err := fx.adapters.TransitionPhase(context.Background(), TransitionRequest{
		ToPhase: phase.PhaseDesign, // illegal skip
	})
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Equal(t, phase.PhaseResearch, fx.phases.GetState("feature/x").CurrentPhase)
}

func TestMerge_ProtectedTargetDenied(t *testing.T) {
	fx := newFixture(t, nil)

	outcome, err := fx.adapters.Merge(context.Background(), MergeRequest{
		Source: "feature/x",
		Target: "main",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Empty(t, fx.vcs.merges)
}

func TestCloseItem_BeforeDocumentationDenied(t *testing.T) {
	fx := newFixture(t, nil)

	outcome, err := fx.adapters.CloseItem(context.Background(), CloseRequest{WorkItemID: "7"})
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Contains(t, outcome.Reasons[0], "documentation phase incomplete")
}

func TestCreateFile_ScaffoldPathNeedsToolUsage(t *testing.T) {
	fx := newFixture(t, nil)
	workspace := t.TempDir()
	ctx := context.Background()

	req := CreateFileRequest{Path: "docs/items/7/research.md", Content: []byte("# Research\n")}

	outcome, err := fx.adapters.CreateFile(ctx, workspace, req)
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Contains(t, outcome.Remediation, "generate the file with the scaffold tool")
	assert.NoFileExists(t, filepath.Join(workspace, req.Path))

	require.NoError(t, fx.adapters.RecordToolUsage(ctx, "", "scaffold"))

	outcome, err = fx.adapters.CreateFile(ctx, workspace, req)
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)

	content, err := os.ReadFile(filepath.Join(workspace, req.Path))
	require.NoError(t, err)
	assert.Equal(t, "# Research\n", string(content))
}

func TestCreateFile_PathOutsideWorkspaceDenied(t *testing.T) {
	fx := newFixture(t, nil)
	root := t.TempDir()
	workspace := filepath.Join(root, "workspace")
	require.NoError(t, os.MkdirAll(workspace, 0o755))
	ctx := context.Background()

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../outside/escaped.txt"},
		{"nested traversal", "docs/../../outside/escaped.txt"},
		{"absolute path", filepath.Join(root, "escaped.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := fx.adapters.CreateFile(ctx, workspace, CreateFileRequest{
				Path:    tt.path,
				Content: []byte("nope"),
			})
			require.NoError(t, err)
			assert.False(t, outcome.Allowed)
			assert.Contains(t, outcome.Reasons[0], "outside the workspace")
		})
	}
	assert.NoFileExists(t, filepath.Join(root, "outside", "escaped.txt"))
	assert.NoFileExists(t, filepath.Join(root, "escaped.txt"))
}
