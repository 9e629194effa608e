// Package policy composes independent predicate checks into a single
// allow/deny verdict for the gated operations.
//
// Decide is deterministic: the verdict is a function of the supplied
// context and the collaborators it delegates to, with no clock or
// randomness involved. Overall allow is the AND of every check;
// reasons follow check declaration order so diagnostics are
// reproducible. Any check that cannot evaluate its inputs denies
// rather than passing — ambiguity fails closed.
package policy

import (
	"github.com/fyrsmithlabs/phased/internal/phase"
)

// Operation is a gated choke-point operation.
type Operation string

const (
	OpCommit              Operation = "commit"
	OpCreateChangeRequest Operation = "create_change_request"
	OpMerge               Operation = "merge"
	OpCloseItem           Operation = "close_item"
	OpTransitionPhase     Operation = "transition_phase"
	OpCreateFile          Operation = "create_file"
)

// GateOutcome is an externally supplied gate result, already computed
// by the caller before Decide runs.
type GateOutcome struct {
	Passed  bool   `json:"passed"`
	Summary string `json:"summary"`
}

// Context carries the requested operation plus the facts the checks
// evaluate. It is constructed per call and never retained.
type Context struct {
	Operation Operation

	// Branch the operation applies to. For merge this is the target
	// branch of the change request.
	Branch string

	// Phase is a snapshot of the branch's lifecycle state.
	Phase *phase.PhaseState

	ChangedFiles []string
	StagedFiles  []string

	// DeclaredSubphase is the sub-phase a commit claims to be part of.
	DeclaredSubphase phase.Subphase

	// Transition request fields.
	TargetPhase    phase.Phase
	TargetSubphase phase.Subphase
	PassThrough    bool

	WorkItemID     string
	WorkItemLabels []string

	// FilePath is the target of a create_file operation.
	FilePath string

	// GateResults holds gate outcomes the caller has already obtained,
	// keyed by gate name. Absent gates are requested via
	// Decision.RequiredGates rather than denied outright.
	GateResults map[string]GateOutcome
}

// Decision is the composed verdict.
type Decision struct {
	// Allow is true iff every check passed. Reasons is empty iff Allow.
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`

	// RequiredGates names checks that still need an external gate run
	// before a final allow can be asserted.
	RequiredGates []string `json:"required_gates,omitempty"`

	// Warnings are non-blocking advisories.
	Warnings []string `json:"warnings,omitempty"`
}

// CheckResult is one check's contribution to the decision.
type CheckResult struct {
	Reasons       []string
	RequiredGates []string
	Warnings      []string
}
