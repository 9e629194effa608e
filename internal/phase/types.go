// Package phase implements the per-branch lifecycle state machine.
//
// The delivery lifecycle is a strict total order of seven phases, with
// phase 4 subdivided into the red/green/refactor TDD sub-phases:
//
//	0 research -> 1 planning -> 2 architecture -> 3 design ->
//	4.red -> 4.green -> 4.refactor -> 5 integration -> 6 documentation
//
// A transition is legal when it advances exactly one step in the
// combined order, or jumps forward with an explicit pass-through
// override. Backward transitions are never legal; rework re-enters the
// lifecycle on a new branch.
package phase

import (
	"fmt"
	"time"
)

// Phase is one stage of the seven-stage lifecycle.
type Phase int

const (
	PhaseResearch      Phase = 0
	PhasePlanning      Phase = 1
	PhaseArchitecture  Phase = 2
	PhaseDesign        Phase = 3
	PhaseImplement     Phase = 4
	PhaseIntegration   Phase = 5
	PhaseDocumentation Phase = 6
)

var phaseNames = map[Phase]string{
	PhaseResearch:      "research",
	PhasePlanning:      "planning",
	PhaseArchitecture:  "architecture",
	PhaseDesign:        "design",
	PhaseImplement:     "implementation",
	PhaseIntegration:   "integration",
	PhaseDocumentation: "documentation",
}

// String returns the phase name, or "phase-N" for out-of-range values.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase-%d", int(p))
}

// Valid reports whether p is one of the seven lifecycle phases.
func (p Phase) Valid() bool {
	_, ok := phaseNames[p]
	return ok
}

// Subphase is a TDD sub-phase within the implementation phase.
type Subphase string

const (
	SubphaseNone     Subphase = "none"
	SubphaseRed      Subphase = "red"
	SubphaseGreen    Subphase = "green"
	SubphaseRefactor Subphase = "refactor"
)

// Valid reports whether s is a known sub-phase value.
func (s Subphase) Valid() bool {
	switch s {
	case SubphaseNone, SubphaseRed, SubphaseGreen, SubphaseRefactor:
		return true
	}
	return false
}

// PhaseTransition is one immutable entry in a branch's history.
type PhaseTransition struct {
	FromPhase    Phase     `json:"from_phase"`
	FromSubphase Subphase  `json:"from_subphase"`
	ToPhase      Phase     `json:"to_phase"`
	ToSubphase   Subphase  `json:"to_subphase"`
	PassThrough  bool      `json:"pass_through"`
	Timestamp    time.Time `json:"timestamp"`
}

// PhaseState is the persisted lifecycle state of one branch.
//
// Invariant: TDDSubphase != SubphaseNone only when CurrentPhase is
// PhaseImplement.
type PhaseState struct {
	Branch         string            `json:"branch"`
	CurrentPhase   Phase             `json:"current_phase"`
	TDDSubphase    Subphase          `json:"tdd_subphase"`
	LinkedWorkItem string            `json:"linked_work_item,omitempty"`
	History        []PhaseTransition `json:"history"`
	ToolUsage      map[string]int    `json:"tool_usage"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewPhaseState returns the fresh phase-0 state for an unseen branch.
func NewPhaseState(branch string) *PhaseState {
	return &PhaseState{
		Branch:       branch,
		CurrentPhase: PhaseResearch,
		TDDSubphase:  SubphaseNone,
		History:      []PhaseTransition{},
		ToolUsage:    map[string]int{},
	}
}

// Clone returns a deep copy so callers can hold a snapshot without
// racing the engine's mutations.
func (s *PhaseState) Clone() *PhaseState {
	out := *s
	out.History = append([]PhaseTransition(nil), s.History...)
	out.ToolUsage = make(map[string]int, len(s.ToolUsage))
	for k, v := range s.ToolUsage {
		out.ToolUsage[k] = v
	}
	return &out
}

// Position collapses (phase, subphase) onto the combined strict total
// order: 0..3 for the pre-implementation phases, 4..6 for
// red/green/refactor, 7 for integration, 8 for documentation.
// The second return is false for positions outside the order.
func Position(p Phase, s Subphase) (int, bool) {
	if !p.Valid() || !s.Valid() {
		return 0, false
	}
	if p != PhaseImplement {
		if s != SubphaseNone {
			return 0, false
		}
		if p > PhaseImplement {
			return int(p) + 2, true
		}
		return int(p), true
	}
	switch s {
	case SubphaseNone, SubphaseRed: // entering phase 4 means red
		return 4, true
	case SubphaseGreen:
		return 5, true
	case SubphaseRefactor:
		return 6, true
	}
	return 0, false
}

// Normalize resolves the implicit sub-phase for a target: phase 4 with
// no sub-phase means red, any other phase clears the sub-phase.
func Normalize(p Phase, s Subphase) (Phase, Subphase) {
	if p == PhaseImplement {
		if s == SubphaseNone || s == "" {
			return p, SubphaseRed
		}
		return p, s
	}
	return p, SubphaseNone
}
