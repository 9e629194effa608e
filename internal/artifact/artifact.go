// Package artifact validates that phase-required deliverables exist
// and are structurally sound before a lifecycle transition is allowed.
//
// The required artifact set is a pure function of the phase: a static
// table maps each phase to the deliverables it must produce. Documents
// are validated structurally (required sections must appear as
// markdown headings); the implementation phase is validated through
// recorded gate evidence. This package reads the filesystem and never
// writes to it.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/fyrsmithlabs/phased/internal/gate"
	"github.com/fyrsmithlabs/phased/internal/phase"
)

// Problem describes a structurally invalid artifact, as opposed to a
// missing one.
type Problem struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result is the outcome of an artifact validation pass.
type Result struct {
	Valid   bool      `json:"valid"`
	Missing []string  `json:"missing,omitempty"`
	Invalid []Problem `json:"invalid,omitempty"`
}

// docRequirement is a markdown deliverable a phase must produce.
type docRequirement struct {
	// File is the name under docs/items/<work-item-id>/.
	File string

	// Sections must each appear as a heading (any level).
	Sections []string

	// ScanPlaceholders rejects unresolved generation markers.
	ScanPlaceholders bool
}

// gateRequirement is recorded gate evidence a phase must produce.
type gateRequirement struct {
	Gate string
}

// docsByPhase is the static deliverable table. The implementation
// phase produces gate evidence instead of a document; documentation
// closes out with a changelog entry.
var docsByPhase = map[phase.Phase][]docRequirement{
	phase.PhaseResearch:     {{File: "research.md", Sections: []string{"Findings", "References"}}},
	phase.PhasePlanning:     {{File: "plan.md", Sections: []string{"Goals", "Tasks", "Risks"}}},
	phase.PhaseArchitecture: {{File: "architecture.md", Sections: []string{"Overview", "Components"}}},
	phase.PhaseDesign:       {{File: "design.md", Sections: []string{"Interfaces", "Data Model"}, ScanPlaceholders: true}},
	phase.PhaseIntegration:  {{File: "integration.md", Sections: []string{"Verification"}}},
	phase.PhaseDocumentation: {
		{File: "CHANGELOG.md"},
	},
}

var gatesByPhase = map[phase.Phase][]gateRequirement{
	phase.PhaseImplement: {{Gate: "tests"}, {Gate: "quality"}},
}

// placeholderMarkers are tokens left behind by incomplete generation.
var placeholderMarkers = []string{"TBD", "TODO(", "FIXME", "{{"}

// Validator checks deliverables under a workspace.
type Validator struct {
	workspace string
	evidence  *gate.EvidenceStore
}

// NewValidator creates a validator rooted at workspace, reading gate
// evidence from the given store.
func NewValidator(workspace string, evidence *gate.EvidenceStore) *Validator {
	return &Validator{workspace: workspace, evidence: evidence}
}

// ItemDir returns the deliverable directory for a work item.
func (v *Validator) ItemDir(workItemID string) string {
	return filepath.Join(v.workspace, "docs", "items", workItemID)
}

// ValidatePhaseArtifacts checks that every deliverable required to
// enter target exists and is structurally valid: the deliverables of
// all phases strictly before target on the combined order.
func (v *Validator) ValidatePhaseArtifacts(workItemID string, target phase.Phase, branch string) *Result {
	result := &Result{Valid: true}
	for p := phase.PhaseResearch; p < target && p.Valid(); p++ {
		v.checkPhase(result, workItemID, p, branch)
	}
	return result
}

// ValidateCompletion checks the deliverables of every phase, including
// documentation. Used by the close-item and change-request policies.
func (v *Validator) ValidateCompletion(workItemID, branch string) *Result {
	result := &Result{Valid: true}
	for p := phase.PhaseResearch; p.Valid(); p++ {
		v.checkPhase(result, workItemID, p, branch)
	}
	return result
}

func (v *Validator) checkPhase(result *Result, workItemID string, p phase.Phase, branch string) {
	for _, req := range docsByPhase[p] {
		path := filepath.Join(v.ItemDir(workItemID), req.File)
		content, err := os.ReadFile(path)
		if err != nil {
			result.Valid = false
			result.Missing = append(result.Missing, relPath(v.workspace, path))
			continue
		}
		v.checkDoc(result, relPath(v.workspace, path), content, req)
	}

	for _, req := range gatesByPhase[p] {
		ev, err := v.evidence.Lookup(branch, req.Gate)
		if err != nil {
			result.Valid = false
			result.Missing = append(result.Missing, fmt.Sprintf("gate evidence %q for branch %q", req.Gate, branch))
			continue
		}
		if !ev.Passed {
			result.Valid = false
			result.Invalid = append(result.Invalid, Problem{
				Path:   fmt.Sprintf("gate evidence %q", req.Gate),
				Reason: fmt.Sprintf("gate %q last recorded failing: %s", req.Gate, ev.Summary),
			})
		}
	}
}

func (v *Validator) checkDoc(result *Result, path string, content []byte, req docRequirement) {
	if len(strings.TrimSpace(string(content))) == 0 {
		result.Valid = false
		result.Invalid = append(result.Invalid, Problem{Path: path, Reason: "document is empty"})
		return
	}

	headings := extractHeadings(content)
	for _, section := range req.Sections {
		if !hasHeading(headings, section) {
			result.Valid = false
			result.Invalid = append(result.Invalid, Problem{
				Path:   path,
				Reason: fmt.Sprintf("missing required section %q", section),
			})
		}
	}

	if req.ScanPlaceholders {
		for _, marker := range placeholderMarkers {
			if strings.Contains(string(content), marker) {
				result.Valid = false
				result.Invalid = append(result.Invalid, Problem{
					Path:   path,
					Reason: fmt.Sprintf("unresolved placeholder marker %q", marker),
				})
				break
			}
		}
	}
}

// extractHeadings parses markdown and collects heading texts.
func extractHeadings(source []byte) []string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var headings []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			headings = append(headings, string(h.Text(source)))
		}
		return ast.WalkContinue, nil
	})
	return headings
}

func hasHeading(headings []string, want string) bool {
	for _, h := range headings {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return true
		}
	}
	return false
}

func relPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
