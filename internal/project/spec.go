// Package project initializes multi-phase projects in the tracking
// system and maintains a local metadata cache mirroring what was
// created. The cache is an ergonomics optimization; the tracker stays
// the source of truth, and a drift report surfaces divergence.
package project

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/phased/internal/depgraph"
)

// PhaseSpec describes one planned work item of a project.
type PhaseSpec struct {
	ID          string   `koanf:"id"`
	Title       string   `koanf:"title"`
	Description string   `koanf:"description"`
	DependsOn   []string `koanf:"depends_on"`

	// InitialLabels are applied to the sub-item on creation, in
	// addition to the standard phase labels.
	InitialLabels []string `koanf:"initial_labels"`
}

// ProjectSpec is the operator-authored plan for a whole project.
type ProjectSpec struct {
	Title       string      `koanf:"title"`
	Description string      `koanf:"description"`
	Phases      []PhaseSpec `koanf:"phases"`

	// ParentItemID attaches the project to an existing tracker item
	// instead of creating a new parent. Zero means create one.
	ParentItemID int `koanf:"parent_item_id"`
}

// LoadSpec reads and parses a project spec YAML file.
func LoadSpec(path string) (*ProjectSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project spec: %w", err)
	}
	return ParseSpec(content)
}

// ParseSpec parses project spec YAML.
func ParseSpec(content []byte) (*ProjectSpec, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse project spec: %w", err)
	}

	var spec ProjectSpec
	if err := k.Unmarshal("", &spec); err != nil {
		return nil, fmt.Errorf("unmarshal project spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec's fields and the dependency graph. A cyclic
// or inconsistent graph is a configuration error raised before any
// external effect.
func (s *ProjectSpec) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("project spec: title is required")
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("project spec: at least one phase is required")
	}
	if s.ParentItemID < 0 {
		return fmt.Errorf("project spec: parent_item_id must be a positive item number")
	}
	for i, p := range s.Phases {
		if p.ID == "" {
			return fmt.Errorf("project spec: phase %d has no id", i)
		}
		if p.Title == "" {
			return fmt.Errorf("project spec: phase %q has no title", p.ID)
		}
	}

	result, err := depgraph.Validate(s.graphNodes())
	if err != nil {
		return fmt.Errorf("project spec: %w", err)
	}
	if !result.Acyclic {
		return fmt.Errorf("project spec: dependency cycle: %v", result.Cycle)
	}
	return nil
}

// Order returns the phase ids in a deterministic topological order.
// Validate must have passed.
func (s *ProjectSpec) Order() ([]string, error) {
	result, err := depgraph.Validate(s.graphNodes())
	if err != nil {
		return nil, err
	}
	if !result.Acyclic {
		return nil, fmt.Errorf("dependency cycle: %v", result.Cycle)
	}
	return result.Order, nil
}

// Phase returns the spec for id, or nil.
func (s *ProjectSpec) Phase(id string) *PhaseSpec {
	for i := range s.Phases {
		if s.Phases[i].ID == id {
			return &s.Phases[i]
		}
	}
	return nil
}

// Blocks returns the ids of phases that depend on id, sorted by
// declaration order.
func (s *ProjectSpec) Blocks(id string) []string {
	var blocks []string
	for _, p := range s.Phases {
		for _, dep := range p.DependsOn {
			if dep == id {
				blocks = append(blocks, p.ID)
				break
			}
		}
	}
	return blocks
}

func (s *ProjectSpec) graphNodes() []depgraph.Node {
	nodes := make([]depgraph.Node, 0, len(s.Phases))
	for _, p := range s.Phases {
		nodes = append(nodes, depgraph.Node{ID: p.ID, DependsOn: p.DependsOn})
	}
	return nodes
}
