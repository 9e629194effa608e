package mcp

import (
	"sort"
	"strings"
	"sync"
)

// ToolCategory represents the functional category of a tool.
type ToolCategory string

const (
	// CategoryGate is for gated choke-point operations.
	CategoryGate ToolCategory = "gate"
	// CategoryPhase is for phase-state inspection and transitions.
	CategoryPhase ToolCategory = "phase"
	// CategoryProject is for project initialization and drift tools.
	CategoryProject ToolCategory = "project"
	// CategoryArtifact is for deliverable validation tools.
	CategoryArtifact ToolCategory = "artifact"
)

// ToolMetadata contains metadata about a registered MCP tool.
type ToolMetadata struct {
	// Name is the unique tool name (e.g., "commit").
	Name string `json:"name"`

	// Description is a human-readable description of what the tool does.
	Description string `json:"description"`

	// Category is the functional category of the tool.
	Category ToolCategory `json:"category"`

	// Keywords are additional searchable terms for this tool.
	Keywords []string `json:"keywords,omitempty"`
}

// ToolRegistry manages metadata about all registered MCP tools so
// callers can discover what is gated and why.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds a tool to the registry.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the metadata for a tool name, or nil.
func (r *ToolRegistry) Get(name string) *ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tools sorted by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCategory returns the tools of one category sorted by name.
func (r *ToolRegistry) ByCategory(category ToolCategory) []*ToolMetadata {
	var out []*ToolMetadata
	for _, tool := range r.List() {
		if tool.Category == category {
			out = append(out, tool)
		}
	}
	return out
}

// Search returns tools whose name, description, or keywords contain
// the query, case-insensitively, sorted by name.
func (r *ToolRegistry) Search(query string) []*ToolMetadata {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return r.List()
	}

	var out []*ToolMetadata
	for _, tool := range r.List() {
		if toolMatches(tool, query) {
			out = append(out, tool)
		}
	}
	return out
}

func toolMatches(tool *ToolMetadata, query string) bool {
	if strings.Contains(strings.ToLower(tool.Name), query) {
		return true
	}
	if strings.Contains(strings.ToLower(tool.Description), query) {
		return true
	}
	for _, kw := range tool.Keywords {
		if strings.Contains(strings.ToLower(kw), query) {
			return true
		}
	}
	return false
}
