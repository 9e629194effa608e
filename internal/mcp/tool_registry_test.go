package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededRegistry() *ToolRegistry {
	r := NewToolRegistry()
	r.Register(&ToolMetadata{
		Name:        "commit",
		Description: "Commit staged work",
		Category:    CategoryGate,
		Keywords:    []string{"git", "red", "green"},
	})
	r.Register(&ToolMetadata{
		Name:        "transition_phase",
		Description: "Advance a branch through the delivery lifecycle",
		Category:    CategoryPhase,
	})
	r.Register(&ToolMetadata{
		Name:        "project_init",
		Description: "Create a project's milestone and items",
		Category:    CategoryProject,
		Keywords:    []string{"graph"},
	})
	return r
}

func TestToolRegistry_ListSorted(t *testing.T) {
	r := seededRegistry()

	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"commit", "project_init", "transition_phase"}, names)
}

func TestToolRegistry_Get(t *testing.T) {
	r := seededRegistry()

	require.NotNil(t, r.Get("commit"))
	assert.Equal(t, CategoryGate, r.Get("commit").Category)
	assert.Nil(t, r.Get("no_such_tool"))
}

func TestToolRegistry_ByCategory(t *testing.T) {
	r := seededRegistry()

	gates := r.ByCategory(CategoryGate)
	require.Len(t, gates, 1)
	assert.Equal(t, "commit", gates[0].Name)

	assert.Empty(t, r.ByCategory(CategoryArtifact))
}

func TestToolRegistry_Search(t *testing.T) {
	r := seededRegistry()

	t.Run("matches name", func(t *testing.T) {
		results := r.Search("transition")
		require.Len(t, results, 1)
		assert.Equal(t, "transition_phase", results[0].Name)
	})

	t.Run("matches keyword case-insensitively", func(t *testing.T) {
		results := r.Search("GIT")
		require.Len(t, results, 1)
		assert.Equal(t, "commit", results[0].Name)
	})

	t.Run("matches description", func(t *testing.T) {
		results := r.Search("milestone")
		require.Len(t, results, 1)
		assert.Equal(t, "project_init", results[0].Name)
	})

	t.Run("empty query lists everything", func(t *testing.T) {
		assert.Len(t, r.Search("  "), 3)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, r.Search("telemetry"))
	})
}

func TestToolRegistry_IgnoresNilAndUnnamed(t *testing.T) {
	r := NewToolRegistry()
	r.Register(nil)
	r.Register(&ToolMetadata{Description: "nameless"})
	assert.Empty(t, r.List())
}
