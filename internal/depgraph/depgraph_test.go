package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestValidate_LinearChain(t *testing.T) {
	result, err := Validate([]Node{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"B"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Acyclic)
	assert.Equal(t, []string{"A", "B", "C"}, result.Order)
	assert.Nil(t, result.Cycle)
}

func TestValidate_DiamondRespectsEdges(t *testing.T) {
	nodes := []Node{
		{ID: "root"},
		{ID: "left", DependsOn: []string{"root"}},
		{ID: "right", DependsOn: []string{"root"}},
		{ID: "join", DependsOn: []string{"left", "right"}},
	}
	result, err := Validate(nodes)
	require.NoError(t, err)
	require.True(t, result.Acyclic)
	require.Len(t, result.Order, 4)

	// Every id appears after all ids it depends on.
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			assert.Less(t, indexOf(result.Order, dep), indexOf(result.Order, n.ID),
				"%s must come after %s", n.ID, dep)
		}
	}
}

func TestValidate_TwoNodeCycle(t *testing.T) {
	result, err := Validate([]Node{
		{ID: "A", DependsOn: []string{"B"}},
		{ID: "B", DependsOn: []string{"A"}},
	})
	require.NoError(t, err)
	assert.False(t, result.Acyclic)
	assert.Nil(t, result.Order)
	assert.ElementsMatch(t, []string{"A", "B"}, result.Cycle)
}

func TestValidate_CycleWithAcyclicPrefix(t *testing.T) {
	result, err := Validate([]Node{
		{ID: "setup"},
		{ID: "X", DependsOn: []string{"setup", "Z"}},
		{ID: "Y", DependsOn: []string{"X"}},
		{ID: "Z", DependsOn: []string{"Y"}},
	})
	require.NoError(t, err)
	require.False(t, result.Acyclic)
	require.GreaterOrEqual(t, len(result.Cycle), 2)

	// Reported ids must form a real cycle in the input graph.
	inCycle := map[string]bool{}
	for _, id := range result.Cycle {
		inCycle[id] = true
	}
	assert.True(t, inCycle["X"] && inCycle["Y"] && inCycle["Z"])
	assert.False(t, inCycle["setup"])
}

func TestValidate_SelfDependency(t *testing.T) {
	result, err := Validate([]Node{{ID: "A", DependsOn: []string{"A"}}})
	require.NoError(t, err)
	assert.False(t, result.Acyclic)
	assert.Equal(t, []string{"A"}, result.Cycle)
}

func TestValidate_UnknownDependency(t *testing.T) {
	_, err := Validate([]Node{{ID: "A", DependsOn: []string{"ghost"}}})
	require.ErrorIs(t, err, ErrUnknownDependency)
}

func TestValidate_DuplicateID(t *testing.T) {
	_, err := Validate([]Node{{ID: "A"}, {ID: "A"}})
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestValidate_EmptyAndSingle(t *testing.T) {
	result, err := Validate(nil)
	require.NoError(t, err)
	assert.True(t, result.Acyclic)
	assert.Empty(t, result.Order)

	result, err = Validate([]Node{{ID: "only"}})
	require.NoError(t, err)
	assert.True(t, result.Acyclic)
	assert.Equal(t, []string{"only"}, result.Order)
}

func TestValidate_Deterministic(t *testing.T) {
	nodes := []Node{
		{ID: "b"}, {ID: "a"}, {ID: "c", DependsOn: []string{"a", "b"}},
	}
	first, err := Validate(nodes)
	require.NoError(t, err)
	second, err := Validate(nodes)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c"}, first.Order)
}
