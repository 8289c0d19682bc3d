package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDependencyGraphHasCycle(t *testing.T) {
	g := NewDependencyGraph([]SessionDependency{
		{Dependent: "a", DependsOn: "b"},
		{Dependent: "b", DependsOn: "c"},
		{Dependent: "c", DependsOn: "a"},
	})
	assert.True(t, g.HasCycle("a"))
}

func TestDependencyGraphAcyclic(t *testing.T) {
	g := NewDependencyGraph([]SessionDependency{
		{Dependent: "a", DependsOn: "b"},
		{Dependent: "b", DependsOn: "c"},
	})
	assert.False(t, g.HasCycle("a"))
}

func TestDependencyGraphIsSatisfied(t *testing.T) {
	g := NewDependencyGraph([]SessionDependency{
		{Dependent: "a", DependsOn: "b"},
		{Dependent: "a", DependsOn: "c"},
	})
	succeeded := map[string]bool{"b": true, "c": false}
	ok := g.IsSatisfied("a", func(id string) bool { return succeeded[id] })
	assert.False(t, ok)

	succeeded["c"] = true
	ok = g.IsSatisfied("a", func(id string) bool { return succeeded[id] })
	assert.True(t, ok)
}
