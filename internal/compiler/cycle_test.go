package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFindCycles_Empty tests an empty graph has no cycles.
func TestFindCycles_Empty(t *testing.T) {
	assert.Empty(t, findCycles(roleGraph{}))
}

// TestFindCycles_DAG tests a directed acyclic graph has no cycles.
func TestFindCycles_DAG(t *testing.T) {
	graph := roleGraph{
		"admin":         {"editor", "authenticated"},
		"editor":        {"authenticated"},
		"authenticated": {},
	}
	assert.Empty(t, findCycles(graph))
}

// TestFindCycles_SelfLoop tests a role extending itself.
func TestFindCycles_SelfLoop(t *testing.T) {
	graph := roleGraph{"admin": {"admin"}}
	assert.Equal(t, [][]string{{"admin", "admin"}}, findCycles(graph))
}

// TestFindCycles_ThreeNode tests a longer cycle is reported once as a closed
// path starting from its lexically first role.
func TestFindCycles_ThreeNode(t *testing.T) {
	graph := roleGraph{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
		"d": {"a"},
	}
	assert.Equal(t, [][]string{{"a", "b", "c", "a"}}, findCycles(graph))
}

// TestFindCycles_Multiple tests independent cycles are ordered
// deterministically.
func TestFindCycles_Multiple(t *testing.T) {
	graph := roleGraph{
		"y": {"z"},
		"z": {"y"},
		"a": {"b"},
		"b": {"a"},
	}
	for range 10 {
		assert.Equal(t, [][]string{{"a", "b", "a"}, {"y", "z", "y"}}, findCycles(graph))
	}
}
