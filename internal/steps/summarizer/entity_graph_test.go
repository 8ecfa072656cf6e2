package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/codestory/internal/models"
)

func buildGraph(names []string, deps map[string][]string) *entityGraph {
	graph := &entityGraph{
		entities: make(map[string]*entity),
		deps:     deps,
	}
	for _, name := range names {
		graph.entities[name] = &entity{Label: models.NodeFunction, QualifiedName: name, Name: name}
	}
	return graph
}

// flattenLayer collects all entity names in a layer
func flattenLayer(layer [][]string) []string {
	var names []string
	for _, component := range layer {
		names = append(names, component...)
	}
	return names
}

func layerOf(layers [][][]string, name string) int {
	for i, layer := range layers {
		for _, component := range layer {
			for _, member := range component {
				if member == name {
					return i
				}
			}
		}
	}
	return -1
}

func TestLayersOrderDependenciesFirst(t *testing.T) {
	// module contains class contains two methods; method b calls method a
	graph := buildGraph(
		[]string{"m", "m.C", "m.C.a", "m.C.b"},
		map[string][]string{
			"m":     {"m.C"},
			"m.C":   {"m.C.a", "m.C.b"},
			"m.C.b": {"m.C.a"},
		},
	)

	layers := graph.layers()

	// Every entity is placed exactly once
	var placed []string
	for _, layer := range layers {
		placed = append(placed, flattenLayer(layer)...)
	}
	assert.ElementsMatch(t, []string{"m", "m.C", "m.C.a", "m.C.b"}, placed)

	// Dependencies land in strictly earlier layers
	assert.Less(t, layerOf(layers, "m.C.a"), layerOf(layers, "m.C.b"))
	assert.Less(t, layerOf(layers, "m.C.b"), layerOf(layers, "m.C"))
	assert.Less(t, layerOf(layers, "m.C"), layerOf(layers, "m"))
}

func TestMutualRecursionCondensesIntoOneComponent(t *testing.T) {
	// a and b call each other; c calls a
	graph := buildGraph(
		[]string{"a", "b", "c"},
		map[string][]string{
			"a": {"b"},
			"b": {"a"},
			"c": {"a"},
		},
	)

	components := graph.stronglyConnectedComponents()

	var sizes []int
	for _, component := range components {
		sizes = append(sizes, len(component))
	}
	assert.ElementsMatch(t, []int{2, 1}, sizes)

	layers := graph.layers()
	require.Len(t, layers, 2)
	// The {a,b} component summarizes before c
	assert.ElementsMatch(t, []string{"a", "b"}, flattenLayer(layers[0]))
	assert.Equal(t, []string{"c"}, flattenLayer(layers[1]))
}

func TestLayersIndependentEntitiesShareALayer(t *testing.T) {
	graph := buildGraph([]string{"x", "y", "z"}, nil)

	layers := graph.layers()
	require.Len(t, layers, 1)
	assert.ElementsMatch(t, []string{"x", "y", "z"}, flattenLayer(layers[0]))
}

func TestSelfReferenceDoesNotDeadlock(t *testing.T) {
	// Direct recursion: a calls a
	graph := buildGraph([]string{"a"}, map[string][]string{"a": {"a"}})

	layers := graph.layers()
	require.Len(t, layers, 1)
	assert.Equal(t, []string{"a"}, flattenLayer(layers[0]))
}
