// -----------------------------------------------------------------------
// Entity Graph - Dependency ordering over code entities for summarization
// -----------------------------------------------------------------------

package summarizer

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// entity is one code node the summarizer will describe
type entity struct {
	Label         string
	QualifiedName string
	Name          string
	Path          string // repository-relative file path ("/pkg/a.py")
	StartLine     int
	EndLine       int
	Docstring     string
}

// entityGraph holds the entities and the dependency edges between them:
// an entity depends on the entities whose summaries its own prompt wants
// (containees, callees, superclasses).
type entityGraph struct {
	entities map[string]*entity
	deps     map[string][]string
}

const entityQuery = `MATCH (n:%s)
WHERE n.qualified_name IS NOT NULL
RETURN n.qualified_name AS qualified_name, n.name AS name, n.path AS path,
       n.start_line AS start_line, n.end_line AS end_line, n.docstring AS docstring`

const entityEdgeQuery = `MATCH (a)-[r:CONTAINS|DEFINES|CALLS|INHERITS_FROM]->(b)
WHERE a.qualified_name IS NOT NULL AND b.qualified_name IS NOT NULL
RETURN a.qualified_name AS from, b.qualified_name AS to`

// loadEntityGraph reads the code entities and their ordering edges from the
// graph written by the AST extraction step
func loadEntityGraph(ctx context.Context, store interfaces.GraphStore) (*entityGraph, error) {
	graph := &entityGraph{
		entities: make(map[string]*entity),
		deps:     make(map[string][]string),
	}

	for _, label := range []string{models.NodeModule, models.NodeClass, models.NodeFunction} {
		rows, err := store.ExecuteRead(ctx, fmt.Sprintf(entityQuery, label), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s entities: %w", label, err)
		}
		for _, row := range rows {
			e := &entity{
				Label:         label,
				QualifiedName: rowString(row, "qualified_name"),
				Name:          rowString(row, "name"),
				Path:          rowString(row, "path"),
				StartLine:     rowInt(row, "start_line"),
				EndLine:       rowInt(row, "end_line"),
				Docstring:     rowString(row, "docstring"),
			}
			if e.QualifiedName == "" {
				continue
			}
			graph.entities[e.QualifiedName] = e
		}
	}

	rows, err := store.ExecuteRead(ctx, entityEdgeQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity edges: %w", err)
	}
	for _, row := range rows {
		from := rowString(row, "from")
		to := rowString(row, "to")
		if from == "" || to == "" || from == to {
			continue
		}
		// Only order within the summarized entity set
		if graph.entities[from] == nil || graph.entities[to] == nil {
			continue
		}
		graph.deps[from] = append(graph.deps[from], to)
	}

	return graph, nil
}

// layers groups entities into dependency layers: strongly connected
// components are condensed first (mutual recursion is common in CALLS
// edges), then the condensation is walked dependencies-first. Every member
// of layer N only depends on members of layers < N or on its own component.
func (g *entityGraph) layers() [][][]string {
	components := g.stronglyConnectedComponents()

	// Map entity -> component index
	owner := make(map[string]int, len(g.entities))
	for i, component := range components {
		for _, name := range component {
			owner[name] = i
		}
	}

	// Condensation edges: component -> components it depends on
	compDeps := make(map[int]map[int]bool, len(components))
	for from, targets := range g.deps {
		fromComp := owner[from]
		for _, to := range targets {
			toComp := owner[to]
			if fromComp == toComp {
				continue
			}
			if compDeps[fromComp] == nil {
				compDeps[fromComp] = make(map[int]bool)
			}
			compDeps[fromComp][toComp] = true
		}
	}

	// Kahn-style layering: a component is placeable once all the
	// components it depends on are placed.
	pending := make(map[int]int, len(components)) // unresolved dep count
	for i := range components {
		pending[i] = len(compDeps[i])
	}
	dependents := make(map[int][]int)
	for from, targets := range compDeps {
		for to := range targets {
			dependents[to] = append(dependents[to], from)
		}
	}

	var result [][][]string
	placed := make(map[int]bool, len(components))
	for len(placed) < len(components) {
		var layer [][]string
		var layerComps []int
		for i := range components {
			if !placed[i] && pending[i] == 0 {
				layerComps = append(layerComps, i)
			}
		}
		if len(layerComps) == 0 {
			// Unreachable with a correct condensation; guard against
			// infinite loop regardless.
			break
		}
		for _, i := range layerComps {
			placed[i] = true
			layer = append(layer, components[i])
		}
		for _, i := range layerComps {
			for _, dependent := range dependents[i] {
				pending[dependent]--
			}
		}
		result = append(result, layer)
	}

	return result
}

// stronglyConnectedComponents runs Tarjan's algorithm over the dependency
// edges. Components come out in reverse topological order; layering above
// does its own ordering, so only membership matters here.
func (g *entityGraph) stronglyConnectedComponents() [][]string {
	index := 0
	indices := make(map[string]int, len(g.entities))
	lowlinks := make(map[string]int, len(g.entities))
	onStack := make(map[string]bool, len(g.entities))
	var stack []string
	var components [][]string

	var strongconnect func(name string)
	strongconnect = func(name string) {
		indices[name] = index
		lowlinks[name] = index
		index++
		stack = append(stack, name)
		onStack[name] = true

		for _, dep := range g.deps[name] {
			if _, seen := indices[dep]; !seen {
				strongconnect(dep)
				if lowlinks[dep] < lowlinks[name] {
					lowlinks[name] = lowlinks[dep]
				}
			} else if onStack[dep] {
				if indices[dep] < lowlinks[name] {
					lowlinks[name] = indices[dep]
				}
			}
		}

		if lowlinks[name] == indices[name] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == name {
					break
				}
			}
			components = append(components, component)
		}
	}

	// Deterministic iteration: sorted entity names
	for _, name := range sortedEntityNames(g.entities) {
		if _, seen := indices[name]; !seen {
			strongconnect(name)
		}
	}

	return components
}

// sortedEntityNames returns entity names in lexicographic order for
// deterministic traversal
func sortedEntityNames(entities map[string]*entity) []string {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func rowString(row interfaces.Row, key string) string {
	if value, ok := row[key].(string); ok {
		return value
	}
	return ""
}

func rowInt(row interfaces.Row, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
