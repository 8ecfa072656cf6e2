// -----------------------------------------------------------------------
// Step DAG - Dependency graph validation over a job's requested steps
// -----------------------------------------------------------------------

package pipeline

import (
	"strings"

	"github.com/ternarybob/codestory/internal/models"
)

// Graph is the dependency DAG over a job's requested steps. Dependencies are
// resolved against the requested set: a declared dependency absent from the
// request is simply not enforced (the step runs without it).
type Graph struct {
	// Order preserves requested-step order for scheduling tie-breaks
	Order []string
	// Dependencies maps step name to the requested steps it waits for
	Dependencies map[string][]string
	// Dependents is the reverse adjacency, for failure cascades
	Dependents map[string][]string
}

// BuildGraph resolves declared dependencies over the requested steps and
// validates the result. Returns an invalid_pipeline error on duplicates,
// self-dependencies, or cycles — before any work starts. Declared
// dependencies that were not requested are ignored; unknown step names are
// not checked here.
func BuildGraph(requested []models.StepRequest, declared map[string][]string) (*Graph, *models.ErrorRecord) {
	if len(requested) == 0 {
		return nil, models.Errorf(models.ErrInvalidPipeline, "", "no steps requested")
	}

	inRequest := make(map[string]bool, len(requested))
	order := make([]string, 0, len(requested))
	for _, req := range requested {
		if inRequest[req.Name] {
			return nil, models.Errorf(models.ErrInvalidPipeline, req.Name,
				"step %s requested more than once", req.Name)
		}
		inRequest[req.Name] = true
		order = append(order, req.Name)
	}

	graph := &Graph{
		Order:        order,
		Dependencies: make(map[string][]string, len(order)),
		Dependents:   make(map[string][]string, len(order)),
	}

	for _, name := range order {
		for _, dep := range declared[name] {
			if dep == name {
				return nil, models.Errorf(models.ErrInvalidPipeline, name,
					"step %s depends on itself", name)
			}
			if !inRequest[dep] {
				// Soft dependency: requested pipelines may omit optional
				// predecessors (e.g. docgrapher without astextract).
				continue
			}
			graph.Dependencies[name] = append(graph.Dependencies[name], dep)
			graph.Dependents[dep] = append(graph.Dependents[dep], name)
		}
	}

	if cycle := graph.findCycle(); len(cycle) > 0 {
		return nil, models.Errorf(models.ErrInvalidPipeline, cycle[0],
			"dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	return graph, nil
}

// findCycle runs a DFS over the dependency edges and returns the first cycle
// found as a path (closed: first element repeated at the end), or nil.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Order))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = visiting
		stack = append(stack, name)

		for _, dep := range g.Dependencies[name] {
			switch state[dep] {
			case visiting:
				// Slice the stack from the first occurrence of dep
				for i, entry := range stack {
					if entry == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range g.Order {
		if state[name] == unvisited {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

// ReadySteps returns the steps whose dependencies have all succeeded, in
// requested order (the scheduling tie-break), filtered to pending steps.
func (g *Graph) ReadySteps(states map[string]*models.StepState) []string {
	var ready []string
	for _, name := range g.Order {
		state := states[name]
		if state == nil || state.Status != models.StepStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range g.Dependencies[name] {
			if states[dep] == nil || states[dep].Status != models.StepStatusSucceeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, name)
		}
	}
	return ready
}

// TransitiveDependents returns every step that directly or transitively
// depends on the given step, in requested order.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)
	var walk func(step string)
	walk = func(step string) {
		for _, dependent := range g.Dependents[step] {
			if !seen[dependent] {
				seen[dependent] = true
				walk(dependent)
			}
		}
	}
	walk(name)

	var result []string
	for _, step := range g.Order {
		if seen[step] {
			result = append(result, step)
		}
	}
	return result
}
