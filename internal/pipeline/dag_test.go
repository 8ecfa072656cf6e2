package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/codestory/internal/models"
)

func requested(names ...string) []models.StepRequest {
	steps := make([]models.StepRequest, 0, len(names))
	for _, name := range names {
		steps = append(steps, models.StepRequest{Name: name})
	}
	return steps
}

func TestBuildGraphLinearChain(t *testing.T) {
	graph, err := BuildGraph(
		requested("filesystem", "astextract", "summarizer"),
		map[string][]string{
			"astextract": {"filesystem"},
			"summarizer": {"filesystem", "astextract"},
		},
	)
	require.Nil(t, err)

	assert.Equal(t, []string{"filesystem", "astextract", "summarizer"}, graph.Order)
	assert.Equal(t, []string{"filesystem"}, graph.Dependencies["astextract"])
	assert.ElementsMatch(t, []string{"astextract", "summarizer"}, graph.Dependents["filesystem"])
}

func TestBuildGraphRejectsCycle(t *testing.T) {
	_, err := BuildGraph(
		requested("summarizer", "docgrapher"),
		map[string][]string{
			"summarizer": {"docgrapher"},
			"docgrapher": {"summarizer"},
		},
	)
	require.NotNil(t, err)
	assert.Equal(t, models.ErrInvalidPipeline, err.Kind)
	assert.Contains(t, err.Message, "cycle")
	assert.Contains(t, err.Message, "->")
}

func TestBuildGraphRejectsSelfDependency(t *testing.T) {
	_, err := BuildGraph(
		requested("filesystem"),
		map[string][]string{"filesystem": {"filesystem"}},
	)
	require.NotNil(t, err)
	assert.Equal(t, models.ErrInvalidPipeline, err.Kind)
}

func TestBuildGraphRejectsDuplicateStep(t *testing.T) {
	_, err := BuildGraph(requested("filesystem", "filesystem"), nil)
	require.NotNil(t, err)
	assert.Equal(t, models.ErrInvalidPipeline, err.Kind)
}

func TestBuildGraphRejectsEmptyRequest(t *testing.T) {
	_, err := BuildGraph(nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, models.ErrInvalidPipeline, err.Kind)
}

func TestBuildGraphIgnoresUnrequestedDependency(t *testing.T) {
	// docgrapher soft-uses astextract; a pipeline without astextract must
	// still validate and run docgrapher after filesystem alone.
	graph, err := BuildGraph(
		requested("filesystem", "docgrapher"),
		map[string][]string{"docgrapher": {"filesystem", "astextract"}},
	)
	require.Nil(t, err)
	assert.Equal(t, []string{"filesystem"}, graph.Dependencies["docgrapher"])
}

func TestReadyStepsRespectsDependencies(t *testing.T) {
	graph, err := BuildGraph(
		requested("filesystem", "astextract", "docgrapher"),
		map[string][]string{
			"astextract": {"filesystem"},
			"docgrapher": {"filesystem"},
		},
	)
	require.Nil(t, err)

	states := map[string]*models.StepState{
		"filesystem": {Name: "filesystem", Status: models.StepStatusPending},
		"astextract": {Name: "astextract", Status: models.StepStatusPending},
		"docgrapher": {Name: "docgrapher", Status: models.StepStatusPending},
	}

	assert.Equal(t, []string{"filesystem"}, graph.ReadySteps(states))

	states["filesystem"].Status = models.StepStatusSucceeded
	// Requested order is the tie-break between simultaneously ready steps
	assert.Equal(t, []string{"astextract", "docgrapher"}, graph.ReadySteps(states))

	states["astextract"].Status = models.StepStatusRunning
	assert.Equal(t, []string{"docgrapher"}, graph.ReadySteps(states))
}

func TestTransitiveDependents(t *testing.T) {
	graph, err := BuildGraph(
		requested("filesystem", "astextract", "summarizer", "docgrapher"),
		map[string][]string{
			"astextract": {"filesystem"},
			"summarizer": {"filesystem", "astextract"},
			"docgrapher": {"filesystem"},
		},
	)
	require.Nil(t, err)

	assert.Equal(t, []string{"summarizer"}, graph.TransitiveDependents("astextract"))
	assert.Equal(t, []string{"astextract", "summarizer", "docgrapher"}, graph.TransitiveDependents("filesystem"))
	assert.Empty(t, graph.TransitiveDependents("docgrapher"))
}
