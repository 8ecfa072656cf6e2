package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/codestory/internal/models"
)

func TestBuildNodeUpsertMergesOnIdentity(t *testing.T) {
	query, err := buildNodeUpsert(models.NodeFile)
	require.NoError(t, err)

	assert.Contains(t, query, "UNWIND $rows AS row")
	assert.Contains(t, query, "MERGE (n:File {path: row.path})")
	assert.Contains(t, query, "SET n += row")
	assert.Contains(t, query, "RETURN count(n) AS count")
}

func TestBuildNodeUpsertRejectsUnknownLabel(t *testing.T) {
	_, err := buildNodeUpsert("Widget")
	assert.Error(t, err)
}

func TestBuildNodeUpsertRejectsUnsafeIdentifier(t *testing.T) {
	_, err := buildNodeUpsert("File) DETACH DELETE n //")
	assert.Error(t, err)
}

func TestBuildEdgeUpsertMatchesEndpointsOnly(t *testing.T) {
	edge := models.GraphEdge{
		Type:      models.EdgeContains,
		FromLabel: models.NodeDirectory,
		FromKey:   map[string]any{"path": "/"},
		ToLabel:   models.NodeFile,
		ToKey:     map[string]any{"path": "/main.py"},
	}

	query, params, err := buildEdgeUpsert(edge, []models.GraphEdge{edge})
	require.NoError(t, err)

	// Endpoints are MATCHed, never created, so missing nodes are skipped
	assert.Contains(t, query, "MATCH (a:Directory {path: row.from_path})")
	assert.Contains(t, query, "MATCH (b:File {path: row.to_path})")
	assert.Contains(t, query, "MERGE (a)-[r:CONTAINS]->(b)")
	assert.NotContains(t, query, "MERGE (a:")
	assert.NotContains(t, query, "MERGE (b:")

	rows, ok := params["rows"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "/", rows[0]["from_path"])
	assert.Equal(t, "/main.py", rows[0]["to_path"])
}

func TestBuildEdgeUpsertRejectsMissingIdentity(t *testing.T) {
	edge := models.GraphEdge{
		Type:      models.EdgeCalls,
		FromLabel: models.NodeFunction,
		FromKey:   map[string]any{},
		ToLabel:   models.NodeFunction,
		ToKey:     map[string]any{"qualified_name": "b"},
	}
	_, _, err := buildEdgeUpsert(edge, []models.GraphEdge{edge})
	assert.Error(t, err)
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, validateIdentifier("File"))
	assert.NoError(t, validateIdentifier("INHERITS_FROM"))
	assert.Error(t, validateIdentifier(""))
	assert.Error(t, validateIdentifier("File; DROP"))
	assert.Error(t, validateIdentifier("File name"))
}

func TestConstraintNameIsStable(t *testing.T) {
	assert.Equal(t, "file_path_unique", constraintName("File", "path"))
	assert.Equal(t, "summary_id_unique", constraintName("Summary", "id"))
}
