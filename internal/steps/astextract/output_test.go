package astextract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/codestory/internal/models"
)

const goodStream = `
{"kind":"node","label":"Module","properties":{"qualified_name":"main","name":"main","path":"/main.py"}}
{"kind":"node","label":"Function","properties":{"qualified_name":"main.greeting","name":"greeting","path":"/main.py","start_line":1,"end_line":2,"docstring":"Say hello."}}
{"kind":"node","label":"Class","properties":{"qualified_name":"main.Greeter","name":"Greeter","path":"/main.py"}}
{"kind":"edge","type":"DEFINES","from_label":"Module","from":{"qualified_name":"main"},"to_label":"Function","to":{"qualified_name":"main.greeting"}}
{"kind":"edge","type":"CALLS","from_label":"Function","from":{"qualified_name":"main.greeting"},"to_label":"Function","to":{"qualified_name":"main.helper"}}
`

func TestParseSymbolStream(t *testing.T) {
	stream, err := parseSymbolStream(strings.NewReader(goodStream))
	require.NoError(t, err)

	assert.Len(t, stream.nodes[models.NodeModule], 1)
	assert.Len(t, stream.nodes[models.NodeFunction], 1)
	assert.Len(t, stream.nodes[models.NodeClass], 1)
	require.Len(t, stream.edges, 2)

	assert.Equal(t, models.EdgeDefines, stream.edges[0].Type)
	assert.Equal(t, "main", stream.edges[0].FromKey["qualified_name"])
	assert.Equal(t, "main.greeting", stream.edges[0].ToKey["qualified_name"])

	counts := stream.counts()
	assert.Equal(t, int64(1), counts["functions"])
	assert.Equal(t, int64(2), counts["edges"])
}

func TestParseSymbolStreamSkipsBlankLines(t *testing.T) {
	stream, err := parseSymbolStream(strings.NewReader("\n\n" + strings.TrimSpace(goodStream) + "\n\n"))
	require.NoError(t, err)
	assert.Len(t, stream.edges, 2)
}

func TestParseSymbolStreamRejectsMalformedJSON(t *testing.T) {
	_, err := parseSymbolStream(strings.NewReader(`{"kind":"node","label":"Module"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestParseSymbolStreamRejectsUnknownLabel(t *testing.T) {
	_, err := parseSymbolStream(strings.NewReader(
		`{"kind":"node","label":"Widget","properties":{"qualified_name":"w"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Widget")
}

func TestParseSymbolStreamRejectsUnknownEdgeType(t *testing.T) {
	_, err := parseSymbolStream(strings.NewReader(
		`{"kind":"edge","type":"LIKES","from_label":"Module","from":{"qualified_name":"a"},"to_label":"Module","to":{"qualified_name":"b"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIKES")
}

func TestParseSymbolStreamRejectsMissingIdentity(t *testing.T) {
	_, err := parseSymbolStream(strings.NewReader(
		`{"kind":"node","label":"Function","properties":{"name":"greeting"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qualified_name")
}

func TestIsTransientRunError(t *testing.T) {
	// Daemon and network hiccups are worth retrying
	assert.True(t, isTransientRunError(assert.AnError, 1))
	// A missing image reference is not
	assert.False(t, isTransientRunError(errNoSuchImage, 1))
	// Without a launch error, only the transient exit code retries
	assert.True(t, isTransientRunError(nil, exitTransient))
	assert.False(t, isTransientRunError(nil, 1))
}

var errNoSuchImage = errImage{}

type errImage struct{}

func (errImage) Error() string { return "Error response from daemon: No such image: ghcr.io/x:latest" }
