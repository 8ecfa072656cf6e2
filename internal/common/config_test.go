package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codestory.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFilesDefaultsOnly(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "bolt://localhost:7687", config.Graph.URI)
	assert.True(t, config.Pipeline.FailFast)
	assert.Len(t, config.Pipeline.Steps, 4)
	assert.Equal(t, LLMProviderClaude, config.LLM.DefaultProvider)
}

func TestLoadFromFilesOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[graph]
uri = "bolt://db:7687"
pool_size = 10

[pipeline]
fail_fast = false
cancel_deadline = "45s"
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "bolt://db:7687", config.Graph.URI)
	assert.Equal(t, 10, config.Graph.PoolSize)
	assert.False(t, config.Pipeline.FailFast)
	assert.Equal(t, 45.0, config.Pipeline.CancelDeadlineDuration().Seconds())
}

func TestLoadFromFilesLaterFileWins(t *testing.T) {
	first := writeConfig(t, "[server]\nport = 9001\n")
	second := writeConfig(t, "[server]\nport = 9002\n")

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, 9002, config.Server.Port)
}

func TestLoadFromFilesRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "[pipeline]\ncancel_deadline = \"soonish\"\n")
	_, err := LoadFromFiles(path)
	assert.Error(t, err)
}

func TestLoadFromFilesRejectsDuplicateSteps(t *testing.T) {
	path := writeConfig(t, `
[[pipeline.steps]]
name = "filesystem"

[[pipeline.steps]]
name = "filesystem"
`)
	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadFromFilesRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, "[llm]\ndefault_provider = \"skynet\"\n")
	_, err := LoadFromFiles(path)
	assert.Error(t, err)
}

func TestStepsFileOverridesStepSection(t *testing.T) {
	stepsPath := filepath.Join(t.TempDir(), "steps.yaml")
	require.NoError(t, os.WriteFile(stepsPath, []byte(`
steps:
  - name: filesystem
    concurrency: 2
    timeout_seconds: 120
  - name: docgrapher
`), 0644))

	configPath := writeConfig(t, "[pipeline]\nsteps_file = \""+stepsPath+"\"\n")

	config, err := LoadFromFiles(configPath)
	require.NoError(t, err)

	require.Len(t, config.Pipeline.Steps, 2)
	assert.Equal(t, "filesystem", config.Pipeline.Steps[0].Name)
	assert.Equal(t, 2, config.Pipeline.Steps[0].Concurrency)
	assert.Equal(t, 120, config.Pipeline.Steps[0].TimeoutSeconds)
}

func TestRedactedMasksSecrets(t *testing.T) {
	config := NewDefaultConfig()
	config.Graph.Password = "hunter2"
	config.Claude.APIKey = "sk-ant-api-key-value"

	redacted := config.Redacted()

	assert.Equal(t, "********", redacted.Graph.Password)
	assert.NotContains(t, redacted.Claude.APIKey, "api-key-value")
	// Originals stay intact
	assert.Equal(t, "hunter2", config.Graph.Password)
}

func TestEnvOverridesApply(t *testing.T) {
	t.Setenv("CODESTORY_SERVER_PORT", "7777")
	t.Setenv("CODESTORY_GRAPH_URI", "bolt://env:7687")

	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 7777, config.Server.Port)
	assert.Equal(t, "bolt://env:7687", config.Graph.URI)
}
