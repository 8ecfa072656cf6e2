package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/testsupport"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func buildRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	writeFile(t, repo, "main.py", "def greeting(name):\n    return f\"Hello, {name}!\"\n")
	writeFile(t, repo, "README.md", "# demo\n\nThe `greeting` function says hello.\n")
	writeFile(t, repo, "pkg/util.py", "def helper():\n    pass\n")
	writeFile(t, repo, ".git/config", "[core]\n")
	writeFile(t, repo, "node_modules/lib/index.js", "module.exports = {}\n")
	return repo
}

func TestFilesystemStepWritesFilesAndDirectories(t *testing.T) {
	repo := buildRepo(t)
	store := testsupport.NewFakeGraphStore()
	sc := testsupport.NewFakeStepContext(repo, New().(*Step).DefaultParams(), store)

	outcome := New().Run(context.Background(), sc)
	require.Equal(t, interfaces.OutcomeSucceeded, outcome.Status)

	// Three files survive the ignore patterns
	assert.Equal(t, 3, store.NodeCount(models.NodeFile))
	assert.NotNil(t, store.Node(models.NodeFile, "[/main.py]"))
	assert.NotNil(t, store.Node(models.NodeFile, "[/README.md]"))
	assert.NotNil(t, store.Node(models.NodeFile, "[/pkg/util.py]"))

	// Root plus pkg; .git and node_modules are skipped
	assert.Equal(t, 2, store.NodeCount(models.NodeDirectory))
	assert.NotNil(t, store.Node(models.NodeDirectory, "[/]"))
	assert.NotNil(t, store.Node(models.NodeDirectory, "[/pkg]"))

	// One CONTAINS edge per surviving entry
	assert.Equal(t, 4, store.EdgeCount(models.EdgeContains))

	// Terminal progress is complete
	assert.Equal(t, 1.0, sc.LastProgress())

	// Downstream steps read the file count from the handoff area
	count, err := sc.State().Get(context.Background(), FileCountKey)
	require.NoError(t, err)
	assert.Equal(t, "3", count)
}

func TestFilesystemStepRecordsContentAndHash(t *testing.T) {
	repo := buildRepo(t)
	store := testsupport.NewFakeGraphStore()
	sc := testsupport.NewFakeStepContext(repo, New().(*Step).DefaultParams(), store)

	outcome := New().Run(context.Background(), sc)
	require.Equal(t, interfaces.OutcomeSucceeded, outcome.Status)

	node := store.Node(models.NodeFile, "[/main.py]")
	require.NotNil(t, node)
	assert.Equal(t, "main.py", node["name"])
	assert.Equal(t, "py", node["extension"])
	assert.NotEmpty(t, node["content_hash"])
	assert.Contains(t, node["content"], "def greeting")

	// Identical rerun produces identical rows (the hash is deterministic)
	store2 := testsupport.NewFakeGraphStore()
	sc2 := testsupport.NewFakeStepContext(repo, New().(*Step).DefaultParams(), store2)
	require.Equal(t, interfaces.OutcomeSucceeded, New().Run(context.Background(), sc2).Status)
	assert.Equal(t, node["content_hash"], store2.Node(models.NodeFile, "[/main.py]")["content_hash"])
}

func TestFilesystemStepSkipsLargeFileContent(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "big.txt", string(make([]byte, 64)))

	params := New().(*Step).DefaultParams()
	params["max_file_size_bytes"] = 16

	store := testsupport.NewFakeGraphStore()
	sc := testsupport.NewFakeStepContext(repo, params, store)
	require.Equal(t, interfaces.OutcomeSucceeded, New().Run(context.Background(), sc).Status)

	node := store.Node(models.NodeFile, "[/big.txt]")
	require.NotNil(t, node)
	_, hasContent := node["content"]
	assert.False(t, hasContent, "oversized file content must not be stored")
	assert.NotEmpty(t, node["content_hash"])
}

func TestFilesystemStepRejectsUnknownHashAlgorithm(t *testing.T) {
	repo := buildRepo(t)
	params := New().(*Step).DefaultParams()
	params["hash_algorithm"] = "crc32"

	sc := testsupport.NewFakeStepContext(repo, params, testsupport.NewFakeGraphStore())
	outcome := New().Run(context.Background(), sc)

	require.Equal(t, interfaces.OutcomeFailed, outcome.Status)
	assert.Equal(t, models.ErrInvalidPipeline, outcome.Error.Kind)
}

func TestFilesystemStepHonorsCancellation(t *testing.T) {
	repo := buildRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := testsupport.NewFakeStepContext(repo, New().(*Step).DefaultParams(), testsupport.NewFakeGraphStore())
	outcome := New().Run(ctx, sc)
	assert.Equal(t, interfaces.OutcomeCancelled, outcome.Status)
}

func TestShouldIgnoreMatchesSubtrees(t *testing.T) {
	patterns := []string{".git", "node_modules", "*.tmp"}

	assert.True(t, shouldIgnore(".git", patterns))
	assert.True(t, shouldIgnore(".git/config", patterns))
	assert.True(t, shouldIgnore("node_modules/lib/index.js", patterns))
	assert.True(t, shouldIgnore("scratch.tmp", patterns))
	assert.False(t, shouldIgnore("src/main.py", patterns))
	assert.False(t, shouldIgnore("gitignore", patterns))
}
