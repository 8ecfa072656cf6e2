package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/graph"
	"github.com/ternarybob/codestory/internal/services/embeddings"
	badgerstorage "github.com/ternarybob/codestory/internal/storage/badger"
)

// codestory-mcp exposes the ingested knowledge graph and job records over
// the Model Context Protocol on stdio. It is a read-only companion to the
// codestory service: searches run against the same Neo4j instance, job
// lookups against the same BadgerDB.
func main() {
	configPath := os.Getenv("CODESTORY_CONFIG")
	if configPath == "" {
		configPath = "codestory.toml"
	}

	config, err := common.LoadFromFiles(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	storageManager, err := badgerstorage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storageManager.Close()

	ctx := context.Background()
	graphStore, err := graph.NewStore(ctx, &config.Graph, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to graph database")
	}
	defer graphStore.Close(ctx)

	embeddingService := embeddings.NewService(&config.Embeddings, logger)

	mcpServer := server.NewMCPServer(
		"codestory",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createSearchSummariesTool(), handleSearchSummaries(graphStore, embeddingService, logger))
	mcpServer.AddTool(createSearchDocumentationTool(), handleSearchDocumentation(graphStore, embeddingService, logger))
	mcpServer.AddTool(createGetJobTool(), handleGetJob(storageManager.JobStorage(), logger))
	mcpServer.AddTool(createListJobsTool(), handleListJobs(storageManager.JobStorage(), logger))

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
