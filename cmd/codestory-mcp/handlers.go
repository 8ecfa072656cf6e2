package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// handleSearchSummaries implements the search_summaries tool
func handleSearchSummaries(store interfaces.GraphStore, embedder interfaces.EmbeddingService, logger arbor.ILogger) server.ToolHandlerFunc {
	return vectorSearchHandler(store, embedder, logger, models.NodeSummary)
}

// handleSearchDocumentation implements the search_documentation tool
func handleSearchDocumentation(store interfaces.GraphStore, embedder interfaces.EmbeddingService, logger arbor.ILogger) server.ToolHandlerFunc {
	return vectorSearchHandler(store, embedder, logger, models.NodeDocumentation)
}

// vectorSearchHandler embeds the query and runs cosine-similarity search
// over the given label's embedding index
func vectorSearchHandler(store interfaces.GraphStore, embedder interfaces.EmbeddingService, logger arbor.ILogger, label string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return textResult("Error: query parameter is required"), nil
		}

		limit := request.GetInt("limit", 5)
		if limit > 25 {
			limit = 25
		}
		minSimilarity := request.GetFloat("min_similarity", 0.7)

		embedding, err := embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			logger.Error().Err(err).Msg("Query embedding failed")
			return textResult(fmt.Sprintf("Embedding error: %v", err)), nil
		}

		hits, err := store.VectorSearch(ctx, label, "embedding", embedding, limit, minSimilarity)
		if err != nil {
			logger.Error().Err(err).Msg("Vector search failed")
			return textResult(fmt.Sprintf("Search error: %v", err)), nil
		}

		return textResult(formatHits(query, label, hits)), nil
	}
}

// handleGetJob implements the get_job tool
func handleGetJob(storage interfaces.JobStorage, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return textResult("Error: job_id parameter is required"), nil
		}

		job, err := storage.GetJob(ctx, jobID)
		if err != nil {
			return textResult(fmt.Sprintf("Job not found: %v", err)), nil
		}

		return textResult(formatJob(job)), nil
	}
}

// handleListJobs implements the list_jobs tool
func handleListJobs(storage interfaces.JobStorage, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 20)
		status := request.GetString("status", "")

		jobs, err := storage.ListJobs(ctx, &models.JobListOptions{
			Status: models.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Job listing failed")
			return textResult(fmt.Sprintf("List error: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "# Ingestion jobs (%d)\n\n", len(jobs))
		for _, job := range jobs {
			fmt.Fprintf(&sb, "- **%s** %s `%s` (created %s)\n",
				job.ID, job.Status, job.RepoPath, job.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return textResult(sb.String()), nil
	}
}

// formatJob renders a job and its step states as markdown
func formatJob(job *models.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Job %s\n\n", job.ID)
	fmt.Fprintf(&sb, "- Repository: `%s`\n", job.RepoPath)
	fmt.Fprintf(&sb, "- Status: **%s**\n", job.Status)
	fmt.Fprintf(&sb, "- Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.LastError != nil {
		fmt.Fprintf(&sb, "- Last error: %s\n", job.LastError.Error())
	}
	sb.WriteString("\n## Steps\n\n")
	for _, name := range job.StepOrder() {
		state := job.Steps[name]
		if state == nil {
			continue
		}
		fmt.Fprintf(&sb, "- **%s**: %s (attempts: %d, progress: %.0f%%)",
			name, state.Status, state.Attempts, state.Progress*100)
		if state.Message != "" {
			fmt.Fprintf(&sb, " — %s", state.Message)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatHits renders vector search results as markdown
func formatHits(query, label string, hits []interfaces.VectorHit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s results for %q (%d)\n\n", label, query, len(hits))
	for _, hit := range hits {
		title := stringProp(hit.Node, "entity")
		if title == "" {
			title = stringProp(hit.Node, "title")
		}
		body := stringProp(hit.Node, "text")
		if body == "" {
			body = stringProp(hit.Node, "content")
		}
		if len(body) > 400 {
			body = body[:400] + "..."
		}
		fmt.Fprintf(&sb, "## %s (score %.3f)\n%s\n\n", title, hit.Score, body)
	}
	if len(hits) == 0 {
		sb.WriteString("No matches above the similarity threshold.\n")
	}
	return sb.String()
}

func stringProp(node map[string]any, key string) string {
	if value, ok := node[key].(string); ok {
		return value
	}
	return ""
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
