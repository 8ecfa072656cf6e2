package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createSearchSummariesTool returns the search_summaries tool definition
func createSearchSummariesTool() mcp.Tool {
	return mcp.NewTool("search_summaries",
		mcp.WithDescription("Semantic search over code entity summaries (cosine similarity on embeddings)"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language description of the code you are looking for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default: 5, max: 25)"),
		),
		mcp.WithNumber("min_similarity",
			mcp.Description("Minimum cosine similarity in [0,1] (default: 0.7)"),
		),
	)
}

// createSearchDocumentationTool returns the search_documentation tool definition
func createSearchDocumentationTool() mcp.Tool {
	return mcp.NewTool("search_documentation",
		mcp.WithDescription("Semantic search over ingested documentation (README, markdown, docstrings)"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default: 5, max: 25)"),
		),
	)
}

// createGetJobTool returns the get_job tool definition
func createGetJobTool() mcp.Tool {
	return mcp.NewTool("get_job",
		mcp.WithDescription("Retrieve an ingestion job's state including every step"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID (format: job_{uuid})"),
		),
	)
}

// createListJobsTool returns the list_jobs tool definition
func createListJobsTool() mcp.Tool {
	return mcp.NewTool("list_jobs",
		mcp.WithDescription("List ingestion jobs, newest first, optionally filtered by state"),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 20)"),
		),
		mcp.WithString("status",
			mcp.Description("Filter: pending, running, succeeded, failed, cancelled"),
		),
	)
}
