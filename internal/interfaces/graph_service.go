package interfaces

import (
	"context"

	"github.com/ternarybob/codestory/internal/models"
)

// Row is one record returned from a graph query, keyed by return alias
type Row map[string]any

// Statement pairs a Cypher query with its parameters for batch execution
type Statement struct {
	Query  string
	Params map[string]any
}

// VectorHit is one result of a vector similarity search
type VectorHit struct {
	Node  map[string]any `json:"node"`
	Score float64        `json:"score"`
}

// GraphStore is the only path from pipeline steps to persistent graph state.
//
// All write operations use MERGE-keyed upserts on the identity properties of
// models.IdentityProperties, so retries are idempotent. Operations are safe
// to invoke concurrently from multiple workers; transactions are
// linearizable per the underlying store.
type GraphStore interface {
	// InitializeSchema creates uniqueness constraints and vector indexes for
	// the entity set. Safe to call repeatedly. When force is true,
	// incompatible objects are dropped and recreated.
	InitializeSchema(ctx context.Context, force bool) error

	// ExecuteRead runs a parameterized read query
	ExecuteRead(ctx context.Context, query string, params map[string]any) ([]Row, error)

	// ExecuteWrite runs a parameterized query in a write transaction
	ExecuteWrite(ctx context.Context, query string, params map[string]any) ([]Row, error)

	// ExecuteBatch runs multiple statements in one transaction, atomic
	// across statements.
	ExecuteBatch(ctx context.Context, statements []Statement, write bool) ([][]Row, error)

	// UpsertNodes merges nodes by identity keys; remaining fields are set on
	// create and updated on match. Returns the number of rows processed.
	UpsertNodes(ctx context.Context, label string, rows []map[string]any) (int, error)

	// UpsertEdges merges edges between existing nodes. Endpoints that do not
	// exist are skipped, never created.
	UpsertEdges(ctx context.Context, edges []models.GraphEdge) (int, error)

	// VectorSearch runs cosine-similarity search over a registered vector
	// index. minSimilarity <= 0 disables the threshold.
	VectorSearch(ctx context.Context, label, property string, embedding []float32, k int, minSimilarity float64) ([]VectorHit, error)

	// WithTransaction runs fn inside a managed write transaction, retried on
	// classified transient errors with exponential backoff.
	WithTransaction(ctx context.Context, fn func(tx GraphTransaction) error) error

	// Close releases the connection pool
	Close(ctx context.Context) error
}

// GraphTransaction exposes query execution inside a managed transaction
type GraphTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) ([]Row, error)
}
