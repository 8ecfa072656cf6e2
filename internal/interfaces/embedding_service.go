package interfaces

import (
	"context"
)

// EmbeddingService generates vector embeddings for summaries and
// documentation nodes
type EmbeddingService interface {
	// GenerateEmbedding creates a vector embedding for text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// ModelName returns the embedding model identifier
	ModelName() string

	// Dimension returns the embedding vector size
	Dimension() int

	// IsAvailable reports whether the backing endpoint is reachable
	IsAvailable(ctx context.Context) bool
}
