package graph

import (
	"context"
	"fmt"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

const vectorSearchQuery = `CALL db.index.vector.queryNodes($index_name, $k, $embedding)
YIELD node, score
WHERE $min_similarity <= 0 OR score >= $min_similarity
RETURN properties(node) AS node, score
ORDER BY score DESC`

// VectorSearch runs cosine-similarity search over the registered vector
// index for the given label and property.
func (s *Store) VectorSearch(ctx context.Context, label, property string, embedding []float32, k int, minSimilarity float64) ([]interfaces.VectorHit, error) {
	indexName := ""
	for _, index := range models.VectorIndexes() {
		if index.Label == label && index.Property == property {
			indexName = index.Name
			break
		}
	}
	if indexName == "" {
		return nil, fmt.Errorf("%s: no vector index registered for %s.%s", models.ErrQuery, label, property)
	}

	if k <= 0 {
		k = 10
	}

	// The driver expects float64 vectors for query parameters
	vector := make([]float64, len(embedding))
	for i, v := range embedding {
		vector[i] = float64(v)
	}

	rows, err := s.ExecuteRead(ctx, vectorSearchQuery, map[string]any{
		"index_name":     indexName,
		"k":              k,
		"embedding":      vector,
		"min_similarity": minSimilarity,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]interfaces.VectorHit, 0, len(rows))
	for _, row := range rows {
		hit := interfaces.VectorHit{}
		if node, ok := row["node"].(map[string]any); ok {
			hit.Node = node
		}
		if score, ok := row["score"].(float64); ok {
			hit.Score = score
		}
		hits = append(hits, hit)
	}

	s.logger.Debug().
		Str("index", indexName).
		Int("k", k).
		Int("hits", len(hits)).
		Msg("Vector search completed")

	return hits, nil
}
