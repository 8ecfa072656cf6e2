package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/codestory/internal/models"
)

// constraintName builds the stable constraint name for a label + property
func constraintName(label, property string) string {
	return fmt.Sprintf("%s_%s_unique", strings.ToLower(label), property)
}

// InitializeSchema creates uniqueness constraints and vector indexes for the
// entity set. Safe to call repeatedly: IF NOT EXISTS makes the additive path
// idempotent. When force is true, managed objects are dropped and recreated
// so dimension or key changes take effect.
func (s *Store) InitializeSchema(ctx context.Context, force bool) error {
	if force {
		if err := s.dropManagedSchema(ctx); err != nil {
			return err
		}
	}

	for _, label := range models.AllNodeLabels() {
		for _, property := range models.IdentityProperties(label) {
			query := fmt.Sprintf(
				"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
				constraintName(label, property), label, property,
			)
			if _, err := s.ExecuteWrite(ctx, query, nil); err != nil {
				return fmt.Errorf("%s: failed to create constraint for %s.%s: %w",
					models.ErrSchema, label, property, err)
			}
		}
	}

	for _, index := range models.VectorIndexes() {
		query := fmt.Sprintf(
			"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s) "+
				"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			index.Name, index.Label, index.Property, models.EmbeddingDimension,
		)
		if _, err := s.ExecuteWrite(ctx, query, nil); err != nil {
			return fmt.Errorf("%s: failed to create vector index %s: %w",
				models.ErrSchema, index.Name, err)
		}
	}

	s.logger.Info().
		Int("labels", len(models.AllNodeLabels())).
		Int("vector_indexes", len(models.VectorIndexes())).
		Bool("force", force).
		Msg("Graph schema initialized")

	return nil
}

// dropManagedSchema removes every constraint and index this store manages
func (s *Store) dropManagedSchema(ctx context.Context) error {
	for _, index := range models.VectorIndexes() {
		query := fmt.Sprintf("DROP INDEX %s IF EXISTS", index.Name)
		if _, err := s.ExecuteWrite(ctx, query, nil); err != nil {
			return fmt.Errorf("%s: failed to drop vector index %s: %w",
				models.ErrSchema, index.Name, err)
		}
	}

	for _, label := range models.AllNodeLabels() {
		for _, property := range models.IdentityProperties(label) {
			query := fmt.Sprintf("DROP CONSTRAINT %s IF EXISTS", constraintName(label, property))
			if _, err := s.ExecuteWrite(ctx, query, nil); err != nil {
				return fmt.Errorf("%s: failed to drop constraint for %s.%s: %w",
					models.ErrSchema, label, property, err)
			}
		}
	}

	return nil
}
