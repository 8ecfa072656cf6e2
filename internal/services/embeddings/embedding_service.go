package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
)

// Service implements EmbeddingService against an OpenAI-compatible
// /v1/embeddings endpoint
type Service struct {
	endpoint  string
	modelName string
	dimension int
	logger    arbor.ILogger
	client    *http.Client
}

// Compile-time interface assertion
var _ interfaces.EmbeddingService = (*Service)(nil)

// NewService creates a new embedding service
func NewService(cfg *common.EmbeddingsConfig, logger arbor.ILogger) *Service {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		timeout = 30 * time.Second
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = 1536
	}

	return &Service{
		endpoint:  cfg.Endpoint,
		modelName: cfg.Model,
		dimension: dimension,
		logger:    logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateEmbedding creates a vector embedding for text
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	reqBody := map[string]any{
		"model": s.modelName,
		"input": text,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		fmt.Sprintf("%s/embeddings", s.endpoint),
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned empty embedding")
	}

	embedding := result.Data[0].Embedding
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding))
	}

	s.logger.Debug().
		Int("embedding_dim", len(embedding)).
		Int("text_length", len(text)).
		Msg("Generated embedding")

	return embedding, nil
}

// ModelName returns the embedding model identifier
func (s *Service) ModelName() string {
	return s.modelName
}

// Dimension returns the embedding vector size
func (s *Service) Dimension() int {
	return s.dimension
}

// IsAvailable reports whether the backing endpoint is reachable
func (s *Service) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.GenerateEmbedding(probeCtx, "ping")
	if err != nil {
		s.logger.Debug().Err(err).Msg("Embedding endpoint unavailable")
		return false
	}
	return true
}
