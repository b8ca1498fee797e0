package services

import (
	"context"

	"appforge/internal/models"
	"appforge/internal/repository"
)

// Consumer-driven interfaces: services declare exactly what they need from
// the repository layer. The implementations in internal/repository don't
// know these interfaces exist.

// ComponentIndex is what the suggestion service needs from the vector store.
type ComponentIndex interface {
	Store(ctx context.Context, embedding *models.ComponentEmbedding) error
	SearchSimilar(ctx context.Context, projectID string, queryEmbedding []float32, limit int) ([]*repository.ComponentMatch, error)
}
