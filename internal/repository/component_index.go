package repository

import (
	"context"
	"fmt"

	"appforge/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// ComponentMatch is one similar-component hit from the vector index.
type ComponentMatch struct {
	ComponentID string  `json:"component_id"`
	Summary     string  `json:"summary"`
	Score       float64 `json:"score"`
}

// ComponentIndexImpl handles vector operations over component embeddings
// using pgvector. This is the IMPLEMENTATION - the suggestion service
// declares the interface it needs.
type ComponentIndexImpl struct {
	db *gorm.DB
}

// NewComponentIndex creates a new component index.
func NewComponentIndex(db *gorm.DB) *ComponentIndexImpl {
	return &ComponentIndexImpl{db: db}
}

// Store replaces the embedding row for one component. A component re-indexed
// after an update drops its previous vector first so the index holds exactly
// one row per component.
func (r *ComponentIndexImpl) Store(ctx context.Context, embedding *models.ComponentEmbedding) error {
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND component_id = ?", embedding.ProjectID, embedding.ComponentID).
		Delete(&models.ComponentEmbedding{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear component embedding: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(embedding).Error; err != nil {
		return fmt.Errorf("failed to store component embedding: %w", err)
	}
	return nil
}

// SearchSimilar performs vector similarity search within one project using
// cosine distance. The <=> operator is from pgvector; lower distance means
// more similar components.
func (r *ComponentIndexImpl) SearchSimilar(ctx context.Context, projectID string, queryEmbedding []float32, limit int) ([]*ComponentMatch, error) {
	vec := pgvector.NewVector(queryEmbedding)

	var results []*ComponentMatch

	// Raw SQL for vector operations since GORM has no native support.
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			component_id,
			summary,
			1 - (embedding <=> ?) as score
		FROM component_embeddings
		WHERE project_id = ?
		ORDER BY embedding <=> ?
		LIMIT ?
	`, vec, projectID, vec, limit).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search component embeddings: %w", err)
	}

	return results, nil
}

// DeleteByProject removes every embedding for a project.
func (r *ComponentIndexImpl) DeleteByProject(ctx context.Context, projectID string) error {
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Delete(&models.ComponentEmbedding{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete component embeddings: %w", err)
	}
	return nil
}
