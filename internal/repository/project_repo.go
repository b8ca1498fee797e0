package repository

import (
	"context"
	"fmt"

	"appforge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectRepositoryImpl persists project snapshots using GORM. This is the
// implementation; the packages that consume it (collab, api) declare the
// interfaces they need.
type ProjectRepositoryImpl struct {
	db *gorm.DB
}

// NewProjectRepository creates a new project repository.
// Returns concrete type - "Accept interfaces, return structs"
func NewProjectRepository(db *gorm.DB) *ProjectRepositoryImpl {
	return &ProjectRepositoryImpl{db: db}
}

// Save upserts the current snapshot for a project and bumps its revision.
// State-sync semantics: the row always holds current state, never a log.
func (r *ProjectRepositoryImpl) Save(ctx context.Context, project *models.Project) error {
	record, err := models.NewProjectRecord(project)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":     record.Name,
			"snapshot": record.Snapshot,
			"revision": gorm.Expr("project_records.revision + 1"),
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", project.ID, err)
	}
	return nil
}

// Load hydrates the current snapshot of a project.
// Soft-deleted projects are automatically excluded.
func (r *ProjectRepositoryImpl) Load(ctx context.Context, projectID string) (*models.Project, error) {
	var record models.ProjectRecord

	err := r.db.WithContext(ctx).First(&record, "id = ?", projectID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("project not found: %s", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	return record.Decode()
}

// List returns project records with pagination, newest first.
func (r *ProjectRepositoryImpl) List(ctx context.Context, limit, offset int) ([]*models.ProjectRecord, error) {
	var records []*models.ProjectRecord

	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return records, nil
}

// Delete performs a soft delete on the project record, keeping the snapshot
// recoverable.
func (r *ProjectRepositoryImpl) Delete(ctx context.Context, projectID string) error {
	result := r.db.WithContext(ctx).Delete(&models.ProjectRecord{}, "id = ?", projectID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("project not found: %s", projectID)
	}
	return nil
}
