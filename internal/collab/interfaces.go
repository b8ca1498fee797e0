package collab

import (
	"context"

	"appforge/internal/models"
)

// Consumer-driven interfaces: this package declares exactly what it needs
// from persistence, export and AI. Implementations live elsewhere and don't
// know about these interfaces.

// ProjectStore persists and hydrates project snapshots.
type ProjectStore interface {
	Save(ctx context.Context, project *models.Project) error
	Load(ctx context.Context, projectID string) (*models.Project, error)
}

// Exporter builds export artifacts asynchronously. The callback runs on a
// worker goroutine when the artifact is ready or failed.
type Exporter interface {
	Submit(projectID string, project *models.Project, format models.ExportFormat,
		done func(*models.ProjectExportedPayload, error)) error
}

// Suggester answers AI requests against the current project state.
type Suggester interface {
	Suggest(ctx context.Context, project *models.Project, req models.AIRequestPayload) (*models.AIResponsePayload, error)
	IndexComponent(projectID string, component models.UIComponent)
}
