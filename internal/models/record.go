package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProjectRecord is the durable row for one project. The whole document is
// stored as a jsonb snapshot: this system is state-sync, not event-sourced,
// so only current model state is persisted and there is no event log table.
type ProjectRecord struct {
	ID        string         `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string         `json:"name" gorm:"type:text;not null;index"`
	Snapshot  datatypes.JSON `json:"snapshot" gorm:"type:jsonb;not null"`
	Revision  int64          `json:"revision" gorm:"not null;default:0"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"` // Soft delete support
}

// BeforeCreate hook generates a UUID before inserting.
func (r *ProjectRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// TableName override
func (ProjectRecord) TableName() string {
	return "project_records"
}

// NewProjectRecord snapshots a project into its durable form.
func NewProjectRecord(p *Project) (*ProjectRecord, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode project snapshot: %w", err)
	}
	return &ProjectRecord{
		ID:       p.ID,
		Name:     p.Name,
		Snapshot: datatypes.JSON(data),
	}, nil
}

// Decode reconstructs the in-memory project from the stored snapshot.
func (r *ProjectRecord) Decode() (*Project, error) {
	var p Project
	if err := json.Unmarshal(r.Snapshot, &p); err != nil {
		return nil, fmt.Errorf("decode project snapshot %s: %w", r.ID, err)
	}
	return &p, nil
}
