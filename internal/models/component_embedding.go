package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// ComponentEmbedding is one indexed component in vector space. The suggestion
// service searches these to ground AI answers in the components a project
// already contains.
type ComponentEmbedding struct {
	ID          string          `json:"id" gorm:"type:char(27);primaryKey"`
	ProjectID   string          `json:"project_id" gorm:"type:uuid;not null;index:idx_project_component,priority:1"`
	ComponentID string          `json:"component_id" gorm:"not null;index:idx_project_component,priority:2"`
	Summary     string          `json:"summary" gorm:"type:text;not null"`
	Embedding   pgvector.Vector `json:"embedding" gorm:"type:vector(1536);not null"`
	CreatedAt   time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (e *ComponentEmbedding) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (ComponentEmbedding) TableName() string {
	return "component_embeddings"
}
